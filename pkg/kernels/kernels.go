// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels holds reference kernels written with the IR builder, along with the signatures
// and options they are usually compiled with.
//
// They exercise the diagnostics of the compiler: MatMul uses block pointers and a float32 dot,
// LdStVec is a gather pattern whose loads can't be vectorized, and VectorCopy is a plain contiguous
// copy.
package kernels

import (
	"maps"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/pkg/compiler"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/support/xslices"
	"github.com/pkg/errors"
)

// MatMul multiplies a 32x128 tile of a by a 128x32 tile of b, both float32, and stores the
// 32x32 result in c. Tiles are addressed with block pointers.
var MatMul = &compiler.KernelFunc{
	KernelName: "matmul_kernel",
	ParamNames: []string{"a_ptr", "b_ptr", "c_ptr", "M", "N", "K",
		"stride_am", "stride_ak", "stride_bk", "stride_bn", "stride_cm", "stride_cn"},
	BuildFn: func(b *ir.Builder, args *compiler.Args) {
		m, n, k := args.Value("M"), args.Value("N"), args.Value("K")
		b.At(3, 22)
		aBlockPtr := b.MakeBlockPtr(args.Value("a_ptr"), []any{m, k},
			[]any{args.Value("stride_am"), args.Value("stride_ak")}, []any{0, 0}, []int{32, 128}, []int{1, 0})
		b.At(5, 22)
		bBlockPtr := b.MakeBlockPtr(args.Value("b_ptr"), []any{k, n},
			[]any{args.Value("stride_bk"), args.Value("stride_bn")}, []any{0, 0}, []int{128, 32}, []int{0, 1})
		b.At(7, 22)
		cBlockPtr := b.MakeBlockPtr(args.Value("c_ptr"), []any{m, n},
			[]any{args.Value("stride_cm"), args.Value("stride_cn")}, []any{0, 0}, []int{32, 32}, []int{1, 0})
		a := b.At(9, 12).Load(aBlockPtr)
		bTile := b.At(10, 12).Load(bBlockPtr)
		c := b.At(11, 12).Dot(a, bTile, nil)
		b.At(12, 4).Store(cBlockPtr, c)
	},
}

// MatMulSignature types the parameters of MatMul: three float32 pointers and nine int32 scalars.
var MatMulSignature = map[int]string{
	0: "*fp32", 1: "*fp32", 2: "*fp32",
	3: "i32", 4: "i32", 5: "i32", 6: "i32", 7: "i32", 8: "i32", 9: "i32", 10: "i32", 11: "i32",
}

// LdStVec gathers an int64 index from in_ptr0 and a float32 value from in_ptr3, and stores the value,
// converted to float16, contiguously to out_ptr0. in_ptr1 and in_ptr2 are not used.
//
// The block size is given by the constexpr XBLOCK.
var LdStVec = &compiler.KernelFunc{
	KernelName: "ldst_vec",
	ParamNames: []string{"in_ptr0", "in_ptr1", "in_ptr2", "in_ptr3", "out_ptr0", "XBLOCK"},
	BuildFn: func(b *ir.Builder, args *compiler.Args) {
		block := args.Int("XBLOCK")
		xoffset := b.At(2, 26).Mul(b.ProgramID(0), block)
		xindex := b.At(3, 23).Add(b.Arange(0, block), xoffset)
		x0 := b.At(4, 16).Rem(xindex, 9)
		x2 := b.At(5, 28).Rem(b.Div(xindex, 3456), 512)
		x1 := b.At(6, 25).Rem(b.Div(xindex, 9), 384)
		in0 := b.At(8, 35).AddPtr(args.Value("in_ptr0"), b.Add(x2, b.Mul(x0, 512)))
		tmp0 := b.At(8, 15).Load(in0, ir.WithEviction(ir.EvictLast))
		tmp1 := b.At(9, 18).Add(tmp0, 520)
		tmp2 := b.At(10, 18).Cmp(ir.CmpLT, tmp0, 0)
		tmp3 := b.At(11, 23).Where(tmp2, tmp1, tmp0)
		tmp9 := b.At(12, 20).Add(tmp3, -4)
		tmp14 := b.At(14, 19).Cmp(ir.CmpLT, tmp9, 512)
		in3 := b.At(15, 34).AddPtr(args.Value("in_ptr3"), x1)
		tmp16 := b.At(15, 16).Load(in3, ir.WithMask(tmp14), ir.WithEviction(ir.EvictLast), ir.WithOther(0.0))
		tmp21 := b.At(19, 24).Where(tmp14, tmp16, 0.0)
		out := b.At(21, 34).AddPtr(args.Value("out_ptr0"), xindex)
		b.At(21, 8).Store(out, b.Convert(tmp21, dtypes.Float16))
	},
}

// LdStVecSignature types the pointer parameters of LdStVec.
var LdStVecSignature = map[int]string{0: "*i64", 1: "*i64", 2: "*fp16", 3: "*fp32", 4: "*fp16"}

// VectorCopy copies BLOCK contiguous elements per program from src_ptr to dst_ptr.
var VectorCopy = &compiler.KernelFunc{
	KernelName: "vector_copy",
	ParamNames: []string{"src_ptr", "dst_ptr", "BLOCK"},
	BuildFn: func(b *ir.Builder, args *compiler.Args) {
		block := args.Int("BLOCK")
		offsets := b.At(2, 14).Add(b.Arange(0, block), b.Mul(b.ProgramID(0), block))
		x := b.At(3, 8).Load(b.AddPtr(args.Value("src_ptr"), offsets))
		b.At(4, 4).Store(b.AddPtr(args.Value("dst_ptr"), offsets), x)
	},
}

// Example is a kernel with the bindings and options it is compiled with by default.
type Example struct {
	Kernel    compiler.Kernel
	Signature map[int]string
	Constants map[string]any
	Options   map[string]any
}

// Job returns the compilation job of the example. overrides take precedence over the default options
// of the example, and both use the keys of compiler.ParseOptions.
func (e *Example) Job(overrides map[string]any) (compiler.Job, error) {
	config := maps.Clone(e.Options)
	if config == nil {
		config = make(map[string]any, len(overrides))
	}
	maps.Copy(config, overrides)
	options, err := compiler.ParseOptions(config)
	if err != nil {
		return compiler.Job{}, errors.WithMessagef(err, "example %q", e.Kernel.Name())
	}
	return compiler.Job{Kernel: e.Kernel, Signature: e.Signature, Constants: e.Constants, Options: options}, nil
}

// Examples indexed by kernel name.
var Examples = map[string]*Example{
	MatMul.KernelName: {Kernel: MatMul, Signature: MatMulSignature, Constants: map[string]any{}},
	LdStVec.KernelName: {
		Kernel:    LdStVec,
		Signature: LdStVecSignature,
		Constants: map[string]any{"XBLOCK": 1024},
		Options:   map[string]any{compiler.KeyNumWarps: 1},
	},
	VectorCopy.KernelName: {
		Kernel:    VectorCopy,
		Signature: map[int]string{0: "*fp32", 1: "*fp32"},
		Constants: map[string]any{"BLOCK": 1024},
	},
}

// Names of the examples, sorted.
func Names() []string {
	return xslices.SortedKeys(Examples)
}
