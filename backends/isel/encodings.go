// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package isel

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/pkg/core/shapes"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/gomlx/kernelc/pkg/support/sets"
)

// Shape of the tile computed by one matrix-multiply instruction: the dimensions of a dot operation
// must be multiples of it.
type Shape struct {
	M, N, K int
}

// String renders the shape as "MxNxK".
func (s Shape) String() string { return fmt.Sprintf("%dx%dx%d", s.M, s.N, s.K) }

// Encoding is one instruction encoding for dot operations, with the constraints for it to be legal.
type Encoding struct {
	// Class of the encoding, as reported in remarks, e.g. "MMA V3".
	Class string

	// Mnemonic returns the instruction for the operand and accumulator dtype names.
	Mnemonic func(shape Shape, operand, acc string) string

	// MinTier is the minimum capability tier of the target.
	MinTier int

	// Throughput ranks the encodings: higher is preferred.
	Throughput int

	// InstrShape is the tile computed by one warp. See Issued for the shape of the instruction itself.
	InstrShape Shape

	// KBits, if > 0, is the width in bits of the K extent of the instruction: the K of the
	// instruction is KBits divided by the width of the operand dtype.
	KBits int

	// Operands maps the accepted operand dtypes to the number of conversion operations required
	// to feed them to the instruction.
	Operands map[dtypes.DType]int

	// AccDTypes are the accepted accumulator dtypes.
	AccDTypes sets.Set[dtypes.DType]

	// WarpMultiple, if > 1, requires the number of warps to be a multiple of it, and the
	// instruction is issued by a warp group of that many warps.
	WarpMultiple int

	// TF32 marks encodings that compute float32 products in tf32: they require the tf32 input precision.
	TF32 bool

	// Generic marks the decomposed multiply-accumulate fallback: always legal.
	Generic bool
}

// Issued returns the shape of the instruction issued for operands of dtype: instructions of warp
// groups span WarpMultiple warp tiles along M, and K is derived from KBits when it is set.
func (enc *Encoding) Issued(dtype dtypes.DType) Shape {
	s := enc.InstrShape
	if enc.WarpMultiple > 1 {
		s.M *= enc.WarpMultiple
	}
	if bits := shapes.DTypeBits(dtype); enc.KBits > 0 && bits > 0 {
		s.K = enc.KBits / bits
	}
	return s
}

// Table of encodings of a backend, in preference order for equal throughput.
type Table []*Encoding

// Generic returns the fallback encoding of the table.
func (t Table) Generic() *Encoding {
	for _, enc := range t {
		if enc.Generic {
			return enc
		}
	}
	return nil
}

// ptxMMA renders PTX matrix-multiply instructions, e.g. "mma.sync.aligned.m16n8k16.row.col.f32.f16.f16.f32".
func ptxMMA(base string) func(Shape, string, string) string {
	return func(s Shape, operand, acc string) string {
		return fmt.Sprintf("%s.m%dn%dk%d.row.col.%s.%s.%s.%s", base, s.M, s.N, s.K, acc, operand, operand, acc)
	}
}

// wgmma renders Hopper warp-group instructions, e.g. "wgmma.mma_async.sync.aligned.m64n8k8.f32.tf32.tf32".
func wgmma(s Shape, operand, acc string) string {
	return fmt.Sprintf("wgmma.mma_async.sync.aligned.m%dn%dk%d.%s.%s.%s", s.M, s.N, s.K, acc, operand, operand)
}

// mfma renders AMD matrix core instructions, e.g. "v_mfma_f32_32x32x8f16".
func mfma(s Shape, operand, acc string) string {
	return fmt.Sprintf("v_mfma_%s_%dx%dx%d%s", acc, s.M, s.N, s.K, operand)
}

// suffixed renders base followed by the accumulator dtype, e.g. "fma.rn.f32".
func suffixed(base string) func(Shape, string, string) string {
	return func(_ Shape, _ string, acc string) string {
		return base + "." + acc
	}
}

var (
	floatAcc  = sets.MakeWith(dtypes.Float32)
	mixedAcc  = sets.MakeWith(dtypes.Float32, dtypes.Float16, dtypes.Int32)
	anyAccFMA = sets.MakeWith(dtypes.Float32, dtypes.Float16, dtypes.Float64, dtypes.Int32, dtypes.Int64)
)

// genericFMA accepts any operand dtype: conversions to the accumulator dtype are counted for
// operands narrower than it.
func genericFMA(base string) *Encoding {
	return &Encoding{
		Class:      "FMA",
		Mnemonic:   suffixed(base),
		InstrShape: Shape{1, 1, 1},
		Operands: map[dtypes.DType]int{
			dtypes.Float64: 0, dtypes.Float32: 0, dtypes.Float16: 2, dtypes.BFloat16: 2,
			dtypes.Int64: 0, dtypes.Int32: 0, dtypes.Int16: 2, dtypes.Int8: 2,
			dtypes.Uint8: 2, dtypes.Uint16: 2, dtypes.Uint32: 0,
		},
		AccDTypes: anyAccFMA,
		Generic:   true,
	}
}

// CUDATable is the table of NVIDIA GPUs. Tiers are compute capabilities.
var CUDATable = Table{
	{
		Class:        "MMA V3",
		Mnemonic:     wgmma,
		MinTier:      90,
		Throughput:   4,
		InstrShape:   Shape{16, 8, 16},
		KBits:        256,
		Operands:     map[dtypes.DType]int{dtypes.Float16: 0, dtypes.BFloat16: 0, dtypes.Float32: 2, dtypes.Int8: 0},
		AccDTypes:    mixedAcc,
		WarpMultiple: 4,
		TF32:         true,
	},
	{
		Class:      "MMA V2",
		Mnemonic:   ptxMMA("mma.sync.aligned"),
		MinTier:    80,
		Throughput: 2,
		InstrShape: Shape{16, 8, 16},
		Operands:   map[dtypes.DType]int{dtypes.Float16: 0, dtypes.BFloat16: 0, dtypes.Float32: 2, dtypes.Int8: 0},
		AccDTypes:  mixedAcc,
		TF32:       true,
	},
	{
		Class:      "MMA V2",
		Mnemonic:   ptxMMA("mma.sync.aligned"),
		MinTier:    75,
		Throughput: 2,
		InstrShape: Shape{16, 8, 8},
		Operands:   map[dtypes.DType]int{dtypes.Float16: 0},
		AccDTypes:  sets.MakeWith(dtypes.Float32, dtypes.Float16),
	},
	{
		Class:      "MMA V1",
		Mnemonic:   ptxMMA("mma.sync.aligned"),
		MinTier:    70,
		Throughput: 1,
		InstrShape: Shape{8, 8, 4},
		Operands:   map[dtypes.DType]int{dtypes.Float16: 0},
		AccDTypes:  sets.MakeWith(dtypes.Float32, dtypes.Float16),
	},
	genericFMA("fma.rn"),
}

// HIPTable is the table of AMD GPUs. Tiers are gfx numbers (908 for gfx908).
var HIPTable = Table{
	{
		Class:      "MFMA",
		Mnemonic:   mfma,
		MinTier:    908,
		Throughput: 2,
		InstrShape: Shape{32, 32, 8},
		Operands:   map[dtypes.DType]int{dtypes.Float16: 0, dtypes.BFloat16: 0, dtypes.Float32: 0, dtypes.Int8: 0},
		AccDTypes:  sets.MakeWith(dtypes.Float32, dtypes.Int32),
	},
	genericFMA("v_fma"),
}

// CPUTable is the table of CPUs. Tiers are the ones returned by target.HostTier.
var CPUTable = Table{
	{
		Class:      "AVX512 BF16",
		Mnemonic:   suffixed("vdpbf16ps"),
		MinTier:    target.CPUTierAVX512BF16,
		Throughput: 3,
		InstrShape: Shape{1, 16, 2},
		Operands:   map[dtypes.DType]int{dtypes.BFloat16: 0},
		AccDTypes:  floatAcc,
	},
	{
		Class:      "AVX512",
		Mnemonic:   suffixed("vfmadd231ps.zmm"),
		MinTier:    target.CPUTierAVX512,
		Throughput: 2,
		InstrShape: Shape{1, 16, 1},
		Operands:   map[dtypes.DType]int{dtypes.Float32: 0, dtypes.Float16: 2, dtypes.BFloat16: 2},
		AccDTypes:  floatAcc,
	},
	{
		Class:      "AVX2",
		Mnemonic:   suffixed("vfmadd231ps.ymm"),
		MinTier:    target.CPUTierSIMD,
		Throughput: 1,
		InstrShape: Shape{1, 8, 1},
		Operands:   map[dtypes.DType]int{dtypes.Float32: 0, dtypes.Float16: 2, dtypes.BFloat16: 2},
		AccDTypes:  floatAcc,
	},
	genericFMA("fmadd"),
}

// TableFor returns the encoding table of the backend kind, or nil if there is none.
func TableFor(kind target.Kind) Table {
	switch kind {
	case target.KindCUDA:
		return CUDATable
	case target.KindHIP:
		return HIPTable
	case target.KindCPU:
		return CPUTable
	}
	return nil
}
