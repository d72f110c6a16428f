// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package codegen lowers an annotated kernel to a listing of target instructions.
//
// It relies on the decisions of the previous passes: dot operations must carry the encoding chosen
// by instruction selection, and loads and stores the vector width chosen by vectorization. A missing
// decision is a structural error.
package codegen

import (
	"fmt"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/backends/isel"
	"github.com/gomlx/kernelc/backends/vectorize"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/gomlx/kernelc/pkg/core/shapes"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/gomlx/kernelc/pkg/support/xslices"
	"github.com/pkg/errors"
)

// PassName of the code generation pass.
const PassName = "lower-to-target"

// OutputKey under which the pass publishes the *Listing (see passes.Context.SetOutput).
const OutputKey = "codegen.listing"

// Line of a listing: one target instruction for one IR operation.
type Line struct {
	// Result is the name of the IR value defined, or empty.
	Result   string
	Instr    string
	Operands []string
	Loc      ir.Location
}

// String renders the line, e.g. "%10 = ld.global.v4.b32 [%9] // loc(...)".
func (l Line) String() string {
	var sb strings.Builder
	if l.Result != "" {
		sb.WriteString(l.Result)
		sb.WriteString(" = ")
	}
	sb.WriteString(l.Instr)
	if len(l.Operands) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(l.Operands, ", "))
	}
	sb.WriteString(" // ")
	sb.WriteString(l.Loc.String())
	return sb.String()
}

// Listing is the lowered kernel.
type Listing struct {
	Kernel string
	Target target.Descriptor
	Lines  []Line

	// SharedMemory is the estimate of shared memory, in bytes, used to stage the tiles loaded through
	// block pointers.
	SharedMemory int64
}

// String renders the listing, one instruction per line.
func (l *Listing) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, ".kernel %s // target %s, shared memory %d bytes\n", l.Kernel, l.Target, l.SharedMemory)
	for _, line := range l.Lines {
		sb.WriteString("  ")
		sb.WriteString(line.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Pass returns the code generation pass. It publishes the *Listing under OutputKey.
func Pass() passes.Pass {
	return passes.New(PassName, func(ctx *passes.Context) error {
		listing, err := Lower(ctx.Func, ctx.Target, ctx.Options)
		if err != nil {
			return err
		}
		ctx.SetOutput(OutputKey, listing)
		return nil
	})
}

// Lower fn to the target.
func Lower(fn *ir.Function, tgt target.Descriptor, options passes.Options) (*Listing, error) {
	listing := &Listing{Kernel: fn.Name, Target: tgt}
	for _, op := range fn.Ops {
		instr, err := instruction(op, tgt)
		if err != nil {
			return nil, errors.WithMessagef(err, "lowering %s", op)
		}
		line := Line{Instr: instr, Loc: op.Loc, Operands: xslices.Map(op.Operands, (*ir.Value).Name)}
		if op.Result() != nil {
			line.Result = op.Result().Name()
		}
		if op.Code.IsMemory() && op.Mask() != nil {
			line.Instr = "@" + op.Mask().Name() + " " + line.Instr
		}
		listing.Lines = append(listing.Lines, line)

		if op.Code == ir.OpLoad && op.Pointer().Type().IsBlockPointer() && tgt.Backend != target.KindCPU {
			tile := op.Result().Type()
			bytes := int64(tile.Size()) * int64(max(shapes.DTypeBits(tile.DType())/8, 1))
			listing.SharedMemory += bytes * int64(max(options.NumStages, 1))
		}
	}
	return listing, nil
}

// typeSuffix returns the instruction type suffix of a dtype, e.g. "s32", "u8", "f16".
func typeSuffix(dtype dtypes.DType) string {
	bits := shapes.DTypeBits(dtype)
	switch {
	case dtype == dtypes.Bool:
		return "pred"
	case dtype == dtypes.BFloat16:
		return "bf16"
	case shapes.IsFloat(dtype):
		return fmt.Sprintf("f%d", bits)
	case dtype == dtypes.Uint8 || dtype == dtypes.Uint16 || dtype == dtypes.Uint32 || dtype == dtypes.Uint64:
		return fmt.Sprintf("u%d", bits)
	}
	return fmt.Sprintf("s%d", bits)
}

var axisNames = []string{"x", "y", "z"}

// instruction returns the target instruction of op.
func instruction(op *ir.Operation, tgt target.Descriptor) (string, error) {
	var resultType ir.Type
	if op.Result() != nil {
		resultType = op.Result().Type()
	}
	switch op.Code {
	case ir.OpProgramID:
		axis := axisNames[op.Attrs.(*ir.ProgramIDAttrs).Axis]
		switch tgt.Backend {
		case target.KindCUDA:
			return "mov.u32 %ctaid." + axis, nil
		case target.KindHIP:
			return "s_mov_b32 workgroup_id_" + axis, nil
		}
		return "program_id." + axis, nil

	case ir.OpConstant:
		return fmt.Sprintf("mov.%s %s", typeSuffix(resultType.DType()), strings.TrimPrefix(op.Attrs.String(), "value = ")), nil

	case ir.OpMakeRange:
		if tgt.Backend == target.KindCUDA {
			return "mov.u32 %tid.x", nil
		}
		return "iota.s32", nil

	case ir.OpSplat:
		if resultType.IsPointer() {
			return "mov.b64", nil
		}
		return fmt.Sprintf("mov.b%d", max(shapes.DTypeBits(resultType.DType()), 16)), nil

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem:
		name := op.Code.String()
		if op.Code == ir.OpMul && resultType.IsInteger() {
			name = "mul.lo"
		} else if resultType.IsFloat() && (op.Code == ir.OpAdd || op.Code == ir.OpSub || op.Code == ir.OpMul) {
			name += ".rn"
		}
		return name + "." + typeSuffix(resultType.DType()), nil

	case ir.OpCmp:
		predicate := op.Attrs.(*ir.CmpAttrs).Predicate
		return fmt.Sprintf("setp.%s.%s", predicate, typeSuffix(op.Operands[0].Type().DType())), nil

	case ir.OpSelect:
		return fmt.Sprintf("selp.b%d", max(shapes.DTypeBits(resultType.DType()), 16)), nil

	case ir.OpConvert:
		return fmt.Sprintf("cvt.%s.%s", typeSuffix(resultType.DType()), typeSuffix(op.Operands[0].Type().DType())), nil

	case ir.OpAddPtr:
		return "mad.wide.s32", nil

	case ir.OpMakeBlockPtr:
		if tgt.Backend == target.KindCUDA && tgt.Tier >= 90 {
			return "tensormap.create", nil
		}
		return "mov.b64", nil

	case ir.OpLoad, ir.OpStore:
		return memoryInstruction(op, tgt)

	case ir.OpDot:
		if !op.Annotations.Has(isel.AnnotationEncoding) {
			return "", errors.Errorf("dot operation has no %s annotation: instruction selection did not run", isel.AnnotationEncoding)
		}
		instr, found := op.Annotations.Str(isel.AnnotationInstr)
		if !found {
			return "", errors.Errorf("dot operation has no %s annotation", isel.AnnotationInstr)
		}
		return instr, nil

	case ir.OpInvalid:
	}
	return "", errors.Errorf("unsupported opcode %s", op.Code)
}

// memoryInstruction lowers a load or store with the width annotated by vectorization.
func memoryInstruction(op *ir.Operation, tgt target.Descriptor) (string, error) {
	width, found := op.Annotations.Int(vectorize.AnnotationWidth)
	if !found {
		return "", errors.Errorf("%s has no %s annotation: vectorization did not run", op.Code, vectorize.AnnotationWidth)
	}
	isLoad := op.Code == ir.OpLoad
	ptrType := op.Pointer().Type()
	if ptrType.IsBlockPointer() {
		switch {
		case tgt.Backend == target.KindCUDA && tgt.Tier >= 90 && isLoad:
			return fmt.Sprintf("cp.async.bulk.tensor.%dd.shared.global", len(ptrType.Block)), nil
		case tgt.Backend == target.KindCUDA && tgt.Tier >= 90:
			return fmt.Sprintf("cp.async.bulk.tensor.%dd.global.shared", len(ptrType.Block)), nil
		case isLoad:
			return "tile.load", nil
		}
		return "tile.store", nil
	}

	elemBits := max(shapes.DTypeBits(ptrType.DType()), 8)
	vectorBits := width * elemBits
	unitBits := vectorBits
	if vectorBits >= 32 {
		unitBits = max(elemBits, 32)
	}
	numUnits := vectorBits / unitBits

	var instr string
	switch tgt.Backend {
	case target.KindCUDA:
		instr = "st.global"
		if isLoad {
			instr = "ld.global"
		}
		if eviction := op.MemoryAttrs().Eviction; eviction != ir.EvictNormal {
			instr += ".L1::" + eviction.String()
		}
		if numUnits > 1 {
			instr += fmt.Sprintf(".v%d", numUnits)
		}
		instr += fmt.Sprintf(".b%d", unitBits)
	case target.KindHIP:
		instr = "global_store"
		if isLoad {
			instr = "global_load"
		}
		instr += fmt.Sprintf("_b%d", vectorBits)
	default:
		instr = "store"
		if isLoad {
			instr = "load"
		}
		if width > 1 {
			instr = fmt.Sprintf("v%s.%d", instr, vectorBits)
		} else {
			instr = fmt.Sprintf("%s.%d", instr, vectorBits)
		}
	}
	return instr, nil
}
