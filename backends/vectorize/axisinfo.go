// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vectorize

import (
	"fmt"

	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/shapes"
	"golang.org/x/exp/constraints"
)

// MaxDivisibility is the divisibility of zero, and the cap of all divisibilities.
const MaxDivisibility int64 = 1 << 30

// PointerArgAlignment is the alignment, in bytes, assumed for kernel pointer arguments.
const PointerArgAlignment int64 = 16

// AxisInfo describes the structure of the values of a tile along its last (contiguous) axis. The
// elements of the axis are split in runs of fixed length, starting at the first element:
//
//   - Contiguity: length of the runs of consecutive values (x, x+1, x+2, ...).
//   - Divisibility: largest power of two dividing the first element of every run of Contiguity
//     values. For pointers it is measured in bytes.
//   - Constancy: length of the runs of equal values.
//
// Scalars have Contiguity and Constancy 1.
type AxisInfo struct {
	Contiguity, Divisibility, Constancy int64
}

// String implements fmt.Stringer.
func (info AxisInfo) String() string {
	return fmt.Sprintf("{contiguity=%d, divisibility=%d, constancy=%d}", info.Contiguity, info.Divisibility, info.Constancy)
}

// unknown is the info of values without any known structure.
var unknown = AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: 1}

func gcd[T constraints.Integer](a, b T) T {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// highestPow2Divisor returns the largest power of 2 dividing v, capped to MaxDivisibility.
func highestPow2Divisor[T constraints.Integer](v T) int64 {
	if v == 0 {
		return MaxDivisibility
	}
	p := int64(v & -v)
	if p < 0 {
		p = -p
	}
	return min(p, MaxDivisibility)
}

// Analysis holds the AxisInfo of every value of a function.
type Analysis struct {
	infos []AxisInfo
}

// Info returns the AxisInfo of v.
func (a *Analysis) Info(v *ir.Value) AxisInfo {
	return a.infos[v.Id()]
}

// lastDim returns the length of the last axis of v, or 1 for scalars.
func lastDim(v *ir.Value) int64 {
	dims := v.Type().Dims()
	if len(dims) == 0 {
		return 1
	}
	return int64(dims[len(dims)-1])
}

// elementBytes returns the size of the pointee of a pointer value, or 1 for other values.
func elementBytes(v *ir.Value) int64 {
	if !v.Type().IsPointer() {
		return 1
	}
	return int64(max(shapes.DTypeBits(v.Type().DType())/8, 1))
}

// Analyze computes the AxisInfo of every value of fn, in program order.
func Analyze(fn *ir.Function) *Analysis {
	a := &Analysis{infos: make([]AxisInfo, fn.NumValues())}
	for ii := range a.infos {
		a.infos[ii] = unknown
	}
	for _, arg := range fn.Args {
		info := unknown
		if arg.Type().IsPointer() {
			info.Divisibility = PointerArgAlignment
		}
		a.infos[arg.Id()] = info
	}
	for _, op := range fn.Ops {
		result := op.Result()
		if result == nil {
			continue
		}
		info := a.transfer(op)
		n := lastDim(result)
		info.Contiguity = max(min(info.Contiguity, n), 1)
		info.Constancy = max(min(info.Constancy, n), 1)
		info.Divisibility = max(min(info.Divisibility, MaxDivisibility), 1)
		a.infos[result.Id()] = info
	}
	return a
}

// constantInt returns the integer value held by v, if it is an integer constant or a splat of one.
func constantInt(v *ir.Value) (int64, bool) {
	c := v.Constant()
	if c == nil || c.IsFloat || !v.Type().IsInteger() {
		return 0, false
	}
	return c.Int, true
}

// transfer computes the AxisInfo of the result of op from the infos of its operands.
func (a *Analysis) transfer(op *ir.Operation) AxisInfo {
	operand := func(ii int) AxisInfo { return a.infos[op.Operands[ii].Id()] }
	isInt := op.Result().Type().IsInteger() || op.Result().Type().IsPointer()

	switch op.Code {
	case ir.OpProgramID:
		return unknown

	case ir.OpConstant:
		c := op.Attrs.(*ir.ConstantAttrs)
		if c.IsFloat || !isInt {
			return unknown
		}
		return AxisInfo{Contiguity: 1, Divisibility: highestPow2Divisor(c.Int), Constancy: 1}

	case ir.OpMakeRange:
		attrs := op.Attrs.(*ir.MakeRangeAttrs)
		return AxisInfo{
			Contiguity:   int64(attrs.End - attrs.Start),
			Divisibility: highestPow2Divisor(attrs.Start),
			Constancy:    1,
		}

	case ir.OpSplat:
		return AxisInfo{Contiguity: 1, Divisibility: operand(0).Divisibility, Constancy: lastDim(op.Result())}

	case ir.OpAdd, ir.OpSub, ir.OpAddPtr:
		x, y := operand(0), operand(1)
		if op.Code == ir.OpAddPtr {
			y.Divisibility *= elementBytes(op.Operands[0])
		}
		info := AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: gcd(x.Constancy, y.Constancy)}
		if !isInt {
			return info
		}
		if op.Code == ir.OpSub {
			info.Contiguity = gcd(x.Contiguity, y.Constancy)
		} else {
			info.Contiguity = max(gcd(x.Contiguity, y.Constancy), gcd(x.Constancy, y.Contiguity))
		}
		info.Divisibility = gcd(x.Divisibility, y.Divisibility)
		return info

	case ir.OpMul:
		x, y := operand(0), operand(1)
		info := AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: gcd(x.Constancy, y.Constancy)}
		if !isInt {
			return info
		}
		if c, ok := constantInt(op.Operands[1]); ok && c == 1 {
			return x
		}
		if c, ok := constantInt(op.Operands[0]); ok && c == 1 {
			return y
		}
		// Only the first element of a run of consecutive values has the run's divisibility.
		xDiv, yDiv := x.Divisibility, y.Divisibility
		if x.Contiguity > 1 {
			xDiv = 1
		}
		if y.Contiguity > 1 {
			yDiv = 1
		}
		info.Divisibility = min(xDiv*yDiv, MaxDivisibility)
		return info

	case ir.OpDiv:
		x, y := operand(0), operand(1)
		info := AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: gcd(x.Constancy, y.Constancy)}
		if !isInt {
			return info
		}
		c, ok := constantInt(op.Operands[1])
		if !ok || c <= 0 {
			return info
		}
		if c == 1 {
			return x
		}
		// Runs of consecutive values aligned to a power of 2 dividing c yield the same quotient.
		if x.Contiguity > 1 {
			info.Constancy = max(info.Constancy, gcd(gcd(x.Contiguity, x.Divisibility), highestPow2Divisor(c)))
		} else if x.Divisibility >= c && x.Divisibility%c == 0 {
			info.Divisibility = x.Divisibility / c
		}
		return info

	case ir.OpRem:
		x, y := operand(0), operand(1)
		info := AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: gcd(x.Constancy, y.Constancy)}
		if !isInt {
			return info
		}
		c, ok := constantInt(op.Operands[1])
		if !ok || c <= 0 {
			return info
		}
		info.Constancy = x.Constancy
		if x.Contiguity > 1 {
			info.Contiguity = gcd(gcd(x.Contiguity, x.Divisibility), highestPow2Divisor(c))
		}
		runStartDiv := x.Divisibility
		if x.Contiguity > 1 {
			runStartDiv = gcd(x.Divisibility, highestPow2Divisor(info.Contiguity))
		}
		info.Divisibility = gcd(runStartDiv, highestPow2Divisor(c))
		return info

	case ir.OpCmp:
		x, y := operand(0), operand(1)
		info := AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: gcd(x.Constancy, y.Constancy)}
		predicate := op.Attrs.(*ir.CmpAttrs).Predicate
		if (predicate == ir.CmpLT || predicate == ir.CmpGE) && x.Contiguity > 1 && y.Constancy > 1 {
			// An aligned run of consecutive values compared to a bound aligned at least as much is
			// either all below or all above the bound.
			aligned := gcd(gcd(x.Contiguity, x.Divisibility), gcd(y.Constancy, y.Divisibility))
			info.Constancy = max(info.Constancy, aligned)
		}
		return info

	case ir.OpSelect:
		cond, x, y := operand(0), operand(1), operand(2)
		return AxisInfo{
			Contiguity:   gcd(cond.Constancy, gcd(x.Contiguity, y.Contiguity)),
			Divisibility: gcd(x.Divisibility, y.Divisibility),
			Constancy:    gcd(cond.Constancy, gcd(x.Constancy, y.Constancy)),
		}

	case ir.OpConvert:
		x := operand(0)
		if isInt && op.Operands[0].Type().IsInteger() {
			return x
		}
		return AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: x.Constancy}

	case ir.OpMakeBlockPtr:
		return AxisInfo{Contiguity: 1, Divisibility: operand(0).Divisibility, Constancy: 1}

	case ir.OpLoad:
		ptr := operand(0)
		info := AxisInfo{Contiguity: 1, Divisibility: 1, Constancy: ptr.Constancy}
		if mask := op.Mask(); mask != nil {
			info.Constancy = gcd(info.Constancy, a.Info(mask).Constancy)
		}
		if other := op.Other(); other != nil {
			info.Constancy = gcd(info.Constancy, a.Info(other).Constancy)
		}
		return info

	case ir.OpDot, ir.OpStore, ir.OpInvalid:
	}
	return unknown
}
