// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package transforms

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/support/sets"
	"github.com/gomlx/kernelc/pkg/support/xslices"
)

// CanonicalizeStats counts the rewrites done by Canonicalize.
type CanonicalizeStats struct {
	Folded, Forwarded, Removed int
}

// Canonicalize simplifies fn in place:
//
//   - Arithmetic, comparisons and conversions of scalar constants are folded into constants.
//     Integer division and remainder truncate towards zero, and integer results wrap around the
//     width of their dtype.
//   - Integer x+0, x-0 and any x*1, x/1 are forwarded to x.
//   - Operations without side effects whose results are not used are removed (see EliminateDeadCode).
func Canonicalize(fn *ir.Function) (stats CanonicalizeStats) {
	for _, op := range fn.Ops {
		switch {
		case op.Code.IsBinaryArithmetic():
			if foldBinary(op) {
				stats.Folded++
			} else if forwardIdentity(fn, op) {
				stats.Forwarded++
			}
		case op.Code == ir.OpCmp:
			if foldCmp(op) {
				stats.Folded++
			}
		case op.Code == ir.OpConvert:
			if foldConvert(op) {
				stats.Folded++
			}
		}
	}
	stats.Removed = EliminateDeadCode(fn)
	return
}

// scalarConstant returns the attributes of v if it is a scalar constant.
func scalarConstant(v *ir.Value) *ir.ConstantAttrs {
	if !v.Type().IsScalar() || v.Producer() == nil || v.Producer().Code != ir.OpConstant {
		return nil
	}
	return v.Constant()
}

func foldBinary(op *ir.Operation) bool {
	x, y := scalarConstant(op.Operands[0]), scalarConstant(op.Operands[1])
	if x == nil || y == nil {
		return false
	}
	dtype := op.Result().Type().DType()
	if x.IsFloat {
		var result float64
		switch op.Code {
		case ir.OpAdd:
			result = x.Float + y.Float
		case ir.OpSub:
			result = x.Float - y.Float
		case ir.OpMul:
			result = x.Float * y.Float
		case ir.OpDiv:
			result = x.Float / y.Float
		case ir.OpRem:
			result = math.Mod(x.Float, y.Float)
		default:
			return false
		}
		op.RewriteAsConstant(ir.NewConstantAttrs(dtype, result))
		return true
	}

	if dtype == dtypes.Bool {
		return false
	}
	var result int64
	switch op.Code {
	case ir.OpAdd:
		result = x.Int + y.Int
	case ir.OpSub:
		result = x.Int - y.Int
	case ir.OpMul:
		result = x.Int * y.Int
	case ir.OpDiv, ir.OpRem:
		if y.Int == 0 || dtype == dtypes.Uint64 {
			return false
		}
		if op.Code == ir.OpDiv {
			result = x.Int / y.Int
		} else {
			result = x.Int % y.Int
		}
	default:
		return false
	}
	op.RewriteAsConstant(ir.NewConstantAttrs(dtype, wrapInt(dtype, result)))
	return true
}

func foldCmp(op *ir.Operation) bool {
	x, y := scalarConstant(op.Operands[0]), scalarConstant(op.Operands[1])
	if x == nil || y == nil {
		return false
	}
	var order int
	if x.IsFloat {
		if math.IsNaN(x.Float) || math.IsNaN(y.Float) {
			return false
		}
		order = compare(x.Float, y.Float)
	} else if op.Operands[0].Type().DType() == dtypes.Uint64 {
		order = compare(uint64(x.Int), uint64(y.Int))
	} else {
		order = compare(x.Int, y.Int)
	}
	var result bool
	switch op.Attrs.(*ir.CmpAttrs).Predicate {
	case ir.CmpLT:
		result = order < 0
	case ir.CmpLE:
		result = order <= 0
	case ir.CmpGT:
		result = order > 0
	case ir.CmpGE:
		result = order >= 0
	case ir.CmpEQ:
		result = order == 0
	case ir.CmpNE:
		result = order != 0
	}
	op.RewriteAsConstant(ir.NewConstantAttrs(dtypes.Bool, result))
	return true
}

func compare[T int64 | uint64 | float64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func foldConvert(op *ir.Operation) bool {
	x := scalarConstant(op.Operands[0])
	if x == nil {
		return false
	}
	dtype := op.Result().Type().DType()
	var value any
	switch {
	case dtype == dtypes.Bool && x.IsFloat:
		value = x.Float != 0
	case x.IsFloat && !op.Result().Type().IsFloat():
		if math.IsNaN(x.Float) || math.IsInf(x.Float, 0) {
			return false
		}
		value = wrapInt(dtype, int64(x.Float))
	case x.IsFloat:
		value = x.Float
	default:
		value = wrapInt(dtype, x.Int)
	}
	op.RewriteAsConstant(ir.NewConstantAttrs(dtype, value))
	return true
}

// wrapInt truncates v to the width of the integer dtype.
func wrapInt(dtype dtypes.DType, v int64) int64 {
	switch dtype {
	case dtypes.Int8:
		return int64(int8(v))
	case dtypes.Int16:
		return int64(int16(v))
	case dtypes.Int32:
		return int64(int32(v))
	case dtypes.Uint8:
		return int64(uint8(v))
	case dtypes.Uint16:
		return int64(uint16(v))
	case dtypes.Uint32:
		return int64(uint32(v))
	}
	return v
}

// forwardIdentity replaces the uses of x+0, x-0, x*1 and x/1 by x. Additions of floats are not
// forwarded, since x+0 is not x for x=-0.
func forwardIdentity(fn *ir.Function, op *ir.Operation) bool {
	x, y := op.Operands[0], op.Operands[1]
	isConstant := func(v *ir.Value, want int64) bool {
		c := v.Constant()
		if c == nil {
			return false
		}
		if c.IsFloat {
			return c.Float == float64(want)
		}
		return c.Int == want
	}
	isFloat := op.Result().Type().IsFloat()
	var forwarded *ir.Value
	switch op.Code {
	case ir.OpAdd:
		if isFloat {
			return false
		}
		if isConstant(y, 0) {
			forwarded = x
		} else if isConstant(x, 0) {
			forwarded = y
		}
	case ir.OpSub:
		if !isFloat && isConstant(y, 0) {
			forwarded = x
		}
	case ir.OpMul:
		if isConstant(y, 1) {
			forwarded = x
		} else if isConstant(x, 1) {
			forwarded = y
		}
	case ir.OpDiv:
		if isConstant(y, 1) {
			forwarded = x
		}
	}
	if forwarded == nil {
		return false
	}
	fn.ReplaceAllUses(op.Result(), forwarded)
	return true
}

// EliminateDeadCode removes the operations without side effects whose results are not used, directly
// or transitively, by an operation with side effects. It returns the number of operations removed.
func EliminateDeadCode(fn *ir.Function) int {
	uses := fn.UseCounts()
	dead := sets.Make[*ir.Operation]()
	for ii := len(fn.Ops) - 1; ii >= 0; ii-- {
		op := fn.Ops[ii]
		if op.Code.HasSideEffects() || op.Result() == nil || uses[op.Result().Id()] > 0 {
			continue
		}
		dead.Insert(op)
		for _, operand := range op.Operands {
			uses[operand.Id()]--
		}
	}
	if len(dead) > 0 {
		fn.RemoveOps(xslices.Keys(dead)...)
	}
	return len(dead)
}
