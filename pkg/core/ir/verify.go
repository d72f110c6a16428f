// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Verify checks the structural invariants of the function:
//
//   - Every operand is defined (as an argument or by an earlier operation) before it is used.
//   - Every value is produced by exactly one operation.
//   - Every operation matches the signature of its opcode (see VerifyOp).
//
// It returns the first violation found.
func Verify(fn *Function) error {
	defined := make([]bool, fn.NumValues())
	for _, arg := range fn.Args {
		if !arg.IsArg() {
			return errors.Errorf("function %q: argument %s is produced by an operation", fn.Name, arg)
		}
		defined[arg.id] = true
	}
	for ii, op := range fn.Ops {
		if op.fn != fn {
			return errors.Errorf("function %q: operation #%d (%s) belongs to another function", fn.Name, ii, op.Code)
		}
		for _, operand := range op.Operands {
			if operand == nil {
				return errors.Errorf("function %q: operation #%d has a nil operand: %s", fn.Name, ii, op)
			}
			if int(operand.id) >= len(defined) || !defined[operand.id] {
				return errors.Errorf("function %q: operand %s used before being defined in %s", fn.Name, operand, op)
			}
		}
		if op.result != nil {
			if op.result.producer != op {
				return errors.Errorf("function %q: result %s of %s is attributed to another operation", fn.Name, op.result, op)
			}
			if defined[op.result.id] {
				return errors.Errorf("function %q: value %s is defined more than once", fn.Name, op.result)
			}
			defined[op.result.id] = true
		}
		if err := VerifyOp(op); err != nil {
			return errors.WithMessagef(err, "function %q", fn.Name)
		}
	}
	return nil
}

// VerifyOp checks that the operation operands, attributes and result match its opcode's
// signature.
func VerifyOp(op *Operation) error {
	err := verifyOpSignature(op)
	if err != nil {
		return errors.WithMessagef(err, "invalid %s operation at %s", op.Code, op.Loc)
	}
	return nil
}

func verifyOpSignature(op *Operation) error {
	result := op.result
	switch op.Code {
	case OpProgramID:
		attrs, ok := op.Attrs.(*ProgramIDAttrs)
		if !ok {
			return errors.Errorf("missing ProgramIDAttrs")
		}
		if attrs.Axis < 0 || attrs.Axis > 2 {
			return errors.Errorf("program axis must be 0, 1 or 2, got %d", attrs.Axis)
		}
		return checkSignature(op, 0, true, func() error {
			return expect(result.typ.Equal(ScalarType(dtypes.Int32)), "result must be i32, got %s", result.typ)
		})

	case OpConstant:
		if _, ok := op.Attrs.(*ConstantAttrs); !ok {
			return errors.Errorf("missing ConstantAttrs")
		}
		return checkSignature(op, 0, true, func() error {
			return expect(result.typ.IsScalar() && !result.typ.IsPointer(),
				"constants must be non-pointer scalars, got %s", result.typ)
		})

	case OpMakeRange:
		attrs, ok := op.Attrs.(*MakeRangeAttrs)
		if !ok {
			return errors.Errorf("missing MakeRangeAttrs")
		}
		if attrs.End <= attrs.Start {
			return errors.Errorf("empty range [%d, %d)", attrs.Start, attrs.End)
		}
		return checkSignature(op, 0, true, func() error {
			return expect(result.typ.Equal(TensorType(dtypes.Int32, attrs.End-attrs.Start)),
				"result must be tensor<%dxi32>, got %s", attrs.End-attrs.Start, result.typ)
		})

	case OpSplat:
		return checkSignature(op, 1, true, func() error {
			src := op.Operands[0].typ
			if !src.IsScalar() {
				return errors.Errorf("splat source must be a scalar, got %s", src)
			}
			return expect(result.typ.IsTensor() && result.typ.Element().Equal(src),
				"splat of %s cannot produce %s", src, result.typ)
		})

	case OpAdd, OpSub, OpMul, OpDiv, OpRem:
		return checkSignature(op, 2, true, func() error {
			x, y := op.Operands[0].typ, op.Operands[1].typ
			if x.IsPointer() {
				return errors.Errorf("arithmetic on pointers must use addptr, got %s", x)
			}
			if !x.Equal(y) {
				return errors.Errorf("operand types differ: %s and %s", x, y)
			}
			return expect(result.typ.Equal(x), "result type %s doesn't match operands %s", result.typ, x)
		})

	case OpCmp:
		if _, ok := op.Attrs.(*CmpAttrs); !ok {
			return errors.Errorf("missing CmpAttrs")
		}
		return checkSignature(op, 2, true, func() error {
			x, y := op.Operands[0].typ, op.Operands[1].typ
			if !x.Equal(y) {
				return errors.Errorf("operand types differ: %s and %s", x, y)
			}
			return expect(result.typ.Equal(x.WithDType(dtypes.Bool)) && !result.typ.IsPointer(),
				"result must be i1 with operands' dims, got %s", result.typ)
		})

	case OpSelect:
		return checkSignature(op, 3, true, func() error {
			cond, x, y := op.Operands[0].typ, op.Operands[1].typ, op.Operands[2].typ
			if !cond.IsBool() || !slices.Equal(cond.Dims(), x.Dims()) {
				return errors.Errorf("condition must be i1 with the values' dims, got %s", cond)
			}
			if !x.Equal(y) {
				return errors.Errorf("value types differ: %s and %s", x, y)
			}
			return expect(result.typ.Equal(x), "result type %s doesn't match values %s", result.typ, x)
		})

	case OpConvert:
		return checkSignature(op, 1, true, func() error {
			src := op.Operands[0].typ
			if src.IsPointer() || result.typ.IsPointer() {
				return errors.Errorf("cannot convert pointers (%s -> %s)", src, result.typ)
			}
			return expect(slices.Equal(src.Dims(), result.typ.Dims()),
				"convert cannot change dims (%s -> %s)", src, result.typ)
		})

	case OpAddPtr:
		return checkSignature(op, 2, true, func() error {
			ptr, offset := op.Operands[0].typ, op.Operands[1].typ
			if !ptr.IsPointer() || ptr.IsBlockPointer() {
				return errors.Errorf("addptr base must be a pointer or a tensor of pointers, got %s", ptr)
			}
			if !offset.IsInteger() || offset.IsBool() {
				return errors.Errorf("addptr offset must be an integer, got %s", offset)
			}
			if !slices.Equal(ptr.Dims(), offset.Dims()) {
				return errors.Errorf("addptr base %s and offset %s dims differ", ptr, offset)
			}
			return expect(result.typ.Equal(ptr), "result type %s doesn't match base %s", result.typ, ptr)
		})

	case OpMakeBlockPtr:
		attrs, ok := op.Attrs.(*MakeBlockPtrAttrs)
		if !ok {
			return errors.Errorf("missing MakeBlockPtrAttrs")
		}
		rank := len(attrs.BlockShape)
		if rank == 0 {
			return errors.Errorf("block pointers need at least one axis")
		}
		if len(attrs.Order) != rank {
			return errors.Errorf("order %v must list each of the %d axes", attrs.Order, rank)
		}
		sortedOrder := slices.Sorted(slices.Values(attrs.Order))
		for ii, axis := range sortedOrder {
			if axis != ii {
				return errors.Errorf("order %v must be a permutation of the axes", attrs.Order)
			}
		}
		return checkSignature(op, 1+3*rank, true, func() error {
			base := op.Operands[0].typ
			if !base.IsPointer() || !base.IsScalar() {
				return errors.Errorf("block pointer base must be a scalar pointer, got %s", base)
			}
			for _, operand := range op.Operands[1:] {
				if !operand.typ.IsScalar() || !operand.typ.IsInteger() {
					return errors.Errorf("block pointer shape, strides and offsets must be integer scalars, got %s", operand.typ)
				}
			}
			return expect(result.typ.Equal(BlockPointerType(base.DType(), attrs.BlockShape...)),
				"result must be %s, got %s", BlockPointerType(base.DType(), attrs.BlockShape...), result.typ)
		})

	case OpLoad:
		attrs := op.MemoryAttrs()
		if attrs == nil {
			return errors.Errorf("missing MemoryAttrs")
		}
		numOperands := 1
		if attrs.HasMask {
			numOperands++
		}
		if attrs.HasOther {
			numOperands++
		}
		return checkSignature(op, numOperands, true, func() error {
			ptr := op.Operands[0].typ
			if !ptr.IsPointer() {
				return errors.Errorf("load address must be a pointer, got %s", ptr)
			}
			if err := checkMask(op, ptr); err != nil {
				return err
			}
			if attrs.HasOther && !attrs.HasMask {
				return errors.Errorf("other value given without a mask")
			}
			if other := op.Other(); other != nil && !other.typ.Equal(ptr.Pointee()) {
				return errors.Errorf("other value must be %s, got %s", ptr.Pointee(), other.typ)
			}
			return expect(result.typ.Equal(ptr.Pointee()), "result must be %s, got %s", ptr.Pointee(), result.typ)
		})

	case OpStore:
		attrs := op.MemoryAttrs()
		if attrs == nil {
			return errors.Errorf("missing MemoryAttrs")
		}
		numOperands := 2
		if attrs.HasMask {
			numOperands++
		}
		if attrs.HasOther {
			return errors.Errorf("stores take no other value")
		}
		return checkSignature(op, numOperands, false, func() error {
			ptr, value := op.Operands[0].typ, op.Operands[1].typ
			if !ptr.IsPointer() {
				return errors.Errorf("store address must be a pointer, got %s", ptr)
			}
			if !value.Equal(ptr.Pointee()) {
				return errors.Errorf("stored value must be %s, got %s", ptr.Pointee(), value)
			}
			return checkMask(op, ptr)
		})

	case OpDot:
		if _, ok := op.Attrs.(*DotAttrs); !ok {
			return errors.Errorf("missing DotAttrs")
		}
		return checkSignature(op, 3, true, func() error {
			a, b, acc := op.Operands[0].typ, op.Operands[1].typ, op.Operands[2].typ
			if a.Rank() != 2 || b.Rank() != 2 || acc.Rank() != 2 || a.IsPointer() || b.IsPointer() || acc.IsPointer() {
				return errors.Errorf("dot operands must be rank-2 tiles, got %s, %s and %s", a, b, acc)
			}
			if a.DType() != b.DType() {
				return errors.Errorf("dot operands must have the same dtype, got %s and %s", a, b)
			}
			m, k, k2, n := a.Dims()[0], a.Dims()[1], b.Dims()[0], b.Dims()[1]
			if k != k2 {
				return errors.Errorf("dot contracting dimensions don't match: %s and %s", a, b)
			}
			if !slices.Equal(acc.Dims(), []int{m, n}) {
				return errors.Errorf("dot accumulator must be %dx%d, got %s", m, n, acc)
			}
			if a.IsFloat() != acc.IsFloat() {
				return errors.Errorf("dot accumulator %s incompatible with operands %s", acc, a)
			}
			return expect(result.typ.Equal(acc), "result type %s doesn't match accumulator %s", result.typ, acc)
		})

	case OpInvalid, opLast:
	}
	return errors.Errorf("unknown opcode %d", int(op.Code))
}

// checkSignature checks the number of operands and the presence of a result, and then calls the
// opcode specific check.
func checkSignature(op *Operation, numOperands int, hasResult bool, check func() error) error {
	if len(op.Operands) != numOperands {
		return errors.Errorf("expected %d operands, got %d", numOperands, len(op.Operands))
	}
	if hasResult != (op.result != nil) {
		if hasResult {
			return errors.Errorf("missing result")
		}
		return errors.Errorf("unexpected result")
	}
	if hasResult && !op.result.typ.Ok() {
		return errors.Errorf("invalid result type")
	}
	return check()
}

func checkMask(op *Operation, ptr Type) error {
	mask := op.Mask()
	if mask == nil {
		return nil
	}
	if ptr.IsBlockPointer() {
		return errors.Errorf("block pointer accesses cannot be masked")
	}
	if !mask.typ.IsBool() || !slices.Equal(mask.typ.Dims(), ptr.Dims()) {
		return errors.Errorf("mask must be i1 with the pointer dims %v, got %s", ptr.Dims(), mask.typ)
	}
	return nil
}

func expect(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return errors.Errorf(format, args...)
}
