// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir is the intermediate representation of a kernel: a Function holding an ordered list
// of Operation in SSA form, each producing at most one Value.
//
// The main elements are:
//
//   - Builder: used by frontends to emit a kernel. Like the graph building in GoMLX, it "throws"
//     errors with panic (see github.com/gomlx/exceptions), so frontends don't need to check errors on
//     every op. The compiler converts those panics back into errors.
//   - Function: the kernel, its arguments and its operations in program order.
//   - Operation: one instruction. Its OpCode is a closed enum, and its static attributes are in a
//     typed Attrs. Passes annotate operations with their decisions in Annotations.
//   - Value: the SSA result of an Operation or a kernel argument.
//
// There is exactly one textual rendering of an Operation (Operation.String): it is used both by
// IR dumps and by diagnostic notes.
package ir

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/gomlx/kernelc/pkg/support/sets"
	"github.com/gomlx/kernelc/pkg/support/xslices"
)

// Location is the source provenance of an operation.
type Location struct {
	// Kernel name. Empty means unknown location.
	Kernel string

	// Line and Column in the kernel source. Zero means unknown.
	Line, Column int
}

// String renders the location as it appears in the IR text: loc("kernel":line:column).
func (l Location) String() string {
	if l.Kernel == "" {
		return "loc(unknown)"
	}
	switch {
	case l.Line == 0:
		return fmt.Sprintf("loc(%q)", l.Kernel)
	case l.Column == 0:
		return fmt.Sprintf("loc(%q:%d)", l.Kernel, l.Line)
	default:
		return fmt.Sprintf("loc(%q:%d:%d)", l.Kernel, l.Line, l.Column)
	}
}

// ValueId is unique within a Function.
type ValueId int

// Value is an SSA value: the result of exactly one Operation, or a kernel argument.
type Value struct {
	id  ValueId
	typ Type

	// producer is nil for kernel arguments.
	producer *Operation

	// argName is set for kernel arguments.
	argName  string
	argIndex int
}

// Id of the value within its Function.
func (v *Value) Id() ValueId { return v.id }

// Type of the value.
func (v *Value) Type() Type { return v.typ }

// Producer returns the operation that produced the value, or nil for kernel arguments.
func (v *Value) Producer() *Operation { return v.producer }

// IsArg returns whether the value is a kernel argument.
func (v *Value) IsArg() bool { return v.producer == nil }

// ArgIndex returns the position of a kernel argument in the kernel parameters list, or -1.
func (v *Value) ArgIndex() int {
	if !v.IsArg() {
		return -1
	}
	return v.argIndex
}

// Name returns how the value is referred to in the IR text: "%<param name>" for arguments
// and "%<id>" for results.
func (v *Value) Name() string {
	if v == nil {
		return "%<nil>"
	}
	if v.IsArg() {
		return "%" + v.argName
	}
	return "%" + strconv.Itoa(int(v.id))
}

// String implements fmt.Stringer.
func (v *Value) String() string { return v.Name() }

// Constant returns the attributes of the constant held by the value, if it is a scalar constant or
// a splat of one. It returns nil otherwise.
func (v *Value) Constant() *ConstantAttrs {
	op := v.producer
	if op != nil && op.Code == OpSplat {
		op = op.Operands[0].producer
	}
	if op == nil || op.Code != OpConstant {
		return nil
	}
	attrs, _ := op.Attrs.(*ConstantAttrs)
	return attrs
}

// Annotations are backend decisions attached to an operation by passes, e.g. the chosen
// matrix-multiply encoding or the vector width of a memory access.
//
// Values are expected to be strings, ints or bools.
type Annotations map[string]any

// Int returns the annotation as an int, and whether it was found with that type.
func (a Annotations) Int(key string) (int, bool) {
	v, found := a[key].(int)
	return v, found
}

// Str returns the annotation as a string, and whether it was found with that type.
func (a Annotations) Str(key string) (string, bool) {
	v, found := a[key].(string)
	return v, found
}

// Has returns whether the annotation is set.
func (a Annotations) Has(key string) bool {
	_, found := a[key]
	return found
}

// Operation is one IR instruction.
type Operation struct {
	fn *Function

	Code     OpCode
	Operands []*Value
	Attrs    Attrs
	Loc      Location

	// Annotations written by passes.
	Annotations Annotations

	// result is nil for operations without results (Store).
	result *Value
}

// Function that holds the operation.
func (op *Operation) Function() *Function { return op.fn }

// Result of the operation, or nil if it has none.
func (op *Operation) Result() *Value { return op.result }

// Annotate sets an annotation on the operation.
func (op *Operation) Annotate(key string, value any) {
	if op.Annotations == nil {
		op.Annotations = make(Annotations)
	}
	op.Annotations[key] = value
}

// Operand returns the ii-th operand, or nil if out of range.
func (op *Operation) Operand(ii int) *Value {
	if ii < 0 || ii >= len(op.Operands) {
		return nil
	}
	return op.Operands[ii]
}

// MemoryAttrs returns the attributes of a Load or Store, or nil for other operations.
func (op *Operation) MemoryAttrs() *MemoryAttrs {
	attrs, _ := op.Attrs.(*MemoryAttrs)
	return attrs
}

// Pointer returns the pointer operand of a Load or Store.
func (op *Operation) Pointer() *Value {
	if !op.Code.IsMemory() {
		return nil
	}
	return op.Operand(0)
}

// StoredValue returns the value operand of a Store.
func (op *Operation) StoredValue() *Value {
	if op.Code != OpStore {
		return nil
	}
	return op.Operand(1)
}

// Mask returns the mask operand of a Load or Store, or nil if it is not masked.
func (op *Operation) Mask() *Value {
	attrs := op.MemoryAttrs()
	if attrs == nil || !attrs.HasMask {
		return nil
	}
	if op.Code == OpLoad {
		return op.Operand(1)
	}
	return op.Operand(2)
}

// Other returns the value used for masked-off lanes of a Load, or nil.
func (op *Operation) Other() *Value {
	attrs := op.MemoryAttrs()
	if op.Code != OpLoad || attrs == nil || !attrs.HasOther {
		return nil
	}
	if attrs.HasMask {
		return op.Operand(2)
	}
	return op.Operand(1)
}

// Function is a kernel in IR form.
type Function struct {
	Name string
	Args []*Value
	Ops  []*Operation

	nextId ValueId
}

// NewFunction creates an empty function. Use a Builder to populate it.
func NewFunction(name string) *Function {
	return &Function{Name: name}
}

func (fn *Function) newValue(typ Type) *Value {
	v := &Value{id: fn.nextId, typ: typ, argIndex: -1}
	fn.nextId++
	return v
}

// NumValues returns an upper bound on the value ids used in the function, convenient to
// size tables indexed by ValueId.
func (fn *Function) NumValues() int { return int(fn.nextId) }

// OpsOf returns the operations with the given opcodes, in program order.
func (fn *Function) OpsOf(codes ...OpCode) []*Operation {
	var ops []*Operation
	for _, op := range fn.Ops {
		if slices.Contains(codes, op.Code) {
			ops = append(ops, op)
		}
	}
	return ops
}

// UseCounts returns how many times each value is used as an operand, indexed by ValueId.
func (fn *Function) UseCounts() []int {
	counts := make([]int, fn.NumValues())
	for _, op := range fn.Ops {
		for _, operand := range op.Operands {
			counts[operand.id]++
		}
	}
	return counts
}

// RemoveOps removes the given operations from the function, keeping the order of the others.
func (fn *Function) RemoveOps(toRemove ...*Operation) {
	removed := sets.MakeWith(toRemove...)
	fn.Ops = slices.DeleteFunc(fn.Ops, removed.Has)
}

// RewriteAsConstant replaces the operation, in place, by a constant with the given attributes.
// The result Value is kept, so users of the operation are not changed.
func (op *Operation) RewriteAsConstant(attrs *ConstantAttrs) {
	op.Code = OpConstant
	op.Attrs = attrs
	op.Operands = nil
}

// ReplaceAllUses makes every operand referring to from refer to to instead.
func (fn *Function) ReplaceAllUses(from, to *Value) {
	for _, op := range fn.Ops {
		for ii, operand := range op.Operands {
			if operand == from {
				op.Operands[ii] = to
			}
		}
	}
}

// ArgNames returns the names of the kernel arguments, in order.
func (fn *Function) ArgNames() []string {
	return xslices.Map(fn.Args, func(v *Value) string { return v.argName })
}
