// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// OpCode enumerates the operations of the kernel IR.
//
// The set is closed: passes switch exhaustively over it, and adding an opcode means updating the
// builder, Verify, the printer and every pass that switches on OpCode.
type OpCode int

const (
	OpInvalid OpCode = iota
	OpProgramID
	OpConstant
	OpMakeRange
	OpSplat
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpCmp
	OpSelect
	OpConvert
	OpAddPtr
	OpMakeBlockPtr
	OpLoad
	OpStore
	OpDot

	// opLast is used to size tables indexed by OpCode.
	opLast
)

var opCodeMnemonics = [opLast]string{
	OpInvalid:      "invalid",
	OpProgramID:    "program_id",
	OpConstant:     "constant",
	OpMakeRange:    "make_range",
	OpSplat:        "splat",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpDiv:          "div",
	OpRem:          "rem",
	OpCmp:          "cmp",
	OpSelect:       "select",
	OpConvert:      "convert",
	OpAddPtr:       "addptr",
	OpMakeBlockPtr: "make_block_ptr",
	OpLoad:         "load",
	OpStore:        "store",
	OpDot:          "dot",
}

// String returns the mnemonic used in the IR text.
func (c OpCode) String() string {
	if c < 0 || c >= opLast {
		return "OpCode(" + strconv.Itoa(int(c)) + ")"
	}
	return opCodeMnemonics[c]
}

// IsBinaryArithmetic returns whether the opcode is one of Add, Sub, Mul, Div or Rem.
func (c OpCode) IsBinaryArithmetic() bool {
	switch c {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem:
		return true
	}
	return false
}

// IsMemory returns whether the opcode accesses global memory (Load or Store).
func (c OpCode) IsMemory() bool {
	return c == OpLoad || c == OpStore
}

// HasSideEffects returns whether the op must be kept even when its result is not used.
func (c OpCode) HasSideEffects() bool {
	return c == OpStore
}

// Attrs are the static attributes of an operation. Each opcode that needs static attributes
// has its own concrete type, and the interface is sealed to this package.
type Attrs interface {
	// String renders the attributes as they appear between braces in the IR text,
	// without the braces.
	String() string

	attrs()
}

// ProgramIDAttrs for OpProgramID.
type ProgramIDAttrs struct {
	Axis int
}

func (ProgramIDAttrs) attrs() {}

func (a *ProgramIDAttrs) String() string { return fmt.Sprintf("axis = %d", a.Axis) }

// ConstantAttrs for OpConstant. Only the field matching the result dtype is used.
type ConstantAttrs struct {
	Int   int64
	Float float64
	// IsFloat reports which of the fields holds the value.
	IsFloat bool
}

func (ConstantAttrs) attrs() {}

func (a *ConstantAttrs) String() string {
	if a.IsFloat {
		return "value = " + strconv.FormatFloat(a.Float, 'g', -1, 64)
	}
	return "value = " + strconv.FormatInt(a.Int, 10)
}

// MakeRangeAttrs for OpMakeRange: the values [Start, End).
type MakeRangeAttrs struct {
	Start, End int
}

func (MakeRangeAttrs) attrs() {}

func (a *MakeRangeAttrs) String() string {
	return fmt.Sprintf("start = %d, end = %d", a.Start, a.End)
}

// CmpPredicate for OpCmp.
type CmpPredicate int

const (
	CmpLT CmpPredicate = iota
	CmpLE
	CmpGT
	CmpGE
	CmpEQ
	CmpNE
)

var cmpPredicateNames = []string{"lt", "le", "gt", "ge", "eq", "ne"}

func (p CmpPredicate) String() string {
	if p < 0 || int(p) >= len(cmpPredicateNames) {
		return "CmpPredicate(" + strconv.Itoa(int(p)) + ")"
	}
	return cmpPredicateNames[p]
}

// CmpAttrs for OpCmp.
type CmpAttrs struct {
	Predicate CmpPredicate
}

func (CmpAttrs) attrs() {}

func (a *CmpAttrs) String() string { return "predicate = " + a.Predicate.String() }

// MakeBlockPtrAttrs for OpMakeBlockPtr.
//
// Order lists the axes from the fastest varying (contiguous in memory) to the slowest.
type MakeBlockPtrAttrs struct {
	BlockShape []int
	Order      []int
}

func (MakeBlockPtrAttrs) attrs() {}

func (a *MakeBlockPtrAttrs) String() string {
	return fmt.Sprintf("block_shape = %s, order = %s", intList(a.BlockShape), intList(a.Order))
}

// EvictionPolicy hints the cache policy of a memory access.
type EvictionPolicy int

const (
	EvictNormal EvictionPolicy = iota
	EvictFirst
	EvictLast
)

var evictionPolicyNames = []string{"evict_normal", "evict_first", "evict_last"}

func (p EvictionPolicy) String() string {
	if p < 0 || int(p) >= len(evictionPolicyNames) {
		return "EvictionPolicy(" + strconv.Itoa(int(p)) + ")"
	}
	return evictionPolicyNames[p]
}

// MemoryAttrs for OpLoad and OpStore.
//
// Operands of a load are [ptr, mask?, other?]; operands of a store are [ptr, value, mask?].
type MemoryAttrs struct {
	HasMask  bool
	HasOther bool
	Eviction EvictionPolicy

	// NoVectorize opts the access out of vectorization: it is always emitted with scalar width.
	NoVectorize bool
}

func (MemoryAttrs) attrs() {}

func (a *MemoryAttrs) String() string {
	var parts []string
	if a.Eviction != EvictNormal {
		parts = append(parts, "evict = "+a.Eviction.String())
	}
	if a.NoVectorize {
		parts = append(parts, "no_vectorize")
	}
	return strings.Join(parts, ", ")
}

// InputPrecision of a dot operation with float32 operands.
type InputPrecision int

const (
	// PrecisionDefault defers to the compilation options.
	PrecisionDefault InputPrecision = iota
	// PrecisionTF32 allows float32 operands to be truncated to tf32 by tensor-core instructions.
	PrecisionTF32
	// PrecisionIEEE requires full float32 products.
	PrecisionIEEE
)

func (p InputPrecision) String() string {
	switch p {
	case PrecisionDefault:
		return "default"
	case PrecisionTF32:
		return "tf32"
	case PrecisionIEEE:
		return "ieee"
	}
	return "InputPrecision(" + strconv.Itoa(int(p)) + ")"
}

// DotAttrs for OpDot.
type DotAttrs struct {
	InputPrecision InputPrecision
}

func (DotAttrs) attrs() {}

func (a *DotAttrs) String() string {
	if a.InputPrecision == PrecisionDefault {
		return ""
	}
	return "input_precision = " + a.InputPrecision.String()
}

// ParseInputPrecision converts "tf32" or "ieee" to an InputPrecision.
func ParseInputPrecision(name string) (InputPrecision, error) {
	switch name {
	case "tf32":
		return PrecisionTF32, nil
	case "ieee":
		return PrecisionIEEE, nil
	}
	return PrecisionDefault, errors.Errorf("unknown input precision %q, valid values are \"tf32\" or \"ieee\"", name)
}

func intList(values []int) string {
	parts := make([]string, len(values))
	for ii, v := range values {
		parts[ii] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
