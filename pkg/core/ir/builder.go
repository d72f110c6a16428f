// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Builder is used by frontends to emit the operations of a kernel.
//
// Errors are "thrown" with panic (exceptions.Panicf), with a descriptive message and a stack trace,
// so kernels can be written without checking errors at every op. Use exceptions.TryCatch[error] to
// convert them back to errors at the API boundary, as the compiler does.
//
// Operands that are Go numbers (int, float64, ...) are converted to constants of the dtype of the
// other operand, and scalars are splat to the dims of tensor operands. There is no implicit dtype
// promotion: use Convert.
type Builder struct {
	fn  *Function
	loc Location
}

// NewBuilder returns a Builder for an empty kernel with the given name.
func NewBuilder(kernelName string) *Builder {
	return &Builder{
		fn:  NewFunction(kernelName),
		loc: Location{Kernel: kernelName},
	}
}

// Function being built.
func (b *Builder) Function() *Function { return b.fn }

// At sets the source location attributed to the operations emitted next. It returns the Builder
// itself, so it can be chained: b.At(12, 4).Load(ptr).
func (b *Builder) At(line, column int) *Builder {
	b.loc = Location{Kernel: b.fn.Name, Line: line, Column: column}
	return b
}

// Param adds a kernel argument. Arguments are usually created by the compiler from the kernel signature.
func (b *Builder) Param(name string, typ Type) *Value {
	if name == "" {
		exceptions.Panicf("kernel %q: parameter #%d has no name", b.fn.Name, len(b.fn.Args))
	}
	for _, arg := range b.fn.Args {
		if arg.argName == name {
			exceptions.Panicf("kernel %q: parameter %q defined twice", b.fn.Name, name)
		}
	}
	if !typ.Ok() || typ.IsBlockPointer() || typ.IsTensor() {
		exceptions.Panicf("kernel %q: parameter %q must be a scalar or a scalar pointer, got %s", b.fn.Name, name, typ)
	}
	v := b.fn.newValue(typ)
	v.argName = name
	v.argIndex = len(b.fn.Args)
	b.fn.Args = append(b.fn.Args, v)
	return v
}

// emit creates the operation, verifies it and appends it to the function. resultType is ignored
// if hasResult is false.
func (b *Builder) emit(code OpCode, attrs Attrs, hasResult bool, resultType Type, operands ...*Value) *Operation {
	for ii, operand := range operands {
		if operand == nil {
			exceptions.Panicf("%s: operand #%d is nil at %s", code, ii, b.loc)
		}
	}
	op := &Operation{
		fn:       b.fn,
		Code:     code,
		Operands: operands,
		Attrs:    attrs,
		Loc:      b.loc,
	}
	if hasResult {
		op.result = b.fn.newValue(resultType)
		op.result.producer = op
	}
	if err := VerifyOp(op); err != nil {
		panic(err)
	}
	b.fn.Ops = append(b.fn.Ops, op)
	return op
}

// ProgramID returns the index of the program instance along axis (0, 1 or 2), an i32 scalar.
func (b *Builder) ProgramID(axis int) *Value {
	return b.emit(OpProgramID, &ProgramIDAttrs{Axis: axis}, true, ScalarType(dtypes.Int32)).result
}

// Const returns a scalar constant of the given dtype. value must be a Go number or bool.
func (b *Builder) Const(dtype dtypes.DType, value any) *Value {
	attrs := NewConstantAttrs(dtype, value)
	return b.emit(OpConstant, attrs, true, ScalarType(dtype)).result
}

// NewConstantAttrs converts a Go number or bool to the attributes of a constant of the given dtype.
// Float values are rounded to the precision of dtype, and integer dtypes require integer values.
//
// It panics (with exceptions.Panicf) for unsupported values.
func NewConstantAttrs(dtype dtypes.DType, value any) *ConstantAttrs {
	var (
		asFloat float64
		asInt   int64
		isInt   bool
	)
	switch v := value.(type) {
	case int:
		asInt, isInt = int64(v), true
	case int8:
		asInt, isInt = int64(v), true
	case int16:
		asInt, isInt = int64(v), true
	case int32:
		asInt, isInt = int64(v), true
	case int64:
		asInt, isInt = v, true
	case uint8:
		asInt, isInt = int64(v), true
	case uint16:
		asInt, isInt = int64(v), true
	case uint32:
		asInt, isInt = int64(v), true
	case uint64:
		// Stored with the same bits: values above math.MaxInt64 are negative in Int.
		asInt, isInt = int64(v), true
	case bool:
		if v {
			asInt = 1
		}
		isInt = true
	case float32:
		asFloat = float64(v)
	case float64:
		asFloat = v
	default:
		exceptions.Panicf("constant of dtype %s: unsupported Go value %v (%T)", dtype, value, value)
	}
	if isInt {
		asFloat = float64(asInt)
	}

	switch dtype {
	case dtypes.Float16:
		return &ConstantAttrs{IsFloat: true, Float: float64(float16.Fromfloat32(float32(asFloat)).Float32())}
	case dtypes.BFloat16:
		return &ConstantAttrs{IsFloat: true, Float: float64(bfloat16.FromFloat32(float32(asFloat)).Float32())}
	case dtypes.Float32:
		return &ConstantAttrs{IsFloat: true, Float: float64(float32(asFloat))}
	case dtypes.Float64:
		return &ConstantAttrs{IsFloat: true, Float: asFloat}
	}
	if !isInt {
		if asFloat != math.Trunc(asFloat) {
			exceptions.Panicf("constant of dtype %s: value %g is not an integer", dtype, asFloat)
		}
		asInt = int64(asFloat)
	}
	if dtype == dtypes.Bool && asInt != 0 {
		asInt = 1
	}
	return &ConstantAttrs{Int: asInt}
}

// Full returns a tile of the given dims filled with value.
func (b *Builder) Full(dims []int, value any, dtype dtypes.DType) *Value {
	return b.Splat(b.Const(dtype, value), dims...)
}

// Arange returns the i32 tile [start, start+1, ..., end-1].
func (b *Builder) Arange(start, end int) *Value {
	if end <= start {
		exceptions.Panicf("Arange(%d, %d): empty range at %s", start, end, b.loc)
	}
	return b.emit(OpMakeRange, &MakeRangeAttrs{Start: start, End: end}, true, TensorType(dtypes.Int32, end-start)).result
}

// Splat broadcasts the scalar x to a tile of the given dims.
func (b *Builder) Splat(x *Value, dims ...int) *Value {
	return b.emit(OpSplat, nil, true, x.typ.WithDims(dims...), x).result
}

// broadcastTo splats scalars to the given dims. It panics if x is a tile with different dims.
func (b *Builder) broadcastTo(x *Value, dims []int) *Value {
	if slices.Equal(x.typ.Dims(), dims) {
		return x
	}
	if x.typ.IsScalar() {
		return b.Splat(x, dims...)
	}
	exceptions.Panicf("cannot broadcast %s to dims %v at %s", x.typ, dims, b.loc)
	return nil
}

// broadcastDims returns the dims of the operands after broadcasting: scalars broadcast to the
// dims of the tiles, and all tiles must have the same dims.
func (b *Builder) broadcastDims(values ...*Value) []int {
	var dims []int
	for _, v := range values {
		if v.typ.Rank() == 0 {
			continue
		}
		if dims == nil {
			dims = v.typ.Dims()
		} else if !slices.Equal(dims, v.typ.Dims()) {
			exceptions.Panicf("incompatible dims %v and %v at %s", dims, v.typ.Dims(), b.loc)
		}
	}
	return dims
}

// asValue converts Go numbers to a scalar constant of dtype; *Value is returned as is.
func (b *Builder) asValue(x any, dtype dtypes.DType) *Value {
	if v, ok := x.(*Value); ok {
		return v
	}
	return b.Const(dtype, x)
}

func (b *Builder) binary(code OpCode, x *Value, y any) *Value {
	yValue := b.asValue(y, x.typ.DType())
	dims := b.broadcastDims(x, yValue)
	x, yValue = b.broadcastTo(x, dims), b.broadcastTo(yValue, dims)
	if x.typ.DType() != yValue.typ.DType() {
		exceptions.Panicf("%s: operands dtypes differ, %s and %s, at %s", code, x.typ, yValue.typ, b.loc)
	}
	return b.emit(code, nil, true, x.typ, x, yValue).result
}

// Add returns x+y.
func (b *Builder) Add(x *Value, y any) *Value { return b.binary(OpAdd, x, y) }

// Sub returns x-y.
func (b *Builder) Sub(x *Value, y any) *Value { return b.binary(OpSub, x, y) }

// Mul returns x*y.
func (b *Builder) Mul(x *Value, y any) *Value { return b.binary(OpMul, x, y) }

// Div returns x/y. For integers it truncates towards zero.
func (b *Builder) Div(x *Value, y any) *Value { return b.binary(OpDiv, x, y) }

// Rem returns the remainder of x/y, with the sign of x.
func (b *Builder) Rem(x *Value, y any) *Value { return b.binary(OpRem, x, y) }

// Cmp compares x and y elementwise and returns an i1 value.
func (b *Builder) Cmp(predicate CmpPredicate, x *Value, y any) *Value {
	yValue := b.asValue(y, x.typ.DType())
	dims := b.broadcastDims(x, yValue)
	x, yValue = b.broadcastTo(x, dims), b.broadcastTo(yValue, dims)
	return b.emit(OpCmp, &CmpAttrs{Predicate: predicate}, true, x.typ.WithDType(dtypes.Bool), x, yValue).result
}

// Where selects elementwise x where cond is true, and y otherwise. At least one of x or y
// must be a *Value, to define the dtype.
func (b *Builder) Where(cond *Value, x, y any) *Value {
	var dtype dtypes.DType
	if v, ok := x.(*Value); ok {
		dtype = v.typ.DType()
	} else if v, ok := y.(*Value); ok {
		dtype = v.typ.DType()
	} else {
		exceptions.Panicf("Where: at least one of the values must be a *Value at %s", b.loc)
	}
	xValue, yValue := b.asValue(x, dtype), b.asValue(y, dtype)
	dims := b.broadcastDims(cond, xValue, yValue)
	cond, xValue, yValue = b.broadcastTo(cond, dims), b.broadcastTo(xValue, dims), b.broadcastTo(yValue, dims)
	return b.emit(OpSelect, nil, true, xValue.typ, cond, xValue, yValue).result
}

// Convert x to the given dtype.
func (b *Builder) Convert(x *Value, dtype dtypes.DType) *Value {
	if x.typ.DType() == dtype {
		return x
	}
	return b.emit(OpConvert, nil, true, x.typ.WithDType(dtype), x).result
}

// AddPtr offsets ptr by offset elements. A scalar pointer with a tile of offsets yields a tile of pointers.
func (b *Builder) AddPtr(ptr *Value, offset any) *Value {
	offsetValue := b.asValue(offset, dtypes.Int32)
	dims := b.broadcastDims(ptr, offsetValue)
	ptr, offsetValue = b.broadcastTo(ptr, dims), b.broadcastTo(offsetValue, dims)
	return b.emit(OpAddPtr, nil, true, ptr.typ, ptr, offsetValue).result
}

// MakeBlockPtr returns a pointer to a tile of blockShape elements of a tensor of the given shape and
// strides, starting at offsets. shape, strides and offsets are integer scalars or Go ints (converted to
// i32 constants). order lists the axes from the fastest varying to the slowest.
func (b *Builder) MakeBlockPtr(base *Value, shape, strides, offsets []any, blockShape, order []int) *Value {
	rank := len(blockShape)
	if len(shape) != rank || len(strides) != rank || len(offsets) != rank {
		exceptions.Panicf("MakeBlockPtr: shape, strides, offsets and block shape must have the same rank (%d, %d, %d, %d) at %s",
			len(shape), len(strides), len(offsets), rank, b.loc)
	}
	operands := []*Value{base}
	for _, group := range [][]any{shape, strides, offsets} {
		for _, x := range group {
			operands = append(operands, b.asValue(x, dtypes.Int32))
		}
	}
	attrs := &MakeBlockPtrAttrs{BlockShape: slices.Clone(blockShape), Order: slices.Clone(order)}
	return b.emit(OpMakeBlockPtr, attrs, true, BlockPointerType(base.typ.DType(), blockShape...), operands...).result
}

// MemoryOption configures Load and Store.
type MemoryOption func(cfg *memoryConfig)

type memoryConfig struct {
	mask  *Value
	other any
	attrs MemoryAttrs
}

// WithMask masks the access: lanes where mask is false are not accessed.
func WithMask(mask *Value) MemoryOption {
	return func(cfg *memoryConfig) {
		cfg.mask = mask
		cfg.attrs.HasMask = true
	}
}

// WithOther sets the value of masked-off lanes of a Load. It requires WithMask.
func WithOther(other any) MemoryOption {
	return func(cfg *memoryConfig) {
		cfg.other = other
		cfg.attrs.HasOther = true
	}
}

// WithEviction sets the cache eviction policy hint.
func WithEviction(policy EvictionPolicy) MemoryOption {
	return func(cfg *memoryConfig) {
		cfg.attrs.Eviction = policy
	}
}

// WithoutVectorization opts the access out of vectorization.
func WithoutVectorization() MemoryOption {
	return func(cfg *memoryConfig) {
		cfg.attrs.NoVectorize = true
	}
}

// Load reads the values pointed by ptr.
func (b *Builder) Load(ptr *Value, options ...MemoryOption) *Value {
	var cfg memoryConfig
	for _, option := range options {
		option(&cfg)
	}
	if cfg.attrs.HasOther && !cfg.attrs.HasMask {
		exceptions.Panicf("Load: WithOther requires WithMask at %s", b.loc)
	}
	pointee := ptr.typ.Pointee()
	operands := []*Value{ptr}
	if cfg.attrs.HasMask {
		operands = append(operands, b.broadcastTo(cfg.mask, ptr.typ.Dims()))
	}
	if cfg.attrs.HasOther {
		operands = append(operands, b.broadcastTo(b.asValue(cfg.other, pointee.DType()), pointee.Dims()))
	}
	attrs := cfg.attrs
	return b.emit(OpLoad, &attrs, true, pointee, operands...).result
}

// Store writes value to the addresses pointed by ptr. value can be a Go number, in which case
// it is converted to the pointee dtype.
func (b *Builder) Store(ptr *Value, value any, options ...MemoryOption) {
	var cfg memoryConfig
	for _, option := range options {
		option(&cfg)
	}
	if cfg.attrs.HasOther {
		exceptions.Panicf("Store: WithOther is not supported at %s", b.loc)
	}
	pointee := ptr.typ.Pointee()
	operands := []*Value{ptr, b.broadcastTo(b.asValue(value, pointee.DType()), pointee.Dims())}
	if cfg.attrs.HasMask {
		operands = append(operands, b.broadcastTo(cfg.mask, ptr.typ.Dims()))
	}
	attrs := cfg.attrs
	b.emit(OpStore, &attrs, false, Type{}, operands...)
}

// DotOption configures Dot.
type DotOption func(attrs *DotAttrs)

// WithInputPrecision sets how float32 operands may be rounded by matrix-multiply instructions.
func WithInputPrecision(precision InputPrecision) DotOption {
	return func(attrs *DotAttrs) {
		attrs.InputPrecision = precision
	}
}

// Dot returns the matrix product a·b + acc. a is [M, K], b is [K, N]. If acc is nil,
// a zero accumulator is used: float32 for float operands, int32 for integer operands.
func (b *Builder) Dot(a, bValue, acc *Value, options ...DotOption) *Value {
	attrs := &DotAttrs{}
	for _, option := range options {
		option(attrs)
	}
	if acc == nil {
		if a.typ.Rank() != 2 || bValue.typ.Rank() != 2 {
			exceptions.Panicf("Dot: operands must be rank-2 tiles, got %s and %s at %s", a.typ, bValue.typ, b.loc)
		}
		accDType := dtypes.Float32
		if a.typ.IsInteger() {
			accDType = dtypes.Int32
		}
		acc = b.Full([]int{a.typ.Dims()[0], bValue.typ.Dims()[1]}, 0, accDType)
	}
	return b.emit(OpDot, attrs, true, acc.typ, a, bValue, acc).result
}
