// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/pkg/core/shapes"
)

// Type of an IR Value.
//
// There are five kinds of types:
//
//   - Scalars: Shape has rank 0, Pointer is false. E.g. "i32".
//   - Tensors: Shape has rank >= 1, Pointer is false. E.g. "tensor<32x128xf32>".
//   - Pointers: Shape has rank 0, Pointer is true. Shape.DType is the pointee dtype. E.g. "ptr<f32>".
//   - Tensors of pointers: Shape has rank >= 1, Pointer is true. E.g. "tensor<1024xptr<i64>>".
//   - Block pointers: Pointer is true and Block holds the dimensions of the tile pointed to.
//     Shape is scalar. E.g. "ptr<tensor<32x128xf32>>".
type Type struct {
	Shape   shapes.Shape
	Pointer bool
	Block   []int
}

// ScalarType returns the type of a scalar of the given dtype.
func ScalarType(dtype dtypes.DType) Type {
	return Type{Shape: shapes.Scalar(dtype)}
}

// TensorType returns the type of a tile of the given dtype and dimensions.
func TensorType(dtype dtypes.DType, dims ...int) Type {
	return Type{Shape: shapes.Make(dtype, dims...)}
}

// PointerType returns the type of a scalar pointer to pointee.
func PointerType(pointee dtypes.DType) Type {
	return Type{Shape: shapes.Scalar(pointee), Pointer: true}
}

// PointerTensorType returns the type of a tile of pointers to pointee.
func PointerTensorType(pointee dtypes.DType, dims ...int) Type {
	return Type{Shape: shapes.Make(pointee, dims...), Pointer: true}
}

// BlockPointerType returns the type of a pointer to a tile of pointee with the given block dimensions.
func BlockPointerType(pointee dtypes.DType, blockDims ...int) Type {
	return Type{Shape: shapes.Scalar(pointee), Pointer: true, Block: slices.Clone(blockDims)}
}

// Ok returns whether the type is valid.
func (t Type) Ok() bool { return t.Shape.Ok() }

// DType of the elements, or of the pointee for pointer types.
func (t Type) DType() dtypes.DType { return t.Shape.DType }

// Rank of the value. Block pointers and scalar pointers have rank 0.
func (t Type) Rank() int { return t.Shape.Rank() }

// Dims of the value. Block pointers and scalar pointers have no dims.
func (t Type) Dims() []int { return t.Shape.Dimensions }

// IsScalar returns whether the type is a scalar (pointer or not), excluding block pointers.
func (t Type) IsScalar() bool { return t.Rank() == 0 && !t.IsBlockPointer() }

// IsTensor returns whether the type is a tile (of values or pointers).
func (t Type) IsTensor() bool { return t.Rank() > 0 }

// IsPointer returns whether the type holds pointers: scalar, tile or block pointers.
func (t Type) IsPointer() bool { return t.Pointer }

// IsBlockPointer returns whether the type is a pointer to a tile.
func (t Type) IsBlockPointer() bool { return t.Pointer && t.Block != nil }

// IsInteger returns whether the type holds integer (or boolean) values, pointers excluded.
func (t Type) IsInteger() bool { return !t.Pointer && shapes.IsInteger(t.DType()) }

// IsFloat returns whether the type holds floating point values, pointers excluded.
func (t Type) IsFloat() bool { return !t.Pointer && shapes.IsFloat(t.DType()) }

// IsBool returns whether the type holds booleans (i1).
func (t Type) IsBool() bool { return !t.Pointer && t.DType() == dtypes.Bool }

// Size is the number of elements of the value: 1 for scalars.
func (t Type) Size() int { return t.Shape.Size() }

// WithDims returns the same kind of element (value or pointer) laid out in the given dims.
// Empty dims returns the scalar type.
func (t Type) WithDims(dims ...int) Type {
	if len(dims) == 0 {
		return Type{Shape: shapes.Scalar(t.DType()), Pointer: t.Pointer}
	}
	return Type{Shape: shapes.Make(t.DType(), dims...), Pointer: t.Pointer}
}

// WithDType returns the same layout with a different element dtype.
func (t Type) WithDType(dtype dtypes.DType) Type {
	return Type{Shape: t.Shape.WithDType(dtype), Pointer: t.Pointer, Block: slices.Clone(t.Block)}
}

// Element returns the scalar type of one element: e.g. "ptr<f32>" for "tensor<8xptr<f32>>".
func (t Type) Element() Type {
	return t.WithDims()
}

// Pointee returns the type of the value loaded through a pointer type: a scalar for scalar pointers,
// a tile with the pointer dims for tensors of pointers, and the block tile for block pointers.
func (t Type) Pointee() Type {
	if t.IsBlockPointer() {
		return TensorType(t.DType(), t.Block...)
	}
	return Type{Shape: t.Shape.Clone()}
}

// Equal compares two types.
func (t Type) Equal(t2 Type) bool {
	return t.Pointer == t2.Pointer && t.Shape.Equal(t2.Shape) && slices.Equal(t.Block, t2.Block) &&
		(t.Block == nil) == (t2.Block == nil)
}

// String renders the type as it appears in the IR text.
func (t Type) String() string {
	if !t.Ok() {
		return "<invalid>"
	}
	elem := shapes.DTypeName(t.DType())
	if t.IsBlockPointer() {
		return fmt.Sprintf("ptr<tensor<%s>>", shapes.Make(t.DType(), t.Block...))
	}
	if t.Pointer {
		elem = fmt.Sprintf("ptr<%s>", elem)
	}
	if t.Rank() == 0 {
		return elem
	}
	prefix := shapes.Shape{DType: t.DType(), Dimensions: t.Dims()}.String()
	// Replace the trailing dtype name of the shape rendering with the element rendering.
	prefix = prefix[:len(prefix)-len(shapes.DTypeName(t.DType()))]
	return fmt.Sprintf("tensor<%s%s>", prefix, elem)
}
