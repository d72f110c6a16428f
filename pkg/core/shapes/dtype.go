// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// dtypeNames are the short names used in IR types and in kernel signatures.
var dtypeNames = map[dtypes.DType]string{
	dtypes.Bool:     "i1",
	dtypes.Int8:     "i8",
	dtypes.Int16:    "i16",
	dtypes.Int32:    "i32",
	dtypes.Int64:    "i64",
	dtypes.Uint8:    "u8",
	dtypes.Uint16:   "u16",
	dtypes.Uint32:   "u32",
	dtypes.Uint64:   "u64",
	dtypes.Float16:  "f16",
	dtypes.BFloat16: "bf16",
	dtypes.Float32:  "f32",
	dtypes.Float64:  "f64",
}

// signatureAliases are accepted in kernel signatures in addition to dtypeNames.
var signatureAliases = map[string]dtypes.DType{
	"fp16": dtypes.Float16,
	"fp32": dtypes.Float32,
	"fp64": dtypes.Float64,
}

// DTypeName returns the short IR name of the dtype ("f32", "i64", "bf16", ...).
func DTypeName(dtype dtypes.DType) string {
	if name, found := dtypeNames[dtype]; found {
		return name
	}
	return dtype.String()
}

// ParseDTypeName converts a short name ("f32", "fp32", "i1", ...) to its dtype.
func ParseDTypeName(name string) (dtypes.DType, error) {
	if dtype, found := signatureAliases[name]; found {
		return dtype, nil
	}
	for dtype, dtypeName := range dtypeNames {
		if dtypeName == name {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("unknown dtype name %q", name)
}

// DTypeBits returns the width in bits of one element of dtype. Bool counts as 8 bits, since that
// is its storage width in memory.
func DTypeBits(dtype dtypes.DType) int {
	switch dtype {
	case dtypes.Bool, dtypes.Int8, dtypes.Uint8:
		return 8
	case dtypes.Int16, dtypes.Uint16, dtypes.Float16, dtypes.BFloat16:
		return 16
	case dtypes.Int32, dtypes.Uint32, dtypes.Float32:
		return 32
	case dtypes.Int64, dtypes.Uint64, dtypes.Float64:
		return 64
	}
	return 0
}

// IsFloat returns whether dtype is one of the floating point types supported by kernels.
func IsFloat(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float16, dtypes.BFloat16, dtypes.Float32, dtypes.Float64:
		return true
	}
	return false
}

// IsInteger returns whether dtype is an integer type, Bool included.
func IsInteger(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Bool, dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return true
	}
	return false
}
