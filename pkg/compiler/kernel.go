// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Kernel is what the frontend hands to the compiler: a named kernel with an ordered list of parameters,
// that can emit its body with an ir.Builder.
type Kernel interface {
	// Name of the kernel, used for the IR function and source locations.
	Name() string

	// Params returns the names of the parameters, in order. Parameters are bound either by the
	// signature (by position) or by the constants (by name).
	Params() []string

	// Build emits the body of the kernel. Errors are reported by panicking, see ir.Builder.
	Build(b *ir.Builder, args *Args)
}

// KernelFunc adapts a Go function to a Kernel.
type KernelFunc struct {
	KernelName string
	ParamNames []string
	BuildFn    func(b *ir.Builder, args *Args)
}

// Name implements Kernel.
func (k *KernelFunc) Name() string { return k.KernelName }

// Params implements Kernel.
func (k *KernelFunc) Params() []string { return k.ParamNames }

// Build implements Kernel.
func (k *KernelFunc) Build(b *ir.Builder, args *Args) { k.BuildFn(b, args) }

// Args are the bound parameters given to Kernel.Build: IR values for the parameters in the signature
// and Go values for the constexpr parameters.
type Args struct {
	kernel    string
	values    map[string]*ir.Value
	constants map[string]any
}

// Value returns the IR value of a runtime parameter. It panics (with exceptions.Panicf) if name is not
// a runtime parameter.
func (a *Args) Value(name string) *ir.Value {
	v, found := a.values[name]
	if !found {
		exceptions.Panicf("kernel %q: %q is not a runtime parameter", a.kernel, name)
	}
	return v
}

// Constant returns the value of a constexpr parameter. It panics (with exceptions.Panicf) if name is not
// a constexpr parameter.
func (a *Args) Constant(name string) any {
	v, found := a.constants[name]
	if !found {
		exceptions.Panicf("kernel %q: %q is not a constexpr parameter", a.kernel, name)
	}
	return v
}

// Int returns a constexpr parameter that must be an integer.
func (a *Args) Int(name string) int {
	switch v := a.Constant(name).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case int32:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	exceptions.Panicf("kernel %q: constexpr %q must be an integer, got %v", a.kernel, name, a.constants[name])
	return 0
}

// IsConstant returns whether name is bound as a constexpr parameter.
func (a *Args) IsConstant(name string) bool {
	_, found := a.constants[name]
	return found
}

// ParseType converts a signature type string to an IR type: "*fp32" is a pointer to float32 and
// "i32" a scalar int32.
func ParseType(typeStr string) (ir.Type, error) {
	s := strings.TrimSpace(typeStr)
	isPointer := strings.HasPrefix(s, "*")
	dtype, err := shapes.ParseDTypeName(strings.TrimPrefix(s, "*"))
	if err != nil {
		return ir.Type{}, errors.WithMessagef(err, "invalid signature type %q", typeStr)
	}
	if isPointer {
		return ir.PointerType(dtype), nil
	}
	return ir.ScalarType(dtype), nil
}

// bind checks that signature and constants fully and uniquely bind the parameters of kernel, and
// declares the runtime parameters in b.
func bind(b *ir.Builder, kernel Kernel, signature map[int]string, constants map[string]any) (*Args, error) {
	params := kernel.Params()
	args := &Args{
		kernel:    kernel.Name(),
		values:    make(map[string]*ir.Value, len(signature)),
		constants: make(map[string]any, len(constants)),
	}
	for idx := range signature {
		if idx < 0 || idx >= len(params) {
			return nil, errors.Errorf("kernel %q: signature index %d out of range, kernel has %d parameters",
				kernel.Name(), idx, len(params))
		}
	}
	names := make(map[string]bool, len(params))
	for ii, name := range params {
		names[name] = true
		typeStr, inSignature := signature[ii]
		value, isConstant := constants[name]
		switch {
		case inSignature && isConstant:
			return nil, errors.Errorf("kernel %q: parameter %q is bound both by the signature and by the constants",
				kernel.Name(), name)
		case isConstant:
			args.constants[name] = value
		case inSignature:
			typ, err := ParseType(typeStr)
			if err != nil {
				return nil, errors.WithMessagef(err, "kernel %q, parameter %q", kernel.Name(), name)
			}
			args.values[name] = b.Param(name, typ)
		default:
			return nil, errors.Errorf("kernel %q: parameter #%d %q is not bound by the signature or the constants",
				kernel.Name(), ii, name)
		}
	}
	for name := range constants {
		if !names[name] {
			return nil, errors.Errorf("kernel %q: constant %q is not a parameter", kernel.Name(), name)
		}
	}
	return args, nil
}

// String implements fmt.Stringer.
func (a *Args) String() string {
	return fmt.Sprintf("Args(kernel=%q, %d runtime, %d constexpr)", a.kernel, len(a.values), len(a.constants))
}
