// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"bytes"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func newFunction() *ir.Function {
	b := ir.NewBuilder("k")
	x := b.Param("x", ir.PointerType(dtypes.Float32))
	b.Store(x, 1.0)
	return b.Function()
}

func TestManagerOrderAndOutputs(t *testing.T) {
	var order []string
	record := func(name string) Pass {
		return New(name, func(ctx *Context) error {
			order = append(order, ctx.Diag.Pass())
			ctx.SetOutput(name, len(order))
			return nil
		})
	}
	m := NewManager(record("a"), record("b"), record("c"))
	assert.Equal(t, []string{"a", "b", "c"}, m.Names())

	outputs, err := m.Run(newFunction(), target.New(target.KindCUDA, 80), DefaultOptions(), diag.NewEngine(diag.Disabled, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, Outputs{"a": 1, "b": 2, "c": 3}, outputs)
}

func TestManagerAbort(t *testing.T) {
	var buf bytes.Buffer
	engine := diag.NewEngine(diag.Enabled, diag.NewSink(&buf))
	ranLast := false
	m := NewManager(
		New("remarks", func(ctx *Context) error {
			ctx.Diag.Remark("only a remark", ctx.Func.Ops[0])
			return nil
		}),
		New("fails", func(ctx *Context) error {
			return errors.New("malformed")
		}),
		New("last", func(ctx *Context) error {
			ranLast = true
			return nil
		}),
	)
	_, err := m.Run(newFunction(), target.New(target.KindCUDA, 80), DefaultOptions(), engine)
	require.Error(t, err)
	var passErr *Error
	require.ErrorAs(t, err, &passErr)
	assert.Equal(t, "fails", passErr.Pass)
	assert.Equal(t, `pass "fails" failed: malformed`, err.Error())
	assert.False(t, ranLast)
	assert.Contains(t, buf.String(), "remark: Warning: only a remark\nnote: see current operation: ")
}

func TestManagerCatchesPanics(t *testing.T) {
	m := NewManager(New("panics", func(ctx *Context) error {
		exceptions.Panicf("unsupported operation %s", ctx.Func.Ops[0].Code)
		return nil
	}))
	_, err := m.Run(newFunction(), target.New(target.KindCPU, 0), DefaultOptions(), diag.NewEngine(diag.Disabled, nil))
	var passErr *Error
	require.ErrorAs(t, err, &passErr)
	assert.Equal(t, "panics", passErr.Pass)
	assert.Contains(t, err.Error(), "unsupported operation constant")
}

func TestNewManagerDuplicates(t *testing.T) {
	noop := func(*Context) error { return nil }
	err := exceptions.TryCatch[error](func() { NewManager(New("a", noop), New("a", noop)) })
	require.Error(t, err)
	err = exceptions.TryCatch[error](func() { NewManager(New("", noop)) })
	require.Error(t, err)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, 4, opts.NumWarps)
	assert.Equal(t, 3, opts.NumStages)
	assert.Equal(t, 1, opts.NumCTAs)
	assert.Equal(t, 128, opts.MaxVectorBits)
	assert.Equal(t, ir.PrecisionTF32, opts.InputPrecision)
}

func TestOptionsWithDefaults(t *testing.T) {
	assert.Equal(t, DefaultOptions(), Options{}.WithDefaults())
	opts := Options{NumWarps: 1, InputPrecision: ir.PrecisionIEEE}.WithDefaults()
	assert.Equal(t, 1, opts.NumWarps)
	assert.Equal(t, ir.PrecisionIEEE, opts.InputPrecision)
	assert.Equal(t, 128, opts.MaxVectorBits)
	require.NoError(t, opts.Validate())

	require.Error(t, Options{}.Validate())
	opts = DefaultOptions()
	opts.MaxVectorBits = 48
	require.ErrorContains(t, opts.Validate(), "max_vector_bits")
	opts = DefaultOptions()
	opts.NumCTAs = -2
	require.ErrorContains(t, opts.Validate(), "num_ctas")
}
