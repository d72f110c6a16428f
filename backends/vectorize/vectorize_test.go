// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package vectorize

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/gomlx/kernelc/pkg/support/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cuda80 = target.New(target.KindCUDA, 80)

// programIndex returns pid*block + [0, block).
func programIndex(b *ir.Builder, block int) *ir.Value {
	return b.Add(b.Arange(0, block), b.Mul(b.ProgramID(0), block))
}

func TestAxisInfo(t *testing.T) {
	b := ir.NewBuilder("axis_info")
	n := b.Param("n", ir.ScalarType(dtypes.Int32))
	ptr := b.Param("p", ir.PointerType(dtypes.Float32))
	xindex := programIndex(b, 1024)
	values := map[string]*ir.Value{
		"xindex":        xindex,
		"xindex % 9":    b.Rem(xindex, 9),
		"xindex % 512":  b.Rem(xindex, 512),
		"xindex / 3456": b.Div(xindex, 3456),
		"xindex / 9":    b.Div(xindex, 9),
		"(x%9) * 512":   b.Mul(b.Rem(xindex, 9), 512),
		"xindex < n":    b.Cmp(ir.CmpLT, xindex, n),
		"xindex < 2048": b.Cmp(ir.CmpLT, xindex, 2048),
		"xindex - 4":    b.Sub(xindex, 4),
		"p + xindex":    b.AddPtr(ptr, xindex),
		"p + 1":         b.AddPtr(ptr, 1),
		"splat(n)":      b.Splat(n, 1024),
		"pid * 64":      b.Mul(b.ProgramID(0), 64),
		"x * 1":         b.Mul(xindex, 1),
	}
	want := map[string]AxisInfo{
		"xindex":        {Contiguity: 1024, Divisibility: 1024, Constancy: 1},
		"xindex % 9":    {Contiguity: 1, Divisibility: 1, Constancy: 1},
		"xindex % 512":  {Contiguity: 512, Divisibility: 512, Constancy: 1},
		"xindex / 3456": {Contiguity: 1, Divisibility: 1, Constancy: 128},
		"xindex / 9":    {Contiguity: 1, Divisibility: 1, Constancy: 1},
		"(x%9) * 512":   {Contiguity: 1, Divisibility: 512, Constancy: 1},
		"xindex < n":    {Contiguity: 1, Divisibility: 1, Constancy: 1},
		"xindex < 2048": {Contiguity: 1, Divisibility: 1, Constancy: 1024},
		"xindex - 4":    {Contiguity: 1024, Divisibility: 4, Constancy: 1},
		"p + xindex":    {Contiguity: 1024, Divisibility: 16, Constancy: 1},
		"p + 1":         {Contiguity: 1, Divisibility: 4, Constancy: 1},
		"splat(n)":      {Contiguity: 1, Divisibility: 1, Constancy: 1024},
		"pid * 64":      {Contiguity: 1, Divisibility: 64, Constancy: 1},
		"x * 1":         {Contiguity: 1024, Divisibility: 1024, Constancy: 1},
	}
	analysis := Analyze(b.Function())
	for name, v := range values {
		assert.Equal(t, want[name], analysis.Info(v), name)
	}
	assert.Equal(t, AxisInfo{Contiguity: 1, Divisibility: PointerArgAlignment, Constancy: 1}, analysis.Info(ptr))
	assert.Equal(t, unknown, analysis.Info(n))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 6, gcd(12, -18))
	assert.Equal(t, int64(128), highestPow2Divisor(int64(3456)))
	assert.Equal(t, int64(4), highestPow2Divisor(-4))
	assert.Equal(t, MaxDivisibility, highestPow2Divisor(0))
}

// decide builds a single access with build, and returns the decision for it.
func decide(t *testing.T, numWarps int, build func(b *ir.Builder) *ir.Operation) Decision {
	b := ir.NewBuilder("decide")
	op := build(b)
	require.NoError(t, ir.Verify(b.Function()))
	options := passes.DefaultOptions()
	options.NumWarps = numWarps
	return Decide(op, Analyze(b.Function()), cuda80, options)
}

func TestDecide(t *testing.T) {
	f32Ptr := func(b *ir.Builder, name string) *ir.Value { return b.Param(name, ir.PointerType(dtypes.Float32)) }

	t.Run("contiguous", func(t *testing.T) {
		d := decide(t, 4, func(b *ir.Builder) *ir.Operation {
			return b.Load(b.AddPtr(f32Ptr(b, "p"), programIndex(b, 1024))).Producer()
		})
		assert.Equal(t, Decision{Start: 4, Width: 4}, d)
		assert.False(t, d.Failed())
	})

	t.Run("misaligned", func(t *testing.T) {
		d := decide(t, 4, func(b *ir.Builder) *ir.Operation {
			x := b.Load(b.AddPtr(b.AddPtr(f32Ptr(b, "p"), 1), programIndex(b, 1024)))
			return x.Producer()
		})
		assert.Equal(t, 1, d.Width)
		assert.Equal(t, []string{"alignment", "alignment"}, d.Rejected)
		assert.True(t, d.Failed())
	})

	t.Run("gather", func(t *testing.T) {
		d := decide(t, 1, func(b *ir.Builder) *ir.Operation {
			xindex := programIndex(b, 1024)
			x0 := b.Rem(xindex, 9)
			x2 := b.Rem(b.Div(xindex, 3456), 512)
			ptr := b.Param("p", ir.PointerType(dtypes.Int64))
			return b.Load(b.AddPtr(ptr, b.Add(x2, b.Mul(x0, 512)))).Producer()
		})
		assert.Equal(t, 2, d.Start)
		assert.Equal(t, 1, d.Width)
		assert.True(t, d.Failed())
	})

	t.Run("data-dependent mask", func(t *testing.T) {
		d := decide(t, 4, func(b *ir.Builder) *ir.Operation {
			p := f32Ptr(b, "p")
			xindex := programIndex(b, 1024)
			x := b.Load(b.AddPtr(p, xindex))
			b.Store(b.AddPtr(p, xindex), x, ir.WithMask(b.Cmp(ir.CmpGT, x, 0)))
			return xslices.Last(b.Function().Ops)
		})
		assert.Equal(t, []string{"mask", "mask"}, d.Rejected)
		assert.True(t, d.Failed())
	})

	t.Run("aligned bound mask", func(t *testing.T) {
		d := decide(t, 4, func(b *ir.Builder) *ir.Operation {
			xindex := programIndex(b, 1024)
			mask := b.Cmp(ir.CmpLT, xindex, 4096)
			return b.Load(b.AddPtr(f32Ptr(b, "p"), xindex), ir.WithMask(mask), ir.WithOther(0)).Producer()
		})
		assert.Equal(t, 4, d.Width)
	})

	t.Run("few elements per thread", func(t *testing.T) {
		d := decide(t, 4, func(b *ir.Builder) *ir.Operation {
			return b.Load(b.AddPtr(f32Ptr(b, "p"), programIndex(b, 128))).Producer()
		})
		assert.Equal(t, Decision{Start: 1, Width: 1}, d)
		assert.False(t, d.Failed(), "vectorization was not tried")
	})

	skipped := map[string]func(b *ir.Builder) *ir.Operation{
		SkippedScalar: func(b *ir.Builder) *ir.Operation {
			return b.Load(f32Ptr(b, "p")).Producer()
		},
		SkippedNoVectorize: func(b *ir.Builder) *ir.Operation {
			return b.Load(b.AddPtr(f32Ptr(b, "p"), b.Mul(b.Arange(0, 1024), 3)), ir.WithoutVectorization()).Producer()
		},
		SkippedBlockPointer: func(b *ir.Builder) *ir.Operation {
			blockPtr := b.MakeBlockPtr(f32Ptr(b, "p"), []any{64, 64}, []any{64, 1}, []any{0, 0}, []int{64, 64}, []int{1, 0})
			return b.Load(blockPtr).Producer()
		},
	}
	for reason, build := range skipped {
		t.Run(reason, func(t *testing.T) {
			d := decide(t, 4, build)
			assert.Equal(t, reason, d.Skipped)
			assert.Equal(t, 1, d.Width)
			assert.False(t, d.Failed())
		})
	}
}

func TestPass(t *testing.T) {
	b := ir.NewBuilder("copy")
	src := b.Param("src", ir.PointerType(dtypes.Float16))
	dst := b.Param("dst", ir.PointerType(dtypes.Float16))
	xindex := programIndex(b, 1024)
	b.At(3, 8)
	x := b.Load(b.AddPtr(src, b.Rem(xindex, 9)))
	b.At(4, 4)
	b.Store(b.AddPtr(dst, xindex), x)
	fn := b.Function()

	var buf bytes.Buffer
	engine := diag.NewEngine(diag.Enabled, diag.NewSink(&buf))
	_, err := passes.NewManager(Pass()).Run(fn, cuda80, passes.DefaultOptions(), engine)
	require.NoError(t, err)

	load, store := fn.OpsOf(ir.OpLoad)[0], fn.OpsOf(ir.OpStore)[0]
	assert.Equal(t, 1, load.Annotations[AnnotationWidth])
	assert.Equal(t, 8, store.Annotations[AnnotationWidth])
	assert.False(t, store.Annotations.Has(AnnotationSkipped))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "remark: Warning: vectorization fails", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], diag.NotePrefix+"%"))
	assert.True(t, strings.HasSuffix(lines[1], `loc("copy":3:8)`))
	assert.NotContains(t, lines[1], AnnotationWidth)
}
