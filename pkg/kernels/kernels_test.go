// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"testing"

	"github.com/gomlx/kernelc/pkg/compiler"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExamplesBuild(t *testing.T) {
	assert.Equal(t, []string{"ldst_vec", "matmul_kernel", "vector_copy"}, Names())
	for _, name := range Names() {
		example := Examples[name]
		fn, err := compiler.Build(example.Kernel, example.Signature, example.Constants)
		require.NoError(t, err, name)
		require.NoError(t, ir.Verify(fn), name)
		assert.Equal(t, name, fn.Name)
		assert.Len(t, fn.Args, len(example.Signature), name)
	}
}

func TestMatMul(t *testing.T) {
	fn, err := compiler.Build(MatMul, MatMulSignature, nil)
	require.NoError(t, err)
	assert.Len(t, fn.OpsOf(ir.OpMakeBlockPtr), 3)
	dots := fn.OpsOf(ir.OpDot)
	require.Len(t, dots, 1)
	assert.Equal(t, "tensor<32x32xf32>", dots[0].Result().Type().String())
	assert.Equal(t, "tensor<32x128xf32>", dots[0].Operands[0].Type().String())
	assert.Equal(t, "tensor<128x32xf32>", dots[0].Operands[1].Type().String())
}

func TestLdStVec(t *testing.T) {
	fn, err := compiler.Build(LdStVec, LdStVecSignature, map[string]any{"XBLOCK": 1024})
	require.NoError(t, err)
	loads := fn.OpsOf(ir.OpLoad)
	require.Len(t, loads, 2)
	assert.Equal(t, "tensor<1024xi64>", loads[0].Result().Type().String())
	assert.Nil(t, loads[0].Mask())
	assert.Equal(t, ir.EvictLast, loads[0].MemoryAttrs().Eviction)
	assert.Equal(t, "tensor<1024xf32>", loads[1].Result().Type().String())
	assert.NotNil(t, loads[1].Mask())
	assert.NotNil(t, loads[1].Other())

	stores := fn.OpsOf(ir.OpStore)
	require.Len(t, stores, 1)
	assert.Equal(t, "tensor<1024xf16>", stores[0].StoredValue().Type().String())

	// in_ptr1 and in_ptr2 are not used.
	uses := fn.UseCounts()
	assert.Zero(t, uses[fn.Args[1].Id()])
	assert.Zero(t, uses[fn.Args[2].Id()])
}

func TestExampleJob(t *testing.T) {
	job, err := Examples["ldst_vec"].Job(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, job.Options.NumWarps)

	job, err = Examples["ldst_vec"].Job(map[string]any{compiler.KeyNumWarps: 2, compiler.KeyDumpIR: true})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Options.NumWarps)
	assert.True(t, job.Options.DumpIR)
	// The defaults of the example are not modified.
	assert.Equal(t, map[string]any{compiler.KeyNumWarps: 1}, Examples["ldst_vec"].Options)

	_, err = Examples["vector_copy"].Job(map[string]any{"warps": 2})
	require.ErrorContains(t, err, `example "vector_copy"`)
}
