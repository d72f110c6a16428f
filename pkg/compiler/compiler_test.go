// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compiler_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/backends/isel"
	"github.com/gomlx/kernelc/pkg/compiler"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/gomlx/kernelc/pkg/kernels"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cuda80 = target.Static(target.New(target.KindCUDA, 80))

// newCompiler returns a compiler for cuda:80 writing its diagnostics to the returned buffer.
func newCompiler() (*compiler.Compiler, *bytes.Buffer) {
	var buf bytes.Buffer
	return compiler.New(cuda80, diag.NewSink(&buf)), &buf
}

func withRemarks(toggle diag.Toggle, config map[string]any) compiler.Options {
	options := must.M1(compiler.ParseOptions(config))
	options.Remarks = toggle
	return options
}

// remarkPairs splits the diagnostics text into (remark, note) pairs, checking that each remark is
// immediately followed by its note.
func remarkPairs(t *testing.T, text string) [][2]string {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if text == "" {
		return nil
	}
	require.Zero(t, len(lines)%2, "odd number of lines in %q", text)
	var pairs [][2]string
	for ii := 0; ii < len(lines); ii += 2 {
		require.True(t, strings.HasPrefix(lines[ii], "remark: Warning: "), lines[ii])
		require.True(t, strings.HasPrefix(lines[ii+1], diag.NotePrefix), lines[ii+1])
		pairs = append(pairs, [2]string{lines[ii], lines[ii+1]})
	}
	return pairs
}

func TestMatMulRemark(t *testing.T) {
	c, buf := newCompiler()
	artifact, err := c.Compile(kernels.MatMul, kernels.MatMulSignature, nil, withRemarks(diag.Enabled, nil))
	require.NoError(t, err)

	pairs := remarkPairs(t, buf.String())
	require.Len(t, pairs, 1)
	assert.Equal(t, "remark: Warning: can't use MMA V3 for the dot op", pairs[0][0])
	assert.Contains(t, pairs[0][1], " = dot %")
	assert.True(t, strings.HasSuffix(pairs[0][1], `loc("matmul_kernel":11:12)`), pairs[0][1])

	require.Len(t, artifact.Metadata.Dots, 1)
	dot := artifact.Metadata.Dots[0]
	assert.Equal(t, "MMA V2", dot.Encoding)
	assert.Equal(t, "mma.sync.aligned.m16n8k16.row.col.f32.tf32.tf32.f32", dot.Instr)
	assert.Equal(t, []int{1, 1, 1}, artifact.MemoryWidths())
	assert.Equal(t, "cuda:80", artifact.Target)
	assert.Equal(t, "matmul_kernel", artifact.Kernel)
	assert.Contains(t, artifact.Listing, "mma.sync.aligned.m16n8k16.row.col.f32.tf32.tf32.f32")
	assert.Contains(t, artifact.IR, `isel.encoding = "MMA V2"`)

	// On Hopper the best encoding is selected, without remarks.
	hopper := compiler.New(target.Static(target.New(target.KindCUDA, 90)), diag.NewSink(buf))
	buf.Reset()
	artifact, err = hopper.Compile(kernels.MatMul, kernels.MatMulSignature, nil, withRemarks(diag.Enabled, nil))
	require.NoError(t, err)
	assert.Zero(t, buf.Len())
	assert.Equal(t, "MMA V3", artifact.Metadata.Dots[0].Encoding)
}

func TestLdStVecRemark(t *testing.T) {
	c, buf := newCompiler()
	example := kernels.Examples["ldst_vec"]
	options := withRemarks(diag.Enabled, example.Options)
	assert.Equal(t, 1, options.NumWarps)
	artifact, err := c.Compile(example.Kernel, example.Signature, example.Constants, options)
	require.NoError(t, err)

	pairs := remarkPairs(t, buf.String())
	require.Len(t, pairs, 2)
	for _, pair := range pairs {
		assert.Equal(t, "remark: Warning: vectorization fails", pair[0])
		assert.Contains(t, pair[1], " = load %")
	}
	assert.True(t, strings.HasSuffix(pairs[0][1], `loc("ldst_vec":8:15)`), pairs[0][1])
	assert.True(t, strings.HasSuffix(pairs[1][1], `loc("ldst_vec":15:16)`), pairs[1][1])

	// Both gathers are scalar, the contiguous float16 store is 128 bits wide.
	assert.Equal(t, []int{1, 1, 8}, artifact.MemoryWidths())
	assert.Contains(t, artifact.Listing, "st.global.v4.b32")
}

func TestCompileZeroOptions(t *testing.T) {
	c, buf := newCompiler()
	artifact, err := c.Compile(kernels.MatMul, kernels.MatMulSignature, nil, compiler.Options{Remarks: diag.Enabled})
	require.NoError(t, err)
	assert.Equal(t, 1, len(remarkPairs(t, buf.String())))
	assert.Equal(t, "MMA V2", artifact.Metadata.Dots[0].Encoding)
	assert.Equal(t, 4, artifact.Metadata.NumWarps)
	assert.Equal(t, passes.DefaultOptions(), artifact.Options)

	for _, options := range []passes.Options{
		{NumWarps: -1},
		{MaxVectorBits: 96},
		{InputPrecision: ir.InputPrecision(7)},
	} {
		_, err = c.Compile(kernels.MatMul, kernels.MatMulSignature, nil, compiler.Options{Options: options})
		require.Error(t, err, "options %+v", options)
		assert.Contains(t, err.Error(), `compiling kernel "matmul_kernel"`)
	}
}

func TestRemarksToggle(t *testing.T) {
	example := kernels.Examples["ldst_vec"]

	// Disabled: nothing written, same compilation result.
	c, buf := newCompiler()
	disabled, err := c.Compile(example.Kernel, example.Signature, example.Constants, withRemarks(diag.Disabled, example.Options))
	require.NoError(t, err)
	assert.Zero(t, buf.Len())

	enabled, err := c.Compile(example.Kernel, example.Signature, example.Constants, withRemarks(diag.Enabled, example.Options))
	require.NoError(t, err)
	first := buf.String()
	assert.NotEmpty(t, first)
	assert.Equal(t, disabled.Listing, enabled.Listing)
	assert.Equal(t, disabled.IR, enabled.IR)
	assert.NotEqual(t, disabled.ID, enabled.ID)

	// Recompiling produces the same diagnostics.
	buf.Reset()
	_, err = c.Compile(example.Kernel, example.Signature, example.Constants, withRemarks(diag.Enabled, example.Options))
	require.NoError(t, err)
	assert.Equal(t, first, buf.String())

	// Without an explicit toggle, the environment is read.
	buf.Reset()
	t.Setenv(diag.DefaultToggleEnv, "1")
	_, err = c.Compile(example.Kernel, example.Signature, example.Constants, withRemarks(nil, example.Options))
	require.NoError(t, err)
	assert.Equal(t, first, buf.String())

	buf.Reset()
	t.Setenv(diag.DefaultToggleEnv, "0")
	_, err = c.Compile(example.Kernel, example.Signature, example.Constants, withRemarks(nil, example.Options))
	require.NoError(t, err)
	assert.Zero(t, buf.Len())
}

func TestVectorCopy(t *testing.T) {
	c, buf := newCompiler()
	signature := map[int]string{0: "*fp32", 1: "*fp32"}
	artifact, err := c.Compile(kernels.VectorCopy, signature, map[string]any{"BLOCK": 1024}, withRemarks(diag.Enabled, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4}, artifact.MemoryWidths())
	assert.Zero(t, buf.Len())

	// 128 elements over 128 threads: one element per thread, vectorization is not tried.
	artifact, err = c.Compile(kernels.VectorCopy, signature, map[string]any{"BLOCK": 128}, withRemarks(diag.Enabled, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, artifact.MemoryWidths())
	assert.Zero(t, buf.Len())
}

func TestCompileErrors(t *testing.T) {
	c, _ := newCompiler()
	options := withRemarks(diag.Disabled, nil)
	copySignature := map[int]string{0: "*fp32", 1: "*fp32"}
	block := map[string]any{"BLOCK": 128}
	testCases := []struct {
		name      string
		signature map[int]string
		constants map[string]any
		wantErr   string
	}{
		{"unbound parameter", copySignature, nil, `parameter #2 "BLOCK" is not bound`},
		{"bound twice", map[int]string{0: "*fp32", 1: "*fp32", 2: "i32"}, block, "bound both"},
		{"index out of range", map[int]string{0: "*fp32", 1: "*fp32", 5: "i32"}, block, "out of range"},
		{"unknown constant", copySignature, map[string]any{"BLOCK": 128, "XBLOCK": 2}, `constant "XBLOCK"`},
		{"unknown type", map[int]string{0: "*fp8", 1: "*fp32"}, block, `invalid signature type "*fp8"`},
		{"non-integer constexpr", copySignature, map[string]any{"BLOCK": "large"}, "must be an integer"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Compile(kernels.VectorCopy, tc.signature, tc.constants, options)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Contains(t, err.Error(), `kernel "vector_copy"`)
		})
	}

	// Builder errors.
	mismatched := &compiler.KernelFunc{
		KernelName: "mismatched",
		ParamNames: []string{"x", "y"},
		BuildFn: func(b *ir.Builder, args *compiler.Args) {
			b.Add(args.Value("x"), args.Value("y"))
		},
	}
	_, err := c.Compile(mismatched, map[int]string{0: "i32", 1: "fp32"}, nil, options)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dtypes differ")

	// Pass errors carry the name of the failing pass.
	unknown := compiler.New(target.ProviderFunc(func() (target.Descriptor, error) {
		return target.Descriptor{Backend: target.KindInvalid, Tier: 1}, nil
	}), nil)
	_, err = unknown.Compile(kernels.MatMul, kernels.MatMulSignature, nil, options)
	require.Error(t, err)
	var passErr *passes.Error
	require.True(t, errors.As(err, &passErr), "got %v", err)
	assert.Equal(t, isel.PassName, passErr.Pass)

	// Provider errors.
	failing := compiler.New(target.ProviderFunc(func() (target.Descriptor, error) {
		return target.Descriptor{}, errors.New("no device")
	}), nil)
	_, err = failing.Compile(kernels.MatMul, kernels.MatMulSignature, nil, options)
	require.ErrorContains(t, err, "no device")
}

func TestBuild(t *testing.T) {
	fn, err := compiler.Build(kernels.VectorCopy, map[int]string{0: "*fp16", 1: "*fp16"}, map[string]any{"BLOCK": int64(256)})
	require.NoError(t, err)
	assert.Equal(t, []string{"src_ptr", "dst_ptr"}, fn.ArgNames())
	assert.True(t, ir.PointerType(dtypes.Float16).Equal(fn.Args[0].Type()))
	loads := fn.OpsOf(ir.OpLoad)
	require.Len(t, loads, 1)
	assert.Equal(t, "tensor<256xf16>", loads[0].Result().Type().String())
}

func TestParseType(t *testing.T) {
	for typeStr, want := range map[string]ir.Type{
		"*fp32": ir.PointerType(dtypes.Float32),
		"*bf16": ir.PointerType(dtypes.BFloat16),
		"*i1":   ir.PointerType(dtypes.Bool),
		"i32":   ir.ScalarType(dtypes.Int32),
		"u64":   ir.ScalarType(dtypes.Uint64),
		" fp16": ir.ScalarType(dtypes.Float16),
	} {
		got, err := compiler.ParseType(typeStr)
		require.NoError(t, err, typeStr)
		assert.True(t, want.Equal(got), "%q: want %s, got %s", typeStr, want, got)
	}
	_, err := compiler.ParseType("**fp32")
	require.Error(t, err)
}

func TestParseOptions(t *testing.T) {
	options, err := compiler.ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, passes.DefaultOptions(), options.Options)
	assert.Nil(t, options.Remarks)

	options, err = compiler.ParseOptions(map[string]any{
		"num_warps": 8, "num_stages": int64(2), "num_ctas": 2.0, "max_vector_bits": 256,
		"input_precision": "ieee", "enable_remarks": true, "dump_ir": true,
	})
	require.NoError(t, err)
	assert.Equal(t, passes.Options{NumWarps: 8, NumStages: 2, NumCTAs: 2, MaxVectorBits: 256,
		InputPrecision: ir.PrecisionIEEE, DumpIR: true}, options.Options)
	assert.Equal(t, diag.Enabled, options.Remarks)

	for wantErr, config := range map[string]map[string]any{
		`option "num_warps": must be a positive integer`: {"num_warps": 0},
		`option "num_warps": must be an integer`:         {"num_warps": "4"},
		`option "max_vector_bits": must be a power of 2`: {"max_vector_bits": 96},
		`option "input_precision": unknown input`:        {"input_precision": "tf64"},
		`option "enable_remarks": must be a bool`:        {"enable_remarks": 1},
		`option "num_threads": unknown option`:           {"num_threads": 1},
	} {
		_, err := compiler.ParseOptions(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), wantErr)
	}
}

func TestLoadOptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.toml")
	require.NoError(t, os.WriteFile(path, []byte("num_warps = 1\ninput_precision = \"ieee\"\nenable_remarks = false\n"), 0o644))
	options, err := compiler.LoadOptionsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, options.NumWarps)
	assert.Equal(t, ir.PrecisionIEEE, options.InputPrecision)
	assert.Equal(t, diag.Disabled, options.Remarks)

	require.NoError(t, os.WriteFile(path, []byte("num_wraps = 1\n"), 0o644))
	_, err = compiler.LoadOptionsFile(path)
	require.ErrorContains(t, err, "unknown option")

	_, err = compiler.LoadOptionsFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestArtifactEncoding(t *testing.T) {
	c, _ := newCompiler()
	example := kernels.Examples["ldst_vec"]
	artifact, err := c.Compile(example.Kernel, example.Signature, example.Constants, withRemarks(diag.Disabled, example.Options))
	require.NoError(t, err)

	data, err := artifact.Encode()
	require.NoError(t, err)
	decoded, err := compiler.DecodeArtifact(data)
	require.NoError(t, err)
	assert.Equal(t, artifact, decoded)

	_, err = compiler.DecodeArtifact([]byte{0xc1})
	require.Error(t, err)

	yamlText, err := artifact.MetadataYAML()
	require.NoError(t, err)
	text := string(yamlText)
	assert.Contains(t, text, "id: "+artifact.ID)
	assert.Contains(t, text, "kernel: ldst_vec")
	assert.Contains(t, text, "cuda:80")
	assert.Contains(t, text, "num_warps: 1")
	assert.Contains(t, text, "width: 8")
}

func TestCompileAll(t *testing.T) {
	c, buf := newCompiler()
	const rounds = 4
	var jobs []compiler.Job
	for range rounds {
		for _, name := range []string{"matmul_kernel", "ldst_vec"} {
			job, err := kernels.Examples[name].Job(map[string]any{compiler.KeyEnableRemarks: true})
			require.NoError(t, err)
			jobs = append(jobs, job)
		}
	}
	artifacts, err := c.CompileAll(context.Background(), jobs, 3)
	require.NoError(t, err)
	require.Len(t, artifacts, len(jobs))
	for ii, artifact := range artifacts {
		assert.Equal(t, jobs[ii].Kernel.Name(), artifact.Kernel)
	}

	// Each job emitted its remarks, and no pair was interleaved with another.
	pairs := remarkPairs(t, buf.String())
	assert.Len(t, pairs, rounds*3)
	var mma, vectorization int
	for _, pair := range pairs {
		switch pair[0] {
		case "remark: Warning: can't use MMA V3 for the dot op":
			mma++
			assert.Contains(t, pair[1], `loc("matmul_kernel"`)
		case "remark: Warning: vectorization fails":
			vectorization++
			assert.Contains(t, pair[1], `loc("ldst_vec"`)
		}
	}
	assert.Equal(t, rounds, mma)
	assert.Equal(t, 2*rounds, vectorization)

	// The first failure is reported.
	jobs = append(jobs, compiler.Job{Kernel: kernels.VectorCopy, Signature: map[int]string{0: "*fp32"}})
	_, err = c.CompileAll(context.Background(), jobs, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job #8")
}
