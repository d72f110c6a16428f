// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package compiler is the entry point of the kernel compiler: it binds a kernel to its signature and
// constants, builds its IR, and runs the passes that lower it to the current target.
//
// Compilation failures are returned as errors. Suboptimal compilations (e.g. an encoding not available
// on the target, or accesses that could not be vectorized) still succeed, and are reported as remarks
// to the diagnostic sink when enabled by Options.Remarks.
package compiler

import (
	"context"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelc/backends/codegen"
	"github.com/gomlx/kernelc/backends/isel"
	"github.com/gomlx/kernelc/backends/vectorize"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/gomlx/kernelc/pkg/transforms"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Compiler compiles kernels for the target given by its Provider. It holds no per-compilation state,
// and can be used concurrently.
type Compiler struct {
	Provider target.Provider

	// Sink receives the diagnostics of all compilations. If nil, diag.Stderr is used.
	Sink *diag.Sink
}

// New creates a Compiler. If provider is nil the target is read from the environment,
// see target.FromEnv.
func New(provider target.Provider, sink *diag.Sink) *Compiler {
	if provider == nil {
		provider = target.FromEnv()
	}
	return &Compiler{Provider: provider, Sink: sink}
}

// Pipeline returns the passes run by Compile, in order.
func Pipeline() []passes.Pass {
	return []passes.Pass{
		transforms.VerifyPass(),
		transforms.CanonicalizePass(),
		isel.Pass(),
		vectorize.Pass(),
		codegen.Pass(),
	}
}

var pipeline = passes.NewManager(Pipeline()...)

// Compile kernel for the current target.
//
// The signature maps parameter positions to type strings (e.g. "*fp32" or "i32") and constants binds the
// remaining (constexpr) parameters by name.
//
// Zero fields of options take their default values (see passes.DefaultOptions).
func (c *Compiler) Compile(kernel Kernel, signature map[int]string, constants map[string]any, options Options) (*Artifact, error) {
	options.Options = options.Options.WithDefaults()
	if err := options.Options.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "compiling kernel %q", kernel.Name())
	}
	tgt, err := c.Provider.CurrentTarget()
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling kernel %q", kernel.Name())
	}
	fn, err := Build(kernel, signature, constants)
	if err != nil {
		return nil, err
	}

	klog.V(1).Infof("compiling kernel %q for %s: %d operations", fn.Name, tgt, len(fn.Ops))
	engine := diag.NewEngine(options.Remarks, c.Sink)
	outputs, err := pipeline.Run(fn, tgt, options.Options, engine)
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling kernel %q for %s", fn.Name, tgt)
	}
	listing, ok := outputs[codegen.OutputKey].(*codegen.Listing)
	if !ok {
		return nil, errors.Errorf("compiling kernel %q for %s: no instruction listing produced", fn.Name, tgt)
	}
	return newArtifact(fn, tgt.String(), options.Options, listing), nil
}

// Build binds kernel to signature and constants and returns its IR, before any pass is run.
func Build(kernel Kernel, signature map[int]string, constants map[string]any) (*ir.Function, error) {
	b := ir.NewBuilder(kernel.Name())
	var bindErr error
	err := exceptions.TryCatch[error](func() {
		var args *Args
		args, bindErr = bind(b, kernel, signature, constants)
		if bindErr == nil {
			kernel.Build(b, args)
		}
	})
	if err == nil {
		err = bindErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "building kernel %q", kernel.Name())
	}
	return b.Function(), nil
}

// Job is one compilation of CompileAll.
type Job struct {
	Kernel    Kernel
	Signature map[int]string
	Constants map[string]any
	Options   Options
}

// CompileAll compiles the jobs concurrently, with at most parallelism compilations running at once
// (unlimited if parallelism <= 0). Each job builds its own IR: only the diagnostic toggles and the sink
// are shared.
//
// It returns the artifacts in the order of the jobs, or the first error. Once a job fails, jobs not yet
// started are skipped.
func (c *Compiler) CompileAll(ctx context.Context, jobs []Job, parallelism int) ([]*Artifact, error) {
	artifacts := make([]*Artifact, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for ii, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			artifact, err := c.Compile(job.Kernel, job.Signature, job.Constants, job.Options)
			if err != nil {
				return errors.WithMessagef(err, "job #%d", ii)
			}
			artifacts[ii] = artifact
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}
