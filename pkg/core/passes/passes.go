// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements the pass manager: it runs an ordered list of passes over one kernel
// Function for one target.
//
// A pass either transforms the IR (rewrites operations, writes annotations) or only emits diagnostics.
// A pass that fails, by returning an error or by panicking with one, aborts the remaining passes, and
// the failure is reported as an *Error. Diagnostics are never failures.
package passes

import (
	"fmt"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/target"
	"k8s.io/klog/v2"
)

// Pass is a named unit of transformation or analysis. Passes hold no state across invocations:
// everything they need comes in the Context.
type Pass interface {
	Name() string
	Run(ctx *Context) error
}

// funcPass adapts a function to a Pass.
type funcPass struct {
	name string
	run  func(ctx *Context) error
}

func (p *funcPass) Name() string { return p.name }

func (p *funcPass) Run(ctx *Context) error { return p.run(ctx) }

// New returns a Pass with the given name that calls run.
func New(name string, run func(ctx *Context) error) Pass {
	return &funcPass{name: name, run: run}
}

// Context given to a pass when it runs.
type Context struct {
	Func    *ir.Function
	Target  target.Descriptor
	Options Options

	// Diag is scoped to the running pass.
	Diag *diag.Emitter

	outputs Outputs
}

// SetOutput publishes a result of the pass, e.g. the instruction listing produced by code generation.
func (ctx *Context) SetOutput(key string, value any) {
	ctx.outputs[key] = value
}

// Output returns a result published by a previous pass, or nil.
func (ctx *Context) Output(key string) any {
	return ctx.outputs[key]
}

// Outputs published by the passes of one Manager.Run, indexed by key.
type Outputs map[string]any

// Error is a structural compilation error raised by a pass. It aborts the compilation.
type Error struct {
	Pass string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("pass %q failed: %v", e.Pass, e.Err)
}

// Unwrap returns the error returned by the pass.
func (e *Error) Unwrap() error { return e.Err }

// Manager runs a fixed list of passes in order.
type Manager struct {
	passes []Pass
}

// NewManager creates a Manager that runs the given passes, in the given order.
//
// It panics (with exceptions.Panicf) if a pass has no name or if two passes have the same name.
func NewManager(passes ...Pass) *Manager {
	seen := make(map[string]bool, len(passes))
	for ii, p := range passes {
		name := p.Name()
		if name == "" {
			exceptions.Panicf("passes.NewManager: pass #%d has no name", ii)
		}
		if seen[name] {
			exceptions.Panicf("passes.NewManager: pass %q given twice", name)
		}
		seen[name] = true
	}
	return &Manager{passes: passes}
}

// Names of the passes, in the order they are run.
func (m *Manager) Names() []string {
	names := make([]string, len(m.passes))
	for ii, p := range m.passes {
		names[ii] = p.Name()
	}
	return names
}

// Run the passes over fn. Each pass gets its own Context, with diagnostics scoped to the pass, and
// outputs shared by all passes.
//
// The first pass to fail aborts the run: its error is returned as an *Error.
func (m *Manager) Run(fn *ir.Function, tgt target.Descriptor, options Options, engine *diag.Engine) (Outputs, error) {
	outputs := make(Outputs)
	for _, p := range m.passes {
		ctx := &Context{
			Func:    fn,
			Target:  tgt,
			Options: options,
			Diag:    engine.Scope(p.Name()),
			outputs: outputs,
		}
		start := time.Now()
		err := runPass(p, ctx)
		elapsed := time.Since(start)
		if err != nil {
			klog.V(1).Infof("kernel %q: pass %q failed after %s: %v", fn.Name, p.Name(), elapsed, err)
			return nil, &Error{Pass: p.Name(), Err: err}
		}
		klog.V(1).Infof("kernel %q: pass %q took %s", fn.Name, p.Name(), elapsed)
		if options.DumpIR && klog.V(3).Enabled() {
			klog.Infof("IR of %q after pass %q:\n%s", fn.Name, p.Name(), fn)
		}
	}
	return outputs, nil
}

// runPass converts a panic with an error into an error. Panics with other values are not caught.
func runPass(p Pass, ctx *Context) (err error) {
	exception := exceptions.TryCatch[error](func() {
		err = p.Run(ctx)
	})
	if exception != nil {
		return exception
	}
	return err
}
