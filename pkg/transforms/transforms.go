// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package transforms holds the target independent passes of the pipeline: structural verification
// and canonicalization (constant folding, identity forwarding and dead code elimination).
package transforms

import (
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	VerifyPassName       = "verify"
	CanonicalizePassName = "canonicalize"
)

// VerifyPass checks the structural invariants of the IR (see ir.Verify). A violation aborts the compilation.
func VerifyPass() passes.Pass {
	return passes.New(VerifyPassName, func(ctx *passes.Context) error {
		return errors.WithMessage(ir.Verify(ctx.Func), "malformed IR")
	})
}

// CanonicalizePass runs Canonicalize. It never fails.
func CanonicalizePass() passes.Pass {
	return passes.New(CanonicalizePassName, func(ctx *passes.Context) error {
		stats := Canonicalize(ctx.Func)
		klog.V(2).Infof("kernel %q canonicalized: %+v", ctx.Func.Name, stats)
		return nil
	})
}
