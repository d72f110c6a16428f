// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package vectorize decides the vector width of the loads and stores of a kernel.
//
// For each load or store through a tile of pointers, the widest width (in elements) tried is the
// smallest of:
//
//   - the widest access allowed by the options (MaxVectorBits) for the element size;
//   - the number of elements each thread handles (tile size / (warps * warp size)).
//
// The width is then halved until the access is legal: the pointers must be contiguous and aligned
// for the width, and the mask and the "other" values must be constant across each vector. If the
// width reaches 1 after a wider width was tried, a "vectorization fails" remark is emitted.
//
// Accesses through scalar pointers, accesses marked with no_vectorize and accesses through block
// pointers (lowered with tile descriptors) are not tried, and never get a remark.
package vectorize

import (
	"math/bits"
	"strings"

	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/gomlx/kernelc/pkg/core/shapes"
	"github.com/gomlx/kernelc/pkg/core/target"
	"k8s.io/klog/v2"
)

// PassName of the vectorization pass.
const PassName = "vectorize-memory"

// Annotations written on loads and stores.
const (
	AnnotationWidth   = "vec.width"
	AnnotationSkipped = "vec.skipped"
)

// Reasons for not trying to vectorize an access, used as the value of AnnotationSkipped.
const (
	SkippedScalar       = "scalar pointer"
	SkippedNoVectorize  = "no_vectorize"
	SkippedBlockPointer = "block pointer"
)

// Decision on the vector width of one load or store.
type Decision struct {
	// Width is the selected width, in elements.
	Width int

	// Start is the first width tried. It is 0 if the access was skipped.
	Start int

	// Skipped holds the reason the access was not tried, if it was skipped.
	Skipped string

	// Rejected lists the reasons each tried width wider than Width was illegal.
	Rejected []string
}

// Failed returns whether vectorization was tried and the access was left with scalar width.
func (d Decision) Failed() bool {
	return d.Skipped == "" && d.Start > 1 && d.Width == 1
}

// Decide the vector width of the load or store op.
func Decide(op *ir.Operation, analysis *Analysis, tgt target.Descriptor, options passes.Options) Decision {
	ptr := op.Pointer()
	switch {
	case ptr.Type().IsBlockPointer():
		return Decision{Width: 1, Skipped: SkippedBlockPointer}
	case !ptr.Type().IsTensor():
		return Decision{Width: 1, Skipped: SkippedScalar}
	case op.MemoryAttrs().NoVectorize:
		return Decision{Width: 1, Skipped: SkippedNoVectorize}
	}

	elemBits := max(shapes.DTypeBits(ptr.Type().DType()), 8)
	threads := max(options.NumWarps, 1) * max(tgt.WarpSize, 1)
	elemsPerThread := max(ptr.Type().Size()/threads, 1)
	start := min(max(options.MaxVectorBits/elemBits, 1), elemsPerThread)
	start = 1 << (bits.Len(uint(start)) - 1) // Round down to a power of 2.

	d := Decision{Start: start, Width: start}
	for d.Width > 1 {
		reason := illegal(op, analysis, d.Width, int64(elemBits/8))
		if reason == "" {
			break
		}
		d.Rejected = append(d.Rejected, reason)
		d.Width /= 2
	}
	return d
}

// illegal returns why an access of the given width is illegal, or "" if it is legal.
func illegal(op *ir.Operation, analysis *Analysis, width int, elemBytes int64) string {
	w := int64(width)
	var reasons []string
	ptrInfo := analysis.Info(op.Pointer())
	if ptrInfo.Contiguity%w != 0 {
		reasons = append(reasons, "contiguity")
	}
	if ptrInfo.Divisibility%(w*elemBytes) != 0 {
		reasons = append(reasons, "alignment")
	}
	if mask := op.Mask(); mask != nil && analysis.Info(mask).Constancy%w != 0 {
		reasons = append(reasons, "mask")
	}
	if other := op.Other(); other != nil && analysis.Info(other).Constancy%w != 0 {
		reasons = append(reasons, "other")
	}
	return strings.Join(reasons, "|")
}

// Pass returns the vectorization pass. It never fails.
func Pass() passes.Pass {
	return passes.New(PassName, run)
}

func run(ctx *passes.Context) error {
	analysis := Analyze(ctx.Func)
	for _, op := range ctx.Func.OpsOf(ir.OpLoad, ir.OpStore) {
		d := Decide(op, analysis, ctx.Target, ctx.Options)
		if klog.V(2).Enabled() {
			klog.Infof("%s: %s %s: pointer %s, width %d (start %d, rejected %v, skipped %q)",
				PassName, op.Code, op.Loc, analysis.Info(op.Pointer()), d.Width, d.Start, d.Rejected, d.Skipped)
		}
		if d.Failed() {
			ctx.Diag.Remark(diag.MsgVectorizationFails, op)
		}
		op.Annotate(AnnotationWidth, d.Width)
		if d.Skipped != "" {
			op.Annotate(AnnotationSkipped, d.Skipped)
		}
	}
	return nil
}
