// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package isel selects the instruction encoding of dot operations.
//
// For each dot operation, the encodings of the target's Table are evaluated against the operation's
// shape and dtypes, the number of warps and the target's capability tier. The selected encoding is:
//
//  1. The one with the highest throughput among the legal ones.
//  2. Among those with the same throughput, the one requiring the fewest operand conversions, and
//     then the first in the table.
//  3. The generic decomposed multiply-accumulate (FMA) if no specialized encoding is legal.
//
// If an encoding ranked above the selected one was rejected only because of the target's tier, a
// remark "can't use <class> for the dot op" is emitted, naming the highest ranked of them. Selection
// never fails.
package isel

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/gomlx/kernelc/pkg/core/shapes"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PassName of the instruction selection pass.
const PassName = "accelerate-matmul"

// Annotations written on dot operations.
const (
	AnnotationEncoding    = "isel.encoding"
	AnnotationInstr       = "isel.instr"
	AnnotationInstrShape  = "isel.instr_shape"
	AnnotationConversions = "isel.conversions"
)

// Reason is a bit set of the reasons an encoding is rejected for a dot operation.
type Reason int

const (
	ReasonTier Reason = 1 << iota
	ReasonDType
	ReasonShape
	ReasonWarps
	ReasonPrecision
)

var reasonNames = []string{"tier", "dtype", "shape", "warps", "precision"}

// String lists the reasons separated by "|", or "ok" if there are none.
func (r Reason) String() string {
	if r == 0 {
		return "ok"
	}
	var parts []string
	for ii, name := range reasonNames {
		if r&(1<<ii) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// Dot describes a dot operation: [M, K] x [K, N] + [M, N].
type Dot struct {
	M, N, K   int
	DType     dtypes.DType
	AccDType  dtypes.DType
	Precision ir.InputPrecision
}

// DotOf extracts the description of a dot operation. defaultPrecision is used if the operation
// doesn't set its input precision.
func DotOf(op *ir.Operation, defaultPrecision ir.InputPrecision) Dot {
	a, b, acc := op.Operands[0].Type(), op.Operands[1].Type(), op.Operands[2].Type()
	d := Dot{
		M:         a.Dims()[0],
		K:         a.Dims()[1],
		N:         b.Dims()[1],
		DType:     a.DType(),
		AccDType:  acc.DType(),
		Precision: op.Attrs.(*ir.DotAttrs).InputPrecision,
	}
	if d.Precision == ir.PrecisionDefault {
		d.Precision = defaultPrecision
	}
	return d
}

// Check returns the reasons enc can't encode dot for the target and number of warps, and the number
// of conversions it requires if it is accepted.
func Check(enc *Encoding, dot Dot, tgt target.Descriptor, numWarps int) (reasons Reason, conversions int) {
	if tgt.Tier < enc.MinTier {
		reasons |= ReasonTier
	}
	conversions, accepted := enc.Operands[dot.DType]
	if !accepted || !enc.AccDTypes.Has(dot.AccDType) {
		reasons |= ReasonDType
	}
	k := enc.Issued(dot.DType).K
	if dot.M%enc.InstrShape.M != 0 || dot.N%enc.InstrShape.N != 0 || k <= 0 || dot.K%k != 0 {
		reasons |= ReasonShape
	}
	if enc.WarpMultiple > 1 && numWarps%enc.WarpMultiple != 0 {
		reasons |= ReasonWarps
	}
	if enc.TF32 && dot.DType == dtypes.Float32 && dot.Precision != ir.PrecisionTF32 {
		reasons |= ReasonPrecision
	}
	return
}

// Selection is the result of Select.
type Selection struct {
	Encoding    *Encoding
	Conversions int

	// Blocked is the highest ranked encoding, above the selected one, that was rejected only because
	// of the target tier. It is nil if there is none.
	Blocked *Encoding

	// Rejected holds the reasons of every rejected encoding, in table order.
	Rejected []Rejection
}

// Rejection of an encoding.
type Rejection struct {
	Encoding *Encoding
	Reasons  Reason
}

// candidate is an encoding with its rank keys.
type candidate struct {
	enc         *Encoding
	conversions int
	index       int
}

// better returns whether c is preferred over other.
func (c candidate) better(other candidate) bool {
	if c.enc.Throughput != other.enc.Throughput {
		return c.enc.Throughput > other.enc.Throughput
	}
	if c.conversions != other.conversions {
		return c.conversions < other.conversions
	}
	return c.index < other.index
}

// Select the encoding of dot from the table. If the table has no legal encoding, not even a generic
// one, the returned Selection has a nil Encoding.
func Select(table Table, dot Dot, tgt target.Descriptor, numWarps int) Selection {
	var (
		sel            Selection
		best, blocked  candidate
		found, anyTier bool
	)
	var tierOnly []candidate
	for ii, enc := range table {
		if enc.Generic {
			continue
		}
		c := candidate{enc: enc, index: ii}
		var reasons Reason
		reasons, c.conversions = Check(enc, dot, tgt, numWarps)
		if reasons != 0 {
			sel.Rejected = append(sel.Rejected, Rejection{Encoding: enc, Reasons: reasons})
			if reasons == ReasonTier {
				tierOnly = append(tierOnly, c)
			}
			continue
		}
		if !found || c.better(best) {
			best, found = c, true
		}
	}
	if !found {
		// The generic encoding is always legal: conversions are still counted for the operand dtype.
		generic := table.Generic()
		if generic == nil {
			return sel
		}
		best = candidate{enc: generic, conversions: generic.Operands[dot.DType], index: len(table)}
	}
	sel.Encoding, sel.Conversions = best.enc, best.conversions
	for _, c := range tierOnly {
		if c.better(best) && (!anyTier || c.better(blocked)) {
			blocked, anyTier = c, true
		}
	}
	if anyTier {
		sel.Blocked = blocked.enc
	}
	return sel
}

// Pass returns the instruction selection pass: it annotates every dot operation with the selected
// encoding, and emits a remark when a better encoding is blocked only by the target tier.
func Pass() passes.Pass {
	return passes.New(PassName, run)
}

func run(ctx *passes.Context) error {
	table := TableFor(ctx.Target.Backend)
	if table == nil {
		return errors.Errorf("no instruction table for backend %q", ctx.Target.Backend)
	}
	for _, op := range ctx.Func.OpsOf(ir.OpDot) {
		dot := DotOf(op, ctx.Options.InputPrecision)
		sel := Select(table, dot, ctx.Target, ctx.Options.NumWarps)
		if sel.Encoding == nil {
			return errors.Errorf("no legal encoding for %s on %s", op, ctx.Target)
		}
		if klog.V(2).Enabled() {
			for _, rejection := range sel.Rejected {
				klog.Infof("%s: %q rejected for %s: %s", PassName, rejection.Encoding.Class, op.Result(), rejection.Reasons)
			}
		}
		if sel.Blocked != nil {
			ctx.Diag.Remark(diag.MsgCantUseEncoding(sel.Blocked.Class), op)
		}
		Annotate(op, dot, sel)
	}
	return nil
}

// Annotate writes the selection on the dot operation.
func Annotate(op *ir.Operation, dot Dot, sel Selection) {
	enc := sel.Encoding
	operandName := shapes.DTypeName(dot.DType)
	if enc.TF32 && dot.DType == dtypes.Float32 {
		operandName = "tf32"
	}
	shape := enc.Issued(dot.DType)
	op.Annotate(AnnotationEncoding, enc.Class)
	op.Annotate(AnnotationInstr, enc.Mnemonic(shape, operandName, shapes.DTypeName(dot.AccDType)))
	op.Annotate(AnnotationInstrShape, shape.String())
	op.Annotate(AnnotationConversions, sel.Conversions)
}
