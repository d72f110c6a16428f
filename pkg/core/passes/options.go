// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/pkg/errors"
)

// Options that configure the passes of a compilation.
type Options struct {
	// NumWarps is the number of warps executing one program instance.
	NumWarps int

	// NumStages of software pipelining of loads feeding dot operations.
	NumStages int

	// NumCTAs per cluster.
	NumCTAs int

	// MaxVectorBits is the widest memory access, in bits, the vectorizer may produce.
	MaxVectorBits int

	// InputPrecision of float32 dot operations that don't set it explicitly.
	InputPrecision ir.InputPrecision

	// DumpIR logs the IR after each pass, at klog verbosity level 3.
	DumpIR bool
}

// DefaultOptions returns the default pass options.
func DefaultOptions() Options {
	return Options{
		NumWarps:       4,
		NumStages:      3,
		NumCTAs:        1,
		MaxVectorBits:  128,
		InputPrecision: ir.PrecisionTF32,
	}
}

// WithDefaults returns a copy of the options with the zero fields taken from DefaultOptions.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.NumWarps == 0 {
		o.NumWarps = defaults.NumWarps
	}
	if o.NumStages == 0 {
		o.NumStages = defaults.NumStages
	}
	if o.NumCTAs == 0 {
		o.NumCTAs = defaults.NumCTAs
	}
	if o.MaxVectorBits == 0 {
		o.MaxVectorBits = defaults.MaxVectorBits
	}
	if o.InputPrecision == ir.PrecisionDefault {
		o.InputPrecision = defaults.InputPrecision
	}
	return o
}

// Validate returns an error if any of the options is out of range.
func (o Options) Validate() error {
	switch {
	case o.NumWarps <= 0:
		return errors.Errorf("num_warps must be positive, got %d", o.NumWarps)
	case o.NumStages <= 0:
		return errors.Errorf("num_stages must be positive, got %d", o.NumStages)
	case o.NumCTAs <= 0:
		return errors.Errorf("num_ctas must be positive, got %d", o.NumCTAs)
	case o.MaxVectorBits <= 0 || o.MaxVectorBits&(o.MaxVectorBits-1) != 0:
		return errors.Errorf("max_vector_bits must be a positive power of 2, got %d", o.MaxVectorBits)
	case o.InputPrecision != ir.PrecisionTF32 && o.InputPrecision != ir.PrecisionIEEE:
		return errors.Errorf("invalid input precision %s", o.InputPrecision)
	}
	return nil
}
