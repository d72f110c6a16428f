// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package compiler

import (
	"math"

	"github.com/BurntSushi/toml"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/ir"
	"github.com/gomlx/kernelc/pkg/core/passes"
	"github.com/gomlx/kernelc/pkg/support/fsutil"
	"github.com/gomlx/kernelc/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Options of one compilation.
type Options struct {
	passes.Options

	// Remarks gates the emission of diagnostics. If nil, the environment variable
	// KERNELC_ENABLE_REMARK is read at each emission.
	Remarks diag.Toggle
}

// DefaultOptions returns the default compilation options.
func DefaultOptions() Options {
	return Options{Options: passes.DefaultOptions()}
}

// Option keys accepted by ParseOptions and in options files.
const (
	KeyNumWarps       = "num_warps"
	KeyNumStages      = "num_stages"
	KeyNumCTAs        = "num_ctas"
	KeyMaxVectorBits  = "max_vector_bits"
	KeyInputPrecision = "input_precision"
	KeyEnableRemarks  = "enable_remarks"
	KeyDumpIR         = "dump_ir"
)

// ParseOptions converts a configuration map, as given by the frontend or read from an options file,
// to Options. Missing keys keep their default values, unknown keys and values of the wrong type are
// errors.
func ParseOptions(config map[string]any) (Options, error) {
	options := DefaultOptions()
	for _, key := range xslices.SortedKeys(config) {
		value := config[key]
		var err error
		switch key {
		case KeyNumWarps:
			options.NumWarps, err = positiveInt(value)
		case KeyNumStages:
			options.NumStages, err = positiveInt(value)
		case KeyNumCTAs:
			options.NumCTAs, err = positiveInt(value)
		case KeyMaxVectorBits:
			options.MaxVectorBits, err = positiveInt(value)
			if err == nil && options.MaxVectorBits&(options.MaxVectorBits-1) != 0 {
				err = errors.Errorf("must be a power of 2, got %d", options.MaxVectorBits)
			}
		case KeyInputPrecision:
			name, ok := value.(string)
			if !ok {
				err = errors.Errorf("must be a string, got %T", value)
				break
			}
			options.InputPrecision, err = ir.ParseInputPrecision(name)
		case KeyEnableRemarks:
			on, ok := value.(bool)
			if !ok {
				err = errors.Errorf("must be a bool, got %T", value)
				break
			}
			options.Remarks = diag.Fixed(on)
		case KeyDumpIR:
			var ok bool
			options.DumpIR, ok = value.(bool)
			if !ok {
				err = errors.Errorf("must be a bool, got %T", value)
			}
		default:
			err = errors.New("unknown option")
		}
		if err != nil {
			return Options{}, errors.WithMessagef(err, "option %q", key)
		}
	}
	return options, nil
}

// positiveInt accepts the integer types produced by Go code and by the TOML and YAML decoders.
func positiveInt(value any) (int, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("must be an integer, got %g", v)
		}
		n = int64(v)
	default:
		return 0, errors.Errorf("must be an integer, got %T", value)
	}
	if n <= 0 || n > math.MaxInt32 {
		return 0, errors.Errorf("must be a positive integer, got %d", n)
	}
	return int(n), nil
}

// ReadOptionsFile reads the configuration map of a TOML options file, without validating it.
// A leading "~" in path is replaced by the home directory.
func ReadOptionsFile(path string) (map[string]any, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	config := make(map[string]any)
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, errors.Wrapf(err, "reading options file %q", path)
	}
	return config, nil
}

// LoadOptionsFile reads options from a TOML file with the keys accepted by ParseOptions, e.g.:
//
//	num_warps = 8
//	input_precision = "ieee"
//	enable_remarks = true
func LoadOptionsFile(path string) (Options, error) {
	config, err := ReadOptionsFile(path)
	if err != nil {
		return Options{}, err
	}
	options, err := ParseOptions(config)
	if err != nil {
		return Options{}, errors.WithMessagef(err, "options file %q", path)
	}
	return options, nil
}
