// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// kernelc compiles the reference kernels for a target, and prints the remarks emitted and a summary of
// the decisions of the backend.
//
// Usage:
//
//	kernelc -target=cuda:80 -remarks matmul_kernel ldst_vec
//
// Without kernel names all reference kernels are compiled.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/kernelc/pkg/compiler"
	"github.com/gomlx/kernelc/pkg/core/diag"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/gomlx/kernelc/pkg/kernels"
	"github.com/gomlx/kernelc/pkg/support/fsutil"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagTarget = flag.String("target", "",
		fmt.Sprintf("Target to compile for, in the format <backend>:<tier>[:<warp size>], e.g. \"cuda:80\". "+
			"If empty, it is read from $%s, and if that is not set the host cpu is used.", target.EnvVar))
	flagOptions = flag.String("options", "", "TOML file with compilation options, e.g. num_warps = 8.")
	flagRemarks = flag.Bool("remarks", false,
		fmt.Sprintf("Print remarks to stderr. If false, remarks are printed only if $%s=1.", diag.DefaultToggleEnv))
	flagNumWarps    = flag.Int("num_warps", 0, "If > 0, overrides the number of warps of all kernels.")
	flagParallelism = flag.Int("parallelism", 0, "Maximum number of concurrent compilations. 0 means no limit.")
	flagListing     = flag.Bool("listing", false, "Print the instruction listing of each kernel.")
	flagIR          = flag.Bool("ir", false, "Print the final IR of each kernel.")
	flagMetadata    = flag.Bool("metadata", false, "Print the metadata of each kernel in YAML.")
	flagOutput      = flag.String("output", "", "If set, directory where to save the artifacts, one <kernel>.kc file each.")
	flagColor       = flag.Bool("color", true, "Use colors in the summary table, if the terminal supports it.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	names := flag.Args()
	if len(names) == 0 {
		names = kernels.Names()
	}
	for _, name := range names {
		if _, found := kernels.Examples[name]; !found {
			klog.Errorf("Unknown kernel %q, valid kernels are %q", name, kernels.Names())
			os.Exit(1)
		}
	}

	output := termenv.NewOutput(os.Stdout)
	if *flagColor {
		lipgloss.SetColorProfile(output.ColorProfile())
	} else {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	if err := run(names); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run(names []string) error {
	provider := target.FromEnv()
	if *flagTarget != "" {
		tgt, err := target.Parse(*flagTarget)
		if err != nil {
			return err
		}
		provider = target.Static(tgt)
	}
	c := compiler.New(provider, diag.Stderr)

	overrides, err := optionOverrides()
	if err != nil {
		return err
	}
	// Each job counts its remarks with its own toggle.
	jobs := make([]compiler.Job, len(names))
	counters := make([]*countingToggle, len(names))
	for ii, name := range names {
		jobs[ii], err = kernels.Examples[name].Job(overrides)
		if err != nil {
			return err
		}
		toggle := jobs[ii].Options.Remarks
		if *flagRemarks {
			toggle = diag.Enabled
		} else if toggle == nil {
			toggle = diag.EnvToggle(diag.DefaultToggleEnv)
		}
		counters[ii] = &countingToggle{Toggle: toggle}
		jobs[ii].Options.Remarks = counters[ii]
	}

	start := time.Now()
	artifacts, err := c.CompileAll(context.Background(), jobs, *flagParallelism)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	for _, artifact := range artifacts {
		if *flagIR {
			fmt.Println(titleStyle.Render("IR: " + artifact.Kernel))
			fmt.Print(artifact.IR)
		}
		if *flagListing {
			fmt.Println(titleStyle.Render("Listing: " + artifact.Kernel))
			fmt.Print(artifact.Listing)
		}
		if *flagMetadata {
			fmt.Println(titleStyle.Render("Metadata: " + artifact.Kernel))
			fmt.Print(string(must.M1(artifact.MetadataYAML())))
		}
		if *flagOutput != "" {
			if err := save(artifact); err != nil {
				return err
			}
		}
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("Compiled %d kernels in %s", len(artifacts), elapsed.Round(time.Microsecond))))
	rows := make([]summaryRow, len(artifacts))
	for ii, artifact := range artifacts {
		rows[ii] = summaryRow{artifact: artifact, remarks: counters[ii].Triggered()}
	}
	fmt.Println(renderSummary(rows))
	return nil
}

// optionOverrides reads the options file and the command line flags that override the default options
// of the kernels. They are validated when the jobs are created.
func optionOverrides() (map[string]any, error) {
	overrides := make(map[string]any)
	if *flagOptions != "" {
		var err error
		overrides, err = compiler.ReadOptionsFile(*flagOptions)
		if err != nil {
			return nil, err
		}
	}
	if *flagNumWarps > 0 {
		overrides[compiler.KeyNumWarps] = *flagNumWarps
	}
	return overrides, nil
}

// save writes the encoded artifact to the output directory.
func save(artifact *compiler.Artifact) error {
	dir, err := fsutil.ExpandHome(*flagOutput)
	if err != nil {
		return err
	}
	exists, err := fsutil.FileExists(dir)
	if err != nil {
		return err
	}
	if !exists {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating output directory %q", dir)
		}
	}
	data, err := artifact.Encode()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, artifact.Kernel+".kc")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "saving artifact of kernel %q", artifact.Kernel)
	}
	klog.V(1).Infof("saved %s (%s)", path, humanize.Bytes(uint64(len(data))))
	return nil
}

// countingToggle counts how many times diagnostics were emitted, whether enabled or not.
type countingToggle struct {
	diag.Toggle
	count atomic.Int64
}

// Enabled implements diag.Toggle.
func (t *countingToggle) Enabled() bool {
	t.count.Add(1)
	return t.Toggle.Enabled()
}

// Triggered returns the number of diagnostics emitted.
func (t *countingToggle) Triggered() int64 { return t.count.Load() }
