// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/kernelc/backends/isel"
	"github.com/gomlx/kernelc/pkg/compiler"
	"github.com/gomlx/kernelc/pkg/core/target"
	"github.com/gomlx/kernelc/pkg/support/xslices"
)

// Columns of the summary table.
const (
	colKernel = iota
	colTarget
	colEncodings
	colWidths
	colSharedMemory
	colInstructions
	colRemarks
	numColumns
)

var summaryHeaders = [numColumns]string{
	colKernel:       "Kernel",
	colTarget:       "Target",
	colEncodings:    "Dot encodings",
	colWidths:       "Vector widths",
	colSharedMemory: "Shared memory",
	colInstructions: "Instructions",
	colRemarks:      "Remarks",
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	headerStyle = lipgloss.NewStyle().Bold(true).Reverse(true).Padding(0, 1).Align(lipgloss.Center)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)

	// remarkStyle marks kernels that emitted remarks.
	remarkStyle = numberStyle.Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"})
	// fallbackStyle marks dots lowered to the generic multiply-accumulate.
	fallbackStyle = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "3", Dark: "11"})
	// scalarStyle marks kernels where no memory access was vectorized.
	scalarStyle = cellStyle.Faint(true)
)

// summaryRow is one compiled kernel of the summary, with the number of diagnostics it emitted.
type summaryRow struct {
	artifact *compiler.Artifact
	remarks  int64
}

func (r summaryRow) cells() []string {
	a := r.artifact
	cells := make([]string, numColumns)
	cells[colKernel] = a.Kernel
	cells[colTarget] = a.Target
	cells[colEncodings] = strings.Join(xslices.Map(a.Metadata.Dots, func(dot compiler.DotMetadata) string { return dot.Encoding }), ", ")
	cells[colWidths] = strings.Join(xslices.Map(a.MemoryWidths(), strconv.Itoa), ", ")
	cells[colSharedMemory] = humanize.IBytes(uint64(a.Metadata.SharedMemory))
	cells[colInstructions] = humanize.Comma(int64(strings.Count(a.Listing, "\n") - 1))
	cells[colRemarks] = humanize.Comma(r.remarks)
	return cells
}

// usesFallback returns whether any dot of the kernel was lowered with the generic encoding of its target.
func (r summaryRow) usesFallback() bool {
	tgt, err := target.Parse(r.artifact.Target)
	if err != nil {
		return false
	}
	generic := isel.TableFor(tgt.Backend).Generic()
	return generic != nil && slices.ContainsFunc(r.artifact.Metadata.Dots, func(dot compiler.DotMetadata) bool {
		return dot.Encoding == generic.Class
	})
}

// scalarOnly returns whether the kernel has memory accesses and none of them was vectorized.
func (r summaryRow) scalarOnly() bool {
	widths := r.artifact.MemoryWidths()
	return len(widths) > 0 && !slices.ContainsFunc(widths, func(w int) bool { return w > 1 })
}

// style of the cell in the given column: the decisions that deserve attention are highlighted per column.
func (r summaryRow) style(col int) lipgloss.Style {
	switch col {
	case colRemarks:
		if r.remarks > 0 {
			return remarkStyle
		}
		return numberStyle
	case colSharedMemory, colInstructions:
		return numberStyle
	case colEncodings:
		if r.usesFallback() {
			return fallbackStyle
		}
	case colWidths:
		if r.scalarOnly() {
			return scalarStyle
		}
	}
	return cellStyle
}

// renderSummary renders one row per compiled kernel.
func renderSummary(rows []summaryRow) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers(summaryHeaders[:]...)
	for _, row := range rows {
		table.Row(row.cells()...)
	}
	table.StyleFunc(func(row, col int) lipgloss.Style {
		if row == lgtable.HeaderRow || row >= len(rows) {
			return headerStyle
		}
		return rows[row].style(col)
	})
	return table.Render()
}
