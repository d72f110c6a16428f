// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"github.com/gomlx/kernelc/pkg/compiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArtifact(tgt string, encodings []string, widths ...int) *compiler.Artifact {
	a := &compiler.Artifact{Kernel: "k", Target: tgt, Listing: ".kernel k\n  a\n  b\n"}
	for _, enc := range encodings {
		a.Metadata.Dots = append(a.Metadata.Dots, compiler.DotMetadata{Encoding: enc})
	}
	for _, w := range widths {
		a.Metadata.Memory = append(a.Metadata.Memory, compiler.MemoryMetadata{Width: w})
	}
	a.Metadata.SharedMemory = 2048
	return a
}

func TestSummaryRow(t *testing.T) {
	row := summaryRow{artifact: newArtifact("cuda:80", []string{"MMA V2"}, 1, 1, 8), remarks: 1234}
	cells := row.cells()
	require.Len(t, cells, numColumns)
	assert.Equal(t, "MMA V2", cells[colEncodings])
	assert.Equal(t, "1, 1, 8", cells[colWidths])
	assert.Equal(t, "2.0 KiB", cells[colSharedMemory])
	assert.Equal(t, "2", cells[colInstructions])
	assert.Equal(t, "1,234", cells[colRemarks])
	assert.False(t, row.usesFallback())
	assert.False(t, row.scalarOnly())
	assert.Equal(t, remarkStyle, row.style(colRemarks))
	assert.Equal(t, cellStyle, row.style(colEncodings))

	row = summaryRow{artifact: newArtifact("cuda:70", []string{"FMA"}, 1, 1)}
	assert.True(t, row.usesFallback())
	assert.True(t, row.scalarOnly())
	assert.Equal(t, fallbackStyle, row.style(colEncodings))
	assert.Equal(t, scalarStyle, row.style(colWidths))
	assert.Equal(t, numberStyle, row.style(colRemarks))

	// Kernels without memory accesses are not reported as scalar.
	row = summaryRow{artifact: newArtifact("cpu:1", nil)}
	assert.False(t, row.scalarOnly())
	assert.False(t, row.usesFallback())
}

func TestRenderSummary(t *testing.T) {
	text := renderSummary([]summaryRow{
		{artifact: newArtifact("cuda:80", []string{"MMA V2"}, 4, 4)},
		{artifact: newArtifact("hip:906", []string{"FMA"}, 1), remarks: 1},
	})
	for _, header := range summaryHeaders {
		assert.Contains(t, text, header)
	}
	assert.Contains(t, text, "MMA V2")
	assert.Contains(t, text, "hip:906")
}
