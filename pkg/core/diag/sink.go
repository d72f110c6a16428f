// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package diag

import (
	"io"
	"os"
	"sync"
)

// Sink is an io.Writer shared by concurrent engines: each Write is done under a lock, so records
// are never interleaved.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSink wraps w.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Stderr is the process-wide sink of diagnostics.
var Stderr = NewSink(os.Stderr)

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
