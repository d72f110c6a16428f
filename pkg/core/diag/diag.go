// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package diag implements the diagnostic engine of the compiler: remarks about missed optimizations
// (and other severities), attributed to an IR operation and gated by a Toggle.
//
// Records are rendered to a Sink, usually Stderr, in the format:
//
//	remark: Warning: <message>
//	note: see current operation: <operation textual form>
//
// Each record (including its note line) is written with one single Write under the Sink's lock,
// so concurrent compilations never split a remark from its note.
package diag

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// Severity of a diagnostic record.
type Severity int

const (
	SeverityRemark Severity = iota
	SeverityNote
	SeverityWarning
	SeverityError
)

var severityNames = []string{"remark", "note", "warning", "error"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "Severity(" + strconv.Itoa(int(s)) + ")"
	}
	return severityNames[s]
}

// NotePrefix starts the line quoting the operation a record is attributed to.
const NotePrefix = "note: see current operation: "

// Record is one diagnostic. It is transient: rendered to the sink as soon as it is emitted.
type Record struct {
	Severity Severity
	Message  string

	// Op is the operation the record is attributed to, if any.
	Op fmt.Stringer

	// Seq is the position of the record in the Engine's emission order, starting at 1.
	Seq uint64

	// Pass that emitted the record, empty if emitted outside a pass.
	Pass string
}

// AppendText renders the record in the error stream format.
func (r *Record) AppendText(buf []byte) []byte {
	switch r.Severity {
	case SeverityRemark:
		buf = append(buf, "remark: Warning: "...)
	default:
		buf = append(buf, r.Severity.String()...)
		buf = append(buf, ": "...)
	}
	buf = append(buf, r.Message...)
	buf = append(buf, '\n')
	if r.Op != nil {
		buf = append(buf, NotePrefix...)
		buf = append(buf, r.Op.String()...)
		buf = append(buf, '\n')
	}
	return buf
}

// String implements fmt.Stringer, with the same text written to the sink.
func (r *Record) String() string {
	return string(r.AppendText(nil))
}

// Engine emits diagnostic records to a Sink, if its Toggle is enabled at the time of the emission.
//
// It is safe for concurrent use.
type Engine struct {
	toggle Toggle
	sink   *Sink
	seq    atomic.Uint64
}

// NewEngine creates an Engine. If toggle is nil, it defaults to EnvToggle(DefaultToggleEnv), and if
// sink is nil it defaults to Stderr.
func NewEngine(toggle Toggle, sink *Sink) *Engine {
	if toggle == nil {
		toggle = EnvToggle(DefaultToggleEnv)
	}
	if sink == nil {
		sink = Stderr
	}
	return &Engine{toggle: toggle, sink: sink}
}

// Toggle used by the Engine.
func (e *Engine) Toggle() Toggle { return e.toggle }

// Emitted returns the number of records written so far.
func (e *Engine) Emitted() uint64 { return e.seq.Load() }

// Emit renders a record to the sink, if the toggle is enabled. op is optional (it can be nil).
//
// If disabled, it is a no-op: nothing is written, buffered or logged.
func (e *Engine) Emit(severity Severity, message string, op fmt.Stringer) {
	e.emit("", severity, message, op)
}

// Remark emits a record of SeverityRemark.
func (e *Engine) Remark(message string, op fmt.Stringer) {
	e.emit("", SeverityRemark, message, op)
}

func (e *Engine) emit(pass string, severity Severity, message string, op fmt.Stringer) {
	if !e.toggle.Enabled() {
		return
	}
	r := &Record{
		Severity: severity,
		Message:  message,
		Op:       op,
		Pass:     pass,
		Seq:      e.seq.Add(1),
	}
	if klog.V(2).Enabled() {
		klog.Infof("diag #%d (pass %q) %s: %s", r.Seq, r.Pass, r.Severity, r.Message)
	}
	if _, err := e.sink.Write(r.AppendText(make([]byte, 0, 256))); err != nil {
		klog.Warningf("failed to write diagnostic #%d: %v", r.Seq, err)
	}
}

// Scope returns an Emitter that tags its records with the name of the pass emitting them.
func (e *Engine) Scope(pass string) *Emitter {
	return &Emitter{engine: e, pass: pass}
}

// Emitter is an Engine scoped to one pass. See Engine.Scope.
type Emitter struct {
	engine *Engine
	pass   string
}

// Pass name the emitter is scoped to.
func (s *Emitter) Pass() string { return s.pass }

// Emit is like Engine.Emit, tagging the record with the pass name.
func (s *Emitter) Emit(severity Severity, message string, op fmt.Stringer) {
	s.engine.emit(s.pass, severity, message, op)
}

// Remark is like Engine.Remark, tagging the record with the pass name.
func (s *Emitter) Remark(message string, op fmt.Stringer) {
	s.engine.emit(s.pass, SeverityRemark, message, op)
}
