// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package diag

import (
	"os"
	"sync/atomic"
)

// Toggle decides whether diagnostics are emitted. It is read at every emission, so changes take
// effect for the following emissions.
type Toggle interface {
	Enabled() bool
}

// DefaultToggleEnv is the environment variable that enables remarks, when set to "1".
const DefaultToggleEnv = "KERNELC_ENABLE_REMARK"

// EnvToggle reads the environment variable with the given name at every call: "1" enables
// diagnostics, anything else (including unset) disables them.
type EnvToggle string

// Enabled implements Toggle.
func (name EnvToggle) Enabled() bool {
	return os.Getenv(string(name)) == "1"
}

// Fixed is a Toggle that never changes.
type Fixed bool

const (
	Enabled  Fixed = true
	Disabled Fixed = false
)

// Enabled implements Toggle.
func (f Fixed) Enabled() bool { return bool(f) }

// Switch is a Toggle that can be flipped concurrently with emissions.
type Switch struct {
	on atomic.Bool
}

// NewSwitch returns a Switch in the given state.
func NewSwitch(on bool) *Switch {
	s := &Switch{}
	s.on.Store(on)
	return s
}

// Set the state of the switch.
func (s *Switch) Set(on bool) { s.on.Store(on) }

// Enabled implements Toggle.
func (s *Switch) Enabled() bool { return s.on.Load() }
