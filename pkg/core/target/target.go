// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package target describes the hardware a kernel is compiled for: a backend kind and a capability
// tier, where higher tiers support a superset of the instruction encodings of lower tiers.
//
// Tiers are backend specific: for cuda they are the compute capability (80 for sm_80, 90 for sm_90),
// for hip the gfx number (908 for gfx908), and for cpu the SIMD level (see HostTier).
package target

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kind of backend.
type Kind int

const (
	KindInvalid Kind = iota
	KindCUDA
	KindHIP
	KindCPU
)

var kindNames = []string{"invalid", "cuda", "hip", "cpu"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
	return kindNames[k]
}

// ParseKind converts a backend name ("cuda", "hip" or "cpu") to its Kind.
func ParseKind(name string) (Kind, error) {
	for ii, kindName := range kindNames {
		if ii != int(KindInvalid) && kindName == strings.ToLower(name) {
			return Kind(ii), nil
		}
	}
	return KindInvalid, errors.Errorf("unknown backend kind %q, valid values are cuda, hip or cpu", name)
}

// DefaultWarpSize returns the number of lanes of a warp (wavefront for hip) of the backend kind. For cpu,
// a "warp" is a single thread.
func (k Kind) DefaultWarpSize() int {
	switch k {
	case KindCUDA:
		return 32
	case KindHIP:
		return 64
	}
	return 1
}

// Descriptor is an immutable description of the compilation target.
type Descriptor struct {
	Backend  Kind
	Tier     int
	WarpSize int
}

// New returns a Descriptor with the default warp size of the backend.
func New(backend Kind, tier int) Descriptor {
	return Descriptor{Backend: backend, Tier: tier, WarpSize: backend.DefaultWarpSize()}
}

// Ok returns whether the descriptor is valid.
func (d Descriptor) Ok() bool {
	return d.Backend != KindInvalid && d.Tier >= 0 && d.WarpSize > 0
}

// String renders the descriptor in the format accepted by Parse, e.g. "cuda:80". The warp size is
// only included if it is not the default for the backend.
func (d Descriptor) String() string {
	if d.WarpSize != d.Backend.DefaultWarpSize() {
		return fmt.Sprintf("%s:%d:%d", d.Backend, d.Tier, d.WarpSize)
	}
	return fmt.Sprintf("%s:%d", d.Backend, d.Tier)
}

// Parse a descriptor in the format "<backend>:<tier>[:<warp size>]", e.g. "cuda:80" or "hip:908:32".
func Parse(s string) (Descriptor, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Descriptor{}, errors.Errorf("invalid target %q, expected format is <backend>:<tier>[:<warp size>]", s)
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Descriptor{}, errors.WithMessagef(err, "invalid target %q", s)
	}
	tier, err := strconv.Atoi(parts[1])
	if err != nil || tier < 0 {
		return Descriptor{}, errors.Errorf("invalid target %q: tier must be a non-negative integer", s)
	}
	d := New(kind, tier)
	if len(parts) == 3 {
		d.WarpSize, err = strconv.Atoi(parts[2])
		if err != nil || d.WarpSize <= 0 {
			return Descriptor{}, errors.Errorf("invalid target %q: warp size must be a positive integer", s)
		}
	}
	return d, nil
}

// Provider of the current target, usually backed by the device driver.
type Provider interface {
	CurrentTarget() (Descriptor, error)
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func() (Descriptor, error)

// CurrentTarget implements Provider.
func (fn ProviderFunc) CurrentTarget() (Descriptor, error) { return fn() }

// Static returns a Provider that always returns d.
func Static(d Descriptor) Provider {
	return ProviderFunc(func() (Descriptor, error) {
		if !d.Ok() {
			return Descriptor{}, errors.Errorf("invalid static target %+v", d)
		}
		return d, nil
	})
}

// EnvVar is the environment variable read by FromEnv.
const EnvVar = "KERNELC_TARGET"

// FromEnv returns a Provider that parses the environment variable KERNELC_TARGET (see Parse) when
// asked for the current target. If the variable is not set, it returns the Host target.
func FromEnv() Provider {
	return ProviderFunc(func() (Descriptor, error) {
		value, found := os.LookupEnv(EnvVar)
		if !found || value == "" {
			klog.V(1).Infof("%s not set, using host target", EnvVar)
			return Host().CurrentTarget()
		}
		d, err := Parse(value)
		if err != nil {
			return Descriptor{}, errors.WithMessagef(err, "parsing $%s", EnvVar)
		}
		return d, nil
	})
}
