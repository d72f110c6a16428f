// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package target

import (
	"golang.org/x/sys/cpu"
)

// CPU tiers.
const (
	CPUTierScalar     = 0
	CPUTierSIMD       = 1 // AVX2+FMA or NEON.
	CPUTierAVX512     = 2 // AVX512 or SVE.
	CPUTierAVX512BF16 = 3 // AVX512 with bfloat16 dot products.
)

// HostTier returns the SIMD capability tier of the machine running the compiler.
func HostTier() int {
	switch {
	case cpu.X86.HasAVX512 && cpu.X86.HasAVX512BF16:
		return CPUTierAVX512BF16
	case cpu.X86.HasAVX512, cpu.ARM64.HasSVE:
		return CPUTierAVX512
	case cpu.X86.HasAVX && cpu.X86.HasFMA, cpu.ARM64.HasASIMD:
		return CPUTierSIMD
	}
	return CPUTierScalar
}

// Host returns a Provider of the cpu target of the machine running the compiler.
func Host() Provider {
	return ProviderFunc(func() (Descriptor, error) {
		return New(KindCPU, HostTier()), nil
	})
}
