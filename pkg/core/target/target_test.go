// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse("cuda:80")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Backend: KindCUDA, Tier: 80, WarpSize: 32}, d)
	assert.Equal(t, "cuda:80", d.String())

	d, err = Parse("HIP:908:32")
	require.NoError(t, err)
	assert.Equal(t, Descriptor{Backend: KindHIP, Tier: 908, WarpSize: 32}, d)
	assert.Equal(t, "hip:908:32", d.String())

	for _, invalid := range []string{"", "cuda", "tpu:3", "cuda:x", "cuda:-1", "cuda:80:0", "cuda:80:32:1"} {
		_, err = Parse(invalid)
		assert.Error(t, err, "target %q", invalid)
	}
}

func TestProviders(t *testing.T) {
	want := New(KindCUDA, 90)
	got, err := Static(want).CurrentTarget()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Static(Descriptor{}).CurrentTarget()
	require.Error(t, err)

	t.Setenv(EnvVar, "hip:908")
	got, err = FromEnv().CurrentTarget()
	require.NoError(t, err)
	assert.Equal(t, New(KindHIP, 908), got)

	t.Setenv(EnvVar, "cuda")
	_, err = FromEnv().CurrentTarget()
	require.Error(t, err)

	t.Setenv(EnvVar, "")
	got, err = FromEnv().CurrentTarget()
	require.NoError(t, err)
	assert.Equal(t, KindCPU, got.Backend)
	assert.Equal(t, HostTier(), got.Tier)
	assert.Equal(t, 1, got.WarpSize)
}
