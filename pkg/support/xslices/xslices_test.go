// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapAndKeys(t *testing.T) {
	require.Equal(t, []string{"1", "2", "3"}, Map([]int{1, 2, 3}, strconv.Itoa))
	require.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 0, "a": 1, "b": 2}))
	require.Equal(t, 3, Last([]int{1, 2, 3}))
	require.Equal(t, 24, Product([]int{2, 3, 4}))
	require.Equal(t, 1, Product[int](nil))
}
