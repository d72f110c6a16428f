// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package diag

import "fmt"

// MsgCantUseEncoding reports that the matrix-multiply encoding class couldn't be used for a dot operation,
// e.g. "can't use MMA V3 for the dot op".
func MsgCantUseEncoding(class string) string {
	return fmt.Sprintf("can't use %s for the dot op", class)
}

// MsgVectorizationFails reports a load or store that is left with scalar width.
const MsgVectorizationFails = "vectorization fails"

