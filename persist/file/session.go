// Copyright (c) 2025 Joshua Skootsky
//
// Licensed under the Business Source License 1.1
// You may use this file only in compliance with one of:
// 1. BSL-1.1 (non-production use is free)
// 2. Commercial License (contact for pricing)
//
// After 4 years (2029-01-01), this becomes Apache-2.0

package file

import "github.com/google/uuid"

// SessionLabel formats id the same way the TCP collaborator tags its
// connection logs, so a .btlm file and the stream that may have fed it
// can be correlated in a log aggregator by session id alone.
func SessionLabel(id uuid.UUID) string {
	return id.String()
}
