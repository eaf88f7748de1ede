// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"time"

	"github.com/uptrace/bun"
)

// ProbeRow maps the tpcbridge_probe table created by the embedded
// migrations. The smoke command writes and removes rows through a full
// two-phase commit to exercise a configured backend end to end.
type ProbeRow struct {
	bun.BaseModel `bun:"table:tpcbridge_probe"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Note          string    `bun:"note"`
	CreatedAt     time.Time `bun:"created_at"`
}
