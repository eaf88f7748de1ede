// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.
//
// Package cli implements the tpcbridge command-line interface using Cobra.
// It loads configuration, opens the configured backend and exposes the
// operator commands: check, migrate, smoke, prepared and resolve. The
// transaction logic itself lives in the internal packages; commands stay thin.
package cli
