// Copyright (c) 2026 Keymaster Team
// tpcbridge - two-phase commit bridge for SQL sessions
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for tpcbridge.
//
// Usage:
//
//	go run . [command] [flags]
//	./tpcbridge check --database.type postgres --database.dsn "$DSN"
//
// See --help for the available commands.
package main

import (
	"os"

	log "github.com/charmbracelet/log"
	"github.com/toeirei/tpcbridge/ui/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
