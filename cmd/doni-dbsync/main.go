// Package main provides doni-dbsync, the administrative CLI for the doni
// registry database: schema migrations and API token management.
package main

import (
	"os"

	"github.com/chameleoncloud/doni/cmd/doni-dbsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
