// Package main is the entry point for the lognexus admin CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/lognexus/cmd/lognexusctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
