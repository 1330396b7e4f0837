// Package main provides the entry point for the stoma CLI.
package main

import (
	"os"

	"github.com/pym-cms/stoma/cmd/stoma/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
