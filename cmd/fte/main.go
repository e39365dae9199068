// Package main provides the entry point for the fte CLI.
package main

import (
	"fmt"
	"os"

	"github.com/assadsharif/fte/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
