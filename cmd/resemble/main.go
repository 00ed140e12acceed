// Package main is the entry point for the Resemble service and CLI.
package main

import (
	"fmt"
	"os"
)

// Version information, set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
