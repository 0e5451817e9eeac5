// Package main is the entry point for the firectl admin tool.
package main

import (
	"os"

	"github.com/firealarmweb/firealarm/cmd/firectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
