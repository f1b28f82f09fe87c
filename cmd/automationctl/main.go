package main

import (
	"fmt"
	"os"

	"github.com/onstaq/automation-engine/internal/automationctl"
)

func main() {
	if err := automationctl.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
