package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	args := os.Args[1:]
	seed := int64(1)

	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		case "--version", "-v":
			fmt.Printf("heapexplorer %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built: %s\n", date)
			os.Exit(0)
		}
	}

	p := tea.NewProgram(newModel(seed), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`heapexplorer - watch the heapkit allocator work

Steps a randomized alloc/free/realloc workload against a private heap
and draws the result: live allocations, free pool spans, and the trail
of bookkeeper operations.

Usage:
  heapexplorer [--help] [--version]

Keys:
  space/n   perform one operation
  a         toggle auto-stepping
  r         reset the heap
  q         quit`)
}
