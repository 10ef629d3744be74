// Package main provides the entry point for spear.
// spear is a functional RV32 instruction set simulator with sandboxed
// WebAssembly device plugins.
//
// For the full CLI, use: go run ./cmd/spear
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("spear - RV32 instruction set simulator")
	fmt.Println("")
	fmt.Println("Usage: spear [options] <program.elf>")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config     Path to machine configuration JSON file")
	fmt.Println("  -max-steps  Stop after this many instructions")
	fmt.Println("  -trace      Log every executed instruction")
	fmt.Println("  -v          Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/spear' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/spear' instead.")
	}
}
