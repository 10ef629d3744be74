// Package main provides the entry point for spear, a functional RV32
// instruction set simulator with sandboxed WebAssembly device plugins.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/davecgh/go-spew/spew"

	"github.com/spear-sim/spear/config"
	"github.com/spear-sim/spear/emu"
	"github.com/spear-sim/spear/loader"
)

var (
	configPath = flag.String("config", "", "Path to machine configuration JSON file")
	maxSteps   = flag.Uint64("max-steps", 0, "Stop after this many instructions (0 = unbounded)")
	trace      = flag.Bool("trace", false, "Log every executed instruction")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: spear [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	os.Exit(run(flag.Arg(0)))
}

func run(programPath string) int {
	level := slog.LevelWarn
	if *verbose || *trace {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return 1
		}
	}
	if *maxSteps != 0 {
		cfg.MaxInstructions = *maxSteps
	}

	prog, err := loader.Load(programPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading program: %v\n", err)
		return 1
	}

	if *verbose {
		fmt.Printf("Loaded: %s\n", programPath)
		fmt.Printf("Entry point: 0x%X\n", prog.Entry)
		fmt.Printf("Segments: %d\n", len(prog.Segments))
	}

	ctx := context.Background()

	var opts []emu.EmulatorOption
	if prog.HasToHost {
		opts = append(opts, emu.WithToHost(prog.ToHost))
	}
	if *trace {
		opts = append(opts, emu.WithTrace())
	}

	machine, err := config.Build(ctx, cfg, logger, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error assembling machine: %v\n", err)
		return 1
	}
	defer func() { _ = machine.Close(ctx) }()

	emulator := machine.Emulator
	for _, seg := range prog.Segments {
		// BSS is already zero; RAM starts zeroed.
		if len(seg.Data) == 0 {
			continue
		}
		if err := emulator.LoadProgram(seg.VirtAddr, seg.Data); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading segment: %v\n", err)
			return 1
		}
	}
	emulator.SetPC(prog.Entry)

	result := emulator.Run()

	if *verbose {
		fmt.Printf("\nProgram: %s\n", programPath)
		fmt.Printf("Instructions executed: %d\n", result.Steps)
		fmt.Printf("Privilege mode: %s\n", emulator.Mode())
		dumpState(emulator)
	}

	if !result.Exited {
		fmt.Fprintf(os.Stderr, "Program did not finish within %d steps\n", result.Steps)
		return 2
	}

	// tohost: 1 is success, odd values above 1 encode the failing test
	// number as (n << 1) | 1.
	if result.ToHost == 1 {
		if *verbose {
			fmt.Println("Exit: pass")
		}
		return 0
	}
	fmt.Fprintf(os.Stderr, "Program failed: tohost=%d (test %d)\n",
		result.ToHost, result.ToHost>>1)
	return 1
}

// dumpState prints the register file and CSR contents.
func dumpState(emulator *emu.Emulator) {
	dumper := spew.ConfigState{Indent: "  ", DisableMethods: true}

	fmt.Printf("PC: 0x%08X\n", emulator.PC())
	dumper.Dump(emulator.Registers())
	for _, csr := range emulator.CSRSnapshot() {
		fmt.Printf("  %-12s (0x%03X) = 0x%08X\n", csr.Name, csr.Addr, csr.Value)
	}
}
