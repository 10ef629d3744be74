// Package loader provides ELF binary loading for RV32 executables.
package loader

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"
)

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint32
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint32
}

// Program represents a loaded ELF program ready for execution.
type Program struct {
	// Entry is the virtual address where execution should begin.
	Entry uint32
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// ToHost is the address of the tohost symbol, when present. Bare-metal
	// test binaries report completion by storing to it.
	ToHost uint32
	// HasToHost reports whether the binary defines a tohost symbol.
	HasToHost bool
}

// Load reads and parses an RV32 ELF binary from a file.
func Load(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	return Parse(data)
}

// Parse parses an RV32 ELF binary and returns a Program struct ready for
// loading into the emulator's memory.
func Parse(data []byte) (*Program, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("not a 32-bit ELF file")
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}

	prog := &Program{
		Entry: uint32(f.Entry),
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: uint32(phdr.Vaddr),
			Data:     data,
			MemSize:  uint32(phdr.Memsz),
		})
	}

	// Bare-metal test binaries carry a tohost word the host polls for the
	// exit status.
	symbols, err := f.Symbols()
	if err == nil {
		for _, sym := range symbols {
			if sym.Name == "tohost" {
				prog.ToHost = uint32(sym.Value)
				prog.HasToHost = true
				break
			}
		}
	}

	return prog, nil
}
