// Package emu provides functional RV32 emulation: one hart's architectural
// state and the fetch-decode-execute loop that drives it.
package emu

// RegFile represents the RV32 integer register file: 32 general-purpose
// registers plus the program counter.
type RegFile struct {
	// X holds general-purpose registers x0-x31. x0 always reads as zero.
	X [32]uint32

	// PC is the program counter.
	PC uint32
}

// ReadReg reads a register value. Register 0 always returns 0.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a value to a register. Writes to register 0 are no-ops.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}

// Snapshot returns a copy of all 32 registers without mutating them.
func (r *RegFile) Snapshot() [32]uint32 {
	return r.X
}
