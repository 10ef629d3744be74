package emu

import (
	"errors"
	"sort"

	"github.com/spear-sim/spear/insts"
)

// CSR access errors. The execution loop converts them into traps; the first
// two become illegal-instruction traps, the third a privilege violation.
var (
	ErrCSRNonexistent = errors.New("csr does not exist")
	ErrCSRReadOnly    = errors.New("csr is read-only")
	ErrCSRPrivilege   = errors.New("insufficient privilege for csr")
)

// Writable-bit masks. Bits outside the mask read as zero and ignore writes.
const (
	// mstatus: SIE, MIE, SPIE, MPIE, SPP, MPP, MPRV, SUM, MXR.
	mstatusMask = uint32(0x000E19AA)

	// sstatus is a view of mstatus restricted to the supervisor fields:
	// SIE, SPIE, SPP, SUM, MXR.
	sstatusMask = uint32(0x000C0122)

	// sie/sip are views of mie/mip restricted to the supervisor interrupt
	// bits SSIP, STIP, SEIP.
	sInterruptMask = uint32(0x00000222)

	// xepc bits [1:0] are hardwired to zero; IALIGN is 32.
	epcMask = uint32(0xFFFFFFFC)
)

// CSRValue is one register in a CSR snapshot.
type CSRValue struct {
	Addr  uint16
	Name  string
	Value uint32
}

// CSRBank holds the control and status registers declared by the enabled
// extensions. Access policy is decided per address: bits [9:8] give the
// minimum privilege mode and bits [11:10] == 0b11 mark a register
// read-only. Addresses nobody declared do not exist, so disabling an
// extension removes its CSRs entirely.
type CSRBank struct {
	defs map[uint16]insts.CSRDef
	regs map[uint16]uint32

	cycles  uint64
	instret uint64
}

// NewCSRBank builds the register file from the registry's enabled CSR
// definitions. misa is derived from the enabled extensions and never
// changes afterwards.
func NewCSRBank(reg *insts.Registry) *CSRBank {
	b := &CSRBank{
		defs: map[uint16]insts.CSRDef{},
		regs: map[uint16]uint32{},
	}
	for _, def := range reg.CSRs() {
		b.defs[def.Addr] = def
		b.regs[def.Addr] = 0
	}

	// misa: MXL=1 (32-bit), S and U modes, plus the extension letters.
	b.regs[insts.CsrMISA] = 1<<30 | 1<<18 | 1<<20 | reg.MISABits()

	return b
}

func minPriv(addr uint16) PrivilegeMode {
	switch (addr >> 8) & 3 {
	case 0b00:
		return ModeUser
	case 0b11:
		return ModeMachine
	default:
		return ModeSupervisor
	}
}

func readOnly(addr uint16) bool {
	return addr>>10 == 0b11
}

// Read performs a policy-checked CSR read on behalf of the given mode.
func (b *CSRBank) Read(addr uint16, mode PrivilegeMode) (uint32, error) {
	if _, ok := b.defs[addr]; !ok {
		return 0, ErrCSRNonexistent
	}
	if mode < minPriv(addr) {
		return 0, ErrCSRPrivilege
	}
	return b.get(addr), nil
}

// Write performs a policy-checked CSR write on behalf of the given mode.
func (b *CSRBank) Write(addr uint16, val uint32, mode PrivilegeMode) error {
	if _, ok := b.defs[addr]; !ok {
		return ErrCSRNonexistent
	}
	if readOnly(addr) {
		return ErrCSRReadOnly
	}
	if mode < minPriv(addr) {
		return ErrCSRPrivilege
	}
	b.set(addr, val)
	return nil
}

// get reads a CSR without policy checks. Views and counters are resolved
// here so trap entry and snapshots see the same values software does.
func (b *CSRBank) get(addr uint16) uint32 {
	switch addr {
	case insts.CsrSStatus:
		return b.regs[insts.CsrMStatus] & sstatusMask
	case insts.CsrSIE:
		return b.regs[insts.CsrMIE] & sInterruptMask
	case insts.CsrSIP:
		return b.regs[insts.CsrMIP] & sInterruptMask
	case insts.CsrCycle, insts.CsrMCycle:
		return uint32(b.cycles)
	case insts.CsrCycleH, insts.CsrMCycleH:
		return uint32(b.cycles >> 32)
	case insts.CsrTime:
		return uint32(b.cycles)
	case insts.CsrTimeH:
		return uint32(b.cycles >> 32)
	case insts.CsrInstret, insts.CsrMInstret:
		return uint32(b.instret)
	case insts.CsrInstretH, insts.CsrMInstretH:
		return uint32(b.instret >> 32)
	}
	return b.regs[addr]
}

// set writes a CSR without policy checks, applying the per-register WARL
// masks.
func (b *CSRBank) set(addr uint16, val uint32) {
	switch addr {
	case insts.CsrMISA:
		// WARL: the extension set is fixed at configuration time.
		return
	case insts.CsrMStatus:
		b.regs[insts.CsrMStatus] = val & mstatusMask
		return
	case insts.CsrSStatus:
		m := b.regs[insts.CsrMStatus]
		b.regs[insts.CsrMStatus] = m&^sstatusMask | val&sstatusMask
		return
	case insts.CsrSIE:
		m := b.regs[insts.CsrMIE]
		b.regs[insts.CsrMIE] = m&^sInterruptMask | val&sInterruptMask
		return
	case insts.CsrSIP:
		m := b.regs[insts.CsrMIP]
		b.regs[insts.CsrMIP] = m&^sInterruptMask | val&sInterruptMask
		return
	case insts.CsrMEPC, insts.CsrSEPC:
		b.regs[addr] = val & epcMask
		return
	case insts.CsrMCycle:
		b.cycles = b.cycles&^uint64(0xFFFFFFFF) | uint64(val)
		return
	case insts.CsrMCycleH:
		b.cycles = b.cycles&0xFFFFFFFF | uint64(val)<<32
		return
	case insts.CsrMInstret:
		b.instret = b.instret&^uint64(0xFFFFFFFF) | uint64(val)
		return
	case insts.CsrMInstretH:
		b.instret = b.instret&0xFFFFFFFF | uint64(val)<<32
		return
	}
	b.regs[addr] = val
}

// retire advances the cycle counter, and the retired-instruction counter
// only when the instruction completed. An instruction that raises a
// synchronous exception does not retire.
func (b *CSRBank) retire(retired bool) {
	b.cycles++
	if retired {
		b.instret++
	}
}

// Enumerate returns every existing CSR with its current value, sorted by
// address. It never mutates the bank.
func (b *CSRBank) Enumerate() []CSRValue {
	out := make([]CSRValue, 0, len(b.defs))
	for addr, def := range b.defs {
		out = append(out, CSRValue{Addr: addr, Name: def.Name, Value: b.get(addr)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}
