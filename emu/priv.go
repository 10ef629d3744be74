package emu

import (
	"log/slog"

	"github.com/spear-sim/spear/insts"
)

// PrivilegeMode is the hart's current privilege level. The numeric encoding
// matches the mstatus MPP field, so modes compare with plain ordering.
type PrivilegeMode uint8

// Privilege modes.
const (
	ModeUser       PrivilegeMode = 0b00
	ModeSupervisor PrivilegeMode = 0b01
	ModeMachine    PrivilegeMode = 0b11
)

// String returns the single-letter mode name.
func (m PrivilegeMode) String() string {
	switch m {
	case ModeUser:
		return "U"
	case ModeSupervisor:
		return "S"
	case ModeMachine:
		return "M"
	}
	return "?"
}

func modeFromBits(b uint32) PrivilegeMode {
	switch b & 3 {
	case 0b11:
		return ModeMachine
	case 0b01:
		return ModeSupervisor
	default:
		return ModeUser
	}
}

// mstatus bit positions.
const (
	statusSIE  = 1
	statusMIE  = 3
	statusSPIE = 5
	statusMPIE = 7
	statusSPP  = 8
	statusMPP  = 11 // two bits wide
)

// Interrupt scan order: machine sources before supervisor ones, external
// before software before timer within each level.
var interruptOrder = []Cause{
	CauseMachineExternalInt,
	CauseMachineSoftwareInt,
	CauseMachineTimerInt,
	CauseSupervisorExternalInt,
	CauseSupervisorSoftwareInt,
	CauseSupervisorTimerInt,
}

// privController tracks the hart's privilege mode and implements the trap
// entry, trap return, and interrupt delivery state machine on top of the
// CSR bank.
type privController struct {
	csrs   *CSRBank
	logger *slog.Logger

	mode PrivilegeMode

	// Armed flags pair trap returns with trap entries. An xret with its
	// flag down is counted as a misuse but still performed, because
	// bare-metal boot code legitimately uses mret to drop privilege.
	mretArmed bool
	sretArmed bool
	misuses   uint64
}

func newPrivController(csrs *CSRBank, logger *slog.Logger) *privController {
	return &privController{csrs: csrs, logger: logger, mode: ModeMachine}
}

// Take delivers a trap: it picks the target mode via the delegation CSRs,
// records the trap state, pushes the interrupt-enable stack, and returns
// the handler address. pc is the address of the trapping instruction, or of
// the next instruction for interrupts.
func (p *privController) Take(t *Trap, pc uint32) uint32 {
	target := ModeMachine
	if p.mode != ModeMachine && p.delegated(t) {
		target = ModeSupervisor
	}

	cause := uint32(t.Cause)
	if t.Interrupt {
		cause |= 1 << 31
	}

	if target == ModeMachine {
		p.csrs.set(insts.CsrMEPC, pc)
		p.csrs.set(insts.CsrMCause, cause)
		p.csrs.set(insts.CsrMTVal, t.Value)

		status := p.csrs.get(insts.CsrMStatus)
		status = setBit(status, statusMPIE, bit(status, statusMIE))
		status = setBit(status, statusMIE, 0)
		status = status&^(3<<statusMPP) | uint32(p.mode)<<statusMPP
		p.csrs.set(insts.CsrMStatus, status)

		p.mode = ModeMachine
		p.mretArmed = true
		return vector(p.csrs.get(insts.CsrMTVec), t)
	}

	p.csrs.set(insts.CsrSEPC, pc)
	p.csrs.set(insts.CsrSCause, cause)
	p.csrs.set(insts.CsrSTVal, t.Value)

	status := p.csrs.get(insts.CsrMStatus)
	status = setBit(status, statusSPIE, bit(status, statusSIE))
	status = setBit(status, statusSIE, 0)
	var spp uint32
	if p.mode == ModeSupervisor {
		spp = 1
	}
	status = setBit(status, statusSPP, spp)
	p.csrs.set(insts.CsrMStatus, status)

	p.mode = ModeSupervisor
	p.sretArmed = true
	return vector(p.csrs.get(insts.CsrSTVec), t)
}

// delegated reports whether the trap is delegated to supervisor mode.
func (p *privController) delegated(t *Trap) bool {
	if t.Cause >= 32 {
		return false
	}
	deleg := insts.CsrMEDeleg
	if t.Interrupt {
		deleg = insts.CsrMIDeleg
	}
	return p.csrs.get(uint16(deleg))>>uint(t.Cause)&1 == 1
}

// vector resolves the handler address from an xtvec register. Only
// interrupts use vectored dispatch.
func vector(tvec uint32, t *Trap) uint32 {
	base := tvec &^ 3
	if t.Interrupt && tvec&3 == 1 {
		return base + 4*uint32(t.Cause)
	}
	return base
}

// Mret executes a machine trap return: restore the interrupt-enable stack,
// drop to the mode saved in MPP, and resume at mepc. From below machine
// mode the instruction is a privilege violation.
func (p *privController) Mret(word uint32) (uint32, *Trap) {
	if p.mode != ModeMachine {
		return 0, privilegeViolation(word)
	}
	if p.mretArmed {
		p.mretArmed = false
	} else {
		p.misuses++
		p.logger.Warn("mret without a matching trap entry",
			"mode", p.mode.String(), "mepc", p.csrs.get(insts.CsrMEPC))
	}

	status := p.csrs.get(insts.CsrMStatus)
	next := modeFromBits(status >> statusMPP)
	status = setBit(status, statusMIE, bit(status, statusMPIE))
	status = setBit(status, statusMPIE, 1)
	status &^= 3 << statusMPP
	p.csrs.set(insts.CsrMStatus, status)

	p.mode = next
	return p.csrs.get(insts.CsrMEPC), nil
}

// Sret executes a supervisor trap return. From user mode it is a privilege
// violation.
func (p *privController) Sret(word uint32) (uint32, *Trap) {
	if p.mode == ModeUser {
		return 0, privilegeViolation(word)
	}
	if p.sretArmed {
		p.sretArmed = false
	} else {
		p.misuses++
		p.logger.Warn("sret without a matching trap entry",
			"mode", p.mode.String(), "sepc", p.csrs.get(insts.CsrSEPC))
	}

	status := p.csrs.get(insts.CsrMStatus)
	next := ModeUser
	if bit(status, statusSPP) == 1 {
		next = ModeSupervisor
	}
	status = setBit(status, statusSIE, bit(status, statusSPIE))
	status = setBit(status, statusSPIE, 1)
	status = setBit(status, statusSPP, 0)
	p.csrs.set(insts.CsrMStatus, status)

	p.mode = next
	return p.csrs.get(insts.CsrSEPC), nil
}

// Misuses returns the number of trap returns executed without a matching
// trap entry.
func (p *privController) Misuses() uint64 {
	return p.misuses
}

// pendingInterrupt returns the highest-priority enabled, pending, and
// deliverable interrupt, or nil. Delivery follows the usual rule: an
// interrupt targeting a strictly higher mode always fires, one targeting
// the current mode fires when the mode's global enable bit is set, and one
// targeting a lower mode waits.
func (p *privController) pendingInterrupt() *Trap {
	pending := p.csrs.get(insts.CsrMIE) & p.csrs.get(insts.CsrMIP)
	if pending == 0 {
		return nil
	}

	status := p.csrs.get(insts.CsrMStatus)
	mideleg := p.csrs.get(insts.CsrMIDeleg)

	for _, cause := range interruptOrder {
		if pending>>uint(cause)&1 == 0 {
			continue
		}

		target := ModeMachine
		if mideleg>>uint(cause)&1 == 1 {
			target = ModeSupervisor
		}

		deliverable := false
		switch {
		case target > p.mode:
			deliverable = true
		case target == p.mode && target == ModeMachine:
			deliverable = bit(status, statusMIE) == 1
		case target == p.mode && target == ModeSupervisor:
			deliverable = bit(status, statusSIE) == 1
		}
		if deliverable {
			return &Trap{Kind: KindInterrupt, Cause: cause, Interrupt: true}
		}
	}
	return nil
}

func bit(v uint32, pos uint) uint32 {
	return v >> pos & 1
}

func setBit(v uint32, pos uint, b uint32) uint32 {
	if b == 0 {
		return v &^ (1 << pos)
	}
	return v | 1<<pos
}
