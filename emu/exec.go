package emu

import (
	"github.com/spear-sim/spear/insts"
)

// execute runs one decoded instruction against the architectural state. It
// sets e.nextPC and returns the trap the instruction raised, if any. On a
// trap no architectural state has been modified.
func (e *Emulator) execute(inst *insts.Instruction) *Trap {
	switch inst.Op {
	case insts.OpLUI:
		e.regFile.WriteReg(inst.Rd, uint32(inst.Imm))
	case insts.OpAUIPC:
		e.regFile.WriteReg(inst.Rd, e.regFile.PC+uint32(inst.Imm))

	case insts.OpJAL:
		return e.execJump(inst, e.regFile.PC+uint32(inst.Imm))
	case insts.OpJALR:
		target := (e.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)) &^ 1
		return e.execJump(inst, target)

	case insts.OpBEQ, insts.OpBNE, insts.OpBLT, insts.OpBGE,
		insts.OpBLTU, insts.OpBGEU:
		return e.execBranch(inst)

	case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLBU, insts.OpLHU:
		return e.execLoad(inst)
	case insts.OpSB, insts.OpSH, insts.OpSW:
		return e.execStore(inst)

	case insts.OpADDI, insts.OpSLTI, insts.OpSLTIU, insts.OpXORI,
		insts.OpORI, insts.OpANDI, insts.OpSLLI, insts.OpSRLI, insts.OpSRAI:
		e.execOpImm(inst)
	case insts.OpADD, insts.OpSUB, insts.OpSLL, insts.OpSLT, insts.OpSLTU,
		insts.OpXOR, insts.OpSRL, insts.OpSRA, insts.OpOR, insts.OpAND:
		e.execOp(inst)

	case insts.OpFENCE, insts.OpFENCEI:
		// Single hart, no caches to order or flush.

	case insts.OpECALL:
		return e.execEcall()
	case insts.OpEBREAK:
		return &Trap{Kind: KindEnvironment, Cause: CauseBreakpoint, Value: e.regFile.PC}

	case insts.OpCSRRW, insts.OpCSRRS, insts.OpCSRRC,
		insts.OpCSRRWI, insts.OpCSRRSI, insts.OpCSRRCI:
		return e.execCSR(inst)

	case insts.OpMRET:
		pc, trap := e.priv.Mret(inst.Raw)
		if trap != nil {
			return trap
		}
		e.nextPC = pc
	case insts.OpSRET:
		pc, trap := e.priv.Sret(inst.Raw)
		if trap != nil {
			return trap
		}
		e.nextPC = pc
	case insts.OpWFI:
		// Stall at the wfi until an interrupt becomes deliverable; the
		// post-retire interrupt check then redirects past it.
		if e.priv.pendingInterrupt() == nil {
			e.nextPC = e.regFile.PC
		}

	default:
		return illegalInstruction(inst.Raw)
	}
	return nil
}

// execJump validates the target alignment, links pc+4, and redirects.
func (e *Emulator) execJump(inst *insts.Instruction, target uint32) *Trap {
	if target&3 != 0 {
		return misalignedFetch(target)
	}
	e.regFile.WriteReg(inst.Rd, e.regFile.PC+4)
	e.nextPC = target
	return nil
}

func (e *Emulator) execBranch(inst *insts.Instruction) *Trap {
	a := e.regFile.ReadReg(inst.Rs1)
	b := e.regFile.ReadReg(inst.Rs2)

	var taken bool
	switch inst.Op {
	case insts.OpBEQ:
		taken = a == b
	case insts.OpBNE:
		taken = a != b
	case insts.OpBLT:
		taken = int32(a) < int32(b)
	case insts.OpBGE:
		taken = int32(a) >= int32(b)
	case insts.OpBLTU:
		taken = a < b
	case insts.OpBGEU:
		taken = a >= b
	}
	if !taken {
		return nil
	}

	target := e.regFile.PC + uint32(inst.Imm)
	if target&3 != 0 {
		return misalignedFetch(target)
	}
	e.nextPC = target
	return nil
}

func (e *Emulator) execLoad(inst *insts.Instruction) *Trap {
	addr := e.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)

	var width uint32
	switch inst.Op {
	case insts.OpLB, insts.OpLBU:
		width = 1
	case insts.OpLH, insts.OpLHU:
		width = 2
	default:
		width = 4
	}

	val, fault := e.bus.Read(addr, width)
	if fault != nil {
		return busTrap(fault, false)
	}

	switch inst.Op {
	case insts.OpLB:
		val = uint32(int32(int8(val)))
	case insts.OpLH:
		val = uint32(int32(int16(val)))
	}
	e.regFile.WriteReg(inst.Rd, val)
	return nil
}

func (e *Emulator) execStore(inst *insts.Instruction) *Trap {
	addr := e.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)
	val := e.regFile.ReadReg(inst.Rs2)

	var width uint32
	switch inst.Op {
	case insts.OpSB:
		width = 1
	case insts.OpSH:
		width = 2
	default:
		width = 4
	}

	if fault := e.bus.Write(addr, width, val); fault != nil {
		return busTrap(fault, false)
	}
	return nil
}

func (e *Emulator) execOpImm(inst *insts.Instruction) {
	a := e.regFile.ReadReg(inst.Rs1)
	imm := uint32(inst.Imm)
	shamt := uint(inst.Rs2)

	var res uint32
	switch inst.Op {
	case insts.OpADDI:
		res = a + imm
	case insts.OpSLTI:
		if int32(a) < inst.Imm {
			res = 1
		}
	case insts.OpSLTIU:
		if a < imm {
			res = 1
		}
	case insts.OpXORI:
		res = a ^ imm
	case insts.OpORI:
		res = a | imm
	case insts.OpANDI:
		res = a & imm
	case insts.OpSLLI:
		res = a << shamt
	case insts.OpSRLI:
		res = a >> shamt
	case insts.OpSRAI:
		res = uint32(int32(a) >> shamt)
	}
	e.regFile.WriteReg(inst.Rd, res)
}

func (e *Emulator) execOp(inst *insts.Instruction) {
	a := e.regFile.ReadReg(inst.Rs1)
	b := e.regFile.ReadReg(inst.Rs2)
	shamt := uint(b & 0x1F)

	var res uint32
	switch inst.Op {
	case insts.OpADD:
		res = a + b
	case insts.OpSUB:
		res = a - b
	case insts.OpSLL:
		res = a << shamt
	case insts.OpSLT:
		if int32(a) < int32(b) {
			res = 1
		}
	case insts.OpSLTU:
		if a < b {
			res = 1
		}
	case insts.OpXOR:
		res = a ^ b
	case insts.OpSRL:
		res = a >> shamt
	case insts.OpSRA:
		res = uint32(int32(a) >> shamt)
	case insts.OpOR:
		res = a | b
	case insts.OpAND:
		res = a & b
	}
	e.regFile.WriteReg(inst.Rd, res)
}

func (e *Emulator) execEcall() *Trap {
	t := &Trap{Kind: KindEnvironment}
	switch e.priv.mode {
	case ModeMachine:
		t.Cause = CauseMachineEcall
	case ModeSupervisor:
		t.Cause = CauseSupervisorEcall
	default:
		t.Cause = CauseUserEcall
	}
	return t
}

// execCSR implements the six Zicsr access instructions. The read-modify-
// write is atomic from the guest's point of view: a trapping access leaves
// both the CSR and rd untouched.
func (e *Emulator) execCSR(inst *insts.Instruction) *Trap {
	var src uint32
	write := true
	switch inst.Op {
	case insts.OpCSRRW:
		src = e.regFile.ReadReg(inst.Rs1)
	case insts.OpCSRRWI:
		src = uint32(inst.Rs1)
	case insts.OpCSRRS, insts.OpCSRRC:
		src = e.regFile.ReadReg(inst.Rs1)
		write = inst.Rs1 != 0
	case insts.OpCSRRSI, insts.OpCSRRCI:
		src = uint32(inst.Rs1)
		write = inst.Rs1 != 0
	}

	old, err := e.csrs.Read(inst.CSR, e.priv.mode)
	if err != nil {
		return e.csrTrap(err, inst.Raw)
	}

	if write {
		var next uint32
		switch inst.Op {
		case insts.OpCSRRW, insts.OpCSRRWI:
			next = src
		case insts.OpCSRRS, insts.OpCSRRSI:
			next = old | src
		case insts.OpCSRRC, insts.OpCSRRCI:
			next = old &^ src
		}
		if err := e.csrs.Write(inst.CSR, next, e.priv.mode); err != nil {
			return e.csrTrap(err, inst.Raw)
		}
	}

	e.regFile.WriteReg(inst.Rd, old)
	return nil
}

func (e *Emulator) csrTrap(err error, word uint32) *Trap {
	if err == ErrCSRPrivilege {
		return privilegeViolation(word)
	}
	return illegalInstruction(word)
}
