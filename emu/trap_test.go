package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spear-sim/spear/emu"
	"github.com/spear-sim/spear/insts"
)

const (
	instECALL  = uint32(0x00000073)
	instEBREAK = uint32(0x00100073)
	instMRET   = uint32(0x30200073)
	instSRET   = uint32(0x10200073)
	instWFI    = uint32(0x10500073)
)

var _ = Describe("Traps and privilege", func() {
	var e *emu.Emulator

	const handler = codeBase + 0x400

	BeforeEach(func() {
		var err error
		e, err = emu.NewEmulator()
		Expect(err).To(BeNil())
		Expect(e.WriteCSR(insts.CsrMTVec, handler)).To(Succeed())
	})

	loadWords := func(words ...uint32) {
		Expect(e.LoadProgram(codeBase, wordsToBytes(words...))).To(Succeed())
	}

	// dropTo returns to user or supervisor mode via mret.
	dropTo := func(mode emu.PrivilegeMode, pc uint32) {
		status, _ := e.ReadCSR(insts.CsrMStatus)
		status = status&^(3<<11) | uint32(mode)<<11
		Expect(e.WriteCSR(insts.CsrMStatus, status)).To(Succeed())
		Expect(e.WriteCSR(insts.CsrMEPC, pc)).To(Succeed())

		Expect(e.LoadProgram(codeBase+0x200, wordsToBytes(instMRET))).To(Succeed())
		result := e.Step()
		Expect(result.Trap).To(BeNil())
		Expect(e.Mode()).To(Equal(mode))
		Expect(e.PC()).To(Equal(pc))
	}

	Describe("trap entry", func() {
		It("should deliver a machine-mode ecall to the mtvec handler", func() {
			loadWords(instECALL)

			result := e.Step()

			Expect(result.Trap).NotTo(BeNil())
			Expect(result.Trap.Kind).To(Equal(emu.KindEnvironment))
			Expect(result.Trap.Cause).To(Equal(emu.CauseMachineEcall))
			Expect(e.PC()).To(Equal(handler))

			mepc, _ := e.ReadCSR(insts.CsrMEPC)
			mcause, _ := e.ReadCSR(insts.CsrMCause)
			Expect(mepc).To(Equal(codeBase))
			Expect(mcause).To(Equal(uint32(11)))
		})

		It("should push the interrupt-enable stack on entry", func() {
			Expect(e.WriteCSR(insts.CsrMStatus, 1<<3)).To(Succeed()) // MIE=1
			loadWords(instECALL)

			e.Step()

			status, _ := e.ReadCSR(insts.CsrMStatus)
			Expect(status & (1 << 3)).To(Equal(uint32(0)))       // MIE cleared
			Expect(status & (1 << 7)).To(Equal(uint32(1 << 7)))  // MPIE holds old MIE
			Expect(status >> 11 & 3).To(Equal(uint32(3)))        // MPP = M
		})

		It("should record the trap value for an illegal instruction", func() {
			loadWords(0xFFFFFFFF)

			e.Step()

			mtval, _ := e.ReadCSR(insts.CsrMTVal)
			Expect(mtval).To(Equal(uint32(0xFFFFFFFF)))
		})

		It("should deliver EBREAK with the breakpoint cause", func() {
			loadWords(instEBREAK)

			result := e.Step()

			Expect(result.Trap.Cause).To(Equal(emu.CauseBreakpoint))
			mtval, _ := e.ReadCSR(insts.CsrMTVal)
			Expect(mtval).To(Equal(codeBase))
		})
	})

	Describe("trap return", func() {
		It("should restore state with mret after a trap", func() {
			Expect(e.WriteCSR(insts.CsrMStatus, 1<<3)).To(Succeed())
			loadWords(instECALL)
			Expect(e.LoadProgram(handler, wordsToBytes(instMRET))).To(Succeed())
			e.SetPC(codeBase)

			e.Step() // ecall, enters handler
			result := e.Step()

			Expect(result.Trap).To(BeNil())
			Expect(e.PC()).To(Equal(codeBase)) // back at the ecall
			Expect(e.Mode()).To(Equal(emu.ModeMachine))
			status, _ := e.ReadCSR(insts.CsrMStatus)
			Expect(status & (1 << 3)).To(Equal(uint32(1 << 3))) // MIE restored
			Expect(e.TrapReturnMisuses()).To(Equal(uint64(0)))
		})

		It("should count an mret without a matching trap entry", func() {
			Expect(e.WriteCSR(insts.CsrMEPC, codeBase+0x100)).To(Succeed())
			loadWords(instMRET)

			result := e.Step()

			// The return is still performed; boot code relies on it.
			Expect(result.Trap).To(BeNil())
			Expect(e.PC()).To(Equal(codeBase + 0x100))
			Expect(e.Mode()).To(Equal(emu.ModeUser)) // MPP was 0
			Expect(e.TrapReturnMisuses()).To(Equal(uint64(1)))
		})

		It("should trap mret from user mode as a privilege violation", func() {
			dropTo(emu.ModeUser, codeBase)
			loadWords(instMRET)

			result := e.Step()

			Expect(result.Trap).NotTo(BeNil())
			Expect(result.Trap.Kind).To(Equal(emu.KindPrivilegeViolation))
			Expect(result.Trap.Cause).To(Equal(emu.CauseIllegalInst))
			Expect(e.Mode()).To(Equal(emu.ModeMachine)) // taken to M
		})

		It("should trap sret from user mode", func() {
			dropTo(emu.ModeUser, codeBase)
			loadWords(instSRET)

			result := e.Step()

			Expect(result.Trap).NotTo(BeNil())
			Expect(result.Trap.Kind).To(Equal(emu.KindPrivilegeViolation))
		})
	})

	Describe("privilege modes", func() {
		It("should report the user-mode ecall cause", func() {
			dropTo(emu.ModeUser, codeBase)
			loadWords(instECALL)

			result := e.Step()

			Expect(result.Trap.Cause).To(Equal(emu.CauseUserEcall))
			Expect(e.Mode()).To(Equal(emu.ModeMachine))
		})

		It("should report the supervisor-mode ecall cause", func() {
			dropTo(emu.ModeSupervisor, codeBase)
			loadWords(instECALL)

			result := e.Step()

			Expect(result.Trap.Cause).To(Equal(emu.CauseSupervisorEcall))
		})

		It("should trap a user-mode write to a machine CSR as a privilege violation", func() {
			dropTo(emu.ModeUser, codeBase)
			loadWords(encodeCSRRW(0, insts.CsrMScratch, 1))

			result := e.Step()

			Expect(result.Trap).NotTo(BeNil())
			Expect(result.Trap.Kind).To(Equal(emu.KindPrivilegeViolation))
			// Architecturally it is still an illegal-instruction trap.
			Expect(result.Trap.Cause).To(Equal(emu.CauseIllegalInst))
			mcause, _ := e.ReadCSR(insts.CsrMCause)
			Expect(mcause).To(Equal(uint32(2)))
		})

		It("should let supervisor mode access supervisor CSRs but not machine ones", func() {
			dropTo(emu.ModeSupervisor, codeBase)
			loadWords(
				encodeCSRRW(0, insts.CsrSScratch, 1),
				encodeCSRRW(0, insts.CsrMScratch, 1),
			)
			e.WriteReg(1, 7)

			Expect(e.Step().Trap).To(BeNil())
			Expect(e.Step().Trap).NotTo(BeNil())
		})
	})

	Describe("delegation", func() {
		const shandler = codeBase + 0x800

		BeforeEach(func() {
			Expect(e.WriteCSR(insts.CsrSTVec, shandler)).To(Succeed())
		})

		It("should send a delegated user ecall to the supervisor handler", func() {
			Expect(e.WriteCSR(insts.CsrMEDeleg, 1<<8)).To(Succeed())
			dropTo(emu.ModeUser, codeBase)
			loadWords(instECALL)

			e.Step()

			Expect(e.Mode()).To(Equal(emu.ModeSupervisor))
			Expect(e.PC()).To(Equal(uint32(shandler)))
			scause, _ := e.ReadCSR(insts.CsrSCause)
			sepc, _ := e.ReadCSR(insts.CsrSEPC)
			Expect(scause).To(Equal(uint32(8)))
			Expect(sepc).To(Equal(codeBase))
		})

		It("should never delegate a machine-mode trap", func() {
			Expect(e.WriteCSR(insts.CsrMEDeleg, 1<<11)).To(Succeed())
			loadWords(instECALL)

			e.Step()

			Expect(e.Mode()).To(Equal(emu.ModeMachine))
			Expect(e.PC()).To(Equal(uint32(handler)))
		})

		It("should return from a delegated trap with sret", func() {
			Expect(e.WriteCSR(insts.CsrMEDeleg, 1<<8)).To(Succeed())
			dropTo(emu.ModeUser, codeBase)
			loadWords(instECALL)
			Expect(e.LoadProgram(shandler, wordsToBytes(instSRET))).To(Succeed())
			e.SetPC(codeBase)

			e.Step() // ecall into the supervisor handler
			result := e.Step()

			Expect(result.Trap).To(BeNil())
			Expect(e.Mode()).To(Equal(emu.ModeUser))
			Expect(e.PC()).To(Equal(codeBase))
		})
	})

	Describe("interrupts", func() {
		enableMachineInterrupts := func() {
			Expect(e.WriteCSR(insts.CsrMIE, 1<<11|1<<7|1<<3)).To(Succeed())
			status, _ := e.ReadCSR(insts.CsrMStatus)
			Expect(e.WriteCSR(insts.CsrMStatus, status|1<<3)).To(Succeed())
		}

		It("should deliver a raised external interrupt after the current instruction", func() {
			enableMachineInterrupts()
			loadWords(encodeADDI(1, 0, 1))
			e.RaiseIRQ(11)

			result := e.Step()

			Expect(result.Trap).NotTo(BeNil())
			Expect(result.Trap.Kind).To(Equal(emu.KindInterrupt))
			Expect(e.ReadReg(1)).To(Equal(uint32(1))) // instruction retired first
			Expect(e.PC()).To(Equal(handler))

			mcause, _ := e.ReadCSR(insts.CsrMCause)
			mepc, _ := e.ReadCSR(insts.CsrMEPC)
			Expect(mcause).To(Equal(uint32(1<<31 | 11)))
			Expect(mepc).To(Equal(codeBase + 4))
		})

		It("should hold interrupts while the global enable is clear", func() {
			Expect(e.WriteCSR(insts.CsrMIE, 1<<11)).To(Succeed())
			loadWords(encodeADDI(1, 0, 1), encodeADDI(2, 0, 2))
			e.RaiseIRQ(11)

			Expect(e.Step().Trap).To(BeNil())
			Expect(e.Step().Trap).To(BeNil())
		})

		It("should hold interrupts not enabled in mie", func() {
			status, _ := e.ReadCSR(insts.CsrMStatus)
			Expect(e.WriteCSR(insts.CsrMStatus, status|1<<3)).To(Succeed())
			loadWords(encodeADDI(1, 0, 1))
			e.RaiseIRQ(11)

			Expect(e.Step().Trap).To(BeNil())
		})

		It("should prefer external over timer over software priority order", func() {
			enableMachineInterrupts()
			loadWords(encodeADDI(1, 0, 1))
			e.RaiseIRQ(7)  // timer
			e.RaiseIRQ(11) // external

			result := e.Step()

			Expect(result.Trap.Cause).To(Equal(emu.CauseMachineExternalInt))
		})

		It("should vector interrupts when mtvec mode is 1", func() {
			Expect(e.WriteCSR(insts.CsrMTVec, handler|1)).To(Succeed())
			enableMachineInterrupts()
			loadWords(encodeADDI(1, 0, 1))
			e.RaiseIRQ(11)

			e.Step()

			Expect(e.PC()).To(Equal(uint32(handler + 4*11)))
		})

		It("should always interrupt user mode for a machine-level source", func() {
			Expect(e.WriteCSR(insts.CsrMIE, 1<<11)).To(Succeed())
			// MIE stays 0: user mode cannot mask machine interrupts.
			dropTo(emu.ModeUser, codeBase)
			loadWords(encodeADDI(1, 0, 1))
			e.RaiseIRQ(11)

			result := e.Step()

			Expect(result.Trap).NotTo(BeNil())
			Expect(e.Mode()).To(Equal(emu.ModeMachine))
		})
	})

	Describe("WFI", func() {
		It("should stay on the wfi while nothing is pending", func() {
			loadWords(instWFI)

			Expect(e.Step().Trap).To(BeNil())
			Expect(e.PC()).To(Equal(codeBase))
			Expect(e.Step().Trap).To(BeNil())
			Expect(e.PC()).To(Equal(codeBase))
		})

		It("should resume via the handler once an interrupt arrives", func() {
			Expect(e.WriteCSR(insts.CsrMIE, 1<<3)).To(Succeed())
			status, _ := e.ReadCSR(insts.CsrMStatus)
			Expect(e.WriteCSR(insts.CsrMStatus, status|1<<3)).To(Succeed())
			loadWords(instWFI)

			Expect(e.Step().Trap).To(BeNil())
			e.RaiseIRQ(3)
			result := e.Step()

			Expect(result.Trap).NotTo(BeNil())
			Expect(e.PC()).To(Equal(handler))
			// The interrupted PC is past the wfi.
			mepc, _ := e.ReadCSR(insts.CsrMEPC)
			Expect(mepc).To(Equal(codeBase + 4))
		})
	})
})
