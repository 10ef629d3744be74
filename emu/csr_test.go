package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spear-sim/spear/emu"
	"github.com/spear-sim/spear/insts"
)

func encodeCSR(funct3 uint32, rd uint8, csr uint16, rs1 uint8) uint32 {
	return uint32(csr)<<20 | uint32(rs1)<<15 | funct3<<12 | uint32(rd)<<7 | 0x73
}

func encodeCSRRW(rd uint8, csr uint16, rs1 uint8) uint32 { return encodeCSR(1, rd, csr, rs1) }
func encodeCSRRS(rd uint8, csr uint16, rs1 uint8) uint32 { return encodeCSR(2, rd, csr, rs1) }
func encodeCSRRC(rd uint8, csr uint16, rs1 uint8) uint32 { return encodeCSR(3, rd, csr, rs1) }

func encodeCSRRWI(rd uint8, csr uint16, zimm uint8) uint32 { return encodeCSR(5, rd, csr, zimm) }

var _ = Describe("CSR access", func() {
	var e *emu.Emulator

	BeforeEach(func() {
		var err error
		e, err = emu.NewEmulator()
		Expect(err).To(BeNil())
	})

	loadWords := func(words ...uint32) {
		Expect(e.LoadProgram(codeBase, wordsToBytes(words...))).To(Succeed())
	}

	It("should swap through CSRRW", func() {
		loadWords(encodeCSRRW(2, insts.CsrMScratch, 1))
		e.WriteReg(1, 0x1234)
		Expect(e.WriteCSR(insts.CsrMScratch, 0xABCD)).To(Succeed())

		result := e.Step()

		Expect(result.Trap).To(BeNil())
		Expect(e.ReadReg(2)).To(Equal(uint32(0xABCD)))
		Expect(csrValue(e, insts.CsrMScratch)).To(Equal(uint32(0x1234)))
	})

	It("should set and clear bits through CSRRS and CSRRC", func() {
		loadWords(
			encodeCSRRS(0, insts.CsrMScratch, 1),
			encodeCSRRC(0, insts.CsrMScratch, 2),
		)
		e.WriteReg(1, 0x0F0)
		e.WriteReg(2, 0x030)
		Expect(e.WriteCSR(insts.CsrMScratch, 0x700)).To(Succeed())

		e.Step()
		e.Step()

		Expect(csrValue(e, insts.CsrMScratch)).To(Equal(uint32(0x7C0)))
	})

	It("should write the immediate through CSRRWI", func() {
		loadWords(encodeCSRRWI(1, insts.CsrMScratch, 21))

		e.Step()

		Expect(e.ReadReg(1)).To(Equal(uint32(0)))
		Expect(csrValue(e, insts.CsrMScratch)).To(Equal(uint32(21)))
	})

	It("should let CSRRS with x1=x0 read a read-only register", func() {
		loadWords(encodeCSRRS(1, insts.CsrMHartID, 0))

		result := e.Step()

		Expect(result.Trap).To(BeNil())
		Expect(e.ReadReg(1)).To(Equal(uint32(0)))
	})

	It("should trap CSRRW to a read-only register even with rd=x0", func() {
		loadWords(encodeCSRRW(0, insts.CsrMHartID, 1))

		result := e.Step()

		Expect(result.Trap).NotTo(BeNil())
		Expect(result.Trap.Kind).To(Equal(emu.KindIllegalInstruction))
		Expect(result.Trap.Cause).To(Equal(emu.CauseIllegalInst))
	})

	It("should trap access to a nonexistent CSR", func() {
		loadWords(encodeCSRRS(1, 0x123, 0))

		result := e.Step()

		Expect(result.Trap).NotTo(BeNil())
		Expect(result.Trap.Kind).To(Equal(emu.KindIllegalInstruction))
	})

	It("should hardwire the low bits of mepc", func() {
		Expect(e.WriteCSR(insts.CsrMEPC, 0x80000123)).To(Succeed())

		v, err := e.ReadCSR(insts.CsrMEPC)
		Expect(err).To(BeNil())
		Expect(v).To(Equal(uint32(0x80000120)))
	})

	It("should ignore writes to misa", func() {
		before, _ := e.ReadCSR(insts.CsrMISA)
		Expect(e.WriteCSR(insts.CsrMISA, 0)).To(Succeed())

		after, _ := e.ReadCSR(insts.CsrMISA)
		Expect(after).To(Equal(before))
	})

	It("should present sstatus as a masked view of mstatus", func() {
		Expect(e.WriteCSR(insts.CsrSStatus, 0xFFFFFFFF)).To(Succeed())

		sstatus, _ := e.ReadCSR(insts.CsrSStatus)
		mstatus, _ := e.ReadCSR(insts.CsrMStatus)

		// SIE, SPIE, SPP, SUM, MXR.
		Expect(sstatus).To(Equal(uint32(0x000C0122)))
		Expect(mstatus & 0x000C0122).To(Equal(uint32(0x000C0122)))
		// The machine-only fields stay untouched.
		Expect(mstatus & (1 << 3)).To(Equal(uint32(0)))
	})

	It("should present sie and sip as supervisor-bit views", func() {
		Expect(e.WriteCSR(insts.CsrMIE, 0xFFF)).To(Succeed())

		sie, _ := e.ReadCSR(insts.CsrSIE)
		Expect(sie).To(Equal(uint32(0x222)))

		Expect(e.WriteCSR(insts.CsrSIE, 0)).To(Succeed())
		mie, _ := e.ReadCSR(insts.CsrMIE)
		Expect(mie).To(Equal(uint32(0xFFF &^ 0x222)))
	})

	It("should count retired instructions in instret", func() {
		loadWords(
			encodeADDI(1, 0, 1),
			encodeADDI(1, 1, 1),
			encodeCSRRS(2, insts.CsrInstret, 0),
		)

		e.Step()
		e.Step()
		e.Step()

		// instret is read before the reading instruction retires.
		Expect(e.ReadReg(2)).To(Equal(uint32(2)))
	})

	It("should not count an excepted instruction in instret", func() {
		loadWords(
			encodeADDI(1, 0, 1),
			0xFFFFFFFF, // illegal
		)

		e.Step()
		result := e.Step()

		Expect(result.Trap).NotTo(BeNil())

		instret, _ := e.ReadCSR(insts.CsrMInstret)
		cycle, _ := e.ReadCSR(insts.CsrMCycle)
		Expect(instret).To(Equal(uint32(1)))
		Expect(cycle).To(Equal(uint32(2)))
	})

	It("should shadow mcycle writes into the cycle counter", func() {
		Expect(e.WriteCSR(insts.CsrMCycle, 100)).To(Succeed())
		Expect(e.WriteCSR(insts.CsrMCycleH, 2)).To(Succeed())

		lo, _ := e.ReadCSR(insts.CsrCycle)
		hi, _ := e.ReadCSR(insts.CsrCycleH)
		Expect(lo).To(Equal(uint32(100)))
		Expect(hi).To(Equal(uint32(2)))
	})
})
