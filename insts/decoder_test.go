package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/spear-sim/spear/insts"
)

func newFrozenRegistry(exts ...*insts.Extension) *insts.Registry {
	reg := insts.NewRegistry()
	for _, ext := range exts {
		Expect(reg.Register(ext)).To(Succeed())
	}
	Expect(reg.Freeze()).To(Succeed())
	return reg
}

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		reg := newFrozenRegistry(insts.RV32I(), insts.Zicsr())
		var err error
		decoder, err = insts.NewDecoder(reg)
		Expect(err).To(BeNil())
	})

	It("should refuse an unfrozen registry", func() {
		reg := insts.NewRegistry()
		Expect(reg.Register(insts.RV32I())).To(Succeed())

		_, err := insts.NewDecoder(reg)
		Expect(err).To(HaveOccurred())
	})

	It("should decode ADDI", func() {
		// addi x1, x2, -3
		inst := decoder.Decode(0xFFD10093)

		Expect(inst.Op).To(Equal(insts.OpADDI))
		Expect(inst.Format).To(Equal(insts.FormatI))
		Expect(inst.Rd).To(Equal(uint8(1)))
		Expect(inst.Rs1).To(Equal(uint8(2)))
		Expect(inst.Imm).To(Equal(int32(-3)))
	})

	It("should decode LUI with the immediate already shifted", func() {
		// lui x5, 0xDEADB
		inst := decoder.Decode(0xDEADB2B7)

		Expect(inst.Op).To(Equal(insts.OpLUI))
		Expect(inst.Rd).To(Equal(uint8(5)))
		Expect(uint32(inst.Imm)).To(Equal(uint32(0xDEADB000)))
	})

	It("should decode a backwards JAL offset", func() {
		// jal x1, -8
		inst := decoder.Decode(0xFF9FF0EF)

		Expect(inst.Op).To(Equal(insts.OpJAL))
		Expect(inst.Rd).To(Equal(uint8(1)))
		Expect(inst.Imm).To(Equal(int32(-8)))
	})

	It("should decode a branch offset", func() {
		// beq x1, x2, +16
		inst := decoder.Decode(0x00208863)

		Expect(inst.Op).To(Equal(insts.OpBEQ))
		Expect(inst.Rs1).To(Equal(uint8(1)))
		Expect(inst.Rs2).To(Equal(uint8(2)))
		Expect(inst.Imm).To(Equal(int32(16)))
	})

	It("should decode a store offset", func() {
		// sw x2, -4(x1)
		inst := decoder.Decode(0xFE20AE23)

		Expect(inst.Op).To(Equal(insts.OpSW))
		Expect(inst.Rs1).To(Equal(uint8(1)))
		Expect(inst.Rs2).To(Equal(uint8(2)))
		Expect(inst.Imm).To(Equal(int32(-4)))
	})

	It("should tell SRAI and SRLI apart by funct7", func() {
		// srli x1, x2, 4 / srai x1, x2, 4
		srli := decoder.Decode(0x00415093)
		srai := decoder.Decode(0x40415093)

		Expect(srli.Op).To(Equal(insts.OpSRLI))
		Expect(srai.Op).To(Equal(insts.OpSRAI))
		Expect(srai.Rs2).To(Equal(uint8(4)))
	})

	It("should decode CSRRW with the CSR address", func() {
		// csrrw x1, mstatus, x2
		inst := decoder.Decode(0x300110F3)

		Expect(inst.Op).To(Equal(insts.OpCSRRW))
		Expect(inst.Rd).To(Equal(uint8(1)))
		Expect(inst.Rs1).To(Equal(uint8(2)))
		Expect(inst.CSR).To(Equal(uint16(insts.CsrMStatus)))
	})

	It("should carry the zimm field for CSR immediate forms", func() {
		// csrrwi x1, mscratch, 21
		inst := decoder.Decode(0x340AD0F3)

		Expect(inst.Op).To(Equal(insts.OpCSRRWI))
		Expect(inst.Rs1).To(Equal(uint8(21)))
		Expect(inst.CSR).To(Equal(uint16(insts.CsrMScratch)))
	})

	It("should decode MRET, SRET and WFI exactly", func() {
		Expect(decoder.Decode(0x30200073).Op).To(Equal(insts.OpMRET))
		Expect(decoder.Decode(0x10200073).Op).To(Equal(insts.OpSRET))
		Expect(decoder.Decode(0x10500073).Op).To(Equal(insts.OpWFI))
	})

	It("should decode every enabled pattern's canonical encoding", func() {
		reg := newFrozenRegistry(insts.RV32I(), insts.Zicsr())
		d, err := insts.NewDecoder(reg)
		Expect(err).To(BeNil())

		for _, p := range reg.Patterns() {
			inst := d.Decode(p.Match)
			Expect(inst.Op).To(Equal(p.Op), "pattern %s", p.Name)
			Expect(inst.Format).To(Equal(p.Format), "pattern %s", p.Name)
		}
	})

	It("should yield OpIllegal for an unknown word", func() {
		inst := decoder.Decode(0xFFFFFFFF)

		Expect(inst.Op).To(Equal(insts.OpIllegal))
		Expect(inst.Raw).To(Equal(uint32(0xFFFFFFFF)))
	})

	It("should yield OpIllegal for an all-zero word", func() {
		Expect(decoder.Decode(0).Op).To(Equal(insts.OpIllegal))
	})

	Context("with zicsr disabled", func() {
		BeforeEach(func() {
			reg := insts.NewRegistry()
			Expect(reg.Register(insts.RV32I())).To(Succeed())
			Expect(reg.Register(insts.Zicsr())).To(Succeed())
			Expect(reg.SetEnabled("zicsr", false)).To(Succeed())
			Expect(reg.Freeze()).To(Succeed())

			var err error
			decoder, err = insts.NewDecoder(reg)
			Expect(err).To(BeNil())
		})

		It("should not decode CSR instructions", func() {
			Expect(decoder.Decode(0x300110F3).Op).To(Equal(insts.OpIllegal))
			Expect(decoder.Decode(0x30200073).Op).To(Equal(insts.OpIllegal))
		})

		It("should still decode the base set", func() {
			Expect(decoder.Decode(0xFFD10093).Op).To(Equal(insts.OpADDI))
		})
	})
})

var _ = Describe("Registry", func() {
	It("should reject duplicate extension IDs", func() {
		reg := insts.NewRegistry()
		Expect(reg.Register(insts.RV32I())).To(Succeed())
		Expect(reg.Register(insts.RV32I())).To(HaveOccurred())
	})

	It("should reject overlapping decode patterns", func() {
		reg := insts.NewRegistry()
		Expect(reg.Register(insts.RV32I())).To(Succeed())

		clash := &insts.Extension{
			ID:      "clash",
			MISABit: -1,
			Patterns: []insts.Pattern{
				// Same encoding space as addi.
				{Name: "addx", Op: insts.OpADD, Format: insts.FormatI,
					Mask: 0x0000707F, Match: 0x00000013},
			},
		}
		Expect(reg.Register(clash)).To(HaveOccurred())
	})

	It("should reject patterns that do not constrain the opcode field", func() {
		reg := insts.NewRegistry()
		bad := &insts.Extension{
			ID:      "bad",
			MISABit: -1,
			Patterns: []insts.Pattern{
				{Name: "loose", Op: insts.OpADD, Format: insts.FormatR,
					Mask: 0x0000007E, Match: 0x00000012},
			},
		}
		Expect(reg.Register(bad)).To(HaveOccurred())
	})

	It("should reject duplicate CSR addresses across extensions", func() {
		reg := insts.NewRegistry()
		Expect(reg.Register(insts.Zicsr())).To(Succeed())

		clash := &insts.Extension{
			ID:      "clash",
			MISABit: -1,
			CSRs:    []insts.CSRDef{{Addr: insts.CsrMStatus, Name: "mine"}},
		}
		Expect(reg.Register(clash)).To(HaveOccurred())
	})

	It("should allow a conflicting extension as long as one side is disabled", func() {
		reg := insts.NewRegistry()
		Expect(reg.Register(insts.RV32I())).To(Succeed())

		clash := &insts.Extension{
			ID:      "clash",
			MISABit: -1,
			Patterns: []insts.Pattern{
				{Name: "addx", Op: insts.OpADD, Format: insts.FormatI,
					Mask: 0x0000707F, Match: 0x00000013},
			},
		}
		Expect(reg.SetEnabled("rv32i", false)).To(Succeed())
		Expect(reg.Register(clash)).To(Succeed())

		// Re-enabling makes the overlap visible again at freeze time.
		Expect(reg.SetEnabled("rv32i", true)).To(Succeed())
		Expect(reg.Freeze()).To(HaveOccurred())
	})

	It("should refuse registration and toggling after freeze", func() {
		reg := insts.NewRegistry()
		Expect(reg.Register(insts.RV32I())).To(Succeed())
		Expect(reg.Freeze()).To(Succeed())

		Expect(reg.Register(insts.Zicsr())).To(HaveOccurred())
		Expect(reg.SetEnabled("rv32i", false)).To(HaveOccurred())
		Expect(reg.Frozen()).To(BeTrue())
	})

	It("should report misa bits for the enabled extensions", func() {
		reg := insts.NewRegistry()
		Expect(reg.Register(insts.RV32I())).To(Succeed())
		Expect(reg.Register(insts.Zicsr())).To(Succeed())

		Expect(reg.MISABits()).To(Equal(uint32(1 << 8)))
	})
})
