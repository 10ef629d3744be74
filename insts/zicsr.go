package insts

// CSR addresses defined by the Zicsr extension. The access policy is
// encoded in the address: bits [9:8] name the minimum privilege mode and
// bits [11:10] == 0b11 mark the register read-only.
const (
	// User counters/timers.
	CsrCycle    = 0xC00
	CsrTime     = 0xC01
	CsrInstret  = 0xC02
	CsrCycleH   = 0xC80
	CsrTimeH    = 0xC81
	CsrInstretH = 0xC82

	// Supervisor trap setup and handling.
	CsrSStatus    = 0x100
	CsrSIE        = 0x104
	CsrSTVec      = 0x105
	CsrSCounterEn = 0x106
	CsrSScratch   = 0x140
	CsrSEPC       = 0x141
	CsrSCause     = 0x142
	CsrSTVal      = 0x143
	CsrSIP        = 0x144
	CsrSATP       = 0x180

	// Machine information.
	CsrMVendorID = 0xF11
	CsrMArchID   = 0xF12
	CsrMImpID    = 0xF13
	CsrMHartID   = 0xF14

	// Machine trap setup and handling.
	CsrMStatus    = 0x300
	CsrMISA       = 0x301
	CsrMEDeleg    = 0x302
	CsrMIDeleg    = 0x303
	CsrMIE        = 0x304
	CsrMTVec      = 0x305
	CsrMCounterEn = 0x306
	CsrMScratch   = 0x340
	CsrMEPC       = 0x341
	CsrMCause     = 0x342
	CsrMTVal      = 0x343
	CsrMIP        = 0x344

	// Machine counters.
	CsrMCycle    = 0xB00
	CsrMInstret  = 0xB02
	CsrMCycleH   = 0xB80
	CsrMInstretH = 0xB82

	// Physical memory protection.
	CsrPMPCfg0   = 0x3A0
	CsrPMPAddr0  = 0x3B0
	CsrPMPAddr15 = 0x3BF
)

// Zicsr returns the control/status register extension: the six CSR access
// instructions, the trap-return and wait instructions, and the machine,
// supervisor, and user-counter CSR files.
func Zicsr() *Extension {
	ext := &Extension{
		ID:      "zicsr",
		MISABit: -1,
		Patterns: []Pattern{
			{Name: "csrrw", Op: OpCSRRW, Format: FormatSystem, Mask: 0x0000707F, Match: 0x00001073},
			{Name: "csrrs", Op: OpCSRRS, Format: FormatSystem, Mask: 0x0000707F, Match: 0x00002073},
			{Name: "csrrc", Op: OpCSRRC, Format: FormatSystem, Mask: 0x0000707F, Match: 0x00003073},
			{Name: "csrrwi", Op: OpCSRRWI, Format: FormatSystem, Mask: 0x0000707F, Match: 0x00005073},
			{Name: "csrrsi", Op: OpCSRRSI, Format: FormatSystem, Mask: 0x0000707F, Match: 0x00006073},
			{Name: "csrrci", Op: OpCSRRCI, Format: FormatSystem, Mask: 0x0000707F, Match: 0x00007073},

			{Name: "sret", Op: OpSRET, Format: FormatSystem, Mask: 0xFFFFFFFF, Match: 0x10200073},
			{Name: "mret", Op: OpMRET, Format: FormatSystem, Mask: 0xFFFFFFFF, Match: 0x30200073},
			{Name: "wfi", Op: OpWFI, Format: FormatSystem, Mask: 0xFFFFFFFF, Match: 0x10500073},
		},
		CSRs: []CSRDef{
			{Addr: CsrCycle, Name: "cycle"},
			{Addr: CsrTime, Name: "time"},
			{Addr: CsrInstret, Name: "instret"},
			{Addr: CsrCycleH, Name: "cycleh"},
			{Addr: CsrTimeH, Name: "timeh"},
			{Addr: CsrInstretH, Name: "instreth"},

			{Addr: CsrSStatus, Name: "sstatus"},
			{Addr: CsrSIE, Name: "sie"},
			{Addr: CsrSTVec, Name: "stvec"},
			{Addr: CsrSCounterEn, Name: "scounteren"},
			{Addr: CsrSScratch, Name: "sscratch"},
			{Addr: CsrSEPC, Name: "sepc"},
			{Addr: CsrSCause, Name: "scause"},
			{Addr: CsrSTVal, Name: "stval"},
			{Addr: CsrSIP, Name: "sip"},
			{Addr: CsrSATP, Name: "satp"},

			{Addr: CsrMVendorID, Name: "mvendorid"},
			{Addr: CsrMArchID, Name: "marchid"},
			{Addr: CsrMImpID, Name: "mimpid"},
			{Addr: CsrMHartID, Name: "mhartid"},

			{Addr: CsrMStatus, Name: "mstatus"},
			{Addr: CsrMISA, Name: "misa"},
			{Addr: CsrMEDeleg, Name: "medeleg"},
			{Addr: CsrMIDeleg, Name: "mideleg"},
			{Addr: CsrMIE, Name: "mie"},
			{Addr: CsrMTVec, Name: "mtvec"},
			{Addr: CsrMCounterEn, Name: "mcounteren"},
			{Addr: CsrMScratch, Name: "mscratch"},
			{Addr: CsrMEPC, Name: "mepc"},
			{Addr: CsrMCause, Name: "mcause"},
			{Addr: CsrMTVal, Name: "mtval"},
			{Addr: CsrMIP, Name: "mip"},

			{Addr: CsrMCycle, Name: "mcycle"},
			{Addr: CsrMInstret, Name: "minstret"},
			{Addr: CsrMCycleH, Name: "mcycleh"},
			{Addr: CsrMInstretH, Name: "minstreth"},
		},
	}

	// The riscv-tests "p" environment initializes PMP before anything else,
	// so the PMP file must exist even though the simulator does not enforce
	// it.
	for i := 0; i < 4; i++ {
		ext.CSRs = append(ext.CSRs, CSRDef{
			Addr: CsrPMPCfg0 + uint16(i),
			Name: "pmpcfg" + string(rune('0'+i)),
		})
	}
	for i := 0; i < 16; i++ {
		name := "pmpaddr" + itoa(i)
		ext.CSRs = append(ext.CSRs, CSRDef{Addr: CsrPMPAddr0 + uint16(i), Name: name})
	}

	return ext
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return string(rune('0'+i/10)) + string(rune('0'+i%10))
}
