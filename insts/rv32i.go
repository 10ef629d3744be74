package insts

// RV32I returns the base integer instruction set extension.
//
// Encodings follow the RV32 base opcode map: loads 0b0000011, stores
// 0b0100011, OP-IMM 0b0010011, OP 0b0110011, branches 0b1100011,
// LUI 0b0110111, AUIPC 0b0010111, JAL 0b1101111, JALR 0b1100111,
// MISC-MEM 0b0001111, SYSTEM 0b1110011.
func RV32I() *Extension {
	return &Extension{
		ID:      "rv32i",
		MISABit: 8, // misa 'I'
		Patterns: []Pattern{
			{Name: "lui", Op: OpLUI, Format: FormatU, Mask: 0x0000007F, Match: 0x00000037},
			{Name: "auipc", Op: OpAUIPC, Format: FormatU, Mask: 0x0000007F, Match: 0x00000017},

			{Name: "jal", Op: OpJAL, Format: FormatJ, Mask: 0x0000007F, Match: 0x0000006F},
			{Name: "jalr", Op: OpJALR, Format: FormatI, Mask: 0x0000707F, Match: 0x00000067},

			{Name: "beq", Op: OpBEQ, Format: FormatB, Mask: 0x0000707F, Match: 0x00000063},
			{Name: "bne", Op: OpBNE, Format: FormatB, Mask: 0x0000707F, Match: 0x00001063},
			{Name: "blt", Op: OpBLT, Format: FormatB, Mask: 0x0000707F, Match: 0x00004063},
			{Name: "bge", Op: OpBGE, Format: FormatB, Mask: 0x0000707F, Match: 0x00005063},
			{Name: "bltu", Op: OpBLTU, Format: FormatB, Mask: 0x0000707F, Match: 0x00006063},
			{Name: "bgeu", Op: OpBGEU, Format: FormatB, Mask: 0x0000707F, Match: 0x00007063},

			{Name: "lb", Op: OpLB, Format: FormatI, Mask: 0x0000707F, Match: 0x00000003},
			{Name: "lh", Op: OpLH, Format: FormatI, Mask: 0x0000707F, Match: 0x00001003},
			{Name: "lw", Op: OpLW, Format: FormatI, Mask: 0x0000707F, Match: 0x00002003},
			{Name: "lbu", Op: OpLBU, Format: FormatI, Mask: 0x0000707F, Match: 0x00004003},
			{Name: "lhu", Op: OpLHU, Format: FormatI, Mask: 0x0000707F, Match: 0x00005003},

			{Name: "sb", Op: OpSB, Format: FormatS, Mask: 0x0000707F, Match: 0x00000023},
			{Name: "sh", Op: OpSH, Format: FormatS, Mask: 0x0000707F, Match: 0x00001023},
			{Name: "sw", Op: OpSW, Format: FormatS, Mask: 0x0000707F, Match: 0x00002023},

			{Name: "addi", Op: OpADDI, Format: FormatI, Mask: 0x0000707F, Match: 0x00000013},
			{Name: "slti", Op: OpSLTI, Format: FormatI, Mask: 0x0000707F, Match: 0x00002013},
			{Name: "sltiu", Op: OpSLTIU, Format: FormatI, Mask: 0x0000707F, Match: 0x00003013},
			{Name: "xori", Op: OpXORI, Format: FormatI, Mask: 0x0000707F, Match: 0x00004013},
			{Name: "ori", Op: OpORI, Format: FormatI, Mask: 0x0000707F, Match: 0x00006013},
			{Name: "andi", Op: OpANDI, Format: FormatI, Mask: 0x0000707F, Match: 0x00007013},
			{Name: "slli", Op: OpSLLI, Format: FormatI, Mask: 0xFE00707F, Match: 0x00001013},
			{Name: "srli", Op: OpSRLI, Format: FormatI, Mask: 0xFE00707F, Match: 0x00005013},
			{Name: "srai", Op: OpSRAI, Format: FormatI, Mask: 0xFE00707F, Match: 0x40005013},

			{Name: "add", Op: OpADD, Format: FormatR, Mask: 0xFE00707F, Match: 0x00000033},
			{Name: "sub", Op: OpSUB, Format: FormatR, Mask: 0xFE00707F, Match: 0x40000033},
			{Name: "sll", Op: OpSLL, Format: FormatR, Mask: 0xFE00707F, Match: 0x00001033},
			{Name: "slt", Op: OpSLT, Format: FormatR, Mask: 0xFE00707F, Match: 0x00002033},
			{Name: "sltu", Op: OpSLTU, Format: FormatR, Mask: 0xFE00707F, Match: 0x00003033},
			{Name: "xor", Op: OpXOR, Format: FormatR, Mask: 0xFE00707F, Match: 0x00004033},
			{Name: "srl", Op: OpSRL, Format: FormatR, Mask: 0xFE00707F, Match: 0x00005033},
			{Name: "sra", Op: OpSRA, Format: FormatR, Mask: 0xFE00707F, Match: 0x40005033},
			{Name: "or", Op: OpOR, Format: FormatR, Mask: 0xFE00707F, Match: 0x00006033},
			{Name: "and", Op: OpAND, Format: FormatR, Mask: 0xFE00707F, Match: 0x00007033},

			{Name: "fence", Op: OpFENCE, Format: FormatFence, Mask: 0x0000707F, Match: 0x0000000F},
			{Name: "fence.i", Op: OpFENCEI, Format: FormatFence, Mask: 0x0000707F, Match: 0x0000100F},

			{Name: "ecall", Op: OpECALL, Format: FormatSystem, Mask: 0xFFFFFFFF, Match: 0x00000073},
			{Name: "ebreak", Op: OpEBREAK, Format: FormatSystem, Mask: 0xFFFFFFFF, Match: 0x00100073},
		},
	}
}
