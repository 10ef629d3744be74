// Package insts provides RV32 instruction definitions and decoding.
package insts

// Op identifies a RISC-V operation.
type Op uint16

// RV32I base integer operations.
const (
	OpIllegal Op = iota
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU
	OpSB
	OpSH
	OpSW
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpFENCE
	OpFENCEI
	OpECALL
	OpEBREAK
)

// Zicsr operations.
const (
	OpCSRRW Op = iota + 64
	OpCSRRS
	OpCSRRC
	OpCSRRWI
	OpCSRRSI
	OpCSRRCI
	OpMRET
	OpSRET
	OpWFI
)

var opNames = map[Op]string{
	OpIllegal: "illegal",
	OpLUI:     "lui",
	OpAUIPC:   "auipc",
	OpJAL:     "jal",
	OpJALR:    "jalr",
	OpBEQ:     "beq",
	OpBNE:     "bne",
	OpBLT:     "blt",
	OpBGE:     "bge",
	OpBLTU:    "bltu",
	OpBGEU:    "bgeu",
	OpLB:      "lb",
	OpLH:      "lh",
	OpLW:      "lw",
	OpLBU:     "lbu",
	OpLHU:     "lhu",
	OpSB:      "sb",
	OpSH:      "sh",
	OpSW:      "sw",
	OpADDI:    "addi",
	OpSLTI:    "slti",
	OpSLTIU:   "sltiu",
	OpXORI:    "xori",
	OpORI:     "ori",
	OpANDI:    "andi",
	OpSLLI:    "slli",
	OpSRLI:    "srli",
	OpSRAI:    "srai",
	OpADD:     "add",
	OpSUB:     "sub",
	OpSLL:     "sll",
	OpSLT:     "slt",
	OpSLTU:    "sltu",
	OpXOR:     "xor",
	OpSRL:     "srl",
	OpSRA:     "sra",
	OpOR:      "or",
	OpAND:     "and",
	OpFENCE:   "fence",
	OpFENCEI:  "fence.i",
	OpECALL:   "ecall",
	OpEBREAK:  "ebreak",
	OpCSRRW:   "csrrw",
	OpCSRRS:   "csrrs",
	OpCSRRC:   "csrrc",
	OpCSRRWI:  "csrrwi",
	OpCSRRSI:  "csrrsi",
	OpCSRRCI:  "csrrci",
	OpMRET:    "mret",
	OpSRET:    "sret",
	OpWFI:     "wfi",
}

// String returns the assembler mnemonic for the operation.
func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "op?"
}

// Format represents an instruction encoding format.
type Format uint8

// RV32 encoding formats.
const (
	FormatUnknown Format = iota
	FormatR              // register-register
	FormatI              // register-immediate, loads, jalr
	FormatS              // stores
	FormatB              // conditional branches
	FormatU              // lui, auipc
	FormatJ              // jal
	FormatSystem         // csr*, ecall/ebreak, mret/sret/wfi
	FormatFence          // fence, fence.i
)

// Instruction represents a decoded RV32 instruction. It is produced by the
// Decoder and never mutated afterwards.
type Instruction struct {
	Op     Op     // Operation
	Format Format // Encoding format
	Raw    uint32 // Original instruction word

	Rd  uint8 // Destination register
	Rs1 uint8 // First source register (zimm for CSR immediate forms)
	Rs2 uint8 // Second source register (shamt for immediate shifts)

	// Imm is the sign-extended immediate. For branches and jumps it is the
	// PC-relative byte offset; for U-format it is the already shifted upper
	// immediate.
	Imm int32

	// CSR is the 12-bit CSR address for FormatSystem instructions.
	CSR uint16
}

// Fields are extracted once at decode time. The bit layouts follow the RV32
// base encoding: rd [11:7], funct3 [14:12], rs1 [19:15], rs2 [24:20],
// funct7 [31:25].

func rd(word uint32) uint8  { return uint8((word >> 7) & 0x1F) }
func rs1(word uint32) uint8 { return uint8((word >> 15) & 0x1F) }
func rs2(word uint32) uint8 { return uint8((word >> 20) & 0x1F) }

// immI sign-extends the I-format immediate, bits [31:20].
func immI(word uint32) int32 {
	return int32(word) >> 20
}

// immS reassembles the S-format immediate from bits [31:25] and [11:7].
func immS(word uint32) int32 {
	imm := (word>>25)<<5 | (word>>7)&0x1F
	return int32(imm<<20) >> 20
}

// immB reassembles the B-format immediate: [12|10:5|4:1|11] << 1.
func immB(word uint32) int32 {
	imm := (word>>31)<<12 |
		(word>>25&0x3F)<<5 |
		(word>>8&0xF)<<1 |
		(word>>7&0x1)<<11
	return int32(imm<<19) >> 19
}

// immU keeps the upper 20 bits in place; the low 12 bits are zero.
func immU(word uint32) int32 {
	return int32(word & 0xFFFFF000)
}

// immJ reassembles the J-format immediate: [20|10:1|11|19:12] << 1.
func immJ(word uint32) int32 {
	imm := (word>>31)<<20 |
		(word>>21&0x3FF)<<1 |
		(word>>20&0x1)<<11 |
		(word>>12&0xFF)<<12
	return int32(imm<<11) >> 11
}
