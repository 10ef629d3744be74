package insts

import "fmt"

// Decoder turns instruction words into decoded Instructions. The lookup
// table is compiled once from a frozen Registry and is immutable for the
// run, so Decode is a pure lookup with no side effects.
type Decoder struct {
	// buckets holds the patterns grouped by major opcode, most specific
	// mask first.
	buckets [128][]Pattern
}

// NewDecoder compiles the enabled patterns of a frozen registry into a
// decode table.
func NewDecoder(reg *Registry) (*Decoder, error) {
	if !reg.Frozen() {
		return nil, fmt.Errorf("registry must be frozen before building a decoder")
	}

	d := &Decoder{}
	for _, p := range reg.Patterns() {
		op := p.Opcode()
		bucket := d.buckets[op]
		pos := len(bucket)
		for i, q := range bucket {
			if moreSpecific(p, q) {
				pos = i
				break
			}
		}
		bucket = append(bucket, Pattern{})
		copy(bucket[pos+1:], bucket[pos:])
		bucket[pos] = p
		d.buckets[op] = bucket
	}
	return d, nil
}

// Decode decodes a 32-bit RV32 instruction word. A word matching no enabled
// pattern yields an Instruction with OpIllegal; the execution loop converts
// that into an illegal-instruction trap.
func (d *Decoder) Decode(word uint32) *Instruction {
	for _, p := range d.buckets[word&0x7F] {
		if word&p.Mask == p.Match {
			return build(p, word)
		}
	}
	return &Instruction{Op: OpIllegal, Format: FormatUnknown, Raw: word}
}

// build extracts the operand fields for the matched pattern.
func build(p Pattern, word uint32) *Instruction {
	inst := &Instruction{Op: p.Op, Format: p.Format, Raw: word}

	switch p.Format {
	case FormatR:
		inst.Rd = rd(word)
		inst.Rs1 = rs1(word)
		inst.Rs2 = rs2(word)
	case FormatI:
		inst.Rd = rd(word)
		inst.Rs1 = rs1(word)
		// Rs2 doubles as the shamt field for immediate shifts.
		inst.Rs2 = rs2(word)
		inst.Imm = immI(word)
	case FormatS:
		inst.Rs1 = rs1(word)
		inst.Rs2 = rs2(word)
		inst.Imm = immS(word)
	case FormatB:
		inst.Rs1 = rs1(word)
		inst.Rs2 = rs2(word)
		inst.Imm = immB(word)
	case FormatU:
		inst.Rd = rd(word)
		inst.Imm = immU(word)
	case FormatJ:
		inst.Rd = rd(word)
		inst.Imm = immJ(word)
	case FormatSystem:
		inst.Rd = rd(word)
		// Rs1 doubles as the zimm field for the CSR immediate forms.
		inst.Rs1 = rs1(word)
		inst.CSR = uint16(word >> 20)
	case FormatFence:
		// fence/fence.i carry no operands the simulator acts on.
	}

	return inst
}
