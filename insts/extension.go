package insts

import (
	"fmt"
	"math/bits"
	"sort"
)

// Pattern describes one opcode encoding contributed by an extension. A word
// matches the pattern when word&Mask == Match. Mask must cover at least the
// 7-bit opcode field.
type Pattern struct {
	Name   string
	Op     Op
	Format Format
	Mask   uint32
	Match  uint32
}

// Opcode returns the major opcode field of the pattern.
func (p Pattern) Opcode() uint8 {
	return uint8(p.Match & 0x7F)
}

// overlaps reports whether some instruction word matches both patterns.
// That is the case exactly when the Match values agree on every bit both
// Masks constrain.
func (p Pattern) overlaps(q Pattern) bool {
	common := p.Mask & q.Mask
	return (p.Match^q.Match)&common == 0
}

// CSRDef declares a CSR address owned by an extension. Access policy is
// encoded in the address itself: bits [9:8] name the minimum privilege and
// bits [11:10] == 0b11 mark the register read-only.
type CSRDef struct {
	Addr uint16
	Name string
}

// Extension is a named, independently enable/disable-able set of opcodes
// and CSRs. Extensions are registered before the first fetch and immutable
// afterwards; there is no hot-reload.
type Extension struct {
	// ID is the lower-case extension name, e.g. "rv32i" or "zicsr".
	ID string

	// MISABit is the misa extension bit this extension sets, or -1.
	MISABit int

	Patterns []Pattern
	CSRs     []CSRDef
}

type registryEntry struct {
	ext     *Extension
	enabled bool
}

// Registry holds the set of registered ISA extensions. It is mutable until
// Freeze, read-only afterwards.
type Registry struct {
	entries []registryEntry
	frozen  bool
}

// NewRegistry creates an empty extension registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an extension, enabled by default. It fails when the
// registry is frozen, when the ID is already taken, when a pattern does not
// constrain the opcode field, or when the extension conflicts with an
// already registered enabled extension.
func (r *Registry) Register(ext *Extension) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", ext.ID)
	}
	for _, e := range r.entries {
		if e.ext.ID == ext.ID {
			return fmt.Errorf("extension %q registered twice", ext.ID)
		}
	}
	for _, p := range ext.Patterns {
		if p.Mask&0x7F != 0x7F {
			return fmt.Errorf("extension %q: pattern %s does not constrain the opcode field",
				ext.ID, p.Name)
		}
	}

	r.entries = append(r.entries, registryEntry{ext: ext, enabled: true})
	if err := r.checkConflicts(); err != nil {
		r.entries = r.entries[:len(r.entries)-1]
		return err
	}
	return nil
}

// SetEnabled flips an extension on or off. Only legal before Freeze.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot toggle %q", id)
	}
	for i := range r.entries {
		if r.entries[i].ext.ID == id {
			r.entries[i].enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("unknown extension %q", id)
}

// Freeze validates the enabled set one final time and makes the registry
// read-only. Decoders are built from frozen registries only.
func (r *Registry) Freeze() error {
	if err := r.checkConflicts(); err != nil {
		return err
	}
	r.frozen = true
	return nil
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	return r.frozen
}

// IsEnabled reports whether the named extension is registered and enabled.
// Disabled extensions behave as if their opcodes and CSRs do not exist.
func (r *Registry) IsEnabled(id string) bool {
	for _, e := range r.entries {
		if e.ext.ID == id {
			return e.enabled
		}
	}
	return false
}

// Patterns returns the decode patterns of all enabled extensions.
func (r *Registry) Patterns() []Pattern {
	var out []Pattern
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.ext.Patterns...)
		}
	}
	return out
}

// CSRs returns the CSR definitions of all enabled extensions, sorted by
// address.
func (r *Registry) CSRs() []CSRDef {
	var out []CSRDef
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.ext.CSRs...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// MISABits returns the misa extension bits contributed by the enabled
// extensions.
func (r *Registry) MISABits() uint32 {
	var bits uint32
	for _, e := range r.entries {
		if e.enabled && e.ext.MISABit >= 0 {
			bits |= 1 << uint(e.ext.MISABit)
		}
	}
	return bits
}

// checkConflicts rejects overlapping decode patterns and duplicate CSR
// addresses across the enabled extensions. Tie-break order between
// overlapping encodings is deliberately not defined; overlap is a
// configuration error.
func (r *Registry) checkConflicts() error {
	type owned struct {
		ext string
		p   Pattern
	}
	var pats []owned
	csrs := map[uint16]string{}

	for _, e := range r.entries {
		if !e.enabled {
			continue
		}
		for _, p := range e.ext.Patterns {
			for _, q := range pats {
				if p.overlaps(q.p) {
					return fmt.Errorf("decode pattern overlap: %s/%s and %s/%s",
						e.ext.ID, p.Name, q.ext, q.p.Name)
				}
			}
			pats = append(pats, owned{ext: e.ext.ID, p: p})
		}
		for _, c := range e.ext.CSRs {
			if prev, ok := csrs[c.Addr]; ok {
				return fmt.Errorf("CSR 0x%03X claimed by both %s and %s",
					c.Addr, prev, e.ext.ID)
			}
			csrs[c.Addr] = e.ext.ID
		}
	}
	return nil
}

// moreSpecific orders patterns by the number of constrained bits so the
// decoder tries the most specific encodings first.
func moreSpecific(a, b Pattern) bool {
	return bits.OnesCount32(a.Mask) > bits.OnesCount32(b.Mask)
}
