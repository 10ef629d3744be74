// Package config holds the machine configuration: the enabled ISA
// extensions, the memory map, and the device plugins. Configuration errors
// are fatal before the first instruction executes; nothing here ever turns
// into an architectural trap.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// HexUint32 is a uint32 that accepts "0x"-prefixed hex strings in JSON, so
// memory maps read naturally.
type HexUint32 uint32

// UnmarshalJSON accepts either a JSON number or a string like "0x80000000".
func (h *HexUint32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", s, err)
		}
		*h = HexUint32(v)
		return nil
	}

	var n uint64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("address must be a number or hex string: %s", data)
	}
	if n > 1<<32-1 {
		return fmt.Errorf("address 0x%X exceeds 32 bits", n)
	}
	*h = HexUint32(n)
	return nil
}

// MarshalJSON renders the value as a hex string.
func (h HexUint32) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%08X", uint32(h)))
}

// Plugin describes one WebAssembly device instance to map onto the bus.
type Plugin struct {
	// Name identifies the instance in errors and logs.
	Name string `json:"name"`

	// Path is the WebAssembly module file.
	Path string `json:"path"`

	// Base and Size give the bus window [Base, Base+Size).
	Base HexUint32 `json:"base"`
	Size HexUint32 `json:"size"`

	// IRQLine is the mip bit raise_irq asserts. Zero or negative disables
	// the capability; bit 0 is not a real interrupt source.
	IRQLine int `json:"irq_line"`

	// TimeoutMS bounds each plugin call in milliseconds; 0 uses the
	// package default.
	TimeoutMS uint `json:"timeout_ms"`
}

// Config is the machine configuration.
type Config struct {
	// Extensions maps extension IDs to their enabled state. Extensions
	// not listed keep their default (enabled). Unknown IDs are rejected
	// when the machine is assembled.
	Extensions map[string]bool `json:"extensions"`

	// RAMBase and RAMSize place the flat RAM. Defaults: 0x80000000, 2 MiB.
	RAMBase HexUint32 `json:"ram_base"`
	RAMSize HexUint32 `json:"ram_size"`

	// Plugins lists the device instances to map.
	Plugins []Plugin `json:"plugins"`

	// MEDeleg and MIDeleg seed the exception and interrupt delegation
	// CSRs, so supervisor-mode guests start with their traps routed.
	MEDeleg HexUint32 `json:"medeleg"`
	MIDeleg HexUint32 `json:"mideleg"`

	// MaxInstructions bounds the run; 0 means unbounded.
	MaxInstructions uint64 `json:"max_instructions"`

	// TickQuantum is how many retired instructions pass between device
	// ticks; 0 disables ticking.
	TickQuantum uint64 `json:"tick_quantum"`

	// LooseAlignment permits misaligned data accesses instead of trapping.
	LooseAlignment bool `json:"loose_alignment"`
}

// Default returns the configuration of the plain machine: full RV32I plus
// Zicsr, 2 MiB of RAM at the conventional DRAM base, no devices.
func Default() *Config {
	return &Config{
		Extensions:  map[string]bool{},
		RAMBase:     0x8000_0000,
		RAMSize:     2 << 20,
		TickQuantum: 1024,
	}
}

// LoadConfig loads a Config from a JSON file, on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects configurations that cannot describe a machine. Overlap
// between regions is checked later, when the bus is assembled.
func (c *Config) Validate() error {
	if c.RAMSize == 0 {
		return fmt.Errorf("ram_size must be > 0")
	}
	if uint64(c.RAMBase)+uint64(c.RAMSize) > 1<<32 {
		return fmt.Errorf("RAM [0x%08X, +0x%X) wraps the address space", uint32(c.RAMBase), uint32(c.RAMSize))
	}

	names := map[string]bool{}
	for i := range c.Plugins {
		p := &c.Plugins[i]
		if p.Name == "" {
			return fmt.Errorf("plugin %d: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("plugin %q listed twice", p.Name)
		}
		names[p.Name] = true
		if p.Path == "" {
			return fmt.Errorf("plugin %q: path is required", p.Name)
		}
		if p.Size == 0 {
			return fmt.Errorf("plugin %q: size must be > 0", p.Name)
		}
		if p.IRQLine >= 32 {
			return fmt.Errorf("plugin %q: irq_line %d out of range", p.Name, p.IRQLine)
		}
	}
	return nil
}
