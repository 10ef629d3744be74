package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spear-sim/spear/emu"
	"github.com/spear-sim/spear/insts"
	"github.com/spear-sim/spear/mem"
	"github.com/spear-sim/spear/plugin"
)

// Machine is an assembled emulator together with the plugin instances it
// owns.
type Machine struct {
	Emulator *emu.Emulator
	RAM      *mem.Memory
	RAMBase  uint32
	Plugins  []*plugin.Instance
}

// Close tears down the plugin runtimes.
func (m *Machine) Close(ctx context.Context) error {
	var first error
	for _, p := range m.Plugins {
		if err := p.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Build assembles a machine from the configuration: registry, bus, RAM,
// plugins, emulator. Every failure here is a configuration error; the
// machine either comes up whole or not at all.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...emu.EmulatorOption) (*Machine, error) {
	registry := insts.NewRegistry()
	if err := registry.Register(insts.RV32I()); err != nil {
		return nil, err
	}
	if err := registry.Register(insts.Zicsr()); err != nil {
		return nil, err
	}
	for id, enabled := range cfg.Extensions {
		if err := registry.SetEnabled(id, enabled); err != nil {
			return nil, err
		}
	}

	var busOpts []mem.BusOption
	if cfg.LooseAlignment {
		busOpts = append(busOpts, mem.WithLooseAlignment())
	}
	bus := mem.NewBus(busOpts...)

	ram := mem.NewMemory(uint32(cfg.RAMSize))
	if err := bus.MapRAM(uint32(cfg.RAMBase), ram); err != nil {
		return nil, err
	}

	emuOpts := []emu.EmulatorOption{
		emu.WithRegistry(registry),
		emu.WithBus(bus),
		emu.WithMaxInstructions(cfg.MaxInstructions),
		emu.WithTickQuantum(cfg.TickQuantum),
		emu.WithLogger(logger),
	}
	emuOpts = append(emuOpts, opts...)

	emulator, err := emu.NewEmulator(emuOpts...)
	if err != nil {
		return nil, err
	}
	if cfg.MEDeleg != 0 {
		if err := emulator.WriteCSR(insts.CsrMEDeleg, uint32(cfg.MEDeleg)); err != nil {
			return nil, err
		}
	}
	if cfg.MIDeleg != 0 {
		if err := emulator.WriteCSR(insts.CsrMIDeleg, uint32(cfg.MIDeleg)); err != nil {
			return nil, err
		}
	}

	m := &Machine{
		Emulator: emulator,
		RAM:      ram,
		RAMBase:  uint32(cfg.RAMBase),
	}

	for _, pc := range cfg.Plugins {
		wasm, err := os.ReadFile(pc.Path)
		if err != nil {
			m.Close(ctx)
			return nil, fmt.Errorf("plugin %q: %w", pc.Name, err)
		}

		inst, err := plugin.Load(ctx, wasm, plugin.Config{
			Name:    pc.Name,
			IRQLine: pc.IRQLine,
			Timeout: time.Duration(pc.TimeoutMS) * time.Millisecond,
		}, emulator)
		if err != nil {
			m.Close(ctx)
			return nil, err
		}
		m.Plugins = append(m.Plugins, inst)

		if err := bus.MapDevice(pc.Name, uint32(pc.Base), uint32(pc.Size), inst); err != nil {
			m.Close(ctx)
			return nil, err
		}
	}

	return m, nil
}
