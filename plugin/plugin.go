// Package plugin hosts sandboxed WebAssembly device models. Each plugin is
// instantiated in its own isolated runtime and talks to the simulator only
// through its exported entry points and a small set of host functions; it
// never touches guest RAM or host memory directly.
//
// A device module exports:
//
//	read(off, width i32) -> i64    handle a load from the device window
//	write(off, width i32, val i64) handle a store to the device window
//	tick()                         optional, called every tick quantum
//
// and may import from module "env":
//
//	mmio_read(off, width i32) -> i64   read the device's private window
//	mmio_write(off, width i32, val i64) write the device's private window
//	raise_irq()                         assert the device's interrupt line
//
// Values cross the boundary as i64 carrying the little-endian bytes of the
// access in the low `width` bytes.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
)

// DefaultTimeout bounds each entry-point call. A plugin that exceeds it is
// taken offline and every later access faults.
const DefaultTimeout = 50 * time.Millisecond

// DefaultWindowSize is the size of the per-instance private window the
// mmio_read/mmio_write host functions address.
const DefaultWindowSize = 256

// InterruptSink receives interrupt requests from plugins. The emulator
// implements it by setting the matching mip bit.
type InterruptSink interface {
	RaiseIRQ(line uint)
}

// Config describes one plugin instance.
type Config struct {
	// Name identifies the instance in errors and logs.
	Name string

	// IRQLine is the interrupt line raise_irq asserts, as an mip bit
	// index. Zero or negative means the plugin has no interrupt
	// capability and raise_irq is a no-op; bit 0 is not a real interrupt
	// source.
	IRQLine int

	// Timeout bounds each entry-point call; zero means DefaultTimeout.
	Timeout time.Duration

	// WindowSize is the private window size in bytes; zero means
	// DefaultWindowSize.
	WindowSize uint32
}

// Load compiles and instantiates a device module from WebAssembly bytes.
// The instance gets a fresh runtime of its own, so a misbehaving plugin
// cannot observe or corrupt any other. Compile errors, missing exports,
// and out-of-range interrupt lines are configuration errors.
func Load(ctx context.Context, wasm []byte, cfg Config, sink InterruptSink) (*Instance, error) {
	if cfg.Name == "" {
		cfg.Name = "plugin"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.IRQLine >= 32 {
		return nil, fmt.Errorf("plugin %s: interrupt line %d out of range", cfg.Name, cfg.IRQLine)
	}
	if cfg.IRQLine <= 0 {
		cfg.IRQLine = -1
	}

	inst := &Instance{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		window:  make([]byte, cfg.WindowSize),
		sink:    sink,
		irqLine: cfg.IRQLine,
	}

	// The interpreter honors context cancellation mid-execution, which is
	// what enforces the per-call timeout on runaway plugins.
	rcfg := wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)
	inst.runtime = wazero.NewRuntimeWithConfig(ctx, rcfg)

	env := inst.runtime.NewHostModuleBuilder("env")
	env.NewFunctionBuilder().WithFunc(inst.hostMMIORead).Export("mmio_read")
	env.NewFunctionBuilder().WithFunc(inst.hostMMIOWrite).Export("mmio_write")
	env.NewFunctionBuilder().WithFunc(inst.hostRaiseIRQ).Export("raise_irq")
	if _, err := env.Instantiate(ctx); err != nil {
		inst.runtime.Close(ctx)
		return nil, fmt.Errorf("plugin %s: host module: %w", cfg.Name, err)
	}

	compiled, err := inst.runtime.CompileModule(ctx, wasm)
	if err != nil {
		inst.runtime.Close(ctx)
		return nil, fmt.Errorf("plugin %s: compile: %w", cfg.Name, err)
	}

	mcfg := wazero.NewModuleConfig().WithName(cfg.Name).WithStartFunctions()
	mod, err := inst.runtime.InstantiateModule(ctx, compiled, mcfg)
	if err != nil {
		inst.runtime.Close(ctx)
		return nil, fmt.Errorf("plugin %s: instantiate: %w", cfg.Name, err)
	}
	inst.mod = mod

	inst.readFn = mod.ExportedFunction("read")
	inst.writeFn = mod.ExportedFunction("write")
	if inst.readFn == nil || inst.writeFn == nil {
		inst.runtime.Close(ctx)
		return nil, fmt.Errorf("plugin %s: must export read and write", cfg.Name)
	}
	inst.tickFn = mod.ExportedFunction("tick")

	return inst, nil
}
