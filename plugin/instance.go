package plugin

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/spear-sim/spear/mem"
)

// Instance is one loaded plugin. It implements mem.Device, so it maps onto
// the bus like any other region, and emu.Ticker when the module exports
// tick. An instance is single-threaded and not reentrant: a plugin that
// faults back into itself through a host function is rejected.
type Instance struct {
	name    string
	runtime wazero.Runtime
	mod     api.Module

	readFn  api.Function
	writeFn api.Function
	tickFn  api.Function

	window  []byte
	sink    InterruptSink
	irqLine int
	timeout time.Duration

	busy    bool
	offline bool
}

// Name returns the configured instance name.
func (p *Instance) Name() string {
	return p.name
}

// Read forwards a load to the plugin's read entry point.
func (p *Instance) Read(off, width uint32) (uint32, error) {
	results, err := p.call(p.readFn, uint64(off), uint64(width))
	if err != nil {
		return 0, err
	}
	return truncate(results[0], width), nil
}

// Write forwards a store to the plugin's write entry point.
func (p *Instance) Write(off, width, val uint32) error {
	_, err := p.call(p.writeFn, uint64(off), uint64(width), uint64(val))
	return err
}

// Tick gives the plugin a time slice. Modules without a tick export are
// silently skipped.
func (p *Instance) Tick() error {
	if p.tickFn == nil {
		return nil
	}
	_, err := p.call(p.tickFn)
	return err
}

// Close tears down the plugin runtime.
func (p *Instance) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// call invokes a plugin entry point under the per-call deadline. A timeout
// takes the instance offline permanently; a plugin trap is reported for
// this access only.
func (p *Instance) call(fn api.Function, params ...uint64) ([]uint64, error) {
	if p.offline {
		return nil, fmt.Errorf("%w: plugin %s is offline", mem.ErrDeviceFault, p.name)
	}
	if p.busy {
		return nil, fmt.Errorf("%w: plugin %s reentered", mem.ErrDeviceFault, p.name)
	}
	p.busy = true
	defer func() { p.busy = false }()

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	results, err := fn.Call(ctx, params...)
	if err == nil {
		return results, nil
	}

	// WithCloseOnContextDone closes the whole module when the deadline
	// fires, so a timed-out plugin cannot serve further accesses.
	var exitErr *sys.ExitError
	if ctx.Err() != nil || (errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded) {
		p.offline = true
		return nil, fmt.Errorf("%w: plugin %s exceeded its %v budget",
			mem.ErrDeviceTimeout, p.name, p.timeout)
	}
	return nil, fmt.Errorf("%w: plugin %s: %v", mem.ErrDeviceFault, p.name, err)
}

// truncate keeps the low `width` bytes of a plugin-provided value.
func truncate(v uint64, width uint32) uint32 {
	if width >= 4 {
		return uint32(v)
	}
	return uint32(v & (1<<(8*width) - 1))
}

// hostMMIORead serves env.mmio_read: a little-endian read from the
// instance's private window. Out-of-window reads return zero.
func (p *Instance) hostMMIORead(_ context.Context, off, width uint32) uint64 {
	if !p.windowOK(off, width) {
		return 0
	}
	switch width {
	case 1:
		return uint64(p.window[off])
	case 2:
		return uint64(binary.LittleEndian.Uint16(p.window[off:]))
	default:
		return uint64(binary.LittleEndian.Uint32(p.window[off:]))
	}
}

// hostMMIOWrite serves env.mmio_write: a little-endian write to the
// instance's private window. Out-of-window writes are dropped.
func (p *Instance) hostMMIOWrite(_ context.Context, off, width uint32, val uint64) {
	if !p.windowOK(off, width) {
		return
	}
	switch width {
	case 1:
		p.window[off] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(p.window[off:], uint16(val))
	default:
		binary.LittleEndian.PutUint32(p.window[off:], uint32(val))
	}
}

// hostRaiseIRQ serves env.raise_irq: assert the configured interrupt line.
func (p *Instance) hostRaiseIRQ(_ context.Context) {
	if p.irqLine < 0 || p.sink == nil {
		return
	}
	p.sink.RaiseIRQ(uint(p.irqLine))
}

func (p *Instance) windowOK(off, width uint32) bool {
	if width != 1 && width != 2 && width != 4 {
		return false
	}
	return uint64(off)+uint64(width) <= uint64(len(p.window))
}
