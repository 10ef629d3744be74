package mem

import (
	"errors"
	"fmt"
)

// FaultKind classifies a failed bus access.
type FaultKind uint8

// Bus fault kinds.
const (
	FaultUnmapped      FaultKind = iota // no region owns the address
	FaultMisaligned                     // address violates the width's alignment
	FaultPluginFault                    // device module raised an internal error
	FaultPluginTimeout                  // device module exceeded its access quota
)

// String returns a short name for the fault kind.
func (k FaultKind) String() string {
	switch k {
	case FaultUnmapped:
		return "unmapped"
	case FaultMisaligned:
		return "misaligned"
	case FaultPluginFault:
		return "plugin fault"
	case FaultPluginTimeout:
		return "plugin timeout"
	}
	return "fault?"
}

// AccessError describes a failed bus access. The execution loop converts it
// into an architectural trap; it never aborts the simulator.
type AccessError struct {
	Kind  FaultKind
	Addr  uint32
	Store bool
}

// Error implements the error interface.
func (e *AccessError) Error() string {
	op := "load"
	if e.Store {
		op = "store"
	}
	return fmt.Sprintf("%s %s at 0x%08X", e.Kind, op, e.Addr)
}

// Sentinel errors device implementations wrap so the bus can classify
// their failures.
var (
	// ErrDeviceFault marks an error raised inside a device module.
	ErrDeviceFault = errors.New("device fault")
	// ErrDeviceTimeout marks a device access that exceeded its quota.
	ErrDeviceTimeout = errors.New("device timeout")
)

// Device is a memory-mapped device occupying one bus region. Addresses are
// pre-translated into the device's local window [0, size).
type Device interface {
	Read(off, width uint32) (uint32, error)
	Write(off, width, val uint32) error
}

// Region is a half-open address range [Base, Base+Size) owned by either RAM
// or a device. Regions never overlap.
type Region struct {
	Name string
	Base uint32
	Size uint32

	ram *Memory
	dev Device
}

// Device returns the owning device, or nil for RAM regions.
func (r Region) Device() Device {
	return r.dev
}

func (r Region) end() uint64 {
	return uint64(r.Base) + uint64(r.Size)
}

// Bus routes every load/store address to the owning Region: RAM accesses go
// straight to memory, device accesses are forwarded synchronously with the
// address translated into the device's local window.
type Bus struct {
	regions    []Region
	looseAlign bool
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLooseAlignment disables the strict alignment requirement for data
// accesses. Instruction fetches stay 4-byte aligned regardless.
func WithLooseAlignment() BusOption {
	return func(b *Bus) {
		b.looseAlign = true
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MapRAM maps a RAM region at the given base address.
func (b *Bus) MapRAM(base uint32, m *Memory) error {
	return b.mapRegion(Region{Name: "ram", Base: base, Size: m.Size(), ram: m})
}

// MapDevice maps a device region at the given base address. The device
// owns the half-open window [base, base+size).
func (b *Bus) MapDevice(name string, base, size uint32, dev Device) error {
	return b.mapRegion(Region{Name: name, Base: base, Size: size, dev: dev})
}

func (b *Bus) mapRegion(r Region) error {
	if r.Size == 0 {
		return fmt.Errorf("region %q has zero size", r.Name)
	}
	if r.end() > 1<<32 {
		return fmt.Errorf("region %q wraps the 32-bit address space", r.Name)
	}
	for _, prev := range b.regions {
		if uint64(r.Base) < prev.end() && uint64(prev.Base) < r.end() {
			return fmt.Errorf("region %q [0x%08X,0x%X) overlaps %q [0x%08X,0x%X)",
				r.Name, r.Base, r.end(), prev.Name, prev.Base, prev.end())
		}
	}
	b.regions = append(b.regions, r)
	return nil
}

// Regions returns a copy of the mapped regions, for enumeration.
func (b *Bus) Regions() []Region {
	out := make([]Region, len(b.regions))
	copy(out, b.regions)
	return out
}

// Read performs a load of the given width (1, 2 or 4 bytes).
func (b *Bus) Read(addr, width uint32) (uint32, *AccessError) {
	if fault := b.check(addr, width, false); fault != nil {
		return 0, fault
	}
	r := b.owner(addr, width)
	if r == nil {
		return 0, &AccessError{Kind: FaultUnmapped, Addr: addr}
	}

	off := addr - r.Base
	if r.ram != nil {
		return r.ram.readAt(off, width), nil
	}

	val, err := r.dev.Read(off, width)
	if err != nil {
		return 0, deviceFault(err, addr, false)
	}
	return val, nil
}

// Write performs a store of the given width (1, 2 or 4 bytes).
func (b *Bus) Write(addr, width, val uint32) *AccessError {
	if fault := b.check(addr, width, true); fault != nil {
		return fault
	}
	r := b.owner(addr, width)
	if r == nil {
		return &AccessError{Kind: FaultUnmapped, Addr: addr, Store: true}
	}

	off := addr - r.Base
	if r.ram != nil {
		r.ram.writeAt(off, width, val)
		return nil
	}

	if err := r.dev.Write(off, width, val); err != nil {
		return deviceFault(err, addr, true)
	}
	return nil
}

func (b *Bus) check(addr, width uint32, store bool) *AccessError {
	if !b.looseAlign && addr%width != 0 {
		return &AccessError{Kind: FaultMisaligned, Addr: addr, Store: store}
	}
	return nil
}

// owner finds the region containing the whole access, or nil. An access
// straddling a region boundary is treated as unmapped.
func (b *Bus) owner(addr, width uint32) *Region {
	for i := range b.regions {
		r := &b.regions[i]
		if addr >= r.Base && uint64(addr)+uint64(width) <= r.end() {
			return r
		}
	}
	return nil
}

func deviceFault(err error, addr uint32, store bool) *AccessError {
	kind := FaultPluginFault
	if errors.Is(err, ErrDeviceTimeout) {
		kind = FaultPluginTimeout
	}
	return &AccessError{Kind: kind, Addr: addr, Store: store}
}
