package emu

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spear-sim/spear/insts"
	"github.com/spear-sim/spear/mem"
)

// Default memory map: a flat RAM at the conventional DRAM base.
const (
	DefaultRAMBase uint32 = 0x8000_0000
	DefaultRAMSize uint32 = 2 << 20
)

// Ticker is implemented by bus devices that want periodic time. The
// emulator calls Tick every tick quantum of retired instructions.
type Ticker interface {
	Tick() error
}

// StepResult describes the outcome of a single instruction step.
type StepResult struct {
	// Trap is the trap taken during this step, nil when the instruction
	// retired normally. Interrupts delivered after retirement show up
	// here too.
	Trap *Trap

	// Exited is set when the step budget is exhausted. The emulator makes
	// no further progress.
	Exited bool
}

// RunResult describes why Run stopped.
type RunResult struct {
	// Exited is true when the program signalled completion through the
	// tohost word, false when the step budget ran out first.
	Exited bool

	// ToHost is the tohost value observed at exit: 1 means pass, odd
	// values above 1 encode (test_number << 1) | 1.
	ToHost uint32

	// Steps is the number of instructions executed, including ones that
	// trapped.
	Steps uint64
}

// Emulator is a functional RV32 hart attached to a bus. It executes one
// instruction per Step with no timing model.
type Emulator struct {
	registry *insts.Registry
	decoder  *insts.Decoder
	regFile  RegFile
	csrs     *CSRBank
	priv     *privController
	bus      *mem.Bus
	ram      *mem.Memory
	logger   *slog.Logger

	nextPC uint32

	instCount       uint64
	maxInstructions uint64
	tickQuantum     uint64

	tohost    uint32
	tohostSet bool

	looseAlign bool
	trace      bool
}

// EmulatorOption configures an Emulator.
type EmulatorOption func(*Emulator)

// WithRegistry supplies the extension registry. An unfrozen registry is
// frozen during construction.
func WithRegistry(reg *insts.Registry) EmulatorOption {
	return func(e *Emulator) {
		e.registry = reg
	}
}

// WithBus attaches an externally assembled bus instead of the default
// single-RAM one. The caller owns the memory map.
func WithBus(bus *mem.Bus) EmulatorOption {
	return func(e *Emulator) {
		e.bus = bus
	}
}

// WithMaxInstructions bounds the number of executed instructions; 0 means
// unbounded.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// WithToHost sets the address of the tohost word Run polls for program
// completion.
func WithToHost(addr uint32) EmulatorOption {
	return func(e *Emulator) {
		e.tohost = addr
		e.tohostSet = true
	}
}

// WithTickQuantum sets how many retired instructions pass between device
// ticks; 0 disables ticking.
func WithTickQuantum(n uint64) EmulatorOption {
	return func(e *Emulator) {
		e.tickQuantum = n
	}
}

// WithLooseAlignment makes the default bus accept misaligned data accesses.
// Ignored when WithBus is used.
func WithLooseAlignment() EmulatorOption {
	return func(e *Emulator) {
		e.looseAlign = true
	}
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithTrace logs every retired instruction at debug level.
func WithTrace() EmulatorOption {
	return func(e *Emulator) {
		e.trace = true
	}
}

// NewEmulator creates an emulator. Without options it carries the rv32i and
// zicsr extensions and a 2 MiB RAM at 0x80000000, starts in machine mode,
// and has PC 0.
func NewEmulator(opts ...EmulatorOption) (*Emulator, error) {
	e := &Emulator{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		reg := insts.NewRegistry()
		if err := reg.Register(insts.RV32I()); err != nil {
			return nil, err
		}
		if err := reg.Register(insts.Zicsr()); err != nil {
			return nil, err
		}
		e.registry = reg
	}
	if !e.registry.Frozen() {
		if err := e.registry.Freeze(); err != nil {
			return nil, fmt.Errorf("freezing extension registry: %w", err)
		}
	}

	decoder, err := insts.NewDecoder(e.registry)
	if err != nil {
		return nil, err
	}
	e.decoder = decoder

	if e.bus == nil {
		var busOpts []mem.BusOption
		if e.looseAlign {
			busOpts = append(busOpts, mem.WithLooseAlignment())
		}
		e.bus = mem.NewBus(busOpts...)
		e.ram = mem.NewMemory(DefaultRAMSize)
		if err := e.bus.MapRAM(DefaultRAMBase, e.ram); err != nil {
			return nil, err
		}
	}

	e.csrs = NewCSRBank(e.registry)
	e.priv = newPrivController(e.csrs, e.logger)
	return e, nil
}

// LoadProgram copies a flat binary image to the given address and points
// the PC at it. The image is written through the bus, so it may span any
// mapped RAM region.
func (e *Emulator) LoadProgram(addr uint32, image []byte) error {
	for i, b := range image {
		if fault := e.bus.Write(addr+uint32(i), 1, uint32(b)); fault != nil {
			return fmt.Errorf("loading program: %s", fault)
		}
	}
	e.regFile.PC = addr
	return nil
}

// SetPC sets the program counter.
func (e *Emulator) SetPC(pc uint32) {
	e.regFile.PC = pc
}

// PC returns the current program counter.
func (e *Emulator) PC() uint32 {
	return e.regFile.PC
}

// Bus returns the memory bus, for mapping devices before the first step.
func (e *Emulator) Bus() *mem.Bus {
	return e.bus
}

// Registers returns a copy of the general-purpose register file.
func (e *Emulator) Registers() [32]uint32 {
	return e.regFile.Snapshot()
}

// WriteReg writes a general-purpose register. Used by harnesses to seed
// state; writes to x0 are ignored.
func (e *Emulator) WriteReg(reg uint8, val uint32) {
	e.regFile.WriteReg(reg, val)
}

// ReadReg reads a general-purpose register.
func (e *Emulator) ReadReg(reg uint8) uint32 {
	return e.regFile.ReadReg(reg)
}

// Mode returns the current privilege mode.
func (e *Emulator) Mode() PrivilegeMode {
	return e.priv.mode
}

// ReadCSR reads a CSR with machine privilege, for harnesses and debuggers.
func (e *Emulator) ReadCSR(addr uint16) (uint32, error) {
	return e.csrs.Read(addr, ModeMachine)
}

// WriteCSR writes a CSR with machine privilege. Read-only registers still
// reject the write.
func (e *Emulator) WriteCSR(addr uint16, val uint32) error {
	return e.csrs.Write(addr, val, ModeMachine)
}

// CSRSnapshot returns every existing CSR with its current value, sorted by
// address.
func (e *Emulator) CSRSnapshot() []CSRValue {
	return e.csrs.Enumerate()
}

// InstructionCount returns the number of executed instructions, including
// ones that trapped. The instret CSR counts only retired instructions.
func (e *Emulator) InstructionCount() uint64 {
	return e.instCount
}

// TrapReturnMisuses returns how many mret/sret executed without a matching
// trap entry.
func (e *Emulator) TrapReturnMisuses() uint64 {
	return e.priv.Misuses()
}

// RaiseIRQ marks the given mip bit pending. Devices use it to signal
// interrupts; delivery follows the usual enable and delegation rules.
func (e *Emulator) RaiseIRQ(line uint) {
	if line >= 32 {
		return
	}
	e.csrs.set(insts.CsrMIP, e.csrs.get(insts.CsrMIP)|1<<line)
}

// Step executes a single instruction: fetch, decode, execute, then deliver
// any pending interrupt. Traps redirect the PC to the handler and count as
// a completed step; they never stop the emulator.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.instCount >= e.maxInstructions {
		return StepResult{Exited: true}
	}

	pc := e.regFile.PC
	trap := e.stepInstruction(pc)
	if trap != nil {
		e.logger.Debug("trap", "pc", pc, "trap", trap.String())
		e.regFile.PC = e.priv.Take(trap, pc)
	} else {
		e.regFile.PC = e.nextPC
	}

	e.instCount++
	e.csrs.retire(trap == nil)

	if e.tickQuantum > 0 && e.instCount%e.tickQuantum == 0 {
		e.tickDevices()
	}

	if irq := e.priv.pendingInterrupt(); irq != nil {
		e.logger.Debug("interrupt", "cause", uint32(irq.Cause))
		e.regFile.PC = e.priv.Take(irq, e.regFile.PC)
		if trap == nil {
			trap = irq
		}
	}

	return StepResult{Trap: trap}
}

// stepInstruction runs fetch, decode, and execute for the instruction at
// pc, returning the trap it raised, if any.
func (e *Emulator) stepInstruction(pc uint32) *Trap {
	if pc&3 != 0 {
		return misalignedFetch(pc)
	}
	word, fault := e.bus.Read(pc, 4)
	if fault != nil {
		return busTrap(fault, true)
	}

	inst := e.decoder.Decode(word)
	if inst.Op == insts.OpIllegal {
		return illegalInstruction(word)
	}
	if e.trace {
		e.logger.Debug("exec", "pc", pc, "op", inst.Op.String(), "raw", word)
	}

	e.nextPC = pc + 4
	return e.execute(inst)
}

// tickDevices gives every Ticker device on the bus a time slice. Tick
// failures are logged and otherwise ignored; they surface architecturally
// only through subsequent faulting accesses.
func (e *Emulator) tickDevices() {
	for _, r := range e.bus.Regions() {
		t, ok := r.Device().(Ticker)
		if !ok {
			continue
		}
		if err := t.Tick(); err != nil {
			e.logger.Warn("device tick failed", "device", r.Name, "err", err)
		}
	}
}

// Run steps the emulator until the program writes a nonzero value to the
// tohost word or the step budget runs out. The tohost word is cleared
// before the first step.
func (e *Emulator) Run() RunResult {
	if e.tohostSet {
		e.bus.Write(e.tohost, 4, 0)
	}

	for {
		if e.tohostSet {
			if v, fault := e.bus.Read(e.tohost, 4); fault == nil && v != 0 {
				return RunResult{Exited: true, ToHost: v, Steps: e.instCount}
			}
		}
		if res := e.Step(); res.Exited {
			e.logger.Warn("step budget exhausted", "steps", e.instCount)
			return RunResult{Steps: e.instCount}
		}
	}
}
