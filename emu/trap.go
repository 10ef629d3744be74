package emu

import (
	"fmt"

	"github.com/spear-sim/spear/mem"
)

// Cause is an architectural trap cause code, as written to mcause/scause.
type Cause uint32

// Exception causes.
const (
	CauseMisalignedFetch Cause = 0
	CauseFetchAccess     Cause = 1
	CauseIllegalInst     Cause = 2
	CauseBreakpoint      Cause = 3
	CauseMisalignedLoad  Cause = 4
	CauseLoadAccess      Cause = 5
	CauseMisalignedStore Cause = 6
	CauseStoreAccess     Cause = 7
	CauseUserEcall       Cause = 8
	CauseSupervisorEcall Cause = 9
	CauseMachineEcall    Cause = 11
)

// Interrupt causes.
const (
	CauseSupervisorSoftwareInt Cause = 1
	CauseMachineSoftwareInt    Cause = 3
	CauseSupervisorTimerInt    Cause = 5
	CauseMachineTimerInt       Cause = 7
	CauseSupervisorExternalInt Cause = 9
	CauseMachineExternalInt    Cause = 11
)

// TrapKind classifies a trap for the hosting program. The architectural
// cause is coarser: privilege violations and plugin failures fold into the
// standard exception codes when delivered, but harnesses and logs can still
// tell them apart through the kind.
type TrapKind uint8

// Trap kinds.
const (
	KindIllegalInstruction TrapKind = iota
	KindPrivilegeViolation
	KindUnmapped
	KindMisaligned
	KindPluginFault
	KindPluginTimeout
	KindEnvironment
	KindInterrupt
)

// String returns a short name for the trap kind.
func (k TrapKind) String() string {
	switch k {
	case KindIllegalInstruction:
		return "illegal instruction"
	case KindPrivilegeViolation:
		return "privilege violation"
	case KindUnmapped:
		return "unmapped access"
	case KindMisaligned:
		return "misaligned access"
	case KindPluginFault:
		return "plugin fault"
	case KindPluginTimeout:
		return "plugin timeout"
	case KindEnvironment:
		return "environment"
	case KindInterrupt:
		return "interrupt"
	}
	return "trap?"
}

// Trap is an architectural trap travelling through the execution loop as a
// plain value. Taking one redirects control to the handler; it never aborts
// the simulator.
type Trap struct {
	Kind      TrapKind
	Cause     Cause
	Interrupt bool

	// Value is written to mtval/stval: the faulting address for memory
	// traps, the instruction bits for illegal-instruction traps, zero
	// otherwise.
	Value uint32
}

// String renders the trap for logs.
func (t *Trap) String() string {
	if t.Interrupt {
		return fmt.Sprintf("%s (cause %d)", t.Kind, t.Cause)
	}
	return fmt.Sprintf("%s (cause %d, tval 0x%08X)", t.Kind, t.Cause, t.Value)
}

func illegalInstruction(word uint32) *Trap {
	return &Trap{Kind: KindIllegalInstruction, Cause: CauseIllegalInst, Value: word}
}

func privilegeViolation(word uint32) *Trap {
	return &Trap{Kind: KindPrivilegeViolation, Cause: CauseIllegalInst, Value: word}
}

func misalignedFetch(pc uint32) *Trap {
	return &Trap{Kind: KindMisaligned, Cause: CauseMisalignedFetch, Value: pc}
}

// busTrap converts a failed bus access into the matching architectural
// trap. Fetches use the instruction fault codes, data accesses the
// load/store ones.
func busTrap(fault *mem.AccessError, fetch bool) *Trap {
	t := &Trap{Value: fault.Addr}

	switch fault.Kind {
	case mem.FaultMisaligned:
		t.Kind = KindMisaligned
		switch {
		case fetch:
			t.Cause = CauseMisalignedFetch
		case fault.Store:
			t.Cause = CauseMisalignedStore
		default:
			t.Cause = CauseMisalignedLoad
		}
		return t
	case mem.FaultPluginFault:
		t.Kind = KindPluginFault
	case mem.FaultPluginTimeout:
		t.Kind = KindPluginTimeout
	default:
		t.Kind = KindUnmapped
	}

	// Unmapped and plugin failures all surface as access faults.
	switch {
	case fetch:
		t.Cause = CauseFetchAccess
	case fault.Store:
		t.Cause = CauseStoreAccess
	default:
		t.Cause = CauseLoadAccess
	}
	return t
}
