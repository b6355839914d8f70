package proc

import (
	"testing"

	"github.com/capsule-os/capkernel/archctx"
	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/priv"
	"github.com/capsule-os/capkernel/taskmem"
)

func newTestPCB(pid uint64) *PCB {
	p := New(pid, 4, 64, taskmem.New(0x1000))
	t := NewTCB(1, p, RP2User, 4096)
	p.MainThread = t
	p.addThread(t)
	return p
}

func pcbCap(t *testing.T, owner, target *PCB, privw priv.Word) *capability.Capability {
	t.Helper()
	cap, _, err := capability.Create(owner, capability.TypePCB, target, privw)
	if err != nil {
		t.Fatalf("capability.Create: %v", err)
	}
	return cap
}

func tcbCap(t *testing.T, owner *PCB, target *TCB, privw priv.Word) *capability.Capability {
	t.Helper()
	cap, _, err := capability.Create(owner, capability.TypeTCB, target, privw)
	if err != nil {
		t.Fatalf("capability.Create: %v", err)
	}
	return cap
}

func TestExitWakesDeathWaiters(t *testing.T) {
	p := newTestPCB(1)
	cap := pcbCap(t, p, p, priv.PCB_EXIT)

	waiter := NewTCB(99, p, RP2User, 4096)
	waiter.SetState(Blocked)
	p.RegisterDeathWaiter(waiter)

	if err := Exit(cap, 0); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if p.State() != Zombie {
		t.Fatalf("expected Zombie, got %v", p.State())
	}
	if waiter.State() != Ready {
		t.Fatalf("expected waiter woken to Ready, got %v", waiter.State())
	}
}

func TestExitRequiresPrivilege(t *testing.T) {
	p := newTestPCB(1)
	cap := pcbCap(t, p, p, 0)
	if err := Exit(cap, 0); err == nil {
		t.Fatal("expected failure without PCB_EXIT")
	}
}

func TestForkClonesAddressSpaceAndEnumsChild(t *testing.T) {
	parent := newTestPCB(1)
	parent.Mem.AddVMA(taskmem.VMA{Start: 0, End: 0x1000, Prot: taskmem.ProtRead | taskmem.ProtWrite})
	cap := pcbCap(t, parent, parent, priv.PCB_FORK)

	pids := NewPIDAllocator()
	tids := NewTIDAllocator()
	arch := archctx.NewSim(1 << 16)
	parent.MainThread.Regs.PC = 0x1000
	child, childCap, _, err := Fork(cap, pids, tids, 4096, arch)
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if childCap.Type != capability.TypePCB {
		t.Fatalf("expected PCB capability for child")
	}
	if len(parent.Children()) != 1 {
		t.Fatalf("expected parent to track 1 child, got %d", len(parent.Children()))
	}
	if want := parent.MainThread.Regs.PC + arch.InstructionLength(); child.MainThread.Regs.PC != want {
		t.Fatalf("expected child PC advanced past fork syscall, got %#x want %#x", child.MainThread.Regs.PC, want)
	}
	for _, v := range child.Mem.VMAs() {
		if !v.COW {
			t.Fatalf("expected forked writable VMA to be COW")
		}
	}
}

func TestCreateThreadInsertsCapability(t *testing.T) {
	p := newTestPCB(1)
	cap := pcbCap(t, p, p, priv.PCB_CREATE_THREAD)
	tids := NewTIDAllocator()

	th, thCap, _, err := CreateThread(cap, tids, 0x4000, 0x8000, RP1Service, 4096)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	if thCap.Type != capability.TypeTCB {
		t.Fatalf("expected TCB capability")
	}
	if th.Regs.PC != 0x4000 || th.Regs.SP != 0x8000 {
		t.Fatalf("unexpected regs: %+v", th.Regs)
	}
	found := false
	for _, owned := range p.OwnedCapabilities() {
		if owned == thCap {
			found = true
		}
	}
	if !found {
		t.Fatal("expected new TCB capability tracked by owner")
	}
}

func TestTerminateCancelsWait(t *testing.T) {
	p := newTestPCB(1)
	target := NewTCB(5, p, RP2User, 4096)
	cap := tcbCap(t, p, target, priv.TCB_TERMINATE)

	cancelled := false
	target.BlockedOn = cancelFunc(func(tt *TCB) bool {
		cancelled = tt == target
		return cancelled
	})
	target.SetState(Blocked)

	if _, err := Terminate(cap); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if !cancelled {
		t.Fatal("expected BlockedOn.CancelWait to be invoked")
	}
	if target.State() != Zombie {
		t.Fatalf("expected Zombie, got %v", target.State())
	}
}

func TestSetPriorityChangesClass(t *testing.T) {
	p := newTestPCB(1)
	target := NewTCB(5, p, RP2User, 4096)
	cap := tcbCap(t, p, target, priv.TCB_SET_PRIORITY)

	if _, err := SetPriority(cap, RP0RealTime); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if target.Priority != RP0RealTime {
		t.Fatalf("expected RP0RealTime, got %v", target.Priority)
	}
}

// cancelFunc adapts a plain function to the Waitable interface for tests.
type cancelFunc func(t *TCB) bool

func (f cancelFunc) CancelWait(t *TCB) bool { return f(t) }
