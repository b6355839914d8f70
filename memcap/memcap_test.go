package memcap

import (
	"testing"

	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/capidx"
	"github.com/capsule-os/capkernel/priv"
	"github.com/capsule-os/capkernel/taskmem"
)

type fakeOwner struct {
	pid     uint64
	cspaces []*capability.CSpace
	items   int
	tracked map[*capability.Capability]bool
}

func newFakeOwner(pid uint64) *fakeOwner {
	return &fakeOwner{pid: pid, cspaces: make([]*capability.CSpace, 2), items: 16, tracked: map[*capability.Capability]bool{}}
}

func (f *fakeOwner) PID() uint64      { return f.pid }
func (f *fakeOwner) NumCSpaces() int  { return len(f.cspaces) }
func (f *fakeOwner) CSpaceItems() int { return f.items }
func (f *fakeOwner) CSpaceAt(i int) *capability.CSpace {
	return f.cspaces[i]
}
func (f *fakeOwner) EnsureCSpace(i int) *capability.CSpace {
	if f.cspaces[i] == nil {
		f.cspaces[i] = capability.NewCSpace(f.items)
	}
	return f.cspaces[i]
}
func (f *fakeOwner) TrackCapability(c *capability.Capability)   { f.tracked[c] = true }
func (f *fakeOwner) UntrackCapability(c *capability.Capability) { delete(f.tracked, c) }

func memCap(t *testing.T, owner capability.Owner, p *Payload, privw priv.Word) *capability.Capability {
	t.Helper()
	cap, _, err := capability.Create(owner, capability.TypeMemory, p, privw)
	if err != nil {
		t.Fatalf("capability.Create: %v", err)
	}
	return cap
}

func TestGetPAddr(t *testing.T) {
	owner := newFakeOwner(1)
	p := &Payload{PAddr: 0x1000, Size: 0x1000}
	cap := memCap(t, owner, p, priv.MEM_GETPADDR)

	got, err := GetPAddr(cap)
	if err != nil {
		t.Fatalf("GetPAddr: %v", err)
	}
	if got != 0x1000 {
		t.Fatalf("expected 0x1000, got %#x", got)
	}
}

func TestMapRequiresWritePrivForWritableProt(t *testing.T) {
	owner := newFakeOwner(1)
	p := &Payload{PAddr: 0x2000, Size: 0x1000}
	cap := memCap(t, owner, p, priv.MEM_MAP)
	mem := taskmem.New(0)

	if err := Map(cap, mem, 0x5000, taskmem.ProtRead|taskmem.ProtWrite); err == nil {
		t.Fatal("expected failure mapping writable without MEM_WRITE")
	}

	cap2 := memCap(t, owner, p, priv.MEM_MAP|priv.MEM_WRITE)
	if err := Map(cap2, mem, 0x5000, taskmem.ProtRead|taskmem.ProtWrite); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if _, ok := mem.AllocPagesFor(0x5000); !ok {
		t.Fatal("expected VMA installed at 0x5000")
	}
}

func TestUnmapRemovesVMA(t *testing.T) {
	owner := newFakeOwner(1)
	p := &Payload{PAddr: 0x3000, Size: 0x1000}
	cap := memCap(t, owner, p, priv.MEM_MAP|priv.MEM_UNMAP)
	mem := taskmem.New(0)

	if err := Map(cap, mem, 0x6000, taskmem.ProtRead); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := Unmap(cap, mem, 0x6000); err != nil {
		t.Fatalf("Unmap: %v", err)
	}
	if _, ok := mem.AllocPagesFor(0x6000); ok {
		t.Fatal("expected mapping removed")
	}
}

func TestReadWriteRespectBound(t *testing.T) {
	owner := newFakeOwner(1)
	p := &Payload{PAddr: 0x4000, Size: 8}
	cap := memCap(t, owner, p, priv.MEM_READ|priv.MEM_WRITE)
	backing := make([]byte, 8)

	if err := Write(cap, backing, 0, []byte("abcd")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(cap, backing, 0, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "abcd" {
		t.Fatalf("expected abcd, got %q", got)
	}
	if err := Write(cap, backing, 4, []byte("toolong12")); err == nil {
		t.Fatal("expected bound violation")
	}
}

func TestKernelAllocatedFreedOnLastRelease(t *testing.T) {
	freed := false
	p := &Payload{PAddr: 0x5000, Size: 0x1000, KernelAllocated: true, Free: func(paddr, size uint64) {
		freed = true
	}}
	owner := newFakeOwner(1)
	cap := memCap(t, owner, p, priv.MEM_SHARE)

	if err := capability.Revoke(cap); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !freed {
		t.Fatal("expected Free callback invoked on last release")
	}
}

func TestShareThenUnshare(t *testing.T) {
	owner := newFakeOwner(1)
	other := newFakeOwner(2)
	p := &Payload{PAddr: 0x6000, Size: 0x1000}
	cap := memCap(t, owner, p, priv.MEM_SHARE|priv.MEM_UNSHARE|priv.DERIVE)

	shared, err := Share(cap, other)
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if !p.Shared {
		t.Fatal("expected payload marked shared")
	}

	if err := Unshare(cap); err != nil {
		t.Fatalf("Unshare: %v", err)
	}
	if c, _ := capability.Fetch(other, capidx.CapabilityIndex{CSpace: shared.Index.CSpace, CIndex: shared.Index.CIndex}); c != nil {
		t.Fatal("expected shared capability revoked along with parent")
	}
}
