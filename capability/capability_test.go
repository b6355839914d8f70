package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capsule-os/capkernel/priv"
)

// fakeOwner is a minimal Owner used only by this package's tests; proc.PCB
// is the real implementation used by the rest of the kernel.
type fakeOwner struct {
	pid     uint64
	cspaces []*CSpace
	items   int
	tracked map[*Capability]bool
}

func newFakeOwner(pid uint64) *fakeOwner {
	return &fakeOwner{pid: pid, cspaces: make([]*CSpace, 4), items: 16, tracked: map[*Capability]bool{}}
}

func (o *fakeOwner) PID() uint64        { return o.pid }
func (o *fakeOwner) NumCSpaces() int    { return len(o.cspaces) }
func (o *fakeOwner) CSpaceItems() int   { return o.items }
func (o *fakeOwner) CSpaceAt(i int) *CSpace { return o.cspaces[i] }
func (o *fakeOwner) EnsureCSpace(i int) *CSpace {
	if o.cspaces[i] == nil {
		o.cspaces[i] = NewCSpace(o.items)
	}
	return o.cspaces[i]
}
func (o *fakeOwner) TrackCapability(c *Capability)   { o.tracked[c] = true }
func (o *fakeOwner) UntrackCapability(c *Capability) { delete(o.tracked, c) }

type refPayload struct{ refs int }

func (p *refPayload) Retain() { p.refs++ }
func (p *refPayload) Release() bool {
	p.refs--
	return p.refs == 0
}

func TestInsertAndFetchRoundTrip(t *testing.T) {
	owner := newFakeOwner(1)
	pl := &refPayload{}
	cap, idx, err := Create(owner, TypeMemory, pl, priv.MemAll)
	require.NoError(t, err)
	got, err := Fetch(owner, idx)
	require.NoError(t, err)
	assert.Same(t, cap, got, "I-CAP-1 violated: fetch(insert(c)) != c")
}

func TestInsertAtOccupiedSlotFails(t *testing.T) {
	owner := newFakeOwner(1)
	pl := &refPayload{}
	_, idx, err := Create(owner, TypeMemory, pl, priv.MemAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other := newCapability(TypeMemory, pl, priv.MemAll)
	if err := InsertAt(owner, other, idx); err == nil {
		t.Fatal("expected SlotOccupied error")
	}
}

func TestLookupFreeSlotSkipsReservedZero(t *testing.T) {
	owner := newFakeOwner(1)
	idx, err := LookupFreeSlot(owner)
	if err != nil {
		t.Fatalf("LookupFreeSlot: %v", err)
	}
	if idx.IsInvalid() {
		t.Fatal("(0,0) must never be returned as a free slot")
	}
}

func TestDeriveSubsetEnforced(t *testing.T) {
	owner := newFakeOwner(1)
	pl := &refPayload{}
	root, _, err := Create(owner, TypeMemory, pl, priv.MemAll)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	child, _, err := Derive(root, owner, priv.MEM_READ|priv.DERIVE)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !priv.Derivable(root.Priv, child.Priv) {
		t.Fatal("I-CAP-2 violated: derived privilege not a subset")
	}

	_, _, err = Derive(root, owner, priv.MEM_WRITE|priv.MEM_EXEC|priv.DERIVE)
	if err != nil {
		t.Fatalf("unexpected failure deriving a true subset: %v", err)
	}

	noDerive, _, err := Derive(root, owner, priv.MEM_READ)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if _, _, err := Derive(noDerive, owner, priv.MEM_READ); err == nil {
		t.Fatal("expected InsufficientPrivilege: parent lacks DERIVE")
	}
}

func TestDegradeNeverWidens(t *testing.T) {
	owner := newFakeOwner(1)
	pl := &refPayload{}
	cap, _, _ := Create(owner, TypeMemory, pl, priv.MEM_READ|priv.MEM_WRITE|priv.DERIVE)

	if err := Degrade(cap, priv.MEM_READ); err != nil {
		t.Fatalf("Degrade: %v", err)
	}
	if cap.Priv != priv.MEM_READ {
		t.Fatalf("expected narrowed privilege, got %v", cap.Priv)
	}

	if err := Degrade(cap, priv.MEM_READ|priv.MEM_WRITE); err == nil {
		t.Fatal("expected Degrade to refuse widening")
	}
}

func TestRevokeCascade(t *testing.T) {
	ownerA := newFakeOwner(1)
	ownerB := newFakeOwner(2)
	pl := &refPayload{}

	root, rootIdx, _ := Create(ownerA, TypeMemory, pl, priv.MemAll)
	a, aIdx, err := Derive(root, ownerA, priv.MEM_READ|priv.DERIVE)
	require.NoError(t, err, "derive a")
	_, bIdx, err := Derive(a, ownerB, priv.MEM_READ)
	require.NoError(t, err, "derive b")

	require.NoError(t, Revoke(root))

	_, err = Fetch(ownerA, rootIdx)
	assert.Error(t, err, "root should be gone after revoke")
	_, err = Fetch(ownerA, aIdx)
	assert.Error(t, err, "a should be gone after revoke (I-CAP-3)")
	_, err = Fetch(ownerB, bIdx)
	assert.Error(t, err, "b (in another PCB) should be gone after revoke (I-CAP-3)")
}

func TestNoAliasing(t *testing.T) {
	ownerA := newFakeOwner(1)
	ownerB := newFakeOwner(2)
	pl := &refPayload{}

	root, _, _ := Create(ownerA, TypeMemory, pl, priv.MemAll|priv.DERIVE)
	child, _, err := Derive(root, ownerB, priv.MEM_READ)
	require.NoError(t, err)
	assert.NotSame(t, root, child, "I-CAP-4 violated: derivation must not alias the same Capability object")
	assert.Same(t, root.Payload, child.Payload, "derivation must share the same payload, not clone it")
}
