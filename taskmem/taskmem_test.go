package taskmem

import "testing"

func TestCloneVMAMarksCOW(t *testing.T) {
	tm := New(0x1000)
	tm.AddVMA(VMA{Start: 0, End: 0x1000, Prot: ProtRead | ProtWrite})

	clone := tm.CloneVMA(0x2000)

	if len(clone.VMAs()) != 1 {
		t.Fatalf("expected 1 VMA in clone, got %d", len(clone.VMAs()))
	}
	if !tm.VMAs()[0].COW {
		t.Fatal("expected original writable VMA marked COW after clone")
	}
	if !clone.VMAs()[0].COW {
		t.Fatal("expected cloned VMA marked COW")
	}
}

func TestAllocPagesFor(t *testing.T) {
	tm := New(0)
	tm.AddVMA(VMA{Start: 0x1000, End: 0x2000, Prot: ProtRead})
	if _, ok := tm.AllocPagesFor(0x500); ok {
		t.Fatal("expected no mapping below the VMA")
	}
	v, ok := tm.AllocPagesFor(0x1500)
	if !ok || v.Start != 0x1000 {
		t.Fatalf("expected hit at 0x1500, got %+v, %v", v, ok)
	}
}
