package capidx

import "testing"

func TestWordRoundTrip(t *testing.T) {
	idx := CapabilityIndex{CSpace: 2, CIndex: 513}
	got := FromWord(idx.Word())
	if got != idx {
		t.Fatalf("round trip mismatch: got %v, want %v", got, idx)
	}
}

func TestInvalid(t *testing.T) {
	if !Invalid.IsInvalid() {
		t.Fatal("zero value must be invalid")
	}
	if (CapabilityIndex{CSpace: 0, CIndex: 1}).IsInvalid() {
		t.Fatal("(0,1) is not the reserved invalid index")
	}
}

func TestInRange(t *testing.T) {
	idx := CapabilityIndex{CSpace: 3, CIndex: 1023}
	if !idx.InRange(DefaultCSpaces, DefaultCSpaceItems) {
		t.Fatal("expected in range")
	}
	idx2 := CapabilityIndex{CSpace: 4, CIndex: 0}
	if idx2.InRange(DefaultCSpaces, DefaultCSpaceItems) {
		t.Fatal("cspace 4 is out of range for DefaultCSpaces=4")
	}
}
