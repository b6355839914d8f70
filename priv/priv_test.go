package priv

import "testing"

func TestDerivable(t *testing.T) {
	parent := PCBAll
	if !Derivable(parent, PCB_EXIT|UNPACK|DERIVE) {
		t.Fatal("expected subset to be derivable")
	}
	if Derivable(parent, 0) == false {
		t.Fatal("empty set is always derivable")
	}
	if Derivable(PCB_EXIT, PCB_FORK) {
		t.Fatal("FORK is not a subset of EXIT")
	}
}

func TestHas(t *testing.T) {
	w := PCB_EXIT | DERIVE
	if !w.Has(PCB_EXIT) {
		t.Fatal("expected PCB_EXIT bit")
	}
	if w.Has(PCB_FORK) {
		t.Fatal("did not expect PCB_FORK bit")
	}
	if !w.Has(PCB_EXIT | DERIVE) {
		t.Fatal("expected both bits")
	}
}

func TestMask256(t *testing.T) {
	var m Mask256
	if !m.Empty() {
		t.Fatal("zero value should be empty")
	}
	m.Set(3)
	m.Set(200)
	if !m.Test(3) || !m.Test(200) {
		t.Fatal("expected bits 3 and 200 set")
	}
	if m.Test(4) {
		t.Fatal("bit 4 should be clear")
	}

	var other Mask256
	other.Set(3)
	if !m.Intersects(other) {
		t.Fatal("expected intersection on bit 3")
	}
	if !other.Subset(m) {
		t.Fatal("{3} should be a subset of {3,200}")
	}
	if m.Subset(other) {
		t.Fatal("{3,200} should not be a subset of {3}")
	}

	m.Clear(3)
	if m.Test(3) {
		t.Fatal("bit 3 should be cleared")
	}
}
