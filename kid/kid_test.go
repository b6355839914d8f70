package kid

import "testing"

func TestShortIsStable(t *testing.T) {
	a := Short(42)
	b := Short(42)
	if a != b {
		t.Fatalf("expected stable output, got %q and %q", a, b)
	}
	if Short(42) == Short(43) {
		t.Fatal("different ids should format differently")
	}
}

func TestPrefixes(t *testing.T) {
	if got := PID(1); got[:2] != "p-" {
		t.Fatalf("expected p- prefix, got %q", got)
	}
	if got := TID(1); got[:2] != "t-" {
		t.Fatalf("expected t- prefix, got %q", got)
	}
	if got := Notif(1); got[:2] != "n-" {
		t.Fatalf("expected n- prefix, got %q", got)
	}
}
