package archctx

import "testing"

func TestSetupProcAndArgument(t *testing.T) {
	s := NewSim(64)
	var regs RegCtx
	s.SetupProc(&regs, 0x4000, 0x8000)
	if regs.PC != 0x4000 || regs.SP != 0x8000 {
		t.Fatalf("unexpected regs: %+v", regs)
	}
	s.SetupArgument(&regs, 1, 42)
	if regs.Arg(1) != 42 {
		t.Fatalf("expected arg1=42, got %d", regs.Arg(1))
	}
}

func TestUAStrcpyRequiresNulTerminator(t *testing.T) {
	s := NewSim(32)
	if err := s.WriteUser(0, []byte("hello\x00world")); err != nil {
		t.Fatalf("WriteUser: %v", err)
	}
	s.UABegin()
	defer s.UAEnd()

	got, err := s.UAStrcpy(0, 32)
	if err != nil {
		t.Fatalf("UAStrcpy: %v", err)
	}
	if got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

func TestUAMemcpyOutsideBeginEndFails(t *testing.T) {
	s := NewSim(32)
	if _, err := s.UAMemcpy(0, 4); err == nil {
		t.Fatal("expected failure outside UABegin/UAEnd")
	}
}

func TestUAMemcpyOutOfRangeFails(t *testing.T) {
	s := NewSim(8)
	s.UABegin()
	defer s.UAEnd()
	if _, err := s.UAMemcpy(4, 100); err == nil {
		t.Fatal("expected ErrUserFault for out-of-range copy")
	}
}

func TestSwitchAddressSpace(t *testing.T) {
	s := NewSim(8)
	s.SwitchAddressSpace(0xAAAA)
	if s.CurrentAddressSpace() != 0xAAAA {
		t.Fatalf("expected root 0xAAAA, got %x", s.CurrentAddressSpace())
	}
}
