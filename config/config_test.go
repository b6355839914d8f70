package config

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := Load(fs, "/etc/capkernel.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Fatalf("expected defaults %+v, got %+v", want, cfg)
	}
}

func TestLoadPartialFileFillsRemainingDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/etc/capkernel.toml", []byte("q1 = 9\n"), 0o644)

	cfg, err := Load(fs, "/etc/capkernel.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Q1 != 9 {
		t.Fatalf("expected overridden Q1=9, got %d", cfg.Q1)
	}
	if cfg.CSpaces != DefaultCSpaces {
		t.Fatalf("expected default CSpaces, got %d", cfg.CSpaces)
	}
}

func TestLoadBadTomlFails(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/etc/capkernel.toml", []byte("not valid toml {{{"), 0o644)

	if _, err := Load(fs, "/etc/capkernel.toml"); err == nil {
		t.Fatal("expected parse error")
	}
}
