//
// Copyright 2024 The Capsule Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package config loads boot-time kernel tunables from a TOML file read
// through a swappable afero.Fs, the same shape linuxUtils kept a
// package-level appFs = afero.NewOsFs() for unit testing (§10.3).
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"

	"github.com/capsule-os/capkernel/kerrors"
)

// Defaults per §3.
const (
	DefaultCSpaces     = 4
	DefaultCSpaceItems = 1024
	DefaultQ1          = 5
	DefaultQ2          = 3
	DefaultKStackSize  = 4096
	DefaultUserMemSize = 1 << 20
)

// Config holds the kernel's boot-time tunables. Zero-valued fields are
// filled in with the §3 defaults by Load.
type Config struct {
	CSpaces     int `toml:"cspaces"`
	CSpaceItems int `toml:"cspace_items"`
	Q1          int `toml:"q1"`
	Q2          int `toml:"q2"`
	KStackSize  int `toml:"kstack_size"`
	UserMemSize int `toml:"user_mem_size"`
}

// Default returns a Config populated entirely from §3 defaults.
func Default() Config {
	return Config{
		CSpaces:     DefaultCSpaces,
		CSpaceItems: DefaultCSpaceItems,
		Q1:          DefaultQ1,
		Q2:          DefaultQ2,
		KStackSize:  DefaultKStackSize,
		UserMemSize: DefaultUserMemSize,
	}
}

// applyDefaults fills any zero field of c with the corresponding default.
func (c *Config) applyDefaults() {
	d := Default()
	if c.CSpaces == 0 {
		c.CSpaces = d.CSpaces
	}
	if c.CSpaceItems == 0 {
		c.CSpaceItems = d.CSpaceItems
	}
	if c.Q1 == 0 {
		c.Q1 = d.Q1
	}
	if c.Q2 == 0 {
		c.Q2 = d.Q2
	}
	if c.KStackSize == 0 {
		c.KStackSize = d.KStackSize
	}
	if c.UserMemSize == 0 {
		c.UserMemSize = d.UserMemSize
	}
}

// Load reads path from fs and decodes it as TOML, falling back to the §3
// defaults for any field the file omits or for a missing file entirely.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Config{}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return cfg, kerrors.Wrap(kerrors.ResourceExhausted, err, "checking config path %s", path)
	}
	if !exists {
		cfg.applyDefaults()
		return cfg, nil
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, kerrors.Wrap(kerrors.ResourceExhausted, err, "reading config %s", path)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, kerrors.Wrap(kerrors.BadArgument, err, "parsing config %s", path)
	}
	cfg.applyDefaults()
	return cfg, nil
}
