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

package archctx

import (
	"strings"
	"sync"

	"github.com/capsule-os/capkernel/kerrors"
)

// instrLen is the simulated trap instruction width, arbitrary but fixed.
const instrLen = 4

// Sim is an in-memory architecture backend: "user memory" is a flat byte
// slice, "switching address space" is a recorded value, and instruction
// length is a constant. It satisfies Arch for tests and cmd/capkernelsim.
type Sim struct {
	mu       sync.Mutex
	userMem  []byte
	curRoot  uint64
	uaActive bool
}

// NewSim allocates a Sim with a userMem-byte simulated user address space
// (addresses are plain offsets into it).
func NewSim(userMemSize int) *Sim {
	return &Sim{userMem: make([]byte, userMemSize)}
}

// WriteUser seeds the simulated user address space, for test setup.
func (s *Sim) WriteUser(addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(addr)+len(data) > len(s.userMem) {
		return ErrUserFault
	}
	copy(s.userMem[addr:], data)
	return nil
}

func (s *Sim) SetupProc(regs *RegCtx, entry, stack uint64) {
	regs.PC = entry
	regs.SP = stack
}

func (s *Sim) SetupArgument(regs *RegCtx, i int, v uint64) {
	if i >= 0 && i < NumArgs {
		regs.Args[i] = v
	}
}

func (s *Sim) InstructionLength() uint64 { return instrLen }

func (s *Sim) SwitchAddressSpace(root uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curRoot = root
}

// CurrentAddressSpace reports the last root passed to SwitchAddressSpace,
// for assertions in tests.
func (s *Sim) CurrentAddressSpace() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curRoot
}

func (s *Sim) UABegin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uaActive = true
}

func (s *Sim) UAEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uaActive = false
}

func (s *Sim) UAMemcpy(uaddr uint64, n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.uaActive {
		return nil, kerrors.New(kerrors.BadArgument, "UAMemcpy outside UABegin/UAEnd")
	}
	if n < 0 || int(uaddr)+n > len(s.userMem) {
		return nil, ErrUserFault
	}
	buf := make([]byte, n)
	copy(buf, s.userMem[uaddr:int(uaddr)+n])
	return buf, nil
}

func (s *Sim) UAStrlen(uaddr uint64, max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.uaActive {
		return 0, kerrors.New(kerrors.BadArgument, "UAStrlen outside UABegin/UAEnd")
	}
	if int(uaddr) >= len(s.userMem) {
		return 0, ErrUserFault
	}
	limit := int(uaddr) + max
	if limit > len(s.userMem) {
		limit = len(s.userMem)
	}
	idx := strings.IndexByte(string(s.userMem[uaddr:limit]), 0)
	if idx < 0 {
		return 0, ErrUserFault
	}
	return idx, nil
}

func (s *Sim) UAStrcpy(uaddr uint64, max int) (string, error) {
	n, err := s.UAStrlen(uaddr, max)
	if err != nil {
		return "", err
	}
	buf, err := s.UAMemcpy(uaddr, n)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
