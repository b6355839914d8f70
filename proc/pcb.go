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

package proc

import (
	"sync"

	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/taskmem"
)

// PCB is a process: one address space plus metadata (§3). It implements
// capability.Owner and capability.Payload so it can both hold a CSpace
// table and be the payload a PCB-typed Capability refers to.
type PCB struct {
	pid         uint64
	RPLevel     RPLevel
	Entrypoint  uint64
	KernelStack []byte
	Mem         *taskmem.TaskMemory
	MainThread  *TCB

	cspaceItems int

	mu       sync.Mutex
	state    State
	refs     int
	parent   *PCB
	children []*PCB
	threads  []*TCB
	cspaces  []*capability.CSpace
	owned    map[*capability.Capability]bool

	deathWaiters []*TCB
}

// New allocates a PCB with the given capability-table geometry.
func New(pid uint64, numCSpaces, cspaceItems int, mem *taskmem.TaskMemory) *PCB {
	return &PCB{
		pid:         pid,
		Mem:         mem,
		cspaceItems: cspaceItems,
		cspaces:     make([]*capability.CSpace, numCSpaces),
		owned:       make(map[*capability.Capability]bool),
		state:       Ready,
	}
}

// --- capability.Owner ---

func (p *PCB) PID() uint64      { return p.pid }
func (p *PCB) NumCSpaces() int  { return len(p.cspaces) }
func (p *PCB) CSpaceItems() int { return p.cspaceItems }

func (p *PCB) CSpaceAt(i int) *capability.CSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.cspaces) {
		return nil
	}
	return p.cspaces[i]
}

func (p *PCB) EnsureCSpace(i int) *capability.CSpace {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cspaces[i] == nil {
		p.cspaces[i] = capability.NewCSpace(p.cspaceItems)
	}
	return p.cspaces[i]
}

func (p *PCB) TrackCapability(c *capability.Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owned[c] = true
}

func (p *PCB) UntrackCapability(c *capability.Capability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.owned, c)
}

// OwnedCapabilities returns a snapshot of every capability this PCB holds
// across all of its CSpaces, for PCB_ENUM_CAPS.
func (p *PCB) OwnedCapabilities() []*capability.Capability {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*capability.Capability, 0, len(p.owned))
	for c := range p.owned {
		out = append(out, c)
	}
	return out
}

// --- capability.Payload ---

func (p *PCB) Retain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
}

func (p *PCB) Release() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs--
	return p.refs <= 0
}

// --- lifecycle ---

func (p *PCB) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PCB) SetState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *PCB) Parent() *PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

func (p *PCB) Children() []*PCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PCB, len(p.children))
	copy(out, p.children)
	return out
}

func (p *PCB) addChild(child *PCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	child.parent = p
	p.children = append(p.children, child)
}

// Threads returns a snapshot of this PCB's thread list.
func (p *PCB) Threads() []*TCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*TCB, len(p.threads))
	copy(out, p.threads)
	return out
}

func (p *PCB) addThread(t *TCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threads = append(p.threads, t)
}

// RegisterDeathWaiter records t as blocked until this PCB exits. Exit wakes
// every such waiter (§4.3 "wakes any waiter on process death").
func (p *PCB) RegisterDeathWaiter(t *TCB) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deathWaiters = append(p.deathWaiters, t)
}

// CancelWait implements Waitable for a thread waiting on this PCB's death.
func (p *PCB) CancelWait(t *TCB) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.deathWaiters {
		if w == t {
			p.deathWaiters = append(p.deathWaiters[:i], p.deathWaiters[i+1:]...)
			return true
		}
	}
	return false
}

// takeDeathWaiters atomically drains and returns the death-waiter list.
func (p *PCB) takeDeathWaiters() []*TCB {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.deathWaiters
	p.deathWaiters = nil
	return out
}
