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

	"github.com/capsule-os/capkernel/archctx"
	"github.com/capsule-os/capkernel/priv"
)

// Waitable is implemented by whatever a TCB is currently blocked on (a
// Notification, in practice). It lets Terminate unblock a thread
// without this package importing the notify package, which itself depends
// on proc for *TCB (§9 "Global mutable state" / layering note in
// DESIGN.md).
type Waitable interface {
	// CancelWait removes t from this Waitable's blocked-waiter list. It
	// reports whether t was actually found waiting here.
	CancelWait(t *TCB) bool
}

// TCB is a thread: register context, kernel stack, owning PCB, and the
// pending-notification wait bitmap (§3).
type TCB struct {
	TID      uint64
	PCB      *PCB
	Priority RPLevel
	Regs     archctx.RegCtx

	KernelStack []byte

	WaitMask  priv.Mask256
	BlockedOn Waitable

	mu       sync.Mutex
	state    State
	refs     int
	runTime  uint64
	quantum  int
}

// NewTCB allocates a TCB for owner at priority with a kStackSize-byte
// kernel stack.
func NewTCB(tid uint64, owner *PCB, priority RPLevel, kStackSize int) *TCB {
	return &TCB{
		TID:         tid,
		PCB:         owner,
		Priority:    priority,
		KernelStack: make([]byte, kStackSize),
		refs:        0,
	}
}

func (t *TCB) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TCB) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// RunTime returns the accumulated run-time tick count used by rp3 daemon
// fairness ordering (§4.7).
func (t *TCB) RunTime() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runTime
}

// AddRunTime charges ticks elapsed ticks to t's accumulator.
func (t *TCB) AddRunTime(ticks uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runTime += ticks
}

// Quantum returns the remaining time-slice ticks for rp1/rp2 threads.
func (t *TCB) Quantum() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quantum
}

// SetQuantum re-arms t's remaining quantum (on fresh selection).
func (t *TCB) SetQuantum(q int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.quantum = q
}

// ChargeQuantum decrements t's remaining quantum by one tick, floored at 0.
func (t *TCB) ChargeQuantum() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quantum > 0 {
		t.quantum--
	}
}

// Retain/Release implement capability.Payload: a TCB capability's payload
// is ref-counted like any other (§3 Lifecycles).
func (t *TCB) Retain() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs++
}

func (t *TCB) Release() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refs--
	return t.refs <= 0
}

// Unblock transitions t out of Blocked to Ready, clearing BlockedOn. It
// does not enqueue t in any ready queue; the caller (kernel) does that,
// mirroring §4.7's selection algorithm where a thread leaving Blocked must
// be explicitly re-inserted.
func (t *TCB) Unblock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Ready
	t.BlockedOn = nil
}
