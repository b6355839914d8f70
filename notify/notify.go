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

// Package notify implements the Notification capability payload and its
// set/reset/check/wait operation set (§4.6): a 256-bit edge-triggered
// bitmap with FIFO wakeup among blocked waiters whose wait mask overlaps
// the bitmap after a set. The blocked-waiter bookkeeping here mirrors the
// mutex-guarded, explicitly-drained waiter list pattern the teacher used
// for its own process/file watch loops.
package notify

import (
	"sync"

	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/kerrors"
	"github.com/capsule-os/capkernel/priv"
	"github.com/capsule-os/capkernel/proc"
)

// waiter records a blocked thread together with the mask it is waiting on.
type waiter struct {
	thread *proc.TCB
	mask   priv.Mask256
}

// Payload is a Notification: the 256-bit bitmap plus the FIFO list of
// threads currently blocked on it. It implements capability.Payload and
// proc.Waitable.
type Payload struct {
	mu      sync.Mutex
	refs    int
	bitmap  priv.Mask256
	waiters []waiter
}

// New returns an empty Notification payload.
func New() *Payload {
	return &Payload{}
}

func (p *Payload) Retain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
}

func (p *Payload) Release() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs--
	return p.refs <= 0
}

// CancelWait implements proc.Waitable: it removes t from the blocked list,
// used when TCB_TERMINATE cuts off an outstanding wait (§4.4).
func (p *Payload) CancelWait(t *proc.TCB) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w.thread == t {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Bitmap returns a snapshot of the current payload bitmap.
func (p *Payload) Bitmap() priv.Mask256 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bitmap
}

func requireNotif(cap *capability.Capability) (*Payload, error) {
	if cap.Type != capability.TypeNotification {
		return nil, kerrors.New(kerrors.WrongType, "capability is not a Notification capability")
	}
	n, ok := cap.Payload.(*Payload)
	if !ok {
		return nil, kerrors.New(kerrors.WrongType, "Notification capability payload is not a *Payload")
	}
	if cap.Aux == nil {
		return nil, kerrors.New(kerrors.BadArgument, "Notification capability missing auxiliary privilege")
	}
	return n, nil
}

// Set implements set(cap, id): requires may_set, sets the bit, and wakes
// the first FIFO-ordered waiter whose mask now overlaps the bitmap.
func Set(cap *capability.Capability, id int) error {
	n, err := requireNotif(cap)
	if err != nil {
		return err
	}
	if !cap.Aux.MaySet.Test(id) {
		return kerrors.New(kerrors.InsufficientPrivilege, "bit %d not in may_set", id)
	}

	n.mu.Lock()
	n.bitmap.Set(id)
	var woken *proc.TCB
	for i, w := range n.waiters {
		if w.mask.Intersects(n.bitmap) {
			woken = w.thread
			n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
			break
		}
	}
	n.mu.Unlock()

	if woken != nil {
		woken.Unblock()
		woken.Regs.Ret = 1
	}
	return nil
}

// Reset implements reset(cap, id): requires may_reset, clears the bit, no
// wakeups.
func Reset(cap *capability.Capability, id int) error {
	n, err := requireNotif(cap)
	if err != nil {
		return err
	}
	if !cap.Aux.MayReset.Test(id) {
		return kerrors.New(kerrors.InsufficientPrivilege, "bit %d not in may_reset", id)
	}
	n.mu.Lock()
	n.bitmap.Clear(id)
	n.mu.Unlock()
	return nil
}

// Check implements check(cap, id): a pure read gated by may_check.
func Check(cap *capability.Capability, id int) (bool, error) {
	n, err := requireNotif(cap)
	if err != nil {
		return false, err
	}
	if !cap.Aux.MayCheck.Test(id) {
		return false, kerrors.New(kerrors.InsufficientPrivilege, "bit %d not in may_check", id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bitmap.Test(id), nil
}

// Wait implements wait(tcb_cap, notif_cap, wait_bitmap) (§4.6): the caller
// must hold WAIT_NOTIFICATION on tcbCap and may_check-rights on every id in
// mask. It returns true immediately if the bitmap already overlaps mask;
// otherwise it blocks t and returns false, leaving t.BlockedOn set so a
// later TCB_TERMINATE can cancel the wait.
func Wait(tcbCap *capability.Capability, t *proc.TCB, notifCap *capability.Capability, mask priv.Mask256) (bool, error) {
	if tcbCap.Type != capability.TypeTCB {
		return false, kerrors.New(kerrors.WrongType, "tcbCap is not a TCB capability")
	}
	if !tcbCap.Priv.Has(priv.TCB_WAIT_NOTIFICATION) {
		return false, kerrors.New(kerrors.InsufficientPrivilege, "missing TCB_WAIT_NOTIFICATION")
	}
	n, err := requireNotif(notifCap)
	if err != nil {
		return false, err
	}
	if !mask.Subset(notifCap.Aux.MayCheck) {
		return false, kerrors.New(kerrors.InsufficientPrivilege, "wait mask exceeds may_check")
	}
	if mask.Empty() {
		return false, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if mask.Intersects(n.bitmap) {
		return true, nil
	}
	n.waiters = append(n.waiters, waiter{thread: t, mask: mask})
	t.WaitMask = mask
	t.BlockedOn = n
	t.SetState(proc.Blocked)
	return false, nil
}
