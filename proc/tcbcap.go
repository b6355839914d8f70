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
	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/kerrors"
	"github.com/capsule-os/capkernel/priv"
)

// requireTCB unwraps cap into its target TCB, checking both the
// capability's type and the requested privilege bit (§4.4).
func requireTCB(cap *capability.Capability, need priv.Word) (*TCB, error) {
	if cap.Type != capability.TypeTCB {
		return nil, kerrors.New(kerrors.WrongType, "capability is not a TCB capability")
	}
	if !cap.Priv.Has(need) {
		return nil, kerrors.New(kerrors.InsufficientPrivilege, "missing privilege %s", need)
	}
	t, ok := cap.Payload.(*TCB)
	if !ok {
		return nil, kerrors.New(kerrors.WrongType, "TCB capability payload is not a *TCB")
	}
	return t, nil
}

// Yield implements TCB_YIELD: the calling thread voluntarily gives up the
// remainder of its quantum. The caller (kernel/dispatch) is responsible for
// re-running scheduler selection afterward; Yield only updates state
// (§9 layering — this package never imports sched).
func Yield(cap *capability.Capability) (*TCB, error) {
	t, err := requireTCB(cap, priv.TCB_YIELD)
	if err != nil {
		return nil, err
	}
	t.SetState(Yielding)
	t.SetQuantum(0)
	return t, nil
}

// Suspend implements TCB_SUSPEND: the target thread is moved to Blocked
// with no Waitable, so only an explicit Resume can bring it back.
func Suspend(cap *capability.Capability) (*TCB, error) {
	t, err := requireTCB(cap, priv.TCB_SUSPEND)
	if err != nil {
		return nil, err
	}
	if t.State() == Zombie {
		return nil, kerrors.New(kerrors.BadArgument, "cannot suspend a zombie thread")
	}
	t.BlockedOn = nil
	t.SetState(Blocked)
	return t, nil
}

// Resume implements TCB_RESUME: a Blocked thread is returned to Ready. The
// caller is responsible for enqueueing it with the scheduler.
func Resume(cap *capability.Capability) (*TCB, error) {
	t, err := requireTCB(cap, priv.TCB_RESUME)
	if err != nil {
		return nil, err
	}
	if t.State() != Blocked {
		return nil, kerrors.New(kerrors.BadArgument, "thread is not blocked")
	}
	t.Unblock()
	return t, nil
}

// Terminate implements TCB_TERMINATE: the target thread is forced to
// Zombie immediately, cancelling any outstanding wait.
func Terminate(cap *capability.Capability) (*TCB, error) {
	t, err := requireTCB(cap, priv.TCB_TERMINATE)
	if err != nil {
		return nil, err
	}
	if w := t.BlockedOn; w != nil {
		w.CancelWait(t)
		t.BlockedOn = nil
	}
	t.SetState(Zombie)
	return t, nil
}

// SetPriority implements TCB_SET_PRIORITY: it changes which of the four
// ready-queue classes the thread belongs to. Moving a Ready/Running thread
// between classes in the live scheduler is the caller's responsibility
// (sched.Remove followed by sched.Enqueue at the new level).
func SetPriority(cap *capability.Capability, level RPLevel) (*TCB, error) {
	t, err := requireTCB(cap, priv.TCB_SET_PRIORITY)
	if err != nil {
		return nil, err
	}
	t.Priority = level
	return t, nil
}
