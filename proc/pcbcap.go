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
	"github.com/capsule-os/capkernel/archctx"
	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/capidx"
	"github.com/capsule-os/capkernel/kerrors"
	"github.com/capsule-os/capkernel/priv"
)

// requirePCB unwraps cap into its owning PCB, checking both the capability's
// type and the requested privilege bit (§4.3: every PCB-capability operation
// is gated by the matching PCB_* bit).
func requirePCB(cap *capability.Capability, need priv.Word) (*PCB, error) {
	if cap.Type != capability.TypePCB {
		return nil, kerrors.New(kerrors.WrongType, "capability is not a PCB capability")
	}
	if !cap.Priv.Has(need) {
		return nil, kerrors.New(kerrors.InsufficientPrivilege, "missing privilege %s", need)
	}
	p, ok := cap.Payload.(*PCB)
	if !ok {
		return nil, kerrors.New(kerrors.WrongType, "PCB capability payload is not a *PCB")
	}
	return p, nil
}

// Exit implements the PCB_EXIT operation: it marks the process and every
// thread on its thread list Zombie and wakes anyone blocked on its death
// (§4.3). It frees nothing; no reaping happens here.
func Exit(cap *capability.Capability, code int) error {
	p, err := requirePCB(cap, priv.PCB_EXIT)
	if err != nil {
		return err
	}
	p.SetState(Zombie)
	for _, t := range p.Threads() {
		t.SetState(Zombie)
	}
	for _, waiter := range p.takeDeathWaiters() {
		waiter.Unblock()
	}
	return nil
}

// GetPid implements PCB_GETPID.
func GetPid(cap *capability.Capability) (uint64, error) {
	p, err := requirePCB(cap, priv.PCB_GETPID)
	if err != nil {
		return 0, err
	}
	return p.PID(), nil
}

// Fork implements PCB_FORK: a new child PCB is allocated sharing the
// parent's address space under copy-on-write (§3 TaskMemory collaborator),
// and a PCB capability naming the child is created in the owner's own
// CSpace table so the caller can observe/manage it. The caller is
// responsible for enqueueing the child's main thread with the scheduler;
// Fork itself never touches sched (§9 layering). The child's saved PC is
// advanced by one trapping instruction so it returns past the fork syscall
// instead of re-executing it (§4.3).
func Fork(cap *capability.Capability, pids *PIDAllocator, tids *TIDAllocator, kStackSize int, arch archctx.Arch) (*PCB, *capability.Capability, capidx.CapabilityIndex, error) {
	parent, err := requirePCB(cap, priv.PCB_FORK)
	if err != nil {
		return nil, nil, capidx.Invalid, err
	}

	childPID := pids.Next()
	childMem := parent.Mem.CloneVMA(parent.Mem.PageTableRoot)
	child := New(childPID, parent.NumCSpaces(), parent.CSpaceItems(), childMem)
	child.RPLevel = parent.RPLevel
	child.Entrypoint = parent.Entrypoint
	parent.addChild(child)

	mainThread := NewTCB(tids.Next(), child, child.RPLevel, kStackSize)
	mainThread.Regs = parent.MainThread.Regs
	mainThread.Regs.PC += arch.InstructionLength()
	child.MainThread = mainThread
	child.addThread(mainThread)

	childCap, idx, err := capability.Create(parent, capability.TypePCB, child, priv.PCBAll)
	if err != nil {
		return nil, nil, capidx.Invalid, err
	}
	return child, childCap, idx, nil
}

// CreateThread implements PCB_CREATE_THREAD: a new thread is added to the
// process named by cap, and a TCB capability for it is inserted into that
// process's CSpace table.
func CreateThread(cap *capability.Capability, tids *TIDAllocator, entry, stack uint64, priority RPLevel, kStackSize int) (*TCB, *capability.Capability, capidx.CapabilityIndex, error) {
	p, err := requirePCB(cap, priv.PCB_CREATE_THREAD)
	if err != nil {
		return nil, nil, capidx.Invalid, err
	}

	t := NewTCB(tids.Next(), p, priority, kStackSize)
	t.Regs.PC = entry
	t.Regs.SP = stack
	p.addThread(t)

	tcbCap, idx, err := capability.Create(p, capability.TypeTCB, t, priv.TCBAll)
	if err != nil {
		return nil, nil, capidx.Invalid, err
	}
	return t, tcbCap, idx, nil
}

// EnumCaps implements PCB_ENUM_CAPS: it returns every capability the named
// process currently owns.
func EnumCaps(cap *capability.Capability) ([]*capability.Capability, error) {
	p, err := requirePCB(cap, priv.PCB_ENUM_CAPS)
	if err != nil {
		return nil, err
	}
	return p.OwnedCapabilities(), nil
}

// MigrateCaps implements PCB_MIGRATE_CAPS: each capability in caps is
// derived into dst's CSpace table with an unchanged privilege mask, then
// the source copy is revoked so only one outstanding copy of each survives
// the move.
func MigrateCaps(cap *capability.Capability, dst *PCB, caps []*capability.Capability) error {
	_, err := requirePCB(cap, priv.PCB_MIGRATE_CAPS)
	if err != nil {
		return err
	}
	for _, c := range caps {
		if _, _, err := capability.Derive(c, dst, c.Priv); err != nil {
			return err
		}
		if err := capability.Revoke(c); err != nil {
			return err
		}
	}
	return nil
}
