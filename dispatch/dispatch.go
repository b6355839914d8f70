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

// Package dispatch implements the system-call dispatch boundary (§4.8):
// argument 0 is always a capability index, the dispatcher fetches and
// type/privilege-checks it, then invokes the matching typed operation from
// capability/proc/notify/sched. User-pointer access is quarantined
// behind archctx's ua_begin/ua_end/ua_memcpy/ua_strcpy/ua_strlen intrinsics.
package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/capsule-os/capkernel/archctx"
	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/capidx"
	"github.com/capsule-os/capkernel/kerrors"
	"github.com/capsule-os/capkernel/notify"
	"github.com/capsule-os/capkernel/priv"
	"github.com/capsule-os/capkernel/proc"
	"github.com/capsule-os/capkernel/sched"
)

// Number is a stable system-call number (§4.8).
type Number int

const (
	EXIT Number = iota
	YIELD
	LOG
	WRITE_SERIAL
	FORK
	GETPID
	CREATE_THREAD
	YIELD_THREAD
	WAIT_NOTIFICATION
	WAIT_NOTIFICATION_THREAD
	SET_NOTIFICATION
	RESET_NOTIFICATION
	CHECK_NOTIFICATION
)

var logger = logrus.WithField("component", "dispatch")

// Dispatcher wires the syscall boundary to the scheduler, architecture
// contract, and id allocators. One Dispatcher serves the whole kernel;
// there is exactly one hardware thread executing kernel code at a time
// (§5), so no locking is needed at this layer beyond what each subsystem
// already provides.
type Dispatcher struct {
	Arch archctx.Arch
	Sched *sched.Scheduler
	PIDs  *proc.PIDAllocator
	TIDs  *proc.TIDAllocator

	KernelStackSize int
}

// New returns a Dispatcher over the given architecture contract and
// scheduler, allocating fresh PID/TID allocators.
func New(arch archctx.Arch, s *sched.Scheduler, kStackSize int) *Dispatcher {
	return &Dispatcher{
		Arch:            arch,
		Sched:           s,
		PIDs:            proc.NewPIDAllocator(),
		TIDs:            proc.NewTIDAllocator(),
		KernelStackSize: kStackSize,
	}
}

// arg returns the i-th argument word from regs, per the arg(ctx, i)
// convention (§4.8).
func arg(regs *archctx.RegCtx, i int) uint64 {
	return regs.Arg(i)
}

// capArg decodes argument i of regs as a CapabilityIndex and fetches it
// from current's owning PCB.
func capArg(current *proc.TCB, regs *archctx.RegCtx, i int) (*capability.Capability, error) {
	idx := capidx.FromWord(arg(regs, i))
	return capability.Fetch(current.PCB, idx)
}

// maskArg reassembles a 256-bit wait mask from four consecutive argument
// words starting at i, mirroring the register-word layout priv.Mask256
// uses internally.
func maskArg(regs *archctx.RegCtx, i int) priv.Mask256 {
	return priv.Mask256{arg(regs, i), arg(regs, i+1), arg(regs, i+2), arg(regs, i+3)}
}

// Dispatch handles one syscall trap for current, per the §4.8 algorithm:
// fetch+validate argument 0's capability, switch on num, invoke the typed
// handler, and (for calls that produce one) place the result in regs via
// Arch.SetupArgument/regs.Ret. Kernel preemption is conceptually disabled
// for the duration of this call (§5); the caller re-enters the scheduler
// after Dispatch returns.
func (d *Dispatcher) Dispatch(current *proc.TCB, num Number, regs *archctx.RegCtx) error {
	switch num {
	case EXIT:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		return proc.Exit(cap, int(arg(regs, 1)))

	case YIELD:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		t, err := proc.Yield(cap)
		if err != nil {
			return fail(current, num, err)
		}
		d.Sched.Enqueue(t)
		return nil

	case LOG:
		d.Arch.UABegin()
		defer d.Arch.UAEnd()
		s, err := d.Arch.UAStrcpy(arg(regs, 1), 256)
		if err != nil {
			return fail(current, num, err)
		}
		logger.WithField("pid", current.PCB.PID()).Info(s)
		return nil

	case WRITE_SERIAL:
		d.Arch.UABegin()
		defer d.Arch.UAEnd()
		data, err := d.Arch.UAMemcpy(arg(regs, 1), int(arg(regs, 2)))
		if err != nil {
			return fail(current, num, err)
		}
		logger.WithField("pid", current.PCB.PID()).WithField("bytes", len(data)).Debug("write_serial")
		regs.Ret = uint64(len(data))
		return nil

	case FORK:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		child, childCap, idx, err := proc.Fork(cap, d.PIDs, d.TIDs, d.KernelStackSize, d.Arch)
		if err != nil {
			return fail(current, num, err)
		}
		d.Arch.SetupArgument(&child.MainThread.Regs, 1, 0)
		d.Sched.Enqueue(child.MainThread)
		regs.Ret = idx.Word()
		d.Arch.SetupArgument(regs, 1, child.PID())
		_ = childCap
		return nil

	case GETPID:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		pid, err := proc.GetPid(cap)
		if err != nil {
			return fail(current, num, err)
		}
		regs.Ret = pid
		return nil

	case CREATE_THREAD:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		entry, stack, priority := arg(regs, 1), arg(regs, 2), proc.RPLevel(arg(regs, 3))
		t, tcbCap, idx, err := proc.CreateThread(cap, d.TIDs, entry, stack, priority, d.KernelStackSize)
		if err != nil {
			return fail(current, num, err)
		}
		_ = tcbCap
		d.Sched.Enqueue(t)
		regs.Ret = idx.Word()
		return nil

	case YIELD_THREAD:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		t, err := proc.Yield(cap)
		if err != nil {
			return fail(current, num, err)
		}
		d.Sched.Enqueue(t)
		return nil

	case WAIT_NOTIFICATION:
		notifCap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		tcbCap, err := capArg(current, regs, 1)
		if err != nil {
			return fail(current, num, err)
		}
		mask := maskArg(regs, 2)
		ok, err := notify.Wait(tcbCap, current, notifCap, mask)
		if err != nil {
			return fail(current, num, err)
		}
		regs.Ret = boolToWord(ok)
		return nil

	case WAIT_NOTIFICATION_THREAD:
		notifCap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		tcbCap, err := capArg(current, regs, 1)
		if err != nil {
			return fail(current, num, err)
		}
		mask := maskArg(regs, 2)
		target, ok := tcbCap.Payload.(*proc.TCB)
		if !ok {
			return fail(current, num, kerrors.New(kerrors.WrongType, "WAIT_NOTIFICATION_THREAD target is not a *proc.TCB"))
		}
		waited, err := notify.Wait(tcbCap, target, notifCap, mask)
		if err != nil {
			return fail(current, num, err)
		}
		regs.Ret = boolToWord(waited)
		return nil

	case SET_NOTIFICATION:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		if err := notify.Set(cap, int(arg(regs, 1))); err != nil {
			return fail(current, num, err)
		}
		regs.Ret = 1
		return nil

	case RESET_NOTIFICATION:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		if err := notify.Reset(cap, int(arg(regs, 1))); err != nil {
			return fail(current, num, err)
		}
		return nil

	case CHECK_NOTIFICATION:
		cap, err := capArg(current, regs, 0)
		if err != nil {
			return fail(current, num, err)
		}
		set, err := notify.Check(cap, int(arg(regs, 1)))
		if err != nil {
			return fail(current, num, err)
		}
		regs.Ret = boolToWord(set)
		return nil
	}

	return fail(current, num, kerrors.New(kerrors.BadArgument, "unknown syscall number %d", num))
}

func boolToWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// fail logs a structured record for every capability-path failure and
// returns it unchanged to the caller (§6 "Propagation policy" — no panic,
// always a log record plus a returned error/sentinel).
func fail(current *proc.TCB, num Number, err error) error {
	logger.WithField("pid", current.PCB.PID()).WithField("syscall", num).WithError(err).Warn("syscall failed")
	return err
}
