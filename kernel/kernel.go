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

// Package kernel wires capability, proc, memcap, notify, sched, archctx,
// and dispatch into one bootable object: the per-CPU current-thread
// pointer, PID/TID allocators, and ready-queue heads §9 calls out as the
// kernel's global mutable state, here held as fields of one *Kernel rather
// than package-level globals so tests can run several kernels side by
// side.
package kernel

import (
	"github.com/sirupsen/logrus"

	"github.com/capsule-os/capkernel/archctx"
	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/config"
	"github.com/capsule-os/capkernel/dispatch"
	"github.com/capsule-os/capkernel/kid"
	"github.com/capsule-os/capkernel/priv"
	"github.com/capsule-os/capkernel/proc"
	"github.com/capsule-os/capkernel/sched"
	"github.com/capsule-os/capkernel/taskmem"
)

var logger = logrus.WithField("component", "kernel")

// Kernel is the booted system: the scheduler, the syscall dispatcher, and
// the init process's PCB.
type Kernel struct {
	Config config.Config
	Arch   archctx.Arch
	Sched  *sched.Scheduler
	Disp   *dispatch.Dispatcher

	Init *proc.PCB

	halted bool
}

// Boot brings up a kernel per cfg: a scheduler armed with cfg's quanta, a
// dispatcher over arch, and a single init process on CSpace 0 holding a
// PCB capability over itself at index (0,1) — index (0,0) stays reserved
// invalid — with every PCB privilege bit set, enqueued Ready in rp2
// (§12.5).
func Boot(cfg config.Config, arch archctx.Arch) (*Kernel, error) {
	s := sched.New(arch)
	s.Q1 = cfg.Q1
	s.Q2 = cfg.Q2
	d := dispatch.New(arch, s, cfg.KStackSize)

	initPID := d.PIDs.Next()
	mem := taskmem.New(0)
	init := proc.New(initPID, cfg.CSpaces, cfg.CSpaceItems, mem)
	init.RPLevel = proc.RP2User

	mainThread := proc.NewTCB(d.TIDs.Next(), init, proc.RP2User, cfg.KStackSize)
	init.MainThread = mainThread

	// Insert lands init's self-capability at (0,1): LookupFreeSlot always
	// skips the reserved invalid (0,0) index (§12.5).
	selfCap, idx, err := capability.Create(init, capability.TypePCB, init, priv.PCBAll)
	if err != nil {
		return nil, err
	}
	if idx.CSpace != 0 || idx.CIndex != 1 {
		logger.WithField("idx", idx).Warn("init self-capability landed outside the expected (0,1) slot")
	}
	_ = selfCap

	init.SetState(proc.Ready)
	mainThread.SetState(proc.Ready)
	s.Enqueue(mainThread)

	logger.WithField("pid", kid.PID(init.PID())).Info("kernel booted")

	return &Kernel{Config: cfg, Arch: arch, Sched: s, Disp: d, Init: init}, nil
}

// Tick runs one scheduling event and returns the thread now selected to
// run, or nil if the system is idle.
func (k *Kernel) Tick() *proc.TCB {
	return k.Sched.Schedule()
}

// Halt records reason and fields at Fatal level and then blocks the
// calling goroutine forever. It deliberately uses Entry.Log rather than
// Entry.Fatal: the latter calls os.Exit(1) internally, which would make
// the halt unobservable from a test (§10.2).
func (k *Kernel) Halt(reason string, fields logrus.Fields) {
	k.halted = true
	logger.WithFields(fields).Log(logrus.FatalLevel, reason)
	select {}
}

// Halted reports whether Halt has been invoked. Exposed so tests can
// assert a hard-halt path was taken without actually blocking on it.
func (k *Kernel) Halted() bool {
	return k.halted
}
