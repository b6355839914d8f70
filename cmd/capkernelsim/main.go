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

// Command capkernelsim boots a kernel, forks a child from the init
// process, has the child signal a notification the parent is waiting on,
// and prints the resulting scheduling trace. It is a runnable
// demonstration of the fork/wait/set interplay (§8's S1/S6 scenarios),
// not a conformance test — see the package tests for those.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/capsule-os/capkernel/archctx"
	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/config"
	"github.com/capsule-os/capkernel/dispatch"
	"github.com/capsule-os/capkernel/kernel"
	"github.com/capsule-os/capkernel/kid"
	"github.com/capsule-os/capkernel/notify"
	"github.com/capsule-os/capkernel/priv"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(afero.NewOsFs(), "/etc/capkernel.toml")
	if err != nil {
		die("loading config", err)
	}

	arch := archctx.NewSim(cfg.UserMemSize)
	k, err := kernel.Boot(cfg, arch)
	if err != nil {
		die("boot failed", err)
	}
	logrus.WithField("pid", kid.PID(k.Init.PID())).Info("booted init process")

	selfCap, err := initSelfCapability(k)
	if err != nil {
		die("locating init self-capability", err)
	}

	var forkRegs archctx.RegCtx
	arch.SetupArgument(&forkRegs, 0, selfCap.Index.Word())
	if err := k.Disp.Dispatch(k.Init.MainThread, dispatch.FORK, &forkRegs); err != nil {
		die("fork failed", err)
	}
	children := k.Init.Children()
	child := children[len(children)-1]
	logrus.WithField("pid", kid.PID(child.PID())).Info("forked child process")

	var allBits priv.Mask256
	for i := 0; i < 256; i++ {
		allBits.Set(i)
	}
	notifPayload := notify.New()
	notifCap, _, err := capability.Create(k.Init, capability.TypeNotification, notifPayload, priv.NotifAll)
	if err != nil {
		die("creating notification", err)
	}
	notifCap.Aux = &capability.NotifAux{MaySet: allBits, MayReset: allBits, MayCheck: allBits}

	parentTCBCap, _, err := capability.Create(k.Init, capability.TypeTCB, k.Init.MainThread, priv.TCBAll)
	if err != nil {
		die("creating parent tcb capability", err)
	}

	const signalBit = 7
	waited, err := notify.Wait(parentTCBCap, k.Init.MainThread, notifCap, bitMask(signalBit))
	if err != nil {
		die("parent wait failed", err)
	}
	logrus.WithField("immediate", waited).Info("parent waiting on notification bit 7")

	if err := notify.Set(notifCap, signalBit); err != nil {
		die("child set failed", err)
	}
	logrus.WithField("state", k.Init.MainThread.State()).Info("child signaled notification; parent woken")

	k.Sched.Enqueue(k.Init.MainThread)
	for i := 0; i < 4; i++ {
		t := k.Tick()
		if t == nil {
			logrus.Info("scheduler idle")
			break
		}
		logrus.WithField("tid", kid.TID(t.TID)).WithField("pid", kid.PID(t.PCB.PID())).Info("scheduled")
	}
}

func bitMask(id int) priv.Mask256 {
	var m priv.Mask256
	m.Set(id)
	return m
}

// initSelfCapability finds the PCB capability init holds over itself, the
// index its simulated entry trap would have received as argument 0.
func initSelfCapability(k *kernel.Kernel) (*capability.Capability, error) {
	for _, c := range k.Init.OwnedCapabilities() {
		if c.Type == capability.TypePCB {
			return c, nil
		}
	}
	return nil, fmt.Errorf("init process has no self-capability")
}

func die(what string, err error) {
	fmt.Fprintf(os.Stderr, "capkernelsim: %s: %v\n", what, err)
	os.Exit(1)
}
