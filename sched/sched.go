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

// Package sched implements the four-class preemptive scheduler (§4.7):
// rp0 real-time, rp1/rp2 quantum-based, and rp3 ordered by ascending
// accumulated run-time. The rp3 queue is a container/heap priority queue;
// the others are plain FIFO slices, mirroring the ready-queue shape the
// selection algorithm assumes.
package sched

import (
	"container/heap"
	"sync"

	"github.com/capsule-os/capkernel/archctx"
	"github.com/capsule-os/capkernel/kutil"
	"github.com/capsule-os/capkernel/proc"
)

// Default quanta, in ticks (§4.7).
const (
	DefaultQ1 = 5
	DefaultQ2 = 3
)

// rp3Queue is a min-heap of threads ordered by ascending RunTime.
type rp3Queue []*proc.TCB

func (q rp3Queue) Len() int            { return len(q) }
func (q rp3Queue) Less(i, j int) bool  { return q[i].RunTime() < q[j].RunTime() }
func (q rp3Queue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *rp3Queue) Push(x interface{}) { *q = append(*q, x.(*proc.TCB)) }
func (q *rp3Queue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Scheduler holds the four ready queues and the currently running thread.
type Scheduler struct {
	mu sync.Mutex

	Q1, Q2 int
	Arch   archctx.Arch

	rp0     []*proc.TCB
	rp1     []*proc.TCB
	rp2     []*proc.TCB
	rp3     rp3Queue
	current *proc.TCB
}

// New returns a scheduler with the default quanta. arch may be nil in tests
// that only exercise queue selection and never cross a process boundary;
// Schedule skips the address-space reload when it is.
func New(arch archctx.Arch) *Scheduler {
	return &Scheduler{Q1: DefaultQ1, Q2: DefaultQ2, Arch: arch}
}

// Enqueue adds t to its priority-class ready queue and marks it Ready. It
// does not touch t's quantum: Schedule re-arms an rp1/rp2 thread's quantum
// when it selects that thread, so a thread that has been enqueued but not
// yet run keeps its previous quantum (0 for a fresh NewTCB) until then.
func (s *Scheduler) Enqueue(t *proc.TCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.SetState(proc.Ready)
	switch t.Priority {
	case proc.RP0RealTime:
		s.rp0 = append(s.rp0, t)
	case proc.RP1Service:
		s.rp1 = append(s.rp1, t)
	case proc.RP2User:
		s.rp2 = append(s.rp2, t)
	case proc.RP3Daemon:
		heap.Push(&s.rp3, t)
	}
}

// Remove deletes t from whichever ready queue currently holds it, used when
// TCB_TERMINATE or TCB_SET_PRIORITY must pull a thread out of the live
// scheduler (§4.4, §4.7).
func (s *Scheduler) Remove(t *proc.TCB) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if removeFrom(&s.rp0, t) || removeFrom(&s.rp1, t) || removeFrom(&s.rp2, t) {
		return true
	}
	for i, c := range s.rp3 {
		if c == t {
			heap.Remove(&s.rp3, i)
			return true
		}
	}
	return false
}

func removeFrom(q *[]*proc.TCB, t *proc.TCB) bool {
	if !kutil.Contains(*q, t) {
		return false
	}
	*q = kutil.Remove(*q, t)
	return true
}

// Current returns the thread presently selected to run, or nil.
func (s *Scheduler) Current() *proc.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Schedule runs one selection event per the §4.7 algorithm: charge the
// outgoing thread, then cascade rp0 → rp1 → rp2 → rp3, keeping the outgoing
// thread (a Running rp0 or rp3 thread, or an rp1/rp2 thread with quantum
// left) unless a higher-priority class has a ready thread, falling back to
// idle (nil) only if every queue is empty and the outgoing thread is not
// Running. A transition between threads owned by different processes
// reloads the address-space root via Arch.SwitchAddressSpace before the
// new thread is marked Running.
func (s *Scheduler) Schedule() *proc.TCB {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.current
	if out != nil {
		switch out.Priority {
		case proc.RP1Service, proc.RP2User:
			out.ChargeQuantum()
		case proc.RP3Daemon:
			out.AddRunTime(1)
		}
	}

	next := s.selectLocked(out)
	s.current = next
	if next != nil && next != out {
		if s.Arch != nil && (out == nil || out.PCB != next.PCB) {
			s.Arch.SwitchAddressSpace(next.PCB.Mem.PageTableRoot)
		}
		switch next.Priority {
		case proc.RP1Service:
			next.SetQuantum(s.Q1)
		case proc.RP2User:
			next.SetQuantum(s.Q2)
		}
		next.SetState(proc.Running)
	}
	return next
}

func (s *Scheduler) selectLocked(out *proc.TCB) *proc.TCB {
	if out != nil && out.Priority == proc.RP0RealTime && out.State() == proc.Running {
		return out
	}
	if len(s.rp0) > 0 {
		t, rest, _ := kutil.PopFront(s.rp0)
		s.rp0 = rest
		return t
	}

	if out != nil && out.Priority == proc.RP1Service && out.State() == proc.Running && out.Quantum() > 0 {
		return out
	}
	if len(s.rp1) > 0 {
		t, rest, _ := kutil.PopFront(s.rp1)
		s.rp1 = rest
		return t
	}

	if out != nil && out.Priority == proc.RP2User && out.State() == proc.Running && out.Quantum() > 0 {
		return out
	}
	if len(s.rp2) > 0 {
		t, rest, _ := kutil.PopFront(s.rp2)
		s.rp2 = rest
		return t
	}

	if out != nil && out.Priority == proc.RP3Daemon && out.State() == proc.Running {
		return out
	}
	if s.rp3.Len() > 0 {
		return heap.Pop(&s.rp3).(*proc.TCB)
	}

	if out != nil && out.State() == proc.Running {
		return out
	}
	return nil
}
