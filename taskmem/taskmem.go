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

// Package taskmem implements TaskMemory, the per-process address-space
// descriptor §9 names as an external collaborator ("an object supporting
// add_vma, alloc_pages_for, clone_vma, indexed by virtual address") without
// specifying its invariants. This is a minimal, self-contained
// implementation sufficient for PCB.Fork to exercise real VMA-list copying
// and copy-on-write bookkeeping; hardware page-table bit layout and the
// physical frame allocator remain out of scope (§1 non-goals).
package taskmem

import "sort"

// Prot is a page protection bitset.
type Prot uint8

const (
	ProtRead Prot = 1 << iota
	ProtWrite
	ProtExec
)

// VMA is one virtual memory area: a contiguous, page-aligned address range
// with a protection and copy-on-write flag.
type VMA struct {
	Start uint64
	End   uint64
	Prot  Prot
	COW   bool
}

func (v VMA) contains(addr uint64) bool { return addr >= v.Start && addr < v.End }

// TaskMemory is a process's address-space descriptor: an ordered VMA list
// plus a page-table-root handle opaque to this package.
type TaskMemory struct {
	PageTableRoot uint64
	vmas          []VMA
}

// New returns an empty address space rooted at root.
func New(root uint64) *TaskMemory {
	return &TaskMemory{PageTableRoot: root}
}

// AddVMA inserts a new mapping, keeping the list sorted by start address.
func (tm *TaskMemory) AddVMA(v VMA) {
	tm.vmas = append(tm.vmas, v)
	sort.Slice(tm.vmas, func(i, j int) bool { return tm.vmas[i].Start < tm.vmas[j].Start })
}

// AllocPagesFor returns the VMA covering addr, or false if unmapped.
func (tm *TaskMemory) AllocPagesFor(addr uint64) (VMA, bool) {
	for _, v := range tm.vmas {
		if v.contains(addr) {
			return v, true
		}
	}
	return VMA{}, false
}

// VMAs returns a snapshot of the current mapping list.
func (tm *TaskMemory) VMAs() []VMA {
	out := make([]VMA, len(tm.vmas))
	copy(out, tm.vmas)
	return out
}

// CloneVMA produces a new address space sharing this one's VMA layout.
// Writable VMAs are marked COW on both the parent and the clone, modeling
// "per-page copy-on-write when feasible" (§4.3 fork); read-only VMAs are
// copied with their COW flag unchanged.
func (tm *TaskMemory) CloneVMA(newRoot uint64) *TaskMemory {
	clone := New(newRoot)
	for i := range tm.vmas {
		if tm.vmas[i].Prot&ProtWrite != 0 {
			tm.vmas[i].COW = true
		}
		clone.vmas = append(clone.vmas, tm.vmas[i])
	}
	return clone
}
