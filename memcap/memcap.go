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

// Package memcap implements the Memory capability payload and its
// GETPADDR/MAP/UNMAP/READ/WRITE/SHARE/UNSHARE operation set (§4.5),
// layered over a taskmem.TaskMemory address-space descriptor. MEM_EXEC has
// no operation of its own; Map requires it for executable mappings.
package memcap

import (
	"sync"

	"github.com/capsule-os/capkernel/capability"
	"github.com/capsule-os/capkernel/kerrors"
	"github.com/capsule-os/capkernel/priv"
	"github.com/capsule-os/capkernel/taskmem"
)

// Payload is a MemoryPayload: (paddr, size) plus the shared/mmio/
// kernel_allocated classification bits from §3. It implements
// capability.Payload; a kernel_allocated payload frees its backing frames
// (via the Free hook, when set) once the last capability referencing it is
// released.
type Payload struct {
	PAddr           uint64
	Size            uint64
	Shared          bool
	MMIO            bool
	KernelAllocated bool

	// Free, if non-nil, is invoked exactly once when the last reference to
	// a kernel_allocated payload is released. It stands in for the
	// physical frame allocator's free path, out of scope for this core
	// (§1 non-goals).
	Free func(paddr, size uint64)

	mu   sync.Mutex
	refs int
}

func (p *Payload) Retain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs++
}

// Release decrements the reference count and, for a kernel_allocated
// payload whose count has dropped to zero, frees the backing frames.
func (p *Payload) Release() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refs--
	drained := p.refs <= 0
	if drained && p.KernelAllocated && p.Free != nil {
		p.Free(p.PAddr, p.Size)
	}
	return drained
}

func requireMem(cap *capability.Capability, need priv.Word) (*Payload, error) {
	if cap.Type != capability.TypeMemory {
		return nil, kerrors.New(kerrors.WrongType, "capability is not a Memory capability")
	}
	if !cap.Priv.Has(need) {
		return nil, kerrors.New(kerrors.InsufficientPrivilege, "missing privilege %s", need)
	}
	m, ok := cap.Payload.(*Payload)
	if !ok {
		return nil, kerrors.New(kerrors.WrongType, "Memory capability payload is not a *Payload")
	}
	return m, nil
}

// GetPAddr implements MEM_GETPADDR.
func GetPAddr(cap *capability.Capability) (uint64, error) {
	m, err := requireMem(cap, priv.MEM_GETPADDR)
	if err != nil {
		return 0, err
	}
	return m.PAddr, nil
}

// Map implements MEM_MAP: it installs a VMA covering the payload's
// (paddr, size) range into the target address space at vaddr with prot.
func Map(cap *capability.Capability, mem *taskmem.TaskMemory, vaddr uint64, prot taskmem.Prot) error {
	m, err := requireMem(cap, priv.MEM_MAP)
	if err != nil {
		return err
	}
	if prot&taskmem.ProtWrite != 0 && !cap.Priv.Has(priv.MEM_WRITE) {
		return kerrors.New(kerrors.InsufficientPrivilege, "MAP with write protection requires MEM_WRITE")
	}
	if prot&taskmem.ProtExec != 0 && !cap.Priv.Has(priv.MEM_EXEC) {
		return kerrors.New(kerrors.InsufficientPrivilege, "MAP with exec protection requires MEM_EXEC")
	}
	mem.AddVMA(taskmem.VMA{Start: vaddr, End: vaddr + m.Size, Prot: prot})
	return nil
}

// Unmap implements MEM_UNMAP: the payload no longer being reachable from
// mem is modeled as rebuilding the VMA list without the matching entry.
func Unmap(cap *capability.Capability, mem *taskmem.TaskMemory, vaddr uint64) error {
	_, err := requireMem(cap, priv.MEM_UNMAP)
	if err != nil {
		return err
	}
	kept := make([]taskmem.VMA, 0, len(mem.VMAs()))
	removed := false
	for _, v := range mem.VMAs() {
		if v.Start == vaddr {
			removed = true
			continue
		}
		kept = append(kept, v)
	}
	if !removed {
		return kerrors.New(kerrors.BadArgument, "no mapping at vaddr %#x", vaddr)
	}
	*mem = *taskmem.New(mem.PageTableRoot)
	for _, v := range kept {
		mem.AddVMA(v)
	}
	return nil
}

// Read implements MEM_READ: it copies size bytes out of backing, honoring
// the payload's own (paddr, size) bound.
func Read(cap *capability.Capability, backing []byte, offset, size uint64) ([]byte, error) {
	m, err := requireMem(cap, priv.MEM_READ)
	if err != nil {
		return nil, err
	}
	if offset+size > m.Size || offset+size > uint64(len(backing)) {
		return nil, kerrors.New(kerrors.BadArgument, "read [%d,%d) exceeds payload bound", offset, offset+size)
	}
	out := make([]byte, size)
	copy(out, backing[offset:offset+size])
	return out, nil
}

// Write implements MEM_WRITE: it copies data into backing at offset,
// honoring the payload's own bound.
func Write(cap *capability.Capability, backing []byte, offset uint64, data []byte) error {
	m, err := requireMem(cap, priv.MEM_WRITE)
	if err != nil {
		return err
	}
	size := uint64(len(data))
	if offset+size > m.Size || offset+size > uint64(len(backing)) {
		return kerrors.New(kerrors.BadArgument, "write [%d,%d) exceeds payload bound", offset, offset+size)
	}
	copy(backing[offset:offset+size], data)
	return nil
}

// Share implements MEM_SHARE: it derives a new Memory capability over the
// same payload into dstOwner's table, marking the payload Shared.
func Share(cap *capability.Capability, dstOwner capability.Owner) (*capability.Capability, error) {
	m, err := requireMem(cap, priv.MEM_SHARE)
	if err != nil {
		return nil, err
	}
	child, _, err := capability.Derive(cap, dstOwner, cap.Priv)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Shared = true
	m.mu.Unlock()
	return child, nil
}

// Unshare implements MEM_UNSHARE: it revokes cap together with every
// capability derived from it, including those handed out by Share; cap
// itself is destroyed as well.
func Unshare(cap *capability.Capability) error {
	if _, err := requireMem(cap, priv.MEM_UNSHARE); err != nil {
		return err
	}
	return capability.Revoke(cap)
}
