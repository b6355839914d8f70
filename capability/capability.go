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

// Package capability implements the CSpace / Capability table: per-process
// indexed capability storage plus the derivation tree linking capabilities
// together (§3, §4.2).
package capability

import (
	"sync"

	mapset "github.com/deckarep/golang-set"
	log "github.com/sirupsen/logrus"

	"github.com/capsule-os/capkernel/capidx"
	"github.com/capsule-os/capkernel/priv"
)

var logger = log.WithField("component", "capability")

// Type discriminates the payload kind a Capability refers to.
type Type int

const (
	Null Type = iota
	TypePCB
	TypeTCB
	TypeMemory
	TypeNotification
)

func (t Type) String() string {
	switch t {
	case Null:
		return "Null"
	case TypePCB:
		return "PCB"
	case TypeTCB:
		return "TCB"
	case TypeMemory:
		return "Memory"
	case TypeNotification:
		return "Notification"
	}
	return "Unknown"
}

// Payload is the kernel object a Capability refers to. Payloads with
// multiple capability referents are reference counted (§3 Lifecycles);
// Release reports whether this was the last reference, so the caller can
// run type-specific teardown exactly once.
type Payload interface {
	Retain()
	Release() (drained bool)
}

// NotifAux carries the per-notification-id privilege triple described in
// §3: which bits of a Notification's payload bitmap this capability's
// holder may Set, Reset, or Check. Only capabilities of TypeNotification
// populate this field.
type NotifAux struct {
	MaySet   priv.Mask256
	MayReset priv.Mask256
	MayCheck priv.Mask256
}

// Owner is the minimal surface a capability's owning PCB must provide. It
// lets this package manipulate CSpaces and the owner's capability list
// without importing the proc package (which itself depends on capability),
// avoiding an import cycle while keeping §3's I-CAP-1 invariant checkable.
type Owner interface {
	PID() uint64
	NumCSpaces() int
	CSpaceItems() int
	// CSpaceAt returns the CSpace at index i, or nil if not yet allocated.
	CSpaceAt(i int) *CSpace
	// EnsureCSpace allocates the CSpace at index i on first use and
	// returns it.
	EnsureCSpace(i int) *CSpace
	// TrackCapability / UntrackCapability maintain the owner's "list of
	// owned capabilities" (§3).
	TrackCapability(c *Capability)
	UntrackCapability(c *Capability)
}

// Capability is the kernel object describing one holder's handle to one
// payload (§3).
type Capability struct {
	Type    Type
	Payload Payload
	Priv    priv.Word
	Aux     *NotifAux

	Owner Owner
	Index capidx.CapabilityIndex

	mu       sync.Mutex
	parent   *Capability
	children mapset.Set // of *Capability
}

func newCapability(typ Type, payload Payload, privw priv.Word) *Capability {
	return &Capability{
		Type:     typ,
		Payload:  payload,
		Priv:     privw,
		children: mapset.NewSet(),
	}
}

// Parent returns the capability this one was derived from, or nil for a
// root capability.
func (c *Capability) Parent() *Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parent
}

// Children returns a snapshot slice of this capability's derived children.
// The underlying collection is unordered (§3); callers must not assume any
// particular order.
func (c *Capability) Children() []*Capability {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Capability, 0, c.children.Cardinality())
	for v := range c.children.Iter() {
		out = append(out, v.(*Capability))
	}
	return out
}

func (c *Capability) addChild(child *Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children.Add(child)
}

func (c *Capability) removeChild(child *Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children.Remove(child)
}

// CSpace is a fixed-size array of slots, each either empty or holding
// exactly one Capability (§3).
type CSpace struct {
	mu    sync.Mutex
	slots []*Capability
	used  int
}

// NewCSpace allocates a CSpace with the given number of slots.
func NewCSpace(items int) *CSpace {
	return &CSpace{slots: make([]*Capability, items)}
}

// Get returns the capability at index i, or nil if the slot is empty or i
// is out of range.
func (cs *CSpace) Get(i int) *Capability {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if i < 0 || i >= len(cs.slots) {
		return nil
	}
	return cs.slots[i]
}

// Used reports how many slots are currently occupied.
func (cs *CSpace) Used() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.used
}

// Capacity reports the total number of slots.
func (cs *CSpace) Capacity() int {
	return len(cs.slots)
}

func (cs *CSpace) set(i int, c *Capability) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.slots[i] == nil && c != nil {
		cs.used++
	} else if cs.slots[i] != nil && c == nil {
		cs.used--
	}
	cs.slots[i] = c
}
