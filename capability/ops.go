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

package capability

import (
	"sync"

	"github.com/capsule-os/capkernel/capidx"
	"github.com/capsule-os/capkernel/kerrors"
	"github.com/capsule-os/capkernel/priv"
)

// revokeMu serializes Revoke calls whose target forests might overlap
// (§5: "Concurrent invocations targeting overlapping forests must
// serialize"). The core is specified for a single-hardware-thread kernel,
// so a single global lock is the correct granularity rather than per-forest
// locking.
var revokeMu sync.Mutex

// Fetch validates idx against owner's table geometry and returns the
// capability stored there.
func Fetch(owner Owner, idx capidx.CapabilityIndex) (*Capability, error) {
	if idx.IsInvalid() || !idx.InRange(owner.NumCSpaces(), owner.CSpaceItems()) {
		return nil, kerrors.New(kerrors.InvalidIndex, "index %v out of range for pid %d", idx, owner.PID())
	}
	cs := owner.CSpaceAt(idx.CSpace)
	if cs == nil {
		return nil, kerrors.New(kerrors.NoSuchCapability, "cspace %d not allocated for pid %d", idx.CSpace, owner.PID())
	}
	cap := cs.Get(idx.CIndex)
	if cap == nil {
		return nil, kerrors.New(kerrors.NoSuchCapability, "slot %v empty for pid %d", idx, owner.PID())
	}
	return cap, nil
}

// LookupFreeSlot returns the first unoccupied slot in CSpace order
// (increasing cspace, then cindex), skipping the reserved (0,0) index, and
// lazily allocating a CSpace on first use of each cspace index.
func LookupFreeSlot(owner Owner) (capidx.CapabilityIndex, error) {
	for cs := 0; cs < owner.NumCSpaces(); cs++ {
		space := owner.EnsureCSpace(cs)
		for ci := 0; ci < owner.CSpaceItems(); ci++ {
			idx := capidx.CapabilityIndex{CSpace: cs, CIndex: ci}
			if idx.IsInvalid() {
				continue
			}
			if space.Get(ci) == nil {
				return idx, nil
			}
		}
	}
	return capidx.Invalid, kerrors.New(kerrors.TableFull, "no free slot for pid %d", owner.PID())
}

// InsertAt stores cap at the specified index, forbidding overwrite of an
// occupied slot. On success it stamps cap.Index, sets cap.Owner, and links
// cap into the owner's capability list.
func InsertAt(owner Owner, cap *Capability, idx capidx.CapabilityIndex) error {
	if idx.IsInvalid() || !idx.InRange(owner.NumCSpaces(), owner.CSpaceItems()) {
		return kerrors.New(kerrors.InvalidIndex, "index %v out of range for pid %d", idx, owner.PID())
	}
	space := owner.EnsureCSpace(idx.CSpace)
	if space.Get(idx.CIndex) != nil {
		return kerrors.New(kerrors.SlotOccupied, "slot %v already populated for pid %d", idx, owner.PID())
	}
	cap.Owner = owner
	cap.Index = idx
	space.set(idx.CIndex, cap)
	owner.TrackCapability(cap)
	logger.WithField("pid", owner.PID()).WithField("idx", idx).WithField("type", cap.Type).Debug("capability inserted")
	return nil
}

// Insert stores cap at the next free slot in owner's table.
func Insert(owner Owner, cap *Capability) (capidx.CapabilityIndex, error) {
	idx, err := LookupFreeSlot(owner)
	if err != nil {
		return capidx.Invalid, err
	}
	if err := InsertAt(owner, cap, idx); err != nil {
		return capidx.Invalid, err
	}
	return idx, nil
}

// Create allocates a fresh root Capability (no parent) over payload and
// inserts it into owner's table, retaining payload if it is ref-counted.
func Create(owner Owner, typ Type, payload Payload, privw priv.Word) (*Capability, capidx.CapabilityIndex, error) {
	if payload == nil {
		return nil, capidx.Invalid, kerrors.New(kerrors.BadArgument, "nil payload for type %v", typ)
	}
	payload.Retain()
	cap := newCapability(typ, payload, privw)
	idx, err := Insert(owner, cap)
	if err != nil {
		payload.Release()
		return nil, capidx.Invalid, err
	}
	return cap, idx, nil
}

// Derive creates a new Capability sharing parent's payload, linking it into
// parent's children, and installs it into dstOwner's table. It requires
// privSubset to be derivable from parent's privilege and parent to carry
// DERIVE (§4.1, §4.2).
func Derive(parent *Capability, dstOwner Owner, privSubset priv.Word) (*Capability, capidx.CapabilityIndex, error) {
	if !parent.Priv.Has(priv.DERIVE) {
		return nil, capidx.Invalid, kerrors.New(kerrors.InsufficientPrivilege, "parent capability lacks DERIVE")
	}
	if !priv.Derivable(parent.Priv, privSubset) {
		return nil, capidx.Invalid, kerrors.New(kerrors.InsufficientPrivilege, "%v is not a subset of %v", privSubset, parent.Priv)
	}

	var aux *NotifAux
	if parent.Type == TypeNotification {
		aux = parent.Aux
	}

	parent.Payload.Retain()
	child := newCapability(parent.Type, parent.Payload, privSubset)
	child.Aux = aux
	child.parent = parent

	idx, err := Insert(dstOwner, child)
	if err != nil {
		parent.Payload.Release()
		return nil, capidx.Invalid, err
	}
	parent.addChild(child)
	return child, idx, nil
}

// DeriveNotif is Derive specialized for Notification capabilities, which
// additionally subset-check the auxiliary may_set/may_reset/may_check masks
// (§4.2 "Type-specific derivation ... also requires subset-checking the
// auxiliary privilege").
func DeriveNotif(parent *Capability, dstOwner Owner, privSubset priv.Word, auxSubset NotifAux) (*Capability, capidx.CapabilityIndex, error) {
	if parent.Type != TypeNotification {
		return nil, capidx.Invalid, kerrors.New(kerrors.WrongType, "DeriveNotif on non-Notification capability")
	}
	if parent.Aux == nil {
		return nil, capidx.Invalid, kerrors.New(kerrors.BadArgument, "parent Notification capability missing auxiliary privilege")
	}
	if !auxSubset.MaySet.Subset(parent.Aux.MaySet) ||
		!auxSubset.MayReset.Subset(parent.Aux.MayReset) ||
		!auxSubset.MayCheck.Subset(parent.Aux.MayCheck) {
		return nil, capidx.Invalid, kerrors.New(kerrors.InsufficientPrivilege, "auxiliary privilege widened on derive")
	}

	child, idx, err := Derive(parent, dstOwner, privSubset)
	if err != nil {
		return nil, capidx.Invalid, err
	}
	child.Aux = &auxSubset
	return child, idx, nil
}

// Degrade weakens cap's privilege in place. It never widens: it succeeds
// iff newPriv is derivable from cap's current privilege. Pre-existing
// descendants are left untouched (§4.2, §9 "Degrade-after-derive
// inconsistency" — an acknowledged open design question resolved in
// DESIGN.md by preserving existing descendants).
func Degrade(cap *Capability, newPriv priv.Word) error {
	if !priv.Derivable(cap.Priv, newPriv) {
		return kerrors.New(kerrors.InsufficientPrivilege, "degrade from %v to %v would widen privilege", cap.Priv, newPriv)
	}
	cap.Priv = newPriv
	return nil
}

// Revoke destroys cap together with its entire derivation subtree, via a
// post-order traversal: every descendant is unlinked and destroyed before
// cap itself (§4.2, I-CAP-3).
func Revoke(cap *Capability) error {
	revokeMu.Lock()
	defer revokeMu.Unlock()
	revoke(cap)
	return nil
}

func revoke(cap *Capability) {
	for _, child := range cap.Children() {
		revoke(child)
	}
	destroyOne(cap)
}

func destroyOne(cap *Capability) {
	if cap.Owner != nil {
		space := cap.Owner.CSpaceAt(cap.Index.CSpace)
		if space != nil {
			space.set(cap.Index.CIndex, nil)
		}
		cap.Owner.UntrackCapability(cap)
	}
	if parent := cap.Parent(); parent != nil {
		parent.removeChild(cap)
	}
	if cap.Payload != nil {
		cap.Payload.Release()
	}
	logger.WithField("idx", cap.Index).WithField("type", cap.Type).Debug("capability revoked")
}
