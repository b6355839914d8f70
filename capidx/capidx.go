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

// Package capidx defines CapabilityIndex, the (cspace, cindex) pair used to
// name a slot in a process's capability table.
package capidx

import "fmt"

// Default table geometry, per §3. Overridable at boot via config.
const (
	DefaultCSpaces     = 4
	DefaultCSpaceItems = 1024
)

// CapabilityIndex names one slot: CSpace in [0, PROC_CSPACES), CIndex in
// [0, CSPACE_ITEMS). The zero value, (0,0), is the universal invalid index.
type CapabilityIndex struct {
	CSpace int
	CIndex int
}

// Invalid is the reserved (0,0) sentinel.
var Invalid = CapabilityIndex{}

// IsInvalid reports whether idx is the reserved (0,0) sentinel.
func (idx CapabilityIndex) IsInvalid() bool {
	return idx == Invalid
}

// InRange reports whether idx's components fall within the given table
// geometry. It does not check whether the slot is populated.
func (idx CapabilityIndex) InRange(cspaces, items int) bool {
	return idx.CSpace >= 0 && idx.CSpace < cspaces &&
		idx.CIndex >= 0 && idx.CIndex < items
}

func (idx CapabilityIndex) String() string {
	return fmt.Sprintf("(%d,%d)", idx.CSpace, idx.CIndex)
}

// Word packs idx into the 64-bit argument-0 word the dispatcher reads off
// the trap frame: (cspace << 32) | cindex, per §6.
func (idx CapabilityIndex) Word() uint64 {
	return uint64(uint32(idx.CSpace))<<32 | uint64(uint32(idx.CIndex))
}

// FromWord unpacks a raw argument-0 word into a CapabilityIndex.
func FromWord(w uint64) CapabilityIndex {
	return CapabilityIndex{
		CSpace: int(int32(w >> 32)),
		CIndex: int(int32(w & 0xFFFFFFFF)),
	}
}
