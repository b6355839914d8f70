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

import "sync/atomic"

// PIDAllocator hands out monotonically increasing process ids. Per §12.3,
// ids are never recycled: reap frees a PCB's resources but never its id, so
// a stale capability index computed against a reused pid can never silently
// refer to a different process.
type PIDAllocator struct {
	next uint64
}

// NewPIDAllocator returns an allocator whose first id is 1 (0 is reserved
// to mean "no process" in diagnostics).
func NewPIDAllocator() *PIDAllocator {
	return &PIDAllocator{next: 0}
}

// Next returns the next unused pid.
func (a *PIDAllocator) Next() uint64 {
	return atomic.AddUint64(&a.next, 1)
}

// TIDAllocator is PIDAllocator's counterpart for thread ids.
type TIDAllocator struct {
	next uint64
}

func NewTIDAllocator() *TIDAllocator {
	return &TIDAllocator{next: 0}
}

func (a *TIDAllocator) Next() uint64 {
	return atomic.AddUint64(&a.next, 1)
}
