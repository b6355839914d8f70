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

// Package proc implements the PCB and TCB kernel objects: process/thread
// lifecycle, kernel-stack layout, parent/child linkage, and the
// PCB-capability / TCB-capability operation sets (§3, §4.3, §4.4).
package proc

// State is the lifecycle state shared by PCB and TCB (§3).
type State int

const (
	Ready State = iota
	Running
	Blocked
	Yielding
	Zombie
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Yielding:
		return "Yielding"
	case Zombie:
		return "Zombie"
	}
	return "Unknown"
}

// RPLevel is a ready-queue priority class, 0 (highest) through 3 (daemon).
type RPLevel int

const (
	RP0RealTime RPLevel = iota
	RP1Service
	RP2User
	RP3Daemon
)
