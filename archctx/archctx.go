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

// Package archctx models the architecture contract §6 requires: the trap
// path's saved register context, arch_setup_proc/arch_setup_argument,
// instruction_length, switch_address_space, and the user-pointer-access
// intrinsics. Real trap entry/exit, page-table bit layout, and the rest of
// a concrete RISC-style backend are out of scope (§1); Sim below is the
// in-memory stand-in used by tests and cmd/capkernelsim.
package archctx

import (
	"golang.org/x/sys/unix"

	"github.com/capsule-os/capkernel/kerrors"
)

// NumArgs is the number of syscall argument registers modeled, matching
// arg(ctx, i) / arch_setup_argument(thread, i, v) in §4.8/§6. Argument 0 is
// always a capability index; argument 1 carries fork's secondary return.
const NumArgs = 6

// RegCtx is the saved register context of one thread, exactly as the trap
// path would capture it (§5: "saves the full RegCtx").
type RegCtx struct {
	PC   uint64
	SP   uint64
	Args [NumArgs]uint64
	Ret  uint64
}

// Arg returns the i-th syscall argument word.
func (r *RegCtx) Arg(i int) uint64 {
	if i < 0 || i >= NumArgs {
		return 0
	}
	return r.Args[i]
}

// Arch is the architecture contract. A kernel is parameterized over one
// implementation; production backends add real trap entry/exit and MMU
// control, neither of which this package specifies.
type Arch interface {
	// SetupProc seeds regs for a freshly created process's first thread:
	// program counter at entry, stack pointer at the top of stack.
	SetupProc(regs *RegCtx, entry, stack uint64)
	// SetupArgument places v in argument slot i of regs, used for the
	// primary/secondary syscall return convention (§6).
	SetupArgument(regs *RegCtx, i int, v uint64)
	// InstructionLength returns the size in bytes of one syscall-trapping
	// instruction, used by fork to advance the child's saved PC so both
	// sides return from the syscall (§4.3).
	InstructionLength() uint64
	// SwitchAddressSpace activates the address space rooted at root. A
	// no-op in Sim; a real backend reloads the MMU root register.
	SwitchAddressSpace(root uint64)

	// UABegin/UAEnd bracket a region where uaMemcpy etc. may dereference
	// user pointers (§4.8). Every user byte is bounced through a
	// kernel-allocated buffer before use; Sim's user memory is itself a
	// plain byte slice, so these are bookkeeping markers it can assert on.
	UABegin()
	UAEnd()
	// UAMemcpy copies n bytes from the user-space address uaddr into a
	// freshly allocated kernel buffer.
	UAMemcpy(uaddr uint64, n int) ([]byte, error)
	// UAStrcpy copies a NUL-terminated string from uaddr, up to max bytes.
	UAStrcpy(uaddr uint64, max int) (string, error)
	// UAStrlen returns the length of the NUL-terminated string at uaddr,
	// up to max bytes (a bound is required since user memory is untrusted).
	UAStrlen(uaddr uint64, max int) (int, error)
}

// ErrUserFault is returned when a UA* helper cannot satisfy an access
// against the simulated user address space (out of range or unmapped). Its
// cause is unix.EFAULT, giving the BadArgument kind a concrete
// POSIX-flavored cause the way pathres/idShiftUtils surface raw
// unix.Errno values from host syscalls.
var ErrUserFault = kerrors.Wrap(kerrors.BadArgument, unix.EFAULT, "user memory access fault")
