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

// Package kid formats the kernel's 64-bit identifiers (pid, tid, notif_id)
// as short hex strings for log lines, the same way formatter.ContainerID
// truncates a container ID for display.
package kid

import (
	"fmt"

	"github.com/docker/docker/pkg/stringid"
)

// Short renders id as a hex string zero-padded to 12 digits and passes it
// through stringid's short-form truncation, giving log lines a stable,
// grep-able identifier instead of a raw decimal integer. Truncation keeps
// the leading 12 digits, so ids below 2^48 map to distinct strings.
func Short(id uint64) string {
	full := fmt.Sprintf("%012x", id)
	return stringid.TruncateID(full)
}

// PID formats a process id for logging.
func PID(pid uint64) string { return "p-" + Short(pid) }

// TID formats a thread id for logging.
func TID(tid uint64) string { return "t-" + Short(tid) }

// Notif formats a notification id for logging.
func Notif(id uint64) string { return "n-" + Short(id) }
