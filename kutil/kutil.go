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

// Package kutil holds small generic helpers used by the scheduler's ready
// queues: FIFO queue splicing over plain slices.
package kutil

// Remove returns a with the first occurrence of x removed, preserving
// order. It is used to pop a specific thread out of a ready queue (e.g. on
// terminate) without disturbing FIFO order among the rest.
func Remove[T comparable](a []T, x T) []T {
	for i, v := range a {
		if v == x {
			out := make([]T, 0, len(a)-1)
			out = append(out, a[:i]...)
			out = append(out, a[i+1:]...)
			return out
		}
	}
	return a
}

// Contains reports whether x is present in a.
func Contains[T comparable](a []T, x T) bool {
	for _, v := range a {
		if v == x {
			return true
		}
	}
	return false
}

// PopFront removes and returns the first element of a, and the remainder.
// ok is false if a is empty.
func PopFront[T any](a []T) (x T, rest []T, ok bool) {
	if len(a) == 0 {
		var zero T
		return zero, a, false
	}
	return a[0], a[1:], true
}
