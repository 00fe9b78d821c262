// Copyright 2024 the qptrie authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qptrie

import "github.com/pkg/errors"

// Status is the small, closed set of outcomes every public operation
// returns. Anything else is an invariant violation (see InvariantError)
// and panics rather than returning an error value: this is a low-level
// primitive, and recovery from a corrupted trie is ill-defined.
type Status int

const (
	OK Status = iota
	EXISTS
	NOTFOUND
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case EXISTS:
		return "EXISTS"
	case NOTFOUND:
		return "NOTFOUND"
	default:
		return "UNKNOWN"
	}
}

// InvariantError reports a violated internal invariant: allocation
// failure, a corrupted node, a wrong-thread snapshot destruction, a
// nested transaction, or a commit on an unopened transaction. These are
// fatal by design — panic with one rather than return it, so callers
// cannot accidentally treat a broken trie as a recoverable condition.
type InvariantError struct {
	msg string
}

func (e *InvariantError) Error() string { return e.msg }

func invariant(format string, args ...any) error {
	return &InvariantError{msg: errors.Wrap(errors.Errorf(format, args...), "qptrie: invariant violated").Error()}
}

func panicInvariant(format string, args ...any) {
	panic(invariant(format, args...))
}
