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

import "github.com/qpxdb/qptrie/qpkey"

// Hooks is the small vtable a caller supplies so this package never
// needs to know what a leaf's payload actually is: how DNS names are
// represented, how the payload is reference-counted, and how to recover
// a leaf's own key when the descent needs to compare against it.
type Hooks interface {
	// AttachLeaf runs whenever a leaf starts being reachable from a
	// second copy of the trie (insert, or an evacuation that ends up
	// duplicating rather than destroying the old twig vector).
	AttachLeaf(pval any)
	// DetachLeaf runs whenever a leaf stops being reachable from any
	// live copy of the trie.
	DetachLeaf(pval any)
	// QPKey produces the canonical key for an existing leaf, used
	// during descent to compare against the key being searched for.
	QPKey(pval any, ival int32) qpkey.Key
}

// Namer is an optional hook a caller's Hooks may also implement, purely
// for diagnostic log lines.
type Namer interface {
	TrieName() string
}

func trieName(hooks Hooks) string {
	if n, ok := hooks.(Namer); ok {
		return n.TrieName()
	}
	return "qptrie"
}
