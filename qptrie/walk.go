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

import "github.com/qpxdb/qptrie/qpchunk"

// VisitFunc is called once per leaf during a Walk, in twig order (which
// is DNS canonical name order — testable property 3). Returning false
// stops the walk early.
type VisitFunc func(pval any, ival int32) bool

// Walk performs a depth-first, twig-order traversal over root: the
// supplemented iteration API for zone-walk-style long-lived
// traversals, grounded in the forward-walk shape of a skip-list
// iterator.
func (c *core) Walk(root qpchunk.Ref, visit VisitFunc) {
	walkIn(c.alloc.Directory(), root, visit)
}

// Walk is the Trie-level entry point into the core traversal.
func (t *Trie) Walk(visit VisitFunc) {
	t.core.Walk(t.root, visit)
}
