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

import (
	"sync"

	"github.com/qpxdb/qptrie/qpchunk"
	"github.com/qpxdb/qptrie/qpkey"
)

// nameHooks is a Hooks implementation for tests: the payload is just
// the DNS name string, and attach/detach counts are tracked so tests
// can assert a leaf's lifecycle matches what S4/S5-style scenarios
// expect (no double-attach, no use-after-detach).
type nameHooks struct {
	mu      sync.Mutex
	refs    map[string]int
	detached map[string]bool
}

func newNameHooks() *nameHooks {
	return &nameHooks{refs: make(map[string]int), detached: make(map[string]bool)}
}

func (h *nameHooks) AttachLeaf(pval any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := pval.(string)
	h.refs[name]++
	delete(h.detached, name)
}

func (h *nameHooks) DetachLeaf(pval any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := pval.(string)
	h.refs[name]--
	if h.refs[name] <= 0 {
		h.detached[name] = true
	}
}

func (h *nameHooks) QPKey(pval any, ival int32) qpkey.Key {
	key, _ := qpkey.FromName(pval.(string))
	return key
}

func (h *nameHooks) TrieName() string { return "test" }

func testAllocatorConfig() qpchunk.Config {
	return qpchunk.Config{ChunkSize: 8, MinUsed: 2, MaxFree: 4, GrowthFactor: 2}
}

// walkNames collects every leaf payload a Walk-like call visits, in
// the order visited.
func walkNames(walk func(VisitFunc)) []string {
	var names []string
	walk(func(pval any, ival int32) bool {
		names = append(names, pval.(string))
		return true
	})
	return names
}
