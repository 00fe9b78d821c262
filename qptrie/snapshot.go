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
	"github.com/google/uuid"

	"github.com/qpxdb/qptrie/qpkey"
)

// Snapshot is an explicit, pinned read-only view of the trie at the
// moment Snapshot was called (spec.md's `qpsnap`). Unlike a Reader, a
// Snapshot is a strong reference: it survives any number of further
// commits, unaffected by QSBR grace periods, until Destroy releases it.
// This makes it the right tool for a long-lived job like a zone walk,
// where holding up QSBR quiescence for the whole job's duration would
// stall every pending reclamation behind it.
type Snapshot struct {
	// ID distinguishes one long-lived snapshot from another in logs —
	// spec.md never names snapshots, but a zone-walk job holding one
	// for minutes is exactly the kind of thing worth a stable log key.
	ID uuid.UUID

	m     *Multi
	hooks Hooks
	view  readerView
	nums  []uint32

	destroyed bool
}

// Snapshot pins the trie's most recently committed state (spec.md's
// `snapshot(multi) -> qpsnap`): every chunk currently live is marked as
// referenced by this snapshot, so it survives any reclamation pass
// until Destroy runs, however many commits happen in between.
//
// Beyond the chunk-level SnapshotRefs pinning SetSnapmark performs
// (which protects chunk contents from reclamation), the captured
// view's directory is also retained directly: a Reader's equivalent
// hold is released as soon as QSBR reports quiescence, but a Snapshot
// is explicitly not QSBR-bounded, so without its own retain a later
// commit's directory growth could safely assume no one still held this
// view and grow the shared chunk slice in place.
func (m *Multi) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &Snapshot{ID: uuid.New(), m: m, hooks: m.core.hooks, nums: m.core.alloc.SetSnapmark()}
	if v := m.reader.Load(); v != nil {
		s.view = *v
		s.view.dir.Retain()
	}
	m.logNotice("snapshot opened")
	return s
}

// Get implements spec.md's `get_by_key(key)` against the pinned view.
func (s *Snapshot) Get(key qpkey.Key) (pval any, ival int32, status Status) {
	if s.view.dir == nil {
		return nil, 0, NOTFOUND
	}
	return lookupIn(s.view.dir, s.view.root, s.hooks, key)
}

// GetName implements spec.md's `get_by_name(name)`.
func (s *Snapshot) GetName(name string) (pval any, ival int32, status Status) {
	key, _ := qpkey.FromName(name)
	return s.Get(key)
}

// Walk traverses the pinned view in twig order.
func (s *Snapshot) Walk(visit VisitFunc) {
	if s.view.dir == nil {
		return
	}
	walkIn(s.view.dir, s.view.root, visit)
}

// Destroy releases the snapshot's hold (spec.md's `snapshot_destroy`):
// any chunk whose last remaining pin was this snapshot, and that a
// prior reclamation pass already flagged Snapfree while waiting on it,
// is freed now. Calling it more than once is a no-op.
func (s *Snapshot) Destroy() {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.m.core.alloc.ReleaseSnapshot(s.nums)
	if s.view.dir != nil {
		s.view.dir.Release()
	}
}
