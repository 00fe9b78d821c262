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
	"time"

	"github.com/qpxdb/qptrie/qpchunk"
	"github.com/qpxdb/qptrie/qpkey"
)

// TxMode is spec.md §4.6's transaction mode: none open, a light write,
// or a heavy, rollback-capable update.
type TxMode int

const (
	txNone TxMode = iota
	txWrite
	txUpdate
)

func (m TxMode) String() string {
	switch m {
	case txWrite:
		return "WRITE"
	case txUpdate:
		return "UPDATE"
	default:
		return "NONE"
	}
}

// rollbackState is update's owned pre-transaction copy: the allocator
// state to restore plus the root/leafCount it went with. Alongside it,
// Multi.rollbackDir holds a retain on the directory current when the
// transaction opened, so any directory growth mid-transaction copies
// rather than mutates the slice a pending rollback still implicitly
// depends on.
type rollbackState struct {
	alloc     qpchunk.AllocatorState
	root      qpchunk.Ref
	leafCount int64
}

// transactionOpen is common to write and update: freeze the bump
// chunk's remaining mutable cells and reset hold_count, per spec.md's
// `transaction_open`. The mutex is already held by the caller (Write
// or Update), which keeps it locked for the whole transaction — this
// mirrors the source's single mutable `writer` guarded start-to-commit
// by one lock acquisition, not just per call.
func (m *Multi) transactionOpen() {
	m.core.alloc.TransactionOpen()
}

// Write opens a light transaction (spec.md's `write(multi)`): the
// cheapest transaction kind, continuing to bump-allocate into the same
// chunk as the previous write when possible. The returned Txn must be
// finished with Commit or Rollback before any other transaction,
// snapshot, or Memusage call on m may proceed — both of those release
// the lock Write takes here. Query takes no lock and is not held up.
func (m *Multi) Write() *Txn {
	m.mu.Lock()
	if m.mode != txNone {
		m.mu.Unlock()
		panicInvariant("write called with a transaction already open")
	}
	m.transactionOpen()
	if m.lastMode == txWrite {
		m.core.alloc.MarkTransactionStart()
	} else {
		m.core.alloc.StartFreshBump()
	}
	m.mode = txWrite
	return &Txn{m: m}
}

// Update opens a heavy, rollback-capable transaction (spec.md's
// `update(multi)`): it saves enough allocator state to undo every
// allocation this transaction makes, at the cost of always starting a
// fresh bump chunk.
func (m *Multi) Update() *Txn {
	m.mu.Lock()
	if m.mode != txNone {
		m.mu.Unlock()
		panicInvariant("update called with a transaction already open")
	}
	m.transactionOpen()
	m.rollback = &rollbackState{
		alloc:     m.core.alloc.SaveState(),
		root:      m.root,
		leafCount: m.leafCount,
	}
	m.rollbackDir = m.core.alloc.Directory()
	m.rollbackDir.Retain()
	m.core.alloc.StartFreshBump()
	m.mode = txUpdate
	return &Txn{m: m}
}

// commit implements spec.md's `commit(multi)` steps 1 and 3-9 (step 2,
// freeing the previous reader_ref anchor cell, does not apply — see
// multi.go's publish, which folds that release into the same QSBR
// deferral as chunk reclamation).
func (m *Multi) commit() {
	start := nowFunc()
	if m.mode == txUpdate {
		m.rollbackDir.Release()
		m.rollback = nil
		m.rollbackDir = nil
		mode := CompactMaybe
		if m.compactAll {
			mode = CompactAll
		}
		m.root = m.core.Compact(m.root, mode, m.cfg.MaxFree)
	}

	m.publish()

	if m.mode == txUpdate || m.core.alloc.NeedGC() {
		m.core.Recycle()
	}

	m.lastMode = m.mode
	m.mode = txNone
	m.timers.CommitTime.Add(int64(nowFunc().Sub(start)))
}

// rollback implements spec.md's `rollback(multi)`: discard every chunk
// allocated since Update opened and restore the pre-transaction writer
// state exactly.
func (m *Multi) rollbackTxn() {
	if m.mode != txUpdate {
		panicInvariant("rollback called outside an update transaction")
	}
	start := nowFunc()
	m.core.alloc.Restore(m.rollback.alloc)
	m.root = m.rollback.root
	m.leafCount = m.rollback.leafCount
	m.rollbackDir.Release()
	m.rollback = nil
	m.rollbackDir = nil
	m.mode = txNone
	m.timers.RollbackTime.Add(int64(nowFunc().Sub(start)))
}

// nowFunc is indirected so tests can stub it out if needed; production
// always uses the real clock.
var nowFunc = time.Now

// Txn is the writer's handle for the duration of one transaction
// opened by Write or Update. Every method requires the matching Multi's
// mutex still held by this goroutine, which is true from Write/Update
// until Commit or Rollback.
type Txn struct {
	m    *Multi
	done bool
}

func (t *Txn) checkOpen() {
	if t.done {
		panicInvariant("transaction already finished")
	}
}

// Insert implements spec.md's `insert(pval, ival)` against the
// transaction's working root.
func (t *Txn) Insert(pval any, ival int32) Status {
	t.checkOpen()
	newRoot, status := t.m.core.Insert(t.m.root, pval, ival)
	t.m.root = newRoot
	if status == OK {
		t.m.leafCount++
	}
	return status
}

// Delete implements spec.md's `delete_by_key(key)`, including the
// auto-GC escalation cycle, which runs after every successful delete.
func (t *Txn) Delete(key qpkey.Key) Status {
	t.checkOpen()
	newRoot, status := t.m.core.Delete(t.m.root, key)
	t.m.root = newRoot
	if status != OK {
		return status
	}
	t.m.leafCount--
	t.m.root, t.m.compactAll = autoGCCycle(t.m.core, t.m.root, autoGCConfig{maxFree: t.m.cfg.MaxFree}, t.m.compactAll, t.m.logNotice)
	return OK
}

// DeleteName implements spec.md's `delete_by_name(name)`.
func (t *Txn) DeleteName(name string) Status {
	key, _ := qpkey.FromName(name)
	return t.Delete(key)
}

// Get implements spec.md's `get_by_key(key)` against the transaction's
// own, possibly uncommitted, working root — a writer always sees its
// own writes.
func (t *Txn) Get(key qpkey.Key) (pval any, ival int32, status Status) {
	t.checkOpen()
	return t.m.core.Lookup(t.m.root, key)
}

// GetName implements spec.md's `get_by_name(name)`.
func (t *Txn) GetName(name string) (pval any, ival int32, status Status) {
	key, _ := qpkey.FromName(name)
	return t.Get(key)
}

// Mode reports whether this transaction is the light Write kind or the
// rollback-capable Update kind.
func (t *Txn) Mode() TxMode { return t.m.mode }

// Commit implements spec.md's `commit(multi)`, then releases the
// mutex Write/Update acquired.
func (t *Txn) Commit() {
	t.checkOpen()
	t.done = true
	defer t.m.mu.Unlock()
	t.m.commit()
}

// Rollback implements spec.md's `rollback(multi)`. Only valid for an
// Update transaction — a Write transaction never saved the state to
// roll back to, so calling this after Write is an invariant violation,
// not a no-op.
func (t *Txn) Rollback() {
	t.checkOpen()
	t.done = true
	defer t.m.mu.Unlock()
	t.m.rollbackTxn()
}
