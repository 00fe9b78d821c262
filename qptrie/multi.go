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
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/qpxdb/qptrie/qpchunk"
	"github.com/qpxdb/qptrie/qpkey"
	"github.com/qpxdb/qptrie/qpnode"
	"github.com/qpxdb/qptrie/qpqsbr"
)

// readerView is what gets published atomically at the end of every
// commit: the chunk directory a reader should pin, and the root ref to
// descend from within it. Go's GC keeps this struct (and, transitively,
// the directory and its chunks) alive for as long as anything still
// points to it, which is why this design has no literal counterpart to
// spec.md's chunk-allocated "anchor cell" or the free_twigs call that
// retires the previous one on each commit — atomic.Pointer already
// gives the same acquire/release publication guarantee, and directory
// lifetime is GC-managed rather than refcounted against an anchor cell.
// The directory itself is still refcounted (see qpchunk.Directory), but
// that refcount protects the writer's grow-in-place decision, not the
// struct's reachability.
type readerView struct {
	dir  *qpchunk.Directory[qpnode.Node]
	root qpchunk.Ref
}

// Multi is the concurrent, transactional qp-trie (`qpmulti` in
// spec.md): one writer, serialized by a mutex across an entire
// transaction, and any number of lock-free query readers or pinned
// snapshots running without synchronizing against the writer at all.
type Multi struct {
	mu sync.Mutex

	core *core
	root qpchunk.Ref

	mode        TxMode
	lastMode    TxMode
	rollback    *rollbackState
	rollbackDir *qpchunk.Directory[qpnode.Node]

	leafCount  int64
	compactAll bool

	reader atomic.Pointer[readerView]

	qsbr    qpqsbr.QSBR
	ownQSBR bool

	cfg    qpchunk.Config
	logger *zap.Logger
	name   string
	timers Timers
}

// NewMulti creates an empty concurrent trie (spec.md's `create`). By
// default it owns a qpqsbr.Default reclaimer, stopped by Close; supply
// WithQSBR to have it participate in a host-managed QSBR domain
// instead, in which case Close leaves the supplied QSBR running.
func NewMulti(hooks Hooks, opts ...Option) *Multi {
	o := resolveOptions(opts)
	alloc := qpchunk.NewAllocator[qpnode.Node](o.cfg)
	m := &Multi{
		core:   newCore(alloc, hooks),
		root:   qpchunk.InvalidRef,
		cfg:    o.cfg,
		logger: o.logger,
		name:   trieName(hooks),
		qsbr:   o.qsbr,
	}
	if m.qsbr == nil {
		m.qsbr = qpqsbr.NewDefault()
		m.ownQSBR = true
	}
	return m
}

// Close stops the owned QSBR reclaimer (a no-op if m was built with
// WithQSBR) and syncs the logger.
func (m *Multi) Close() error {
	_ = m.logger.Sync()
	if m.ownQSBR {
		if closer, ok := m.qsbr.(interface{ Close() error }); ok {
			return closer.Close()
		}
	}
	return nil
}

func (m *Multi) logNotice(msg string) {
	m.logger.Info(msg, zap.String("trie", m.name))
}

// publish is commit's steps 4-6 and 8; commit itself runs step 3's
// compaction before calling it and step 7's recycle after (step 2,
// freeing the old reader_ref anchor cell, is folded into the same
// deferral that reclaims chunks — see the readerView doc comment for
// why there is no anchor cell to free in the first place). It
// allocates nothing: the new view simply
// names the allocator's current directory and the freshly committed
// root.
func (m *Multi) publish() {
	view := &readerView{dir: m.core.alloc.Directory(), root: m.root}
	view.dir.Retain()
	old := m.reader.Swap(view)

	phase := m.qsbr.CurrentPhase()
	deferred := m.core.alloc.DeferReclamation(uint64(phase))
	if len(deferred) == 0 && old == nil {
		return
	}
	m.qsbr.AdvancePhase()
	m.qsbr.DeferUntilQuiescent(phase, func() {
		// The callback may run synchronously, inside this commit while
		// m.mu is still held, and must not block; the reclaim takes the
		// lock on its own goroutine, once the commit has released it.
		go func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if len(deferred) > 0 {
				m.core.alloc.ReclaimChunks(deferred)
			}
			if old != nil {
				old.dir.Release()
			}
		}()
	})
}

// Query opens a lock-free reader against the most recently committed
// state (spec.md's `query(multi) -> qpread`). No refcount is taken on
// the directory: a Reader is protected purely by QSBR, which is why it
// must be Closed once the caller is done with it, so the writer can
// eventually learn this reader has quiesced. A Reader obtained before
// the first commit reads an empty trie.
func (m *Multi) Query() *Reader {
	tok := m.qsbr.Enter()
	return &Reader{
		hooks: m.core.hooks,
		qsbr:  m.qsbr,
		tok:   tok,
		view:  m.reader.Load(),
	}
}

// Reader is a lock-free, read-only view pinned to the trie state as of
// whenever Query was called. It must be Closed to let the writer's QSBR
// domain observe that this reader is no longer active.
type Reader struct {
	hooks  Hooks
	qsbr   qpqsbr.QSBR
	tok    qpqsbr.Token
	view   *readerView
	closed bool
}

// Get implements spec.md's `get_by_key(key)` against the reader's
// pinned view.
func (r *Reader) Get(key qpkey.Key) (pval any, ival int32, status Status) {
	if r.view == nil {
		return nil, 0, NOTFOUND
	}
	return lookupIn(r.view.dir, r.view.root, r.hooks, key)
}

// GetName implements spec.md's `get_by_name(name)`.
func (r *Reader) GetName(name string) (pval any, ival int32, status Status) {
	key, _ := qpkey.FromName(name)
	return r.Get(key)
}

// Walk traverses the reader's pinned view in twig order.
func (r *Reader) Walk(visit VisitFunc) {
	if r.view == nil {
		return
	}
	walkIn(r.view.dir, r.view.root, visit)
}

// Close retires the reader's QSBR token (spec.md's `qpread_destroy`).
// Calling it more than once is a no-op.
func (r *Reader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.qsbr.Exit(r.tok)
}

// Memusage implements spec.md's `memusage() -> stats`.
func (m *Multi) Memusage() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newStats(m.core.alloc, m.leafCount, &m.timers)
}
