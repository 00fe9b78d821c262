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
	"go.uber.org/zap"

	"github.com/qpxdb/qptrie/qpchunk"
	"github.com/qpxdb/qptrie/qpkey"
	"github.com/qpxdb/qptrie/qpnode"
	"github.com/qpxdb/qptrie/qpqsbr"
)

// Trie is the standalone, single-threaded qp-trie (`qp` in spec.md):
// copy-on-write internally (so Compact can evacuate fragmented twigs
// without disturbing a concurrent descent) but with no transaction
// manager or reader isolation of its own — that is Multi's job.
type Trie struct {
	core *core
	root qpchunk.Ref

	leafCount  int64
	compactAll bool

	timers Timers
	cfg    qpchunk.Config
	logger *zap.Logger
	name   string
}

// Option configures a Trie or Multi at construction time.
type Option func(*options)

type options struct {
	cfg    qpchunk.Config
	logger *zap.Logger
	qsbr   qpqsbr.QSBR
}

// WithAllocatorConfig overrides the chunk allocator's size knobs.
func WithAllocatorConfig(cfg qpchunk.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger supplies a zap logger for auto-GC escalation notices and
// similar diagnostics. A nop logger is used if this is never called.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithQSBR supplies a host-managed QSBR domain for a Multi to
// participate in, instead of the package's own qpqsbr.Default. Has no
// effect on a standalone Trie, which never reclaims behind readers'
// backs in the first place. Ignored (a Default is created) if never
// called.
func WithQSBR(q qpqsbr.QSBR) Option {
	return func(o *options) { o.qsbr = q }
}

func resolveOptions(opts []Option) options {
	o := options{cfg: qpchunk.DefaultConfig(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New creates an empty trie (spec.md's `create`).
func New(hooks Hooks, opts ...Option) *Trie {
	o := resolveOptions(opts)
	alloc := qpchunk.NewAllocator[qpnode.Node](o.cfg)
	return &Trie{
		core:   newCore(alloc, hooks),
		root:   qpchunk.InvalidRef,
		cfg:    o.cfg,
		logger: o.logger,
		name:   trieName(hooks),
	}
}

// Destroy releases the trie's logger resources (spec.md's `destroy`;
// Go's GC handles the rest once the last reference to t is dropped).
func (t *Trie) Destroy() {
	_ = t.logger.Sync()
}

// Insert implements spec.md's `insert(pval, ival)`.
func (t *Trie) Insert(pval any, ival int32) Status {
	newRoot, status := t.core.Insert(t.root, pval, ival)
	t.root = newRoot
	if status == OK {
		t.leafCount++
	}
	return status
}

// Delete implements spec.md's `delete_by_key(key)`.
func (t *Trie) Delete(key qpkey.Key) Status {
	newRoot, status := t.core.Delete(t.root, key)
	t.root = newRoot
	if status != OK {
		return status
	}
	t.leafCount--
	t.root, t.compactAll = autoGCCycle(t.core, t.root, autoGCConfig{maxFree: t.cfg.MaxFree}, t.compactAll, t.logNotice)
	return OK
}

// DeleteName implements spec.md's `delete_by_name(name)`.
func (t *Trie) DeleteName(name string) Status {
	key, _ := qpkey.FromName(name)
	return t.Delete(key)
}

// Get implements spec.md's `get_by_key(key)`.
func (t *Trie) Get(key qpkey.Key) (pval any, ival int32, status Status) {
	return t.core.Lookup(t.root, key)
}

// GetName implements spec.md's `get_by_name(name)`.
func (t *Trie) GetName(name string) (pval any, ival int32, status Status) {
	key, _ := qpkey.FromName(name)
	return t.Get(key)
}

// Compact implements spec.md's `compact(mode)`.
func (t *Trie) Compact(mode CompactMode) {
	t.root = t.core.Compact(t.root, mode, t.cfg.MaxFree)
	t.core.Recycle()
}

func (t *Trie) logNotice(msg string) {
	t.logger.Info(msg, zap.String("trie", t.name))
}

// LeafCount returns the number of leaves currently reachable.
func (t *Trie) LeafCount() int64 { return t.leafCount }

// Memusage implements spec.md's `memusage() -> stats`.
func (t *Trie) Memusage() Stats {
	return newStats(t.core.alloc, t.leafCount, &t.timers)
}
