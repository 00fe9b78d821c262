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

package qpchunk

import (
	"github.com/pkg/errors"
)

// ErrRefInvalid is the error value for a dereference of InvalidRef. The
// accessors in this package do not check refs and do not return it.
var ErrRefInvalid = errors.New("qpchunk: invalid ref")

// Allocator owns exactly one chunk directory and its parallel Usage
// array, and bump-allocates twig cells into the single "bump chunk" at
// any time. Everything here assumes single-writer access; readers only
// ever go through Directory/Chunk, never through the Allocator itself.
type Allocator[T any] struct {
	dir   *Directory[T]
	usage []Usage

	size         int
	minUsed      int
	maxFree      int
	growthFactor int

	bump   uint32 // chunk currently being bump-allocated into
	fender uint32 // cell offset within bump below which cells predate this transaction

	snapshotHolds uint32 // count of open snapshots currently pinning chunks
	holdCount     uint32 // free count at transaction open, plus cells freed while immutable since (spec invariant 5)
}

// Config bundles the allocator's size knobs (spec.md §9's Open
// Question: chunk size, min-used, max-free, growth factor).
type Config struct {
	ChunkSize    int
	MinUsed      int
	MaxFree      int
	GrowthFactor int
}

// DefaultConfig returns the constants recorded in the design ledger's
// Open Question resolution.
func DefaultConfig() Config {
	const chunkSize = 1 << 12
	return Config{
		ChunkSize:    chunkSize,
		MinUsed:      chunkSize / 4,
		MaxFree:      chunkSize / 2,
		GrowthFactor: 2,
	}
}

// NewAllocator returns an allocator with one fresh, empty bump chunk.
func NewAllocator[T any](cfg Config) *Allocator[T] {
	a := &Allocator[T]{
		dir:          NewDirectory[T](),
		size:         cfg.ChunkSize,
		minUsed:      cfg.MinUsed,
		maxFree:      cfg.MaxFree,
		growthFactor: cfg.GrowthFactor,
	}
	a.newBumpChunk()
	return a
}

func (a *Allocator[T]) newBumpChunk() {
	n := uint32(len(a.usage))
	a.dir = a.dir.EnsureLen(int(n)+1, a.growthFactor)
	a.dir.chunks[n] = newChunk[T](a.size)
	a.usage = append(a.usage, Usage{Exists: true})
	a.bump = n
	a.fender = 0
}

// Bump returns the chunk number currently being bump-allocated into.
func (a *Allocator[T]) Bump() uint32 { return a.bump }

// Fender returns the cell offset, within the bump chunk, below which
// cells were allocated before the transaction now in progress.
func (a *Allocator[T]) Fender() uint32 { return a.fender }

// ChunkCount returns the number of chunk slots the directory has ever
// held (including freed/reclaimed ones still occupying a slot).
func (a *Allocator[T]) ChunkCount() int { return len(a.usage) }

// SnapshotHolds returns the number of open snapshots currently pinning
// chunks against reclamation.
func (a *Allocator[T]) SnapshotHolds() uint32 { return a.snapshotHolds }

// HoldCount returns spec invariant 5's hold_count: the free count as of
// the last transaction open (see ResetHoldCount), plus every cell freed
// since while its chunk was immutable (freeing such a cell cannot zero
// it, since readers may still be walking it, so it is only "held", not
// reclaimed).
func (a *Allocator[T]) HoldCount() uint32 { return a.holdCount }

// ResetHoldCount reinitializes hold_count to the current free_count, as
// transaction_open does: only space freed during the transaction about
// to begin should count toward the auto-GC heuristic.
func (a *Allocator[T]) ResetHoldCount() {
	_, free := a.Totals()
	a.holdCount = free
}

// Directory returns the allocator's chunk directory for readers to pin.
func (a *Allocator[T]) Directory() *Directory[T] { return a.dir }

// Totals sums live used/free cells across every chunk still counted
// toward the writer's bookkeeping (spec.md's "used"/"free" aggregates).
func (a *Allocator[T]) Totals() (used, free uint32) {
	for i := range a.usage {
		u := &a.usage[i]
		if !u.Live() {
			continue
		}
		used += u.Used
		free += u.Free
	}
	return
}

// MarkTransactionStart freezes the fender at the bump chunk's current
// high-water mark: every cell allocated from here on belongs to the
// transaction about to begin, and every cell below the fender is
// carryover from a prior, possibly still-visible, generation.
func (a *Allocator[T]) MarkTransactionStart() {
	a.fender = a.usage[a.bump].Used
}

// TransactionOpen is spec.md's `transaction_open`: freeze the current
// bump chunk's as-yet-unmarked cells and reset hold_count so only space
// freed during the transaction now starting counts toward QP_AUTOGC.
func (a *Allocator[T]) TransactionOpen() {
	a.freezeBump()
	a.ResetHoldCount()
}

// CellsImmutable reports whether the cells at ref must be treated as
// frozen and therefore copied-before-write. A ref into the active bump
// chunk is mutable only past the fender: cells below it predate the
// transaction in progress and are shared with whatever readers are
// still walking the previous generation, no matter what the chunk's own
// Usage.Immutable flag says (that flag only takes effect once a chunk
// has stopped being the bump chunk; see allocator design notes).
func (a *Allocator[T]) CellsImmutable(ref Ref) bool {
	if ref.Chunk() == a.bump {
		return ref.Cell() < a.fender
	}
	return a.usage[ref.Chunk()].Immutable
}

// AllocTwigs bump-allocates n contiguous cells from the active chunk,
// rolling over to a fresh chunk if the current one cannot fit them.
func (a *Allocator[T]) AllocTwigs(n uint32) Ref {
	u := &a.usage[a.bump]
	if u.Used+n > uint32(a.size) {
		a.freezeBump()
		a.newBumpChunk()
		u = &a.usage[a.bump]
	}
	cell := u.Used
	u.Used += n
	return MakeRef(a.bump, cell)
}

func (a *Allocator[T]) freezeBump() {
	a.usage[a.bump].Immutable = true
}

// StartFreshBump freezes the current bump chunk and rolls over to a
// brand new one with fender reset to 0. update() and a write() that
// follows a non-write transaction use this so nothing allocated by the
// prior transaction can be mistaken for mutable carryover.
func (a *Allocator[T]) StartFreshBump() {
	a.freezeBump()
	a.newBumpChunk()
}

// FreeTwigs marks n cells at ref as no longer referenced by the live
// trie. If the cells are immutable, they cannot safely be zeroed — some
// reader may still be walking them — so FreeTwigs only bumps hold_count
// and reports false; the caller (evacuate) must re-attach every leaf in
// its fresh copy, since the old one lives on until SMR reclaims it. If
// the cells are mutable, they are zeroed immediately and FreeTwigs
// reports true.
func (a *Allocator[T]) FreeTwigs(ref Ref, n uint32) bool {
	a.usage[ref.Chunk()].Free += n
	if a.CellsImmutable(ref) {
		a.holdCount += n
		return false
	}
	var zero T
	cells := a.Twigs(ref, n)
	for i := range cells {
		cells[i] = zero
	}
	return true
}

// Twigs returns the live cell slice at ref, length n.
func (a *Allocator[T]) Twigs(ref Ref, n uint32) []T {
	c := a.dir.Chunk(ref.Chunk())
	return c.Slice(ref.Cell(), ref.Cell()+n)
}

// WriteTwigs copies vals into the cells at ref. Callers must already
// know (via CellsImmutable) that this write is safe.
func (a *Allocator[T]) WriteTwigs(ref Ref, vals []T) {
	copy(a.Twigs(ref, uint32(len(vals))), vals)
}

// MinUsed returns the occupancy floor below which a non-bump chunk is
// considered fragmented and a candidate for compaction.
func (a *Allocator[T]) MinUsed() int { return a.minUsed }

// Occupancy returns chunk n's live occupancy (used - free).
func (a *Allocator[T]) Occupancy(n uint32) int64 { return a.usage[n].Occupancy() }

// MaybeRolloverBump starts a fresh bump chunk if the current one has
// accumulated more than maxFree freed cells, per spec.md §4.5's
// compact() preamble.
func (a *Allocator[T]) MaybeRolloverBump(maxFree int) {
	if a.usage[a.bump].Free > uint32(maxFree) {
		a.freezeBump()
		a.newBumpChunk()
	}
}

// MaxFree returns the configured freed-cell threshold used by
// MaybeRolloverBump.
func (a *Allocator[T]) MaxFree() int { return a.maxFree }

// Recycle frees every non-bump, mutable chunk whose live occupancy is
// zero — spec.md §4.5's recycle(). Mutable chunks were never exposed to
// a reader, so they need no SMR grace period.
func (a *Allocator[T]) Recycle() []uint32 {
	var freed []uint32
	for i := range a.usage {
		u := &a.usage[i]
		if uint32(i) == a.bump || !u.Exists || u.Immutable || u.Phase != 0 {
			continue
		}
		if u.Occupancy() == 0 {
			a.dir.chunks[i] = nil
			*u = Usage{}
			freed = append(freed, uint32(i))
		}
	}
	return freed
}

// NeedGC reports whether freed cell slack outside the bump chunk has
// grown past one chunk's worth, the design ledger's resolution of
// spec.md §9's NEEDGC Open Question.
func (a *Allocator[T]) NeedGC() bool {
	var free uint32
	for i := range a.usage {
		u := &a.usage[i]
		if uint32(i) == a.bump || !u.Live() {
			continue
		}
		free += u.Free
	}
	return free > uint32(a.size)
}

// AutoGC reports whether free cells, net of hold_count, have grown
// enough (relative to used, with a chunk-sized floor) to justify an
// automatic compaction pass — spec.md §9's resolution of the AUTOGC
// Open Question.
func (a *Allocator[T]) AutoGC() bool {
	used, free := a.Totals()
	minSlack := uint32(a.size / 16)
	slack := used / 8
	if minSlack > slack {
		slack = minSlack
	}
	hold := a.HoldCount()
	if free < hold {
		return false
	}
	return (free - hold) > slack
}

// SetSnapmark takes out a snapshot's hold on every chunk presently
// live, returning the chunk numbers it marked so the matching
// ReleaseSnapshot call knows exactly which refcounts to drop — this is
// what lets two overlapping snapshots pin independent, correctly
// overlapping sets of chunks instead of sharing a single mark/sweep
// bit that the first Destroy would clear out from under the second.
func (a *Allocator[T]) SetSnapmark() []uint32 {
	var nums []uint32
	for i := range a.usage {
		u := &a.usage[i]
		if u.Live() {
			u.SnapshotRefs++
			nums = append(nums, uint32(i))
		}
	}
	a.snapshotHolds++
	return nums
}

// ReleaseSnapshot releases one snapshot's hold, dropping the refcount
// on exactly the chunks SetSnapmark returned for it. A chunk whose
// refcount reaches zero while flagged Snapfree (by a prior
// ReclaimChunks pass) is freed now that no snapshot protects it.
func (a *Allocator[T]) ReleaseSnapshot(nums []uint32) {
	for _, n := range nums {
		u := &a.usage[n]
		if u.SnapshotRefs > 0 {
			u.SnapshotRefs--
		}
		if u.SnapshotRefs == 0 && u.Snapfree {
			a.dir.chunks[n] = nil
			*u = Usage{}
		}
	}
	if a.snapshotHolds > 0 {
		a.snapshotHolds--
	}
}

// DeferReclamation tags every chunk not referenced by the live trie
// (occupancy zero, not the bump chunk, not held by an open snapshot)
// with phase, the QSBR phase at which it becomes safe to recycle.
func (a *Allocator[T]) DeferReclamation(phase uint64) []uint32 {
	var deferred []uint32
	for i := range a.usage {
		u := &a.usage[i]
		if uint32(i) == a.bump || !u.Exists || u.Phase != 0 {
			continue
		}
		if u.SnapshotRefs > 0 || u.Occupancy() > 0 {
			continue
		}
		u.Phase = phase
		deferred = append(deferred, uint32(i))
	}
	return deferred
}

// ReclaimChunks drops the chunk pointer for every chunk number in nums
// whose phase matches (the caller passes only such numbers). A chunk
// still pinned by an open snapshot is not freed yet — it is flagged
// Snapfree so a later ReleaseSnapshot can free it once its last
// snapshot goes away.
func (a *Allocator[T]) ReclaimChunks(nums []uint32) {
	for _, n := range nums {
		u := &a.usage[n]
		if u.SnapshotRefs > 0 {
			u.Snapfree = true
			continue
		}
		a.dir.chunks[n] = nil
		*u = Usage{}
	}
}

// AllocatorState snapshots enough allocator state to support
// rollback of a heavyweight update transaction (spec.md §4.6).
type AllocatorState struct {
	bump     uint32
	fender   uint32
	used     uint32
	snapshot []Usage
}

// SaveState captures the allocator's current bump/fender position and
// per-chunk Usage, for later Restore.
func (a *Allocator[T]) SaveState() AllocatorState {
	snap := make([]Usage, len(a.usage))
	copy(snap, a.usage)
	return AllocatorState{
		bump:     a.bump,
		fender:   a.fender,
		used:     a.usage[a.bump].Used,
		snapshot: snap,
	}
}

// Restore rewinds the allocator to a previously saved state, discarding
// every allocation made since (an update transaction's rollback path).
// Chunks created after the snapshot was taken are dropped outright.
func (a *Allocator[T]) Restore(s AllocatorState) {
	if len(s.snapshot) < len(a.usage) {
		a.dir = a.dir.EnsureLen(len(s.snapshot), a.growthFactor)
		for i := len(s.snapshot); i < len(a.usage); i++ {
			a.dir.chunks[i] = nil
		}
	}
	a.usage = make([]Usage, len(s.snapshot))
	copy(a.usage, s.snapshot)
	a.bump = s.bump
	a.fender = s.fender
	a.usage[a.bump].Used = s.used
}
