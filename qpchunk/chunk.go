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

// Package qpchunk implements the bump-allocated, chunk-indexed cell
// storage shared by a trie's writer and its readers: a generic, fixed
// capacity Chunk of cells, a refcounted Directory of chunk pointers that
// readers pin at acquisition time, and the Allocator that bump-allocates,
// frees, and ultimately recycles chunks (evacuation of twig vectors is
// done by the trie on top of it).
//
// The teacher's own NBS package (go/store/nbs) plays the same role for
// on-disk tables: a bump-filled "mem table" gets sealed immutable, older
// tables get conjoined or dropped once nothing references them anymore.
// This package keeps that lifecycle but drops everything tied to
// persistence — there is no file, no manifest, only chunks of cells.
package qpchunk

import "sync/atomic"

// Ref addresses a cell: a chunk number and a cell index within it. It
// replaces the C original's 32-bit packed ref word; Go has room to spare,
// so the two halves are full uint32s instead of a hand-tuned bitfield.
type Ref uint64

// InvalidRef denotes "no twig vector" (an empty trie's root, for one).
const InvalidRef Ref = ^Ref(0)

// MakeRef packs a chunk number and a cell index into a Ref.
func MakeRef(chunkNum, cell uint32) Ref {
	return Ref(chunkNum)<<32 | Ref(cell)
}

// Chunk returns the chunk number this ref addresses.
func (r Ref) Chunk() uint32 { return uint32(r >> 32) }

// Cell returns the cell index within Chunk().
func (r Ref) Cell() uint32 { return uint32(r) }

// Valid reports whether r addresses a real cell.
func (r Ref) Valid() bool { return r != InvalidRef }

// Usage is a chunk's metadata, held in a parallel array rather than
// embedded in the chunk itself (spec §3): existence, mutability, the
// bump high-water mark, how much of that is now free, the SMR phase it
// was queued for reclamation in, and snapshot pinning bookkeeping.
//
// SnapshotRefs counts distinct live snapshots pinning this chunk
// (rather than spec.md's single snapmark/snapshot booleans): snapshots
// can overlap in which chunks they reference, and a refcount is the
// straightforward way to keep one snapshot's destruction from
// unprotecting a chunk another, still-live snapshot also needs.
type Usage struct {
	Exists       bool
	Immutable    bool
	Used         uint32
	Free         uint32
	Phase        uint64
	SnapshotRefs uint32
	Snapfree     bool
}

// Live reports whether a chunk counts toward the writer's used/free
// totals: allocated, and not yet handed off to SMR.
func (u *Usage) Live() bool { return u.Exists && u.Phase == 0 }

// Occupancy is the chunk's live cell count: allocated minus freed.
func (u *Usage) Occupancy() int64 { return int64(u.Used) - int64(u.Free) }

// Chunk is one fixed-capacity array of cells.
type Chunk[T any] struct {
	cells []T
}

func newChunk[T any](size int) *Chunk[T] {
	return &Chunk[T]{cells: make([]T, size)}
}

// Slice returns the live view of cells [lo, hi) within the chunk. The
// returned slice aliases chunk storage; callers must not retain it past
// the next mutation of this chunk.
func (c *Chunk[T]) Slice(lo, hi uint32) []T { return c.cells[lo:hi] }

// Directory is the refcounted array of chunk pointers shared between the
// writer and whichever readers captured it at commit time (spec §3,
// "Chunk directory (base)"). It is mutated in place only while the
// writer is certain no reader holds a reference to it.
type Directory[T any] struct {
	refs   int32
	chunks []*Chunk[T]
}

// NewDirectory returns an empty directory with one reference (the
// writer's own).
func NewDirectory[T any]() *Directory[T] {
	return &Directory[T]{refs: 1}
}

// Retain increments the directory's refcount. The trie calls this when
// it publishes a directory to query readers, when a snapshot captures
// one, and while an update holds one for a possible rollback; a query
// reader itself takes no retain.
func (d *Directory[T]) Retain() { atomic.AddInt32(&d.refs, 1) }

// Release decrements the directory's refcount.
func (d *Directory[T]) Release() { atomic.AddInt32(&d.refs, -1) }

// RefCount returns the directory's current refcount.
func (d *Directory[T]) RefCount() int32 { return atomic.LoadInt32(&d.refs) }

// Len returns the number of chunk slots the directory has room for.
func (d *Directory[T]) Len() int { return len(d.chunks) }

// Chunk returns the chunk at slot i, or nil if that slot is unoccupied.
func (d *Directory[T]) Chunk(i uint32) *Chunk[T] { return d.chunks[i] }

// EnsureLen returns a directory with at least n slots: the same
// instance, grown in place, if the writer is its only referent;
// otherwise a fresh copy, so any reader that captured the old directory
// keeps seeing exactly the chunk set it acquired.
func (d *Directory[T]) EnsureLen(n, growthFactor int) *Directory[T] {
	if n <= len(d.chunks) {
		return d
	}
	if d.RefCount() <= 1 {
		d.chunks = growSlice(d.chunks, n, growthFactor)
		return d
	}
	nd := &Directory[T]{refs: 1, chunks: make([]*Chunk[T], n)}
	copy(nd.chunks, d.chunks)
	return nd
}

func growSlice[T any](s []*Chunk[T], n, growthFactor int) []*Chunk[T] {
	if n > cap(s) {
		newCap := cap(s)*growthFactor + 1
		if newCap < n {
			newCap = n
		}
		grown := make([]*Chunk[T], len(s), newCap)
		copy(grown, s)
		s = grown
	}
	return s[:n]
}
