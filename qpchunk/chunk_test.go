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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{ChunkSize: 8, MinUsed: 2, MaxFree: 4, GrowthFactor: 2}
}

func TestAllocTwigsWithinChunk(t *testing.T) {
	a := NewAllocator[int](testConfig())
	r1 := a.AllocTwigs(3)
	r2 := a.AllocTwigs(2)
	assert.Equal(t, a.Bump(), r1.Chunk())
	assert.Equal(t, a.Bump(), r2.Chunk())
	assert.Equal(t, uint32(0), r1.Cell())
	assert.Equal(t, uint32(3), r2.Cell())
}

func TestAllocTwigsRollsOverChunk(t *testing.T) {
	a := NewAllocator[int](testConfig())
	first := a.Bump()
	a.AllocTwigs(6)
	r := a.AllocTwigs(4) // does not fit in remaining 2 cells of an 8-cell chunk
	assert.NotEqual(t, first, r.Chunk())
	assert.Equal(t, uint32(0), r.Cell())
	assert.True(t, a.ChunkCount() >= 2)
}

func TestWriteAndReadTwigs(t *testing.T) {
	a := NewAllocator[string](testConfig())
	r := a.AllocTwigs(3)
	a.WriteTwigs(r, []string{"x", "y", "z"})
	got := a.Twigs(r, 3)
	require.Equal(t, []string{"x", "y", "z"}, got)
}

func TestCellsImmutableRespectsFender(t *testing.T) {
	a := NewAllocator[int](testConfig())
	r1 := a.AllocTwigs(2)
	assert.False(t, a.CellsImmutable(r1), "cells allocated before any transaction boundary are mutable until one is marked")

	a.MarkTransactionStart()
	assert.True(t, a.CellsImmutable(r1), "cells below the fender are frozen carryover once a transaction starts")

	r2 := a.AllocTwigs(2)
	assert.False(t, a.CellsImmutable(r2), "cells allocated past the fender, in the current transaction, stay mutable")
}

func TestCellsImmutableAfterBumpRollover(t *testing.T) {
	a := NewAllocator[int](testConfig())
	old := a.Bump()
	a.AllocTwigs(6)
	a.MarkTransactionStart()
	spill := a.AllocTwigs(4) // rolls to a new bump chunk
	assert.NotEqual(t, old, spill.Chunk())
	assert.False(t, a.CellsImmutable(spill), "fresh cells in the new bump chunk are mutable")

	oldRef := MakeRef(old, 0)
	assert.True(t, a.CellsImmutable(oldRef), "the retired chunk is immutable by its Usage flag, not the fender")
}

func TestFreeTwigsReducesOccupancy(t *testing.T) {
	a := NewAllocator[int](testConfig())
	r := a.AllocTwigs(4)
	usedBefore, freeBefore := a.Totals()
	a.FreeTwigs(r, 4)
	usedAfter, freeAfter := a.Totals()
	assert.Equal(t, usedBefore, usedAfter)
	assert.Equal(t, freeBefore+4, freeAfter)
}

func TestSnapmarkHoldsChunksFromReclamation(t *testing.T) {
	a := NewAllocator[int](testConfig())
	r := a.AllocTwigs(6)
	a.AllocTwigs(3) // does not fit in the remaining 2 cells: forces rollover, retiring the chunk holding r
	a.FreeTwigs(r, 6)

	nums := a.SetSnapmark()
	require.Equal(t, uint32(1), a.SnapshotHolds())

	deferred := a.DeferReclamation(1)
	for _, n := range deferred {
		assert.NotEqual(t, r.Chunk(), n, "a chunk held by an open snapshot must not be deferred for reclamation")
	}

	a.ReleaseSnapshot(nums)
	assert.Equal(t, uint32(0), a.SnapshotHolds())
}

func TestSaveRestoreRollsBackAllocations(t *testing.T) {
	a := NewAllocator[int](testConfig())
	a.AllocTwigs(2)
	state := a.SaveState()

	a.AllocTwigs(7) // does not fit in the remaining 6 cells: spills into a new chunk
	require.True(t, a.ChunkCount() >= 2)

	a.Restore(state)
	assert.Equal(t, 1, a.ChunkCount())
	usedAfter, _ := a.Totals()
	assert.Equal(t, uint32(2), usedAfter)
}

func TestAutoGCThreshold(t *testing.T) {
	a := NewAllocator[int](testConfig())
	assert.False(t, a.AutoGC(), "a freshly created allocator has nothing to collect")

	r := a.AllocTwigs(8)
	a.FreeTwigs(r, 8)
	assert.True(t, a.AutoGC(), "freeing an entire chunk's worth of cells should cross the slack threshold")
}

func TestRefPacking(t *testing.T) {
	r := MakeRef(7, 42)
	assert.Equal(t, uint32(7), r.Chunk())
	assert.Equal(t, uint32(42), r.Cell())
	assert.True(t, r.Valid())
	assert.False(t, InvalidRef.Valid())
}

func TestDirectoryEnsureLenCOWUnderSharedRefcount(t *testing.T) {
	d := NewDirectory[int]()
	d = d.EnsureLen(2, 2)
	d.Retain() // simulate a reader capturing the directory
	grown := d.EnsureLen(5, 2)
	assert.NotSame(t, d, grown, "a directory with readers attached must copy-on-write, not mutate in place")
}
