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
	"fmt"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	humanize "github.com/dustin/go-humanize"

	"github.com/qpxdb/qptrie/qpchunk"
)

// Stats is spec.md §6's `memusage() -> stats`: every counter the
// invariants in §3 name, plus a couple of diagnostic extras this
// implementation adds (supplemented per SPEC_FULL.md).
type Stats struct {
	LeafCount  int64
	UsedCount  uint32
	FreeCount  uint32
	HoldCount  uint32
	ChunkCount int
	BumpChunk  uint32

	// RecycleTime and RollbackTime are relaxed-atomic nanosecond
	// totals, per the design ledger's Open Question resolution.
	RecycleTime  *atomic.Int64
	RollbackTime *atomic.Int64
	CommitTime   *atomic.Int64
}

// newStats builds a Stats snapshot from an allocator and leaf count.
func newStats[T any](alloc *qpchunk.Allocator[T], leafCount int64, timers *Timers) Stats {
	used, free := alloc.Totals()
	return Stats{
		LeafCount:    leafCount,
		UsedCount:    used,
		FreeCount:    free,
		HoldCount:    alloc.HoldCount(),
		ChunkCount:   alloc.ChunkCount(),
		BumpChunk:    alloc.Bump(),
		RecycleTime:  &timers.RecycleTime,
		RollbackTime: &timers.RollbackTime,
		CommitTime:   &timers.CommitTime,
	}
}

// Timers holds the three relaxed-atomic timing counters spec.md §9
// discusses: recycle_time, rollback_time, commit_time.
type Timers struct {
	RecycleTime  atomic.Int64
	RollbackTime atomic.Int64
	CommitTime   atomic.Int64
}

// String renders a human-readable summary, in the ambient stack's
// go-humanize idiom (byte/count formatting rather than raw integers).
func (s Stats) String() string {
	return fmt.Sprintf(
		"leaves=%s used=%s free=%s hold=%s chunks=%s bump=#%d",
		humanize.Comma(s.LeafCount),
		humanize.Comma(int64(s.UsedCount)),
		humanize.Comma(int64(s.FreeCount)),
		humanize.Comma(int64(s.HoldCount)),
		humanize.Comma(int64(s.ChunkCount)),
		s.BumpChunk,
	)
}

// Fingerprint returns a content hash of the stats snapshot, useful for
// cheaply checking two Memusage() calls agree (e.g. the rollback
// neutrality test, S5) without a field-by-field comparison.
func (s Stats) Fingerprint() uint64 {
	var buf [40]byte
	putUint64(buf[0:8], uint64(s.LeafCount))
	putUint64(buf[8:16], uint64(s.UsedCount))
	putUint64(buf[16:24], uint64(s.FreeCount))
	putUint64(buf[24:32], uint64(s.HoldCount))
	putUint64(buf[32:40], uint64(s.ChunkCount))
	return xxhash.Sum64(buf[:])
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
