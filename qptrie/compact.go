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
	"github.com/qpxdb/qptrie/qpchunk"
	"github.com/qpxdb/qptrie/qpnode"
)

// CompactMode selects how aggressively Compact evacuates twig vectors.
type CompactMode int

const (
	// CompactMaybe only evacuates twigs that are actually fragmented
	// (live occupancy below the configured minimum).
	CompactMaybe CompactMode = iota
	// CompactAll forces every branch's twigs into the bump chunk.
	CompactAll
)

// compactRecursive is spec §4.5's compact_recursive: a post-order walk
// that evacuates a branch's twigs when they are fragmented (or
// compactAll demands it), and bubbles a rewritten child back into its
// parent's vector only when something below actually changed.
func (c *core) compactRecursive(n qpnode.Node, compactAll bool) (qpnode.Node, bool) {
	if !n.IsBranch() {
		return n, false
	}

	size := uint32(n.TwigsSize())
	twigs := c.alloc.Twigs(n.Twigs, size)

	children := make([]qpnode.Node, size)
	childChanged := false
	for i, t := range twigs {
		nc, changed := c.compactRecursive(t, compactAll)
		children[i] = nc
		childChanged = childChanged || changed
	}

	result := n
	if childChanged {
		mutable, slice := c.ensureTwigsMutable(n, size)
		copy(slice, children)
		result = mutable
	}

	fragmented := compactAll || (c.alloc.Occupancy(result.Twigs.Chunk()) < int64(c.alloc.MinUsed()))
	if fragmented && result.Twigs.Chunk() != c.alloc.Bump() {
		// Every non-bump chunk is immutable by construction, so this
		// always evacuates into the bump chunk.
		evacuated, _ := c.ensureTwigsMutable(result, size)
		if evacuated.Twigs != result.Twigs {
			return evacuated, true
		}
	}
	return result, childChanged
}

// Compact runs a compaction pass over root and returns the (possibly
// unchanged) resulting root.
func (c *core) Compact(root qpchunk.Ref, mode CompactMode, maxFree int) qpchunk.Ref {
	newRoot := root
	if n, ok := c.getRoot(root); ok {
		newNode, changed := c.compactRecursive(n, mode == CompactAll)
		if changed {
			newRoot = c.setRoot(root, newNode)
		}
	}
	c.alloc.MaybeRolloverBump(maxFree)
	return newRoot
}

// Recycle frees every non-bump, mutable, now-empty chunk (spec §4.5's
// recycle()).
func (c *core) Recycle() []uint32 {
	return c.alloc.Recycle()
}

// autoGCConfig bundles the thresholds autoGCCycle needs without forcing
// every caller to reach into the allocator directly.
type autoGCConfig struct {
	maxFree int
}

// autoGCCycle is spec §4.5's auto-GC heuristic, run by the callers after
// every successful delete: if AutoGC's predicate holds, compact and
// recycle; if it still holds afterwards, escalate to a full compaction
// next cycle. It does not look at whether that delete's free_twigs
// calls destroyed their cells or only held them; the predicate alone
// decides.
func autoGCCycle(c *core, root qpchunk.Ref, cfg autoGCConfig, compactAll bool, log func(string)) (qpchunk.Ref, bool) {
	if !c.alloc.AutoGC() {
		return root, compactAll
	}
	mode := CompactMaybe
	if compactAll {
		mode = CompactAll
	}
	root = c.Compact(root, mode, cfg.maxFree)
	c.Recycle()
	if c.alloc.AutoGC() {
		if log != nil {
			log("auto-GC did not clear backlog, escalating to full compaction")
		}
		return root, true
	}
	return root, false
}
