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

// Package qptrie implements the qp-trie: DNS-name keyed, copy-on-write,
// chunk-allocated, with both a standalone (Trie) and a concurrent,
// transactional (Multi) form built on the same descent/allocation core.
package qptrie

import (
	"github.com/qpxdb/qptrie/qpchunk"
	"github.com/qpxdb/qptrie/qpkey"
	"github.com/qpxdb/qptrie/qpnode"
)

// core is the shared engine behind both Trie and Multi's writer: every
// trie operation in spec §4.4 plus the evacuation primitive from §4.3.
// It holds no root itself — root is a qpchunk.Ref owned by the caller,
// passed in and returned anew on every mutation, so both the standalone
// and transactional tries can reuse identical descent logic.
type core struct {
	alloc *qpchunk.Allocator[qpnode.Node]
	hooks Hooks
}

func newCore(alloc *qpchunk.Allocator[qpnode.Node], hooks Hooks) *core {
	return &core{alloc: alloc, hooks: hooks}
}

// getRoot dereferences root's single-cell anchor. The second return is
// false for an empty trie (root == InvalidRef).
func (c *core) getRoot(root qpchunk.Ref) (qpnode.Node, bool) {
	if !root.Valid() {
		return qpnode.Node{}, false
	}
	return c.alloc.Twigs(root, 1)[0], true
}

// setRoot writes n as the trie's root, copy-on-write: a fresh anchor
// cell is allocated only if the current one is frozen.
func (c *core) setRoot(root qpchunk.Ref, n qpnode.Node) qpchunk.Ref {
	if !root.Valid() {
		ref := c.alloc.AllocTwigs(1)
		c.alloc.WriteTwigs(ref, []qpnode.Node{n})
		return ref
	}
	if c.alloc.CellsImmutable(root) {
		newRef := c.alloc.AllocTwigs(1)
		c.alloc.WriteTwigs(newRef, []qpnode.Node{n})
		c.alloc.FreeTwigs(root, 1)
		return newRef
	}
	c.alloc.WriteTwigs(root, []qpnode.Node{n})
	return root
}

func (c *core) freeRoot(root qpchunk.Ref) {
	if root.Valid() {
		c.alloc.FreeTwigs(root, 1)
	}
}

// ensureTwigsMutable is `make_twigs_mutable`/`evacuate` (spec §4.3): if
// n's twig vector lives in a frozen chunk, it is copied into a fresh
// one, the old one is freed, and any leaf in the new copy is
// re-attached if the old vector survives (still referenced by a reader)
// rather than being destroyed outright. Returns n updated to point at
// the (possibly new) vector, plus that vector as a live, writable slice.
func (c *core) ensureTwigsMutable(n qpnode.Node, size uint32) (qpnode.Node, []qpnode.Node) {
	if !c.alloc.CellsImmutable(n.Twigs) {
		return n, c.alloc.Twigs(n.Twigs, size)
	}
	old := c.alloc.Twigs(n.Twigs, size)
	copied := make([]qpnode.Node, size)
	copy(copied, old)

	newRef := c.alloc.AllocTwigs(size)
	c.alloc.WriteTwigs(newRef, copied)
	if destroyed := c.alloc.FreeTwigs(n.Twigs, size); !destroyed {
		c.reattachLeaves(copied)
	}
	return n.WithTwigs(newRef), c.alloc.Twigs(newRef, size)
}

func (c *core) reattachLeaves(twigs []qpnode.Node) {
	for _, t := range twigs {
		if !t.IsBranch() {
			pval, _ := t.Pair()
			c.hooks.AttachLeaf(pval)
		}
	}
}

// Insert implements spec §4.4's Insert. It returns the new root and
// EXISTS if key already names a leaf, OK otherwise.
func (c *core) Insert(root qpchunk.Ref, pval any, ival int32) (qpchunk.Ref, Status) {
	newKey := c.hooks.QPKey(pval, ival)

	rootNode, ok := c.getRoot(root)
	if !ok {
		leaf := qpnode.MakeLeaf(pval, ival)
		c.hooks.AttachLeaf(pval)
		return c.setRoot(root, leaf), OK
	}

	// Descend without mutating: any leaf under the common prefix will
	// do, since every leaf below a branch agrees up to that branch's
	// own key offset.
	cur := rootNode
	for cur.IsBranch() {
		shift := qpnode.KeyBit(&cur, newKey)
		pos := 0
		if cur.HasTwig(shift) {
			pos = cur.TwigPos(shift)
		}
		twigs := c.alloc.Twigs(cur.Twigs, uint32(cur.TwigsSize()))
		cur = twigs[pos]
	}
	oldPval, oldIval := cur.Pair()
	oldKey := c.hooks.QPKey(oldPval, oldIval)

	offset := qpkey.Compare(newKey, oldKey)
	if offset == qpkey.Equal {
		return root, EXISTS
	}
	newBit := qpkey.Bit(newKey, offset)
	oldBit := qpkey.Bit(oldKey, offset)

	leaf := qpnode.MakeLeaf(pval, ival)
	c.hooks.AttachLeaf(pval)

	newRootNode := c.insertDescend(rootNode, newKey, offset, newBit, oldBit, leaf)
	return c.setRoot(root, newRootNode), OK
}

// insertDescend redescends from n via copy-on-write, splicing leaf in
// at the point determined by offset/newBit/oldBit (computed once, up
// front, by the non-mutating probe in Insert).
func (c *core) insertDescend(n qpnode.Node, newKey qpkey.Key, offset int, newBit, oldBit byte, leaf qpnode.Node) qpnode.Node {
	if !n.IsBranch() || offset < n.KeyOffset() {
		// newbranch: n and leaf become siblings under a fresh branch
		// at offset, ordered by shift.
		first, second := leaf, n
		if oldBit < newBit {
			first, second = n, leaf
		}
		ref := c.alloc.AllocTwigs(2)
		c.alloc.WriteTwigs(ref, []qpnode.Node{first, second})
		bitmap := uint64(1)<<newBit | uint64(1)<<oldBit
		return qpnode.MakeBranch(offset, bitmap, ref)
	}

	if offset == n.KeyOffset() {
		// growbranch: widen this branch's twig vector by one.
		size := uint32(n.TwigsSize())
		twigs := c.alloc.Twigs(n.Twigs, size)
		pos := n.TwigPos(newBit)
		widened := qpnode.InsertTwig(twigs, pos, leaf)

		newRef := c.alloc.AllocTwigs(size + 1)
		c.alloc.WriteTwigs(newRef, widened)
		if destroyed := c.alloc.FreeTwigs(n.Twigs, size); !destroyed {
			c.reattachLeaves(widened[:pos])
			c.reattachLeaves(widened[pos+1:])
		}
		return n.GrowBitmap(newBit).WithTwigs(newRef)
	}

	// Continue through the existing child, copy-on-write.
	shift := qpnode.KeyBit(&n, newKey)
	size := uint32(n.TwigsSize())
	pos := n.TwigPos(shift)

	mutableN, twigs := c.ensureTwigsMutable(n, size)
	twigs[pos] = c.insertDescend(twigs[pos], newKey, offset, newBit, oldBit, leaf)
	return mutableN
}

// Delete implements spec §4.4's Delete.
func (c *core) Delete(root qpchunk.Ref, key qpkey.Key) (qpchunk.Ref, Status) {
	rootNode, ok := c.getRoot(root)
	if !ok {
		return root, NOTFOUND
	}

	if !rootNode.IsBranch() {
		pval, ival := rootNode.Pair()
		if qpkey.Compare(key, c.hooks.QPKey(pval, ival)) != qpkey.Equal {
			return root, NOTFOUND
		}
		c.hooks.DetachLeaf(pval)
		c.freeRoot(root)
		return qpchunk.InvalidRef, OK
	}

	newRootNode, status := c.deleteDescend(rootNode, key)
	if status != OK {
		return root, NOTFOUND
	}
	return c.setRoot(root, newRootNode), OK
}

func (c *core) deleteDescend(n qpnode.Node, key qpkey.Key) (qpnode.Node, Status) {
	shift := qpnode.KeyBit(&n, key)
	if !n.HasTwig(shift) {
		return n, NOTFOUND
	}
	size := uint32(n.TwigsSize())
	pos := n.TwigPos(shift)
	twigs := c.alloc.Twigs(n.Twigs, size)
	child := twigs[pos]

	if child.IsBranch() {
		newChild, status := c.deleteDescend(child, key)
		if status != OK {
			return n, NOTFOUND
		}
		mutableN, slice := c.ensureTwigsMutable(n, size)
		slice[c.reposition(mutableN, shift)] = newChild
		return mutableN, OK
	}

	pval, ival := child.Pair()
	if qpkey.Compare(key, c.hooks.QPKey(pval, ival)) != qpkey.Equal {
		return n, NOTFOUND
	}
	c.hooks.DetachLeaf(pval)

	if size == 2 {
		survivor := twigs[1-pos]
		if destroyed := c.alloc.FreeTwigs(n.Twigs, size); !destroyed && !survivor.IsBranch() {
			sp, _ := survivor.Pair()
			c.hooks.AttachLeaf(sp)
		}
		return survivor, OK
	}

	if !c.alloc.CellsImmutable(n.Twigs) {
		// In-place shrink: slide the suffix down by one and free the
		// now-unused trailing cell, leaving the vector's base ref
		// unchanged.
		copy(twigs[pos:], twigs[pos+1:])
		c.alloc.WriteTwigs(n.Twigs, twigs[:size-1])
		trailing := qpchunk.MakeRef(n.Twigs.Chunk(), n.Twigs.Cell()+size-1)
		c.alloc.FreeTwigs(trailing, 1)
		return n.ShrinkBitmap(shift), OK
	}

	shrunk := qpnode.DeleteTwig(twigs, pos)
	newRef := c.alloc.AllocTwigs(size - 1)
	c.alloc.WriteTwigs(newRef, shrunk)
	if destroyed := c.alloc.FreeTwigs(n.Twigs, size); !destroyed {
		c.reattachLeaves(shrunk)
	}
	return n.ShrinkBitmap(shift).WithTwigs(newRef), OK
}

// reposition re-derives a twig's position after ensureTwigsMutable may
// have moved the vector: the bitmap (and thus the popcount-derived
// position) is unaffected by the move, so this is just TwigPos again,
// kept as a named step for readability at the call site.
func (c *core) reposition(n qpnode.Node, shift byte) int {
	return n.TwigPos(shift)
}

// Lookup implements spec §4.4's Lookup, via the same read-only path a
// concurrent reader uses against its own captured directory.
func (c *core) Lookup(root qpchunk.Ref, key qpkey.Key) (pval any, ival int32, status Status) {
	return lookupIn(c.alloc.Directory(), root, c.hooks, key)
}
