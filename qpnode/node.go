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

// Package qpnode defines the qp-trie node layout: a tagged union of leaf
// and branch packed into one 64-bit word plus a chunk reference, and the
// popcount-indexed twig-vector helpers a branch uses to address its
// children.
package qpnode

import (
	"math/bits"

	"github.com/qpxdb/qptrie/qpchunk"
	"github.com/qpxdb/qptrie/qpkey"
)

// branchTag marks a Node as a branch rather than a leaf. It occupies the
// word's top bit, well above any bitmap or offset field this alphabet
// will ever need.
const branchTag = uint64(1) << 63

// Node is one trie cell: either a leaf (an opaque payload reachable by
// exactly one key) or a branch (a bitmap of populated shifts at a given
// key offset, plus a reference to its twig vector).
type Node struct {
	word  uint64
	Twigs qpchunk.Ref
	Pval  any
	Ival  int32
}

// IsBranch reports whether n is a branch node.
func (n *Node) IsBranch() bool { return n.word&branchTag != 0 }

// MakeLeaf returns a leaf node holding the caller's opaque pval and its
// companion ival.
func MakeLeaf(pval any, ival int32) Node {
	return Node{Pval: pval, Ival: ival, Twigs: qpchunk.InvalidRef}
}

// Pair returns a leaf's payload and companion integer.
func (n *Node) Pair() (any, int32) { return n.Pval, n.Ival }

// KeyOffset returns the key offset a branch tests; meaningless on a
// leaf.
func (n *Node) KeyOffset() int {
	return int((n.word &^ branchTag) >> qpkey.Offset)
}

// Bitmap returns the branch's twig-presence bitmap: bit i set means
// shift value i has a twig.
func (n *Node) Bitmap() uint64 {
	return (n.word & bitmapMask) >> 0
}

const bitmapMask = (uint64(1)<<qpkey.Offset - 1)

// MakeBranch returns a branch testing keyOffset, with bitmap set and
// twigs referencing its (already allocated and populated) twig vector.
func MakeBranch(keyOffset int, bitmap uint64, twigs qpchunk.Ref) Node {
	return Node{
		word:  branchTag | bitmap | (uint64(keyOffset) << qpkey.Offset),
		Twigs: twigs,
	}
}

// KeyBit returns the shift value of key at n's KeyOffset, via qpkey.Bit.
func KeyBit(n *Node, key qpkey.Key) byte {
	return qpkey.Bit(key, n.KeyOffset())
}

// HasTwig reports whether shift has a twig in n's bitmap.
func (n *Node) HasTwig(shift byte) bool {
	return n.Bitmap()&(uint64(1)<<shift) != 0
}

// TwigPos returns the twig-vector index for shift: the population count
// of every bit below it. Behavior is defined whether or not shift's own
// bit is set — callers insert at the position a new bit would occupy.
func (n *Node) TwigPos(shift byte) int {
	mask := uint64(1)<<shift - 1
	return bits.OnesCount64(n.Bitmap() & mask)
}

// TwigsSize returns the number of twigs n's bitmap addresses.
func (n *Node) TwigsSize() int {
	return bits.OnesCount64(n.Bitmap())
}

// GrowBitmap returns a copy of n with shift's bit set — used when
// inserting a new twig at a previously-absent shift.
func (n *Node) GrowBitmap(shift byte) Node {
	grown := *n
	grown.word |= uint64(1) << shift
	return grown
}

// ShrinkBitmap returns a copy of n with shift's bit cleared — used when
// a twig is deleted and collapses the branch's child set.
func (n *Node) ShrinkBitmap(shift byte) Node {
	shrunk := *n
	shrunk.word &^= uint64(1) << shift
	return shrunk
}

// WithTwigs returns a copy of n addressing a different twig vector
// (after a resize-and-copy allocation).
func (n *Node) WithTwigs(ref qpchunk.Ref) Node {
	updated := *n
	updated.Twigs = ref
	return updated
}
