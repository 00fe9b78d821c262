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

package qpnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/qpxdb/qptrie/qpchunk"
)

func TestLeafIsNotBranch(t *testing.T) {
	leaf := MakeLeaf("value", 7)
	assert.False(t, leaf.IsBranch())
	pval, ival := leaf.Pair()
	assert.Equal(t, "value", pval)
	assert.Equal(t, int32(7), ival)
}

func TestBranchRoundTripsOffsetAndBitmap(t *testing.T) {
	bitmap := uint64(1)<<5 | uint64(1)<<9 | uint64(1)<<40
	b := MakeBranch(17, bitmap, qpchunk.MakeRef(3, 0))
	assert.True(t, b.IsBranch())
	assert.Equal(t, 17, b.KeyOffset())
	assert.Equal(t, bitmap, b.Bitmap())
	assert.Equal(t, uint32(3), b.Twigs.Chunk())
}

func TestHasTwigAndTwigPos(t *testing.T) {
	bitmap := uint64(1)<<2 | uint64(1)<<5 | uint64(1)<<9
	b := MakeBranch(0, bitmap, qpchunk.InvalidRef)

	assert.True(t, b.HasTwig(2))
	assert.True(t, b.HasTwig(5))
	assert.False(t, b.HasTwig(3))

	assert.Equal(t, 0, b.TwigPos(2), "first populated shift sits at twig index 0")
	assert.Equal(t, 1, b.TwigPos(5))
	assert.Equal(t, 2, b.TwigPos(9))
	assert.Equal(t, 1, b.TwigPos(3), "an absent shift's insertion point counts only lower-shift twigs")
	assert.Equal(t, 3, b.TwigsSize())
}

func TestGrowAndShrinkBitmap(t *testing.T) {
	b := MakeBranch(0, 0, qpchunk.InvalidRef)
	assert.False(t, b.HasTwig(4))

	grown := b.GrowBitmap(4)
	assert.True(t, grown.HasTwig(4))
	assert.Equal(t, 1, grown.TwigsSize())

	shrunk := grown.ShrinkBitmap(4)
	assert.False(t, shrunk.HasTwig(4))
	assert.Equal(t, 0, shrunk.TwigsSize())
}

func pvalOf(n Node) any {
	pval, _ := n.Pair()
	return pval
}

func TestInsertAndDeleteTwig(t *testing.T) {
	twigs := []Node{MakeLeaf("a", 0), MakeLeaf("c", 0)}
	inserted := InsertTwig(twigs, 1, MakeLeaf("b", 0))
	assert.Equal(t, 3, len(inserted))
	assert.Equal(t, "a", pvalOf(inserted[0]))
	assert.Equal(t, "b", pvalOf(inserted[1]))
	assert.Equal(t, "c", pvalOf(inserted[2]))

	deleted := DeleteTwig(inserted, 1)
	assert.Equal(t, 2, len(deleted))
	assert.Equal(t, "a", pvalOf(deleted[0]))
	assert.Equal(t, "c", pvalOf(deleted[1]))

	// The original vector must be untouched by either operation.
	assert.Equal(t, 2, len(twigs))
	assert.Equal(t, "a", pvalOf(twigs[0]))
	assert.Equal(t, "c", pvalOf(twigs[1]))
}

func TestReplaceTwigDoesNotAliasOriginal(t *testing.T) {
	twigs := []Node{MakeLeaf("a", 0), MakeLeaf("b", 0)}
	replaced := ReplaceTwig(twigs, 0, MakeLeaf("z", 0))
	assert.Equal(t, "z", pvalOf(replaced[0]))
	assert.Equal(t, "a", pvalOf(twigs[0]))
}

func TestWithTwigsUpdatesRefOnly(t *testing.T) {
	b := MakeBranch(3, 0b101, qpchunk.MakeRef(1, 0))
	moved := b.WithTwigs(qpchunk.MakeRef(2, 4))
	assert.Equal(t, uint32(2), moved.Twigs.Chunk())
	assert.Equal(t, b.KeyOffset(), moved.KeyOffset())
	assert.Equal(t, b.Bitmap(), moved.Bitmap())
}
