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
	"github.com/qpxdb/qptrie/qpkey"
	"github.com/qpxdb/qptrie/qpnode"
)

// lookupIn is spec §4.4's Lookup, expressed against a plain chunk
// directory rather than a live Allocator. This is the read path both
// the writer's own core.Lookup and every lock-free query/snapshot
// reader use: a reader never needs mutation, only the directory it
// captured at acquisition time, so it never touches the Allocator at
// all (and therefore never contends with the writer).
func lookupIn(dir *qpchunk.Directory[qpnode.Node], root qpchunk.Ref, hooks Hooks, key qpkey.Key) (pval any, ival int32, status Status) {
	if !root.Valid() {
		return nil, 0, NOTFOUND
	}
	n := dir.Chunk(root.Chunk()).Slice(root.Cell(), root.Cell()+1)[0]
	for n.IsBranch() {
		shift := qpnode.KeyBit(&n, key)
		if !n.HasTwig(shift) {
			return nil, 0, NOTFOUND
		}
		pos := n.TwigPos(shift)
		size := uint32(n.TwigsSize())
		twigs := dir.Chunk(n.Twigs.Chunk()).Slice(n.Twigs.Cell(), n.Twigs.Cell()+size)
		n = twigs[pos]
	}
	pval, ival = n.Pair()
	if qpkey.Compare(key, hooks.QPKey(pval, ival)) != qpkey.Equal {
		return nil, 0, NOTFOUND
	}
	return pval, ival, OK
}

// walkIn is Walk's read-only counterpart, used by query/snapshot
// readers the same way lookupIn is.
func walkIn(dir *qpchunk.Directory[qpnode.Node], root qpchunk.Ref, visit VisitFunc) {
	if !root.Valid() {
		return
	}
	n := dir.Chunk(root.Chunk()).Slice(root.Cell(), root.Cell()+1)[0]
	walkNodeIn(dir, n, visit)
}

func walkNodeIn(dir *qpchunk.Directory[qpnode.Node], n qpnode.Node, visit VisitFunc) bool {
	if !n.IsBranch() {
		pval, ival := n.Pair()
		return visit(pval, ival)
	}
	size := uint32(n.TwigsSize())
	twigs := dir.Chunk(n.Twigs.Chunk()).Slice(n.Twigs.Cell(), n.Twigs.Cell()+size)
	for _, t := range twigs {
		if !walkNodeIn(dir, t, visit) {
			return false
		}
	}
	return true
}
