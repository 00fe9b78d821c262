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

import "golang.org/x/exp/slices"

// InsertTwig returns a copy of twigs with val inserted at pos. The
// caller (the allocator) is responsible for writing the result into a
// freshly sized cell range; this is a pure vector operation.
func InsertTwig(twigs []Node, pos int, val Node) []Node {
	grown := make([]Node, len(twigs)+1)
	copy(grown, twigs[:pos])
	grown[pos] = val
	copy(grown[pos+1:], twigs[pos:])
	return grown
}

// DeleteTwig returns a copy of twigs with the entry at pos removed.
func DeleteTwig(twigs []Node, pos int) []Node {
	shrunk := make([]Node, len(twigs)-1)
	copy(shrunk, twigs[:pos])
	copy(shrunk[pos:], twigs[pos+1:])
	return shrunk
}

// ReplaceTwig returns a copy of twigs with the entry at pos swapped for
// val, used when an in-place branch update must still preserve an
// older, possibly-shared vector.
func ReplaceTwig(twigs []Node, pos int, val Node) []Node {
	replaced := slices.Clone(twigs)
	replaced[pos] = val
	return replaced
}
