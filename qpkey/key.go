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

package qpkey

import "strings"

// Key is a trie key: a sequence of shift values, already trimmed to its
// logical length (the trailing end-of-key NoByte marker is not stored;
// Bit synthesizes it for any offset at or past the end).
type Key []byte

// Equal is the sentinel Compare returns when two keys agree everywhere
// they are defined. It is never a valid offset, since offsets are >= 0.
const Equal = -1

// Bit returns the shift at offset, or NoByte if offset falls at or past
// the end of key. This sentinel padding lets two keys of different
// length compare correctly: a key that has ended looks, from here on,
// exactly like a key still emitting label-separators.
func Bit(key Key, offset int) byte {
	if offset < 0 || offset >= len(key) {
		return NoByte
	}
	return key[offset]
}

// Compare returns the first offset at which a and b disagree, or Equal if
// they agree at every offset either one defines.
func Compare(a, b Key) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if ai, bi := Bit(a, i), Bit(b, i); ai != bi {
			return i
		}
	}
	return Equal
}

// FromName converts a DNS name into its trie key plus the key's logical
// length (FromName(name) and (Key, len(Key)) always agree; len is kept as
// a separate return so callers can mirror the C original's two-value
// signature without a second len() call).
//
// A name ending in "." is absolute and carries an implicit empty root
// label. That root label is emitted first, ahead of every other label, so
// the resulting key begins with NoByte and shares no prefix at offset 0
// with any relative name — an absolute and a relative spelling of "the
// same" labels can never collide. The labels actually written in the name
// are then emitted in the order they appear (most-specific label first),
// each followed by its own NoByte terminator; this is the order in which
// BIND9's wire-format name object holds them once the implicit root is
// factored out, and it is what makes a label boundary compare as "less
// than" any literal byte within a label: the separator (NoByte == 1) is
// numerically below every common-byte or escape shift (>= Bitmap == 2).
func FromName(name string) (Key, int) {
	var buf []byte
	if strings.HasSuffix(name, ".") {
		buf = append(buf, NoByte)
		name = name[:len(name)-1]
	}
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			for i := 0; i < len(label); i++ {
				pair := shiftsFor(label[i])
				buf = append(buf, pair[0])
				if isEscaped(pair) {
					buf = append(buf, pair[1])
				}
			}
			buf = append(buf, NoByte)
		}
	}
	buf = append(buf, NoByte)
	return Key(buf[:len(buf)-1]), len(buf) - 1
}
