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

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyOf(t *testing.T, name string) Key {
	t.Helper()
	k, n := FromName(name)
	require.Equal(t, len(k), n)
	return k
}

// TestOrderS1 reproduces the worked example from the specification: label
// boundaries rank below any literal byte within a label.
func TestOrderS1(t *testing.T) {
	names := []string{"a", "A", "a.b", "b", "ab"}
	keys := make([]Key, len(names))
	for i, n := range names {
		keys[i] = keyOf(t, n)
	}

	assert.Equal(t, Equal, Compare(keys[0], keys[1]), "a and A must compare equal")

	idx := map[string]int{"a": 0, "A": 1, "a.b": 2, "b": 3, "ab": 4}
	order := []string{"a", "a.b", "ab", "b"}
	for i := 0; i < len(order)-1; i++ {
		lo, hi := keys[idx[order[i]]], keys[idx[order[i+1]]]
		off := Compare(lo, hi)
		require.NotEqual(t, Equal, off, "%s and %s must differ", order[i], order[i+1])
		assert.Less(t, Bit(lo, off), Bit(hi, off), "%s must sort before %s", order[i], order[i+1])
	}
}

func TestCaseInsensitive(t *testing.T) {
	a, _ := FromName("WWW.Example.COM")
	b, _ := FromName("www.example.com")
	assert.Equal(t, Equal, Compare(a, b))
}

func TestAbsoluteRelativeNoCollision(t *testing.T) {
	abs := keyOf(t, "example.")
	rel := keyOf(t, "example")
	assert.NotEqual(t, Equal, Compare(abs, rel))
	assert.Equal(t, NoByte, Bit(abs, 0))
	assert.NotEqual(t, NoByte, Bit(rel, 0))
}

// TestEscapeRoundTrip is scenario S2: a byte outside the common alphabet
// produces a two-shift escape pair, and flipping that byte changes the key.
func TestEscapeRoundTrip(t *testing.T) {
	withFF := string([]byte{0xFF}) + ".example"
	withFE := string([]byte{0xFE}) + ".example"

	a := keyOf(t, withFF)
	b := keyOf(t, withFE)
	assert.NotEqual(t, Equal, Compare(a, b))

	// The escaped byte must occupy two shifts, both inside the alphabet.
	esc, sub := a[0], a[1]
	assert.GreaterOrEqual(t, esc, Bitmap+byte(numCommon))
	assert.Less(t, esc, Offset)
	assert.GreaterOrEqual(t, sub, Bitmap)
	assert.Less(t, sub, Offset)
}

func TestOrderPreservationRandom(t *testing.T) {
	names := []string{
		"z.example.com", "a.example.com", "example.com", "a.b.example.com",
		"zz.example.com", "example.org", "a.example.org", "www.example.net",
		"a", "b", "ab", "a.b", "a.a", "xn--example", "under_score.example",
	}
	type kv struct {
		name string
		key  Key
	}
	kvs := make([]kv, len(names))
	for i, n := range names {
		kvs[i] = kv{n, keyOf(t, n)}
	}
	sort.Slice(kvs, func(i, j int) bool {
		off := Compare(kvs[i].key, kvs[j].key)
		if off == Equal {
			return false
		}
		return Bit(kvs[i].key, off) < Bit(kvs[j].key, off)
	})
	// Re-sorting an already-sorted sequence must be a no-op: Compare/Bit
	// define a strict, transitive order over this name set.
	for i := 1; i < len(kvs); i++ {
		off := Compare(kvs[i-1].key, kvs[i].key)
		require.NotEqual(t, Equal, off, "distinct names must not compare Equal: %q vs %q", kvs[i-1].name, kvs[i].name)
		assert.LessOrEqual(t, Bit(kvs[i-1].key, off), Bit(kvs[i].key, off))
	}
}

func TestEqualSentinelDistinctFromOffsets(t *testing.T) {
	k := keyOf(t, "example.com")
	for i := 0; i <= len(k); i++ {
		assert.NotEqual(t, Equal, i)
	}
}
