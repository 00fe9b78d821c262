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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qpxdb/qptrie/qpkey"
	"github.com/qpxdb/qptrie/qpqsbr"
)

func newTestMulti(t *testing.T) (*Multi, *nameHooks) {
	t.Helper()
	hooks := newNameHooks()
	m := NewMulti(hooks, WithAllocatorConfig(testAllocatorConfig()))
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, hooks
}

func TestWriteCommitVisibleToNewQuery(t *testing.T) {
	m, _ := newTestMulti(t)

	txn := m.Write()
	require.Equal(t, OK, txn.Insert("www.example.com", 1))
	txn.Commit()

	r := m.Query()
	defer r.Close()
	pval, ival, status := r.GetName("www.example.com")
	require.Equal(t, OK, status)
	assert.Equal(t, "www.example.com", pval)
	assert.Equal(t, int32(1), ival)
}

func TestQueryOpenedBeforeWriteSeesOldState(t *testing.T) {
	m, _ := newTestMulti(t)

	txn := m.Write()
	require.Equal(t, OK, txn.Insert("first.example.com", 0))
	txn.Commit()

	reader := m.Query()

	txn2 := m.Write()
	require.Equal(t, OK, txn2.Insert("second.example.com", 1))
	txn2.Commit()

	_, _, status := reader.GetName("second.example.com")
	assert.Equal(t, NOTFOUND, status, "a reader opened before the second commit must not see it")
	_, _, status = reader.GetName("first.example.com")
	assert.Equal(t, OK, status)
	reader.Close()

	r2 := m.Query()
	defer r2.Close()
	_, _, status = r2.GetName("second.example.com")
	assert.Equal(t, OK, status, "a reader opened after the second commit must see it")
}

func TestSuccessiveWritesContinueSameBumpChunk(t *testing.T) {
	m, _ := newTestMulti(t)

	txn := m.Write()
	require.Equal(t, OK, txn.Insert("a.example.com", 0))
	txn.Commit()
	bumpAfterFirst := m.core.alloc.Bump()

	txn2 := m.Write()
	require.Equal(t, OK, txn2.Insert("b.example.com", 1))
	txn2.Commit()

	assert.Equal(t, bumpAfterFirst, m.core.alloc.Bump(), "a write following a write should keep bump-allocating into the same chunk")
}

func TestUpdateRollbackRestoresPriorState(t *testing.T) {
	m, _ := newTestMulti(t)

	txn := m.Write()
	for i := 0; i < 20; i++ {
		require.Equal(t, OK, txn.Insert(randishName(i), int32(i)))
	}
	txn.Commit()

	before := m.Memusage()

	utxn := m.Update()
	for i := 0; i < 10; i++ {
		require.Equal(t, OK, utxn.Delete(keyOf(randishName(i))))
	}
	utxn.Rollback()

	after := m.Memusage()
	assert.Equal(t, before.Fingerprint(), after.Fingerprint(), "rollback must leave memusage exactly as it was before update")

	for i := 0; i < 20; i++ {
		_, _, status := m.Query().GetName(randishName(i))
		assert.Equal(t, OK, status, randishName(i))
	}
}

func TestWriteTransactionCannotRollback(t *testing.T) {
	// A write transaction never saves rollback state, so attempting to
	// roll one back is an invariant violation, not a recoverable no-op;
	// this Multi is expected to be left unusable afterward, hence its
	// own throwaway instance rather than newTestMulti's shared one.
	hooks := newNameHooks()
	m := NewMulti(hooks, WithAllocatorConfig(testAllocatorConfig()))
	defer m.Close()

	txn := m.Write()
	require.Equal(t, OK, txn.Insert("a.example.com", 0))
	assert.Panics(t, func() { txn.Rollback() })
}

func TestUpdateVisibleToOlderQueryOnlyAfterCommit(t *testing.T) {
	m, _ := newTestMulti(t)

	txn := m.Write()
	var names []string
	for i := 0; i < 40; i++ {
		n := randishName(i)
		names = append(names, n)
		require.Equal(t, OK, txn.Insert(n, int32(i)))
	}
	txn.Commit()

	reader := m.Query()
	defer reader.Close()

	utxn := m.Update()
	for i := 0; i < 20; i++ {
		require.Equal(t, OK, utxn.Delete(keyOf(names[i])))
	}

	for i, n := range names {
		_, _, status := reader.GetName(n)
		assert.Equal(t, OK, status, "query opened before update must still see every key, deleted or not: %s", n)
		_ = i
	}

	utxn.Commit()

	fresh := m.Query()
	defer fresh.Close()
	for i, n := range names {
		_, _, status := fresh.GetName(n)
		if i < 20 {
			assert.Equal(t, NOTFOUND, status, n)
		} else {
			assert.Equal(t, OK, status, n)
		}
	}
}

func TestSnapshotPinsChunksAcrossCommits(t *testing.T) {
	m, _ := newTestMulti(t)

	txn := m.Write()
	var names []string
	for i := 0; i < 60; i++ {
		n := randishName(i)
		names = append(names, n)
		require.Equal(t, OK, txn.Insert(n, int32(i)))
	}
	txn.Commit()

	snap := m.Snapshot()

	utxn := m.Update()
	for _, n := range names {
		require.Equal(t, OK, utxn.Delete(keyOf(n)))
	}
	utxn.Commit()

	for _, n := range names {
		_, _, status := snap.GetName(n)
		assert.Equal(t, OK, status, "a snapshot must still see leaves deleted by a later update: %s", n)
	}

	snap.Destroy()

	fresh := m.Query()
	defer fresh.Close()
	for _, n := range names {
		_, _, status := fresh.GetName(n)
		assert.Equal(t, NOTFOUND, status, n)
	}
}

func TestSnapshotDestroyIsIdempotent(t *testing.T) {
	m, _ := newTestMulti(t)
	txn := m.Write()
	require.Equal(t, OK, txn.Insert("a.example.com", 0))
	txn.Commit()

	snap := m.Snapshot()
	snap.Destroy()
	assert.NotPanics(t, func() { snap.Destroy() })
}

func TestQueryBeforeAnyCommitSeesEmptyTrie(t *testing.T) {
	m, _ := newTestMulti(t)
	r := m.Query()
	defer r.Close()
	_, _, status := r.GetName("nothing.example.com")
	assert.Equal(t, NOTFOUND, status)
}

func TestWithQSBRUsesHostSuppliedDomain(t *testing.T) {
	// A host embedding Multi in its own event loop supplies its own QSBR
	// domain instead of the package default; Multi must drive it through
	// the same Enter/Exit/DeferUntilQuiescent contract either way.
	hooks := newNameHooks()
	domain := qpqsbr.NewDefault()
	m := NewMulti(hooks, WithAllocatorConfig(testAllocatorConfig()), WithQSBR(domain))
	defer m.Close()

	txn := m.Write()
	require.Equal(t, OK, txn.Insert("host.example.com", 0))
	txn.Commit()

	r := m.Query()
	_, _, status := r.GetName("host.example.com")
	assert.Equal(t, OK, status)
	r.Close()

	require.NoError(t, domain.Close())
}

func keyOf(name string) qpkey.Key {
	k, _ := qpkey.FromName(name)
	return k
}
