// Copyright 2020-2021 Dolthub, Inc.
//
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

package rowstore_test

import (
	"errors"
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/indexam"
	"github.com/vitrodb/vitrocore/rowstore"
)

func docWithID(id int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("_id", id)
	return w.Build()
}

func newStore() *rowstore.Store {
	return rowstore.NewStore(indexam.NewRegistry(), nil)
}

func TestOpenCollectionCreatesOnFirstUse(t *testing.T) {
	s := newStore()
	_, err := s.OpenCollection("db", "coll", false)
	require.Error(t, err)

	h, err := s.OpenCollection("db", "coll", true)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.True(t, s.Exists("db", "coll"))

	h2, err := s.OpenCollection("db", "coll", false)
	require.NoError(t, err)
	require.Same(t, h, h2)
}

func TestInsertPointReadAndDuplicateRejected(t *testing.T) {
	s := newStore()
	h, err := s.OpenCollection("db", "coll", true)
	require.NoError(t, err)

	require.NoError(t, h.Insert("shard1", 1, docWithID(1)))
	got, ok := h.PointRead("shard1", 1)
	require.True(t, ok)
	require.Equal(t, docWithID(1), got)

	err = h.Insert("shard1", 1, docWithID(1))
	require.Error(t, err)
}

func TestUpdateAndDelete(t *testing.T) {
	s := newStore()
	h, err := s.OpenCollection("db", "coll", true)
	require.NoError(t, err)
	require.NoError(t, h.Insert("shard1", 1, docWithID(1)))

	loc := rowstore.RowLocator{ShardKeyValue: "shard1", ObjectID: 1}
	require.NoError(t, h.Update(loc, docWithID(2)))
	got, ok := h.PointRead("shard1", 1)
	require.True(t, ok)
	require.Equal(t, docWithID(2), got)

	require.NoError(t, h.Delete(loc))
	_, ok = h.PointRead("shard1", 1)
	require.False(t, ok)

	require.Error(t, h.Delete(loc))
	require.Error(t, h.Update(loc, docWithID(3)))
}

func TestScanReturnsRowsInPrimaryKeyOrder(t *testing.T) {
	s := newStore()
	h, err := s.OpenCollection("db", "coll", true)
	require.NoError(t, err)
	require.NoError(t, h.Insert("b", 1, docWithID(1)))
	require.NoError(t, h.Insert("a", 2, docWithID(2)))

	it := h.Scan()
	var order []int32
	for {
		d, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		v, _ := bsonval.ExtractPath(d.AsValue(), "_id", bsonval.ExtractOptions{})
		n, _ := v.Int32()
		order = append(order, n)
	}
	require.Equal(t, []int32{2, 1}, order)
}

func TestCreateIndexResolvesDefaultAM(t *testing.T) {
	registry := indexam.NewRegistry()
	require.NoError(t, registry.Register(&indexam.Entry{Name: "bitmap", Hashed: true}, true))
	s := rowstore.NewStore(registry, nil)
	h, err := s.OpenCollection("db", "coll", true)
	require.NoError(t, err)

	id, err := h.CreateIndex(rowstore.IndexSpec{Name: "by_a", Path: "a"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	specs := h.IndexSpecs()
	require.Len(t, specs, 1)
	require.Equal(t, "by_a", specs[0].Name)

	require.NoError(t, h.DropIndex(id))
	require.Empty(t, h.IndexSpecs())
}

// fakeBitmap is an in-memory BitmapIndexer standing in for
// indexam.BitmapAM, tracking postings the same way the pilosa-backed AM
// does: indexID -> key -> set of row column ids.
type fakeBitmap struct {
	postings map[string]map[interface{}]map[uint64]bool
}

func newFakeBitmap() *fakeBitmap {
	return &fakeBitmap{postings: make(map[string]map[interface{}]map[uint64]bool)}
}

func (f *fakeBitmap) CreateIndex(indexID string) error {
	f.postings[indexID] = make(map[interface{}]map[uint64]bool)
	return nil
}

func (f *fakeBitmap) DropIndex(indexID string) {
	delete(f.postings, indexID)
}

func (f *fakeBitmap) Set(indexID string, key interface{}, rowColumnID uint64) error {
	if f.postings[indexID][key] == nil {
		f.postings[indexID][key] = make(map[uint64]bool)
	}
	f.postings[indexID][key][rowColumnID] = true
	return nil
}

func (f *fakeBitmap) MatchEqual(indexID string, key interface{}) ([]uint64, error) {
	var ids []uint64
	for id := range f.postings[indexID][key] {
		ids = append(ids, id)
	}
	return ids, nil
}

// TestMatchEqualRoutesThroughBitmapIndex implements spec.md §4.6: an
// equality lookup on an indexed field is answered from the bitmap index's
// postings rather than a full scan.
func TestMatchEqualRoutesThroughBitmapIndex(t *testing.T) {
	registry := indexam.NewRegistry()
	require.NoError(t, registry.Register(&indexam.Entry{Name: "bitmap", Hashed: true}, true))
	bitmap := newFakeBitmap()
	s := rowstore.NewStore(registry, bitmap)
	h, err := s.OpenCollection("db", "coll", true)
	require.NoError(t, err)

	require.NoError(t, h.Insert("shard1", 1, docWithIDAndA(1, "x")))
	require.NoError(t, h.Insert("shard1", 2, docWithIDAndA(2, "y")))
	require.NoError(t, h.Insert("shard1", 3, docWithIDAndA(3, "x")))

	_, err = h.CreateIndex(rowstore.IndexSpec{Name: "by_a", Path: "a"})
	require.NoError(t, err)

	xVal, _ := bsonval.ExtractPath(docWithIDAndA(0, "x").AsValue(), "a", bsonval.ExtractOptions{})
	it, ok := h.MatchEqual("a", xVal)
	require.True(t, ok)

	var ids []int32
	for {
		d, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		v, _ := bsonval.ExtractPath(d.AsValue(), "_id", bsonval.ExtractOptions{})
		n, _ := v.Int32()
		ids = append(ids, n)
	}
	require.ElementsMatch(t, []int32{1, 3}, ids)

	_, ok = h.MatchEqual("b", xVal)
	require.False(t, ok)
}

func docWithIDAndA(id int32, a string) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("_id", id)
	w.AppendString("a", a)
	return w.Build()
}

func TestCreateIndexFailsWithNoRegisteredAM(t *testing.T) {
	s := newStore()
	h, err := s.OpenCollection("db", "coll", true)
	require.NoError(t, err)
	_, err = h.CreateIndex(rowstore.IndexSpec{Name: "by_a", Path: "a"})
	require.Error(t, err)
}

func TestCollectionNamesSortedWithinDatabase(t *testing.T) {
	s := newStore()
	_, err := s.OpenCollection("db", "zeta", true)
	require.NoError(t, err)
	_, err = s.OpenCollection("db", "alpha", true)
	require.NoError(t, err)
	_, err = s.OpenCollection("other", "beta", true)
	require.NoError(t, err)

	require.Equal(t, []string{"alpha", "zeta"}, s.CollectionNames("db"))
}

// TestRetryLedgerDedupesRetriedWrite implements spec.md §7 Testable
// Property 7: re-issuing a write with the same retry id short-circuits
// to the originally recorded outcome instead of re-running.
func TestRetryLedgerDedupesRetriedWrite(t *testing.T) {
	ledger := rowstore.NewRetryLedger()
	id := uuid.NewV4()

	_, done := ledger.Lookup(id)
	require.False(t, done)

	ledger.Begin(id)
	ledger.Begin(id) // idempotent: re-Begin with the same id must not reset state

	wantErr := errors.New("boom")
	ledger.Complete(id, wantErr)

	rec, done := ledger.Lookup(id)
	require.True(t, done)
	require.Equal(t, wantErr, rec.Result)
}

func TestRetryLedgerDistinctIDsIndependent(t *testing.T) {
	ledger := rowstore.NewRetryLedger()
	a, b := uuid.NewV4(), uuid.NewV4()

	ledger.Begin(a)
	ledger.Complete(a, nil)

	_, doneB := ledger.Lookup(b)
	require.False(t, doneB)
	recA, doneA := ledger.Lookup(a)
	require.True(t, doneA)
	require.NoError(t, recA.Result)
}
