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

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/config"
	"github.com/vitrodb/vitrocore/engine"
	"github.com/vitrodb/vitrocore/rowstore"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.CursorSpillDir = t.TempDir()
	e, err := engine.New(cfg)
	require.NoError(t, err)
	return e
}

func docWithField(name string, n int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32(name, n)
	return w.Build()
}

func TestInsertFindRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Insert("db", "coll", "shard1", int32(1), docWithField("a", 1)))
	require.NoError(t, e.Insert("db", "coll", "shard1", int32(2), docWithField("a", 2)))

	batch, _, err := e.Find("db", "coll", engine.FindOptions{})
	require.NoError(t, err)
	require.Len(t, batch.Docs, 2)
}

func TestFindWithFilterNarrowsResults(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Insert("db", "coll", "shard1", int32(1), docWithField("a", 1)))
	require.NoError(t, e.Insert("db", "coll", "shard1", int32(2), docWithField("a", 2)))

	filterOp := bsonval.NewDocumentWriter()
	filterOp.AppendInt32("a", 2)
	batch, _, err := e.Find("db", "coll", engine.FindOptions{Filter: filterOp.Build()})
	require.NoError(t, err)
	require.Len(t, batch.Docs, 1)
}

func TestCountReflectsInsertedDocuments(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Insert("db", "coll", "s", int32(1), docWithField("a", 1)))
	require.NoError(t, e.Insert("db", "coll", "s", int32(2), docWithField("a", 1)))

	n, err := e.Count("db", "coll", nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestPlanCacheReusesCompiledQueryAcrossRepeatedFinds(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Insert("db", "coll", "s", int32(1), docWithField("a", 1)))

	_, _, err := e.Find("db", "coll", engine.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, e.PlanCache.Len())

	_, _, err = e.Find("db", "coll", engine.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, e.PlanCache.Len()) // identical request reuses the cached plan
}

func TestCreateIndexesInvalidatesPlanCache(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Insert("db", "coll", "s", int32(1), docWithField("a", 1)))

	_, _, err := e.Find("db", "coll", engine.FindOptions{})
	require.NoError(t, err)

	_, err = e.CreateIndexes("db", "coll", nil)
	require.NoError(t, err)

	_, _, err = e.Find("db", "coll", engine.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, e.PlanCache.Len()) // stale entry replaced, not merely appended
}

func TestListCollectionsReturnsKnownNamespaces(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Insert("db", "alpha", "s", int32(1), docWithField("a", 1)))
	require.NoError(t, e.Insert("db", "beta", "s", int32(1), docWithField("a", 1)))

	batch, _, err := e.ListCollections("db", nil)
	require.NoError(t, err)
	require.Len(t, batch.Docs, 2)
}

func TestUpdateAndDeleteByLocator(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Insert("db", "coll", "s", int32(1), docWithField("a", 1)))

	loc := rowstore.RowLocator{ShardKeyValue: "s", ObjectID: int32(1)}
	require.NoError(t, e.Update("db", "coll", loc, docWithField("a", 99)))
	require.NoError(t, e.Delete("db", "coll", loc))

	n, err := e.Count("db", "coll", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}
