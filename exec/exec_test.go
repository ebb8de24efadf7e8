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

package exec_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/exec"
	"github.com/vitrodb/vitrocore/indexam"
	"github.com/vitrodb/vitrocore/pipeline"
	"github.com/vitrodb/vitrocore/rowstore"
)

func valuesNode(docs ...bsonval.Document) *pipeline.QueryNode {
	return &pipeline.QueryNode{Kind: pipeline.NodeValues, Literal: docs}
}

func doc(id int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("_id", id)
	return w.Build()
}

func ids(docs []bsonval.Document) []int32 {
	out := make([]int32, len(docs))
	for i, d := range docs {
		v, _ := bsonval.ExtractPath(d.AsValue(), "_id", bsonval.ExtractOptions{})
		n, _ := v.Int32()
		out[i] = n
	}
	return out
}

func TestExecSortDescending(t *testing.T) {
	e := exec.New(nil)
	sortSpec := bsonval.NewDocumentWriter().AppendInt32("_id", -1).Build()
	node := &pipeline.QueryNode{Kind: pipeline.NodeSort, Input: valuesNode(doc(1), doc(3), doc(2)), SortSpec: sortSpec}

	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Equal(t, []int32{3, 2, 1}, ids(out))
}

func TestExecLimitAndSkip(t *testing.T) {
	e := exec.New(nil)
	base := valuesNode(doc(1), doc(2), doc(3), doc(4))

	limit := &pipeline.QueryNode{Kind: pipeline.NodeLimit, Input: base, Count: 2}
	out, err := e.Run("db", limit, nil)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2}, ids(out))

	skip := &pipeline.QueryNode{Kind: pipeline.NodeSkip, Input: base, Count: 2}
	out, err = e.Run("db", skip, nil)
	require.NoError(t, err)
	require.Equal(t, []int32{3, 4}, ids(out))
}

func TestExecLimitBeyondLengthReturnsAll(t *testing.T) {
	e := exec.New(nil)
	node := &pipeline.QueryNode{Kind: pipeline.NodeLimit, Input: valuesNode(doc(1), doc(2)), Count: 10}
	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func docWithTags(id int32, tags ...int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("_id", id)
	arr := bsonval.NewArrayWriter()
	for _, tg := range tags {
		arr.AppendValue(bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", tg)))
	}
	w.AppendArray("tags", arr)
	return w.Build()
}

func TestExecUnwindExpandsArray(t *testing.T) {
	e := exec.New(nil)
	node := &pipeline.QueryNode{Kind: pipeline.NodeUnwind, Input: valuesNode(docWithTags(1, 10, 20)), LocalField: "$tags"}

	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	v0, _ := bsonval.ExtractPath(out[0].AsValue(), "tags", bsonval.ExtractOptions{})
	n0, _ := v0.Int32()
	require.Equal(t, int32(10), n0)
	v1, _ := bsonval.ExtractPath(out[1].AsValue(), "tags", bsonval.ExtractOptions{})
	n1, _ := v1.Int32()
	require.Equal(t, int32(20), n1)
}

func TestExecUnwindEmptyArrayDroppedByDefault(t *testing.T) {
	e := exec.New(nil)
	node := &pipeline.QueryNode{Kind: pipeline.NodeUnwind, Input: valuesNode(docWithTags(1)), LocalField: "$tags"}
	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestExecUnwindPreserveEmptyKeepsDocument(t *testing.T) {
	e := exec.New(nil)
	node := &pipeline.QueryNode{Kind: pipeline.NodeUnwind, Input: valuesNode(docWithTags(1)), LocalField: "$tags", PreserveEmpty: true}
	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func docWithField(name string, n int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32(name, n)
	return w.Build()
}

func TestExecJoinCollectsMatchesIntoArray(t *testing.T) {
	e := exec.New(nil)
	left := valuesNode(docWithField("x", 1), docWithField("x", 2))
	right := valuesNode(docWithField("y", 1), docWithField("y", 1))
	node := &pipeline.QueryNode{Kind: pipeline.NodeJoin, Input: left, Right: right, As: "j", LocalField: "x", ForeignField: "y"}

	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Len(t, out, 2)

	j0, ok := bsonval.ExtractPath(out[0].AsValue(), "j", bsonval.ExtractOptions{})
	require.True(t, ok)
	arr, ok := j0.Array()
	require.True(t, ok)
	n := 0
	it := arr.Iterate()
	for _, ok := it.Next(); ok; _, ok = it.Next() {
		n++
	}
	require.Equal(t, 2, n)

	j1, ok := bsonval.ExtractPath(out[1].AsValue(), "j", bsonval.ExtractOptions{})
	require.True(t, ok)
	arr1, _ := j1.Array()
	n1 := 0
	it1 := arr1.Iterate()
	for _, ok := it1.Next(); ok; _, ok = it1.Next() {
		n1++
	}
	require.Equal(t, 0, n1)
}

// TestLookupUnwindFusedExecutionMatchesUnfusedS4 implements spec.md §8
// scenario S4's output-equivalence requirement: the fused LookupUnwind
// node's output set equals an inner join on A.x = B.y.
func TestLookupUnwindFusedExecutionMatchesUnfusedS4(t *testing.T) {
	e := exec.New(nil)
	left := valuesNode(docWithField("x", 1), docWithField("x", 2))
	right := valuesNode(docWithField("y", 1))
	node := &pipeline.QueryNode{
		Kind: pipeline.NodeLookupUnwind, Input: left, Right: right,
		As: "j", LocalField: "x", ForeignField: "y", JoinKind: pipeline.JoinInnerLateral,
	}

	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Len(t, out, 1) // only x=1 matches y=1; x=2 has no match and preserveEmpty is off

	jv, ok := bsonval.ExtractPath(out[0].AsValue(), "j", bsonval.ExtractOptions{})
	require.True(t, ok)
	y, ok := bsonval.ExtractPath(jv, "y", bsonval.ExtractOptions{})
	require.True(t, ok)
	n, _ := y.Int32()
	require.Equal(t, int32(1), n)

	unfused := &pipeline.QueryNode{
		Kind:       pipeline.NodeUnwind,
		Input:      &pipeline.QueryNode{Kind: pipeline.NodeJoin, Input: left, Right: right, As: "j", LocalField: "x", ForeignField: "y"},
		LocalField: "$j",
	}
	want, err := e.Run("db", unfused, nil)
	require.NoError(t, err)
	require.Len(t, want, len(out))
	for i := range out {
		require.True(t, bsonval.Equals(want[i].AsValue(), out[i].AsValue(), nil))
	}
}

func TestExecUnionAllConcatenatesBothArms(t *testing.T) {
	e := exec.New(nil)
	node := &pipeline.QueryNode{Kind: pipeline.NodeUnionAll, Input: valuesNode(doc(1)), Right: valuesNode(doc(2))}
	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2}, ids(out))
}

// execFakeBitmap is a minimal in-memory BitmapIndexer exercising the same
// postings contract as indexam.BitmapAM, without the pilosa dependency.
type execFakeBitmap struct {
	postings   map[string]map[interface{}]map[uint64]bool
	matchCalls int
}

func newExecFakeBitmap() *execFakeBitmap {
	return &execFakeBitmap{postings: make(map[string]map[interface{}]map[uint64]bool)}
}

func (f *execFakeBitmap) CreateIndex(indexID string) error {
	f.postings[indexID] = make(map[interface{}]map[uint64]bool)
	return nil
}

func (f *execFakeBitmap) DropIndex(indexID string) {
	delete(f.postings, indexID)
}

func (f *execFakeBitmap) Set(indexID string, key interface{}, rowColumnID uint64) error {
	if f.postings[indexID][key] == nil {
		f.postings[indexID][key] = make(map[uint64]bool)
	}
	f.postings[indexID][key][rowColumnID] = true
	return nil
}

func (f *execFakeBitmap) MatchEqual(indexID string, key interface{}) ([]uint64, error) {
	f.matchCalls++
	var ids []uint64
	for id := range f.postings[indexID][key] {
		ids = append(ids, id)
	}
	return ids, nil
}

// TestExecFilterRoutesEqualityThroughBitmapIndex implements spec.md §4.6:
// a {field: literal} filter straight off a scan is served from the
// bitmap index's postings, not a full table scan.
func TestExecFilterRoutesEqualityThroughBitmapIndex(t *testing.T) {
	registry := indexam.NewRegistry()
	require.NoError(t, registry.Register(&indexam.Entry{Name: "bitmap", Hashed: true}, true))
	bitmap := newExecFakeBitmap()
	store := rowstore.NewStore(registry, bitmap)
	h, err := store.OpenCollection("db", "coll", true)
	require.NoError(t, err)

	require.NoError(t, h.Insert("s", 1, docWithField("a", 1)))
	require.NoError(t, h.Insert("s", 2, docWithField("a", 2)))
	require.NoError(t, h.Insert("s", 3, docWithField("a", 1)))
	_, err = h.CreateIndex(rowstore.IndexSpec{Name: "by_a", Path: "a"})
	require.NoError(t, err)

	filterSpec := bsonval.NewDocumentWriter().AppendInt32("a", 1).Build()
	want, _ := bsonval.ExtractPath(filterSpec.AsValue(), "a", bsonval.ExtractOptions{})
	pred := func(d bsonval.Document) bool {
		v, ok := bsonval.ExtractPath(d.AsValue(), "a", bsonval.ExtractOptions{})
		return ok && bsonval.Equals(v, want, nil)
	}

	node := &pipeline.QueryNode{
		Kind:       pipeline.NodeFilter,
		Input:      &pipeline.QueryNode{Kind: pipeline.NodeScan, Collection: "coll"},
		FilterSpec: filterSpec,
		Predicate:  pred,
	}

	e := exec.New(store)
	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Equal(t, 1, bitmap.matchCalls)
	require.Len(t, out, 2)
	for _, d := range out {
		v, ok := bsonval.ExtractPath(d.AsValue(), "a", bsonval.ExtractOptions{})
		require.True(t, ok)
		n, _ := v.Int32()
		require.Equal(t, int32(1), n)
	}
}

func TestExecFacetCollectRunsEachArmOverSharedInput(t *testing.T) {
	e := exec.New(nil)
	shared := valuesNode(doc(1), doc(2), doc(3))
	node := &pipeline.QueryNode{
		Kind: pipeline.NodeFacetCollect,
		Facets: map[string]*pipeline.QueryNode{
			"all":     shared,
			"limited": {Kind: pipeline.NodeLimit, Input: shared, Count: 1},
		},
	}
	out, err := e.Run("db", node, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	all, ok := bsonval.ExtractPath(out[0].AsValue(), "all", bsonval.ExtractOptions{})
	require.True(t, ok)
	arr, _ := all.Array()
	n := 0
	it := arr.Iterate()
	for _, ok := it.Next(); ok; _, ok = it.Next() {
		n++
	}
	require.Equal(t, 3, n)

	limited, ok := bsonval.ExtractPath(out[0].AsValue(), "limited", bsonval.ExtractOptions{})
	require.True(t, ok)
	larr, _ := limited.Array()
	ln := 0
	lit := larr.Iterate()
	for _, ok := lit.Next(); ok; _, ok = lit.Next() {
		ln++
	}
	require.Equal(t, 1, ln)
}
