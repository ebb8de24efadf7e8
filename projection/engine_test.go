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

package projection_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/pathtree"
	"github.com/vitrodb/vitrocore/projection"
)

// TestInclusionProjectionS1 implements spec.md §8 scenario S1: input doc
// {"_id":1,"a":{"b":2,"c":3},"d":4}, projection {"a.b":1}, expected
// {"_id":1,"a":{"b":2}}.
func TestInclusionProjectionS1(t *testing.T) {
	srcW := bsonval.NewDocumentWriter()
	srcW.AppendInt32("_id", 1)
	aw := bsonval.NewDocumentWriter()
	aw.AppendInt32("b", 2)
	aw.AppendInt32("c", 3)
	srcW.AppendDocument("a", aw)
	srcW.AppendInt32("d", 4)
	source := srcW.Build()

	specW := bsonval.NewDocumentWriter()
	specW.AppendInt32("a.b", 1)
	spec := specW.Build()

	tree, err := pathtree.Build(spec, pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.NoError(t, err)

	state := &projection.State{Mode: projection.ModeInclusion}
	out := projection.Project(source, tree, state)

	gotA, ok := bsonval.ExtractPath(out.AsValue(), "a.b", bsonval.ExtractOptions{})
	require.True(t, ok)
	n, _ := gotA.Int32()
	require.Equal(t, int32(2), n)

	_, hasC := bsonval.ExtractPath(out.AsValue(), "a.c", bsonval.ExtractOptions{})
	require.False(t, hasC)
	_, hasD := bsonval.ExtractPath(out.AsValue(), "d", bsonval.ExtractOptions{})
	require.False(t, hasD)

	id, ok := bsonval.ExtractPath(out.AsValue(), "_id", bsonval.ExtractOptions{})
	require.True(t, ok)
	idN, _ := id.Int32()
	require.Equal(t, int32(1), idN)
}

// matchIndexFunc adapts a plain func to projection.QueryEvaluator.
type matchIndexFunc func(path string, arr bsonval.Document) (int, bool)

func (f matchIndexFunc) MatchIndex(path string, arr bsonval.Document) (int, bool) {
	return f(path, arr)
}

// TestPositionalProjectionS2 implements spec.md §8 scenario S2: doc
// {"grades":[{"s":"math","g":85},{"s":"eng","g":90}]}, query
// {"grades.g":{"$gte":90}}, projection {"grades.$":1}, expected
// {"grades":[{"s":"eng","g":90}]}.
func TestPositionalProjectionS2(t *testing.T) {
	srcW := bsonval.NewDocumentWriter()
	arr := bsonval.NewArrayWriter()
	g1 := bsonval.NewDocumentWriter()
	g1.AppendString("s", "math")
	g1.AppendInt32("g", 85)
	arr.AppendDocument(g1)
	g2 := bsonval.NewDocumentWriter()
	g2.AppendString("s", "eng")
	g2.AppendInt32("g", 90)
	arr.AppendDocument(g2)
	srcW.AppendArray("grades", arr)
	source := srcW.Build()

	specW := bsonval.NewDocumentWriter()
	specW.AppendInt32("grades.$", 1)
	spec := specW.Build()

	builder := pathtree.FindProjectionLeafBuilder(
		func(bsonval.Value) (pathtree.Expression, error) { return nil, nil },
		func(bsonval.Document) (func(bsonval.Value) bool, error) { return nil, nil },
	)
	tree, err := pathtree.Build(spec, pathtree.BuildOptions{}, builder)
	require.NoError(t, err)

	evaluator := matchIndexFunc(func(path string, arr bsonval.Document) (int, bool) {
		require.Equal(t, "grades", path)
		it := arr.Iterate()
		idx := 0
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			g, _ := bsonval.ExtractPath(el.Value, "g", bsonval.ExtractOptions{})
			n, _ := g.Int32()
			if n >= 90 {
				return idx, true
			}
			idx++
		}
		return 0, false
	})

	state := &projection.State{Mode: projection.ModeInclusion, Query: evaluator}
	out := projection.Project(source, tree, state)

	gradesVal, ok := bsonval.ExtractPath(out.AsValue(), "grades", bsonval.ExtractOptions{})
	require.True(t, ok)
	gradesArr, ok := gradesVal.Array()
	require.True(t, ok)
	count := 0
	git := gradesArr.Iterate()
	for _, ok := git.Next(); ok; _, ok = git.Next() {
		count++
	}
	require.Equal(t, 1, count)

	s, ok := bsonval.ExtractPath(out.AsValue(), "grades.0.s", bsonval.ExtractOptions{})
	require.True(t, ok)
	str, _ := s.StringValue()
	require.Equal(t, "eng", str)
}
