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

package pathtree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/pathtree"
)

func specDoc(fields map[string]int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	for k, v := range fields {
		w.AppendInt32(k, v)
	}
	return w.Build()
}

func TestBuildInclusionTree(t *testing.T) {
	spec := specDoc(map[string]int32{"a.b": 1})
	tree, err := pathtree.Build(spec, pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.NoError(t, err)
	require.True(t, tree.IsPureInclusion())

	a, ok := tree.Root.Child("a")
	require.True(t, ok)
	b, ok := a.Child("b")
	require.True(t, ok)
	require.Equal(t, pathtree.KindIncluded, b.Kind)
}

func TestBuildMixedInclusionExclusionRejected(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("a", 1)
	w.AppendInt32("b", 0)
	_, err := pathtree.Build(w.Build(), pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.Error(t, err)
}

func TestBuildMixedInclusionExclusionAllowedWhenOptedIn(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("a", 1)
	w.AppendInt32("b", 0)
	_, err := pathtree.Build(w.Build(), pathtree.BuildOptions{AllowInclusionExclusion: true}, pathtree.DefaultLeafBuilder)
	require.NoError(t, err)
}

func TestBuildIDExclusionExemptFromMixingCheck(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("_id", 0)
	w.AppendInt32("a", 1)
	_, err := pathtree.Build(w.Build(), pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.NoError(t, err)
}

func TestBuildPathCollisionLeafThenNested(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("a", 1)
	w.AppendInt32("a.b", 1)
	_, err := pathtree.Build(w.Build(), pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.Error(t, err)
}

func TestBuildPartialPathCollisionLeafThenIntermediate(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("a.b", 1)
	w.AppendInt32("a", 1)
	_, err := pathtree.Build(w.Build(), pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.Error(t, err)
}

func TestBuildRejectsDollarPrefixedTopLevelField(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("$foo", 1)
	_, err := pathtree.Build(w.Build(), pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.Error(t, err)
}

func TestBuildDepthLimitExceeded(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("a.b.c.d", 1)
	_, err := pathtree.Build(w.Build(), pathtree.BuildOptions{MaxDepth: 2}, pathtree.DefaultLeafBuilder)
	require.Error(t, err)
}

func TestMarkExpressionAncestors(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	sub := bsonval.NewDocumentWriter()
	sub.AppendString("lit", "x")
	w.AppendDocument("a.b", sub)
	tree, err := pathtree.Build(w.Build(), pathtree.BuildOptions{}, pathtree.DefaultLeafBuilder)
	require.NoError(t, err)

	a, ok := tree.Root.Child("a")
	require.True(t, ok)
	require.True(t, a.HasExpressionFieldsInChildren)
}
