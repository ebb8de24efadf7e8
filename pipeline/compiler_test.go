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

package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/pathtree"
	"github.com/vitrodb/vitrocore/pipeline"
)

// stubExpr is a no-op pipeline.ExprCompiler: every expression compiles to
// a constant-false evaluator and every match/elemMatch to an
// always-true predicate. None of the tests below inspect evaluated row
// data, only the compiled tree shape, so the evaluators themselves are
// never invoked.
type stubExpr struct{}

func (stubExpr) CompileExpression(bsonval.Value) (pathtree.Expression, error) {
	return func(bsonval.Value, pathtree.VariableLookup) (bsonval.Value, bool) {
		return bsonval.Value{}, false
	}, nil
}

func (stubExpr) CompileMatch(bsonval.Document) (func(bsonval.Document) bool, error) {
	return func(bsonval.Document) bool { return true }, nil
}

func (stubExpr) CompileElemMatch(bsonval.Document) (func(bsonval.Value) bool, error) {
	return func(bsonval.Value) bool { return true }, nil
}

// stubResolver reports every namespace as present.
type stubResolver struct{}

func (stubResolver) Exists(database, collection string) bool { return true }

func testEnv() *pipeline.Env {
	return &pipeline.Env{Expr: stubExpr{}, Resolver: stubResolver{}}
}

func matchStage(doc bsonval.Document) pipeline.Stage {
	return pipeline.Stage{Name: pipeline.StageMatch, Spec: doc.AsValue()}
}

func docOf(fields map[string]int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	for k, v := range fields {
		w.AppendInt32(k, v)
	}
	return w.Build()
}

func TestCompileMatchThenSort(t *testing.T) {
	stages := []pipeline.Stage{
		matchStage(docOf(map[string]int32{"a": 1})),
		{Name: pipeline.StageSort, Spec: docOf(map[string]int32{"a": 1}).AsValue()},
	}
	target := pipeline.CollectionDescriptor{Database: "db", Collection: "A"}
	node, ctx, err := pipeline.Compile(stages, target, testEnv())
	require.NoError(t, err)

	require.Equal(t, pipeline.NodeSort, node.Kind)
	require.Equal(t, pipeline.NodeFilter, node.Input.Kind)
	require.Equal(t, pipeline.NodeScan, node.Input.Input.Kind)
	require.NotNil(t, ctx.SortSpec)
}

// TestSubqueryInjectionProjectionClass verifies spec.md §4.4's rule that a
// second consecutive projection-class stage forces a subquery wrap.
func TestSubqueryInjectionProjectionClass(t *testing.T) {
	stages := []pipeline.Stage{
		{Name: pipeline.StageProject, Spec: docOf(map[string]int32{"a": 1}).AsValue()},
		{Name: pipeline.StageProject, Spec: docOf(map[string]int32{"b": 1}).AsValue()},
	}
	target := pipeline.CollectionDescriptor{Database: "db", Collection: "A"}
	node, _, err := pipeline.Compile(stages, target, testEnv())
	require.NoError(t, err)

	require.Equal(t, pipeline.NodeProject, node.Kind)
	require.Equal(t, pipeline.NodeSubquery, node.Input.Kind)
	require.Equal(t, pipeline.NodeProject, node.Input.Input.Kind)
	require.Equal(t, pipeline.NodeScan, node.Input.Input.Input.Kind)
}

// TestSubqueryInjectionForcingStage verifies spec.md §4.4's rule that
// $group requires a subquery before the next stage runs.
func TestSubqueryInjectionForcingStage(t *testing.T) {
	groupSpec := bsonval.NewDocumentWriter()
	groupSpec.AppendString("_id", "$a")
	sumSpec := bsonval.NewDocumentWriter()
	sumSpec.AppendInt32("$sum", 1)
	groupSpec.AppendDocument("total", sumSpec)

	stages := []pipeline.Stage{
		{Name: pipeline.StageGroup, Spec: groupSpec.Build().AsValue()},
		matchStage(docOf(map[string]int32{"total": 1})),
	}
	target := pipeline.CollectionDescriptor{Database: "db", Collection: "A"}
	node, _, err := pipeline.Compile(stages, target, testEnv())
	require.NoError(t, err)

	require.Equal(t, pipeline.NodeFilter, node.Kind)
	require.Equal(t, pipeline.NodeSubquery, node.Input.Kind)
	require.Equal(t, pipeline.NodeGroupBy, node.Input.Input.Kind)
}

// TestLookupUnwindFusionS4 implements spec.md §8 scenario S4: a $lookup
// immediately followed by $unwind on its `as` field fuses into a single
// LookupUnwind node.
func TestLookupUnwindFusionS4(t *testing.T) {
	lookupSpec := bsonval.NewDocumentWriter()
	lookupSpec.AppendString("from", "B")
	lookupSpec.AppendString("localField", "x")
	lookupSpec.AppendString("foreignField", "y")
	lookupSpec.AppendString("as", "j")

	unwindSpec := bsonval.NewDocumentWriter()
	unwindSpec.AppendString("path", "$j")

	stages := []pipeline.Stage{
		{Name: pipeline.StageLookup, Spec: lookupSpec.Build().AsValue()},
		{Name: pipeline.StageUnwind, Spec: unwindSpec.Build().AsValue()},
	}
	target := pipeline.CollectionDescriptor{Database: "db", Collection: "A"}
	node, _, err := pipeline.Compile(stages, target, testEnv())
	require.NoError(t, err)

	require.Equal(t, pipeline.NodeLookupUnwind, node.Kind)
	require.Equal(t, pipeline.JoinInnerLateral, node.JoinKind)
	require.Equal(t, "j", node.As)
	require.Equal(t, "x", node.LocalField)
	require.Equal(t, "y", node.ForeignField)
	require.Equal(t, pipeline.NodeScan, node.Input.Kind)
	require.Equal(t, pipeline.NodeScan, node.Right.Kind)
	require.Equal(t, "B", node.Right.Collection)
}

// TestLookupUnwindNoFusionWhenPathDiffers ensures the fusion only fires
// when $unwind's path names the $lookup's `as` field: unrelated stages
// compile to separate Join and Unwind nodes instead.
func TestLookupUnwindNoFusionWhenPathDiffers(t *testing.T) {
	lookupSpec := bsonval.NewDocumentWriter()
	lookupSpec.AppendString("from", "B")
	lookupSpec.AppendString("localField", "x")
	lookupSpec.AppendString("foreignField", "y")
	lookupSpec.AppendString("as", "j")

	stages := []pipeline.Stage{
		{Name: pipeline.StageLookup, Spec: lookupSpec.Build().AsValue()},
		{Name: pipeline.StageUnwind, Spec: stringValue("$other")},
	}
	target := pipeline.CollectionDescriptor{Database: "db", Collection: "A"}
	node, _, err := pipeline.Compile(stages, target, testEnv())
	require.NoError(t, err)

	require.Equal(t, pipeline.NodeUnwind, node.Kind)
	require.Equal(t, "$other", node.LocalField)
	require.Equal(t, pipeline.NodeJoin, node.Input.Kind)
	require.Equal(t, "j", node.Input.As)
}

// stringValue builds a bare string bsonval.Value via a throwaway
// single-field document, mirroring how the rest of this file avoids a
// direct dependency on an unexported value constructor.
func stringValue(s string) bsonval.Value {
	w := bsonval.NewDocumentWriter()
	w.AppendString("v", s)
	doc := w.Build()
	v, _ := bsonval.ExtractPath(doc.AsValue(), "v", bsonval.ExtractOptions{})
	return v
}

// TestPointReadRecognitionS3 implements spec.md §8 scenario S3: a sole
// `_id` equality filter directly above the scan marks the query as a
// point read.
func TestPointReadRecognitionS3(t *testing.T) {
	stages := []pipeline.Stage{
		matchStage(docOf(map[string]int32{"_id": 1})),
	}
	target := pipeline.CollectionDescriptor{Database: "db", Collection: "A", ShardKey: []string{"_id"}}
	_, ctx, err := pipeline.Compile(stages, target, testEnv())
	require.NoError(t, err)
	require.True(t, ctx.IsPointReadQuery)
}

// TestPointReadNotRecognizedWithExtraFilter ensures an additional filter
// above the _id-equality filter disqualifies the point-read fast path.
func TestPointReadNotRecognizedWithExtraFilter(t *testing.T) {
	stages := []pipeline.Stage{
		matchStage(docOf(map[string]int32{"_id": 1})),
		matchStage(docOf(map[string]int32{"flag": 1})),
	}
	target := pipeline.CollectionDescriptor{Database: "db", Collection: "A", ShardKey: []string{"_id"}}
	_, ctx, err := pipeline.Compile(stages, target, testEnv())
	require.NoError(t, err)
	require.False(t, ctx.IsPointReadQuery)
}
