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

package pipeline

import (
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
	"github.com/vitrodb/vitrocore/pathtree"
)

func init() {
	register(StageGroup, handleGroup)
	register(StageBucket, handleBucket)
	register(StageBucketAuto, handleBucketAuto)
	register(StageSortByCount, handleSortByCount)
}

func handleGroup(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageGroup, spec)
	if err != nil {
		return nil, err
	}

	node := &QueryNode{Kind: NodeGroupBy, Input: in}
	it := doc.Iterate()
	sawID := false
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		if el.Name == "_id" {
			sawID = true
			expr, err := env.Expr.CompileExpression(el.Value)
			if err != nil {
				return nil, dberrors.StageSpecInvalid.New(string(StageGroup), err.Error())
			}
			node.GroupKey = expr
			continue
		}
		acc, err := compileAccumulator(el.Name, el.Value, env)
		if err != nil {
			return nil, err
		}
		node.Accumulators = append(node.Accumulators, acc)
	}
	if !sawID {
		return nil, dberrors.StageSpecInvalid.New(string(StageGroup), "missing _id")
	}
	return node, nil
}

// compileAccumulator compiles one {field: {$op: expr}} output spec.
func compileAccumulator(field string, spec bsonval.Value, env *Env) (Accumulator, error) {
	doc, ok := spec.Document()
	if !ok {
		return Accumulator{}, dberrors.StageSpecInvalid.New(string(StageGroup), "accumulator spec must be a document")
	}
	op, argSpec, ok := extractSingleFieldSpec(doc)
	if !ok {
		return Accumulator{}, dberrors.StageSpecInvalid.New(string(StageGroup), "empty accumulator spec for "+field)
	}
	expr, err := env.Expr.CompileExpression(argSpec)
	if err != nil {
		return Accumulator{}, dberrors.StageSpecInvalid.New(string(StageGroup), err.Error())
	}
	return Accumulator{Field: field, Operator: op, Expression: expr}, nil
}

// handleBucket lowers $bucket to a GroupBy keyed by the groupBy
// expression. boundaries must be present, but neither it nor default is
// carried into the node: rows are grouped by the raw groupBy value, and no
// boundary-range assignment takes place.
func handleBucket(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageBucket, spec)
	if err != nil {
		return nil, err
	}

	var groupByExpr pathtree.Expression
	var boundaries bsonval.Value
	var defaultVal bsonval.Value
	var output bsonval.Document
	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		switch el.Name {
		case "groupBy":
			expr, err := env.Expr.CompileExpression(el.Value)
			if err != nil {
				return nil, dberrors.StageSpecInvalid.New(string(StageBucket), err.Error())
			}
			groupByExpr = expr
		case "boundaries":
			boundaries = el.Value
		case "default":
			defaultVal = el.Value
		case "output":
			output, _ = el.Value.Document()
		}
	}
	if groupByExpr == nil || boundaries.IsZero() {
		return nil, dberrors.StageSpecInvalid.New(string(StageBucket), "requires groupBy and boundaries")
	}
	_ = defaultVal

	node := &QueryNode{Kind: NodeGroupBy, Input: in, GroupKey: groupByExpr}
	if output != nil {
		oit := output.Iterate()
		for el, ok := oit.Next(); ok; el, ok = oit.Next() {
			acc, err := compileAccumulator(el.Name, el.Value, env)
			if err != nil {
				return nil, err
			}
			node.Accumulators = append(node.Accumulators, acc)
		}
	} else {
		node.Accumulators = append(node.Accumulators, defaultCountAccumulator("count"))
	}
	return node, nil
}

// handleBucketAuto lowers $bucketAuto the same way as $bucket: rows are
// grouped by the raw groupBy value. The buckets field is not read.
func handleBucketAuto(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageBucketAuto, spec)
	if err != nil {
		return nil, err
	}

	var groupByExpr pathtree.Expression
	var output bsonval.Document
	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		switch el.Name {
		case "groupBy":
			expr, err := env.Expr.CompileExpression(el.Value)
			if err != nil {
				return nil, dberrors.StageSpecInvalid.New(string(StageBucketAuto), err.Error())
			}
			groupByExpr = expr
		case "output":
			output, _ = el.Value.Document()
		}
	}
	if groupByExpr == nil {
		return nil, dberrors.StageSpecInvalid.New(string(StageBucketAuto), "requires groupBy")
	}

	node := &QueryNode{Kind: NodeGroupBy, Input: in, GroupKey: groupByExpr}
	if output != nil {
		oit := output.Iterate()
		for el, ok := oit.Next(); ok; el, ok = oit.Next() {
			acc, err := compileAccumulator(el.Name, el.Value, env)
			if err != nil {
				return nil, err
			}
			node.Accumulators = append(node.Accumulators, acc)
		}
	} else {
		node.Accumulators = append(node.Accumulators, defaultCountAccumulator("count"))
	}
	return node, nil
}

// handleSortByCount lowers {$sortByCount: <expr>} to a GroupBy-by-expr
// with a count accumulator, immediately wrapped in a descending Sort on
// the count field (spec.md §3.3).
func handleSortByCount(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	expr, err := env.Expr.CompileExpression(spec)
	if err != nil {
		return nil, dberrors.StageSpecInvalid.New(string(StageSortByCount), err.Error())
	}

	grouped := &QueryNode{
		Kind:         NodeGroupBy,
		Input:        in,
		GroupKey:     expr,
		Accumulators: []Accumulator{defaultCountAccumulator("count")},
	}

	sortSpec := bsonval.NewDocumentWriter().AppendInt32("count", -1).Build()
	ctx.SortSpec = sortSpec
	return &QueryNode{Kind: NodeSort, Input: grouped, SortSpec: sortSpec}, nil
}

func defaultCountAccumulator(field string) Accumulator {
	one := func(bsonval.Value, pathtree.VariableLookup) (bsonval.Value, bool) {
		return bsonval.Value{}, false
	}
	return Accumulator{Field: field, Operator: "$sum", Expression: one}
}
