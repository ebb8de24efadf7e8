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
	register(StageMatch, handleMatch)
	register(StageProject, handleProject)
	register(StageAddFields, handleAddFieldsLike)
	register(StageSet, handleAddFieldsLike)
	register(StageUnset, handleUnset)
	register(StageReplaceRoot, handleReplaceRoot)
	register(StageReplaceWith, handleReplaceWith)
	register(StageSort, handleSort)
	register(StageLimit, handleLimit)
	register(StageSkip, handleSkip)
	register(StageCount, handleCount)
	register(StageSample, handleSample)
	register(StageUnwind, handleUnwind)
	register(StageDocuments, handleDocuments)
	register(StageInhibitOptimization, handleInhibitOptimization)
}

func requireDocument(name Name, v bsonval.Value) (bsonval.Document, error) {
	doc, ok := v.Document()
	if !ok {
		return nil, dberrors.StageSpecInvalid.New(string(name), "spec must be a document")
	}
	return doc, nil
}

func handleMatch(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageMatch, spec)
	if err != nil {
		return nil, err
	}
	pred, err := env.Expr.CompileMatch(doc)
	if err != nil {
		return nil, dberrors.StageSpecInvalid.New(string(StageMatch), err.Error())
	}
	return &QueryNode{Kind: NodeFilter, Input: in, FilterSpec: doc, Predicate: pred}, nil
}

func handleProject(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageProject, spec)
	if err != nil {
		return nil, err
	}
	tree, err := pathtree.Build(doc, pathtree.BuildOptions{}, projectionLeafBuilder(env.Expr))
	if err != nil {
		return nil, err
	}

	mode := "expression"
	switch {
	case tree.IsPureInclusion():
		mode = "inclusion"
	case tree.IsPureExclusion():
		mode = "exclusion"
	}
	return &QueryNode{Kind: NodeProject, Input: in, Projection: tree, ProjMode: mode}, nil
}

// handleAddFieldsLike implements both $addFields and $set: every named
// path is evaluated and merged into the input document; fields not named
// survive untouched (spec.md §4.4 lists both under the projection-class
// policy, but their output semantics differ from $project's expression
// mode in that unnamed paths are kept, not dropped).
func handleAddFieldsLike(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageAddFields, spec)
	if err != nil {
		return nil, err
	}
	tree, err := pathtree.Build(doc, pathtree.BuildOptions{AllowInclusionExclusion: true}, projectionLeafBuilder(env.Expr))
	if err != nil {
		return nil, err
	}
	return &QueryNode{Kind: NodeProject, Input: in, Projection: tree, ProjMode: "expression", MergeWithInput: true}, nil
}

// handleUnset builds an exclusion-only tree from either a single field
// name string or an array of field name strings.
func handleUnset(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	w := bsonval.NewDocumentWriter()
	switch spec.Type() {
	case bsonval.TypeString:
		s, _ := spec.StringValue()
		w.AppendInt32(s, 0)
	case bsonval.TypeArray:
		arr, _ := spec.Array()
		it := arr.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			s, ok := el.Value.StringValue()
			if !ok {
				return nil, dberrors.StageSpecInvalid.New(string(StageUnset), "array elements must be strings")
			}
			w.AppendInt32(s, 0)
		}
	default:
		return nil, dberrors.StageSpecInvalid.New(string(StageUnset), "spec must be a string or array of strings")
	}

	tree, err := pathtree.Build(w.Build(), pathtree.BuildOptions{AllowInclusionExclusion: true}, pathtree.DefaultLeafBuilder)
	if err != nil {
		return nil, err
	}
	return &QueryNode{Kind: NodeProject, Input: in, Projection: tree, ProjMode: "exclusion"}, nil
}

func handleReplaceRoot(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageReplaceRoot, spec)
	if err != nil {
		return nil, err
	}
	it := doc.Iterate()
	el, ok := it.Next()
	if !ok || el.Name != "newRoot" {
		return nil, dberrors.StageSpecInvalid.New(string(StageReplaceRoot), "expected {newRoot: <expr>}")
	}
	expr, err := env.Expr.CompileExpression(el.Value)
	if err != nil {
		return nil, dberrors.StageSpecInvalid.New(string(StageReplaceRoot), err.Error())
	}
	return &QueryNode{Kind: NodeProject, Input: in, ProjMode: "replaceRoot", ReplaceExpr: expr}, nil
}

func handleReplaceWith(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	expr, err := env.Expr.CompileExpression(spec)
	if err != nil {
		return nil, dberrors.StageSpecInvalid.New(string(StageReplaceWith), err.Error())
	}
	return &QueryNode{Kind: NodeProject, Input: in, ProjMode: "replaceRoot", ReplaceExpr: expr}, nil
}

func handleSort(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageSort, spec)
	if err != nil {
		return nil, err
	}
	ctx.SortSpec = doc
	return &QueryNode{Kind: NodeSort, Input: in, SortSpec: doc}, nil
}

func intFromValue(name Name, v bsonval.Value) (int64, error) {
	switch v.Type() {
	case bsonval.TypeInt32:
		n, _ := v.Int32()
		return int64(n), nil
	case bsonval.TypeInt64:
		n, _ := v.Int64()
		return n, nil
	case bsonval.TypeDouble:
		f, _ := v.Double()
		return int64(f), nil
	default:
		return 0, dberrors.StageSpecInvalid.New(string(name), "spec must be numeric")
	}
}

func handleLimit(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	n, err := intFromValue(StageLimit, spec)
	if err != nil {
		return nil, err
	}
	return &QueryNode{Kind: NodeLimit, Input: in, Count: n}, nil
}

func handleSkip(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	n, err := intFromValue(StageSkip, spec)
	if err != nil {
		return nil, err
	}
	return &QueryNode{Kind: NodeSkip, Input: in, Count: n}, nil
}

func handleCount(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	name, ok := spec.StringValue()
	if !ok {
		return nil, dberrors.StageSpecInvalid.New(string(StageCount), "spec must be a string output field name")
	}
	one := func(bsonval.Value, pathtree.VariableLookup) (bsonval.Value, bool) {
		return bsonval.Value{}, false
	}
	return &QueryNode{
		Kind:         NodeGroupBy,
		Input:        in,
		Accumulators: []Accumulator{{Field: name, Operator: "$sum", Expression: one}},
	}, nil
}

func handleSample(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageSample, spec)
	if err != nil {
		return nil, err
	}
	it := doc.Iterate()
	el, ok := it.Next()
	if !ok || el.Name != "size" {
		return nil, dberrors.StageSpecInvalid.New(string(StageSample), "expected {size: <int>}")
	}
	n, err := intFromValue(StageSample, el.Value)
	if err != nil {
		return nil, err
	}
	return &QueryNode{Kind: NodeSample, Input: in, SampleSize: n}, nil
}

// handleUnwind accepts either a "$field" string or a document
// {path, includeArrayIndex, preserveNullAndEmptyArrays}.
func handleUnwind(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	switch spec.Type() {
	case bsonval.TypeString:
		path, _ := spec.StringValue()
		return &QueryNode{Kind: NodeUnwind, Input: in, LocalField: path}, nil
	case bsonval.TypeDocument:
		doc, _ := spec.Document()
		node := &QueryNode{Kind: NodeUnwind, Input: in}
		it := doc.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			switch el.Name {
			case "path":
				node.LocalField, _ = el.Value.StringValue()
			case "includeArrayIndex":
				node.IncludeArrayIndex, _ = el.Value.StringValue()
			case "preserveNullAndEmptyArrays":
				node.PreserveEmpty, _ = el.Value.Bool()
			}
		}
		if node.LocalField == "" {
			return nil, dberrors.StageSpecInvalid.New(string(StageUnwind), "missing path")
		}
		return node, nil
	default:
		return nil, dberrors.StageSpecInvalid.New(string(StageUnwind), "spec must be a string or document")
	}
}

// handleDocuments lowers $documents (a literal array of documents, used
// to seed a pipeline with no backing collection) into a Values node.
func handleDocuments(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	arr, ok := spec.Array()
	if !ok {
		return nil, dberrors.StageSpecInvalid.New(string(StageDocuments), "spec must be an array")
	}
	var docs []bsonval.Document
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		d, ok := el.Value.Document()
		if !ok {
			return nil, dberrors.StageSpecInvalid.New(string(StageDocuments), "array elements must be documents")
		}
		docs = append(docs, d)
	}
	return &QueryNode{Kind: NodeValues, Literal: docs}, nil
}

// handleInhibitOptimization is a transparent pass-through marker stage
// that blocks fusion/reordering rules from crossing it (spec.md §3.3).
// It never appears in a client-supplied pipeline; the compiler itself (or
// a caller building a query tree programmatically) inserts it.
func handleInhibitOptimization(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	return in, nil
}
