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
	"strings"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
)

func init() {
	register(StageLookup, handleLookup)
	register(StageUnionWith, handleUnionWith)
	register(StageGraphLookup, handleGraphLookup)
}

// handleLookup compiles both the equality-join form
// ({from, localField, foreignField, as}) and the pipeline form
// ({from, let, pipeline, as}) of $lookup (spec.md §4.4). The let field is
// not read, so the sub-pipeline sees no let bindings.
func handleLookup(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageLookup, spec)
	if err != nil {
		return nil, err
	}

	from, as, localField, foreignField, subStages, err := parseLookupSpec(doc)
	if err != nil {
		return nil, err
	}
	if !env.Resolver.Exists(ctx.Target.Database, from) {
		return nil, dberrors.NamespaceNotFound.New(from)
	}

	right, err := buildLookupRight(from, subStages, ctx, env)
	if err != nil {
		return nil, err
	}

	return &QueryNode{
		Kind:         NodeJoin,
		Input:        in,
		Right:        right,
		JoinKind:     JoinLeftLateral,
		As:           as,
		LocalField:   localField,
		ForeignField: foreignField,
	}, nil
}

func buildLookupRight(from string, subStages []Stage, ctx *BuildContext, env *Env) (*QueryNode, error) {
	target := CollectionDescriptor{Database: ctx.Target.Database, Collection: from}
	if len(subStages) == 0 {
		return newScan(from), nil
	}
	right, _, err := CompileNested(subStages, target, ctx, ParentLookup, env)
	if err != nil {
		return nil, err
	}
	return right, nil
}

func parseLookupSpec(doc bsonval.Document) (from, as, localField, foreignField string, subStages []Stage, err error) {
	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		switch el.Name {
		case "from":
			from, _ = el.Value.StringValue()
		case "as":
			as, _ = el.Value.StringValue()
		case "localField":
			localField, _ = el.Value.StringValue()
		case "foreignField":
			foreignField, _ = el.Value.StringValue()
		case "pipeline":
			subStages, err = decodeStageArray(el.Value)
			if err != nil {
				return "", "", "", "", nil, err
			}
		}
	}
	if from == "" || as == "" {
		return "", "", "", "", nil, dberrors.StageSpecInvalid.New(string(StageLookup), "requires from and as")
	}
	return from, as, localField, foreignField, subStages, nil
}

// decodeStageArray decodes a raw pipeline array value (each element a
// one-key {$stageName: spec} document) into []Stage.
func decodeStageArray(v bsonval.Value) ([]Stage, error) {
	arr, ok := v.Array()
	if !ok {
		return nil, dberrors.StageSpecInvalid.New("pipeline", "must be an array")
	}
	var stages []Stage
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		sdoc, ok := el.Value.Document()
		if !ok {
			return nil, dberrors.StageSpecInvalid.New("pipeline", "each stage must be a document")
		}
		name, spec, ok := extractSingleFieldSpec(sdoc)
		if !ok {
			return nil, dberrors.StageSpecInvalid.New("pipeline", "empty stage document")
		}
		stages = append(stages, Stage{Name: Name(name), Spec: spec})
	}
	return stages, nil
}

// handleUnionWith accepts either a plain collection-name string or
// {coll, pipeline}.
func handleUnionWith(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	var coll string
	var subStages []Stage

	switch spec.Type() {
	case bsonval.TypeString:
		coll, _ = spec.StringValue()
	case bsonval.TypeDocument:
		doc, _ := spec.Document()
		it := doc.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			switch el.Name {
			case "coll":
				coll, _ = el.Value.StringValue()
			case "pipeline":
				var err error
				subStages, err = decodeStageArray(el.Value)
				if err != nil {
					return nil, err
				}
			}
		}
	default:
		return nil, dberrors.StageSpecInvalid.New(string(StageUnionWith), "spec must be a string or document")
	}
	if coll == "" {
		return nil, dberrors.StageSpecInvalid.New(string(StageUnionWith), "missing coll")
	}
	if !env.Resolver.Exists(ctx.Target.Database, coll) {
		return nil, dberrors.NamespaceNotFound.New(coll)
	}

	target := CollectionDescriptor{Database: ctx.Target.Database, Collection: coll}
	right, _, err := CompileNested(subStages, target, ctx, ParentUnionWith, env)
	if err != nil {
		return nil, err
	}
	return &QueryNode{Kind: NodeUnionAll, Input: in, Right: right}, nil
}

// handleGraphLookup lowers $graphLookup to a recursive traversal node
// (spec.md §4.4: "seed-set ← lookup where startWith matches
// connectFromField; repeat; depth limit enforced by maxDepth; cycle
// detection is by visited-object-id set" — the visited-set bookkeeping
// itself is an execution-time concern, kept by the exec package's
// RecursiveCTE node handler).
func handleGraphLookup(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageGraphLookup, spec)
	if err != nil {
		return nil, err
	}

	rs := &RecursiveSpec{}
	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		switch el.Name {
		case "from":
			rs.From, _ = el.Value.StringValue()
		case "startWith":
			expr, err := env.Expr.CompileExpression(el.Value)
			if err != nil {
				return nil, dberrors.StageSpecInvalid.New(string(StageGraphLookup), err.Error())
			}
			rs.StartWith = expr
		case "connectFromField":
			rs.ConnectFromField, _ = el.Value.StringValue()
		case "connectToField":
			rs.ConnectToField, _ = el.Value.StringValue()
		case "as":
			rs.As, _ = el.Value.StringValue()
		case "depthField":
			rs.DepthField, _ = el.Value.StringValue()
		case "maxDepth":
			n, _ := el.Value.Int32()
			depth := int(n)
			rs.MaxDepth = &depth
		case "restrictSearchWithMatch":
			rs.RestrictSearch, _ = el.Value.Document()
		}
	}
	if rs.From == "" || rs.As == "" || rs.ConnectFromField == "" || rs.ConnectToField == "" || rs.StartWith == nil {
		return nil, dberrors.StageSpecInvalid.New(string(StageGraphLookup), "requires from, startWith, connectFromField, connectToField, as")
	}
	if !env.Resolver.Exists(ctx.Target.Database, rs.From) {
		return nil, dberrors.NamespaceNotFound.New(rs.From)
	}

	return &QueryNode{Kind: NodeRecursiveCTE, Input: in, Recursive: rs}, nil
}

// tryFuseLookupUnwind recognizes the $lookup immediately followed by
// $unwind on the lookup's `as` field (spec.md §4.4) and emits a single
// LookupUnwind node. Returns (nil, false, nil) when the stages do not
// fuse, leaving the caller to dispatch them through the normal registry.
func tryFuseLookupUnwind(lookupStage, unwindStage Stage, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, bool, error) {
	doc, ok := lookupStage.Spec.Document()
	if !ok {
		return nil, false, nil
	}
	from, as, localField, foreignField, subStages, err := parseLookupSpec(doc)
	if err != nil {
		return nil, false, nil
	}

	var unwindPath string
	var preserveEmpty bool
	var includeArrayIndex string
	switch unwindStage.Spec.Type() {
	case bsonval.TypeString:
		unwindPath, _ = unwindStage.Spec.StringValue()
	case bsonval.TypeDocument:
		udoc, _ := unwindStage.Spec.Document()
		uit := udoc.Iterate()
		for el, ok := uit.Next(); ok; el, ok = uit.Next() {
			switch el.Name {
			case "path":
				unwindPath, _ = el.Value.StringValue()
			case "preserveNullAndEmptyArrays":
				preserveEmpty, _ = el.Value.Bool()
			case "includeArrayIndex":
				includeArrayIndex, _ = el.Value.StringValue()
			}
		}
	default:
		return nil, false, nil
	}

	if strings.TrimPrefix(unwindPath, "$") != as {
		return nil, false, nil
	}

	if !env.Resolver.Exists(ctx.Target.Database, from) {
		return nil, false, dberrors.NamespaceNotFound.New(from)
	}
	right, err := buildLookupRight(from, subStages, ctx, env)
	if err != nil {
		return nil, false, err
	}

	joinKind := JoinInnerLateral
	if preserveEmpty {
		joinKind = JoinLeftLateral
	}
	return &QueryNode{
		Kind:              NodeLookupUnwind,
		Input:             in,
		Right:             right,
		JoinKind:          joinKind,
		As:                as,
		LocalField:        localField,
		ForeignField:      foreignField,
		PreserveEmpty:     preserveEmpty,
		IncludeArrayIndex: includeArrayIndex,
	}, true, nil
}
