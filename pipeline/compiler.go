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
)

// Handler is the per-stage handler contract (spec.md §4.4): given the
// stage's raw spec, the query tree built so far, and the shared build
// context, produce the next query tree.
type Handler func(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error)

// CollectionResolver lets $lookup/$unionWith/$graphLookup validate their
// target namespace without this package depending on rowstore directly.
type CollectionResolver interface {
	Exists(database, collection string) bool
}

// Env bundles the compiler's injected collaborators: the expression
// language and the namespace resolver used to validate $lookup/$unionWith/
// $graphLookup targets.
type Env struct {
	Expr     ExprCompiler
	Resolver CollectionResolver

	// MaxNestedPipelineDepth mirrors config.Config.MaxNestedPipelineDepth;
	// threaded in rather than imported directly so this package has no
	// dependency on the config package.
	MaxNestedPipelineDepth int
}

// registry maps a stage name to its handler. Populated by an init() per
// handler file (handlers_basic.go, handlers_group.go, handlers_lookup.go,
// handlers_facet.go, handlers_window.go), the same "one file per rule
// family, register in init" shape the teacher used for sql/analyzer's
// rule list (spec.md §9).
var registry = map[Name]Handler{}

func register(name Name, h Handler) {
	registry[name] = h
}

// Compile lowers a pipeline into a single query tree rooted at a Scan of
// target (spec.md §4.4). It applies the subquery-injection policy between
// stages, recognizes the $lookup+$unwind fusion, and sets
// ctx.IsPointReadQuery when the final tree qualifies.
func Compile(stages []Stage, target CollectionDescriptor, env *Env) (*QueryNode, *BuildContext, error) {
	ctx := NewBuildContext(target)
	if err := validateFacetArms(stages, ctx.ParentStage); err != nil {
		return nil, nil, err
	}

	node, err := runStages(stages, newScan(target.Collection), ctx, env)
	if err != nil {
		return nil, nil, err
	}

	detectPointRead(node, ctx)
	return node, ctx, nil
}

// CompileNested compiles a sub-pipeline for $lookup/$facet/$unionWith/
// $graphLookup (spec.md §4.4 "nested pipelines ... execute in a child
// context with nested-pipeline-level = parent + 1"), starting from a
// fresh scan of target.
func CompileNested(stages []Stage, target CollectionDescriptor, parent *BuildContext, parentTag ParentStage, env *Env) (*QueryNode, *BuildContext, error) {
	ctx, err := newNestedContext(stages, target, parent, parentTag, env)
	if err != nil {
		return nil, nil, err
	}
	node, err := runStages(stages, newScan(target.Collection), ctx, env)
	if err != nil {
		return nil, nil, err
	}
	return node, ctx, nil
}

// CompileFacetArm compiles one $facet arm, which shares the parent
// pipeline's accumulated input rather than starting from a fresh scan
// (spec.md §4.4 "$facet: evaluate N sub-pipelines in parallel over the
// same input").
func CompileFacetArm(stages []Stage, in *QueryNode, parent *BuildContext, env *Env) (*QueryNode, error) {
	ctx, err := newNestedContext(stages, parent.Target, parent, ParentFacet, env)
	if err != nil {
		return nil, err
	}
	return runStages(stages, in, ctx, env)
}

func newNestedContext(stages []Stage, target CollectionDescriptor, parent *BuildContext, parentTag ParentStage, env *Env) (*BuildContext, error) {
	maxDepth := env.MaxNestedPipelineDepth
	if maxDepth <= 0 {
		maxDepth = 20
	}
	if parent.NestingDepth+1 > maxDepth {
		return nil, dberrors.NestedLimit.New(maxDepth)
	}
	if err := validateFacetArms(stages, parentTag); err != nil {
		return nil, err
	}
	return parent.child(parentTag, target), nil
}

// runStages is the shared per-stage dispatch loop used by Compile,
// CompileNested, and CompileFacetArm: applies the $lookup+$unwind fusion
// lookahead, the subquery-injection policy, and invokes the registered
// handler for every other stage.
func runStages(stages []Stage, node *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	for i := 0; i < len(stages); i++ {
		stage := stages[i]
		ctx.StageNumber = i

		if stage.Name == StageLookup && i+1 < len(stages) && stages[i+1].Name == StageUnwind {
			fused, unwindConsumed, err := tryFuseLookupUnwind(stage, stages[i+1], node, ctx, env)
			if err != nil {
				return nil, err
			}
			if fused != nil {
				node = fused
				if unwindConsumed {
					i++
				}
				ctx.resetSortIfInvalidated(StageLookupUnwind)
				continue
			}
		}

		handler, ok := registry[stage.Name]
		if !ok {
			return nil, dberrors.StageNotSupported.New(string(stage.Name))
		}

		if ctx.applyProjectionPolicy(stage.Name) || ctx.RequiresSubquery {
			node = wrapSubquery(node)
			ctx.RequiresSubquery = false
		}

		next, err := handler(stage.Spec, node, ctx, env)
		if err != nil {
			return nil, err
		}
		node = next

		ctx.applyForcingPolicy(stage.Name)
		ctx.resetSortIfInvalidated(stage.Name)
	}
	return node, nil
}

// wrapSubquery wraps in under a Subquery node (spec.md §4.4 "wrap the
// query in a subquery").
func wrapSubquery(in *QueryNode) *QueryNode {
	return &QueryNode{Kind: NodeSubquery, Input: in}
}

// validateFacetArms rejects a pipeline containing a multi-output-stream
// stage when it is itself running as a $facet arm (spec.md §4.4).
func validateFacetArms(stages []Stage, parent ParentStage) error {
	if parent != ParentFacet {
		return nil
	}
	for _, s := range stages {
		if multiStreamStages[s.Name] {
			return dberrors.StageSpecInvalid.New(string(StageFacet), "arm may not contain "+string(s.Name))
		}
	}
	return nil
}

// detectPointRead implements spec.md §4.4's point-read recognition: the
// final tree's sole filter is `_id = <literal>` on the primary key and no
// post-filters remain.
func detectPointRead(node *QueryNode, ctx *BuildContext) {
	top := node
	// Skip over Sort/Project nodes that don't themselves filter; a
	// point-read still applies as long as no *additional* Filter exists
	// above the _id-equality Filter.
	for top != nil {
		switch top.Kind {
		case NodeFilter:
			if !isIDEqualityFilter(top) {
				return
			}
			if top.Input != nil && top.Input.Kind == NodeScan {
				ctx.IsPointReadQuery = true
			}
			return
		case NodeProject, NodeSort:
			top = top.Input
		case NodeScan:
			return
		default:
			return
		}
	}
}

// isIDEqualityFilter reports whether f's filter spec is exactly
// {_id: <literal>}.
func isIDEqualityFilter(f *QueryNode) bool {
	if f.FilterSpec == nil {
		return false
	}
	it := f.FilterSpec.Iterate()
	el, ok := it.Next()
	if !ok || el.Name != "_id" {
		return false
	}
	if _, ok := it.Next(); ok {
		return false
	}
	switch el.Value.Type() {
	case bsonval.TypeDocument:
		// An operator document ({_id: {$eq: ...}}) still counts as an
		// equality filter only when its sole key is $eq.
		doc, _ := el.Value.Document()
		sub := doc.Iterate()
		first, ok := sub.Next()
		if !ok || first.Name != "$eq" {
			return false
		}
		_, more := sub.Next()
		return !more
	default:
		return true
	}
}
