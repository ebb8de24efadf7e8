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
	"github.com/vitrodb/vitrocore/pathtree"
)

// NodeKind discriminates query tree node variants (spec.md §4.4). Like
// pathtree.Node (spec.md §9), this is one struct with a Kind tag rather
// than an interface implemented per variant: every downstream consumer
// (the row store's planner, EXPLAIN rendering) switches on Kind.
type NodeKind int

const (
	NodeScan NodeKind = iota
	NodeFilter
	NodeProject
	NodeSort
	NodeLimit
	NodeSkip
	NodeGroupBy
	NodeJoin
	NodeUnionAll
	NodeSubquery
	NodeWindow
	NodeRecursiveCTE
	NodeFacetCollect
	NodeSample
	NodeValues
	NodeUnwind
	NodeLookupUnwind
)

func (k NodeKind) String() string {
	switch k {
	case NodeScan:
		return "Scan"
	case NodeFilter:
		return "Filter"
	case NodeProject:
		return "Project"
	case NodeSort:
		return "Sort"
	case NodeLimit:
		return "Limit"
	case NodeSkip:
		return "Skip"
	case NodeGroupBy:
		return "GroupBy"
	case NodeJoin:
		return "Join"
	case NodeUnionAll:
		return "UnionAll"
	case NodeSubquery:
		return "Subquery"
	case NodeWindow:
		return "Window"
	case NodeRecursiveCTE:
		return "RecursiveCTE"
	case NodeFacetCollect:
		return "FacetCollect"
	case NodeSample:
		return "Sample"
	case NodeValues:
		return "Values"
	case NodeUnwind:
		return "Unwind"
	case NodeLookupUnwind:
		return "LookupUnwind"
	default:
		return "Unknown"
	}
}

// JoinKind distinguishes the join shapes $lookup and LookupUnwind lower
// to (spec.md §4.4).
type JoinKind int

const (
	JoinLeftLateral JoinKind = iota
	JoinInnerLateral
)

// Accumulator is one $group/$bucket output field: an accumulator
// operator (e.g. "$sum", "$push") applied to a compiled expression.
type Accumulator struct {
	Field      string
	Operator   string
	Expression pathtree.Expression
}

// WindowFunc is one $setWindowFields output field.
type WindowFunc struct {
	Field      string
	Operator   string
	Expression pathtree.Expression
	Window     WindowBounds
}

// WindowBounds is a documents/range window frame. An end whose Unbounded
// flag is set has no limit; otherwise Lower/Upper are row offsets from the
// current row (range bounds are read the same way as documents bounds).
type WindowBounds struct {
	LowerUnbounded bool
	UpperUnbounded bool
	Lower          int
	Upper          int
}

// RecursiveSpec carries a $graphLookup traversal's parameters (spec.md
// §4.4).
type RecursiveSpec struct {
	From             string
	StartWith        pathtree.Expression
	ConnectFromField string
	ConnectToField   string
	As               string
	MaxDepth         *int
	DepthField       string
	RestrictSearch   bsonval.Document
}

// QueryNode is one node of the compiled query tree.
type QueryNode struct {
	Kind NodeKind

	Input *QueryNode // primary child (Filter/Project/Sort/Limit/Skip/GroupBy/Window/Subquery)
	Right *QueryNode // second input (Join right side, UnionAll second arm)

	// Scan
	Collection string

	// Filter: a compiled match spec. Retained as the raw BSON document
	// plus a compiled predicate so EXPLAIN can render the original spec.
	FilterSpec bsonval.Document
	Predicate  func(bsonval.Document) bool

	// Project
	Projection   *pathtree.Tree
	ProjMode     string // "inclusion" | "exclusion" | "expression" (mirrors projection.Mode) | "replaceRoot"
	MergeWithInput bool // $addFields/$set: unnamed source paths survive
	ReplaceExpr  pathtree.Expression // $replaceRoot/$replaceWith

	// Sort
	SortSpec bsonval.Document

	// Limit / Skip
	Count int64

	// GroupBy
	GroupKey     pathtree.Expression
	Accumulators []Accumulator

	// Join (and LookupUnwind, which carries both Join and Project-like
	// unwind fields at once)
	JoinKind      JoinKind
	As            string
	LocalField    string
	ForeignField  string
	PreserveEmpty     bool   // unwind's preserveNullAndEmptyArrays, fused into LookupUnwind
	IncludeArrayIndex string // unwind's includeArrayIndex output field name, if any

	// UnionAll: Right holds the second arm; additional arms chain through
	// nested UnionAll nodes exactly like a left-deep join tree.

	// Window
	PartitionBy     []pathtree.Expression
	PartitionFields []string // raw "$field" names, when expressible; used for shard-delegation checks
	WindowSort      bsonval.Document
	WindowFuncs     []WindowFunc
	ShardDelegated  bool

	// RecursiveCTE ($graphLookup)
	Recursive *RecursiveSpec

	// FacetCollect: Facets holds one compiled arm per output field name
	// (spec.md §4.4 "$facet ... lowers to N subqueries unioned by a
	// single-row aggregator").
	Facets map[string]*QueryNode

	// Sample
	SampleSize int64

	// Values ($documents): literal row source.
	Literal []bsonval.Document
}

// newScan constructs the base Scan node for a collection.
func newScan(collection string) *QueryNode {
	return &QueryNode{Kind: NodeScan, Collection: collection}
}
