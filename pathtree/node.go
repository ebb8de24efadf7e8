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

// Package pathtree is the trie-like structure keyed by dotted paths that
// drives projection, update, and index-spec parsing (spec.md §4.2). The
// teacher's C-polymorphism-via-struct-embedding pattern for its node
// hierarchy (sql.Expression implementations) is re-architected here, per
// spec.md §9, as a single Node struct with a Kind discriminator instead of
// an interface-per-variant: every consumer (projection engine, index
// builder) switches on Kind rather than type-asserting.
package pathtree

import "github.com/vitrodb/vitrocore/bsonval"

// Kind discriminates the five leaf kinds plus the intermediate kind
// (spec.md §3.2).
type Kind int

const (
	KindIntermediate Kind = iota
	KindIncluded
	KindExcluded
	KindField
	KindLeafWithArrayField
	KindLeafFieldWithContext
)

func (k Kind) String() string {
	switch k {
	case KindIntermediate:
		return "Intermediate"
	case KindIncluded:
		return "Included"
	case KindExcluded:
		return "Excluded"
	case KindField:
		return "Field"
	case KindLeafWithArrayField:
		return "LeafWithArrayField"
	case KindLeafFieldWithContext:
		return "LeafFieldWithContext"
	default:
		return "Unknown"
	}
}

// OperatorContext is the opaque per-operator state carried by a
// LeafFieldWithContext leaf (spec.md §3.2, §4.2): $-positional carries a
// query qualifier, $elemMatch a compiled sub-query, $slice a {skip,limit}
// pair, $meta a meta-name. The teacher's function-pointer-hooks-with-
// opaque-void*-state pattern becomes this tagged struct (spec.md §9):
// only one of the typed fields is populated, selected by Operator.
type OperatorContext struct {
	Operator string // "$", "$elemMatch", "$slice", "$meta"

	// Positional ($): nothing extra; the index is resolved at projection
	// time from the query evaluator passed into the projection state.

	// ElemMatch ($elemMatch): a compiled sub-query predicate. Kept as an
	// opaque callback rather than a concrete query-tree type so pathtree
	// does not need to depend on the query/expression package that
	// compiles it.
	ElemMatchPredicate func(bsonval.Value) bool

	// Slice ($slice): {skip, limit}.
	SliceSkip  int
	SliceLimit int

	// Meta ($meta): meta-name, e.g. "textScore", "indexKey".
	MetaName string
}

// Expression is a compiled computed-field expression for a Field leaf
// (spec.md §4.2: "operator document ... → Field with compiled expression"
// or "literal document/array/scalar → Field with constant expression").
// Kept as a function type, not a concrete expression-tree type, so
// pathtree has no dependency on the pipeline package that compiles
// expressions; the pipeline/projection packages supply closures.
type Expression func(source bsonval.Value, vars VariableLookup) (bsonval.Value, bool)

// VariableLookup resolves a $$variable name (spec.md §4.3 "Variables").
type VariableLookup func(name string) (bsonval.Value, bool)

// Node is a single path tree node: either an Intermediate node with
// children, or one of the five leaf kinds (spec.md §3.2).
type Node struct {
	Segment string
	Kind    Kind

	// Intermediate-only fields.
	children     []*Node
	childIndex   map[string]int // segment -> index into children, O(1) lookup
	HasExpressionFieldsInChildren bool

	// Leaf fields; only the ones matching Kind are meaningful.
	Expression Expression        // KindField
	ArrayElements []*Node        // KindLeafWithArrayField: sub-leaves at known indices
	Context    *OperatorContext  // KindLeafFieldWithContext
}

// newIntermediate constructs an empty Intermediate node for segment.
func newIntermediate(segment string) *Node {
	return &Node{
		Segment:    segment,
		Kind:       KindIntermediate,
		childIndex: make(map[string]int),
	}
}

// Children returns n's children in insertion order (spec.md §9: "an
// ordered container of owned child nodes indexed by segment; a separate
// map from segment -> index avoids O(n) lookups while preserving
// insertion order").
func (n *Node) Children() []*Node {
	return n.children
}

// Child returns the child keyed by segment, if any.
func (n *Node) Child(segment string) (*Node, bool) {
	if n.childIndex == nil {
		return nil, false
	}
	i, ok := n.childIndex[segment]
	if !ok {
		return nil, false
	}
	return n.children[i], true
}

// addChild appends a new child, keeping childIndex in sync. Children are
// uniquely keyed by segment (spec.md §3.2 invariant); callers must check
// Child first.
func (n *Node) addChild(child *Node) {
	n.childIndex[child.Segment] = len(n.children)
	n.children = append(n.children, child)
}

// IsLeaf reports whether n is one of the five leaf kinds.
func (n *Node) IsLeaf() bool {
	return n.Kind != KindIntermediate
}
