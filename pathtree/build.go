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

package pathtree

import (
	"strings"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
)

// Tree is a built, read-only-after-construction path tree (spec.md §3.2
// lifecycle: "built by traversing a user-supplied specification document
// once; mutated only during construction; read-only during projection").
type Tree struct {
	Root *Node

	// AllowInclusionExclusion opts a caller into mixing Included and
	// Excluded leaves (spec.md §3.2, §4.2 validation rules); _id is
	// always exempt from the mixing check.
	AllowInclusionExclusion bool

	sawIncluded bool
	sawExcluded bool

	// MaxDepth bounds construction depth (spec.md §8: depth > N fails
	// with FailedToParse; N defaults to 100, config.Config.MaxPathTreeDepth).
	MaxDepth int
}

// BuildOptions configures Build.
type BuildOptions struct {
	AllowInclusionExclusion bool
	MaxDepth                int // 0 means use the default of 100
}

// Build parses a projection/update/index specification document into a
// Tree (spec.md §4.2 construction algorithm). leafForValue determines the
// leaf Kind/payload for a terminal path value; find-query projection mode
// and update-operator mode pass different leafForValue implementations.
func Build(spec bsonval.Document, opts BuildOptions, leafForValue LeafBuilder) (*Tree, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 100
	}
	t := &Tree{
		Root:                    newIntermediate(""),
		AllowInclusionExclusion: opts.AllowInclusionExclusion,
		MaxDepth:                maxDepth,
	}

	it := spec.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		if err := t.insert(el.Name, el.Value, leafForValue); err != nil {
			return nil, err
		}
	}
	if it.Err() != nil {
		return nil, it.Err()
	}

	markExpressionAncestors(t.Root)
	return t, nil
}

// LeafBuilder computes the leaf Kind and payload for a terminal path value
// (spec.md §4.2 step 2c).
type LeafBuilder func(path string, value bsonval.Value) (*Node, error)

// DefaultLeafBuilder implements spec.md §4.2 step 2c's literal rules,
// without any operator-context leaves. Suitable for update-operator
// "literal document/array/scalar" specs and for plain field-inclusion
// specs that contain no `$`-operator documents.
func DefaultLeafBuilder(path string, value bsonval.Value) (*Node, error) {
	leaf := &Node{Segment: lastSegment(path)}

	switch value.Type() {
	case bsonval.TypeInt32:
		n, _ := value.Int32()
		leaf.Kind = boolKind(n != 0)
		return leaf, nil
	case bsonval.TypeInt64:
		n, _ := value.Int64()
		leaf.Kind = boolKind(n != 0)
		return leaf, nil
	case bsonval.TypeDouble:
		f, _ := value.Double()
		leaf.Kind = boolKind(f != 0)
		return leaf, nil
	case bsonval.TypeBoolean:
		b, _ := value.Bool()
		leaf.Kind = boolKind(b)
		return leaf, nil
	default:
		leaf.Kind = KindField
		constant := value
		leaf.Expression = func(bsonval.Value, VariableLookup) (bsonval.Value, bool) {
			return constant, true
		}
		return leaf, nil
	}
}

func boolKind(truthy bool) Kind {
	if truthy {
		return KindIncluded
	}
	return KindExcluded
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// insert implements spec.md §4.2 steps 2a-2c for one top-level entry.
func (t *Tree) insert(key string, value bsonval.Value, leafForValue LeafBuilder) error {
	if err := validateTopLevelName(key); err != nil {
		return err
	}

	segments := strings.Split(key, ".")
	if len(segments) > t.MaxDepth {
		return dberrors.FailedToParse.New("path " + key + " exceeds maximum depth")
	}

	cur := t.Root
	for i := 0; i < len(segments)-1; i++ {
		seg := segments[i]
		child, ok := cur.Child(seg)
		if !ok {
			child = newIntermediate(seg)
			cur.addChild(child)
		} else if child.IsLeaf() {
			return dberrors.PartialPathCollision.New(key, pathPrefix(segments, i+1))
		}
		cur = child
	}

	finalSeg := segments[len(segments)-1]
	existing, exists := cur.Child(finalSeg)
	if exists {
		if existing.Kind == KindIntermediate {
			return dberrors.PartialPathCollision.New(key, pathPrefix(segments, len(segments)))
		}
		return dberrors.PathCollision.New(key)
	}

	leaf, err := leafForValue(key, value)
	if err != nil {
		return err
	}
	leaf.Segment = finalSeg

	if err := t.checkInclusionExclusion(key, leaf.Kind); err != nil {
		return err
	}

	cur.addChild(leaf)
	return nil
}

func pathPrefix(segments []string, n int) string {
	return strings.Join(segments[:n], ".")
}

// validateTopLevelName enforces spec.md §3.2/§4.2: top-level field names
// must not start with `$` except recognized operators (those are handled
// structurally by the caller passing an operator-aware LeafBuilder, not by
// the key itself starting with `$` at the top level of a projection spec).
func validateTopLevelName(key string) error {
	if len(key) == 0 {
		return dberrors.BadValue.New("empty field name")
	}
	first := strings.SplitN(key, ".", 2)[0]
	if strings.HasPrefix(first, "$") {
		return dberrors.BadValue.New("field names may not start with '$': " + key)
	}
	return nil
}

// checkInclusionExclusion enforces spec.md §3.2: "a tree cannot mix
// Included and Excluded leaves unless allow-inclusion-exclusion=true;
// _id is exempt (can be excluded in an inclusion tree)."
func (t *Tree) checkInclusionExclusion(key string, kind Kind) error {
	if kind != KindIncluded && kind != KindExcluded {
		return nil
	}
	if t.AllowInclusionExclusion {
		return nil
	}
	if key == "_id" {
		return nil
	}

	if kind == KindIncluded {
		t.sawIncluded = true
	} else {
		t.sawExcluded = true
	}

	if t.sawIncluded && t.sawExcluded {
		return dberrors.BadValue.New("cannot mix inclusion and exclusion in projection: " + key)
	}
	return nil
}

// markExpressionAncestors implements spec.md §4.2 step 3: "set
// has-expression-fields-in-children on every ancestor of any
// Field/LeafFieldWithContext leaf." Returns whether the subtree rooted at
// n itself contains such a leaf (used to propagate the flag upward).
func markExpressionAncestors(n *Node) bool {
	if n.IsLeaf() {
		return n.Kind == KindField || n.Kind == KindLeafFieldWithContext
	}
	any := false
	for _, c := range n.children {
		if markExpressionAncestors(c) {
			any = true
		}
	}
	n.HasExpressionFieldsInChildren = any
	return any
}

// IsPureInclusion reports whether every leaf in the tree is Included
// (ignoring _id, which is exempt per spec.md §3.2).
func (t *Tree) IsPureInclusion() bool {
	return !t.sawExcluded
}

// IsPureExclusion reports whether every leaf in the tree is Excluded.
func (t *Tree) IsPureExclusion() bool {
	return !t.sawIncluded
}

// IDExcluded reports whether _id is explicitly excluded at the top level;
// spec.md §3.2: "_id inclusion is always materialized (default false)" for
// wildcard projection, but ordinary inclusion/exclusion trees only exclude
// _id when the caller names it.
func (t *Tree) IDExcluded() bool {
	child, ok := t.Root.Child("_id")
	return ok && child.Kind == KindExcluded
}
