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

// Package projection walks a source document and a pathtree.Tree in
// lockstep to produce a target document, honoring inclusion, exclusion,
// and expression-leaf semantics plus the array/operator edge cases named
// in spec.md §4.3. The teacher's function-table-with-opaque-state pattern
// for the old projection engine's intermediate-array handling (spec.md §9)
// becomes plain typed functions and State methods below
// (tryHandleIntermediateArray, initializePendingProjection,
// writePendingProjection) rather than a void*-carrying C vtable.
package projection

import (
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/pathtree"
)

// Mode selects which of the three projection semantics (spec.md §4.3)
// Project applies.
type Mode int

const (
	// ModeInclusion: target contains only paths named in the tree.
	ModeInclusion Mode = iota
	// ModeExclusion: target contains all source paths except those named.
	ModeExclusion
	// ModeExpression: target contains every named path, evaluated.
	ModeExpression
)

// QueryEvaluator supplies the $-positional match index (spec.md §4.3:
// "the index is taken from a query evaluator supplied at projection-state
// construction time") and is consulted at most once per document, at the
// outermost matching array.
type QueryEvaluator interface {
	// MatchIndex returns the index of the first array element at path
	// matching the originating query, or ok=false if none matches.
	MatchIndex(path string, arr bsonval.Document) (int, bool)
}

// State carries the mutable, per-document projection context: pending
// (deferred) projections, the $-positional "already evaluated" latch, the
// active QueryEvaluator, and the variable scope chain (spec.md §4.3).
type State struct {
	Mode Mode

	Query QueryEvaluator

	// NullOnEmpty controls inclusion-mode behavior for a named path
	// absent from the source: emit explicit null instead of omitting it
	// (spec.md §4.3).
	NullOnEmpty bool

	// SkipUnresolvedIntermediate: unresolved intermediate paths are not
	// materialized (spec.md §4.3 `skip-unresolved-intermediate`).
	SkipUnresolvedIntermediate bool

	Vars pathtree.VariableLookup

	positionalEvaluated bool
	pending             []pendingWrite
}

type pendingWrite struct {
	name  string
	build func(*bsonval.DocumentWriter)
}

// initializePendingProjection sets up buffered writers for projections
// that must be deferred, e.g. $elemMatch (spec.md §4.3
// `initialize-pending-projection`).
func (s *State) initializePendingProjection(total int) {
	s.pending = make([]pendingWrite, 0, total)
}

func (s *State) queuePending(name string, build func(*bsonval.DocumentWriter)) {
	s.pending = append(s.pending, pendingWrite{name: name, build: build})
}

// writePendingProjection emits deferred projections at the appropriate
// output position (spec.md §4.3 `write-pending-projection`).
func (s *State) writePendingProjection(w *bsonval.DocumentWriter) {
	for _, p := range s.pending {
		p.build(w)
	}
	s.pending = nil
}

// Project walks source against tree and returns the target document
// (spec.md §4.3 algorithm). isInNestedArray starts false at the top level.
func Project(source bsonval.Document, tree *pathtree.Tree, state *State) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	// Inclusion keeps the source _id unless the tree names _id itself.
	if state.Mode == ModeInclusion {
		if _, named := tree.Root.Child("_id"); !named {
			if el, found := findElement(source, "_id"); found {
				w.AppendValue("_id", el.Value)
			}
		}
	}
	projectDocument(source, tree.Root, state, w, false)
	return w.Build()
}

// projectDocument is the recursive visitor's document-level case: it walks
// source's elements and the tree's children in lockstep.
func projectDocument(source bsonval.Document, node *pathtree.Node, state *State, w *bsonval.DocumentWriter, inNestedArray bool) {
	switch state.Mode {
	case ModeInclusion:
		projectInclusion(source, node, state, w, inNestedArray)
	case ModeExclusion:
		projectExclusion(source, node, state, w, inNestedArray)
	case ModeExpression:
		projectExpression(source, node, state, w, inNestedArray)
	}
}

func projectInclusion(source bsonval.Document, node *pathtree.Node, state *State, w *bsonval.DocumentWriter, inNestedArray bool) {
	for _, child := range node.Children() {
		el, found := findElement(source, child.Segment)
		switch child.Kind {
		case pathtree.KindIntermediate:
			if !found {
				if !state.SkipUnresolvedIntermediate && state.NullOnEmpty {
					w.AppendNull(child.Segment)
				}
				continue
			}
			projectValueThroughNode(el.Value, child, state, w, child.Segment, inNestedArray)

		case pathtree.KindIncluded:
			if found {
				w.AppendValue(child.Segment, el.Value)
			} else if state.NullOnEmpty {
				w.AppendNull(child.Segment)
			}

		case pathtree.KindExcluded:
			// Excluded leaf inside an inclusion tree is only meaningful
			// for _id (spec.md §3.2); simply omit it.
			continue

		case pathtree.KindField, pathtree.KindLeafFieldWithContext, pathtree.KindLeafWithArrayField:
			projectLeafField(source, el, found, child, state, w, inNestedArray)
		}
	}
}

func projectExclusion(source bsonval.Document, node *pathtree.Node, state *State, w *bsonval.DocumentWriter, inNestedArray bool) {
	it := source.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		child, matched := node.Child(el.Name)
		if !matched {
			w.AppendValue(el.Name, el.Value)
			continue
		}
		switch child.Kind {
		case pathtree.KindExcluded:
			continue
		case pathtree.KindIntermediate:
			if el.Value.Type() == bsonval.TypeDocument {
				doc, _ := el.Value.Document()
				sub := bsonval.NewDocumentWriter()
				projectExclusion(doc, child, state, sub, inNestedArray)
				w.AppendDocument(el.Name, sub)
			} else {
				w.AppendValue(el.Name, el.Value)
			}
		default:
			w.AppendValue(el.Name, el.Value)
		}
	}
}

func projectExpression(source bsonval.Document, node *pathtree.Node, state *State, w *bsonval.DocumentWriter, inNestedArray bool) {
	for _, child := range node.Children() {
		el, found := findElement(source, child.Segment)
		switch child.Kind {
		case pathtree.KindIntermediate:
			sub := bsonval.NewDocumentWriter()
			var srcDoc bsonval.Document
			if found && el.Value.Type() == bsonval.TypeDocument {
				srcDoc, _ = el.Value.Document()
			}
			projectExpression(srcDoc, child, state, sub, inNestedArray)
			w.AppendDocument(child.Segment, sub)

		case pathtree.KindField:
			v, ok := child.Expression(valueOrZero(found, el), state.Vars)
			if ok {
				w.AppendValue(child.Segment, v)
			}

		case pathtree.KindIncluded:
			if found {
				w.AppendValue(child.Segment, el.Value)
			}
		}
	}
}

func valueOrZero(found bool, el bsonval.Element) bsonval.Value {
	if found {
		return el.Value
	}
	return bsonval.Value{}
}

func findElement(source bsonval.Document, name string) (bsonval.Element, bool) {
	if source == nil {
		return bsonval.Element{}, false
	}
	it := source.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		if el.Name == name {
			return el, true
		}
	}
	return bsonval.Element{}, false
}

// projectValueThroughNode descends into an intermediate node. Array
// semantics (spec.md §4.3 "Array semantics"): applying a leaf to an array
// element recurses into each element unless the node subtree is a
// LeafWithArrayField; nested arrays set isInNestedArray to suppress
// operators only valid at the outermost array.
func projectValueThroughNode(v bsonval.Value, node *pathtree.Node, state *State, w *bsonval.DocumentWriter, name string, inNestedArray bool) {
	switch v.Type() {
	case bsonval.TypeDocument:
		doc, _ := v.Document()
		sub := bsonval.NewDocumentWriter()
		projectDocument(doc, node, state, sub, inNestedArray)
		w.AppendDocument(name, sub)

	case bsonval.TypeArray:
		arr, _ := v.Array()
		if handled := tryHandleIntermediateArray(arr, node, state, w, name); handled {
			return
		}
		out := bsonval.NewArrayWriter()
		it := arr.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			if el.Value.Type() == bsonval.TypeDocument {
				doc, _ := el.Value.Document()
				sub := bsonval.NewDocumentWriter()
				projectDocument(doc, node, state, sub, true)
				out.AppendDocument(sub)
			} else {
				out.AppendValue(el.Value)
			}
		}
		w.AppendArray(name, out)

	default:
		// A scalar at an intermediate path in the source has no sub-paths
		// to project; under inclusion semantics it is simply dropped.
	}
}

// tryHandleIntermediateArray allows $-positional and $elemMatch to consume
// an array-valued intermediate path by picking a single element (spec.md
// §4.3 `try-handle-intermediate-array`). Returns true if handled.
func tryHandleIntermediateArray(arr bsonval.Document, node *pathtree.Node, state *State, w *bsonval.DocumentWriter, name string) bool {
	ctx := findPositionalContext(node)
	if ctx == nil {
		return false
	}

	switch ctx.Operator {
	case "$":
		// Evaluated once per document, at the outermost matching array
		// (spec.md §4.3 "$-positional evaluation").
		if state.positionalEvaluated {
			return false
		}
		idx, ok := state.Query.MatchIndex(name, arr)
		if !ok {
			return false
		}
		state.positionalEvaluated = true
		elVal, found := elementAt(arr, idx)
		if !found {
			return false
		}
		single := bsonval.NewArrayWriter()
		single.AppendValue(elVal)
		w.AppendArray(name, single)
		return true

	case "$elemMatch":
		it := arr.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			if ctx.ElemMatchPredicate(el.Value) {
				single := bsonval.NewArrayWriter()
				single.AppendValue(el.Value)
				w.AppendArray(name, single)
				return true
			}
		}
		return false

	case "$slice":
		out := bsonval.NewArrayWriter()
		sliceArray(arr, ctx.SliceSkip, ctx.SliceLimit, out)
		w.AppendArray(name, out)
		return true
	}
	return false
}

// findPositionalContext looks for a LeafFieldWithContext leaf reachable
// directly below node (the case where an intermediate path's only child
// is the operator leaf itself, e.g. "grades.$").
func findPositionalContext(node *pathtree.Node) *pathtree.OperatorContext {
	if node.Kind == pathtree.KindLeafFieldWithContext {
		return node.Context
	}
	for _, c := range node.Children() {
		if c.Kind == pathtree.KindLeafFieldWithContext {
			return c.Context
		}
	}
	return nil
}

func elementAt(arr bsonval.Document, idx int) (bsonval.Value, bool) {
	i := 0
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		if i == idx {
			return el.Value, true
		}
		i++
	}
	return bsonval.Value{}, false
}

func sliceArray(arr bsonval.Document, skip, limit int, out *bsonval.ArrayWriter) {
	var all []bsonval.Value
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		all = append(all, el.Value)
	}

	n := len(all)
	var start, end int
	if limit < 0 {
		// Negative limit: take the last |limit| elements (skip ignored,
		// matching MongoDB's $slice semantics for a single negative arg).
		end = n
		start = n + limit
		if start < 0 {
			start = 0
		}
	} else {
		start = skip
		if start < 0 {
			start = n + start
			if start < 0 {
				start = 0
			}
		}
		if start > n {
			start = n
		}
		end = start + limit
		if end > n {
			end = n
		}
	}

	for i := start; i < end; i++ {
		out.AppendValue(all[i])
	}
}

// projectLeafField handles Field/LeafFieldWithContext/LeafWithArrayField
// leaves encountered directly under a document node (not behind an
// intermediate array ancestor).
func projectLeafField(source bsonval.Document, el bsonval.Element, found bool, node *pathtree.Node, state *State, w *bsonval.DocumentWriter, inNestedArray bool) {
	switch node.Kind {
	case pathtree.KindField:
		v, ok := node.Expression(valueOrZero(found, el), state.Vars)
		if ok {
			w.AppendValue(node.Segment, v)
		}

	case pathtree.KindLeafFieldWithContext:
		if !found {
			return
		}
		switch node.Context.Operator {
		case "$meta":
			// $meta is resolved by the caller supplying metadata through
			// Vars (e.g. $$SEARCH_SCORE); absent a resolver, omit.
			if v, ok := state.Vars("$meta:" + node.Context.MetaName); ok {
				w.AppendValue(node.Segment, v)
			}
		default:
			w.AppendValue(node.Segment, el.Value)
		}

	case pathtree.KindLeafWithArrayField:
		if !found || el.Value.Type() != bsonval.TypeArray {
			return
		}
		arr, _ := el.Value.Array()
		out := bsonval.NewArrayWriter()
		idx := 0
		srcIt := arr.Iterate()
		for srcEl, ok := srcIt.Next(); ok; srcEl, ok = srcIt.Next() {
			if idx < len(node.ArrayElements) {
				sub := node.ArrayElements[idx]
				if sub.Kind == pathtree.KindField {
					v, ok := sub.Expression(srcEl.Value, state.Vars)
					if ok {
						out.AppendValue(v)
					} else {
						out.AppendValue(srcEl.Value)
					}
				} else {
					out.AppendValue(srcEl.Value)
				}
			} else {
				out.AppendValue(srcEl.Value)
			}
			idx++
		}
		w.AppendArray(node.Segment, out)
	}
}
