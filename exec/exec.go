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

// Package exec walks a compiled pipeline.QueryNode tree against a
// rowstore.Store and produces the documents a cursor streams out. The
// teacher's analogue is sql/rowexec: a tree of sql.Node is walked bottom
// up into a tree of sql.RowIter. There is no separate "physical plan"
// step here the way the teacher's analyzer/rowexec split works, because
// this core's query tree (spec.md §4.4) is already the physical shape —
// Executor interprets it directly, producing a materialized document
// slice per node rather than a lazily pulled iterator chain, since the
// row counts a single aggregation stage fans out to are bounded by the
// same 16 MiB/batchSize contract the cursor layer already enforces on
// the way out.
package exec

import (
	"math/rand"
	"sort"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
	"github.com/vitrodb/vitrocore/pathtree"
	"github.com/vitrodb/vitrocore/pipeline"
	"github.com/vitrodb/vitrocore/projection"
	"github.com/vitrodb/vitrocore/rowstore"
)

// Executor interprets a compiled query tree against a row store.
type Executor struct {
	Store *rowstore.Store
}

// New constructs an Executor over store.
func New(store *rowstore.Store) *Executor {
	return &Executor{Store: store}
}

// Run executes node against database and returns every resulting
// document in tree order. vars supplies the $$-variable scope the
// pipeline was compiled with (spec.md §4.3).
func (e *Executor) Run(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	return e.exec(database, node, vars)
}

func (e *Executor) exec(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	if node == nil {
		return nil, nil
	}
	switch node.Kind {
	case pipeline.NodeScan:
		return e.execScan(database, node)
	case pipeline.NodeFilter:
		return e.execFilter(database, node, vars)
	case pipeline.NodeProject:
		return e.execProject(database, node, vars)
	case pipeline.NodeSort:
		return e.execSort(database, node, vars)
	case pipeline.NodeLimit:
		return e.execLimit(database, node, vars)
	case pipeline.NodeSkip:
		return e.execSkip(database, node, vars)
	case pipeline.NodeGroupBy:
		return e.execGroupBy(database, node, vars)
	case pipeline.NodeJoin:
		return e.execJoin(database, node, vars)
	case pipeline.NodeLookupUnwind:
		return e.execLookupUnwind(database, node, vars)
	case pipeline.NodeUnionAll:
		return e.execUnionAll(database, node, vars)
	case pipeline.NodeSubquery:
		return e.exec(database, node.Input, vars)
	case pipeline.NodeWindow:
		return e.execWindow(database, node, vars)
	case pipeline.NodeRecursiveCTE:
		return e.execRecursiveCTE(database, node, vars)
	case pipeline.NodeFacetCollect:
		return e.execFacetCollect(database, node, vars)
	case pipeline.NodeSample:
		return e.execSample(database, node, vars)
	case pipeline.NodeValues:
		return node.Literal, nil
	case pipeline.NodeUnwind:
		return e.execUnwind(database, node, vars)
	default:
		return nil, dberrors.InternalError.New("exec: unhandled node kind " + node.Kind.String())
	}
}

func (e *Executor) execScan(database string, node *pipeline.QueryNode) ([]bsonval.Document, error) {
	h, err := e.Store.OpenCollection(database, node.Collection, false)
	if err != nil {
		return nil, err
	}
	it := h.Scan()
	var out []bsonval.Document
	for {
		doc, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, doc)
	}
	return out, nil
}

func (e *Executor) execFilter(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	if node.Input != nil && node.Input.Kind == pipeline.NodeScan {
		if path, key, ok := singleEqualityFilter(node.FilterSpec); ok {
			h, err := e.Store.OpenCollection(database, node.Input.Collection, false)
			if err != nil {
				return nil, err
			}
			if it, ok := h.MatchEqual(path, key); ok {
				return drainFiltered(it, node.Predicate)
			}
		}
	}

	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	var out []bsonval.Document
	for _, d := range in {
		if node.Predicate == nil || node.Predicate(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// singleEqualityFilter reports whether spec is exactly {path: <literal>},
// the shape an equality index lookup can serve.
func singleEqualityFilter(spec bsonval.Document) (path string, key bsonval.Value, ok bool) {
	if spec == nil {
		return "", bsonval.Value{}, false
	}
	it := spec.Iterate()
	el, ok := it.Next()
	if !ok {
		return "", bsonval.Value{}, false
	}
	if _, more := it.Next(); more {
		return "", bsonval.Value{}, false
	}
	if len(el.Name) > 0 && el.Name[0] == '$' {
		return "", bsonval.Value{}, false
	}
	if sub, isDoc := el.Value.Document(); isDoc {
		sit := sub.Iterate()
		if first, found := sit.Next(); found && len(first.Name) > 0 && first.Name[0] == '$' {
			return "", bsonval.Value{}, false
		}
	}
	return el.Name, el.Value, true
}

// drainFiltered reads every row out of it, re-checking pred as a
// correctness net over the index-qualified candidate set.
func drainFiltered(it *rowstore.RowIterator, pred func(bsonval.Document) bool) ([]bsonval.Document, error) {
	var out []bsonval.Document
	for {
		doc, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if pred == nil || pred(doc) {
			out = append(out, doc)
		}
	}
}

func (e *Executor) execProject(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}

	if node.ProjMode == "replaceRoot" {
		out := make([]bsonval.Document, 0, len(in))
		for _, d := range in {
			v, ok := node.ReplaceExpr(d.AsValue(), vars)
			if !ok {
				out = append(out, bsonval.NewDocumentWriter().Build())
				continue
			}
			doc, ok := v.Document()
			if !ok {
				doc = bsonval.NewDocumentWriter().Build()
			}
			out = append(out, doc)
		}
		return out, nil
	}

	var mode projection.Mode
	switch node.ProjMode {
	case "inclusion":
		mode = projection.ModeInclusion
	case "exclusion":
		mode = projection.ModeExclusion
	default:
		mode = projection.ModeExpression
	}

	out := make([]bsonval.Document, 0, len(in))
	for _, d := range in {
		state := &projection.State{Mode: mode, Vars: vars}
		projected := projection.Project(d, node.Projection, state)
		if node.MergeWithInput && mode == projection.ModeExpression {
			projected = mergeOverlay(d, projected)
		}
		out = append(out, projected)
	}
	return out, nil
}

// mergeOverlay implements $addFields/$set: base's fields survive except
// where overlay names the same top-level field, and overlay contributes
// every field it names (spec.md §4.4 "unnamed source paths survive").
func mergeOverlay(base, overlay bsonval.Document) bsonval.Document {
	overlayNames := make(map[string]bool)
	oit := overlay.Iterate()
	for el, ok := oit.Next(); ok; el, ok = oit.Next() {
		overlayNames[el.Name] = true
	}

	w := bsonval.NewDocumentWriter()
	bit := base.Iterate()
	for el, ok := bit.Next(); ok; el, ok = bit.Next() {
		if !overlayNames[el.Name] {
			w.AppendRaw(el.Name, el.Value.Type(), el.Value.Raw())
		}
	}
	oit = overlay.Iterate()
	for el, ok := oit.Next(); ok; el, ok = oit.Next() {
		w.AppendRaw(el.Name, el.Value.Type(), el.Value.Raw())
	}
	return w.Build()
}

func (e *Executor) execSort(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	out := make([]bsonval.Document, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return lessBySortSpec(out[i], out[j], node.SortSpec) })
	return out, nil
}

// sortKey is one {path, ascending} leg of a $sort spec.
type sortKey struct {
	path string
	asc  bool
}

func sortKeys(spec bsonval.Document) []sortKey {
	var keys []sortKey
	it := spec.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		asc := true
		if n, ok := el.Value.AsFloat64(); ok && n < 0 {
			asc = false
		}
		keys = append(keys, sortKey{path: el.Name, asc: asc})
	}
	return keys
}

func lessBySortSpec(a, b bsonval.Document, spec bsonval.Document) bool {
	if spec == nil {
		return false
	}
	for _, k := range sortKeys(spec) {
		av, _ := bsonval.ExtractPath(a.AsValue(), k.path, bsonval.ExtractOptions{})
		bv, _ := bsonval.ExtractPath(b.AsValue(), k.path, bsonval.ExtractOptions{})
		cmp := bsonval.Compare(av, bv, nil)
		if cmp == bsonval.Equal {
			continue
		}
		if k.asc {
			return cmp == bsonval.Less
		}
		return cmp == bsonval.Greater
	}
	return false
}

func (e *Executor) execLimit(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	if node.Count < 0 || int64(len(in)) <= node.Count {
		return in, nil
	}
	return in[:node.Count], nil
}

func (e *Executor) execSkip(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	if node.Count >= int64(len(in)) {
		return nil, nil
	}
	return in[node.Count:], nil
}

func (e *Executor) execSample(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	n := int(node.SampleSize)
	if n >= len(in) {
		out := make([]bsonval.Document, len(in))
		copy(out, in)
		return out, nil
	}
	perm := rand.Perm(len(in))
	out := make([]bsonval.Document, n)
	for i := 0; i < n; i++ {
		out[i] = in[perm[i]]
	}
	return out, nil
}

func (e *Executor) execUnwind(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	path := trimFieldPrefix(node.LocalField)
	var out []bsonval.Document
	for _, d := range in {
		out = append(out, unwindOne(d, path, node.PreserveEmpty, node.IncludeArrayIndex)...)
	}
	return out, nil
}

func unwindOne(d bsonval.Document, path string, preserveEmpty bool, indexField string) []bsonval.Document {
	v, ok := bsonval.ExtractPath(d.AsValue(), path, bsonval.ExtractOptions{})
	if !ok || v.IsZero() {
		if preserveEmpty {
			return []bsonval.Document{d}
		}
		return nil
	}
	arr, ok := v.Array()
	if !ok {
		// A non-array value unwinds to itself, matching MongoDB's
		// "unwind a scalar field as a single-element array" rule.
		return []bsonval.Document{setPath(d, path, v, indexField, 0)}
	}
	elems := elements(arr)
	if len(elems) == 0 {
		if preserveEmpty {
			return []bsonval.Document{clearPath(d, path)}
		}
		return nil
	}
	out := make([]bsonval.Document, 0, len(elems))
	for i, el := range elems {
		out = append(out, setPath(d, path, el, indexField, i))
	}
	return out
}

func elements(arr bsonval.Document) []bsonval.Value {
	var out []bsonval.Value
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		out = append(out, el.Value)
	}
	return out
}

// setPath rewrites the top-level field named by path (unwind only
// operates on top-level fields in this reference executor; nested-path
// unwind is out of scope) to v, optionally
// adding the includeArrayIndex field.
func setPath(d bsonval.Document, path string, v bsonval.Value, indexField string, idx int) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	it := d.Iterate()
	wrote := false
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		if el.Name == path {
			w.AppendValue(path, v)
			wrote = true
			continue
		}
		w.AppendRaw(el.Name, el.Value.Type(), el.Value.Raw())
	}
	if !wrote {
		w.AppendValue(path, v)
	}
	if indexField != "" {
		w.AppendInt64(indexField, int64(idx))
	}
	return w.Build()
}

func clearPath(d bsonval.Document, path string) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	it := d.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		if el.Name == path {
			w.AppendNull(path)
			continue
		}
		w.AppendRaw(el.Name, el.Value.Type(), el.Value.Raw())
	}
	return w.Build()
}

func trimFieldPrefix(s string) string {
	if len(s) > 0 && s[0] == '$' {
		return s[1:]
	}
	return s
}
