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

package exec

import (
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/pathtree"
	"github.com/vitrodb/vitrocore/pipeline"
)

// execJoin implements $lookup: a nested-loop left outer join, matching
// MongoDB's equality-join semantics where the local field is compared
// against every value of the foreign collection's field and all matches
// are collected into the "as" array (spec.md §4.4 Join node).
func (e *Executor) execJoin(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	left, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	right, err := e.exec(database, node.Right, vars)
	if err != nil {
		return nil, err
	}

	out := make([]bsonval.Document, 0, len(left))
	for _, ld := range left {
		matches := joinMatches(ld, right, node.LocalField, node.ForeignField)
		out = append(out, attachAs(ld, node.As, matches))
	}
	return out, nil
}

// execLookupUnwind executes the $lookup+$unwind fusion: the same join as
// execJoin, but each match is emitted as its own row instead of being
// collected into an array (spec.md §4.4 "LookupUnwind ... avoids
// materializing the intermediate array").
func (e *Executor) execLookupUnwind(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	left, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	right, err := e.exec(database, node.Right, vars)
	if err != nil {
		return nil, err
	}

	var out []bsonval.Document
	for _, ld := range left {
		matches := joinMatches(ld, right, node.LocalField, node.ForeignField)
		if len(matches) == 0 {
			if node.PreserveEmpty {
				out = append(out, attachAsScalar(ld, node.As, bsonval.Value{}, node.IncludeArrayIndex, 0))
			}
			continue
		}
		for i, m := range matches {
			out = append(out, attachAsScalar(ld, node.As, m.AsValue(), node.IncludeArrayIndex, i))
		}
	}
	return out, nil
}

func joinMatches(ld bsonval.Document, right []bsonval.Document, localField, foreignField string) []bsonval.Document {
	lv, ok := bsonval.ExtractPath(ld.AsValue(), localField, bsonval.ExtractOptions{})
	if !ok {
		return nil
	}
	var matches []bsonval.Document
	for _, rd := range right {
		rv, ok := bsonval.ExtractPath(rd.AsValue(), foreignField, bsonval.ExtractOptions{})
		if ok && bsonval.Equals(lv, rv, nil) {
			matches = append(matches, rd)
		}
	}
	return matches
}

func attachAs(d bsonval.Document, field string, matches []bsonval.Document) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	it := d.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		w.AppendRaw(el.Name, el.Value.Type(), el.Value.Raw())
	}
	arr := bsonval.NewArrayWriter()
	for _, m := range matches {
		arr.AppendDocument(rawCopy(m))
	}
	w.AppendArray(field, arr)
	return w.Build()
}

func attachAsScalar(d bsonval.Document, field string, v bsonval.Value, indexField string, idx int) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	it := d.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		w.AppendRaw(el.Name, el.Value.Type(), el.Value.Raw())
	}
	w.AppendValue(field, v)
	if indexField != "" {
		w.AppendInt64(indexField, int64(idx))
	}
	return w.Build()
}

// rawCopy adapts an already-encoded Document into a DocumentWriter so it
// can be re-appended through AppendDocument without decoding its fields.
func rawCopy(d bsonval.Document) *bsonval.DocumentWriter {
	w := bsonval.NewDocumentWriter()
	it := d.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		w.AppendRaw(el.Name, el.Value.Type(), el.Value.Raw())
	}
	return w
}

func (e *Executor) execUnionAll(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	left, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	right, err := e.exec(database, node.Right, vars)
	if err != nil {
		return nil, err
	}
	out := make([]bsonval.Document, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out, nil
}

// execFacetCollect runs every named arm against the same shared input
// (each arm's Input is a Subquery wrapping the facet's Input node, spec.md
// §4.4) and assembles a single output document {armName: [...results]}.
func (e *Executor) execFacetCollect(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	w := bsonval.NewDocumentWriter()
	for name, arm := range node.Facets {
		results, err := e.exec(database, arm, vars)
		if err != nil {
			return nil, err
		}
		arr := bsonval.NewArrayWriter()
		for _, r := range results {
			arr.AppendDocument(rawCopy(r))
		}
		w.AppendArray(name, arr)
	}
	return []bsonval.Document{w.Build()}, nil
}

// execRecursiveCTE implements $graphLookup: breadth-first traversal from
// each input document's startWith value, following connectFromField ->
// connectToField edges in the target collection, collecting visited
// documents into the "as" array (spec.md §4.4 RecursiveCTE node).
func (e *Executor) execRecursiveCTE(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}
	spec := node.Recursive
	target, err := e.execScan(database, &pipeline.QueryNode{Kind: pipeline.NodeScan, Collection: spec.From})
	if err != nil {
		return nil, err
	}

	out := make([]bsonval.Document, 0, len(in))
	for _, d := range in {
		visited := map[int64]bool{}
		var frontier []bsonval.Value
		if spec.StartWith != nil {
			if v, ok := spec.StartWith(d.AsValue(), vars); ok {
				frontier = append(frontier, v)
			}
		}
		var collected []bsonval.Document
		depth := 0
		for len(frontier) > 0 {
			if spec.MaxDepth != nil && depth > *spec.MaxDepth {
				break
			}
			var next []bsonval.Value
			for _, want := range frontier {
				for _, td := range target {
					cv, ok := bsonval.ExtractPath(td.AsValue(), spec.ConnectToField, bsonval.ExtractOptions{})
					if !ok || !bsonval.Equals(cv, want, nil) {
						continue
					}
					h := bsonval.Hash(td.AsValue())
					if visited[h] {
						continue
					}
					visited[h] = true
					doc := td
					if spec.DepthField != "" {
						doc = setPath(doc, spec.DepthField, bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt64("v", int64(depth))), "", 0)
					}
					collected = append(collected, doc)
					if fv, ok := bsonval.ExtractPath(td.AsValue(), spec.ConnectFromField, bsonval.ExtractOptions{}); ok {
						next = append(next, fv)
					}
				}
			}
			frontier = next
			depth++
		}
		out = append(out, attachAs(d, spec.As, collected))
	}
	return out, nil
}
