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
	register(StageSetWindowFields, handleSetWindowFields)
}

// handleSetWindowFields compiles {partitionBy, sortBy, output} into a
// Window node (spec.md §4.4: "the compiler emits window-function
// expressions over partitions and sort keys; when the partition keys
// align with the shard key ... the partition can be delegated to the
// shard").
func handleSetWindowFields(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageSetWindowFields, spec)
	if err != nil {
		return nil, err
	}

	node := &QueryNode{Kind: NodeWindow, Input: in}
	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		switch el.Name {
		case "partitionBy":
			expr, err := env.Expr.CompileExpression(el.Value)
			if err != nil {
				return nil, dberrors.StageSpecInvalid.New(string(StageSetWindowFields), err.Error())
			}
			node.PartitionBy = append(node.PartitionBy, expr)
			if field, ok := el.Value.StringValue(); ok {
				node.PartitionFields = append(node.PartitionFields, strings.TrimPrefix(field, "$"))
			}
		case "sortBy":
			node.WindowSort, _ = el.Value.Document()
		case "output":
			out, ok := el.Value.Document()
			if !ok {
				return nil, dberrors.StageSpecInvalid.New(string(StageSetWindowFields), "output must be a document")
			}
			funcs, err := compileWindowOutputs(out, env)
			if err != nil {
				return nil, err
			}
			node.WindowFuncs = funcs
		}
	}

	node.ShardDelegated = shardKeyMatchesPartition(ctx.Target.ShardKey, node.PartitionFields)
	return node, nil
}

func compileWindowOutputs(out bsonval.Document, env *Env) ([]WindowFunc, error) {
	var funcs []WindowFunc
	it := out.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		spec, ok := el.Value.Document()
		if !ok {
			return nil, dberrors.StageSpecInvalid.New(string(StageSetWindowFields), "output spec must be a document")
		}
		wf := WindowFunc{Field: el.Name}
		sit := spec.Iterate()
		for sel, ok := sit.Next(); ok; sel, ok = sit.Next() {
			if sel.Name == "window" {
				wf.Window = parseWindowBounds(sel.Value)
				continue
			}
			if strings.HasPrefix(sel.Name, "$") {
				expr, err := env.Expr.CompileExpression(sel.Value)
				if err != nil {
					return nil, dberrors.StageSpecInvalid.New(string(StageSetWindowFields), err.Error())
				}
				wf.Operator = sel.Name
				wf.Expression = expr
			}
		}
		funcs = append(funcs, wf)
	}
	return funcs, nil
}

func parseWindowBounds(v bsonval.Value) WindowBounds {
	doc, ok := v.Document()
	if !ok {
		return WindowBounds{LowerUnbounded: true, UpperUnbounded: true}
	}
	bounds := WindowBounds{LowerUnbounded: true, UpperUnbounded: true}
	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		if el.Name != "documents" && el.Name != "range" {
			continue
		}
		arr, ok := el.Value.Array()
		if !ok {
			continue

		}
		ait := arr.Iterate()
		lo, ok1 := ait.Next()
		hi, ok2 := ait.Next()
		if !ok1 || !ok2 {
			continue
		}
		if n, ok := lo.Value.Int32(); ok {
			bounds.Lower = int(n)
			bounds.LowerUnbounded = false
		}
		if n, ok := hi.Value.Int32(); ok {
			bounds.Upper = int(n)
			bounds.UpperUnbounded = false
		}
	}
	return bounds
}

// shardKeyMatchesPartition reports whether partition fields exactly cover
// the collection's shard key, the "context helper" spec.md §4.4 refers to.
func shardKeyMatchesPartition(shardKey, partitionFields []string) bool {
	if len(shardKey) == 0 || len(shardKey) != len(partitionFields) {
		return false
	}
	seen := make(map[string]bool, len(partitionFields))
	for _, f := range partitionFields {
		seen[f] = true
	}
	for _, k := range shardKey {
		if !seen[k] {
			return false
		}
	}
	return true
}
