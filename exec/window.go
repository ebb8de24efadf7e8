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

// execWindow implements $setWindowFields: partition the input, sort each
// partition, then evaluate every output field's window function over the
// documents/range frame relative to each row's position (spec.md §4.4
// Window node).
func (e *Executor) execWindow(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}

	partitions := partitionRows(in, node.PartitionBy, vars)
	out := make([]bsonval.Document, 0, len(in))
	for _, part := range partitions {
		sortPartition(part, node.WindowSort)
		out = append(out, evalWindowFuncs(part, node.WindowFuncs, vars)...)
	}
	return out, nil
}

func partitionRows(in []bsonval.Document, partitionBy []pathtree.Expression, vars pathtree.VariableLookup) [][]bsonval.Document {
	if len(partitionBy) == 0 {
		return [][]bsonval.Document{in}
	}
	var order []int64
	groups := map[int64][]bsonval.Document{}
	for _, d := range in {
		w := bsonval.NewArrayWriter()
		for _, expr := range partitionBy {
			v, ok := expr(d.AsValue(), vars)
			if ok {
				w.AppendValue(v)
			} else {
				w.AppendValue(bsonval.Value{})
			}
		}
		h := bsonval.Hash(w.Build().AsValue())
		if _, ok := groups[h]; !ok {
			order = append(order, h)
		}
		groups[h] = append(groups[h], d)
	}
	out := make([][]bsonval.Document, 0, len(order))
	for _, h := range order {
		out = append(out, groups[h])
	}
	return out
}

func sortPartition(part []bsonval.Document, sortSpec bsonval.Document) {
	if sortSpec == nil {
		return
	}
	keys := sortKeys(sortSpec)
	for i := 1; i < len(part); i++ {
		for j := i; j > 0 && lessBySortKeys(part[j], part[j-1], keys); j-- {
			part[j], part[j-1] = part[j-1], part[j]
		}
	}
}

func lessBySortKeys(a, b bsonval.Document, keys []sortKey) bool {
	for _, k := range keys {
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

// evalWindowFuncs computes every output field for every row in a single
// sorted partition, honoring each WindowFunc's own documents/range frame.
func evalWindowFuncs(part []bsonval.Document, funcs []pipeline.WindowFunc, vars pathtree.VariableLookup) []bsonval.Document {
	out := make([]bsonval.Document, len(part))
	for i, d := range part {
		w := rawCopy(d)
		for _, wf := range funcs {
			lo, hi := frameBounds(i, len(part), wf.Window)
			v := evalWindowFunc(wf, part[lo:hi], i-lo, vars)
			w.AppendValue(wf.Field, v)
		}
		out[i] = w.Build()
	}
	return out
}

func frameBounds(i, n int, bounds pipeline.WindowBounds) (int, int) {
	lo := 0
	if !bounds.LowerUnbounded {
		lo = i + bounds.Lower
		if lo < 0 {
			lo = 0
		}
	}
	hi := n
	if !bounds.UpperUnbounded {
		hi = i + bounds.Upper + 1
		if hi > n {
			hi = n
		}
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func evalWindowFunc(wf pipeline.WindowFunc, frame []bsonval.Document, selfIdx int, vars pathtree.VariableLookup) bsonval.Value {
	switch wf.Operator {
	case "$rank", "$denseRank", "$documentNumber":
		return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt64("v", int64(selfIdx+1)))
	case "$sum", "$avg", "$min", "$max", "$push", "$first", "$last":
		st := accState{op: wf.Operator}
		for _, d := range frame {
			foldAccumulator(&st, pipeline.Accumulator{Operator: wf.Operator, Expression: wf.Expression}, d, vars)
		}
		return finalizeAccumulator(&st)
	default:
		if wf.Expression == nil {
			return bsonval.Value{}
		}
		v, _ := wf.Expression(frame[selfIdx].AsValue(), vars)
		return v
	}
}
