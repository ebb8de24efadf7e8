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

// groupBucket accumulates the running state for one _id key as rows are
// folded in, one per pipeline.Accumulator.
type groupBucket struct {
	key   bsonval.Value
	state []accState
}

// accState holds the running value for a single accumulator operator:
// $sum/$avg keep a float64 sum and a count, $push/$addToSet collect
// bsonval.Values, and $first/$last/$min/$max keep one bsonval.Value each.
type accState struct {
	op      string
	sum     float64
	count   int64
	first   bsonval.Value
	firstOK bool
	last    bsonval.Value
	pushed  []bsonval.Value
	min     bsonval.Value
	minOK   bool
	max     bsonval.Value
	maxOK   bool
}

func (e *Executor) execGroupBy(database string, node *pipeline.QueryNode, vars pathtree.VariableLookup) ([]bsonval.Document, error) {
	in, err := e.exec(database, node.Input, vars)
	if err != nil {
		return nil, err
	}

	var order []int64
	buckets := make(map[int64]*groupBucket)

	for _, d := range in {
		var keyVal bsonval.Value
		if node.GroupKey != nil {
			keyVal, _ = node.GroupKey(d.AsValue(), vars)
		}
		h := bsonval.Hash(keyVal)
		b, ok := buckets[h]
		if !ok {
			b = &groupBucket{key: keyVal, state: make([]accState, len(node.Accumulators))}
			for i, acc := range node.Accumulators {
				b.state[i].op = acc.Operator
			}
			buckets[h] = b
			order = append(order, h)
		}
		for i, acc := range node.Accumulators {
			foldAccumulator(&b.state[i], acc, d, vars)
		}
	}

	out := make([]bsonval.Document, 0, len(order))
	for _, h := range order {
		b := buckets[h]
		w := bsonval.NewDocumentWriter()
		w.AppendValue("_id", b.key)
		for i, acc := range node.Accumulators {
			w.AppendValue(acc.Field, finalizeAccumulator(&b.state[i]))
		}
		out = append(out, w.Build())
	}
	return out, nil
}

// foldAccumulator folds one document into one accumulator's running state.
// For $sum, an expression that resolves with ok=false adds 1 for the
// document (the lowering $count uses for its synthetic $sum accumulator);
// $avg, $min, $max, $push and $addToSet skip such a document, and
// $first/$last record the zero Value.
func foldAccumulator(st *accState, acc pipeline.Accumulator, d bsonval.Document, vars pathtree.VariableLookup) {
	var v bsonval.Value
	var ok bool
	if acc.Expression != nil {
		v, ok = acc.Expression(d.AsValue(), vars)
	}

	switch acc.Operator {
	case "$sum":
		st.count++
		if !ok {
			st.sum += 1
			return
		}
		if f, fok := v.AsFloat64(); fok {
			st.sum += f
		}
	case "$avg":
		if ok {
			if f, fok := v.AsFloat64(); fok {
				st.sum += f
				st.count++
			}
		}
	case "$min":
		if ok && (!st.minOK || bsonval.Compare(v, st.min, nil) == bsonval.Less) {
			st.min, st.minOK = v, true
		}
	case "$max":
		if ok && (!st.maxOK || bsonval.Compare(v, st.max, nil) == bsonval.Greater) {
			st.max, st.maxOK = v, true
		}
	case "$first":
		if !st.firstOK {
			st.first, st.firstOK = v, true
		}
	case "$last":
		st.last = v
	case "$push":
		if ok {
			st.pushed = append(st.pushed, v)
		}
	case "$addToSet":
		if ok {
			for _, e := range st.pushed {
				if bsonval.Equals(e, v, nil) {
					return
				}
			}
			st.pushed = append(st.pushed, v)
		}
	}
}

func finalizeAccumulator(st *accState) bsonval.Value {
	switch st.op {
	case "$sum":
		return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendDouble("v", st.sum))
	case "$avg":
		if st.count == 0 {
			return bsonval.Value{}
		}
		return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendDouble("v", st.sum/float64(st.count)))
	case "$min":
		return st.min
	case "$max":
		return st.max
	case "$first":
		return st.first
	case "$last":
		return st.last
	case "$push", "$addToSet":
		w := bsonval.NewArrayWriter()
		for _, v := range st.pushed {
			w.AppendValue(v)
		}
		return w.Build().AsValue()
	default:
		return bsonval.Value{}
	}
}
