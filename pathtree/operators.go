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
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
)

// ElemMatchCompiler compiles an $elemMatch sub-query document into a
// predicate over an array element. Supplied by the caller (the pipeline
// package owns $match-spec compilation) so pathtree has no dependency on
// the query-compilation layer.
type ElemMatchCompiler func(spec bsonval.Document) (func(bsonval.Value) bool, error)

// FindProjectionLeafBuilder returns a LeafBuilder implementing spec.md
// §4.2's find-query projection mode: operator documents whose first key is
// `$`, `$elemMatch`, `$slice`, or `$meta` produce a LeafFieldWithContext;
// any other operator-prefixed document is compiled as a Field expression
// by exprCompiler; everything else falls through to DefaultLeafBuilder.
func FindProjectionLeafBuilder(exprCompiler func(spec bsonval.Value) (Expression, error), elemMatch ElemMatchCompiler) LeafBuilder {
	return func(path string, value bsonval.Value) (*Node, error) {
		// The $-positional operator is written as a path segment
		// ("grades.$": 1), not as an operator document in the value, so
		// it is detected from the path rather than falling through the
		// value-shape switch below like $elemMatch/$slice/$meta do.
		if lastSegment(path) == "$" {
			return &Node{
				Kind:    KindLeafFieldWithContext,
				Context: &OperatorContext{Operator: "$"},
			}, nil
		}
		if value.Type() != bsonval.TypeDocument {
			return DefaultLeafBuilder(path, value)
		}
		doc, _ := value.Document()
		it := doc.Iterate()
		first, ok := it.Next()
		if !ok || len(first.Name) == 0 || first.Name[0] != '$' {
			return DefaultLeafBuilder(path, value)
		}

		switch first.Name {
		case "$":
			return &Node{
				Kind:    KindLeafFieldWithContext,
				Context: &OperatorContext{Operator: "$"},
			}, nil

		case "$elemMatch":
			sub, ok := first.Value.Document()
			if !ok {
				return nil, dberrors.BadValue.New("$elemMatch requires a document")
			}
			pred, err := elemMatch(sub)
			if err != nil {
				return nil, err
			}
			return &Node{
				Kind: KindLeafFieldWithContext,
				Context: &OperatorContext{
					Operator:           "$elemMatch",
					ElemMatchPredicate: pred,
				},
			}, nil

		case "$slice":
			skip, limit, err := parseSlice(first.Value)
			if err != nil {
				return nil, err
			}
			return &Node{
				Kind: KindLeafFieldWithContext,
				Context: &OperatorContext{
					Operator:   "$slice",
					SliceSkip:  skip,
					SliceLimit: limit,
				},
			}, nil

		case "$meta":
			name, ok := first.Value.StringValue()
			if !ok {
				return nil, dberrors.BadValue.New("$meta requires a string meta-name")
			}
			return &Node{
				Kind:    KindLeafFieldWithContext,
				Context: &OperatorContext{Operator: "$meta", MetaName: name},
			}, nil

		default:
			expr, err := exprCompiler(value)
			if err != nil {
				return nil, err
			}
			return &Node{Kind: KindField, Expression: expr}, nil
		}
	}
}

// parseSlice accepts either {$slice: <limit>} or {$slice: [<skip>, <limit>]}.
func parseSlice(v bsonval.Value) (skip, limit int, err error) {
	switch v.Type() {
	case bsonval.TypeInt32:
		n, _ := v.Int32()
		return 0, int(n), nil
	case bsonval.TypeInt64:
		n, _ := v.Int64()
		return 0, int(n), nil
	case bsonval.TypeArray:
		arr, _ := v.Array()
		it := arr.Iterate()
		e0, ok0 := it.Next()
		e1, ok1 := it.Next()
		if !ok0 || !ok1 {
			return 0, 0, dberrors.BadValue.New("$slice array requires exactly two elements")
		}
		s, _ := e0.Value.Int32()
		l, _ := e1.Value.Int32()
		return int(s), int(l), nil
	default:
		return 0, 0, dberrors.BadValue.New("$slice requires a number or a two-element array")
	}
}
