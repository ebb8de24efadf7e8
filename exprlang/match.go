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

package exprlang

import (
	"regexp"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
)

// fieldPredicate tests a single field's value (or each element of an
// array field, per MongoDB's implicit-array-match rule).
type fieldPredicate func(bsonval.Value) bool

// CompileMatch compiles a $match-style query document into a predicate
// over an encoded row (pipeline.ExprCompiler), mirroring spec.md §4.4's
// Filter node contract: top-level keys are ANDed; "$and"/"$or"/"$nor"
// combine sub-specs; any other key is a field path compiled against its
// (possibly operator-shaped) spec.
func (c *Compiler) CompileMatch(spec bsonval.Document) (func(bsonval.Document) bool, error) {
	var clauses []func(bsonval.Document) bool
	it := spec.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		switch el.Name {
		case "$and":
			sub, err := c.compileLogicalArray(el.Value, all)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub)
		case "$or":
			sub, err := c.compileLogicalArray(el.Value, any)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub)
		case "$nor":
			sub, err := c.compileLogicalArray(el.Value, any)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, func(d bsonval.Document) bool { return !sub(d) })
		default:
			pred, err := c.compileFieldClause(el.Value)
			if err != nil {
				return nil, err
			}
			path := el.Name
			clauses = append(clauses, func(d bsonval.Document) bool {
				return matchPath(d.AsValue(), path, pred)
			})
		}
	}
	return func(d bsonval.Document) bool {
		for _, c := range clauses {
			if !c(d) {
				return false
			}
		}
		return true
	}, nil
}

func all(fs []func(bsonval.Document) bool, d bsonval.Document) bool {
	for _, f := range fs {
		if !f(d) {
			return false
		}
	}
	return true
}

func any(fs []func(bsonval.Document) bool, d bsonval.Document) bool {
	for _, f := range fs {
		if f(d) {
			return true
		}
	}
	return false
}

func (c *Compiler) compileLogicalArray(spec bsonval.Value, combine func([]func(bsonval.Document) bool, bsonval.Document) bool) (func(bsonval.Document) bool, error) {
	arr, ok := spec.Array()
	if !ok {
		return nil, dberrors.BadValue.New("$and/$or/$nor requires an array of sub-queries")
	}
	var subs []func(bsonval.Document) bool
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		doc, ok := el.Value.Document()
		if !ok {
			return nil, dberrors.BadValue.New("$and/$or/$nor element must be a document")
		}
		sub, err := c.CompileMatch(doc)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return func(d bsonval.Document) bool { return combine(subs, d) }, nil
}

// compileFieldClause compiles one field's match spec: either a literal
// (implicit equality) or an operator document ({$gt: ..., $in: [...]}).
func (c *Compiler) compileFieldClause(spec bsonval.Value) (fieldPredicate, error) {
	if spec.Type() != bsonval.TypeDocument {
		target := spec
		return func(v bsonval.Value) bool { return bsonval.Equals(v, target, nil) }, nil
	}
	doc, _ := spec.Document()
	it := doc.Iterate()
	first, ok := it.Next()
	if !ok || len(first.Name) == 0 || first.Name[0] != '$' {
		// A non-operator document is still matched by deep equality.
		target := spec
		return func(v bsonval.Value) bool { return bsonval.Equals(v, target, nil) }, nil
	}

	var preds []fieldPredicate
	it2 := doc.Iterate()
	for el, ok := it2.Next(); ok; el, ok = it2.Next() {
		pred, err := c.compileOperatorClause(el.Name, el.Value)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return func(v bsonval.Value) bool {
		for _, p := range preds {
			if !p(v) {
				return false
			}
		}
		return true
	}, nil
}

func (c *Compiler) compileOperatorClause(op string, arg bsonval.Value) (fieldPredicate, error) {
	switch op {
	case "$eq":
		return func(v bsonval.Value) bool { return bsonval.Equals(v, arg, nil) }, nil
	case "$ne":
		return func(v bsonval.Value) bool { return !bsonval.Equals(v, arg, nil) }, nil
	case "$gt":
		return func(v bsonval.Value) bool { return bsonval.Compare(v, arg, nil) == bsonval.Greater }, nil
	case "$gte":
		return func(v bsonval.Value) bool { return bsonval.Compare(v, arg, nil) != bsonval.Less }, nil
	case "$lt":
		return func(v bsonval.Value) bool { return bsonval.Compare(v, arg, nil) == bsonval.Less }, nil
	case "$lte":
		return func(v bsonval.Value) bool { return bsonval.Compare(v, arg, nil) != bsonval.Greater }, nil
	case "$in":
		elems, err := requireArrayElements(arg)
		if err != nil {
			return nil, err
		}
		return func(v bsonval.Value) bool {
			for _, e := range elems {
				if bsonval.Equals(v, e, nil) {
					return true
				}
			}
			return false
		}, nil
	case "$nin":
		elems, err := requireArrayElements(arg)
		if err != nil {
			return nil, err
		}
		return func(v bsonval.Value) bool {
			for _, e := range elems {
				if bsonval.Equals(v, e, nil) {
					return false
				}
			}
			return true
		}, nil
	case "$exists":
		want, _ := arg.Bool()
		return func(v bsonval.Value) bool { return !v.IsZero() == want }, nil
	case "$regex":
		pattern, ok := arg.StringValue()
		if !ok {
			r, ok := arg.Regex()
			if !ok {
				return nil, dberrors.BadValue.New("$regex requires a string or regex value")
			}
			pattern = r.Pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, dberrors.BadValue.New("invalid $regex pattern: " + err.Error())
		}
		return func(v bsonval.Value) bool {
			s, ok := v.StringValue()
			return ok && re.MatchString(s)
		}, nil
	case "$not":
		pred, err := c.compileFieldClause(arg)
		if err != nil {
			return nil, err
		}
		return func(v bsonval.Value) bool { return !pred(v) }, nil
	case "$size":
		n, _ := arg.AsFloat64()
		want := int(n)
		return func(v bsonval.Value) bool {
			arr, ok := v.Array()
			if !ok {
				return false
			}
			return len(arrayElements(arr)) == want
		}, nil
	case "$elemMatch":
		sub, ok := arg.Document()
		if !ok {
			return nil, dberrors.BadValue.New("$elemMatch requires a document")
		}
		pred, err := c.CompileElemMatch(sub)
		if err != nil {
			return nil, err
		}
		return func(v bsonval.Value) bool {
			arr, ok := v.Array()
			if !ok {
				return false
			}
			for _, e := range arrayElements(arr) {
				if pred(e) {
					return true
				}
			}
			return false
		}, nil
	default:
		return nil, dberrors.BadValue.New("unsupported query operator " + op)
	}
}

func requireArrayElements(v bsonval.Value) ([]bsonval.Value, error) {
	arr, ok := v.Array()
	if !ok {
		return nil, dberrors.BadValue.New("$in/$nin requires an array")
	}
	return arrayElements(arr), nil
}

// CompileElemMatch compiles an $elemMatch sub-query, satisfying
// pathtree.ElemMatchCompiler: the sub-spec is evaluated either as a
// nested document match (if its keys are field names) or as a single
// field-operator clause (if its keys are operators), matching MongoDB's
// $elemMatch dual mode.
func (c *Compiler) CompileElemMatch(spec bsonval.Document) (func(bsonval.Value) bool, error) {
	it := spec.Iterate()
	first, ok := it.Next()
	if ok && len(first.Name) > 0 && first.Name[0] == '$' {
		pred, err := c.compileFieldClause(spec.AsValue())
		if err != nil {
			return nil, err
		}
		return func(v bsonval.Value) bool { return pred(v) }, nil
	}
	matchDoc, err := c.CompileMatch(spec)
	if err != nil {
		return nil, err
	}
	return func(v bsonval.Value) bool {
		doc, ok := v.Document()
		if !ok {
			return false
		}
		return matchDoc(doc)
	}, nil
}

// matchPath resolves path against root and applies pred, implementing
// MongoDB's implicit array-element match: if the resolved value is an
// array and pred does not match the array itself, pred is retried against
// each element.
func matchPath(root bsonval.Value, path string, pred fieldPredicate) bool {
	v, ok := bsonval.ExtractPath(root, path, bsonval.ExtractOptions{})
	if !ok {
		return pred(bsonval.Value{})
	}
	if pred(v) {
		return true
	}
	if arr, ok := v.Array(); ok {
		for _, e := range arrayElements(arr) {
			if pred(e) {
				return true
			}
		}
	}
	return false
}
