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
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/pathtree"
)

// ExprCompiler compiles the aggregation expression language ($cond, $sum,
// $dateAdd, field-path references, ...) into the opaque callback shapes
// pathtree and pipeline consume. Kept as an injected collaborator, the
// same way pathtree.FindProjectionLeafBuilder takes an exprCompiler
// callback, so this package has no hard dependency on any one expression
// implementation.
type ExprCompiler interface {
	// CompileExpression compiles a single aggregation expression (a
	// literal, a $field path, or an operator document) into a reusable
	// evaluator.
	CompileExpression(spec bsonval.Value) (pathtree.Expression, error)

	// CompileMatch compiles a $match-style query document into a
	// predicate over an encoded row.
	CompileMatch(spec bsonval.Document) (func(bsonval.Document) bool, error)

	// CompileElemMatch compiles an $elemMatch sub-query, satisfying
	// pathtree.ElemMatchCompiler.
	CompileElemMatch(spec bsonval.Document) (func(bsonval.Value) bool, error)
}

// projectionLeafBuilder adapts an ExprCompiler into a pathtree.LeafBuilder
// suitable for $project/$addFields/$set (spec.md §4.2, §4.4).
func projectionLeafBuilder(ec ExprCompiler) pathtree.LeafBuilder {
	return pathtree.FindProjectionLeafBuilder(ec.CompileExpression, ec.CompileElemMatch)
}

// extractSingleFieldSpec reads the sole top-level (name, value) pair out
// of a one-field BSON document, as used by $sortByCount, $count, $unwind
// (string form), and $replaceWith.
func extractSingleFieldSpec(doc bsonval.Document) (string, bsonval.Value, bool) {
	it := doc.Iterate()
	el, ok := it.Next()
	if !ok {
		return "", bsonval.Value{}, false
	}
	return el.Name, el.Value, true
}
