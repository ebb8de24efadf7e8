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

// Package exprlang implements pipeline.ExprCompiler: it turns the
// aggregation expression language ($field paths, $$variables, operator
// documents, literals) into the pathtree.Expression/predicate closures
// that pathtree and pipeline consume. The teacher kept its SQL expression
// tree as one sql.Expression implementation per operator
// (sql/expression/*.go); this package keeps one compile function per
// operator, registered together in operators.go, but compiles straight to a
// closure instead of building an interpretable tree, since nothing here
// ever needs to re-walk or rewrite the compiled expression afterward.
package exprlang

import (
	"strings"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
	"github.com/vitrodb/vitrocore/pathtree"
)

// Compiler is the concrete pipeline.ExprCompiler / pathtree leaf-builder
// collaborator. It holds no state: every compiled expression is a pure
// closure over the spec it was built from.
type Compiler struct{}

// New constructs an expression compiler.
func New() *Compiler {
	return &Compiler{}
}

// opFunc evaluates an operator's already-compiled arguments against a
// source document and variable scope.
type opFunc func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool)

var operators = map[string]opFunc{}

func registerOp(name string, f opFunc) {
	operators[name] = f
}

// CompileExpression compiles a literal, a "$field.path" reference, a
// "$$variable" reference, an operator document, or a literal
// document/array possibly containing nested expressions (spec.md §4.4,
// §4.3 "operator document ... or literal document/array/scalar").
func (c *Compiler) CompileExpression(spec bsonval.Value) (pathtree.Expression, error) {
	switch spec.Type() {
	case bsonval.TypeString:
		s, _ := spec.StringValue()
		if strings.HasPrefix(s, "$$") {
			name := s[2:]
			return func(source bsonval.Value, vars pathtree.VariableLookup) (bsonval.Value, bool) {
				return resolveSystemOrUserVar(name, source, vars)
			}, nil
		}
		if strings.HasPrefix(s, "$") {
			path := s[1:]
			return func(source bsonval.Value, vars pathtree.VariableLookup) (bsonval.Value, bool) {
				return bsonval.ExtractPath(source, path, bsonval.ExtractOptions{})
			}, nil
		}
		return constant(spec), nil

	case bsonval.TypeDocument:
		doc, _ := spec.Document()
		if op, argSpec, ok := singleOperator(doc); ok {
			return c.compileOperator(op, argSpec)
		}
		return c.compileLiteralDocument(doc)

	case bsonval.TypeArray:
		arr, _ := spec.Array()
		return c.compileLiteralArray(arr)

	default:
		return constant(spec), nil
	}
}

// singleOperator reports whether doc is exactly one field whose name
// starts with "$" (an operator invocation), returning the operator name
// and its argument spec.
func singleOperator(doc bsonval.Document) (string, bsonval.Value, bool) {
	it := doc.Iterate()
	el, ok := it.Next()
	if !ok || !strings.HasPrefix(el.Name, "$") {
		return "", bsonval.Value{}, false
	}
	if _, more := it.Next(); more {
		return "", bsonval.Value{}, false
	}
	return el.Name, el.Value, true
}

func (c *Compiler) compileOperator(name string, argSpec bsonval.Value) (pathtree.Expression, error) {
	if name == "$literal" {
		return constant(argSpec), nil
	}

	fn, ok := operators[name]
	if !ok {
		return nil, dberrors.BadValue.New("unsupported expression operator " + name)
	}

	args, err := c.compileArgList(argSpec)
	if err != nil {
		return nil, err
	}
	return func(source bsonval.Value, vars pathtree.VariableLookup) (bsonval.Value, bool) {
		return fn(source, vars, args)
	}, nil
}

// compileArgList normalizes an operator's argument spec into a slice of
// compiled expressions: an array spec yields one expression per element,
// any other spec yields a single-element slice.
func (c *Compiler) compileArgList(spec bsonval.Value) ([]pathtree.Expression, error) {
	if spec.Type() == bsonval.TypeArray {
		arr, _ := spec.Array()
		var out []pathtree.Expression
		it := arr.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			expr, err := c.CompileExpression(el.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, expr)
		}
		return out, nil
	}
	expr, err := c.CompileExpression(spec)
	if err != nil {
		return nil, err
	}
	return []pathtree.Expression{expr}, nil
}

// compileLiteralDocument compiles a document every one of whose values
// may itself be an expression (spec.md §4.3 "literal document ... with
// nested expressions"), evaluating each field at call time.
func (c *Compiler) compileLiteralDocument(doc bsonval.Document) (pathtree.Expression, error) {
	type field struct {
		name string
		expr pathtree.Expression
	}
	var fields []field
	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		expr, err := c.CompileExpression(el.Value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, field{name: el.Name, expr: expr})
	}
	return func(source bsonval.Value, vars pathtree.VariableLookup) (bsonval.Value, bool) {
		w := bsonval.NewDocumentWriter()
		for _, f := range fields {
			v, ok := f.expr(source, vars)
			if ok {
				w.AppendValue(f.name, v)
			} else {
				w.AppendNull(f.name)
			}
		}
		return w.Build().AsValue(), true
	}, nil
}

// compileLiteralArray compiles an array literal whose elements may be
// expressions.
func (c *Compiler) compileLiteralArray(arr bsonval.Document) (pathtree.Expression, error) {
	var exprs []pathtree.Expression
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		expr, err := c.CompileExpression(el.Value)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	return func(source bsonval.Value, vars pathtree.VariableLookup) (bsonval.Value, bool) {
		w := bsonval.NewArrayWriter()
		for _, e := range exprs {
			v, ok := e(source, vars)
			if ok {
				w.AppendValue(v)
			} else {
				w.AppendValue(nullValue())
			}
		}
		return w.Build().AsValue(), true
	}, nil
}

func constant(v bsonval.Value) pathtree.Expression {
	return func(bsonval.Value, pathtree.VariableLookup) (bsonval.Value, bool) {
		return v, true
	}
}

func nullValue() bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendNull("v"))
}

func boolValue(b bool) bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendBool("v", b))
}

func doubleValue(f float64) bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendDouble("v", f))
}

func intValue(n int64) bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt64("v", n))
}

func stringValue(s string) bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendString("v", s))
}

// resolveSystemOrUserVar resolves a "$$NAME" reference: ROOT/CURRENT
// resolve to the root source document, the rest fall through to the
// variable scope chain threaded in from $let / BuildContext.Vars (spec.md
// §4.3 "Variables").
func resolveSystemOrUserVar(name string, source bsonval.Value, vars pathtree.VariableLookup) (bsonval.Value, bool) {
	switch name {
	case "ROOT", "CURRENT":
		return source, true
	}
	if vars == nil {
		return bsonval.Value{}, false
	}
	return vars(name)
}
