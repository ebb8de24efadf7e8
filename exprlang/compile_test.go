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

package exprlang_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/exprlang"
)

func sourceDoc() bsonval.Value {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("a", 3)
	w.AppendInt32("b", 4)
	w.AppendString("name", "alice")
	return w.Build().AsValue()
}

func TestCompileExpressionFieldPath(t *testing.T) {
	c := exprlang.New()
	expr, err := c.CompileExpression(bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendString("v", "$a")))
	require.NoError(t, err)

	v, ok := expr(sourceDoc(), nil)
	require.True(t, ok)
	n, _ := v.Int32()
	require.Equal(t, int32(3), n)
}

func TestCompileExpressionLiteral(t *testing.T) {
	c := exprlang.New()
	expr, err := c.CompileExpression(bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", 7)))
	require.NoError(t, err)

	v, ok := expr(sourceDoc(), nil)
	require.True(t, ok)
	n, _ := v.Int32()
	require.Equal(t, int32(7), n)
}

func TestCompileExpressionRootVariable(t *testing.T) {
	c := exprlang.New()
	expr, err := c.CompileExpression(bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendString("v", "$$ROOT")))
	require.NoError(t, err)

	src := sourceDoc()
	v, ok := expr(src, nil)
	require.True(t, ok)
	require.Equal(t, src, v)
}

func opSpec(name string, args ...bsonval.Value) bsonval.Value {
	w := bsonval.NewDocumentWriter()
	arr := bsonval.NewArrayWriter()
	for _, a := range args {
		arr.AppendValue(a)
	}
	w.AppendArray(name, arr)
	return w.Build().AsValue()
}

func literalString(s string) bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendString("v", s))
}

func literalInt(n int32) bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", n))
}

func TestCompileAddOperator(t *testing.T) {
	c := exprlang.New()
	expr, err := c.CompileExpression(opSpec("$add", literalInt(2), literalInt(3)))
	require.NoError(t, err)

	v, ok := expr(sourceDoc(), nil)
	require.True(t, ok)
	f, _ := v.AsFloat64()
	require.Equal(t, float64(5), f)
}

func TestCompileEqOperator(t *testing.T) {
	c := exprlang.New()
	expr, err := c.CompileExpression(opSpec("$eq", literalInt(1), literalInt(1)))
	require.NoError(t, err)

	v, ok := expr(sourceDoc(), nil)
	require.True(t, ok)
	b, _ := v.Bool()
	require.True(t, b)
}

func TestCompileCondOperator(t *testing.T) {
	c := exprlang.New()
	expr, err := c.CompileExpression(opSpec("$cond",
		opSpec("$gt", literalInt(2), literalInt(1)),
		literalString("yes"),
		literalString("no"),
	))
	require.NoError(t, err)

	v, ok := expr(sourceDoc(), nil)
	require.True(t, ok)
	s, _ := v.StringValue()
	require.Equal(t, "yes", s)
}

func TestCompileConcatOperator(t *testing.T) {
	c := exprlang.New()
	expr, err := c.CompileExpression(opSpec("$concat", literalString("a"), literalString("b")))
	require.NoError(t, err)

	v, ok := expr(sourceDoc(), nil)
	require.True(t, ok)
	s, _ := v.StringValue()
	require.Equal(t, "ab", s)
}

func TestCompileUnsupportedOperatorErrors(t *testing.T) {
	c := exprlang.New()
	_, err := c.CompileExpression(opSpec("$noSuchOp", literalInt(1)))
	require.Error(t, err)
}

func TestCompileLiteralDocumentWithNestedExpression(t *testing.T) {
	c := exprlang.New()
	inner := bsonval.NewDocumentWriter()
	inner.AppendString("field", "$name")
	spec := inner.Build().AsValue()

	expr, err := c.CompileExpression(spec)
	require.NoError(t, err)

	v, ok := expr(sourceDoc(), nil)
	require.True(t, ok)
	s, ok := bsonval.ExtractPath(v, "field", bsonval.ExtractOptions{})
	require.True(t, ok)
	str, _ := s.StringValue()
	require.Equal(t, "alice", str)
}

func docWithField(name string, n int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32(name, n)
	return w.Build()
}

func TestCompileMatchImplicitEquality(t *testing.T) {
	c := exprlang.New()
	pred, err := c.CompileMatch(docWithField("a", 3))
	require.NoError(t, err)

	require.True(t, pred(docWithField("a", 3)))
	require.False(t, pred(docWithField("a", 4)))
}

func TestCompileMatchOperatorClause(t *testing.T) {
	c := exprlang.New()
	spec := bsonval.NewDocumentWriter()
	opDoc := bsonval.NewDocumentWriter()
	opDoc.AppendInt32("$gt", 10)
	spec.AppendDocument("score", opDoc)
	pred, err := c.CompileMatch(spec.Build())
	require.NoError(t, err)

	require.True(t, pred(docWithField("score", 20)))
	require.False(t, pred(docWithField("score", 5)))
}

func TestCompileMatchAndOr(t *testing.T) {
	c := exprlang.New()
	gt10 := bsonval.NewDocumentWriter()
	gt10Op := bsonval.NewDocumentWriter()
	gt10Op.AppendInt32("$gt", 10)
	gt10.AppendDocument("a", gt10Op)

	lt5 := bsonval.NewDocumentWriter()
	lt5Op := bsonval.NewDocumentWriter()
	lt5Op.AppendInt32("$lt", 5)
	lt5.AppendDocument("a", lt5Op)

	orArr := bsonval.NewArrayWriter()
	orArr.AppendDocument(gt10)
	orArr.AppendDocument(lt5)

	spec := bsonval.NewDocumentWriter()
	spec.AppendArray("$or", orArr)
	pred, err := c.CompileMatch(spec.Build())
	require.NoError(t, err)

	require.True(t, pred(docWithField("a", 20)))
	require.True(t, pred(docWithField("a", 1)))
	require.False(t, pred(docWithField("a", 7)))
}

func TestCompileMatchArrayImplicitElementMatch(t *testing.T) {
	c := exprlang.New()
	spec := bsonval.NewDocumentWriter()
	spec.AppendInt32("tags", 5)
	pred, err := c.CompileMatch(spec.Build())
	require.NoError(t, err)

	arrDoc := bsonval.NewDocumentWriter()
	arr := bsonval.NewArrayWriter()
	arr.AppendValue(literalInt(1))
	arr.AppendValue(literalInt(5))
	arrDoc.AppendArray("tags", arr)

	require.True(t, pred(arrDoc.Build()))
}

func TestCompileElemMatchOperatorForm(t *testing.T) {
	c := exprlang.New()
	sub := bsonval.NewDocumentWriter()
	sub.AppendInt32("$gte", 90)
	pred, err := c.CompileElemMatch(sub.Build())
	require.NoError(t, err)

	require.True(t, pred(literalInt(95)))
	require.False(t, pred(literalInt(80)))
}
