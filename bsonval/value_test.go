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

package bsonval_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
)

func buildDoc() bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("_id", 1)
	w.AppendString("name", "alice")
	w.AppendBool("active", true)
	sub := bsonval.NewDocumentWriter()
	sub.AppendInt32("b", 2)
	sub.AppendInt32("c", 3)
	w.AppendDocument("a", sub)
	return w.Build()
}

func TestDecodeRoundTrip(t *testing.T) {
	doc := buildDoc()
	decoded, err := bsonval.Decode(doc)
	require.NoError(t, err)
	require.Equal(t, doc, decoded)
}

func TestDecodeMalformedLength(t *testing.T) {
	doc := buildDoc()
	truncated := doc[:len(doc)-2]
	_, err := bsonval.Decode(truncated)
	require.Error(t, err)
}

func TestIterateYieldsFieldsInOrder(t *testing.T) {
	doc := buildDoc()
	it := doc.Iterate()
	var names []string
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		names = append(names, el.Name)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"_id", "name", "active", "a"}, names)
}

func TestExtractPathNested(t *testing.T) {
	doc := buildDoc()
	v, ok := bsonval.ExtractPath(doc.AsValue(), "a.b", bsonval.ExtractOptions{})
	require.True(t, ok)
	n, ok := v.Int32()
	require.True(t, ok)
	require.Equal(t, int32(2), n)
}

func TestExtractPathMissingSegmentAbsent(t *testing.T) {
	doc := buildDoc()
	_, ok := bsonval.ExtractPath(doc.AsValue(), "a.z", bsonval.ExtractOptions{})
	require.False(t, ok)
}

func TestExtractPathArrayMapStyle(t *testing.T) {
	w := bsonval.NewDocumentWriter()
	arr := bsonval.NewArrayWriter()
	for _, g := range []int32{85, 90} {
		d := bsonval.NewDocumentWriter()
		d.AppendInt32("g", g)
		arr.AppendDocument(d)
	}
	w.AppendArray("grades", arr)
	doc := w.Build()

	v, ok := bsonval.ExtractPath(doc.AsValue(), "grades.g", bsonval.ExtractOptions{})
	require.True(t, ok)
	out, ok := v.Array()
	require.True(t, ok)
	var got []int32
	it := out.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		n, _ := el.Value.Int32()
		got = append(got, n)
	}
	require.Equal(t, []int32{85, 90}, got)
}

func TestCompareTypeOrder(t *testing.T) {
	null := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendNull("v"))
	num := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", 1))
	str := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendString("v", "x"))

	require.Equal(t, bsonval.Less, bsonval.Compare(null, num, nil))
	require.Equal(t, bsonval.Less, bsonval.Compare(num, str, nil))
	require.Equal(t, bsonval.Greater, bsonval.Compare(str, num, nil))
}

func TestCompareNumericCrossType(t *testing.T) {
	i32 := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", 5))
	i64 := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt64("v", 5))
	dbl := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendDouble("v", 5.0))

	require.Equal(t, bsonval.Equal, bsonval.Compare(i32, i64, nil))
	require.Equal(t, bsonval.Equal, bsonval.Compare(i64, dbl, nil))
}

func TestCompareNaN(t *testing.T) {
	nan := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendDouble("v", math.NaN()))
	one := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendDouble("v", 1))
	other := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendDouble("v", math.NaN()))

	require.Equal(t, bsonval.Less, bsonval.Compare(nan, one, nil))
	require.Equal(t, bsonval.Equal, bsonval.Compare(nan, other, nil))
}

func TestCompareIsAntisymmetric(t *testing.T) {
	a := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", 1))
	b := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", 2))
	require.Equal(t, -bsonval.Compare(a, b, nil), bsonval.Compare(b, a, nil))
}

func TestHashAgreesWithCompareEqual(t *testing.T) {
	a := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt32("v", 7))
	b := bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt64("v", 7))
	require.True(t, bsonval.Equals(a, b, nil))
	require.Equal(t, bsonval.Hash(a), bsonval.Hash(b))
}
