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

package client_test

import (
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/client"
	"github.com/vitrodb/vitrocore/config"
	"github.com/vitrodb/vitrocore/dberrors"
	"github.com/vitrodb/vitrocore/engine"
)

func newTestDriver(t *testing.T) *client.Driver {
	t.Helper()
	cfg := config.Default()
	cfg.CursorSpillDir = t.TempDir()
	eng, err := engine.New(cfg)
	require.NoError(t, err)
	return client.New(eng)
}

func docWithField(name string, n int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32(name, n)
	return w.Build()
}

func TestSessionInsertThenFindRoundTrip(t *testing.T) {
	sess := newTestDriver(t).Connect()

	res := sess.Insert("db", "coll", []client.InsertDoc{
		{ShardKey: "s", ObjectID: int32(1), Doc: docWithField("a", 1)},
		{ShardKey: "s", ObjectID: int32(2), Doc: docWithField("a", 2)},
	})
	require.Equal(t, 2, res.N)
	require.Empty(t, res.WriteErrors)

	spec := bsonval.NewDocumentWriter().Build()
	batch, _, err := sess.Find("db", "coll", spec)
	require.NoError(t, err)
	require.Len(t, batch.Docs, 2)
}

func TestSessionAggregateDecodesPipelineArray(t *testing.T) {
	sess := newTestDriver(t).Connect()
	sess.Insert("db", "coll", []client.InsertDoc{
		{ShardKey: "s", ObjectID: int32(1), Doc: docWithField("a", 1)},
	})

	matchStage := bsonval.NewDocumentWriter()
	opDoc := bsonval.NewDocumentWriter()
	opDoc.AppendInt32("a", 1)
	matchStage.AppendDocument("$match", opDoc)

	pipelineArr := bsonval.NewArrayWriter()
	pipelineArr.AppendDocument(matchStage)

	specW := bsonval.NewDocumentWriter()
	specW.AppendArray("pipeline", pipelineArr)

	batch, _, err := sess.Aggregate("db", "coll", specW.Build())
	require.NoError(t, err)
	require.Len(t, batch.Docs, 1)
}

func TestSessionAggregateMissingPipelineErrors(t *testing.T) {
	sess := newTestDriver(t).Connect()
	_, _, err := sess.Aggregate("db", "coll", bsonval.NewDocumentWriter().Build())
	require.Error(t, err)
}

func TestSessionDistinctRequiresKeyField(t *testing.T) {
	sess := newTestDriver(t).Connect()
	_, err := sess.Distinct("db", "coll", bsonval.NewDocumentWriter().Build())
	require.Error(t, err)
}

func TestInsertRetryableDedupesRetriedWrite(t *testing.T) {
	sess := newTestDriver(t).Connect()
	retryID := uuid.NewV4()

	err1 := sess.InsertRetryable("db", "coll", retryID, "s", int32(1), docWithField("a", 1))
	require.NoError(t, err1)

	// Re-issuing the same retry id must not insert the document twice.
	err2 := sess.InsertRetryable("db", "coll", retryID, "s", int32(1), docWithField("a", 1))
	require.NoError(t, err2)

	res := sess.Insert("db", "coll", nil)
	require.Equal(t, 0, res.N)
}

func TestErrorResponseMapsKindToCode(t *testing.T) {
	resp := client.ErrorResponse(dberrors.NamespaceNotFound.New("db.coll"))
	ok, _ := bsonval.ExtractPath(resp.AsValue(), "ok", bsonval.ExtractOptions{})
	okVal, _ := ok.Double()
	require.Equal(t, float64(0), okVal)

	code, _ := bsonval.ExtractPath(resp.AsValue(), "code", bsonval.ExtractOptions{})
	n, _ := code.Int32()
	require.Equal(t, int32(26), n)

	name, _ := bsonval.ExtractPath(resp.AsValue(), "codeName", bsonval.ExtractOptions{})
	s, _ := name.StringValue()
	require.Equal(t, "NamespaceNotFound", s)
}

func TestWriteResponseIncludesPerDocumentErrors(t *testing.T) {
	sess := newTestDriver(t).Connect()
	sess.Insert("db", "coll", []client.InsertDoc{{ShardKey: "s", ObjectID: int32(1), Doc: docWithField("a", 1)}})

	res := sess.Insert("db", "coll", []client.InsertDoc{
		{ShardKey: "s", ObjectID: int32(1), Doc: docWithField("a", 1)}, // duplicate key
	})
	require.Equal(t, 0, res.N)
	require.Len(t, res.WriteErrors, 1)

	resp := client.WriteResponse(res)
	errs, ok := bsonval.ExtractPath(resp.AsValue(), "writeErrors", bsonval.ExtractOptions{})
	require.True(t, ok)
	arr, ok := errs.Array()
	require.True(t, ok)
	count := 0
	it := arr.Iterate()
	for _, ok := it.Next(); ok; _, ok = it.Next() {
		count++
	}
	require.Equal(t, 1, count)
}
