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

package client

import (
	"errors"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/cursor"
	"github.com/vitrodb/vitrocore/dberrors"
)

// Each codeTable entry pairs one dberrors.Kind with its MongoDB-compat numeric code
// and codeName (spec.md §7 "failed commands return a response document
// {ok: 0, errmsg, code, codeName}"). Checked in order, same as the
// teacher's auth package testing membership via Kind.Is(err) rather than
// type-asserting a concrete error type.
// errorKind is the subset of *errors.Kind (gopkg.in/src-d/go-errors.v1)
// the response mapper needs.
type errorKind interface {
	Is(err error) bool
}

var codeTable = []struct {
	kind     errorKind
	code     int
	codeName string
}{
	{dberrors.BadValue, 2, "BadValue"},
	{dberrors.FailedToParse, 9, "FailedToParse"},
	{dberrors.TypeMismatch, 14, "TypeMismatch"},
	{dberrors.PathCollision, 96, "PathCollision"},
	{dberrors.PartialPathCollision, 96, "PathCollision"},
	{dberrors.NamespaceNotFound, 26, "NamespaceNotFound"},
	{dberrors.IndexNotFound, 27, "IndexNotFound"},
	{dberrors.UnableToFindIndex, 268, "UnableToFindIndex"},
	{dberrors.IndexOptionsConflict, 85, "IndexOptionsConflict"},
	{dberrors.NotWritablePrimary, 10107, "NotWritablePrimary"},
	{dberrors.OperationNotSupportedInTransaction, 263, "OperationNotSupportedInTransaction"},
	{dberrors.CommandNotSupported, 115, "CommandNotSupported"},
	{dberrors.CollationMismatch, 9, "FailedToParse"},
	{dberrors.NestedLimit, 96, "BadValue"},
	{dberrors.StageSpecInvalid, 2, "BadValue"},
	{dberrors.StageNotSupported, 115, "CommandNotSupported"},
	{dberrors.DiskFull, 14031, "DiskFull"},
	{dberrors.StaleConfig, 13388, "StaleConfig"},
	{dberrors.CursorNotFound, 43, "CursorNotFound"},
	{dberrors.CursorKilled, 237, "CursorKilled"},
	{dberrors.Cancelled, 11601, "Cancelled"},
	{dberrors.MalformedEncoding, 22, "InvalidBSON"},
	{dberrors.InternalError, 1, "InternalError"},
}

// codeFor walks codeTable in order and returns the first matching code
// and name, or (1, "InternalError") if err matches none of the closed
// taxonomy's kinds -- the core never raises outside dberrors, so this is
// the "a bug in the mapping table" fallback, not an expected path.
func codeFor(err error) (int, string) {
	var ce *commandError
	if errors.As(err, &ce) {
		err = ce.Err
	}
	for _, entry := range codeTable {
		if entry.kind.Is(err) {
			return entry.code, entry.codeName
		}
	}
	return 1, "InternalError"
}

// ErrorResponse builds the `{ok: 0, errmsg, code, codeName}` document
// every failed command returns (spec.md §7 "User-visible behavior").
func ErrorResponse(err error) bsonval.Document {
	code, codeName := codeFor(err)
	w := bsonval.NewDocumentWriter()
	w.AppendDouble("ok", 0)
	w.AppendString("errmsg", err.Error())
	w.AppendInt32("code", int32(code))
	w.AppendString("codeName", codeName)
	return w.Build()
}

// CursorResponse builds the `{ok: 1, cursor: {firstBatch, id, ns}}`
// document a successful find/aggregate/getMore returns (spec.md §6.3,
// §7).
func CursorResponse(namespace string, batch cursor.Batch, cursorID int64, batchFieldName string) bsonval.Document {
	cw := bsonval.NewDocumentWriter()
	arr := bsonval.NewArrayWriter()
	for _, d := range batch.Docs {
		arr.AppendRaw(bsonval.TypeDocument, d)
	}
	cw.AppendArray(batchFieldName, arr)
	cw.AppendInt64("id", cursorID)
	cw.AppendString("ns", namespace)

	w := bsonval.NewDocumentWriter()
	w.AppendDouble("ok", 1)
	w.AppendDocument("cursor", cw)
	return w.Build()
}

// OkResponse builds a bare `{ok: 1}` acknowledgement for commands with no
// payload beyond success (spec.md §6.2 create-indexes/drop-indexes/
// coll-mod, §7 "get-more(cursor-id, batch-size) -> ack"-shaped replies).
func OkResponse() bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendDouble("ok", 1)
	return w.Build()
}

// WriteResponse builds the `{ok: 1, n, writeErrors: [...]}` document a
// batched insert/update/delete returns.
func WriteResponse(res WriteResult) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendDouble("ok", 1)
	w.AppendInt32("n", int32(res.N))
	if len(res.WriteErrors) > 0 {
		arr := bsonval.NewArrayWriter()
		for _, we := range res.WriteErrors {
			ew := bsonval.NewDocumentWriter()
			code, codeName := codeFor(we.Err)
			ew.AppendInt32("index", int32(we.Index))
			ew.AppendInt32("code", int32(code))
			ew.AppendString("codeName", codeName)
			ew.AppendString("errmsg", we.Err.Error())
			arr.AppendDocument(ew)
		}
		w.AppendArray("writeErrors", arr)
	}
	return w.Build()
}
