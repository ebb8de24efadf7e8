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

// Command decoding translates the BSON command shapes of spec.md §6.3
// into the Go-level options the engine package already exposes. Every
// decoder is tolerant of absent optional fields and strict about the
// type of a field that is present, matching the teacher's
// AnalyzeQuery-before-Prepare validation split: bad shape fails fast,
// before any engine state is touched.
package client

import (
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/cursor"
	"github.com/vitrodb/vitrocore/dberrors"
	"github.com/vitrodb/vitrocore/engine"
	"github.com/vitrodb/vitrocore/pipeline"
	"github.com/vitrodb/vitrocore/rowstore"
)

func fieldDoc(cmd bsonval.Document, name string) (bsonval.Document, bool) {
	v, ok := bsonval.ExtractPath(cmd.AsValue(), name, bsonval.ExtractOptions{})
	if !ok {
		return nil, false
	}
	return v.Document()
}

func fieldArray(cmd bsonval.Document, name string) (bsonval.Document, bool) {
	v, ok := bsonval.ExtractPath(cmd.AsValue(), name, bsonval.ExtractOptions{})
	if !ok {
		return nil, false
	}
	return v.Array()
}

func fieldString(cmd bsonval.Document, name string) (string, bool) {
	v, ok := bsonval.ExtractPath(cmd.AsValue(), name, bsonval.ExtractOptions{})
	if !ok {
		return "", false
	}
	return v.StringValue()
}

func fieldInt(cmd bsonval.Document, name string) (int64, bool) {
	v, ok := bsonval.ExtractPath(cmd.AsValue(), name, bsonval.ExtractOptions{})
	if !ok {
		return 0, false
	}
	if n, ok := v.Int64(); ok {
		return n, true
	}
	if n, ok := v.Int32(); ok {
		return int64(n), true
	}
	if f, ok := v.Double(); ok {
		return int64(f), true
	}
	return 0, false
}

// decodeStages turns a `pipeline` array (spec.md §3.3: a stage is
// `{name, spec}`) into the []pipeline.Stage the compiler consumes. Each
// array element must be a document with exactly one top-level field,
// whose name is the stage name.
func decodeStages(arr bsonval.Document) ([]pipeline.Stage, error) {
	var stages []pipeline.Stage
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		stageDoc, isDoc := el.Value.Document()
		if !isDoc {
			return nil, dberrors.FailedToParse.New("pipeline element must be a document")
		}
		sit := stageDoc.Iterate()
		first, has := sit.Next()
		if !has {
			return nil, dberrors.FailedToParse.New("pipeline stage must have exactly one field")
		}
		if _, extra := sit.Next(); extra {
			return nil, dberrors.FailedToParse.New("pipeline stage must have exactly one field")
		}
		stages = append(stages, pipeline.Stage{Name: pipeline.Name(first.Name), Spec: first.Value})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return stages, nil
}

// Find decodes and runs a `find` command spec (spec.md §6.3) against
// database.collection, returning the first page of results and a
// (possibly zero, meaning exhausted) cursor id.
func (s *Session) Find(database, collection string, spec bsonval.Document) (cursor.Batch, int64, error) {
	reqID := s.nextRequestID()

	opts := engine.FindOptions{}
	if filter, ok := fieldDoc(spec, "filter"); ok {
		opts.Filter = filter
	}
	if proj, ok := fieldDoc(spec, "projection"); ok {
		opts.Projection = proj
	}
	if sort, ok := fieldDoc(spec, "sort"); ok {
		opts.Sort = sort
	}
	if skip, ok := fieldInt(spec, "skip"); ok {
		opts.Skip = skip
	}
	if limit, ok := fieldInt(spec, "limit"); ok {
		opts.Limit = limit
	}
	if batchSize, ok := fieldInt(spec, "batchSize"); ok {
		opts.BatchSize = int(batchSize)
	}

	batch, id, err := s.eng.Find(database, collection, opts)
	return batch, id, wrapErr(reqID, err)
}

// Aggregate decodes and runs an `aggregate` command spec (spec.md §6.3).
func (s *Session) Aggregate(database, collection string, spec bsonval.Document) (cursor.Batch, int64, error) {
	reqID := s.nextRequestID()

	pipelineArr, ok := fieldArray(spec, "pipeline")
	if !ok {
		return cursor.Batch{}, 0, wrapErr(reqID, dberrors.FailedToParse.New("aggregate requires a 'pipeline' array"))
	}
	stages, err := decodeStages(pipelineArr)
	if err != nil {
		return cursor.Batch{}, 0, wrapErr(reqID, err)
	}

	opts := engine.AggregateOptions{}
	if cursorDoc, ok := fieldDoc(spec, "cursor"); ok {
		if bs, ok := fieldInt(cursorDoc, "batchSize"); ok {
			opts.BatchSize = int(bs)
		}
	}

	batch, id, err := s.eng.Aggregate(database, collection, stages, opts)
	return batch, id, wrapErr(reqID, err)
}

// Count implements the `count` command (spec.md §6.2).
func (s *Session) Count(database, collection string, spec bsonval.Document) (int64, error) {
	reqID := s.nextRequestID()
	filter, _ := fieldDoc(spec, "query")
	n, err := s.eng.Count(database, collection, filter)
	return n, wrapErr(reqID, err)
}

// Distinct implements the `distinct` command (spec.md §6.2).
func (s *Session) Distinct(database, collection string, spec bsonval.Document) ([]bsonval.Value, error) {
	reqID := s.nextRequestID()
	field, ok := fieldString(spec, "key")
	if !ok {
		return nil, wrapErr(reqID, badValue("distinct requires a 'key' string"))
	}
	filter, _ := fieldDoc(spec, "query")
	vals, err := s.eng.Distinct(database, collection, field, filter)
	return vals, wrapErr(reqID, err)
}

// GetMore implements the `get-more` command (spec.md §6.2).
func (s *Session) GetMore(cursorID int64, batchSize int) (cursor.Batch, error) {
	reqID := s.nextRequestID()
	batch, err := s.eng.GetMore(cursorID, batchSize)
	return batch, wrapErr(reqID, err)
}

// KillCursors implements the `kill-cursors` command (spec.md §6.2).
func (s *Session) KillCursors(ids []int64) []int64 {
	s.nextRequestID()
	return s.eng.KillCursors(ids)
}

// ListCollections implements `list-collections` (spec.md §6.2).
func (s *Session) ListCollections(database string, spec bsonval.Document) (cursor.Batch, int64, error) {
	reqID := s.nextRequestID()
	filter, _ := fieldDoc(spec, "filter")
	batch, id, err := s.eng.ListCollections(database, filter)
	return batch, id, wrapErr(reqID, err)
}

// ListIndexes implements `list-indexes` (spec.md §6.2).
func (s *Session) ListIndexes(database, collection string) (cursor.Batch, int64, error) {
	reqID := s.nextRequestID()
	batch, id, err := s.eng.ListIndexes(database, collection)
	return batch, id, wrapErr(reqID, err)
}

// WriteResult summarizes a batch write the way a MongoDB command reply
// would (n inserted/matched, plus any per-document write errors), per
// spec.md §7 "successful partial batches may include ... even when a
// later getMore will fail" applied to batched writes instead of cursors.
type WriteResult struct {
	N           int
	WriteErrors []IndexedError
}

// IndexedError pairs a batch-write error with the index of the offending
// document, the shape Mongo's bulk-write replies use.
type IndexedError struct {
	Index int
	Err   error
}

// InsertDoc is one document of an `insert` command's batch, keyed by its
// physical row address (spec.md §6.1 primary key `(shard-key-value,
// object-id)`).
type InsertDoc struct {
	ShardKey interface{}
	ObjectID interface{}
	Doc      bsonval.Document
}

// Insert implements a batched `insert` command (spec.md §6.2 "insert ...
// (batch)"), one row store Insert call per document, collecting
// per-document errors instead of aborting the whole batch on the first
// failure (MongoDB's default ordered=false semantics collapsed to
// "always continue", since the core has no ordered/unordered knob of its
// own -- that belongs to the Protocol Frontend).
func (s *Session) Insert(database, collection string, docs []InsertDoc) WriteResult {
	s.nextRequestID()
	var res WriteResult
	for i, d := range docs {
		if err := s.eng.Insert(database, collection, d.ShardKey, d.ObjectID, d.Doc); err != nil {
			res.WriteErrors = append(res.WriteErrors, IndexedError{Index: i, Err: err})
			continue
		}
		res.N++
	}
	return res
}

// UpdateOp is one document of an `update` command's batch.
type UpdateOp struct {
	Locator rowstore.RowLocator
	NewDoc  bsonval.Document
}

// Update implements a batched `update` command (spec.md §6.2).
func (s *Session) Update(database, collection string, ops []UpdateOp) WriteResult {
	s.nextRequestID()
	var res WriteResult
	for i, op := range ops {
		if err := s.eng.Update(database, collection, op.Locator, op.NewDoc); err != nil {
			res.WriteErrors = append(res.WriteErrors, IndexedError{Index: i, Err: err})
			continue
		}
		res.N++
	}
	return res
}

// Delete implements a batched `delete` command (spec.md §6.2).
func (s *Session) Delete(database, collection string, locators []rowstore.RowLocator) WriteResult {
	s.nextRequestID()
	var res WriteResult
	for i, loc := range locators {
		if err := s.eng.Delete(database, collection, loc); err != nil {
			res.WriteErrors = append(res.WriteErrors, IndexedError{Index: i, Err: err})
			continue
		}
		res.N++
	}
	return res
}

// CreateIndexes implements `create-indexes` (spec.md §6.2).
func (s *Session) CreateIndexes(database, collection string, specs []rowstore.IndexSpec) ([]string, error) {
	reqID := s.nextRequestID()
	ids, err := s.eng.CreateIndexes(database, collection, specs)
	return ids, wrapErr(reqID, err)
}

// DropIndexes implements `drop-indexes` (spec.md §6.2).
func (s *Session) DropIndexes(database, collection string, indexIDs []string) error {
	reqID := s.nextRequestID()
	return wrapErr(reqID, s.eng.DropIndexes(database, collection, indexIDs))
}
