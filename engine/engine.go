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

// Package engine wires the BSON Value Model, Path Tree, Projection
// Engine, Aggregation Pipeline Compiler, Cursor Manager, Index AM
// Registry, and Row Store collaborator into one entry point, the role
// the teacher's top-level Engine plays over its Analyzer/Catalog/
// ProcessList/PreparedDataCache.
package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vitrodb/vitrocore/audit"
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/config"
	"github.com/vitrodb/vitrocore/cursor"
	"github.com/vitrodb/vitrocore/exec"
	"github.com/vitrodb/vitrocore/exprlang"
	"github.com/vitrodb/vitrocore/indexam"
	"github.com/vitrodb/vitrocore/pathtree"
	"github.com/vitrodb/vitrocore/pipeline"
	"github.com/vitrodb/vitrocore/rowstore"
)

// Engine is the core database engine: it owns the row store, the index
// AM registry, the cursor manager, the plan cache, and the compiled
// expression language, and exposes the Protocol Frontend collaborator's
// operation surface (spec.md §6.2).
type Engine struct {
	Config    *config.Config
	Store     *rowstore.Store
	Registry  *indexam.Registry
	Cursors   *audit.Cursors
	Pipelines *audit.Pipelines
	Exec      *exec.Executor
	Expr      *exprlang.Compiler
	PlanCache *PlanCache
	Audit     audit.Method
	Logger    *logrus.Logger

	metaVersion uint64 // bumped on every index/collection DDL, atomic access only

	mu sync.Mutex
}

// New constructs an Engine with its own bitmap index AM registered as the
// default, its own cursor manager, and its own plan cache, mirroring the
// way the teacher's New(a *analyzer.Analyzer, cfg *Config) wires a fresh
// Engine around a caller-provided Analyzer.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger := logrus.New()
	method := audit.NewLog(logger)

	registry := indexam.NewRegistry()
	bitmap, err := indexam.NewBitmapAM(cfg.CursorSpillDir)
	if err != nil {
		return nil, err
	}
	if err := audit.RegisterIndexAM(registry, bitmap.Entry(), true, method); err != nil {
		return nil, err
	}

	store := rowstore.NewStore(registry, bitmap)
	manager := cursor.NewManager(
		cfg.CursorSpillDir,
		cfg.CursorSpillThreshold,
		cfg.DefaultBatchSize,
		cfg.MaxOutputDocumentBytes,
		time.Duration(cfg.CursorTTLSeconds)*time.Second,
	)

	return &Engine{
		Config:    cfg,
		Store:     store,
		Registry:  registry,
		Cursors:   audit.NewCursors(manager, method),
		Pipelines: audit.NewPipelines(method, nil),
		Exec:      exec.New(store),
		Expr:      exprlang.New(),
		PlanCache: NewPlanCache(),
		Audit:     method,
		Logger:    logger,
	}, nil
}

func (e *Engine) version() uint64 {
	return atomic.LoadUint64(&e.metaVersion)
}

// bumpVersion invalidates every cached plan by advancing the metadata
// version; stale cache entries are left in place and simply never match
// again (spec.md §5: index/collection metadata changes invalidate plans).
func (e *Engine) bumpVersion() {
	atomic.AddUint64(&e.metaVersion, 1)
}

func (e *Engine) env(database string) *pipeline.Env {
	return &pipeline.Env{
		Expr:                   e.Expr,
		Resolver:               resolverFunc(func(db, coll string) bool { return e.Store.Exists(db, coll) }),
		MaxNestedPipelineDepth: e.Config.MaxNestedPipelineDepth,
	}
}

type resolverFunc func(database, collection string) bool

func (f resolverFunc) Exists(database, collection string) bool { return f(database, collection) }

// compile compiles stages against target, consulting and populating the
// plan cache keyed by op.
func (e *Engine) compile(op string, target pipeline.CollectionDescriptor, stages []pipeline.Stage) (*pipeline.QueryNode, *pipeline.BuildContext, error) {
	version := e.version()
	key := planKey{Op: op, Database: target.Database, Collection: target.Collection, Stages: fingerprintStages(stages)}
	if node, ctx, ok := e.PlanCache.lookup(key, version); ok {
		return node, ctx, nil
	}
	node, ctx, err := e.Pipelines.Compile(stages, target, e.env(target.Database))
	if err != nil {
		return nil, nil, err
	}
	e.PlanCache.store(key, version, node, ctx)
	return node, ctx, nil
}

// runQuery compiles stages, executes the resulting tree, and opens a
// cursor of kind over the materialized result.
func (e *Engine) runQuery(database, collection string, stages []pipeline.Stage, kind cursor.Kind, batchSize int, vars pathtree.VariableLookup) (cursor.Batch, int64, error) {
	target := pipeline.CollectionDescriptor{Database: database, Collection: collection}
	node, _, err := e.compile("query", target, stages)
	if err != nil {
		return cursor.Batch{}, 0, err
	}

	docs, err := e.Exec.Run(database, node, vars)
	if err != nil {
		return cursor.Batch{}, 0, err
	}

	if batchSize <= 0 {
		batchSize = e.Config.DefaultBatchSize
	}
	now := time.Now()
	src := exec.NewSliceSource(docs)
	namespace := database + "." + collection
	c := e.Cursors.Open(namespace, kind, src, batchSize, now, bsonval.Value{})
	batch, err := e.Cursors.GetMore(c.ID, batchSize)
	if err != nil {
		return cursor.Batch{}, 0, err
	}
	if batch.Exhausted {
		return batch, 0, nil
	}
	return batch, c.ID, nil
}

// FindOptions carries a `find` command's options (spec.md §6.3).
type FindOptions struct {
	Filter     bsonval.Document
	Projection bsonval.Document
	Sort       bsonval.Document
	Skip       int64
	Limit      int64
	BatchSize  int
	Vars       pathtree.VariableLookup
}

// Find implements the `find` operation by lowering filter/sort/skip/
// limit/projection into the equivalent aggregation stages and running
// them through the same compiler/executor path as `aggregate` (spec.md
// §6.2 "find(namespace, filter, options)").
func (e *Engine) Find(database, collection string, opts FindOptions) (cursor.Batch, int64, error) {
	stages := findStages(opts)
	return e.runQuery(database, collection, stages, cursor.KindStreamable, opts.BatchSize, opts.Vars)
}

func findStages(opts FindOptions) []pipeline.Stage {
	var stages []pipeline.Stage
	if opts.Filter != nil {
		stages = append(stages, pipeline.Stage{Name: pipeline.StageMatch, Spec: opts.Filter.AsValue()})
	}
	if opts.Sort != nil {
		stages = append(stages, pipeline.Stage{Name: pipeline.StageSort, Spec: opts.Sort.AsValue()})
	}
	if opts.Skip > 0 {
		stages = append(stages, pipeline.Stage{Name: pipeline.StageSkip, Spec: int64Value(opts.Skip)})
	}
	if opts.Limit > 0 {
		stages = append(stages, pipeline.Stage{Name: pipeline.StageLimit, Spec: int64Value(opts.Limit)})
	}
	if opts.Projection != nil {
		stages = append(stages, pipeline.Stage{Name: pipeline.StageProject, Spec: opts.Projection.AsValue()})
	}
	return stages
}

func int64Value(n int64) bsonval.Value {
	return bsonval.ScalarOf(bsonval.NewDocumentWriter().AppendInt64("v", n))
}

// AggregateOptions carries an `aggregate` command's options (spec.md
// §6.3).
type AggregateOptions struct {
	BatchSize int
	Vars      pathtree.VariableLookup
}

// Aggregate implements the `aggregate` operation: the caller-supplied
// pipeline array is compiled and run as-is.
func (e *Engine) Aggregate(database, collection string, stages []pipeline.Stage, opts AggregateOptions) (cursor.Batch, int64, error) {
	return e.runQuery(database, collection, stages, cursor.KindStreamable, opts.BatchSize, opts.Vars)
}

// Count implements the `count` operation (spec.md §6.2).
func (e *Engine) Count(database, collection string, filter bsonval.Document) (int64, error) {
	target := pipeline.CollectionDescriptor{Database: database, Collection: collection}
	var stages []pipeline.Stage
	if filter != nil {
		stages = append(stages, pipeline.Stage{Name: pipeline.StageMatch, Spec: filter.AsValue()})
	}
	node, _, err := e.compile("count", target, stages)
	if err != nil {
		return 0, err
	}
	docs, err := e.Exec.Run(database, node, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Distinct implements the `distinct` operation: the resolved field value
// of every matching document, de-duplicated (spec.md §6.2).
func (e *Engine) Distinct(database, collection, field string, filter bsonval.Document) ([]bsonval.Value, error) {
	target := pipeline.CollectionDescriptor{Database: database, Collection: collection}
	var stages []pipeline.Stage
	if filter != nil {
		stages = append(stages, pipeline.Stage{Name: pipeline.StageMatch, Spec: filter.AsValue()})
	}
	node, _, err := e.compile("distinct", target, stages)
	if err != nil {
		return nil, err
	}
	docs, err := e.Exec.Run(database, node, nil)
	if err != nil {
		return nil, err
	}

	var out []bsonval.Value
	for _, d := range docs {
		v, ok := bsonval.ExtractPath(d.AsValue(), field, bsonval.ExtractOptions{})
		if !ok {
			continue
		}
		dup := false
		for _, e := range out {
			if bsonval.Equals(e, v, nil) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out, nil
}

// GetMore implements the `get-more` operation (spec.md §6.2).
func (e *Engine) GetMore(cursorID int64, batchSize int) (cursor.Batch, error) {
	return e.Cursors.GetMore(cursorID, batchSize)
}

// KillCursors implements the `kill-cursors` operation (spec.md §6.2).
func (e *Engine) KillCursors(ids []int64) []int64 {
	return e.Cursors.KillCursors(ids)
}

// Insert implements a single-document `insert` (spec.md §6.1 `insert`).
func (e *Engine) Insert(database, collection string, shardKey, objectID interface{}, doc bsonval.Document) error {
	h, err := e.Store.OpenCollection(database, collection, true)
	if err != nil {
		return err
	}
	return h.Insert(shardKey, objectID, doc)
}

// Update implements a single-document `update` by row locator (spec.md
// §6.1 `update`).
func (e *Engine) Update(database, collection string, loc rowstore.RowLocator, newDoc bsonval.Document) error {
	h, err := e.Store.OpenCollection(database, collection, false)
	if err != nil {
		return err
	}
	return h.Update(loc, newDoc)
}

// Delete implements a single-document `delete` by row locator (spec.md
// §6.1 `delete`).
func (e *Engine) Delete(database, collection string, loc rowstore.RowLocator) error {
	h, err := e.Store.OpenCollection(database, collection, false)
	if err != nil {
		return err
	}
	return h.Delete(loc)
}

// CreateIndexes implements `create-indexes`, bumping the plan-cache
// metadata version so every cached plan against this collection is
// invalidated.
func (e *Engine) CreateIndexes(database, collection string, specs []rowstore.IndexSpec) ([]string, error) {
	h, err := e.Store.OpenCollection(database, collection, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id, err := h.CreateIndex(spec)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	e.bumpVersion()
	return ids, nil
}

// DropIndexes implements `drop-indexes`.
func (e *Engine) DropIndexes(database, collection string, indexIDs []string) error {
	h, err := e.Store.OpenCollection(database, collection, false)
	if err != nil {
		return err
	}
	for _, id := range indexIDs {
		if err := h.DropIndex(id); err != nil {
			return err
		}
	}
	e.bumpVersion()
	return nil
}

// ListCollections implements `list-collections`: it reports the
// namespaces known to exist, restricted to names the caller's filter
// field matches by equality (spec.md §6.2).
func (e *Engine) ListCollections(database string, filter bsonval.Document) (cursor.Batch, int64, error) {
	var names []string
	if want, ok := filterName(filter); ok {
		if e.Store.Exists(database, want) {
			names = []string{want}
		}
	} else {
		names = e.Store.CollectionNames(database)
	}

	docs := make([]bsonval.Document, 0, len(names))
	for _, name := range names {
		w := bsonval.NewDocumentWriter()
		w.AppendString("name", name)
		w.AppendString("type", "collection")
		docs = append(docs, w.Build())
	}
	return e.openListCursor(database+".$cmd.listCollections", docs)
}

func filterName(filter bsonval.Document) (string, bool) {
	if filter == nil {
		return "", false
	}
	v, ok := bsonval.ExtractPath(filter.AsValue(), "name", bsonval.ExtractOptions{})
	if !ok {
		return "", false
	}
	return v.StringValue()
}

// ListIndexes implements `list-indexes` (spec.md §6.2).
func (e *Engine) ListIndexes(database, collection string) (cursor.Batch, int64, error) {
	h, err := e.Store.OpenCollection(database, collection, false)
	if err != nil {
		return cursor.Batch{}, 0, err
	}
	docs := make([]bsonval.Document, 0, len(h.IndexSpecs()))
	for _, spec := range h.IndexSpecs() {
		w := bsonval.NewDocumentWriter()
		w.AppendString("name", spec.Name)
		w.AppendString("key", spec.Path)
		w.AppendBool("unique", spec.Unique)
		docs = append(docs, w.Build())
	}
	return e.openListCursor(database+"."+collection+".$cmd.listIndexes", docs)
}

func (e *Engine) openListCursor(namespace string, docs []bsonval.Document) (cursor.Batch, int64, error) {
	src := exec.NewSliceSource(docs)
	c := e.Cursors.Open(namespace, cursor.KindSingleBatch, src, e.Config.DefaultBatchSize, time.Now(), bsonval.Value{})
	batch, err := e.Cursors.GetMore(c.ID, e.Config.DefaultBatchSize)
	if err != nil {
		return cursor.Batch{}, 0, err
	}
	if batch.Exhausted {
		return batch, 0, nil
	}
	return batch, c.ID, nil
}

// Close logs a warning when cursors are still open and returns nil. It
// does not close those cursors or the row store's bitmap index holder.
func (e *Engine) Close() error {
	stats := e.Cursors.Stats()
	if stats.ActiveCursors > 0 {
		e.Logger.WithField("open_cursors", stats.ActiveCursors).Warn("closing engine with cursors still open")
	}
	return nil
}
