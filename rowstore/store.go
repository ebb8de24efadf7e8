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

// Package rowstore is the Row Store collaborator the core consumes
// (spec.md §6.1): open-collection / scan / point-read / insert / update /
// delete / create-index / drop-index against a physical layout of
// (shard-key-value, object-id, document-bytes). The in-memory reference
// implementation here is grounded on the teacher's memory.Table — a
// mutex-guarded slice of rows with a name and schema — generalized from
// SQL rows to raw BSON documents keyed by (shard-key, object-id) instead
// of a relational primary key.
package rowstore

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
	"github.com/vitrodb/vitrocore/indexam"
)

// Namespace identifies one collection within a database (spec.md §6.1
// `open-collection(database, name)`).
type Namespace struct {
	Database   string
	Collection string
}

// RowLocator addresses one physical row by its primary key
// (shard-key-value, object-id) (spec.md §6.1 "primary key
// (shard-key-value, object-id)").
type RowLocator struct {
	ShardKeyValue interface{}
	ObjectID      interface{}
}

// row is one physical tuple: shard-key-value, object-id, document-bytes.
type row struct {
	shardKeyValue interface{}
	objectID      interface{}
	doc           bsonval.Document
	seq           uint64 // stable column id for bitmap indexing, assigned once at insert
}

// indexEntry records one created index's AM binding.
type indexEntry struct {
	id   string
	spec IndexSpec
	am   *indexam.Entry
}

// IndexSpec describes a requested index (spec.md §6.1 `create-index`).
type IndexSpec struct {
	Name    string
	Path    string
	AMName  string // access method to resolve via the registry; "" picks the default
	Unique  bool
}

// Handle is an open collection (spec.md §6.1 `handle`).
type Handle struct {
	mu     sync.RWMutex
	ns     Namespace
	rows   []*row
	byLoc  map[RowLocator]*row
	indexes map[string]*indexEntry
	nextIdx int

	registry *indexam.Registry
	bitmap   BitmapIndexer
	nextSeq  uint64
}

// BitmapIndexer is the subset of *indexam.BitmapAM a Handle needs; kept as
// an interface so Store can be constructed without a live pilosa holder in
// tests that never create an index.
type BitmapIndexer interface {
	CreateIndex(indexID string) error
	DropIndex(indexID string)
	Set(indexID string, key interface{}, rowColumnID uint64) error
	MatchEqual(indexID string, key interface{}) ([]uint64, error)
}

// Store owns every open Handle for a process (spec.md §6.1 collaborator).
type Store struct {
	mu       sync.Mutex
	handles  map[Namespace]*Handle
	registry *indexam.Registry
	bitmap   BitmapIndexer
	retries  *RetryLedger
}

// NewStore constructs an empty row store backed by registry for index
// access-method resolution and bitmap for the hashed AM's bit storage.
func NewStore(registry *indexam.Registry, bitmap BitmapIndexer) *Store {
	return &Store{
		handles:  make(map[Namespace]*Handle),
		registry: registry,
		bitmap:   bitmap,
		retries:  NewRetryLedger(),
	}
}

// OpenCollection implements `open-collection(database, name) → handle |
// NamespaceNotFound`, creating the collection on first use the way the
// teacher's memory.Database lazily vends tables.
func (s *Store) OpenCollection(database, name string, createIfMissing bool) (*Handle, error) {
	ns := Namespace{Database: database, Collection: name}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[ns]; ok {
		return h, nil
	}
	if !createIfMissing {
		return nil, dberrors.NamespaceNotFound.New(database + "." + name)
	}
	h := &Handle{
		ns:       ns,
		byLoc:    make(map[RowLocator]*row),
		indexes:  make(map[string]*indexEntry),
		registry: s.registry,
		bitmap:   s.bitmap,
	}
	s.handles[ns] = h
	return h, nil
}

// Exists reports whether the namespace has been opened (used by
// pipeline.CollectionResolver implementations for $lookup/$unionWith/
// $graphLookup namespace validation, spec.md §4.4).
func (s *Store) Exists(database, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[Namespace{Database: database, Collection: name}]
	return ok
}

// RetryLedger returns the store's idempotent-write bookkeeping (spec.md
// §7 "Retry-record bookkeeping ensures a retried write is idempotent").
func (s *Store) RetryLedger() *RetryLedger {
	return s.retries
}

// CollectionNames lists every collection opened so far within database,
// backing `list-collections` (spec.md §6.2).
func (s *Store) CollectionNames(database string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for ns := range s.handles {
		if ns.Database == database {
			names = append(names, ns.Collection)
		}
	}
	sort.Strings(names)
	return names
}

// Scan implements `scan(handle, filter, order, projection-columns) → row
// stream`. filter/order/projectionColumns are applied by the caller's
// compiled query plan; Scan itself only exposes the raw row stream in
// primary-key order, matching the teacher's memory.Table partition
// iteration which defers all predicate evaluation to the engine.
func (h *Handle) Scan() *RowIterator {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snapshot := make([]*row, len(h.rows))
	copy(snapshot, h.rows)
	return &RowIterator{rows: snapshot}
}

// MatchEqual implements the index-assisted read path spec.md §4.6
// describes as "consumed ... by the Row Store for scans": it reports the
// rows whose value at path equals key, qualified through the first
// hashed index covering path, or ok=false if no such index exists (the
// caller should then fall back to a full Scan). Results preserve primary-
// key order like Scan.
func (h *Handle) MatchEqual(path string, key bsonval.Value) (it *RowIterator, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.bitmap == nil {
		return nil, false
	}

	var ent *indexEntry
	for _, e := range h.indexes {
		if e.am != nil && e.am.Hashed && e.spec.Path == path {
			ent = e
			break
		}
	}
	if ent == nil {
		return nil, false
	}

	ids, err := h.bitmap.MatchEqual(ent.id, string(key.Raw()))
	if err != nil {
		return nil, false
	}

	wanted := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	matched := make([]*row, 0, len(ids))
	for _, r := range h.rows {
		if !wanted[rowColumnID(r)] {
			continue
		}
		// Postings are only ever added, so re-check the row's current value.
		if v, found := bsonval.ExtractPath(r.doc.AsValue(), path, bsonval.ExtractOptions{}); found && string(v.Raw()) == string(key.Raw()) {
			matched = append(matched, r)
		}
	}
	return &RowIterator{rows: matched}, true
}

// PointRead implements `point-read(handle, shard-key, object-id) → row |
// absent` (spec.md §6.1, and the point-read fast path of spec.md §4.4).
func (h *Handle) PointRead(shardKey, objectID interface{}) (bsonval.Document, bool) {
	loc := RowLocator{ShardKeyValue: shardKey, ObjectID: objectID}
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.byLoc[loc]
	if !ok {
		return bsonval.Document{}, false
	}
	return r.doc, true
}

// Insert implements `insert(handle, shard-key, object-id, bson) → Ok |
// Conflict`.
func (h *Handle) Insert(shardKey, objectID interface{}, doc bsonval.Document) error {
	loc := RowLocator{ShardKeyValue: shardKey, ObjectID: objectID}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.byLoc[loc]; exists {
		return dberrors.BadValue.New("duplicate key at primary key " + formatLocator(loc))
	}
	h.nextSeq++
	r := &row{shardKeyValue: shardKey, objectID: objectID, doc: doc, seq: h.nextSeq}
	h.rows = append(h.rows, r)
	h.byLoc[loc] = r
	h.sortLocked()
	h.indexRowLocked(r)
	return nil
}

// Update implements `update(handle, row-locator, new-bson)`.
func (h *Handle) Update(loc RowLocator, newDoc bsonval.Document) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.byLoc[loc]
	if !ok {
		return dberrors.BadValue.New("no such row at primary key " + formatLocator(loc))
	}
	r.doc = newDoc
	h.indexRowLocked(r)
	return nil
}

// Delete implements `delete(handle, row-locator)`.
func (h *Handle) Delete(loc RowLocator) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.byLoc[loc]; !ok {
		return dberrors.BadValue.New("no such row at primary key " + formatLocator(loc))
	}
	delete(h.byLoc, loc)
	for i, r := range h.rows {
		if r.shardKeyValue == loc.ShardKeyValue && r.objectID == loc.ObjectID {
			h.rows = append(h.rows[:i], h.rows[i+1:]...)
			break
		}
	}
	return nil
}

// CreateIndex implements `create-index(handle, index-spec) → index-id`,
// resolving spec.AMName (or the registry default) and delegating
// bitmap-backed storage to the AM.
func (h *Handle) CreateIndex(spec IndexSpec) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var am *indexam.Entry
	var err error
	if spec.AMName != "" {
		am, err = h.registry.Lookup(spec.AMName)
	} else {
		am = h.registry.Default()
	}
	if err != nil {
		return "", err
	}
	if am == nil {
		return "", dberrors.UnableToFindIndex.New(spec.Path)
	}

	h.nextIdx++
	id := h.ns.Collection + "$" + spec.Name
	if spec.Name == "" {
		id = h.ns.Collection + "$idx" + strconv.Itoa(h.nextIdx)
	}
	if _, exists := h.indexes[id]; exists {
		return "", dberrors.IndexOptionsConflict.New(id)
	}

	if h.bitmap != nil && am.Hashed {
		if err := h.bitmap.CreateIndex(id); err != nil {
			return "", err
		}
	}
	h.indexes[id] = &indexEntry{id: id, spec: spec, am: am}

	for _, r := range h.rows {
		h.indexOneLocked(h.indexes[id], r)
	}
	return id, nil
}

// IndexSpecs lists every index created on this collection, backing
// `list-indexes` (spec.md §6.2).
func (h *Handle) IndexSpecs() []IndexSpec {
	h.mu.RLock()
	defer h.mu.RUnlock()
	specs := make([]IndexSpec, 0, len(h.indexes))
	for _, ent := range h.indexes {
		specs = append(specs, ent.spec)
	}
	return specs
}

// DropIndex implements `drop-index(handle, index-id)`.
func (h *Handle) DropIndex(indexID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ent, ok := h.indexes[indexID]
	if !ok {
		return dberrors.IndexNotFound.New(indexID)
	}
	if h.bitmap != nil && ent.am.Hashed {
		h.bitmap.DropIndex(indexID)
	}
	delete(h.indexes, indexID)
	return nil
}

// indexRowLocked re-indexes r under every created index. Caller must hold
// h.mu.
func (h *Handle) indexRowLocked(r *row) {
	for _, ent := range h.indexes {
		h.indexOneLocked(ent, r)
	}
}

func (h *Handle) indexOneLocked(ent *indexEntry, r *row) {
	if h.bitmap == nil || !ent.am.Hashed {
		return
	}
	key, ok := bsonval.ExtractPath(r.doc.AsValue(), ent.spec.Path, bsonval.ExtractOptions{})
	if !ok {
		return
	}
	h.bitmap.Set(ent.id, string(key.Raw()), rowColumnID(r))
}

// sortLocked keeps h.rows in primary-key order so Scan's snapshot iterates
// deterministically. Caller must hold h.mu.
func (h *Handle) sortLocked() {
	sort.SliceStable(h.rows, func(i, j int) bool {
		return lessLocator(h.rows[i], h.rows[j])
	})
}

func lessLocator(a, b *row) bool {
	as, aok := a.shardKeyValue.(string)
	bs, bok := b.shardKeyValue.(string)
	if aok && bok && as != bs {
		return as < bs
	}
	return rowColumnID(a) < rowColumnID(b)
}

// rowColumnID derives the stable synthetic column id a row was assigned
// at insert time, matching the pilosalib driver's column-per-row
// convention.
func rowColumnID(r *row) uint64 {
	return r.seq
}

func formatLocator(loc RowLocator) string {
	return fmt.Sprintf("%v/%v", loc.ShardKeyValue, loc.ObjectID)
}

// RetryRecord is one idempotency-bookkeeping entry (spec.md §7 "Retry-
// record bookkeeping ensures a retried write is idempotent").
type RetryRecord struct {
	ID     uuid.UUID
	Result error
	Done   bool
}

// RetryLedger deduplicates retried writes keyed by a client-supplied
// retryable-write id.
type RetryLedger struct {
	mu      sync.Mutex
	records map[uuid.UUID]*RetryRecord
}

// NewRetryLedger constructs an empty ledger.
func NewRetryLedger() *RetryLedger {
	return &RetryLedger{records: make(map[uuid.UUID]*RetryRecord)}
}

// Begin starts tracking a retryable write keyed by the caller-supplied id
// R (spec.md §7 "retry-record id R"), registering it if this is the
// first time id has been seen. The id must be supplied by the caller
// (e.g. the Protocol Frontend's transaction/statement id), not generated
// here: a retry only dedupes against the original write if both carry
// the same id.
func (l *RetryLedger) Begin(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[id]; !ok {
		l.records[id] = &RetryRecord{ID: id}
	}
}

// Lookup returns the recorded outcome for id, if the write already ran.
func (l *RetryLedger) Lookup(id uuid.UUID) (*RetryRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok || !r.Done {
		return nil, false
	}
	return r, true
}

// Complete records id's outcome so a retry of the same write short-
// circuits to the same result instead of re-applying it.
func (l *RetryLedger) Complete(id uuid.UUID, result error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.records[id]; ok {
		r.Result = result
		r.Done = true
	}
}

// RowIterator is the cursor.Source-compatible stream a Scan yields.
type RowIterator struct {
	rows []*row
	pos  int
}

// Next implements cursor.Source.
func (it *RowIterator) Next() (bsonval.Document, bool, error) {
	if it.pos >= len(it.rows) {
		return bsonval.Document{}, false, nil
	}
	r := it.rows[it.pos]
	it.pos++
	return r.doc, true, nil
}

// Close implements cursor.Source.
func (it *RowIterator) Close() error {
	it.rows = nil
	return nil
}
