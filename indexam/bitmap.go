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

package indexam

import (
	"sync"

	"github.com/pilosa/pilosa"
	"github.com/pkg/errors"

	"github.com/vitrodb/vitrocore/dberrors"
)

// BitmapAM is the default hashed/bitmap index access method, backed by an
// embedded pilosa holder the way sql/index/pilosalib embeds one per
// index driver rather than talking to a separate pilosa server process
// (spec.md §9; this keeps the AM in-process, matching the Row Store
// collaborator's own embedding model).
type BitmapAM struct {
	mu     sync.Mutex
	holder *pilosa.Holder
	fields map[string]*pilosa.Field // indexID -> bitmap field
	rowSeq map[string]uint64        // indexID -> next unused row id (one row per distinct key value)
	values map[string]map[uint64]interface{}
}

// NewBitmapAM constructs the bitmap AM with its own pilosa holder rooted
// at dir.
func NewBitmapAM(dir string) (*BitmapAM, error) {
	h := pilosa.NewHolder()
	h.Path = dir
	if err := h.Open(); err != nil {
		return nil, dberrors.InternalError.New(errors.Wrap(err, "opening pilosa holder").Error())
	}
	return &BitmapAM{
		holder: h,
		fields: make(map[string]*pilosa.Field),
		rowSeq: make(map[string]uint64),
		values: make(map[string]map[uint64]interface{}),
	}, nil
}

// Entry returns this AM's registry entry (spec.md §3.6).
func (b *BitmapAM) Entry() *Entry {
	return &Entry{
		Name:          "bitmap",
		ID:            "pilosa_bitmap",
		SinglePath:    true,
		Composite:     false,
		Hashed:        true,
		Wildcard:      false,
		Unique:        false,
		OrderBy:       false,
		BackwardsScan: false,
		IndexOnlyScan: false,
		ParallelScan:  true,
		ResolveOpFamily: func(class OpFamily) (string, bool) {
			if class == OpFamilyHashed || class == OpFamilySinglePath {
				return "pilosa_bitmap_ops", true
			}
			return "", false
		},
	}
}

// CreateIndex allocates a pilosa index+field pair for a new hashed index
// on indexID (spec.md §6.1 `create-index`).
func (b *BitmapAM) CreateIndex(indexID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx, err := b.holder.CreateIndexIfNotExists(indexID, pilosa.IndexOptions{})
	if err != nil {
		return dberrors.InternalError.New(errors.Wrap(err, "creating pilosa index").Error())
	}
	f, err := idx.CreateFieldIfNotExists("keys", pilosa.OptFieldTypeDefault())
	if err != nil {
		return dberrors.InternalError.New(errors.Wrap(err, "creating pilosa field").Error())
	}
	b.fields[indexID] = f
	b.values[indexID] = make(map[uint64]interface{})
	return nil
}

// DropIndex removes indexID's bookkeeping (spec.md §6.1 `drop-index`).
func (b *BitmapAM) DropIndex(indexID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fields, indexID)
	delete(b.values, indexID)
	delete(b.rowSeq, indexID)
}

// Set records that rowColumnID (a row store column id) carries key,
// setting the corresponding bit in the row pilosa assigns to key.
func (b *BitmapAM) Set(indexID string, key interface{}, rowColumnID uint64) error {
	b.mu.Lock()
	f, ok := b.fields[indexID]
	if !ok {
		b.mu.Unlock()
		return dberrors.IndexNotFound.New(indexID)
	}
	rowID := b.rowForKey(indexID, key)
	b.mu.Unlock()

	_, err := f.SetBit(rowID, rowColumnID, nil)
	if err != nil {
		return dberrors.InternalError.New(errors.Wrap(err, "pilosa SetBit").Error())
	}
	return nil
}

// rowForKey assigns (and caches) a stable row id per distinct key value,
// since pilosa bitmaps are keyed by integer row ids, not arbitrary BSON
// values. Caller must hold b.mu.
func (b *BitmapAM) rowForKey(indexID string, key interface{}) uint64 {
	for rowID, v := range b.values[indexID] {
		if v == key {
			return rowID
		}
	}
	next := b.rowSeq[indexID]
	b.rowSeq[indexID] = next + 1
	b.values[indexID][next] = key
	return next
}

// MatchEqual returns the set of row-store column ids whose indexed value
// equals key (spec.md §4.6 `equal` strategy).
func (b *BitmapAM) MatchEqual(indexID string, key interface{}) ([]uint64, error) {
	b.mu.Lock()
	f, ok := b.fields[indexID]
	rowID, known := b.findRow(indexID, key)
	b.mu.Unlock()
	if !ok {
		return nil, dberrors.IndexNotFound.New(indexID)
	}
	if !known {
		return nil, nil
	}

	row, err := f.Row(rowID)
	if err != nil {
		return nil, dberrors.InternalError.New(errors.Wrap(err, "pilosa Row").Error())
	}
	return row.Columns(), nil
}

func (b *BitmapAM) findRow(indexID string, key interface{}) (uint64, bool) {
	for rowID, v := range b.values[indexID] {
		if v == key {
			return rowID, true
		}
	}
	return 0, false
}

// Close releases the pilosa holder's resources.
func (b *BitmapAM) Close() error {
	return b.holder.Close()
}
