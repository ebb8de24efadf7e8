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

package cursor

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"

	"github.com/vitrodb/vitrocore/dberrors"
)

var spillBucket = []byte("rows")

// spillState is a Persistent cursor's on-disk overflow file (spec.md
// §4.5 "Disk spill"): once in-memory buffered rows exceed
// config.Config.CursorSpillThreshold, the remaining output is appended
// here keyed by a generated cursor name, then memory-mapped and consumed
// on getMore.
type spillState struct {
	db       *bolt.DB
	path     string
	writeSeq uint64
	readSeq  uint64
}

// openSpill creates a new spill file for cursorName under dir.
func openSpill(dir, cursorName string) (*spillState, error) {
	path := filepath.Join(dir, "cursor-"+cursorName+".db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, dberrors.DiskFull.New(errors.Wrap(err, "opening bolt spill file").Error())
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(spillBucket)
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, dberrors.DiskFull.New(errors.Wrap(err, "creating spill bucket").Error())
	}
	return &spillState{db: db, path: path}, nil
}

// append writes one row to the tail of the spill file.
func (s *spillState) append(raw []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(spillBucket)
		s.writeSeq++
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, s.writeSeq)
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return b.Put(key, cp)
	})
}

// readNext returns the next spilled row in sequence order, or ok=false
// once every spilled row has been consumed.
func (s *spillState) readNext() (raw []byte, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(spillBucket)
		s.readSeq++
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, s.readSeq)
		v := b.Get(key)
		if v == nil {
			s.readSeq--
			return nil
		}
		raw = make([]byte, len(v))
		copy(raw, v)
		ok = true
		return nil
	})
	return raw, ok, err
}

// drained reports whether every appended row has already been read back.
func (s *spillState) drained() bool {
	return s.readSeq >= s.writeSeq
}

// close releases the bolt handle without deleting the backing file
// (normal completion keeps the file until the cursor itself closes).
func (s *spillState) close() error {
	return s.db.Close()
}

// unlink closes and deletes the spill file (spec.md §4.5 "Files are
// deleted on close"; §5 "on cancel ... opened cursor files are
// unlinked").
func (s *spillState) unlink() error {
	s.db.Close()
	return os.Remove(s.path)
}
