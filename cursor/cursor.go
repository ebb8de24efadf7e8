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

// Package cursor manages server-side cursor state across multiple client
// round-trips (spec.md §4.5). Cursor ids are allocated the way the
// teacher's ProcessList hands out per-session connection ids: a
// mutex-guarded map plus a monotonic counter, not a lock-free structure,
// since cursor churn is nowhere near the contention a connection pool
// sees (spec.md §9).
package cursor

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
)

// Kind is one of the five cursor kinds (spec.md §3.5).
type Kind int

const (
	KindStreamable Kind = iota
	KindSingleBatch
	KindPointRead
	KindTailable
	KindPersistent
)

func (k Kind) String() string {
	switch k {
	case KindStreamable:
		return "Streamable"
	case KindSingleBatch:
		return "SingleBatch"
	case KindPointRead:
		return "PointRead"
	case KindTailable:
		return "Tailable"
	case KindPersistent:
		return "Persistent"
	default:
		return "Unknown"
	}
}

// Source produces the rows a cursor streams. Implementations are
// supplied by the row store / pipeline-execution side; this package only
// orchestrates batching, spill, and lifecycle.
type Source interface {
	// Next returns the next row, or ok=false at end of stream.
	Next() (bsonval.Document, bool, error)
	// Close releases any resources the source holds.
	Close() error
}

// TimeSnapshot freezes $$NOW/$$CLUSTER_TIME at first invocation for the
// life of a cursor (spec.md §4.5, §3.5).
type TimeSnapshot struct {
	Now         time.Time
	ClusterTime bsonval.Value
}

// Cursor is one server-side cursor (spec.md §3.5).
type Cursor struct {
	ID        int64
	Namespace string
	Kind      Kind
	BatchSize int
	Time      TimeSnapshot

	mu         sync.Mutex
	source     Source
	exhausted  bool
	cancelled  atomic.Bool
	lastAccess time.Time

	spill          *spillState // Persistent only, nil until spill begins
	spillDir       string      // set from Manager.SpillDir at Open
	spillThreshold int         // set from Manager.SpillThreshold at Open
	sourceDone     bool        // source exhausted, independent of spill drain
	totalProduced  int         // cumulative rows pulled from source, this cursor's lifetime
}

// idAllocator hands out 64-bit cursor ids (spec.md §4.5: "64-bit; the top
// bit reserved for file-backed cursors; remaining bits monotonic
// per-process with a per-process prefix to avoid collisions").
type idAllocator struct {
	prefix  int64
	counter int64
}

// newIDAllocator derives a per-process prefix from a random UUID so two
// processes' cursor ids never collide even without central coordination.
func newIDAllocator() *idAllocator {
	id := uuid.NewV4()
	prefix := int64(id[0])<<48 | int64(id[1])<<40 | int64(id[2])<<32 | int64(id[3])<<24
	return &idAllocator{prefix: prefix & 0x7FFFFFFFFFFFFFFF}
}

// next allocates the next id; fileBacked sets the reserved top bit.
func (a *idAllocator) next(fileBacked bool) int64 {
	n := atomic.AddInt64(&a.counter, 1)
	id := a.prefix ^ n
	id &= 0x7FFFFFFFFFFFFFFF // keep sign bit clear regardless of prefix noise
	if fileBacked {
		id = int64(uint64(id) | 1<<63)
	}
	return id
}

// Batch is one page of results plus whether more remain.
type Batch struct {
	Docs      []bsonval.Document
	Exhausted bool
}

// cursorSpillName derives the on-disk file name openSpill keys a
// Persistent cursor's overflow file by (spec.md §4.5 "a cursor file keyed
// by a generated cursor name").
func cursorSpillName(id int64) string {
	return strconv.FormatUint(uint64(id), 16)
}

// ensureSpillLocked lazily opens the on-disk overflow file for a
// Persistent cursor the first time a row has to be spilled (spec.md
// §4.5). Callers must hold c.mu.
func (c *Cursor) ensureSpillLocked() error {
	if c.spill != nil {
		return nil
	}
	s, err := openSpill(c.spillDir, cursorSpillName(c.ID))
	if err != nil {
		return err
	}
	c.spill = s
	return nil
}

// canSpill reports whether c is allowed to overflow to disk at all
// (Persistent cursors with a configured spill directory only).
func (c *Cursor) canSpill() bool {
	return c.Kind == KindPersistent && c.spillDir != ""
}

// NextBatch implements spec.md §4.5's batching contract: stop at the 16
// MiB limit, the configured batchSize, or source exhaustion, whichever
// comes first. Checks c's cancellation flag between rows. Persistent
// cursors additionally spill: once the cumulative number of rows pulled
// from the source over the cursor's lifetime exceeds spillThreshold (or a
// row would overflow maxBytes), the remaining source output is appended to
// an on-disk file instead of held in memory, and drained back out (oldest
// first) on a later call.
func (c *Cursor) NextBatch(maxBytes int64, batchSize int) (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled.Load() {
		return Batch{}, dberrors.Cancelled.New()
	}
	if c.exhausted {
		return Batch{Exhausted: true}, nil
	}

	var docs []bsonval.Document
	var size int64

	// Rows spilled on a previous call are older than anything still
	// pending on the live source and must be returned first (spec.md
	// §4.5: the cursor file is "memory-mapped and consumed" on getMore).
	if c.spill != nil {
		for batchSize <= 0 || len(docs) < batchSize {
			raw, ok, err := c.spill.readNext()
			if err != nil {
				return Batch{}, err
			}
			if !ok {
				break
			}
			doc, err := bsonval.Decode(raw)
			if err != nil {
				return Batch{}, err
			}
			docs = append(docs, doc)
			size += int64(doc.Len())
			c.lastAccess = time.Now()
		}
	}

	if !c.sourceDone {
		for batchSize <= 0 || len(docs) < batchSize {
			if c.cancelled.Load() {
				return Batch{}, dberrors.Cancelled.New()
			}

			doc, ok, err := c.source.Next()
			if err != nil {
				return Batch{}, err
			}
			if !ok {
				c.sourceDone = true
				break
			}

			c.totalProduced++
			n := int64(doc.Len())
			overflowsBatch := size+n > maxBytes && len(docs) > 0
			pastThreshold := c.spillThreshold > 0 && c.totalProduced > c.spillThreshold

			if c.spill != nil || overflowsBatch || pastThreshold {
				if !c.canSpill() {
					// This row doesn't fit and there is nowhere to spill
					// it; the caller must supply a Source that supports
					// peek/pushback if exact non-destructive limiting is
					// required outside a Persistent cursor.
					return Batch{}, dberrors.InternalError.New("source does not support peek-ahead for batch limiting")
				}
				if err := c.ensureSpillLocked(); err != nil {
					// openSpill already returns a DiskFull-kinded error
					// wrapping the underlying bolt failure.
					return Batch{}, err
				}
				if err := c.spill.append([]byte(doc)); err != nil {
					return Batch{}, dberrors.DiskFull.New(errors.Wrap(err, "appending to spill file").Error())
				}
				continue
			}

			docs = append(docs, doc)
			size += n
			c.lastAccess = time.Now()
		}
	}

	c.exhausted = c.sourceDone && (c.spill == nil || c.spill.drained())
	if c.exhausted && c.spill != nil {
		c.spill.close()
	}

	return Batch{Docs: docs, Exhausted: c.exhausted}, nil
}

// Cancel raises the cooperative cancellation flag (spec.md §5:
// "cancellation is cooperative... on cancel: ... opened cursor files are
// unlinked").
func (c *Cursor) Cancel() {
	c.cancelled.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spill != nil {
		c.spill.unlink()
	}
}

// Close releases the cursor's source and any spill file.
func (c *Cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spill != nil {
		c.spill.unlink()
	}
	if c.source != nil {
		return c.source.Close()
	}
	return nil
}
