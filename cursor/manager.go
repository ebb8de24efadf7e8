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
	"sync"
	"time"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
)

// Stats is the shared-memory bookkeeping spec.md §4.5 names for
// Persistent cursors: "active cursor count, total measured cursor count,
// size of last cursor".
type Stats struct {
	ActiveCursors int64
	TotalMeasured int64
	LastSize      int64
}

// Manager owns every live cursor for a process (spec.md §4.5, §5
// "Cursor file directory: per-process"). Modeled on the teacher's
// ProcessList: a mutex-guarded map keyed by an allocated id, not a
// lock-free structure, because cursor churn is orders of magnitude
// lower-frequency than the per-row hot path it serves.
type Manager struct {
	mu      sync.Mutex
	cursors map[int64]*Cursor
	ids     *idAllocator

	SpillDir         string
	SpillThreshold   int
	DefaultBatchSize int
	MaxOutputBytes   int64
	TTL              time.Duration

	stats Stats
}

// NewManager constructs a cursor manager with the given tunables (mirrors
// config.Config's cursor-related fields; kept as plain parameters so this
// package has no import-time dependency on config).
func NewManager(spillDir string, spillThreshold, defaultBatchSize int, maxOutputBytes int64, ttl time.Duration) *Manager {
	return &Manager{
		cursors:          make(map[int64]*Cursor),
		ids:              newIDAllocator(),
		SpillDir:         spillDir,
		SpillThreshold:   spillThreshold,
		DefaultBatchSize: defaultBatchSize,
		MaxOutputBytes:   maxOutputBytes,
		TTL:              ttl,
	}
}

// Open registers src under the given kind and returns the Cursor
// (spec.md §3.5 construction). now/clusterTime freeze the cursor's
// time-system-variable snapshot for its entire life.
func (m *Manager) Open(namespace string, kind Kind, src Source, batchSize int, now time.Time, clusterTime bsonval.Value) *Cursor {
	if batchSize <= 0 {
		batchSize = m.DefaultBatchSize
	}

	fileBacked := kind == KindPersistent
	c := &Cursor{
		ID:        m.ids.next(fileBacked),
		Namespace: namespace,
		Kind:      kind,
		BatchSize: batchSize,
		Time:      TimeSnapshot{Now: now, ClusterTime: clusterTime},
		source:    src,
	}
	if fileBacked {
		c.spillDir = m.SpillDir
		c.spillThreshold = m.SpillThreshold
	}

	if kind == KindSingleBatch || kind == KindPointRead {
		// No server-side state outlives the first response (spec.md
		// §3.5); don't register in the live map.
		return c
	}

	m.mu.Lock()
	m.cursors[c.ID] = c
	m.stats.ActiveCursors++
	m.stats.TotalMeasured++
	m.mu.Unlock()
	return c
}

// Get looks up a live cursor by id, failing with CursorNotFound if it is
// absent or was already killed.
func (m *Manager) Get(id int64) (*Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[id]
	if !ok {
		return nil, dberrors.CursorNotFound.New(id)
	}
	return c, nil
}

// GetMore advances id by one batch; on exhaustion the cursor is removed
// from the live set and closed.
func (m *Manager) GetMore(id int64, batchSize int) (Batch, error) {
	c, err := m.Get(id)
	if err != nil {
		return Batch{}, err
	}
	if batchSize <= 0 {
		batchSize = c.BatchSize
	}
	batch, err := c.NextBatch(m.MaxOutputBytes, batchSize)
	if err != nil {
		m.remove(id)
		return Batch{}, err
	}
	if batch.Exhausted {
		m.remove(id)
	}
	return batch, nil
}

// KillCursors implements kill-cursors (spec.md §6.2): cancels and closes
// every named cursor, tolerating ids that are already gone.
func (m *Manager) KillCursors(ids []int64) []int64 {
	killed := make([]int64, 0, len(ids))
	for _, id := range ids {
		m.mu.Lock()
		c, ok := m.cursors[id]
		delete(m.cursors, id)
		if ok {
			m.stats.ActiveCursors--
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		c.Cancel()
		c.Close()
		killed = append(killed, id)
	}
	return killed
}

// remove drops a cursor from the live set and closes it. It does not
// update Stats.LastSize; no code path in this package writes that field.
func (m *Manager) remove(id int64) {
	m.mu.Lock()
	c, ok := m.cursors[id]
	if ok {
		delete(m.cursors, id)
		m.stats.ActiveCursors--
	}
	m.mu.Unlock()
	if ok {
		c.Close()
	}
}

// Stats returns a snapshot of the shared bookkeeping counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// ReapExpired closes every registered cursor whose TTL has elapsed since
// last access (spec.md §3.5 "Persistent cursor files are deleted ... when
// the TTL elapses after last access").
func (m *Manager) ReapExpired(now time.Time) int {
	var expired []int64
	m.mu.Lock()
	for id, c := range m.cursors {
		c.mu.Lock()
		stale := m.TTL > 0 && now.Sub(c.lastAccess) > m.TTL
		c.mu.Unlock()
		if stale {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.remove(id)
	}
	return len(expired)
}
