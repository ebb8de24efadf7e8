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

package audit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/audit"
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/cursor"
)

type recordingMethod struct {
	opens     int
	getMores  int
	closes    int
	kills     int
	lastErr   error
}

func (r *recordingMethod) CursorOpen(namespace string, kind cursor.Kind, id int64, err error) {
	r.opens++
	r.lastErr = err
}
func (r *recordingMethod) CursorGetMore(id int64, batchSize, returned int, err error) {
	r.getMores++
	r.lastErr = err
}
func (r *recordingMethod) CursorClose(id int64, err error) { r.closes++ }
func (r *recordingMethod) CursorKill(ids []int64, killed []int64) {
	r.kills++
}
func (r *recordingMethod) PipelineCompile(namespace string, stages int, d time.Duration, err error) {
}
func (r *recordingMethod) IndexRegistered(name string, isDefault bool, err error) {}

type sliceSource struct {
	docs []bsonval.Document
	pos  int
}

func (s *sliceSource) Next() (bsonval.Document, bool, error) {
	if s.pos >= len(s.docs) {
		return nil, false, nil
	}
	d := s.docs[s.pos]
	s.pos++
	return d, true, nil
}

func (s *sliceSource) Close() error { return nil }

func docN(n int32) bsonval.Document {
	w := bsonval.NewDocumentWriter()
	w.AppendInt32("_id", n)
	return w.Build()
}

func TestCursorsOpenRecordsAuditEntry(t *testing.T) {
	method := &recordingMethod{}
	manager := cursor.NewManager("", 0, 100, 16*1024*1024, 0)
	audited := audit.NewCursors(manager, method)

	c := audited.Open("db.coll", cursor.KindStreamable, &sliceSource{docs: []bsonval.Document{docN(1), docN(2)}}, 10, time.Now(), bsonval.Value{})
	require.Equal(t, 1, method.opens)
	require.NoError(t, method.lastErr)

	batch, err := audited.GetMore(c.ID, 10)
	require.NoError(t, err)
	require.Len(t, batch.Docs, 2)
	require.True(t, batch.Exhausted)
	require.Equal(t, 1, method.getMores)
	require.Equal(t, 1, method.closes) // exhaustion triggers an implicit close entry
}

func TestCursorsKillCursorsRecordsAuditEntry(t *testing.T) {
	method := &recordingMethod{}
	manager := cursor.NewManager("", 0, 100, 16*1024*1024, 0)
	audited := audit.NewCursors(manager, method)

	c := audited.Open("db.coll", cursor.KindStreamable, &sliceSource{docs: []bsonval.Document{docN(1)}}, 10, time.Now(), bsonval.Value{})
	killed := audited.KillCursors([]int64{c.ID})
	require.Equal(t, []int64{c.ID}, killed)
	require.Equal(t, 1, method.kills)
}
