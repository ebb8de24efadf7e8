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

// Package audit wraps cursor lifecycle and pipeline compilation with
// structured log entries, generalizing the decorator pattern the teacher
// applies to authentication/authorization/query events: a Method emits
// one logrus entry per call, and an Audit{...} wrapper type embeds the
// real collaborator so call sites see no interface change.
package audit

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/cursor"
	"github.com/vitrodb/vitrocore/indexam"
	"github.com/vitrodb/vitrocore/pipeline"
)

// Method is called to log the audit trail of core operations.
type Method interface {
	CursorOpen(namespace string, kind cursor.Kind, id int64, err error)
	CursorGetMore(id int64, batchSize, returned int, err error)
	CursorClose(id int64, err error)
	CursorKill(ids []int64, killed []int64)
	PipelineCompile(namespace string, stages int, d time.Duration, err error)
	IndexRegistered(name string, isDefault bool, err error)
}

const auditLogMessage = "audit trail"

// Log logs audit trails to a logrus.Logger, the way auth.AuditLog does
// for authentication/authorization/query events.
type Log struct {
	log *logrus.Entry
}

// NewLog creates a Method that logs to l under the "audit" system field.
func NewLog(l *logrus.Logger) Method {
	return &Log{log: l.WithField("system", "audit")}
}

func withErr(fields logrus.Fields, err error) logrus.Fields {
	fields["success"] = err == nil
	if err != nil {
		fields["err"] = err
	}
	return fields
}

func (a *Log) CursorOpen(namespace string, kind cursor.Kind, id int64, err error) {
	a.log.WithFields(withErr(logrus.Fields{
		"action":    "cursor_open",
		"namespace": namespace,
		"kind":      kind.String(),
		"cursor_id": id,
	}, err)).Info(auditLogMessage)
}

func (a *Log) CursorGetMore(id int64, batchSize, returned int, err error) {
	a.log.WithFields(withErr(logrus.Fields{
		"action":     "cursor_get_more",
		"cursor_id":  id,
		"batch_size": batchSize,
		"returned":   returned,
	}, err)).Info(auditLogMessage)
}

func (a *Log) CursorClose(id int64, err error) {
	a.log.WithFields(withErr(logrus.Fields{
		"action":    "cursor_close",
		"cursor_id": id,
	}, err)).Info(auditLogMessage)
}

func (a *Log) CursorKill(ids []int64, killed []int64) {
	a.log.WithFields(logrus.Fields{
		"action":    "cursor_kill",
		"requested": ids,
		"killed":    killed,
		"success":   true,
	}).Info(auditLogMessage)
}

func (a *Log) PipelineCompile(namespace string, stages int, d time.Duration, err error) {
	a.log.WithFields(withErr(logrus.Fields{
		"action":    "pipeline_compile",
		"namespace": namespace,
		"stages":    stages,
		"duration":  d,
	}, err)).Info(auditLogMessage)
}

func (a *Log) IndexRegistered(name string, isDefault bool, err error) {
	a.log.WithFields(withErr(logrus.Fields{
		"action":     "index_am_registered",
		"name":       name,
		"is_default": isDefault,
	}, err)).Info(auditLogMessage)
}

// Cursors wraps a *cursor.Manager, emitting an audit entry around every
// open/getMore/close/kill.
type Cursors struct {
	inner  *cursor.Manager
	method Method
}

// NewCursors wraps manager with audit logging via method.
func NewCursors(manager *cursor.Manager, method Method) *Cursors {
	return &Cursors{inner: manager, method: method}
}

func (c *Cursors) Open(namespace string, kind cursor.Kind, src cursor.Source, batchSize int, now time.Time, clusterTime bsonval.Value) *cursor.Cursor {
	cur := c.inner.Open(namespace, kind, src, batchSize, now, clusterTime)
	c.method.CursorOpen(namespace, kind, cur.ID, nil)
	return cur
}

func (c *Cursors) Get(id int64) (*cursor.Cursor, error) {
	return c.inner.Get(id)
}

func (c *Cursors) GetMore(id int64, batchSize int) (cursor.Batch, error) {
	batch, err := c.inner.GetMore(id, batchSize)
	c.method.CursorGetMore(id, batchSize, len(batch.Docs), err)
	if err == nil && batch.Exhausted {
		c.method.CursorClose(id, nil)
	}
	return batch, err
}

func (c *Cursors) KillCursors(ids []int64) []int64 {
	killed := c.inner.KillCursors(ids)
	c.method.CursorKill(ids, killed)
	return killed
}

func (c *Cursors) Stats() cursor.Stats {
	return c.inner.Stats()
}

func (c *Cursors) ReapExpired(now time.Time) int {
	return c.inner.ReapExpired(now)
}

// Pipelines wraps pipeline compilation with an audit entry per compile.
type Pipelines struct {
	method Method
	clock  func() time.Time
}

// NewPipelines constructs an audited compiler front-end. clock defaults
// to time.Now when nil.
func NewPipelines(method Method, clock func() time.Time) *Pipelines {
	if clock == nil {
		clock = time.Now
	}
	return &Pipelines{method: method, clock: clock}
}

// Compile wraps pipeline.Compile, logging the stage count, duration, and
// outcome of every compilation.
func (p *Pipelines) Compile(stages []pipeline.Stage, target pipeline.CollectionDescriptor, env *pipeline.Env) (*pipeline.QueryNode, *pipeline.BuildContext, error) {
	start := p.clock()
	node, ctx, err := pipeline.Compile(stages, target, env)
	p.method.PipelineCompile(target.Collection, len(stages), p.clock().Sub(start), err)
	return node, ctx, err
}

// RegisterIndexAM wraps registry.Register with an audit entry, applying
// the same decorator to Index AM Registry registration (SPEC_FULL.md
// ambient logging: "cursor open/getMore/close, pipeline compile, and
// index AM registration").
func RegisterIndexAM(registry *indexam.Registry, am *indexam.Entry, isDefault bool, method Method) error {
	err := registry.Register(am, isDefault)
	method.IndexRegistered(am.Name, isDefault, err)
	return err
}
