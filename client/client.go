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

// Package client is the Protocol Frontend collaborator boundary (spec.md
// §6.2): a concrete, minimal stand-in for the wire-protocol gateway that
// decodes client commands and invokes the core's API. It plays the role
// the teacher's driver package plays for database/sql: driver.Driver ->
// client.Driver, driver.Connector -> client.Connector, driver.Conn ->
// client.Session. Where the teacher's Conn.Prepare hands a SQL string to
// an analyzer, a Session hands a BSON command document to an engine.
package client

import (
	"sync"

	"github.com/vitrodb/vitrocore/engine"
)

// Driver resolves a database name to a shared *engine.Engine, mirroring
// the teacher driver.Driver's Provider indirection (one engine per
// catalog, looked up by the connector) but collapsed to a single
// process-wide engine since the core does not multiplex catalogs.
type Driver struct {
	mu  sync.Mutex
	eng *engine.Engine
}

// New constructs a Driver backed by eng.
func New(eng *engine.Engine) *Driver {
	return &Driver{eng: eng}
}

// Connect returns a new Session, analogous to Connector.Connect minting a
// fresh Conn for every logical client connection. Sessions share the
// underlying engine (and therefore its cursor manager, plan cache, and
// row store) but each keeps its own request counter for audit context.
func (d *Driver) Connect() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &Session{eng: d.eng}
}

// Engine exposes the underlying engine for callers that need direct
// access beyond the command surface (e.g. test fixtures).
func (d *Driver) Engine() *engine.Engine { return d.eng }
