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

package client

import (
	"fmt"
	"sync/atomic"

	"github.com/vitrodb/vitrocore/dberrors"
	"github.com/vitrodb/vitrocore/engine"
)

// Session is one logical client connection, analogous to the teacher
// driver.Conn: it carries no server-side state of its own beyond a
// request counter used for audit/trace correlation, since every piece of
// durable state (cursors, plan cache, collections) lives on the shared
// engine.
type Session struct {
	eng    *engine.Engine
	reqNum int64
}

// nextRequestID hands out a monotonic id scoped to this session, mirroring
// catalog.nextProcessID in the teacher driver.
func (s *Session) nextRequestID() int64 {
	return atomic.AddInt64(&s.reqNum, 1)
}

// Close releases nothing today (the engine owns every resource) but
// exists so callers can treat Session like the teacher's Conn, which
// always has a Close even when it is a no-op.
func (s *Session) Close() error { return nil }

// commandError wraps err with the request id it failed under, giving a
// caller a trail back to the originating command without exposing the
// session's internal counter.
type commandError struct {
	RequestID int64
	Err       error
}

func (e *commandError) Error() string { return e.Err.Error() }
func (e *commandError) Unwrap() error { return e.Err }

func wrapErr(reqID int64, err error) error {
	if err == nil {
		return nil
	}
	return &commandError{RequestID: reqID, Err: err}
}

// badValue is a convenience constructor used throughout command decoding.
func badValue(format string, args ...interface{}) error {
	return dberrors.BadValue.New(fmt.Sprintf(format, args...))
}
