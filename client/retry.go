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
	uuid "github.com/satori/go.uuid"

	"github.com/vitrodb/vitrocore/bsonval"
)

// InsertRetryable implements a retryable single-document `insert` (spec.md
// §7, Testable Property 7: "re-issuing W with R returns the same result
// ... without producing duplicate side effects"). retryID is the client-
// supplied id R; the Protocol Frontend is responsible for reusing the
// same id across retransmissions of the same logical write.
//
// On the first call with a given retryID the write runs and its outcome
// is recorded. Every subsequent call with the same retryID short-circuits
// to the recorded outcome without touching the row store again.
func (s *Session) InsertRetryable(database, collection string, retryID uuid.UUID, shardKey, objectID interface{}, doc bsonval.Document) error {
	reqID := s.nextRequestID()

	ledger := s.eng.Store.RetryLedger()
	if rec, done := ledger.Lookup(retryID); done {
		return wrapErr(reqID, rec.Result)
	}
	ledger.Begin(retryID)

	err := s.eng.Insert(database, collection, shardKey, objectID, doc)
	ledger.Complete(retryID, err)
	return wrapErr(reqID, err)
}
