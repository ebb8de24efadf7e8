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
	msgpack "gopkg.in/vmihailenco/msgpack.v2"

	"github.com/vitrodb/vitrocore/dberrors"
)

// TableContinuation is one table's resumption state within a
// continuation token (spec.md §6.3).
type TableContinuation struct {
	Table string                 `msgpack:"table"`
	State []byte                 `msgpack:"state"`
	Extra map[string]interface{} `msgpack:"extra,omitempty"`
}

// ContinuationToken is the opaque BSON-shaped resumption state a
// Streamable cursor hands back to the client (spec.md §6.3):
// `{primaryKey, table-continuations, params}`. It is encoded with
// msgpack rather than the document's own BSON writer because the token
// never crosses the wire as a BSON value itself — it is embedded inside
// one (as opaque bytes) — and msgpack gives a compact, schema-evolvable
// encoding for this purely internal structure.
type ContinuationToken struct {
	PrimaryKey          interface{}          `msgpack:"primaryKey"`
	TableContinuations  []TableContinuation  `msgpack:"tableContinuations"`
	Params              map[string]interface{} `msgpack:"params,omitempty"`
}

// Encode serializes t to opaque bytes suitable for embedding in a
// getMore response.
func Encode(t ContinuationToken) ([]byte, error) {
	b, err := msgpack.Marshal(t)
	if err != nil {
		return nil, dberrors.InternalError.New("encoding continuation token: " + err.Error())
	}
	return b, nil
}

// Decode parses a continuation token previously produced by Encode.
func Decode(raw []byte) (ContinuationToken, error) {
	var t ContinuationToken
	if err := msgpack.Unmarshal(raw, &t); err != nil {
		return ContinuationToken{}, dberrors.InternalError.New("decoding continuation token: " + err.Error())
	}
	return t, nil
}
