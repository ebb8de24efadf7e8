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

package bsonval

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/vitrodb/vitrocore/dberrors"
)

// ObjectID is the 12-byte opaque primary-key value (spec.md §3.1): a 4-byte
// seconds-since-epoch, a 5-byte process-unique random value, and a 3-byte
// monotonic counter. This is not the same shape as a UUID (satori/go.uuid,
// wired elsewhere for cursor ids, is a 16-byte value with different layout
// conventions), so it is grown here directly against the standard library
// rather than forcing an ill-fitting dependency onto a 12-byte format.
type ObjectID [12]byte

var (
	objectIDCounter uint32
	objectIDRandom  = randomProcessID()
)

func randomProcessID() [5]byte {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return b
}

// NewObjectID generates a fresh ObjectID the way the Row Store would mint a
// primary key for an inserted document when the caller supplies none.
func NewObjectID() ObjectID {
	var id ObjectID
	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:9], objectIDRandom[:])
	c := atomic.AddUint32(&objectIDCounter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)
	return id
}

// ObjectIDFromHex parses the 24-character hex representation.
func ObjectIDFromHex(s string) (ObjectID, error) {
	var id ObjectID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, dberrors.BadValue.New("not a valid ObjectID hex string: " + s)
	}
	copy(id[:], b)
	return id, nil
}

func (id ObjectID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ObjectID) String() string {
	return "ObjectID(\"" + id.Hex() + "\")"
}

// Timestamp returns the embedded creation time.
func (id ObjectID) Timestamp() time.Time {
	sec := binary.BigEndian.Uint32(id[0:4])
	return time.Unix(int64(sec), 0).UTC()
}

func (id ObjectID) Compare(other ObjectID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
