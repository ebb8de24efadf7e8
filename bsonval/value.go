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
	"math"
	"time"
)

// Value is a tagged union over the 21 BSON variant tags (spec.md §3.1). It
// holds a reference into the original encoded buffer rather than a copy:
// constructing a Value from a decoded document is O(1), and reading scalar
// fields out of it only touches the bytes the caller actually asks for.
type Value struct {
	t   Type
	raw []byte // the value's payload, not including any type tag or name
}

// Type returns the value's wire type tag.
func (v Value) Type() Type { return v.t }

// Raw returns the undecoded payload bytes backing v. Callers that only need
// to copy or re-emit the value (e.g. the projection engine's cheap raw
// sub-document append) should prefer this over decoding and re-encoding.
func (v Value) Raw() []byte { return v.raw }

// IsZero reports whether v is the zero Value (absent).
func (v Value) IsZero() bool { return v.t == 0 && v.raw == nil }

func newValue(t Type, raw []byte) Value { return Value{t: t, raw: raw} }

// Double returns the decoded double, or (0, false) if v is not a double.
func (v Value) Double() (float64, bool) {
	if v.t != TypeDouble || len(v.raw) < 8 {
		return 0, false
	}
	return math.Float64frombits(leUint64(v.raw)), true
}

// StringValue returns the decoded UTF-8 string. Applies to String, Symbol,
// and Code (all three share the wire encoding: int32 length + bytes + NUL).
func (v Value) StringValue() (string, bool) {
	switch v.t {
	case TypeString, TypeSymbol, TypeCode:
		s, _, ok := readCString32(v.raw)
		return s, ok
	default:
		return "", false
	}
}

// Document returns v's payload reinterpreted as an embedded document.
func (v Value) Document() (Document, bool) {
	if v.t != TypeDocument {
		return nil, false
	}
	return Document(v.raw), true
}

// Array returns v's payload reinterpreted as an embedded array (same wire
// shape as a document, keyed "0", "1", ...).
func (v Value) Array() (Document, bool) {
	if v.t != TypeArray {
		return nil, false
	}
	return Document(v.raw), true
}

// Binary is the decoded payload of a BSON binary value.
type Binary struct {
	Subtype byte
	Data    []byte
}

func (v Value) Binary() (Binary, bool) {
	if v.t != TypeBinary || len(v.raw) < 5 {
		return Binary{}, false
	}
	n := int(int32(leUint32(v.raw)))
	if n < 0 || 5+n > len(v.raw) {
		return Binary{}, false
	}
	return Binary{Subtype: v.raw[4], Data: v.raw[5 : 5+n]}, true
}

func (v Value) ObjectID() (ObjectID, bool) {
	if v.t != TypeObjectID || len(v.raw) < 12 {
		return ObjectID{}, false
	}
	var id ObjectID
	copy(id[:], v.raw[:12])
	return id, true
}

func (v Value) Bool() (bool, bool) {
	if v.t != TypeBoolean || len(v.raw) < 1 {
		return false, false
	}
	return v.raw[0] != 0, true
}

// DateTimeMillis returns the decoded date as milliseconds since the Unix epoch.
func (v Value) DateTimeMillis() (int64, bool) {
	if v.t != TypeDateTime || len(v.raw) < 8 {
		return 0, false
	}
	return int64(leUint64(v.raw)), true
}

func (v Value) Time() (time.Time, bool) {
	ms, ok := v.DateTimeMillis()
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// Regex is the decoded pattern+flags of a BSON regex value.
type Regex struct {
	Pattern string
	Options string
}

func (v Value) Regex() (Regex, bool) {
	if v.t != TypeRegex {
		return Regex{}, false
	}
	pattern, rest, ok := readCString(v.raw)
	if !ok {
		return Regex{}, false
	}
	options, _, ok := readCString(rest)
	if !ok {
		return Regex{}, false
	}
	return Regex{Pattern: pattern, Options: options}, true
}

// DBPointer is the decoded namespace+id of a deprecated BSON dbpointer.
type DBPointer struct {
	Namespace string
	ID        ObjectID
}

func (v Value) DBPointer() (DBPointer, bool) {
	if v.t != TypeDBPointer {
		return DBPointer{}, false
	}
	ns, rest, ok := readCString32(v.raw)
	if !ok || len(rest) < 12 {
		return DBPointer{}, false
	}
	var id ObjectID
	copy(id[:], rest[:12])
	return DBPointer{Namespace: ns, ID: id}, true
}

// CodeWithScope is the decoded javascript-with-scope value.
type CodeWithScope struct {
	Code  string
	Scope Document
}

func (v Value) CodeWithScope() (CodeWithScope, bool) {
	if v.t != TypeCodeWithScope || len(v.raw) < 4 {
		return CodeWithScope{}, false
	}
	body := v.raw[4:]
	code, rest, ok := readCString32(body)
	if !ok {
		return CodeWithScope{}, false
	}
	return CodeWithScope{Code: code, Scope: Document(rest)}, true
}

func (v Value) Int32() (int32, bool) {
	if v.t != TypeInt32 || len(v.raw) < 4 {
		return 0, false
	}
	return int32(leUint32(v.raw)), true
}

// Timestamp is the decoded {seconds, counter} internal replication
// timestamp, distinct from DateTime (spec.md §3.1).
type Timestamp struct {
	Seconds uint32
	Counter uint32
}

func (v Value) Timestamp() (Timestamp, bool) {
	if v.t != TypeTimestamp || len(v.raw) < 8 {
		return Timestamp{}, false
	}
	return Timestamp{Counter: leUint32(v.raw), Seconds: leUint32(v.raw[4:])}, true
}

func (v Value) Int64() (int64, bool) {
	if v.t != TypeInt64 || len(v.raw) < 8 {
		return 0, false
	}
	return int64(leUint64(v.raw)), true
}

func (v Value) Decimal128Value() (Decimal128, bool) {
	if v.t != TypeDecimal128 || len(v.raw) < 16 {
		return Decimal128{}, false
	}
	return Decimal128{Lo: leUint64(v.raw), Hi: leUint64(v.raw[8:])}, true
}

// AsFloat64 coerces any numeric-tagged value to a float64 for arithmetic
// contexts (expression evaluation, $sum/$avg accumulators). Returns
// (0, false) for non-numeric tags.
func (v Value) AsFloat64() (float64, bool) {
	switch v.t {
	case TypeDouble:
		return leMustFloat(v.raw)
	case TypeInt32:
		n, ok := v.Int32()
		return float64(n), ok
	case TypeInt64:
		n, ok := v.Int64()
		return float64(n), ok
	case TypeDecimal128:
		d, ok := v.Decimal128Value()
		return d.Float64(), ok
	default:
		return 0, false
	}
}

func leMustFloat(raw []byte) (float64, bool) {
	if len(raw) < 8 {
		return 0, false
	}
	return math.Float64frombits(leUint64(raw)), true
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	return uint64(leUint32(b)) | uint64(leUint32(b[4:]))<<32
}

// readCString reads a NUL-terminated string (the "cstring" wire type: name
// fields, regex pattern/options).
func readCString(b []byte) (string, []byte, bool) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:], true
		}
	}
	return "", nil, false
}

// readCString32 reads the "string" wire type: int32 length (including the
// trailing NUL) followed by the bytes and the NUL.
func readCString32(b []byte) (string, []byte, bool) {
	if len(b) < 4 {
		return "", nil, false
	}
	n := int32(leUint32(b))
	if n < 1 || int(4+n) > len(b) {
		return "", nil, false
	}
	s := b[4 : 4+n-1]
	if b[4+n-1] != 0 {
		return "", nil, false
	}
	return string(s), b[4+n:], true
}
