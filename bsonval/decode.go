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
	"github.com/vitrodb/vitrocore/dberrors"
)

// MaxDecodeDepth bounds recursive document/array nesting during Decode and
// Iterate, satisfying spec.md §3.1's "deep recursion MUST be bounded"
// invariant. Pipeline/path-tree depth limits are separately configurable
// (config.Config); this one guards the value model itself against a
// maliciously or accidentally deep document crashing the decoder.
const MaxDecodeDepth = 200

// Document is an encoded BSON document or array: an ordered sequence of
// (field-name, value) pairs, length-prefixed per spec.md §3.1. Order is
// part of a document's identity for update-operator purposes (two
// documents with the same pairs in different order are unequal). Compare
// also compares documents field by field in stored order, so two documents
// with the same pairs in a different order are not Equal under Compare
// either.
type Document []byte

// Decode validates the length prefix and terminator of raw and returns it
// as a Document. It does not recursively validate nested documents; that
// happens lazily as Iterate descends, bounded by MaxDecodeDepth.
func Decode(raw []byte) (Document, error) {
	if _, err := decodeAt(raw, 0); err != nil {
		return nil, err
	}
	return Document(raw), nil
}

// decodeAt validates the length-prefix/terminator invariant of a
// document/array payload at the given recursion depth.
func decodeAt(raw []byte, depth int) (int, error) {
	if depth > MaxDecodeDepth {
		return 0, dberrors.MalformedEncoding.New(0, "max recursion depth exceeded")
	}
	if len(raw) < 5 {
		return 0, dberrors.MalformedEncoding.New(0, "document shorter than minimum length")
	}
	n := int(int32(leUint32(raw)))
	if n < 5 || n > len(raw) {
		return 0, dberrors.MalformedEncoding.New(0, "length prefix does not match buffer size")
	}
	if raw[n-1] != 0 {
		return 0, dberrors.MalformedEncoding.New(n-1, "missing document terminator")
	}
	return n, nil
}

// Len returns the document's declared length prefix.
func (d Document) Len() int {
	if len(d) < 4 {
		return 0
	}
	return int(int32(leUint32(d)))
}

// Element is one decoded (name, value) pair from a document.
type Element struct {
	Name  string
	Value Value
}

// Iterator walks a Document's elements lazily: each call to Next parses
// exactly one element header and advances past its payload without
// touching the payload bytes themselves (spec.md §4.1 `iterate`).
type Iterator struct {
	buf   []byte
	depth int
	err   error
	done  bool
}

// Iterate returns a lazy iterator over d's top-level elements.
func (d Document) Iterate() *Iterator {
	return d.iterateAt(0)
}

func (d Document) iterateAt(depth int) *Iterator {
	n, err := decodeAt(d, depth)
	if err != nil {
		return &Iterator{err: err, done: true}
	}
	// Skip the 4-byte length prefix; stop before the 1-byte terminator.
	return &Iterator{buf: d[4 : n-1], depth: depth}
}

// Next decodes the next element. It returns false once the document is
// exhausted or a malformed encoding is detected; callers must check Err()
// after Next returns false to distinguish the two.
func (it *Iterator) Next() (Element, bool) {
	if it.done || it.err != nil {
		return Element{}, false
	}
	if len(it.buf) == 0 {
		it.done = true
		return Element{}, false
	}
	if len(it.buf) < 2 {
		it.err = dberrors.MalformedEncoding.New(0, "truncated element header")
		return Element{}, false
	}

	tag := Type(it.buf[0])
	name, rest, ok := readCString(it.buf[1:])
	if !ok {
		it.err = dberrors.MalformedEncoding.New(0, "unterminated element name")
		return Element{}, false
	}

	payload, remainder, err := sliceValuePayload(tag, rest, it.depth)
	if err != nil {
		it.err = err
		return Element{}, false
	}

	it.buf = remainder
	return Element{Name: name, Value: newValue(tag, payload)}, true
}

// Err returns the first malformed-encoding error observed, if any.
func (it *Iterator) Err() error { return it.err }

// sliceValuePayload returns the payload bytes for a value of the given tag
// starting at buf, and the remaining bytes after it. It validates enough
// structure to know where the value ends (required for iteration to make
// progress) without fully decoding composite payloads.
func sliceValuePayload(tag Type, buf []byte, depth int) (payload, remainder []byte, err error) {
	switch tag {
	case TypeDouble, TypeDateTime, TypeTimestamp, TypeInt64:
		if len(buf) < 8 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated 8-byte value")
		}
		return buf[:8], buf[8:], nil
	case TypeInt32:
		if len(buf) < 4 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated 4-byte value")
		}
		return buf[:4], buf[4:], nil
	case TypeDecimal128:
		if len(buf) < 16 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated decimal128 value")
		}
		return buf[:16], buf[16:], nil
	case TypeObjectID:
		if len(buf) < 12 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated objectid value")
		}
		return buf[:12], buf[12:], nil
	case TypeBoolean:
		if len(buf) < 1 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated bool value")
		}
		return buf[:1], buf[1:], nil
	case TypeNull, TypeUndefined, TypeMinKey, TypeMaxKey:
		return nil, buf, nil
	case TypeString, TypeSymbol, TypeCode:
		if len(buf) < 4 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated string header")
		}
		n := int(int32(leUint32(buf)))
		if n < 1 || 4+n > len(buf) {
			return nil, nil, dberrors.MalformedEncoding.New(0, "string length exceeds buffer")
		}
		return buf[:4+n], buf[4+n:], nil
	case TypeDocument, TypeArray:
		n, derr := decodeAt(buf, depth+1)
		if derr != nil {
			return nil, nil, derr
		}
		return buf[:n], buf[n:], nil
	case TypeBinary:
		if len(buf) < 5 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated binary header")
		}
		n := int(int32(leUint32(buf)))
		if n < 0 || 5+n > len(buf) {
			return nil, nil, dberrors.MalformedEncoding.New(0, "binary length exceeds buffer")
		}
		return buf[:5+n], buf[5+n:], nil
	case TypeRegex:
		pattern, rest, ok := readCString(buf)
		if !ok {
			return nil, nil, dberrors.MalformedEncoding.New(0, "unterminated regex pattern")
		}
		options, rest2, ok := readCString(rest)
		if !ok {
			return nil, nil, dberrors.MalformedEncoding.New(0, "unterminated regex options")
		}
		total := len(buf) - len(rest2)
		_ = pattern
		_ = options
		return buf[:total], rest2, nil
	case TypeDBPointer:
		_, rest, ok := readCString32(buf)
		if !ok || len(rest) < 12 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated dbpointer")
		}
		total := len(buf) - len(rest) + 12
		return buf[:total], buf[total:], nil
	case TypeCodeWithScope:
		if len(buf) < 4 {
			return nil, nil, dberrors.MalformedEncoding.New(0, "truncated code_w_scope header")
		}
		n := int(int32(leUint32(buf)))
		if n < 5 || 4+n > len(buf) {
			return nil, nil, dberrors.MalformedEncoding.New(0, "code_w_scope length exceeds buffer")
		}
		return buf[:4+n], buf[4+n:], nil
	default:
		return nil, nil, dberrors.MalformedEncoding.New(0, "unknown BSON type tag")
	}
}

// AsValue wraps a top-level document as a Value of type document, e.g. to
// compare two whole documents with Compare.
func (d Document) AsValue() Value {
	return newValue(TypeDocument, []byte(d))
}
