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
	"strconv"
)

// DocumentWriter appends (name, value) pairs and nested sub-documents to
// build a new encoded Document, the way the projection engine assembles a
// target document from a source document and a path tree (spec.md §4.3).
// Writers never parse what they are given; AppendRaw copies encoded bytes
// directly, the "cheap projection" path named in spec.md §4.1.
type DocumentWriter struct {
	buf []byte
}

func NewDocumentWriter() *DocumentWriter {
	w := &DocumentWriter{buf: make([]byte, 4)} // reserve length prefix
	return w
}

func (w *DocumentWriter) appendName(name string) {
	w.buf = append(w.buf, []byte(name)...)
	w.buf = append(w.buf, 0)
}

func (w *DocumentWriter) AppendDouble(name string, v float64) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeDouble))
	w.appendName(name)
	w.buf = appendUint64(w.buf, math.Float64bits(v))
	return w
}

func (w *DocumentWriter) AppendString(name, s string) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeString))
	w.appendName(name)
	w.buf = appendString32(w.buf, s)
	return w
}

func (w *DocumentWriter) AppendBool(name string, b bool) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeBoolean))
	w.appendName(name)
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
	return w
}

func (w *DocumentWriter) AppendNull(name string) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeNull))
	w.appendName(name)
	return w
}

func (w *DocumentWriter) AppendInt32(name string, n int32) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeInt32))
	w.appendName(name)
	w.buf = appendUint32(w.buf, uint32(n))
	return w
}

func (w *DocumentWriter) AppendInt64(name string, n int64) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeInt64))
	w.appendName(name)
	w.buf = appendUint64(w.buf, uint64(n))
	return w
}

func (w *DocumentWriter) AppendDateTimeMillis(name string, ms int64) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeDateTime))
	w.appendName(name)
	w.buf = appendUint64(w.buf, uint64(ms))
	return w
}

func (w *DocumentWriter) AppendObjectID(name string, id ObjectID) *DocumentWriter {
	w.buf = append(w.buf, byte(TypeObjectID))
	w.appendName(name)
	w.buf = append(w.buf, id[:]...)
	return w
}

// AppendRaw copies an already-encoded sub-document or array's bytes in
// directly, without decoding them — the cheap-projection path.
func (w *DocumentWriter) AppendRaw(name string, t Type, raw []byte) *DocumentWriter {
	w.buf = append(w.buf, byte(t))
	w.appendName(name)
	w.buf = append(w.buf, raw...)
	return w
}

// AppendValue appends an already-decoded Value under name, dispatching on
// its tag. This is the general path used when the value was produced by
// expression evaluation rather than copied straight from a source document.
func (w *DocumentWriter) AppendValue(name string, v Value) *DocumentWriter {
	return w.AppendRaw(name, v.Type(), v.raw)
}

// AppendDocument appends a nested document built by a child DocumentWriter.
func (w *DocumentWriter) AppendDocument(name string, child *DocumentWriter) *DocumentWriter {
	return w.AppendRaw(name, TypeDocument, child.Build())
}

// AppendArray appends an array built by a child ArrayWriter.
func (w *DocumentWriter) AppendArray(name string, child *ArrayWriter) *DocumentWriter {
	return w.AppendRaw(name, TypeArray, child.Build())
}

// Build finalizes the document: patches the length prefix and appends the
// terminator. The writer remains usable afterward (Build may be called
// more than once, e.g. speculatively).
func (w *DocumentWriter) Build() Document {
	total := len(w.buf) + 1
	out := make([]byte, total)
	copy(out, w.buf)
	out[len(out)-1] = 0
	putUint32(out, uint32(total))
	return Document(out)
}

// ArrayWriter is a DocumentWriter that auto-assigns "0", "1", ... names.
type ArrayWriter struct {
	w   *DocumentWriter
	idx int
}

func NewArrayWriter() *ArrayWriter {
	return &ArrayWriter{w: NewDocumentWriter()}
}

func (a *ArrayWriter) nextName() string {
	n := strconv.Itoa(a.idx)
	a.idx++
	return n
}

func (a *ArrayWriter) AppendValue(v Value) *ArrayWriter {
	a.w.AppendValue(a.nextName(), v)
	return a
}

func (a *ArrayWriter) AppendDocument(child *DocumentWriter) *ArrayWriter {
	a.w.AppendDocument(a.nextName(), child)
	return a
}

func (a *ArrayWriter) AppendRaw(t Type, raw []byte) *ArrayWriter {
	a.w.AppendRaw(a.nextName(), t, raw)
	return a
}

func (a *ArrayWriter) Len() int { return a.idx }

func (a *ArrayWriter) Build() Document {
	return a.w.Build()
}

// ScalarOf extracts the sole field a single-append DocumentWriter produced
// as a standalone Value, for callers outside this package (expression
// evaluators) that need to materialize a computed scalar without a parent
// document field to hang it on.
func ScalarOf(w *DocumentWriter) Value {
	el, ok := w.Build().Iterate().Next()
	if !ok {
		return Value{}
	}
	return el.Value
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendUint64(buf []byte, v uint64) []byte {
	buf = appendUint32(buf, uint32(v))
	return appendUint32(buf, uint32(v>>32))
}

func appendString32(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)+1))
	buf = append(buf, []byte(s)...)
	return append(buf, 0)
}

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}
