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
	"strings"

	"github.com/spf13/cast"
)

// Ordering is the three-way result of Compare.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

// Collation overrides byte-lexicographic string comparison with a
// locale-aware one (spec.md §3.1, GLOSSARY). Full ICU collation is an
// external collaborator this core does not reimplement (spec.md §1 "full
// text ranking primitives" and locale tables are out of scope the same way
// geospatial primitives are delegated to a Spatial Engine); Collation here
// models case sensitivity only, via simple lower-case folding: a Strength
// below 3 compares strings case-insensitively, 3 and above compares them
// byte-lexicographically. Accents are not folded at any strength, and
// Locale is not consulted.
type Collation struct {
	Locale   string
	Strength int // 1-2: case-insensitive; 3-5: byte-lexicographic
}

func (c *Collation) compareStrings(a, b string) Ordering {
	if c == nil || c.Strength >= 3 {
		return compareBytes(a, b)
	}
	return compareBytes(strings.ToLower(a), strings.ToLower(b))
}

func compareBytes(a, b string) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// Compare implements the canonical BSON comparison order (spec.md §3.1,
// §4.1, testable property 4-5): cross-type comparison by typeOrder, numeric
// tags compared by mathematical value regardless of which of the four
// numeric tags either side uses (NaN sorts less than every number and
// equal to any other NaN), strings compared byte-lexicographically unless
// a Collation overrides it, and documents/arrays compared element-wise.
func Compare(a, b Value, collation *Collation) Ordering {
	an, aNaN := asNaNAwareFloat(a)
	bn, bNaN := asNaNAwareFloat(b)
	if aNaN || bNaN {
		// NaN compares less than all numbers, equal to other NaN; this
		// only applies when both sides are numeric.
		if IsNumeric(a.Type()) && IsNumeric(b.Type()) {
			switch {
			case aNaN && bNaN:
				return Equal
			case aNaN:
				return Less
			default:
				return Greater
			}
		}
	}

	if IsNumeric(a.Type()) && IsNumeric(b.Type()) {
		return compareFloat(an, bn)
	}

	oa, ob := typeOrder(a.Type()), typeOrder(b.Type())
	if oa != ob {
		return compareInt(oa, ob)
	}

	switch a.Type() {
	case TypeString, TypeSymbol, TypeCode:
		as, _ := a.StringValue()
		bs, _ := b.StringValue()
		return collation.compareStrings(as, bs)
	case TypeDocument:
		da, _ := a.Document()
		db, _ := b.Document()
		return compareDocuments(da, db, collation)
	case TypeArray:
		da, _ := a.Array()
		db, _ := b.Array()
		return compareArrays(da, db, collation)
	case TypeBinary:
		ba, _ := a.Binary()
		bb, _ := b.Binary()
		if ba.Subtype != bb.Subtype {
			return compareInt(int(ba.Subtype), int(bb.Subtype))
		}
		return compareBytesRaw(ba.Data, bb.Data)
	case TypeObjectID:
		ia, _ := a.ObjectID()
		ib, _ := b.ObjectID()
		return Ordering(ia.Compare(ib))
	case TypeBoolean:
		ba, _ := a.Bool()
		bb, _ := b.Bool()
		return compareBool(ba, bb)
	case TypeDateTime:
		da, _ := a.DateTimeMillis()
		db, _ := b.DateTimeMillis()
		return compareInt64(da, db)
	case TypeTimestamp:
		ta, _ := a.Timestamp()
		tb, _ := b.Timestamp()
		if ta.Seconds != tb.Seconds {
			return compareInt(int(ta.Seconds), int(tb.Seconds))
		}
		return compareInt(int(ta.Counter), int(tb.Counter))
	case TypeRegex:
		ra, _ := a.Regex()
		rb, _ := b.Regex()
		if o := compareBytes(ra.Pattern, rb.Pattern); o != Equal {
			return o
		}
		return compareBytes(ra.Options, rb.Options)
	default:
		// minkey, maxkey, null, undefined: equal within their own class.
		return Equal
	}
}

func asNaNAwareFloat(v Value) (float64, bool) {
	if !IsNumeric(v.Type()) {
		return 0, false
	}
	// v.Interface() yields whichever native numeric type the tag decodes
	// to (float64, int32, int64, or an already-reduced decimal128
	// float64); cast.ToFloat64 is the single coercion point that brings
	// all four numeric tags to a common mathematical representation
	// before comparison, per spec.md §4.1.
	f := cast.ToFloat64(v.Interface())
	return f, math.IsNaN(f)
}

func compareFloat(a, b float64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

func compareInt(a, b int) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

func compareInt64(a, b int64) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

func compareBool(a, b bool) Ordering {
	if a == b {
		return Equal
	}
	if !a {
		return Less
	}
	return Greater
}

func compareBytesRaw(a, b []byte) Ordering {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return Less
			}
			return Greater
		}
	}
	return compareInt(len(a), len(b))
}

// compareDocuments compares two documents as MongoDB does for ordering
// purposes: field by field in stored order (name, then value), the shorter
// document sorting first on a common prefix. Field order matters: two
// documents holding the same pairs in a different order are not Equal.
func compareDocuments(a, b Document, collation *Collation) Ordering {
	ia, ib := a.Iterate(), b.Iterate()
	for {
		ea, aok := ia.Next()
		eb, bok := ib.Next()
		switch {
		case !aok && !bok:
			return Equal
		case !aok:
			return Less
		case !bok:
			return Greater
		}
		if o := compareBytes(ea.Name, eb.Name); o != Equal {
			return o
		}
		if o := Compare(ea.Value, eb.Value, collation); o != Equal {
			return o
		}
	}
}

func compareArrays(a, b Document, collation *Collation) Ordering {
	ia, ib := a.Iterate(), b.Iterate()
	for {
		ea, aok := ia.Next()
		eb, bok := ib.Next()
		switch {
		case !aok && !bok:
			return Equal
		case !aok:
			return Less
		case !bok:
			return Greater
		}
		if o := Compare(ea.Value, eb.Value, collation); o != Equal {
			return o
		}
	}
}

// Equals reports whether Compare(a, b, collation) == Equal.
func Equals(a, b Value, collation *Collation) bool {
	return Compare(a, b, collation) == Equal
}
