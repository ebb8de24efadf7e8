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

// Package bsonval is the BSON Value Model: an immutable, length-prefixed
// binary document format over a closed set of 21 scalar/composite types,
// with iteration, comparison, hashing, and re-encoding that never copies
// bytes except when a new value is constructed (spec.md §4.1).
package bsonval

import "fmt"

// Type is one of the 21 BSON wire type tags (spec.md §3.1).
type Type byte

const (
	TypeDouble        Type = 0x01
	TypeString        Type = 0x02
	TypeDocument      Type = 0x03
	TypeArray         Type = 0x04
	TypeBinary        Type = 0x05
	TypeUndefined     Type = 0x06
	TypeObjectID      Type = 0x07
	TypeBoolean       Type = 0x08
	TypeDateTime      Type = 0x09
	TypeNull          Type = 0x0A
	TypeRegex         Type = 0x0B
	TypeDBPointer     Type = 0x0C
	TypeCode          Type = 0x0D
	TypeSymbol        Type = 0x0E
	TypeCodeWithScope Type = 0x0F
	TypeInt32         Type = 0x10
	TypeTimestamp     Type = 0x11
	TypeInt64         Type = 0x12
	TypeDecimal128    Type = 0x13
	TypeMinKey        Type = 0xFF
	TypeMaxKey        Type = 0x7F

	typeEOD Type = 0x00
)

func (t Type) String() string {
	switch t {
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeDocument:
		return "document"
	case TypeArray:
		return "array"
	case TypeBinary:
		return "binData"
	case TypeUndefined:
		return "undefined"
	case TypeObjectID:
		return "objectId"
	case TypeBoolean:
		return "bool"
	case TypeDateTime:
		return "date"
	case TypeNull:
		return "null"
	case TypeRegex:
		return "regex"
	case TypeDBPointer:
		return "dbPointer"
	case TypeCode:
		return "javascript"
	case TypeSymbol:
		return "symbol"
	case TypeCodeWithScope:
		return "javascriptWithScope"
	case TypeInt32:
		return "int"
	case TypeTimestamp:
		return "timestamp"
	case TypeInt64:
		return "long"
	case TypeDecimal128:
		return "decimal"
	case TypeMinKey:
		return "minKey"
	case TypeMaxKey:
		return "maxKey"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// typeOrder gives the canonical MongoDB cross-type comparison rank used by
// Compare (spec.md §3.1): minkey < null < numbers < string < document <
// array < binary < objectid < bool < date < timestamp < regex < maxkey.
// All four numeric tags share a rank: numeric comparisons fall through to
// mathematical-value comparison regardless of tag.
func typeOrder(t Type) int {
	switch t {
	case TypeMinKey:
		return 0
	case TypeNull, TypeUndefined:
		return 1
	case TypeDouble, TypeInt32, TypeInt64, TypeDecimal128:
		return 2
	case TypeString, TypeSymbol, TypeCode:
		return 3
	case TypeDocument, TypeCodeWithScope:
		return 4
	case TypeArray:
		return 5
	case TypeBinary:
		return 6
	case TypeObjectID, TypeDBPointer:
		return 7
	case TypeBoolean:
		return 8
	case TypeDateTime:
		return 9
	case TypeTimestamp:
		return 10
	case TypeRegex:
		return 11
	case TypeMaxKey:
		return 12
	default:
		return 99
	}
}

// IsNumeric reports whether t is one of the four numeric scalar tags.
func IsNumeric(t Type) bool {
	switch t {
	case TypeDouble, TypeInt32, TypeInt64, TypeDecimal128:
		return true
	default:
		return false
	}
}
