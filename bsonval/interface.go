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

// Interface decodes v into a native Go representation, used by Hash (via
// mitchellh/hashstructure) and by Compare's numeric coercion (via
// spf13/cast) to work off a single generic shape instead of re-deriving a
// switch over Type at every call site.
func (v Value) Interface() interface{} {
	switch v.t {
	case TypeDouble:
		f, _ := v.Double()
		return f
	case TypeString, TypeSymbol, TypeCode:
		s, _ := v.StringValue()
		return s
	case TypeDocument:
		doc, _ := v.Document()
		return documentToMap(doc)
	case TypeArray:
		arr, _ := v.Array()
		return arrayToSlice(arr)
	case TypeBinary:
		b, _ := v.Binary()
		return b
	case TypeObjectID:
		id, _ := v.ObjectID()
		return id
	case TypeBoolean:
		b, _ := v.Bool()
		return b
	case TypeDateTime:
		ms, _ := v.DateTimeMillis()
		return ms
	case TypeRegex:
		r, _ := v.Regex()
		return r
	case TypeInt32:
		n, _ := v.Int32()
		return n
	case TypeTimestamp:
		t, _ := v.Timestamp()
		return t
	case TypeInt64:
		n, _ := v.Int64()
		return n
	case TypeDecimal128:
		d, _ := v.Decimal128Value()
		return d.Float64()
	case TypeNull, TypeUndefined:
		return nil
	default:
		return nil
	}
}

func documentToMap(d Document) map[string]interface{} {
	out := map[string]interface{}{}
	it := d.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		out[el.Name] = el.Value.Interface()
	}
	return out
}

func arrayToSlice(d Document) []interface{} {
	var out []interface{}
	it := d.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		out = append(out, el.Value.Interface())
	}
	return out
}
