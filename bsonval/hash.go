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
	"github.com/mitchellh/hashstructure"
)

// Hash returns the canonical hash of v, used by hashed-index AM entries
// (indexam package) and by $group/$bucket accumulator keys. Hash agrees
// with Compare: compare(a,b)==Equal implies hash(a)==hash(b) (spec.md
// §4.1, testable property), because every numeric tag first collapses to
// the same float64 representation Compare uses before hashstructure sees
// it. normalizeForHash turns arrays into slices in encounter order and
// documents into name->value maps, so document hashes do not depend on
// field order.
func Hash(v Value) int64 {
	normalized := normalizeForHash(v)
	h, err := hashstructure.Hash(normalized, nil)
	if err != nil {
		// hashstructure only errors on unsupported kinds (channels, funcs);
		// Interface() never produces those, so this path is unreachable
		// in practice. Fall back to a fixed sentinel rather than panic.
		return 0
	}
	return int64(h)
}

// normalizeForHash mirrors Compare's numeric collapse: every numeric tag
// hashes as its float64 value so that e.g. Int32(2) and Double(2.0), which
// Compare treats as Equal, also agree under Hash.
func normalizeForHash(v Value) interface{} {
	if IsNumeric(v.Type()) {
		f, _ := v.AsFloat64()
		return f
	}
	switch v.Type() {
	case TypeDocument:
		doc, _ := v.Document()
		out := map[string]interface{}{}
		it := doc.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			out[el.Name] = normalizeForHash(el.Value)
		}
		return out
	case TypeArray:
		arr, _ := v.Array()
		var out []interface{}
		it := arr.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			out = append(out, normalizeForHash(el.Value))
		}
		return out
	default:
		return v.Interface()
	}
}
