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

import "strconv"

// ExtractOptions tunes ExtractPath's array-traversal behavior.
type ExtractOptions struct {
	// DisableArrayMapping, when true, makes a non-numeric segment against
	// an array fail to match instead of applying to every element
	// (spec.md §4.1 "unless the caller disables that").
	DisableArrayMapping bool
}

// ExtractPath walks a dotted path through value and returns the value (or
// values, if the path crosses an array in map-style) found there, or
// ok=false if any segment is missing (spec.md §4.1 `extract_path`).
//
// For a numeric segment against an array, the segment indexes a single
// element. For a non-numeric segment against an array, the segment is
// applied to every element and the results are collected into a new
// array value (map-style), unless opts.DisableArrayMapping is set.
func ExtractPath(value Value, dottedPath string, opts ExtractOptions) (Value, bool) {
	segments := splitPath(dottedPath)
	return extractSegments(value, segments, opts)
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segs = append(segs, path[start:i])
			start = i + 1
		}
	}
	segs = append(segs, path[start:])
	return segs
}

func extractSegments(value Value, segments []string, opts ExtractOptions) (Value, bool) {
	if len(segments) == 0 {
		return value, true
	}
	seg := segments[0]
	rest := segments[1:]

	switch value.Type() {
	case TypeDocument:
		doc, _ := value.Document()
		it := doc.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			if el.Name == seg {
				return extractSegments(el.Value, rest, opts)
			}
		}
		return Value{}, false

	case TypeArray:
		arr, _ := value.Array()
		if idx, err := strconv.Atoi(seg); err == nil {
			i := 0
			it := arr.Iterate()
			for el, ok := it.Next(); ok; el, ok = it.Next() {
				if i == idx {
					return extractSegments(el.Value, rest, opts)
				}
				i++
			}
			return Value{}, false
		}

		if opts.DisableArrayMapping {
			return Value{}, false
		}

		// Map-style: apply the remaining path to every element, collect
		// hits into a synthetic array writer.
		w := NewArrayWriter()
		any := false
		it := arr.Iterate()
		for el, ok := it.Next(); ok; el, ok = it.Next() {
			if v, found := extractSegments(el.Value, segments, opts); found {
				any = true
				w.AppendValue(v)
			}
		}
		if !any {
			return Value{}, false
		}
		return w.Build().AsValue(), true

	default:
		return Value{}, false
	}
}
