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

package pathtree

import "strings"

// BuildWildcard normalizes a wildcard index key pattern (`{"$**":1}` or a
// sub-path-prefixed wildcard, spec.md §3.2, §4.6 GLOSSARY) into a tree
// where every key is a single-segment path, redundant specifications are
// deduplicated, and _id inclusion is always materialized with a default
// of false (spec.md §3.2: "Wildcard projection produces a normalized tree
// where ... _id inclusion is always materialized (default false)").
func BuildWildcard(prefixes []string, includeID bool) *Tree {
	t := &Tree{
		Root:                    newIntermediate(""),
		AllowInclusionExclusion: false,
	}

	seen := make(map[string]bool)
	for _, p := range prefixes {
		seg := firstSegment(p)
		if seg == "" || seen[seg] {
			continue
		}
		seen[seg] = true
		t.Root.addChild(&Node{Segment: seg, Kind: KindIncluded})
	}

	idKind := KindExcluded
	if includeID {
		idKind = KindIncluded
	}
	if !seen["_id"] {
		t.Root.addChild(&Node{Segment: "_id", Kind: idKind})
	}

	t.sawIncluded = true
	return t
}

func firstSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}
