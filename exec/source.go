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

package exec

import "github.com/vitrodb/vitrocore/bsonval"

// SliceSource adapts a materialized document slice into a cursor.Source,
// the shape every exec node produces once the tree has been fully walked
// (spec.md §4.5: a cursor's Source is supplied by the pipeline-execution
// side).
type SliceSource struct {
	docs []bsonval.Document
	pos  int
}

// NewSliceSource wraps docs as a cursor.Source.
func NewSliceSource(docs []bsonval.Document) *SliceSource {
	return &SliceSource{docs: docs}
}

func (s *SliceSource) Next() (bsonval.Document, bool, error) {
	if s.pos >= len(s.docs) {
		return nil, false, nil
	}
	d := s.docs[s.pos]
	s.pos++
	return d, true, nil
}

func (s *SliceSource) Close() error { return nil }
