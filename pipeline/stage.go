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

// Package pipeline compiles an aggregation pipeline (a list of {name, spec}
// stages, spec.md §3.3) into a query tree the relational substrate can plan
// and execute. Stage handlers are plain functions over an explicit
// BuildContext (spec.md §3.4) rather than methods on an analyzer-wide
// visitor, the same per-rule-function shape the teacher's sql/analyzer
// package used for its rule list (spec.md §9).
package pipeline

import "github.com/vitrodb/vitrocore/bsonval"

// Name is one of the closed set of ~45 stage names (spec.md §3.3).
type Name string

const (
	StageMatch              Name = "$match"
	StageProject            Name = "$project"
	StageAddFields           Name = "$addFields"
	StageSet                Name = "$set"
	StageUnset              Name = "$unset"
	StageGroup              Name = "$group"
	StageSort               Name = "$sort"
	StageLimit              Name = "$limit"
	StageSkip               Name = "$skip"
	StageUnwind             Name = "$unwind"
	StageLookup             Name = "$lookup"
	StageGraphLookup        Name = "$graphLookup"
	StageFacet              Name = "$facet"
	StageUnionWith          Name = "$unionWith"
	StageBucket             Name = "$bucket"
	StageBucketAuto         Name = "$bucketAuto"
	StageDensify            Name = "$densify"
	StageSetWindowFields    Name = "$setWindowFields"
	StageFill               Name = "$fill"
	StageGeoNear            Name = "$geoNear"
	StageSearch             Name = "$search"
	StageVectorSearch       Name = "$vectorSearch"
	StageOut                Name = "$out"
	StageMerge              Name = "$merge"
	StageRedact             Name = "$redact"
	StageReplaceRoot        Name = "$replaceRoot"
	StageReplaceWith        Name = "$replaceWith"
	StageSortByCount        Name = "$sortByCount"
	StageSample             Name = "$sample"
	StageCount              Name = "$count"
	StageChangeStream       Name = "$changeStream"
	StageCurrentOp          Name = "$currentOp"
	StageIndexStats         Name = "$indexStats"
	StageCollStats          Name = "$collStats"
	StageListSessions       Name = "$listSessions"
	StageListLocalSessions  Name = "$listLocalSessions"
	StageDocuments          Name = "$documents"

	// Internal-only stage names, never present in a client-supplied
	// pipeline: InhibitOptimization blocks fusion/reordering across it;
	// LookupUnwind is the fused form the compiler itself emits.
	StageInhibitOptimization Name = "InhibitOptimization"
	StageLookupUnwind        Name = "LookupUnwind"
)

// multiStreamStages is the set of stages forbidden inside a $facet arm
// because they produce more than one output stream (spec.md §4.4).
var multiStreamStages = map[Name]bool{
	StageOut:          true,
	StageMerge:        true,
	StageFacet:        true,
	StageChangeStream: true,
	StageCurrentOp:    true,
	StageIndexStats:   true,
}

// projectionClassStages permit one more same-class stage in a row before
// the compiler forces a subquery boundary (spec.md §4.4).
var projectionClassStages = map[Name]bool{
	StageProject:     true,
	StageAddFields:   true,
	StageSet:         true,
	StageUnset:       true,
	StageReplaceRoot: true,
	StageReplaceWith: true,
}

// subqueryForcingStages require a subquery before the *next* stage
// (spec.md §4.4).
var subqueryForcingStages = map[Name]bool{
	StageGroup:           true,
	StageBucket:          true,
	StageBucketAuto:      true,
	StageFacet:           true,
	StageSortByCount:     true,
	StageSetWindowFields: true,
}

// orderPreservingStages do not invalidate a previously recorded sort-spec
// (spec.md §4.4 "after any stage that introduces or invalidates an
// ordering: reset the recorded sort-spec" — everything not in this set
// invalidates it).
var orderPreservingStages = map[Name]bool{
	StageLimit: true,
	StageSkip:  true,
	StageMatch: true,
}

// Stage is one {name, spec} pipeline element (spec.md §3.3). Spec is a
// BSON value, not necessarily a document: $limit/$skip/$count/$sample
// take a number, $sortByCount/$replaceWith/$unwind can take a string or
// expression, $documents takes an array.
type Stage struct {
	Name Name
	Spec bsonval.Value
}

// AsDocument returns Spec reinterpreted as a document, or ok=false if it
// is not one.
func (s Stage) AsDocument() (bsonval.Document, bool) {
	return s.Spec.Document()
}
