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

package pipeline

import "github.com/vitrodb/vitrocore/bsonval"

// ParentStage tags the kind of enclosing stage a nested pipeline is
// compiled under (spec.md §3.4).
type ParentStage int

const (
	ParentNone ParentStage = iota
	ParentLookup
	ParentFacet
	ParentUnionWith
	ParentInverseMatch
)

// CollectionDescriptor names the target collection a pipeline runs
// against, and the shard key the planner needs for delegation decisions
// (spec.md §4.4 $setWindowFields "checked via context helper").
type CollectionDescriptor struct {
	Database   string
	Collection string
	ShardKey   []string
}

// BuildContext is the mutable structure threaded through every stage
// handler (spec.md §3.4). It is *the* analogue of the teacher's per-rule
// Scope/QueryPlanner struct: one value, passed by pointer, mutated in
// place by each handler as it runs.
type BuildContext struct {
	StageNumber  int
	NestingDepth int
	ParentStage  ParentStage

	// RequiresSubquery is raised by a subquery-forcing stage on exit and
	// consumed (and cleared) by Compile before invoking the next handler.
	RequiresSubquery bool

	// projectionRun counts consecutive projection-class stages so the
	// policy can force a subquery on the second in a row (spec.md §4.4).
	projectionRun int

	// SortSpec is the most recently established ordering, or nil if the
	// preceding stage invalidated it.
	SortSpec bsonval.Document

	// Collation is an optional ICU collation string. No code in this
	// package checks its length against MaxCollationLength.
	Collation string

	Target CollectionDescriptor

	IsPointReadQuery bool
	Tailable         bool

	paramCounter int

	// Vars holds $let-style bindings visible to expression compilation
	// in every subsequent stage (spec.md §3.4, §4.3 "Variables").
	Vars map[string]bsonval.Value
}

// MaxCollationLength is the length bound for BuildContext.Collation
// (spec.md §3.4); nothing in this package enforces it.
const MaxCollationLength = 256

// NextParam allocates the next parameter ordinal for parameterized query
// emission, analogous to the teacher's bindvar counter in its prepared
// statement path.
func (c *BuildContext) NextParam() int {
	c.paramCounter++
	return c.paramCounter
}

// NewBuildContext constructs the root-level context for a top-level
// pipeline compile.
func NewBuildContext(target CollectionDescriptor) *BuildContext {
	return &BuildContext{
		Target: target,
		Vars:   make(map[string]bsonval.Value),
	}
}

// child constructs a nested context for a $lookup/$facet/$unionWith/
// $graphLookup sub-pipeline (spec.md §4.4 "nested-pipeline-level =
// parent + 1").
func (c *BuildContext) child(parent ParentStage, target CollectionDescriptor) *BuildContext {
	vars := make(map[string]bsonval.Value, len(c.Vars))
	for k, v := range c.Vars {
		vars[k] = v
	}
	return &BuildContext{
		NestingDepth: c.NestingDepth + 1,
		ParentStage:  parent,
		Collation:    c.Collation,
		Target:       target,
		Vars:         vars,
	}
}

// resetSortIfInvalidated applies spec.md §4.4's ordering-invalidation
// rule for the stage that just ran.
func (c *BuildContext) resetSortIfInvalidated(name Name) {
	if !orderPreservingStages[name] {
		c.SortSpec = nil
	}
}

// applyProjectionPolicy implements the subquery-injection policy's
// projection-class leg (spec.md §4.4): returns true if this stage must be
// preceded by a subquery wrap.
func (c *BuildContext) applyProjectionPolicy(name Name) bool {
	if !projectionClassStages[name] {
		c.projectionRun = 0
		return false
	}
	c.projectionRun++
	if c.projectionRun > 1 {
		c.projectionRun = 1 // the wrap starts a fresh run at 1
		return true
	}
	return false
}

// applyForcingPolicy implements spec.md §4.4's "require a subquery before
// the next stage" rule, setting RequiresSubquery for Compile to consume.
func (c *BuildContext) applyForcingPolicy(name Name) {
	if subqueryForcingStages[name] {
		c.RequiresSubquery = true
	}
}
