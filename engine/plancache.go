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

package engine

import (
	"sync"

	"github.com/mitchellh/hashstructure"

	"github.com/vitrodb/vitrocore/pipeline"
)

// planKey is the request a compiled query tree is cached under: operation
// kind, target collection, and a byte-exact fingerprint of every stage
// (name, wire type, and encoded bytes). A compiled QueryNode bakes each
// stage's literal values straight into its Predicate/Expression closures,
// so the cache can only ever replay a request whose stages are byte-for-
// byte identical to the one compiled — it is a repeated-query cache, not
// a shape-only plan cache with parameter binding.
type planKey struct {
	Op         string
	Database   string
	Collection string
	Stages     []stageFingerprint
}

// stageFingerprint captures one stage's identity for cache-key purposes
// via Value's exported accessors, never its unexported fields.
type stageFingerprint struct {
	Name string
	Type byte
	Raw  string
}

func fingerprintStages(stages []pipeline.Stage) []stageFingerprint {
	fps := make([]stageFingerprint, len(stages))
	for i, s := range stages {
		fps[i] = stageFingerprint{
			Name: string(s.Name),
			Type: byte(s.Spec.Type()),
			Raw:  string(s.Spec.Raw()),
		}
	}
	return fps
}

type planEntry struct {
	node    *pipeline.QueryNode
	ctx     *pipeline.BuildContext
	version uint64
}

// PlanCache is a process-wide cache of compiled query trees keyed by
// request fingerprint, invalidated whenever the engine's metadata version
// advances (an index or collection is created or dropped). This
// generalizes the teacher's session-id+query-string PreparedDataCache to
// a single shared cache keyed by request shape instead of by session,
// since this core has no SQL text or per-session prepared statements to
// key on.
type PlanCache struct {
	mu      sync.Mutex
	entries map[uint64]*planEntry
}

// NewPlanCache constructs an empty plan cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{entries: make(map[uint64]*planEntry)}
}

func (p *PlanCache) lookup(key planKey, version uint64) (*pipeline.QueryNode, *pipeline.BuildContext, bool) {
	h, err := hashstructure.Hash(key, nil)
	if err != nil {
		return nil, nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[h]
	if !ok || e.version != version {
		return nil, nil, false
	}
	return e.node, e.ctx, true
}

func (p *PlanCache) store(key planKey, version uint64, node *pipeline.QueryNode, ctx *pipeline.BuildContext) {
	h, err := hashstructure.Hash(key, nil)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[h] = &planEntry{node: node, ctx: ctx, version: version}
}

// Len reports how many compiled plans are currently cached.
func (p *PlanCache) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
