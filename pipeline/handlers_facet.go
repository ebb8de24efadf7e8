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

import (
	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/dberrors"
)

func init() {
	register(StageFacet, handleFacet)
}

// handleFacet lowers $facet into a FacetCollect node carrying one
// compiled arm per output field (spec.md §4.4: "evaluate N sub-pipelines
// in parallel over the same input... lowers to N subqueries unioned by a
// single-row aggregator that collects each arm's output as an array
// field").
func handleFacet(spec bsonval.Value, in *QueryNode, ctx *BuildContext, env *Env) (*QueryNode, error) {
	doc, err := requireDocument(StageFacet, spec)
	if err != nil {
		return nil, err
	}

	node := &QueryNode{Kind: NodeFacetCollect, Input: in, Facets: make(map[string]*QueryNode)}

	it := doc.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		stages, err := decodeStageArray(el.Value)
		if err != nil {
			return nil, err
		}
		armIn := &QueryNode{Kind: NodeSubquery, Input: in}
		arm, err := CompileFacetArm(stages, armIn, ctx, env)
		if err != nil {
			return nil, dberrors.StageSpecInvalid.New(string(StageFacet), err.Error())
		}
		node.Facets[el.Name] = arm
	}
	return node, nil
}
