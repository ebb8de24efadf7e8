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

// Package indexam hosts a capability-driven registry of index access
// methods and routes queries and inserts to the appropriate one (spec.md
// §4.6). The registry itself, and its AM-by-name / AM-by-capability
// lookup, is grounded on the teacher's sql/test_util index-driver harness
// (IsMergeable/Union/Intersection/Difference shape); the default AM
// implementation is backed by pilosa's bitmap index the way the teacher's
// go.mod pulls in pilosa for exactly this purpose (spec.md §9).
package indexam

import "github.com/vitrodb/vitrocore/dberrors"

// MaxAlternateAMs bounds the registry to at most N alternate AMs plus a
// default (spec.md §4.6).
const MaxAlternateAMs = 5

// Strategy is one entry in the index-strategy vocabulary used by
// operator-class glue to express what an index entry matches (spec.md
// §4.6).
type Strategy string

const (
	StrategyEqual            Strategy = "equal"
	StrategyGreater          Strategy = "greater"
	StrategyGreaterEqual     Strategy = "greater-equal"
	StrategyLess             Strategy = "less"
	StrategyLessEqual        Strategy = "less-equal"
	StrategyIn               Strategy = "in"
	StrategyNotEqual         Strategy = "not-equal"
	StrategyNotIn            Strategy = "not-in"
	StrategyRegex            Strategy = "regex"
	StrategyExists           Strategy = "exists"
	StrategySize             Strategy = "size"
	StrategyType             Strategy = "type"
	StrategyAll              Strategy = "all"
	StrategyBitsAllClear     Strategy = "bits-all-clear"
	StrategyBitsAnyClear     Strategy = "bits-any-clear"
	StrategyBitsAllSet       Strategy = "bits-all-set"
	StrategyBitsAnySet       Strategy = "bits-any-set"
	StrategyMod              Strategy = "mod"
	StrategyOrderBy          Strategy = "order-by"
	StrategyText             Strategy = "text"
	StrategyGeoWithin        Strategy = "geo-within"
	StrategyGeoIntersects    Strategy = "geo-intersects"
	StrategyRange            Strategy = "range"
	StrategyNotGreater       Strategy = "not-gt"
	StrategyNotGreaterEqual  Strategy = "not-gte"
	StrategyNotLess          Strategy = "not-lt"
	StrategyNotLessEqual     Strategy = "not-lte"
	StrategyGeoNear          Strategy = "geonear"
	StrategyGeoNearRange     Strategy = "geonear-range"
	StrategyCompositeQuery   Strategy = "composite-query"
	StrategyIsMultikey       Strategy = "is-multikey"
	StrategyOrderByReverse   Strategy = "order-by-reverse"
	StrategyHasTruncatedTerms Strategy = "has-truncated-terms"
)

// IsNegation reports whether s requires wrapping index results with an
// anti-match (spec.md §4.6: "strategies whose name starts with not- are
// negation strategies").
func (s Strategy) IsNegation() bool {
	return len(s) > 4 && s[:4] == "not-"
}

// OpFamily identifies one operator family an AM resolves callbacks for
// (single-path, composite, text, hashed, unique — spec.md §3.6).
type OpFamily string

const (
	OpFamilySinglePath OpFamily = "single-path"
	OpFamilyComposite  OpFamily = "composite"
	OpFamilyText       OpFamily = "text"
	OpFamilyHashed     OpFamily = "hashed"
	OpFamilyUnique     OpFamily = "unique"
)

// IndexOnlyScanResult is the tuple supports-index-only-scan yields
// (spec.md §4.6).
type IndexOnlyScanResult struct {
	Supports     bool
	IsMultikeyFn func(indexID string) bool
	TruncationFn func(indexID string) bool
}

// Entry is one immutable index access method registration (spec.md §3.6).
type Entry struct {
	Name string // access-method name, e.g. "hashed", "bitmap", "btree"
	ID   string // identifier used by the relational substrate

	SinglePath    bool
	Unique        bool
	Wildcard      bool
	Composite     bool
	Text          bool
	Hashed        bool
	OrderBy       bool
	BackwardsScan bool
	IndexOnlyScan bool
	ParallelScan  bool

	// ResolveOpFamily resolves the operator-family identifier for a
	// supported class (spec.md §3.6).
	ResolveOpFamily func(class OpFamily) (string, bool)

	// Explain renders AM-specific EXPLAIN output, if supported.
	Explain func() string

	// IsMultikey reports whether a concrete index built by this AM
	// indexes array-valued paths.
	IsMultikey func(indexID string) bool

	// IsTruncated reports whether a concrete index built by this AM
	// stores truncated (prefix-only) terms.
	IsTruncated func(indexID string) bool
}

// Registry hosts at most MaxAlternateAMs alternate AMs plus a default
// (spec.md §4.6).
type Registry struct {
	byName  map[string]*Entry
	order   []*Entry
	deflt   *Entry
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Entry)}
}

// Register adds am, failing with IndexOptionsConflict if the name is
// already taken or the alternate-AM cap is exceeded.
func (r *Registry) Register(am *Entry, isDefault bool) error {
	if _, exists := r.byName[am.Name]; exists {
		return dberrors.IndexOptionsConflict.New("access method already registered: " + am.Name)
	}
	if !isDefault && len(r.order) >= MaxAlternateAMs {
		return dberrors.IndexOptionsConflict.New("alternate access method limit exceeded")
	}

	r.byName[am.Name] = am
	if isDefault {
		r.deflt = am
	} else {
		r.order = append(r.order, am)
	}
	return nil
}

// Lookup finds an AM by name (spec.md §4.6 "Lookup is by name for CREATE
// INDEX").
func (r *Registry) Lookup(name string) (*Entry, error) {
	if am, ok := r.byName[name]; ok {
		return am, nil
	}
	return nil, dberrors.UnableToFindIndex.New(name)
}

// Default returns the registry's default AM.
func (r *Registry) Default() *Entry {
	return r.deflt
}

// FindByCapability returns every registered AM (including the default)
// satisfying predicate, for query-planning lookups (spec.md §4.6 "Lookup
// is ... by capability predicates for query planning").
func (r *Registry) FindByCapability(predicate func(*Entry) bool) []*Entry {
	var matches []*Entry
	if r.deflt != nil && predicate(r.deflt) {
		matches = append(matches, r.deflt)
	}
	for _, am := range r.order {
		if predicate(am) {
			matches = append(matches, am)
		}
	}
	return matches
}

// IsRegularBSONIndexAM serves dotted-path, wildcard, composite index
// classes (spec.md §4.6 `is-regular-bson-index-am`).
func IsRegularBSONIndexAM(am *Entry) bool {
	return am.SinglePath || am.Wildcard || am.Composite
}

// RequiresRangeOptimization signals the compiler to split range
// predicates for the given opfamily (spec.md §4.6).
func RequiresRangeOptimization(am *Entry, family OpFamily) bool {
	return am.OrderBy && family == OpFamilyComposite
}

// IsCompositeOpFamily reports whether am represents a multi-column
// ordered index (spec.md §4.6).
func IsCompositeOpFamily(am *Entry, family OpFamily) bool {
	return am.Composite && family == OpFamilyComposite
}

// SupportsParallelScans reports whether am supports parallel scans for
// the given opfamily (spec.md §4.6).
func SupportsParallelScans(am *Entry, family OpFamily) bool {
	return am.ParallelScan
}

// IsOrderBySupportedOnOpclass reports ORDER BY pushdown support (spec.md
// §4.6).
func IsOrderBySupportedOnOpclass(am *Entry, class OpFamily) bool {
	return am.OrderBy
}

// SupportsIndexOnlyScan yields the tuple of callbacks spec.md §4.6
// describes for a given AM/opfamily pair.
func SupportsIndexOnlyScan(am *Entry, family OpFamily) IndexOnlyScanResult {
	if !am.IndexOnlyScan {
		return IndexOnlyScanResult{}
	}
	return IndexOnlyScanResult{
		Supports:     true,
		IsMultikeyFn: am.IsMultikey,
		TruncationFn: am.IsTruncated,
	}
}
