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

package indexam_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/indexam"
)

func TestRegisterAndLookupDefault(t *testing.T) {
	r := indexam.NewRegistry()
	bitmap := &indexam.Entry{Name: "bitmap", Hashed: true, SinglePath: true}
	require.NoError(t, r.Register(bitmap, true))

	require.Equal(t, bitmap, r.Default())
	got, err := r.Lookup("bitmap")
	require.NoError(t, err)
	require.Equal(t, bitmap, got)
}

func TestLookupUnknownNameFails(t *testing.T) {
	r := indexam.NewRegistry()
	_, err := r.Lookup("no-such-am")
	require.Error(t, err)
}

func TestRegisterDuplicateNameRejected(t *testing.T) {
	r := indexam.NewRegistry()
	require.NoError(t, r.Register(&indexam.Entry{Name: "btree"}, true))
	err := r.Register(&indexam.Entry{Name: "btree"}, false)
	require.Error(t, err)
}

func TestRegisterAlternateAMCapEnforced(t *testing.T) {
	r := indexam.NewRegistry()
	require.NoError(t, r.Register(&indexam.Entry{Name: "default"}, true))
	for i := 0; i < indexam.MaxAlternateAMs; i++ {
		name := string(rune('a' + i))
		require.NoError(t, r.Register(&indexam.Entry{Name: name}, false))
	}
	err := r.Register(&indexam.Entry{Name: "one-too-many"}, false)
	require.Error(t, err)
}

func TestFindByCapabilityIncludesDefaultAndAlternates(t *testing.T) {
	r := indexam.NewRegistry()
	deflt := &indexam.Entry{Name: "bitmap", Hashed: true}
	alt := &indexam.Entry{Name: "btree", OrderBy: true, Composite: true}
	require.NoError(t, r.Register(deflt, true))
	require.NoError(t, r.Register(alt, false))

	matches := r.FindByCapability(func(e *indexam.Entry) bool { return e.OrderBy })
	require.Equal(t, []*indexam.Entry{alt}, matches)
}

func TestIsRegularBSONIndexAM(t *testing.T) {
	require.True(t, indexam.IsRegularBSONIndexAM(&indexam.Entry{SinglePath: true}))
	require.True(t, indexam.IsRegularBSONIndexAM(&indexam.Entry{Wildcard: true}))
	require.True(t, indexam.IsRegularBSONIndexAM(&indexam.Entry{Composite: true}))
	require.False(t, indexam.IsRegularBSONIndexAM(&indexam.Entry{Hashed: true}))
}

func TestRequiresRangeOptimization(t *testing.T) {
	am := &indexam.Entry{OrderBy: true}
	require.True(t, indexam.RequiresRangeOptimization(am, indexam.OpFamilyComposite))
	require.False(t, indexam.RequiresRangeOptimization(am, indexam.OpFamilySinglePath))
	require.False(t, indexam.RequiresRangeOptimization(&indexam.Entry{}, indexam.OpFamilyComposite))
}

func TestIsCompositeOpFamily(t *testing.T) {
	am := &indexam.Entry{Composite: true}
	require.True(t, indexam.IsCompositeOpFamily(am, indexam.OpFamilyComposite))
	require.False(t, indexam.IsCompositeOpFamily(am, indexam.OpFamilyHashed))
}

func TestSupportsParallelScans(t *testing.T) {
	require.True(t, indexam.SupportsParallelScans(&indexam.Entry{ParallelScan: true}, indexam.OpFamilySinglePath))
	require.False(t, indexam.SupportsParallelScans(&indexam.Entry{}, indexam.OpFamilySinglePath))
}

func TestIsOrderBySupportedOnOpclass(t *testing.T) {
	require.True(t, indexam.IsOrderBySupportedOnOpclass(&indexam.Entry{OrderBy: true}, indexam.OpFamilyComposite))
	require.False(t, indexam.IsOrderBySupportedOnOpclass(&indexam.Entry{}, indexam.OpFamilyComposite))
}

func TestSupportsIndexOnlyScan(t *testing.T) {
	multikey := func(string) bool { return true }
	truncated := func(string) bool { return false }
	am := &indexam.Entry{IndexOnlyScan: true, IsMultikey: multikey, IsTruncated: truncated}

	res := indexam.SupportsIndexOnlyScan(am, indexam.OpFamilySinglePath)
	require.True(t, res.Supports)
	require.True(t, res.IsMultikeyFn("idx"))
	require.False(t, res.TruncationFn("idx"))

	none := indexam.SupportsIndexOnlyScan(&indexam.Entry{}, indexam.OpFamilySinglePath)
	require.False(t, none.Supports)
	require.Nil(t, none.IsMultikeyFn)
}

func TestStrategyIsNegation(t *testing.T) {
	require.True(t, indexam.StrategyNotEqual.IsNegation())
	require.True(t, indexam.StrategyNotIn.IsNegation())
	require.False(t, indexam.StrategyEqual.IsNegation())
	require.False(t, indexam.StrategyIn.IsNegation())
}
