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

package dberrors_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/dberrors"
)

func TestKindMembershipDistinguishesCodes(t *testing.T) {
	err := dberrors.NamespaceNotFound.New("db.coll")
	require.True(t, dberrors.NamespaceNotFound.Is(err))
	require.False(t, dberrors.IndexNotFound.Is(err))
}

func TestLocationErrorCarriesNumberAndMessage(t *testing.T) {
	err := dberrors.Location(51091, "field name cannot contain %q", ".")
	require.True(t, dberrors.IsLocation(err))
	require.Contains(t, err.Error(), "51091")
	require.Contains(t, err.Error(), "field name cannot contain")
}

func TestIsLocationFalseForOtherKinds(t *testing.T) {
	err := dberrors.BadValue.New("not an int")
	require.False(t, dberrors.IsLocation(err))
}
