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

package cursor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitrodb/vitrocore/cursor"
)

func TestContinuationTokenRoundTrip(t *testing.T) {
	want := cursor.ContinuationToken{
		PrimaryKey: "shard1",
		TableContinuations: []cursor.TableContinuation{
			{Table: "orders", State: []byte{1, 2, 3}},
		},
		Params: map[string]interface{}{"limit": int64(10)},
	}

	raw, err := cursor.Encode(want)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	got, err := cursor.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, want.PrimaryKey, got.PrimaryKey)
	require.Len(t, got.TableContinuations, 1)
	require.Equal(t, "orders", got.TableContinuations[0].Table)
	require.Equal(t, []byte{1, 2, 3}, got.TableContinuations[0].State)
}

func TestDecodeMalformedTokenErrors(t *testing.T) {
	_, err := cursor.Decode([]byte{0xff, 0x00, 0x01})
	require.Error(t, err)
}
