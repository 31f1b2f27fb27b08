// Copyright 2024 Omnistore Authors
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

package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, Equal(1, int64(1)))
	assert.True(t, Equal(float64(1), 1))
	assert.True(t, Equal(uint32(7), 7))
	assert.True(t, Equal("x", "x"))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(1.5, 1))
	assert.False(t, Equal("1", 1))
	assert.True(t, Equal([]any{1, 2}, []any{1, 2}))
}

func TestMatches(t *testing.T) {
	t.Parallel()

	rec := Record{"_id": "a", "authorId": float64(1), "title": "first"}

	assert.True(t, Matches(rec, Filter{}))
	assert.True(t, Matches(rec, Filter{"authorId": 1}))
	assert.True(t, Matches(rec, Filter{"authorId": 1, "title": "first"}))
	assert.False(t, Matches(rec, Filter{"authorId": 2}))
	assert.False(t, Matches(rec, Filter{"missing": nil}))

	assert.True(t, Matches(rec, Filter{"authorId": AnyOf{2, 1}}))
	assert.False(t, Matches(rec, Filter{"authorId": AnyOf{2, 3}}))
	assert.False(t, Matches(rec, Filter{"authorId": AnyOf{}}))
}

func TestApplyPatch(t *testing.T) {
	t.Parallel()

	rec := Record{"_id": "a", "n": 1, "old": "v"}
	res := ApplyPatch(rec, Patch{"n": 2, "old": Unset, "new": "v"})

	assert.Equal(t, Record{"_id": "a", "n": 2, "new": "v"}, res)

	// input is not modified
	assert.Equal(t, Record{"_id": "a", "n": 1, "old": "v"}, rec)
}

func TestEnsureID(t *testing.T) {
	t.Parallel()

	rec := Record{"name": "x"}
	res := EnsureID(rec)
	require.NotEmpty(t, res[IDField])
	assert.NotContains(t, rec, IDField)

	withID := Record{IDField: "fixed"}
	assert.Equal(t, withID, EnsureID(withID))
}
