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

package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/teststress"
	"github.com/omnistore/omnistore/internal/util/testutil"
)

func TestCRUD(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	b := New(&NewParams{Namespace: "singers"})
	require.NoError(t, b.Connect(ctx))

	stored, err := b.Insert(ctx, backends.Record{"name": "Ann", "albums": 2})
	require.NoError(t, err)
	require.NotEmpty(t, stored["_id"])

	_, err = b.Insert(ctx, backends.Record{"_id": "b", "name": "Bob", "albums": 5})
	require.NoError(t, err)

	all, err := b.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := b.QueryOne(ctx, backends.Filter{"name": "Bob"})
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "b", one["_id"])

	absent, err := b.QueryOne(ctx, backends.Filter{"name": "Zed"})
	require.NoError(t, err)
	assert.Nil(t, absent)

	n, err := b.Update(ctx, backends.Filter{"name": "Bob"}, backends.Patch{"albums": 6})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := b.Count(ctx, backends.Filter{"albums": 6})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := b.Exists(ctx, backends.Filter{"name": "Ann"})
	require.NoError(t, err)
	assert.True(t, exists)

	n, err = b.Delete(ctx, backends.Filter{"name": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err = b.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestQueryDoesNotAliasStorage(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	b := New(&NewParams{})
	require.NoError(t, b.Connect(ctx))

	_, err := b.Insert(ctx, backends.Record{"_id": "1", "n": 1})
	require.NoError(t, err)

	res, err := b.Query(ctx, nil)
	require.NoError(t, err)
	res[0]["n"] = 42

	fresh, err := b.QueryOne(ctx, backends.Filter{"_id": "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, fresh["n"])
}

func TestSubResources(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	b := New(&NewParams{Namespace: "posts"})
	require.NoError(t, b.Connect(ctx))

	sel, ok := backends.AsSubResourceSelector(b)
	require.True(t, ok)

	authors, err := sel.SelectSubResource("authors")
	require.NoError(t, err)

	_, err = b.Insert(ctx, backends.Record{"_id": "p1"})
	require.NoError(t, err)
	_, err = authors.Insert(ctx, backends.Record{"_id": "a1"})
	require.NoError(t, err)

	n, err := b.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = authors.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// scoped handles share liveness
	lc, ok := backends.AsLivenessChecker(authors)
	require.True(t, ok)
	assert.True(t, lc.IsConnected())
}

func TestInsertStress(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	b := New(&NewParams{})
	require.NoError(t, b.Connect(ctx))

	n := teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		_, err := b.Insert(ctx, backends.Record{"v": 1})
		assert.NoError(t, err)
	})

	count, err := b.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, n, count)
}

type rejectAll struct{}

func (rejectAll) Validate(rec backends.Record) error {
	return fmt.Errorf("rejected %v", rec["_id"])
}

func TestSchema(t *testing.T) {
	t.Parallel()
	ctx := testutil.Ctx(t)

	b := New(&NewParams{})
	require.NoError(t, b.Connect(ctx))

	sa, ok := backends.AsSchemaAttacher(b)
	require.True(t, ok)
	require.NoError(t, sa.AttachSchema(rejectAll{}))

	_, err := b.Insert(ctx, backends.Record{"_id": "x"})
	assert.EqualError(t, err, "rejected x")
}
