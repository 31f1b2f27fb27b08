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

package omnistore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/testutil"
)

func TestIncrement(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	f := memoryFacade(t, p, backends.Config{"collection": "counters"})
	require.NoError(t, f.Connect(ctx))

	_, err := f.Insert(ctx, backends.Record{"name": "visits", "value": 40})
	require.NoError(t, err)

	rec, err := f.Increment(ctx, backends.Filter{"name": "visits"}, "value", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 42, rec["value"])

	stored, err := f.QueryOne(ctx, backends.Filter{"name": "visits"})
	require.NoError(t, err)
	assert.EqualValues(t, 42, stored["value"])

	// an absent field counts from zero
	rec, err = f.Increment(ctx, backends.Filter{"name": "visits"}, "errors", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rec["errors"])

	// floats stay floats
	_, err = f.Insert(ctx, backends.Record{"name": "load", "value": 0.5})
	require.NoError(t, err)

	rec, err = f.Increment(ctx, backends.Filter{"name": "load"}, "value", 1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, rec["value"])

	// unlike bulk updates, no match is a distinct failure
	_, err = f.Increment(ctx, backends.Filter{"name": "no-such"}, "value", 1)
	assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeRecordNotFound), "%v", err)

	_, err = f.Increment(ctx, backends.Filter{"name": "visits"}, "name", 1)
	assert.Error(t, err)
}

func TestPushPull(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	f := memoryFacade(t, p, backends.Config{"collection": "users"})
	require.NoError(t, f.Connect(ctx))

	_, err := f.Insert(ctx, backends.Record{"name": "x", "tags": []any{"a"}})
	require.NoError(t, err)
	_, err = f.Insert(ctx, backends.Record{"name": "y"})
	require.NoError(t, err)

	n, err := f.Push(ctx, backends.Filter{}, "tags", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	x, err := f.QueryOne(ctx, backends.Filter{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, x["tags"])

	// an absent field becomes a one-element array
	y, err := f.QueryOne(ctx, backends.Filter{"name": "y"})
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, y["tags"])

	// only records carrying the element are modified
	n, err = f.Pull(ctx, backends.Filter{}, "tags", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	x, err = f.QueryOne(ctx, backends.Filter{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, x["tags"])

	n, err = f.Pull(ctx, backends.Filter{}, "tags", "no-such")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnsetRename(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	f := memoryFacade(t, p, backends.Config{"collection": "users"})
	require.NoError(t, f.Connect(ctx))

	_, err := f.Insert(ctx, backends.Record{"name": "x", "tmp": 1, "login": "old"})
	require.NoError(t, err)
	_, err = f.Insert(ctx, backends.Record{"name": "y"})
	require.NoError(t, err)

	n, err := f.Unset(ctx, backends.Filter{"name": "x"}, "tmp")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	x, err := f.QueryOne(ctx, backends.Filter{"name": "x"})
	require.NoError(t, err)
	assert.NotContains(t, x, "tmp")

	// only records carrying the old field count
	n, err = f.Rename(ctx, backends.Filter{}, "login", "username")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	x, err = f.QueryOne(ctx, backends.Filter{"name": "x"})
	require.NoError(t, err)
	assert.Equal(t, "old", x["username"])
	assert.NotContains(t, x, "login")
}

func TestMutateNotConnected(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	f := memoryFacade(t, p, backends.Config{"collection": "users"})

	_, err := f.Increment(ctx, backends.Filter{}, "value", 1)
	assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeNotConnected), "%v", err)

	_, err = f.Push(ctx, backends.Filter{}, "tags", "a")
	assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeNotConnected), "%v", err)
}
