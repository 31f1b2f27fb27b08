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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/teststress"
	"github.com/omnistore/omnistore/internal/util/testutil"
)

// fakeBackend is a controllable backend for coordination tests:
// it counts connect attempts and can delay, gate, or fail them.
//
//nolint:vet // for readability
type fakeBackend struct {
	delay time.Duration
	gate  chan struct{} // when set, Connect blocks until it is closed

	mu           sync.Mutex
	connected    bool
	connects     int
	failConnects int // remaining connect attempts to fail
}

func (b *fakeBackend) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.connects++

	fail := b.failConnects > 0
	if fail {
		b.failConnects--
	}

	b.mu.Unlock()

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if fail {
		return errors.New("connection refused")
	}

	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	return nil
}

func (b *fakeBackend) Disconnect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connected = false

	return nil
}

func (b *fakeBackend) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.connects
}

func (b *fakeBackend) Insert(_ context.Context, rec backends.Record) (backends.Record, error) {
	return backends.EnsureID(rec), nil
}

func (b *fakeBackend) Query(context.Context, backends.Filter) ([]backends.Record, error) {
	return nil, nil
}

func (b *fakeBackend) QueryOne(context.Context, backends.Filter) (backends.Record, error) {
	return nil, nil
}

func (b *fakeBackend) Update(context.Context, backends.Filter, backends.Patch) (int, error) {
	return 0, nil
}

func (b *fakeBackend) Delete(context.Context, backends.Filter) (int, error) { return 0, nil }

func (b *fakeBackend) Exists(context.Context, backends.Filter) (bool, error) { return false, nil }

func (b *fakeBackend) Count(context.Context, backends.Filter) (int, error) { return 0, nil }

func TestPoolGetOrOpen(t *testing.T) {
	t.Parallel()

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	var opens, createds atomic.Int32

	var handlesMu sync.Mutex
	var handles []backends.Backend

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		b, created, err := p.GetOrOpen("shared", func() (backends.Backend, error) {
			opens.Add(1)
			return new(fakeBackend), nil
		})
		require.NoError(t, err)

		if created {
			createds.Add(1)
		}

		handlesMu.Lock()
		handles = append(handles, b)
		handlesMu.Unlock()
	})

	assert.EqualValues(t, 1, opens.Load())
	assert.EqualValues(t, 1, createds.Load())

	for _, b := range handles {
		assert.Same(t, handles[0], b)
	}

	assert.Equal(t, []string{"shared"}, p.Keys())
}

func TestPoolEnsureConnectedOnce(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	b := &fakeBackend{delay: 10 * time.Millisecond}

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		require.NoError(t, p.EnsureConnected(ctx, "k", b))
	})

	assert.Equal(t, 1, b.Connects())
	assert.True(t, p.Connected("k"))

	// fast path; no new attempt
	require.NoError(t, p.EnsureConnected(ctx, "k", b))
	assert.Equal(t, 1, b.Connects())
}

func TestPoolConnectFailureShared(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	b := &fakeBackend{gate: make(chan struct{}), failConnects: 1}

	ownerErr := make(chan error, 1)

	go func() {
		ownerErr <- p.EnsureConnected(ctx, "k", b)
	}()

	// wait until the owner's attempt is in flight
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()

		e := p.entries["k"]

		return e != nil && e.pending != nil
	}, time.Second, time.Millisecond)

	const waiters = 3
	waiterErrs := make(chan error, waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			waiterErrs <- p.EnsureConnected(ctx, "k", b)
		}()
	}

	// let the waiters join the pending marker, then fail the attempt
	time.Sleep(50 * time.Millisecond)
	close(b.gate)

	err := <-ownerErr
	require.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeConnectionFailed), "%v", err)

	for i := 0; i < waiters; i++ {
		err = <-waiterErrs
		assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeConnectionFailed), "%v", err)
	}

	// one real attempt failed every caller together
	assert.Equal(t, 1, b.Connects())
	assert.False(t, p.Connected("k"))

	// the marker is retired; a later call triggers a fresh attempt
	require.NoError(t, p.EnsureConnected(ctx, "k", b))
	assert.Equal(t, 2, b.Connects())
	assert.True(t, p.Connected("k"))
}

func TestPoolConnectAllFail(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	b := &fakeBackend{delay: time.Millisecond, failConnects: 1 << 30}

	teststress.Stress(t, func(ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		err := p.EnsureConnected(ctx, "k", b)
		assert.True(t, backends.ErrorCodeIs(err, backends.ErrorCodeConnectionFailed), "%v", err)
	})

	assert.False(t, p.Connected("k"))
}

func TestPoolDisconnect(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	b := new(fakeBackend)

	require.NoError(t, p.EnsureConnected(ctx, "k", b))
	require.True(t, p.Connected("k"))

	require.NoError(t, p.Disconnect(ctx, "k"))
	assert.False(t, p.Connected("k"))

	// the entry stays registered; reconnecting works
	assert.Equal(t, []string{"k"}, p.Keys())
	require.NoError(t, p.EnsureConnected(ctx, "k", b))
	assert.True(t, p.Connected("k"))
	assert.Equal(t, 2, b.Connects())
}

func TestPoolClosed(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	p.Close()

	_, _, err := p.GetOrOpen("k", func() (backends.Backend, error) {
		return new(fakeBackend), nil
	})
	assert.Error(t, err)

	assert.Error(t, p.EnsureConnected(ctx, "k", new(fakeBackend)))
}

func TestPoolMetrics(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	p := NewPool(testutil.Logger(t))
	defer p.Close()

	require.NoError(t, p.EnsureConnected(ctx, "k", new(fakeBackend)))

	assert.Equal(t, 4, promtestutil.CollectAndCount(p))
}
