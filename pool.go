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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/lazyerrors"
	"github.com/omnistore/omnistore/internal/util/observability"
	"github.com/omnistore/omnistore/internal/util/resource"
)

// Parts of Prometheus metric names.
const (
	namespace = "omnistore"
	subsystem = "pool"
)

// Pool shares backend handles between facade instances with equal fingerprints
// and coordinates their connection establishment.
//
// Entries live until the pool is closed; there is no automatic eviction.
// A typical application holds one Pool for the whole process; tests construct
// a fresh one each to avoid cross-test leakage.
//
//nolint:vet // for readability
type Pool struct {
	l *zap.Logger

	mu      sync.Mutex
	entries map[string]*poolEntry

	// connect attempt counters, guarded by mu
	connects int64
	failures int64

	token *resource.Token
}

// poolEntry is the registry slot of one fingerprint.
//
// The pool is the sole owner of the handle; facade instances hold
// non-owning references.
type poolEntry struct {
	backend   backends.Backend
	connected bool
	pending   *inflight
}

// inflight is the pending-connection marker: one per key at any time,
// retired when the connect attempt finishes either way.
type inflight struct {
	done chan struct{}
	err  error // set before done is closed
}

// NewPool creates a new empty pool.
//
// Logger may be nil.
func NewPool(l *zap.Logger) *Pool {
	if l == nil {
		l = zap.NewNop()
	}

	p := &Pool{
		l:       l.Named("pool"),
		entries: map[string]*poolEntry{},
		token:   resource.NewToken(),
	}

	resource.Track(p, p.token)

	return p
}

// Close disconnects all connected handles and frees the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, e := range p.entries {
		if !e.connected {
			continue
		}

		if err := e.backend.Disconnect(context.Background()); err != nil {
			p.l.Warn("Failed to disconnect handle.", zap.String("key", key), zap.Error(err))
		}
	}

	p.entries = nil

	resource.Untrack(p, p.token)
}

// GetOrOpen returns the handle registered under the fingerprint,
// or builds one with open and registers it.
//
// Lookup-or-insert is atomic: when callers race on the same fingerprint,
// exactly one open happens and every caller observes the same handle.
// Open must not perform I/O (see backends.Driver).
//
// The returned boolean indicates whether the handle was created.
func (p *Pool) GetOrOpen(fingerprint string, open func() (backends.Backend, error)) (backends.Backend, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.entries == nil {
		return nil, false, lazyerrors.New("pool is closed")
	}

	if e, ok := p.entries[fingerprint]; ok {
		return e.backend, false, nil
	}

	b, err := open()
	if err != nil {
		return nil, false, err
	}

	p.entries[fingerprint] = &poolEntry{backend: b}

	p.l.Debug("Handle registered.", zap.String("fingerprint", fingerprint))

	return b, true, nil
}

// EnsureConnected establishes the connection of the handle registered under key,
// registering b first when the key is unknown (handle-identity keys of facades
// built from existing handles).
//
// At most one connect attempt is in flight per key: the first caller performs
// the real connect, concurrent callers await its outcome and share it. A failed
// attempt fails every waiter with the same ErrorCodeConnectionFailed, retires
// the marker, and leaves the entry disconnected so a later call may retry.
// A key already marked connected returns immediately.
func (p *Pool) EnsureConnected(ctx context.Context, key string, b backends.Backend) error {
	defer observability.FuncCall(ctx)()

	p.mu.Lock()

	if p.entries == nil {
		p.mu.Unlock()
		return lazyerrors.New("pool is closed")
	}

	e := p.entries[key]
	if e == nil {
		e = &poolEntry{backend: b}
		p.entries[key] = e
	}

	// fast path
	if e.connected {
		p.mu.Unlock()
		return nil
	}

	if lc, ok := backends.AsLivenessChecker(e.backend); ok && lc.IsConnected() {
		e.connected = true
		p.mu.Unlock()

		return nil
	}

	if f := e.pending; f != nil {
		p.mu.Unlock()

		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f := &inflight{done: make(chan struct{})}
	e.pending = f
	p.connects++

	p.mu.Unlock()

	err := e.backend.Connect(ctx)

	p.mu.Lock()

	e.pending = nil

	if err == nil {
		e.connected = true
	} else {
		p.failures++
		f.err = backends.NewError(backends.ErrorCodeConnectionFailed, err)
	}

	p.mu.Unlock()

	close(f.done)

	if f.err != nil {
		p.l.Warn("Connect failed.", zap.String("key", key), zap.Error(err))
	}

	return f.err
}

// Disconnect delegates to the handle registered under key and clears its
// connected mark. The handle itself stays registered so other facade
// instances sharing it remain usable and may reconnect.
func (p *Pool) Disconnect(ctx context.Context, key string) error {
	defer observability.FuncCall(ctx)()

	p.mu.Lock()

	e := p.entries[key]
	if e == nil || !e.connected {
		p.mu.Unlock()
		return nil
	}

	e.connected = false
	b := e.backend

	p.mu.Unlock()

	return b.Disconnect(ctx)
}

// Connected reports whether the handle registered under key is marked connected.
func (p *Pool) Connected(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entries[key]

	return e != nil && e.connected
}

// Keys returns the sorted registered coordination keys.
func (p *Pool) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := maps.Keys(p.entries)
	slices.Sort(res)

	return res
}

// Describe implements prometheus.Collector.
func (p *Pool) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(p, ch)
}

// Collect implements prometheus.Collector.
func (p *Pool) Collect(ch chan<- prometheus.Metric) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var connected int
	for _, e := range p.entries {
		if e.connected {
			connected++
		}
	}

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "handles"),
			"The current number of registered backend handles.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(p.entries)),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "handles_connected"),
			"The current number of connected backend handles.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(connected),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connects_total"),
			"The total number of connect attempts.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(p.connects),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "connect_failures_total"),
			"The total number of failed connect attempts.",
			nil, nil,
		),
		prometheus.CounterValue,
		float64(p.failures),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*Pool)(nil)
)
