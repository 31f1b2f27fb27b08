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
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/lazyerrors"
	"github.com/omnistore/omnistore/internal/util/observability"
)

// Facade is the per-collection handle applications use for CRUD and
// relationship operations.
//
// A facade holds a non-owning reference to a backend handle that may be
// shared with other facade instances of the same fingerprint; the pool owns
// the handle. Facade methods can be called by multiple goroutines
// concurrently.
//
//nolint:vet // for readability
type Facade struct {
	l *zap.Logger
	p *Pool
	b backends.Backend

	// pool coordination key: the fingerprint, or the handle identity
	// for facades built from an existing handle
	key string

	mu        sync.Mutex
	connected bool // this instance called Connect; see Disconnect
	relations map[string]*Relation
	caches    map[string]map[any]any
}

// NewParams represents the parameters of New function.
//
//nolint:vet // for readability
type NewParams struct {
	// Pool shares and coordinates backend handles. Required.
	Pool *Pool

	// Backend is the registered backend kind name.
	Backend string

	// Config is the backend configuration; see the Config… constants
	// for reserved keys.
	Config backends.Config

	// Schema, if set, is attached to the handle; the backend must have
	// the schema attachment capability then.
	Schema backends.Schema

	// L may be nil.
	L *zap.Logger
}

// New creates a facade for the given backend kind and configuration.
//
// When the pool already holds a handle for the configuration's fingerprint,
// the facade reuses it, re-scoped to the configuration's sub-resource when
// the backend supports that; otherwise a fresh unconnected handle is opened
// and registered. Connect must be called before other operations unless a
// sharing facade already did.
func New(params *NewParams) (*Facade, error) {
	if params.Pool == nil {
		return nil, lazyerrors.New("params.Pool is required")
	}

	l := params.L
	if l == nil {
		l = zap.NewNop()
	}
	l = l.Named("facade")

	d, err := backends.DriverByName(params.Backend)
	if err != nil {
		return nil, err
	}

	key := Fingerprint(d, params.Config)

	b, created, err := params.Pool.GetOrOpen(key, func() (backends.Backend, error) {
		return d.Open(params.Config, l)
	})
	if err != nil {
		return nil, err
	}

	// a reused handle is scoped to the sub-resource of whoever opened it;
	// re-scope to ours when the backend can
	if !created {
		if name := backends.SubResourceName(params.Config); name != "" {
			if sel, ok := backends.AsSubResourceSelector(b); ok {
				if b, err = sel.SelectSubResource(name); err != nil {
					return nil, lazyerrors.Error(err)
				}
			}
		}
	}

	if params.Schema != nil {
		sa, ok := backends.AsSchemaAttacher(b)
		if !ok {
			return nil, backends.NewError(
				backends.ErrorCodeInvalidConfig,
				fmt.Errorf("backend kind %q does not accept schemas", params.Backend),
			)
		}

		if err = sa.AttachSchema(params.Schema); err != nil {
			return nil, lazyerrors.Error(err)
		}
	}

	return &Facade{
		l:   l,
		p:   params.Pool,
		b:   b,
		key: key,
	}, nil
}

// FromBackendParams represents the parameters of FromBackend function.
//
//nolint:vet // for readability
type FromBackendParams struct {
	// Pool coordinates Connect calls; the handle itself is not shared
	// through it. Required.
	Pool *Pool

	// Backend is the already-built handle. Required.
	Backend backends.Backend

	// L may be nil.
	L *zap.Logger
}

// FromBackend creates a facade over an already-built backend handle.
//
// No fingerprinting or handle sharing happens; the caller owns connection
// sharing. Connect calls are still coordinated, keyed by the handle identity.
func FromBackend(params *FromBackendParams) (*Facade, error) {
	if params.Pool == nil {
		return nil, lazyerrors.New("params.Pool is required")
	}

	if params.Backend == nil {
		return nil, lazyerrors.New("params.Backend is required")
	}

	l := params.L
	if l == nil {
		l = zap.NewNop()
	}

	return &Facade{
		l:   l.Named("facade"),
		p:   params.Pool,
		b:   params.Backend,
		key: handleKey(params.Backend),
	}, nil
}

// handleSeq provides coordination keys for handles without a stable address.
var handleSeq atomic.Int64

// handleKey derives the pool coordination key from the handle identity.
func handleKey(b backends.Backend) string {
	v := reflect.ValueOf(b)

	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("handle:0x%x", v.Pointer())
	default:
		return fmt.Sprintf("handle:%d", handleSeq.Add(1))
	}
}

// Connect establishes the backend connection.
//
// Concurrent calls sharing the facade's coordination key result in a single
// underlying connect attempt whose outcome all of them share. Calling Connect
// on an already-connected facade is a no-op.
func (f *Facade) Connect(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	if err := f.p.EnsureConnected(ctx, f.key, f.b); err != nil {
		return err
	}

	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()

	return nil
}

// Disconnect closes the backend connection.
//
// It is a no-op unless this facade instance is marked connected by its own
// Connect call. The handle stays registered in the pool, so sharing facades
// remain usable and may reconnect.
func (f *Facade) Disconnect(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connected = false
	f.mu.Unlock()

	return f.p.Disconnect(ctx, f.key)
}

// Connected reports whether the facade's backend handle is connected,
// by this instance or by a sharing one.
func (f *Facade) Connected() bool {
	return f.checkConnected() == nil
}

// checkConnected guards operations requiring a live connection.
//
// The check is keyed on the shared pool entry, not on this instance's own
// Connect call: a facade sharing a handle that another facade connected is
// usable immediately. Operations are never auto-connected on the caller's
// behalf.
func (f *Facade) checkConnected() error {
	if f.p.Connected(f.key) {
		return nil
	}

	if lc, ok := backends.AsLivenessChecker(f.b); ok && lc.IsConnected() {
		return nil
	}

	return backends.NewError(
		backends.ErrorCodeNotConnected,
		fmt.Errorf("operation on a facade that is not connected"),
	)
}

// Insert stores the record and returns it as stored,
// with a generated "_id" when the input has none.
func (f *Facade) Insert(ctx context.Context, rec backends.Record) (backends.Record, error) {
	defer observability.FuncCall(ctx)()

	if err := f.checkConnected(); err != nil {
		return nil, err
	}

	return f.b.Insert(ctx, rec)
}

// Query returns all records matching the filter.
func (f *Facade) Query(ctx context.Context, filter backends.Filter) ([]backends.Record, error) {
	defer observability.FuncCall(ctx)()

	if err := f.checkConnected(); err != nil {
		return nil, err
	}

	return f.b.Query(ctx, filter)
}

// QueryOne returns one record matching the filter.
//
// Absence is a valid outcome: both return values are nil when nothing matches.
func (f *Facade) QueryOne(ctx context.Context, filter backends.Filter) (backends.Record, error) {
	defer observability.FuncCall(ctx)()

	if err := f.checkConnected(); err != nil {
		return nil, err
	}

	return f.b.QueryOne(ctx, filter)
}

// Update applies the patch to all records matching the filter
// and returns their count. Zero is a valid count, not a failure.
func (f *Facade) Update(ctx context.Context, filter backends.Filter, patch backends.Patch) (int, error) {
	defer observability.FuncCall(ctx)()

	if err := f.checkConnected(); err != nil {
		return 0, err
	}

	return f.b.Update(ctx, filter, patch)
}

// Delete removes all records matching the filter and returns their count.
func (f *Facade) Delete(ctx context.Context, filter backends.Filter) (int, error) {
	defer observability.FuncCall(ctx)()

	if err := f.checkConnected(); err != nil {
		return 0, err
	}

	return f.b.Delete(ctx, filter)
}

// Exists reports whether any record matches the filter.
func (f *Facade) Exists(ctx context.Context, filter backends.Filter) (bool, error) {
	defer observability.FuncCall(ctx)()

	if err := f.checkConnected(); err != nil {
		return false, err
	}

	return f.b.Exists(ctx, filter)
}

// Count returns the number of records matching the filter.
func (f *Facade) Count(ctx context.Context, filter backends.Filter) (int, error) {
	defer observability.FuncCall(ctx)()

	if err := f.checkConnected(); err != nil {
		return 0, err
	}

	return f.b.Count(ctx, filter)
}
