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

// Package memory provides the in-memory reference backend.
//
// Records live in process memory, queries are linear scans over the
// namespace (O(records) per query). Namespaces are sub-resources and can be
// switched after connecting. Intended for tests and small data sets.
package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/omnistore/omnistore/backends"
)

// Name is the backend kind name this package registers.
const Name = "memory"

// driver implements backends.Driver interface.
type driver struct{}

// Name implements backends.Driver interface.
func (driver) Name() string { return Name }

// SwitchesSubResources implements backends.Driver interface.
func (driver) SwitchesSubResources() bool { return true }

// Open implements backends.Driver interface.
func (driver) Open(cfg backends.Config, _ *zap.Logger) (backends.Backend, error) {
	return New(&NewParams{
		Namespace: backends.SubResourceName(cfg),
	}), nil
}

func init() {
	backends.Register(driver{})
}

// NewParams represents the parameters of New function.
type NewParams struct {
	// Namespace is the initial sub-resource; empty means "default".
	Namespace string
}

// New creates a new in-memory backend handle with its own, empty world.
//
// Handles scoped to other namespaces of the same world are obtained
// through the sub-resource selection capability.
func New(params *NewParams) backends.Backend {
	ns := params.Namespace
	if ns == "" {
		ns = "default"
	}

	return backends.BackendContract(&store{
		world: &world{
			namespaces: map[string][]backends.Record{},
		},
		ns: ns,
	})
}

// world is the state shared by all handles scoped to its namespaces.
type world struct {
	mu         sync.RWMutex
	connected  bool
	namespaces map[string][]backends.Record
	schema     backends.Schema
}

// store implements backends.Backend interface for one namespace of a world.
type store struct {
	world *world
	ns    string
}

// Connect implements backends.Backend interface.
func (s *store) Connect(ctx context.Context) error {
	s.world.mu.Lock()
	defer s.world.mu.Unlock()

	s.world.connected = true

	return nil
}

// Disconnect implements backends.Backend interface.
func (s *store) Disconnect(ctx context.Context) error {
	s.world.mu.Lock()
	defer s.world.mu.Unlock()

	s.world.connected = false

	return nil
}

// IsConnected implements backends.LivenessChecker interface.
func (s *store) IsConnected() bool {
	s.world.mu.RLock()
	defer s.world.mu.RUnlock()

	return s.world.connected
}

// SelectSubResource implements backends.SubResourceSelector interface.
func (s *store) SelectSubResource(name string) (backends.Backend, error) {
	return backends.BackendContract(&store{
		world: s.world,
		ns:    name,
	}), nil
}

// AttachSchema implements backends.SchemaAttacher interface.
func (s *store) AttachSchema(schema backends.Schema) error {
	s.world.mu.Lock()
	defer s.world.mu.Unlock()

	s.world.schema = schema

	return nil
}

// Insert implements backends.Backend interface.
func (s *store) Insert(ctx context.Context, rec backends.Record) (backends.Record, error) {
	s.world.mu.Lock()
	defer s.world.mu.Unlock()

	if s.world.schema != nil {
		if err := s.world.schema.Validate(rec); err != nil {
			return nil, err
		}
	}

	stored := backends.EnsureID(rec)
	s.world.namespaces[s.ns] = append(s.world.namespaces[s.ns], maps.Clone(stored))

	return stored, nil
}

// Query implements backends.Backend interface.
func (s *store) Query(ctx context.Context, filter backends.Filter) ([]backends.Record, error) {
	s.world.mu.RLock()
	defer s.world.mu.RUnlock()

	var res []backends.Record

	for _, rec := range s.world.namespaces[s.ns] {
		if backends.Matches(rec, filter) {
			res = append(res, maps.Clone(rec))
		}
	}

	return res, nil
}

// QueryOne implements backends.Backend interface.
func (s *store) QueryOne(ctx context.Context, filter backends.Filter) (backends.Record, error) {
	s.world.mu.RLock()
	defer s.world.mu.RUnlock()

	for _, rec := range s.world.namespaces[s.ns] {
		if backends.Matches(rec, filter) {
			return maps.Clone(rec), nil
		}
	}

	return nil, nil
}

// Update implements backends.Backend interface.
func (s *store) Update(ctx context.Context, filter backends.Filter, patch backends.Patch) (int, error) {
	s.world.mu.Lock()
	defer s.world.mu.Unlock()

	recs := s.world.namespaces[s.ns]

	var count int

	for i, rec := range recs {
		if backends.Matches(rec, filter) {
			recs[i] = backends.ApplyPatch(rec, patch)
			count++
		}
	}

	return count, nil
}

// Delete implements backends.Backend interface.
func (s *store) Delete(ctx context.Context, filter backends.Filter) (int, error) {
	s.world.mu.Lock()
	defer s.world.mu.Unlock()

	recs := s.world.namespaces[s.ns]
	kept := recs[:0:0]

	var count int

	for _, rec := range recs {
		if backends.Matches(rec, filter) {
			count++
			continue
		}

		kept = append(kept, rec)
	}

	s.world.namespaces[s.ns] = kept

	return count, nil
}

// Exists implements backends.Backend interface.
func (s *store) Exists(ctx context.Context, filter backends.Filter) (bool, error) {
	s.world.mu.RLock()
	defer s.world.mu.RUnlock()

	for _, rec := range s.world.namespaces[s.ns] {
		if backends.Matches(rec, filter) {
			return true, nil
		}
	}

	return false, nil
}

// Count implements backends.Backend interface.
func (s *store) Count(ctx context.Context, filter backends.Filter) (int, error) {
	s.world.mu.RLock()
	defer s.world.mu.RUnlock()

	var count int

	for _, rec := range s.world.namespaces[s.ns] {
		if backends.Matches(rec, filter) {
			count++
		}
	}

	return count, nil
}

// check interfaces
var (
	_ backends.Driver              = driver{}
	_ backends.Backend             = (*store)(nil)
	_ backends.LivenessChecker     = (*store)(nil)
	_ backends.SubResourceSelector = (*store)(nil)
	_ backends.SchemaAttacher      = (*store)(nil)
)
