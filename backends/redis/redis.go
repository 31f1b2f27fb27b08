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

// Package redis provides the Redis key/value backend.
//
// Records are stored as JSON values under "<prefix>:<id>" keys; queries SCAN
// the prefix and match in process, following the reference linear-scan
// semantics. Key prefixes are sub-resources and share one client.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/lazyerrors"
)

// Name is the backend kind name this package registers.
const Name = "redis"

// driver implements backends.Driver interface.
type driver struct{}

// Name implements backends.Driver interface.
func (driver) Name() string { return Name }

// SwitchesSubResources implements backends.Driver interface.
func (driver) SwitchesSubResources() bool { return true }

// Open implements backends.Driver interface.
func (driver) Open(cfg backends.Config, l *zap.Logger) (backends.Backend, error) {
	addr, _ := cfg["addr"].(string)
	if addr == "" {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, lazyerrors.New(`configuration needs an "addr" key`))
	}

	var db int

	switch v := cfg["db"].(type) {
	case nil:
	case int:
		db = v
	case float64:
		db = int(v)
	default:
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf(`"db" must be an integer, got %T`, v))
	}

	prefix := backends.SubResourceName(cfg)
	if prefix == "" {
		prefix = "records"
	}

	if strings.Contains(prefix, ":") {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf("invalid key prefix %q", prefix))
	}

	return backends.BackendContract(&store{
		c: &conn{
			opts: &redis.Options{Addr: addr, DB: db},
			l:    l.Named(Name),
		},
		prefix: prefix,
	}), nil
}

func init() {
	backends.Register(driver{})
}

// conn is the physical connection state shared by all handles scoped to its prefixes.
type conn struct {
	opts *redis.Options
	l    *zap.Logger

	mu        sync.Mutex
	client    *redis.Client
	connected bool
	schema    backends.Schema
}

// store implements backends.Backend interface for one key prefix of a connection.
type store struct {
	c      *conn
	prefix string
}

// Connect implements backends.Backend interface.
func (s *store) Connect(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.c.connected {
		return nil
	}

	client := redis.NewClient(s.c.opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return lazyerrors.Error(err)
	}

	s.c.client = client
	s.c.connected = true

	s.c.l.Debug("Connected.", zap.String("addr", s.c.opts.Addr))

	return nil
}

// Disconnect implements backends.Backend interface.
func (s *store) Disconnect(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil
	}

	err := s.c.client.Close()
	s.c.client = nil
	s.c.connected = false

	if err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// IsConnected implements backends.LivenessChecker interface.
func (s *store) IsConnected() bool {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	return s.c.connected
}

// SelectSubResource implements backends.SubResourceSelector interface.
func (s *store) SelectSubResource(name string) (backends.Backend, error) {
	if name == "" || strings.Contains(name, ":") {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf("invalid key prefix %q", name))
	}

	return backends.BackendContract(&store{
		c:      s.c,
		prefix: name,
	}), nil
}

// AttachSchema implements backends.SchemaAttacher interface.
func (s *store) AttachSchema(schema backends.Schema) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.schema = schema

	return nil
}

// live returns the connected client.
func (s *store) live() (*redis.Client, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil, lazyerrors.New("not connected")
	}

	return s.c.client, nil
}

// key returns the storage key for a record identity value.
func (s *store) key(id any) string {
	return fmt.Sprintf("%s:%v", s.prefix, backends.CanonicalValue(id))
}

// Insert implements backends.Backend interface.
func (s *store) Insert(ctx context.Context, rec backends.Record) (backends.Record, error) {
	client, err := s.live()
	if err != nil {
		return nil, err
	}

	s.c.mu.Lock()
	schema := s.c.schema
	s.c.mu.Unlock()

	if schema != nil {
		if err = schema.Validate(rec); err != nil {
			return nil, err
		}
	}

	stored := backends.EnsureID(rec)

	doc, err := json.Marshal(stored)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if err = client.Set(ctx, s.key(stored[backends.IDField]), doc, 0).Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return stored, nil
}

// row is a fetched record with its storage key.
type row struct {
	key string
	rec backends.Record
}

// fetch returns all records under the prefix matching the filter.
func (s *store) fetch(ctx context.Context, filter backends.Filter) ([]row, error) {
	client, err := s.live()
	if err != nil {
		return nil, err
	}

	var res []row

	iter := client.Scan(ctx, 0, s.prefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		doc, err := client.Get(ctx, key).Bytes()

		switch {
		case err == nil:
		case errors.Is(err, redis.Nil):
			// deleted between SCAN and GET
			continue
		default:
			return nil, lazyerrors.Error(err)
		}

		var rec backends.Record
		if err = json.Unmarshal(doc, &rec); err != nil {
			return nil, lazyerrors.Error(err)
		}

		if backends.Matches(rec, filter) {
			res = append(res, row{key: key, rec: rec})
		}
	}

	if err = iter.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// Query implements backends.Backend interface.
func (s *store) Query(ctx context.Context, filter backends.Filter) ([]backends.Record, error) {
	rows, err := s.fetch(ctx, filter)
	if err != nil {
		return nil, err
	}

	res := make([]backends.Record, len(rows))
	for i, r := range rows {
		res[i] = r.rec
	}

	return res, nil
}

// QueryOne implements backends.Backend interface.
func (s *store) QueryOne(ctx context.Context, filter backends.Filter) (backends.Record, error) {
	rows, err := s.fetch(ctx, filter)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return rows[0].rec, nil
}

// Update implements backends.Backend interface.
func (s *store) Update(ctx context.Context, filter backends.Filter, patch backends.Patch) (int, error) {
	rows, err := s.fetch(ctx, filter)
	if err != nil {
		return 0, err
	}

	client, err := s.live()
	if err != nil {
		return 0, err
	}

	var count int

	for _, r := range rows {
		doc, err := json.Marshal(backends.ApplyPatch(r.rec, patch))
		if err != nil {
			return count, lazyerrors.Error(err)
		}

		if err = client.Set(ctx, r.key, doc, 0).Err(); err != nil {
			return count, lazyerrors.Error(err)
		}

		count++
	}

	return count, nil
}

// Delete implements backends.Backend interface.
func (s *store) Delete(ctx context.Context, filter backends.Filter) (int, error) {
	rows, err := s.fetch(ctx, filter)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	client, err := s.live()
	if err != nil {
		return 0, err
	}

	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.key
	}

	if err = client.Del(ctx, keys...).Err(); err != nil {
		return 0, lazyerrors.Error(err)
	}

	return len(rows), nil
}

// Exists implements backends.Backend interface.
func (s *store) Exists(ctx context.Context, filter backends.Filter) (bool, error) {
	rows, err := s.fetch(ctx, filter)
	if err != nil {
		return false, err
	}

	return len(rows) > 0, nil
}

// Count implements backends.Backend interface.
func (s *store) Count(ctx context.Context, filter backends.Filter) (int, error) {
	rows, err := s.fetch(ctx, filter)
	if err != nil {
		return 0, err
	}

	return len(rows), nil
}

// check interfaces
var (
	_ backends.Driver              = driver{}
	_ backends.Backend             = (*store)(nil)
	_ backends.LivenessChecker     = (*store)(nil)
	_ backends.SubResourceSelector = (*store)(nil)
	_ backends.SchemaAttacher      = (*store)(nil)
)
