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

// Package postgresql provides the PostgreSQL backend.
//
// Records are stored as JSONB documents in a two-column table, one table per
// sub-resource. Connections go through a pgxpool pool; scoped handles share it.
package postgresql

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/backends/sqlcore"
	"github.com/omnistore/omnistore/internal/util/lazyerrors"
)

// Name is the backend kind name this package registers.
const Name = "postgresql"

// driver implements backends.Driver interface.
type driver struct{}

// Name implements backends.Driver interface.
func (driver) Name() string { return Name }

// SwitchesSubResources implements backends.Driver interface.
func (driver) SwitchesSubResources() bool { return true }

// Open implements backends.Driver interface.
func (driver) Open(cfg backends.Config, l *zap.Logger) (backends.Backend, error) {
	dsn, err := sqlcore.DSNFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	// parsing performs no I/O; dialing happens in Connect
	pgCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, err)
	}

	table := backends.SubResourceName(cfg)
	if table == "" {
		table = "records"
	}

	if !sqlcore.ValidTableName(table) {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf("invalid table name %q", table))
	}

	return backends.BackendContract(&store{
		c: &conn{
			cfg:    pgCfg,
			l:      l.Named(Name),
			tables: map[string]struct{}{},
		},
		table: table,
	}), nil
}

func init() {
	backends.Register(driver{})
}

// conn is the physical connection state shared by all handles scoped to its tables.
type conn struct {
	cfg *pgxpool.Config
	l   *zap.Logger

	mu        sync.Mutex
	p         *pgxpool.Pool
	connected bool
	tables    map[string]struct{}
	schema    backends.Schema
}

// store implements backends.Backend interface for one table of a connection.
type store struct {
	c     *conn
	table string
}

// Connect implements backends.Backend interface.
func (s *store) Connect(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.c.connected {
		return nil
	}

	p, err := pgxpool.NewWithConfig(ctx, s.c.cfg)
	if err != nil {
		return lazyerrors.Error(err)
	}

	if err = p.Ping(ctx); err != nil {
		p.Close()
		return lazyerrors.Error(err)
	}

	s.c.p = p
	s.c.connected = true
	s.c.tables = map[string]struct{}{}

	s.c.l.Debug("Connected.", zap.String("database", s.c.cfg.ConnConfig.Database))

	return nil
}

// Disconnect implements backends.Backend interface.
func (s *store) Disconnect(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil
	}

	s.c.p.Close()
	s.c.p = nil
	s.c.connected = false

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
	if !sqlcore.ValidTableName(name) {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf("invalid table name %q", name))
	}

	return backends.BackendContract(&store{
		c:     s.c,
		table: name,
	}), nil
}

// AttachSchema implements backends.SchemaAttacher interface.
func (s *store) AttachSchema(schema backends.Schema) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.schema = schema

	return nil
}

// pool returns the live pgx pool, ensuring the store's table exists.
func (s *store) pool(ctx context.Context) (*pgxpool.Pool, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil, lazyerrors.New("not connected")
	}

	if _, ok := s.c.tables[s.table]; !ok {
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id text PRIMARY KEY, doc jsonb NOT NULL)`, s.table)

		if _, err := s.c.p.Exec(ctx, q); err != nil {
			return nil, lazyerrors.Error(err)
		}

		s.c.tables[s.table] = struct{}{}
	}

	return s.c.p, nil
}

// Insert implements backends.Backend interface.
func (s *store) Insert(ctx context.Context, rec backends.Record) (backends.Record, error) {
	p, err := s.pool(ctx)
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

	q := fmt.Sprintf(`INSERT INTO %q (id, doc) VALUES ($1, $2)`, s.table)

	id := fmt.Sprint(backends.CanonicalValue(stored[backends.IDField]))
	if _, err = p.Exec(ctx, q, id, doc); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return stored, nil
}

// row is a fetched document with its table key.
type row struct {
	id  string
	rec backends.Record
}

// fetch returns all rows of the table matching the filter.
func (s *store) fetch(ctx context.Context, filter backends.Filter) ([]row, error) {
	p, err := s.pool(ctx)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT id, doc FROM %q`, s.table)

	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []row

	for rows.Next() {
		var id string
		var doc []byte

		if err = rows.Scan(&id, &doc); err != nil {
			return nil, lazyerrors.Error(err)
		}

		var rec backends.Record
		if err = json.Unmarshal(doc, &rec); err != nil {
			return nil, lazyerrors.Error(err)
		}

		if backends.Matches(rec, filter) {
			res = append(res, row{id: id, rec: rec})
		}
	}

	if err = rows.Err(); err != nil {
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

	p, err := s.pool(ctx)
	if err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`UPDATE %q SET doc = $1 WHERE id = $2`, s.table)

	var count int

	for _, r := range rows {
		doc, err := json.Marshal(backends.ApplyPatch(r.rec, patch))
		if err != nil {
			return count, lazyerrors.Error(err)
		}

		if _, err = p.Exec(ctx, q, doc, r.id); err != nil {
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

	p, err := s.pool(ctx)
	if err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`DELETE FROM %q WHERE id = $1`, s.table)

	var count int

	for _, r := range rows {
		if _, err = p.Exec(ctx, q, r.id); err != nil {
			return count, lazyerrors.Error(err)
		}

		count++
	}

	return count, nil
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
