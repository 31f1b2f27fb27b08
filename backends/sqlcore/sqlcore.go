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

// Package sqlcore implements the uniform backend contract on top of database/sql.
//
// Records are stored as JSON documents in a two-column table (identity, document),
// one table per sub-resource. Filtering follows the reference in-memory semantics:
// documents are fetched and matched in process, O(records) per query.
// Engine-specific packages (sqlite, mysql, hana) supply a Dialect and register drivers.
package sqlcore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/lazyerrors"
)

// Dialect carries the engine-specific pieces of the document-table model.
type Dialect struct {
	// DriverName is the database/sql driver name. The driver must be registered
	// by the package supplying the dialect.
	DriverName string

	// QuoteIdent quotes a table identifier.
	QuoteIdent func(name string) string

	// CreateTableSQL returns the statement creating the document table.
	CreateTableSQL func(quotedTable string) string

	// TableExistsErr reports whether err means the table already exists.
	// May be nil when CreateTableSQL is idempotent.
	TableExistsErr func(err error) bool
}

// NewParams represents the parameters of New function.
type NewParams struct {
	Dialect Dialect
	DSN     string
	Table   string
	L       *zap.Logger
}

// New creates a new unconnected document-table backend handle.
func New(params *NewParams) (backends.Backend, error) {
	table := params.Table
	if table == "" {
		table = "records"
	}

	if !tableNameRe.MatchString(table) {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf("invalid table name %q", table))
	}

	if params.DSN == "" {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, lazyerrors.New("dsn is required"))
	}

	l := params.L
	if l == nil {
		l = zap.NewNop()
	}

	return backends.BackendContract(&store{
		c: &conn{
			dialect: params.Dialect,
			dsn:     params.DSN,
			l:       l,
			tables:  map[string]struct{}{},
		},
		table: table,
	}), nil
}

// conn is the physical connection state shared by all handles scoped to its tables.
type conn struct {
	dialect Dialect
	dsn     string
	l       *zap.Logger

	mu        sync.Mutex
	db        *sql.DB
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

	db, err := sql.Open(s.c.dialect.DriverName, s.c.dsn)
	if err != nil {
		return lazyerrors.Error(err)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return lazyerrors.Error(err)
	}

	s.c.db = db
	s.c.connected = true
	s.c.tables = map[string]struct{}{}

	s.c.l.Debug("Connected.", zap.String("driver", s.c.dialect.DriverName))

	return nil
}

// Disconnect implements backends.Backend interface.
func (s *store) Disconnect(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil
	}

	err := s.c.db.Close()
	s.c.db = nil
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
	if !tableNameRe.MatchString(name) {
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

// db returns the live database handle, ensuring the store's table exists.
func (s *store) db(ctx context.Context) (*sql.DB, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil, lazyerrors.New("not connected")
	}

	if _, ok := s.c.tables[s.table]; !ok {
		q := s.c.dialect.CreateTableSQL(s.c.dialect.QuoteIdent(s.table))

		if _, err := s.c.db.ExecContext(ctx, q); err != nil {
			if s.c.dialect.TableExistsErr == nil || !s.c.dialect.TableExistsErr(err) {
				return nil, lazyerrors.Error(err)
			}
		}

		s.c.tables[s.table] = struct{}{}
	}

	return s.c.db, nil
}

// idString returns the table key for a record identity value.
func idString(v any) string {
	return fmt.Sprint(backends.CanonicalValue(v))
}

// Insert implements backends.Backend interface.
func (s *store) Insert(ctx context.Context, rec backends.Record) (backends.Record, error) {
	db, err := s.db(ctx)
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

	q := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES (?, ?)`, s.c.dialect.QuoteIdent(s.table))

	if _, err = db.ExecContext(ctx, q, idString(stored[backends.IDField]), doc); err != nil {
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
	db, err := s.db(ctx)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT id, doc FROM %s`, s.c.dialect.QuoteIdent(s.table))

	rows, err := db.QueryContext(ctx, q)
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

	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`UPDATE %s SET doc = ? WHERE id = ?`, s.c.dialect.QuoteIdent(s.table))

	var count int

	for _, r := range rows {
		doc, err := json.Marshal(backends.ApplyPatch(r.rec, patch))
		if err != nil {
			return count, lazyerrors.Error(err)
		}

		if _, err = db.ExecContext(ctx, q, doc, r.id); err != nil {
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

	db, err := s.db(ctx)
	if err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.c.dialect.QuoteIdent(s.table))

	var count int

	for _, r := range rows {
		if _, err = db.ExecContext(ctx, q, r.id); err != nil {
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
	_ backends.Backend             = (*store)(nil)
	_ backends.LivenessChecker     = (*store)(nil)
	_ backends.SubResourceSelector = (*store)(nil)
	_ backends.SchemaAttacher      = (*store)(nil)
)
