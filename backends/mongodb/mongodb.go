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

// Package mongodb provides the MongoDB backend.
//
// The only backend here whose engine filters natively: equality and AnyOf
// membership push down to find filters ($in), so queries do not fetch the
// whole collection. Collections are sub-resources and share one client.
package mongodb

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/lazyerrors"
)

// Name is the backend kind name this package registers.
const Name = "mongodb"

// driver implements backends.Driver interface.
type driver struct{}

// Name implements backends.Driver interface.
func (driver) Name() string { return Name }

// SwitchesSubResources implements backends.Driver interface.
func (driver) SwitchesSubResources() bool { return true }

// Open implements backends.Driver interface.
func (driver) Open(cfg backends.Config, l *zap.Logger) (backends.Backend, error) {
	uri, _ := cfg["uri"].(string)
	if uri == "" {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, lazyerrors.New(`configuration needs a "uri" key`))
	}

	database, _ := cfg["database"].(string)
	if database == "" {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, lazyerrors.New(`configuration needs a "database" key`))
	}

	coll := backends.SubResourceName(cfg)
	if coll == "" {
		coll = "records"
	}

	return backends.BackendContract(&store{
		c: &conn{
			uri:      uri,
			database: database,
			l:        l.Named(Name),
		},
		coll: coll,
	}), nil
}

func init() {
	backends.Register(driver{})
}

// conn is the physical connection state shared by all handles scoped to its collections.
type conn struct {
	uri      string
	database string
	l        *zap.Logger

	mu        sync.Mutex
	client    *mongo.Client
	connected bool
	schema    backends.Schema
}

// store implements backends.Backend interface for one collection of a connection.
type store struct {
	c    *conn
	coll string
}

// Connect implements backends.Backend interface.
func (s *store) Connect(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if s.c.connected {
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(s.c.uri))
	if err != nil {
		return lazyerrors.Error(err)
	}

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return lazyerrors.Error(err)
	}

	s.c.client = client
	s.c.connected = true

	s.c.l.Debug("Connected.", zap.String("database", s.c.database))

	return nil
}

// Disconnect implements backends.Backend interface.
func (s *store) Disconnect(ctx context.Context) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil
	}

	err := s.c.client.Disconnect(ctx)
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
	if name == "" {
		return nil, backends.NewError(backends.ErrorCodeInvalidConfig, lazyerrors.New("collection name is empty"))
	}

	return backends.BackendContract(&store{
		c:    s.c,
		coll: name,
	}), nil
}

// AttachSchema implements backends.SchemaAttacher interface.
func (s *store) AttachSchema(schema backends.Schema) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	s.c.schema = schema

	return nil
}

// collection returns the live collection handle.
func (s *store) collection() (*mongo.Collection, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if !s.c.connected {
		return nil, lazyerrors.New("not connected")
	}

	return s.c.client.Database(s.c.database).Collection(s.coll), nil
}

// toBSON translates a filter into a find filter, pushing AnyOf down as $in.
func toBSON(filter backends.Filter) bson.M {
	res := bson.M{}

	for k, v := range filter {
		if members, ok := v.(backends.AnyOf); ok {
			res[k] = bson.M{"$in": []any(members)}
			continue
		}

		res[k] = v
	}

	return res
}

// fromBSON converts decoded BSON values into plain records.
func fromBSON(v any) any {
	switch v := v.(type) {
	case bson.M:
		res := backends.Record{}
		for k, e := range v {
			res[k] = fromBSON(e)
		}

		return res
	case primitive.A:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = fromBSON(e)
		}

		return res
	default:
		return v
	}
}

// Insert implements backends.Backend interface.
func (s *store) Insert(ctx context.Context, rec backends.Record) (backends.Record, error) {
	coll, err := s.collection()
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

	if _, err = coll.InsertOne(ctx, bson.M(stored)); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return stored, nil
}

// Query implements backends.Backend interface.
func (s *store) Query(ctx context.Context, filter backends.Filter) ([]backends.Record, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	cur, err := coll.Find(ctx, toBSON(filter))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var raw []bson.M
	if err = cur.All(ctx, &raw); err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := make([]backends.Record, len(raw))
	for i, m := range raw {
		res[i] = fromBSON(m).(backends.Record)
	}

	return res, nil
}

// QueryOne implements backends.Backend interface.
func (s *store) QueryOne(ctx context.Context, filter backends.Filter) (backends.Record, error) {
	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	var raw bson.M

	err = coll.FindOne(ctx, toBSON(filter)).Decode(&raw)

	switch {
	case err == nil:
		return fromBSON(raw).(backends.Record), nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, nil
	default:
		return nil, lazyerrors.Error(err)
	}
}

// Update implements backends.Backend interface.
func (s *store) Update(ctx context.Context, filter backends.Filter, patch backends.Patch) (int, error) {
	coll, err := s.collection()
	if err != nil {
		return 0, err
	}

	set := bson.M{}
	unset := bson.M{}

	for k, v := range patch {
		if backends.IsUnset(v) {
			unset[k] = ""
			continue
		}

		set[k] = v
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}

	if len(unset) > 0 {
		update["$unset"] = unset
	}

	if len(update) == 0 {
		n, err := coll.CountDocuments(ctx, toBSON(filter))
		if err != nil {
			return 0, lazyerrors.Error(err)
		}

		return int(n), nil
	}

	res, err := coll.UpdateMany(ctx, toBSON(filter), update)
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return int(res.MatchedCount), nil
}

// Delete implements backends.Backend interface.
func (s *store) Delete(ctx context.Context, filter backends.Filter) (int, error) {
	coll, err := s.collection()
	if err != nil {
		return 0, err
	}

	res, err := coll.DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return int(res.DeletedCount), nil
}

// Exists implements backends.Backend interface.
func (s *store) Exists(ctx context.Context, filter backends.Filter) (bool, error) {
	rec, err := s.QueryOne(ctx, filter)
	if err != nil {
		return false, err
	}

	return rec != nil, nil
}

// Count implements backends.Backend interface.
func (s *store) Count(ctx context.Context, filter backends.Filter) (int, error) {
	coll, err := s.collection()
	if err != nil {
		return 0, err
	}

	n, err := coll.CountDocuments(ctx, toBSON(filter))
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return int(n), nil
}

// check interfaces
var (
	_ backends.Driver              = driver{}
	_ backends.Backend             = (*store)(nil)
	_ backends.LivenessChecker     = (*store)(nil)
	_ backends.SubResourceSelector = (*store)(nil)
	_ backends.SchemaAttacher      = (*store)(nil)
)
