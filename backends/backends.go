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

// Package backends defines the capability contract all storage backends implement,
// plus shared record, filter and patch semantics.
//
// A backend object wraps the physical connection(s) of a single storage engine
// and exposes the uniform CRUD surface consumed by the facade layer.
// Backend methods can be called by multiple goroutines concurrently;
// implementations must be thread-safe.
//
// Optional capabilities (sub-resource selection, liveness checks, schema
// attachment) are separate interfaces; callers check capability presence once
// with a type assertion instead of probing ad hoc.
package backends

import "context"

// Record is a single stored record.
//
// The reserved field "_id" holds the record identity;
// backends add a generated one on insert when it is absent.
type Record = map[string]any

// Filter selects records by field equality.
//
// A Filter value of type AnyOf matches set membership instead.
// Numeric values are compared after canonicalization (see Equal),
// so int keys meet their JSON-decoded float64 counterparts correctly.
type Filter = map[string]any

// Patch is applied to matching records field by field.
//
// The sentinel value Unset removes a field instead of setting it.
type Patch = map[string]any

// Config is the opaque backend configuration supplied by the caller.
//
// Reserved keys are listed as Config… constants; everything else is
// backend-specific and participates in connection fingerprinting.
type Config = map[string]any

// Reserved configuration keys.
const (
	// ConfigCollection and its aliases name the sub-resource (collection, table, key prefix)
	// the facade operates on. Identity-irrelevant for fingerprinting when the backend
	// can switch sub-resources after connecting.
	ConfigCollection     = "collection"
	ConfigCollectionName = "collectionName"
	ConfigTable          = "table"
	ConfigTableName      = "tableName"

	// ConfigFingerprint overrides the computed fingerprint verbatim.
	// Always excluded from fingerprinting itself.
	ConfigFingerprint = "fingerprint"
)

// subResourceKeys are the accepted aliases for the sub-resource name, in lookup order.
var subResourceKeys = []string{ConfigCollection, ConfigCollectionName, ConfigTable, ConfigTableName}

// SubResourceName returns the sub-resource name from the configuration, or empty string.
func SubResourceName(cfg Config) string {
	for _, k := range subResourceKeys {
		if v, ok := cfg[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}

	return ""
}

// Backend is the uniform contract over a single storage engine.
//
// Open (see Driver) returns an unconnected handle; Connect performs the
// actual, potentially slow, connection establishment. All other methods
// require a connected handle; calling them earlier returns engine-specific
// errors, but the facade layer guards against that before delegating.
//
// See backendContract and its methods for additional details.
type Backend interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	Insert(ctx context.Context, rec Record) (Record, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)
	QueryOne(ctx context.Context, filter Filter) (Record, error)
	Update(ctx context.Context, filter Filter, patch Patch) (int, error)
	Delete(ctx context.Context, filter Filter) (int, error)
	Exists(ctx context.Context, filter Filter) (bool, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

// SubResourceSelector is an optional capability: the backend can produce a handle
// scoped to another sub-resource (collection, table, key prefix) of the same
// physical connection, after connecting.
type SubResourceSelector interface {
	SelectSubResource(name string) (Backend, error)
}

// LivenessChecker is an optional capability: the backend can report whether
// its physical connection is currently established.
type LivenessChecker interface {
	IsConnected() bool
}

// SchemaAttacher is an optional capability: the backend accepts a schema
// whose Validate is applied to records before they are stored.
type SchemaAttacher interface {
	AttachSchema(schema Schema) error
}

// Schema is the validation contract consumed, not implemented, by this module.
type Schema interface {
	Validate(rec Record) error
}
