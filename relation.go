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

	"golang.org/x/exp/slices"

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/observability"
)

// Cardinality is the shape of one relationship's result:
// a single record or a sequence of them.
type Cardinality string

// Relationship cardinalities.
const (
	One  Cardinality = "one"
	Many Cardinality = "many"
)

// Relation links a local record field to a foreign field
// on another facade's records.
//
//nolint:vet // for readability
type Relation struct {
	Target       *Facade
	LocalField   string
	ForeignField string
	Cardinality  Cardinality
}

// DeclareRelation declares (or redeclares) a named relationship of this
// facade's records. Redeclaration drops the relation's memoized lookups.
func (f *Facade) DeclareRelation(name string, target *Facade, localField, foreignField string, c Cardinality) error {
	if name == "" || target == nil || localField == "" || foreignField == "" {
		return backends.NewError(
			backends.ErrorCodeInvalidConfig,
			fmt.Errorf("relation declaration is incomplete"),
		)
	}

	if c != One && c != Many {
		return backends.NewError(
			backends.ErrorCodeInvalidConfig,
			fmt.Errorf("unknown cardinality %q", c),
		)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.relations == nil {
		f.relations = map[string]*Relation{}
	}

	f.relations[name] = &Relation{
		Target:       target,
		LocalField:   localField,
		ForeignField: foreignField,
		Cardinality:  c,
	}

	delete(f.caches, name)

	return nil
}

// Relations returns the declared relationship names, in no particular order.
func (f *Facade) Relations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := make([]string, 0, len(f.relations))
	for name := range f.relations {
		res = append(res, name)
	}

	return res
}

// ClearRelationCache drops all memoized relationship lookups of this facade.
//
// There is no automatic expiry; callers that modify target collections and
// need fresh results clear explicitly.
func (f *Facade) ClearRelationCache() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.caches = nil
}

// Resolve populates the named relationships on the given records, mutating
// each record in place by attaching the result under the relationship name.
//
// All records needing one relationship in a single call are served by at most
// one query against the target, regardless of the record count: distinct
// local-key values are collected, values memoized by an earlier Resolve are
// served from cache, and the remainder is fetched with one membership filter.
// Keys with no match are memoized as empty, so repeated calls stay zero-fetch
// until ClearRelationCache.
//
// Records whose local key is null or absent get the cardinality-appropriate
// empty result (nil for One, an empty slice for Many) without consulting the
// target. Results are written back in the caller-supplied record order.
func (f *Facade) Resolve(ctx context.Context, records []backends.Record, names ...string) error {
	defer observability.FuncCall(ctx)()

	for _, name := range names {
		if err := f.resolve(ctx, records, name); err != nil {
			return err
		}
	}

	return nil
}

// resolve populates a single relationship; see Resolve.
func (f *Facade) resolve(ctx context.Context, records []backends.Record, name string) error {
	f.mu.Lock()

	rel := f.relations[name]
	if rel == nil {
		f.mu.Unlock()

		return backends.NewError(
			backends.ErrorCodeUnknownRelation,
			fmt.Errorf("relation %q is not declared", name),
		)
	}

	if f.caches == nil {
		f.caches = map[string]map[any]any{}
	}

	cache := f.caches[name]
	if cache == nil {
		cache = map[any]any{}
		f.caches[name] = cache
	}

	// distinct uncached keys, in first-seen order
	var missing []any
	seen := map[any]struct{}{}

	for _, rec := range records {
		v := rec[rel.LocalField]
		if v == nil {
			continue
		}

		k := backends.CanonicalValue(v)
		if _, ok := cache[k]; ok {
			continue
		}

		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		missing = append(missing, k)
	}

	f.mu.Unlock()

	// fetched records are grouped aside and committed to the cache only after
	// a successful fetch; a failed fetch leaves no entries behind, so a retry
	// queries the target again instead of serving empties
	groups := map[any]any{}

	if len(missing) > 0 {
		fetched, err := rel.Target.Query(ctx, backends.Filter{
			rel.ForeignField: backends.AnyOf(missing),
		})
		if err != nil {
			return err
		}

		for _, trec := range fetched {
			k := backends.CanonicalValue(trec[rel.ForeignField])

			switch rel.Cardinality {
			case One:
				// last-seen-wins; source data is assumed to keep foreign keys unique
				groups[k] = trec
			case Many:
				recs, _ := groups[k].([]backends.Record)
				groups[k] = append(recs, trec)
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, k := range missing {
		res, ok := groups[k]
		if !ok {
			res = emptyResult(rel)
		}

		cache[k] = res
	}

	for _, rec := range records {
		v := rec[rel.LocalField]
		if v == nil {
			rec[name] = emptyResult(rel)
			continue
		}

		res := cache[backends.CanonicalValue(v)]

		// callers may reorder or append to a Many result; hand out a copy
		// so the memoized slice stays intact
		if recs, ok := res.([]backends.Record); ok {
			res = slices.Clone(recs)
		}

		rec[name] = res
	}

	return nil
}

// emptyResult is the result of a key matching nothing: nil for One,
// an empty slice for Many.
func emptyResult(rel *Relation) any {
	if rel.Cardinality == Many {
		return []backends.Record{}
	}

	return nil
}
