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

	"github.com/omnistore/omnistore/backends"
	"github.com/omnistore/omnistore/internal/util/lazyerrors"
	"github.com/omnistore/omnistore/internal/util/observability"
)

// Field mutation helpers.
//
// These helpers read matching records and write modified copies back in
// separate backend round trips. They are NOT atomic under concurrent writers
// to the same records; that weak consistency is part of their contract, and
// callers needing stronger guarantees must serialize externally.

// Increment adds delta to the numeric field of the single record matching
// the filter and returns the updated record.
//
// The record must exist; targeting no match returns ErrorCodeRecordNotFound
// (unlike bulk Update, which reports zero matches as a valid count).
// An absent field counts from zero.
func (f *Facade) Increment(ctx context.Context, filter backends.Filter, field string, delta int64) (backends.Record, error) {
	defer observability.FuncCall(ctx)()

	rec, err := f.QueryOne(ctx, filter)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		return nil, backends.NewError(
			backends.ErrorCodeRecordNotFound,
			fmt.Errorf("no record matches the increment filter"),
		)
	}

	n, err := addNumber(rec[field], delta)
	if err != nil {
		return nil, err
	}

	if _, err = f.Update(ctx, idFilter(rec), backends.Patch{field: n}); err != nil {
		return nil, err
	}

	rec[field] = n

	return rec, nil
}

// Push appends value to the array field of every record matching the filter
// and returns the number of records modified. An absent field becomes a
// one-element array.
func (f *Facade) Push(ctx context.Context, filter backends.Filter, field string, value any) (int, error) {
	defer observability.FuncCall(ctx)()

	recs, err := f.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	var count int

	for _, rec := range recs {
		arr, err := anySlice(rec[field])
		if err != nil {
			return count, err
		}

		if _, err = f.Update(ctx, idFilter(rec), backends.Patch{field: append(arr, value)}); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

// Pull removes all elements equal to value from the array field of every
// record matching the filter and returns the number of records modified.
// Records without the element (or the field) are left alone.
func (f *Facade) Pull(ctx context.Context, filter backends.Filter, field string, value any) (int, error) {
	defer observability.FuncCall(ctx)()

	recs, err := f.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	var count int

	for _, rec := range recs {
		if rec[field] == nil {
			continue
		}

		arr, err := anySlice(rec[field])
		if err != nil {
			return count, err
		}

		kept := make([]any, 0, len(arr))

		for _, el := range arr {
			if !backends.Equal(el, value) {
				kept = append(kept, el)
			}
		}

		if len(kept) == len(arr) {
			continue
		}

		if _, err = f.Update(ctx, idFilter(rec), backends.Patch{field: kept}); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

// Unset removes the given fields from every record matching the filter
// and returns the number of records matched.
func (f *Facade) Unset(ctx context.Context, filter backends.Filter, fields ...string) (int, error) {
	defer observability.FuncCall(ctx)()

	patch := backends.Patch{}
	for _, field := range fields {
		patch[field] = backends.Unset
	}

	return f.Update(ctx, filter, patch)
}

// Rename moves the value of field from to field to on every record matching
// the filter that carries from, and returns the number of records modified.
func (f *Facade) Rename(ctx context.Context, filter backends.Filter, from, to string) (int, error) {
	defer observability.FuncCall(ctx)()

	recs, err := f.Query(ctx, filter)
	if err != nil {
		return 0, err
	}

	var count int

	for _, rec := range recs {
		v, ok := rec[from]
		if !ok {
			continue
		}

		patch := backends.Patch{
			to:   v,
			from: backends.Unset,
		}

		if _, err = f.Update(ctx, idFilter(rec), patch); err != nil {
			return count, err
		}

		count++
	}

	return count, nil
}

// idFilter selects the given record by identity.
func idFilter(rec backends.Record) backends.Filter {
	return backends.Filter{backends.IDField: rec[backends.IDField]}
}

// addNumber adds delta to a numeric field value; an absent (nil) value
// counts from zero.
func addNumber(v any, delta int64) (any, error) {
	switch v := backends.CanonicalValue(v).(type) {
	case nil:
		return delta, nil
	case int64:
		return v + delta, nil
	case float64:
		return v + float64(delta), nil
	default:
		return nil, lazyerrors.Errorf("field value %v (%[1]T) is not a number", v)
	}
}

// anySlice converts a stored array field value to []any;
// nil input yields an empty slice.
func anySlice(v any) ([]any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, lazyerrors.Errorf("field value %v (%[1]T) is not an array", v)
	}

	res := make([]any, rv.Len())
	for i := range res {
		res[i] = rv.Index(i).Interface()
	}

	return res, nil
}
