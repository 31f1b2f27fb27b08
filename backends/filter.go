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

package backends

import (
	"math"
	"reflect"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
)

// AnyOf is a filter value matching records whose field equals any member.
//
// Used by the relationship resolver to coalesce many foreign-key lookups into
// one query; backends that can push membership filters down translate it
// (e.g. to SQL IN or MongoDB $in), others fall back to the in-memory matcher.
type AnyOf []any

// unsetMarker is the type of the Unset sentinel.
type unsetMarker struct{}

// Unset is a Patch value that removes the field instead of setting it.
var Unset unsetMarker

// IsUnset reports whether a patch value is the Unset sentinel.
func IsUnset(v any) bool {
	_, ok := v.(unsetMarker)
	return ok
}

// IDField is the reserved record identity field.
const IDField = "_id"

// EnsureID returns rec with a generated "_id" added when absent.
//
// The input map is not modified.
func EnsureID(rec Record) Record {
	if v, ok := rec[IDField]; ok && v != nil {
		return rec
	}

	res := maps.Clone(rec)
	if res == nil {
		res = Record{}
	}

	res[IDField] = uuid.NewString()

	return res
}

// ApplyPatch returns a copy of rec with patch applied field by field.
//
// Unset values remove fields.
func ApplyPatch(rec Record, patch Patch) Record {
	res := maps.Clone(rec)
	if res == nil {
		res = Record{}
	}

	for k, v := range patch {
		if _, ok := v.(unsetMarker); ok {
			delete(res, k)
			continue
		}

		res[k] = v
	}

	return res
}

// CanonicalValue normalizes a scalar for comparison and map keying:
// signed and unsigned integers widen to int64, float32 to float64,
// and integral floats collapse to int64, so int keys meet their
// JSON-decoded float64 counterparts. Other values pass through.
func CanonicalValue(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return CanonicalValue(float64(v))
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < float64(1<<53) {
			return int64(v)
		}

		return v
	default:
		return v
	}
}

// Equal reports whether two field values are equal after canonicalization.
func Equal(a, b any) bool {
	ca, cb := CanonicalValue(a), CanonicalValue(b)

	switch ca.(type) {
	case nil, bool, string, int64, float64:
		return ca == cb
	default:
		return reflect.DeepEqual(ca, cb)
	}
}

// Matches reports whether rec satisfies the filter.
//
// This is the reference matching semantics shared by naive backends:
// a linear field-by-field check, O(fields) per record, O(records) per query.
func Matches(rec Record, filter Filter) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok {
			return false
		}

		if members, ok := want.(AnyOf); ok {
			var found bool

			for _, m := range members {
				if Equal(got, m) {
					found = true
					break
				}
			}

			if !found {
				return false
			}

			continue
		}

		if !Equal(got, want) {
			return false
		}
	}

	return true
}
