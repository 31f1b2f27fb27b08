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
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/omnistore/omnistore/backends"
)

// subResourceKeys are excluded from fingerprinting when the backend can switch
// sub-resources after connecting. When it cannot, two configurations differing
// only in sub-resource would be wrongly merged into one connection that cannot
// serve both, so the keys stay in.
var subResourceKeys = map[string]struct{}{
	backends.ConfigCollection:     {},
	backends.ConfigCollectionName: {},
	backends.ConfigTable:          {},
	backends.ConfigTableName:      {},
}

// Fingerprint derives the connection-sharing identity of a (backend kind, configuration) pair.
//
// Two configurations that are equivalent for connection-sharing purposes produce
// identical fingerprints; distinct ones do not collide (a hash-like contract,
// best-effort, not cryptographic). An explicit "fingerprint" configuration entry
// wins verbatim.
func Fingerprint(d backends.Driver, cfg backends.Config) string {
	if v, ok := cfg[backends.ConfigFingerprint].(string); ok && v != "" {
		return v
	}

	var b strings.Builder
	b.WriteString(d.Name())

	// the map has no inherent order; sorting provides determinism
	keys := maps.Keys(cfg)
	slices.Sort(keys)

	switches := d.SwitchesSubResources()

	for _, k := range keys {
		if k == backends.ConfigFingerprint {
			continue
		}

		if _, ok := subResourceKeys[k]; ok && switches {
			continue
		}

		b.WriteString("|")
		b.WriteString(k)
		b.WriteString(":")
		b.WriteString(configValueString(cfg[k]))
	}

	return b.String()
}

// configValueString renders one configuration value deterministically.
//
// Scalars render as-is; structured values as canonical JSON
// (encoding/json sorts map keys).
func configValueString(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v)
	default:
		j, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(j)
	}
}
