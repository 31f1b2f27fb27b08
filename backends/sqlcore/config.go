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

package sqlcore

import (
	"fmt"
	"regexp"

	"github.com/omnistore/omnistore/backends"
)

// tableNameRe restricts table names to plain identifiers; everything else is interpolated, not bound.
var tableNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidTableName reports whether name is a plain identifier safe for interpolation.
func ValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

// DSNFromConfig extracts the data source name from a backend configuration.
//
// Both "uri" and "dsn" keys are accepted.
func DSNFromConfig(cfg backends.Config) (string, error) {
	for _, k := range []string{"uri", "dsn"} {
		v, ok := cfg[k]
		if !ok {
			continue
		}

		s, ok := v.(string)
		if !ok || s == "" {
			return "", backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf("%q must be a non-empty string", k))
		}

		return s, nil
	}

	return "", backends.NewError(backends.ErrorCodeInvalidConfig, fmt.Errorf(`configuration needs a "uri" or "dsn" key`))
}
