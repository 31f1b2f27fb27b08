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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omnistore/omnistore/backends"
)

// fingerprintDriver is a minimal driver for fingerprinting tests;
// its handles are never opened.
type fingerprintDriver struct {
	name     string
	switches bool
}

func (d fingerprintDriver) Name() string               { return d.name }
func (d fingerprintDriver) SwitchesSubResources() bool { return d.switches }

func (d fingerprintDriver) Open(backends.Config, *zap.Logger) (backends.Backend, error) {
	panic("not reached")
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	switching := fingerprintDriver{name: "doc", switches: true}
	static := fingerprintDriver{name: "doc", switches: false}

	t.Run("Deterministic", func(t *testing.T) {
		t.Parallel()

		cfg := backends.Config{
			"host": "localhost",
			"port": 5432,
		}

		assert.Equal(t, "doc|host:localhost|port:5432", Fingerprint(switching, cfg))
		assert.Equal(t, Fingerprint(switching, cfg), Fingerprint(switching, cfg))
	})

	t.Run("Override", func(t *testing.T) {
		t.Parallel()

		cfg := backends.Config{
			"fingerprint": "custom-identity",
			"host":        "localhost",
		}

		assert.Equal(t, "custom-identity", Fingerprint(switching, cfg))
	})

	t.Run("SubResourceIrrelevantWhenSwitching", func(t *testing.T) {
		t.Parallel()

		users := backends.Config{"host": "localhost", "collection": "users"}
		posts := backends.Config{"host": "localhost", "collection": "posts"}
		bare := backends.Config{"host": "localhost"}

		assert.Equal(t, Fingerprint(switching, users), Fingerprint(switching, posts))
		assert.Equal(t, Fingerprint(switching, users), Fingerprint(switching, bare))

		for _, alias := range []string{"collection", "collectionName", "table", "tableName"} {
			cfg := backends.Config{"host": "localhost", alias: "users"}
			assert.Equal(t, Fingerprint(switching, bare), Fingerprint(switching, cfg), alias)
		}
	})

	t.Run("SubResourceRelevantWhenStatic", func(t *testing.T) {
		t.Parallel()

		users := backends.Config{"host": "localhost", "table": "users"}
		posts := backends.Config{"host": "localhost", "table": "posts"}

		assert.NotEqual(t, Fingerprint(static, users), Fingerprint(static, posts))
	})

	t.Run("HostsDiffer", func(t *testing.T) {
		t.Parallel()

		a := backends.Config{"host": "a"}
		b := backends.Config{"host": "b"}

		assert.NotEqual(t, Fingerprint(switching, a), Fingerprint(switching, b))
	})

	t.Run("StructuredValues", func(t *testing.T) {
		t.Parallel()

		a := backends.Config{"opts": map[string]any{"a": 1, "b": "x"}}
		b := backends.Config{"opts": map[string]any{"b": "x", "a": 1}}
		c := backends.Config{"opts": map[string]any{"a": 2, "b": "x"}}

		require.Equal(t, `doc|opts:{"a":1,"b":"x"}`, Fingerprint(switching, a))
		assert.Equal(t, Fingerprint(switching, a), Fingerprint(switching, b))
		assert.NotEqual(t, Fingerprint(switching, a), Fingerprint(switching, c))
	})

	t.Run("ScalarValues", func(t *testing.T) {
		t.Parallel()

		cfg := backends.Config{
			"b": true,
			"f": 1.5,
			"n": nil,
			"s": "str",
		}

		assert.Equal(t, "doc|b:true|f:1.5|n:null|s:str", Fingerprint(switching, cfg))
	})
}
