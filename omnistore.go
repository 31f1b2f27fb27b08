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

// Package omnistore presents one uniform CRUD interface over interchangeable
// storage backends, while transparently sharing physical connections between
// facade instances that target the same backend configuration, and batching
// and caching the cross-entity lookups used to resolve declared relationships.
//
// Applications hold one Pool per process and construct a Facade per entity
// collection. Facade construction fingerprints the (backend kind,
// configuration) pair; facades with equal fingerprints share one backend
// handle, and their Connect calls are coordinated so the underlying connect
// operation runs at most once concurrently per fingerprint.
//
// Storage backends live in the backends/… subpackages and register themselves
// on import, mirroring database/sql drivers:
//
//	import (
//		"github.com/omnistore/omnistore"
//		"github.com/omnistore/omnistore/backends"
//		_ "github.com/omnistore/omnistore/backends/sqlite"
//	)
//
//	pool := omnistore.NewPool(logger)
//	defer pool.Close()
//
//	posts, err := omnistore.New(&omnistore.NewParams{
//		Pool:    pool,
//		Backend: "sqlite",
//		Config:  backends.Config{"uri": "file:app.db", "table": "posts"},
//		L:       logger,
//	})
//
// The package holds no durable state of its own; persistence is entirely
// delegated to backends.
package omnistore
