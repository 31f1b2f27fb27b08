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
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Driver describes a backend kind and constructs its handles.
//
// Open must not perform I/O; it only validates the configuration and builds
// an unconnected handle. Connection establishment happens in Backend.Connect,
// under the pool's coordination.
type Driver interface {
	// Name returns the stable backend kind name used as the fingerprint base.
	Name() string

	// SwitchesSubResources reports whether handles of this kind can be re-scoped
	// to another sub-resource after connecting. When false, the sub-resource name
	// participates in fingerprinting, and configurations differing only in it
	// get separate connections.
	SwitchesSubResources() bool

	// Open returns a new unconnected handle for the given configuration.
	// The logger is never nil.
	Open(cfg Config, l *zap.Logger) (Backend, error)
}

var (
	driversM sync.RWMutex
	drivers  = map[string]Driver{}
)

// Register makes a backend driver available under its name.
//
// It is expected to be called from driver package init functions.
// Registering two drivers with the same name panics.
func Register(d Driver) {
	driversM.Lock()
	defer driversM.Unlock()

	name := d.Name()
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("backends.Register: driver %q is already registered", name))
	}

	drivers[name] = d
}

// DriverByName returns the registered driver for the given backend kind.
func DriverByName(name string) (Driver, error) {
	driversM.RLock()
	defer driversM.RUnlock()

	d, ok := drivers[name]
	if !ok {
		return nil, NewError(ErrorCodeUnknownBackend, fmt.Errorf("unknown backend kind %q", name))
	}

	return d, nil
}
