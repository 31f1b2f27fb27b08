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

// Package resource provides utilities for tracking resource lifetimes.
package resource

import (
	"fmt"
	"reflect"
	"runtime"
	"runtime/pprof"
	"sync"

	"github.com/omnistore/omnistore/internal/util/debugbuild"
)

// Token is stored in a tracked object to connect it to a pprof profile entry.
type Token struct {
	stack []byte
}

// NewToken returns a new Token.
//
// The token records the creation stack in debug builds.
func NewToken() *Token {
	return &Token{
		stack: debugbuild.Stack(),
	}
}

// profilesM protects profile creation; pprof profiles themselves are safe for concurrent use.
var profilesM sync.Mutex

// profileName returns pprof profile name for the given object.
func profileName(obj any) string {
	return "omnistore/" + reflect.TypeOf(obj).Elem().String()
}

// Track tracks the lifetime of an object until Untrack is called on it.
//
// Obj should be a pointer to a struct holding token.
// In debug builds, an object that becomes unreachable without Untrack panics in its finalizer.
func Track[T any](obj *T, token *Token) {
	if token == nil {
		panic("resource.Track: token is nil")
	}

	name := profileName(obj)

	p := pprof.Lookup(name)
	if p == nil {
		profilesM.Lock()

		// a concurrent call might have created a profile already; check again
		if p = pprof.Lookup(name); p == nil {
			p = pprof.NewProfile(name)
		}

		profilesM.Unlock()
	}

	// use token instead of obj itself,
	// because otherwise the profile would hold a reference to obj and the finalizer would never run
	p.Add(token, 1)

	if debugbuild.Enabled {
		msg := fmt.Sprintf("%T has not been finalized", obj)
		if token.stack != nil {
			msg += "\nObject created by " + string(token.stack)
		}

		runtime.SetFinalizer(obj, func(*T) {
			panic(msg)
		})
	}
}

// Untrack stops tracking the lifetime of an object.
func Untrack[T any](obj *T, token *Token) {
	if token == nil {
		panic("resource.Untrack: token is nil")
	}

	p := pprof.Lookup(profileName(obj))
	if p == nil {
		panic("resource.Untrack: object is not tracked")
	}

	p.Remove(token)

	if debugbuild.Enabled {
		runtime.SetFinalizer(obj, nil)
	}
}
