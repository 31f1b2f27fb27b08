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
	"context"

	"github.com/omnistore/omnistore/internal/util/observability"
)

// backendContract implements Backend and enforces its contract.
type backendContract struct {
	b Backend
}

// BackendContract wraps a Backend and enforces its contract.
//
// All backend implementations should use that function when they create new Backend instances.
// The facade layer should not use that function.
//
// The contract enforced here: backends never return coordination-layer *Error values;
// those codes exist above the backend boundary only.
func BackendContract(b Backend) Backend {
	return &backendContract{
		b: b,
	}
}

// unwrap returns the wrapped Backend.
func (bc *backendContract) unwrap() Backend {
	return bc.b
}

// Connect implements Backend interface.
func (bc *backendContract) Connect(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	err := bc.b.Connect(ctx)
	checkError(err)

	return err
}

// Disconnect implements Backend interface.
func (bc *backendContract) Disconnect(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	err := bc.b.Disconnect(ctx)
	checkError(err)

	return err
}

// Insert implements Backend interface.
func (bc *backendContract) Insert(ctx context.Context, rec Record) (Record, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.Insert(ctx, rec)
	checkError(err)

	return res, err
}

// Query implements Backend interface.
func (bc *backendContract) Query(ctx context.Context, filter Filter) ([]Record, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.Query(ctx, filter)
	checkError(err)

	return res, err
}

// QueryOne implements Backend interface.
//
// Absence is a valid outcome: both return values are nil when no record matches.
func (bc *backendContract) QueryOne(ctx context.Context, filter Filter) (Record, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.QueryOne(ctx, filter)
	checkError(err)

	return res, err
}

// Update implements Backend interface.
func (bc *backendContract) Update(ctx context.Context, filter Filter, patch Patch) (int, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.Update(ctx, filter, patch)
	checkError(err)

	return res, err
}

// Delete implements Backend interface.
func (bc *backendContract) Delete(ctx context.Context, filter Filter) (int, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.Delete(ctx, filter)
	checkError(err)

	return res, err
}

// Exists implements Backend interface.
func (bc *backendContract) Exists(ctx context.Context, filter Filter) (bool, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.Exists(ctx, filter)
	checkError(err)

	return res, err
}

// Count implements Backend interface.
func (bc *backendContract) Count(ctx context.Context, filter Filter) (int, error) {
	defer observability.FuncCall(ctx)()

	res, err := bc.b.Count(ctx, filter)
	checkError(err)

	return res, err
}

// unwrapper is implemented by contract wrappers.
type unwrapper interface {
	unwrap() Backend
}

// AsSubResourceSelector reports and returns the sub-resource selection capability,
// looking through contract wrappers.
func AsSubResourceSelector(b Backend) (SubResourceSelector, bool) {
	for {
		if s, ok := b.(SubResourceSelector); ok {
			return s, true
		}

		u, ok := b.(unwrapper)
		if !ok {
			return nil, false
		}

		b = u.unwrap()
	}
}

// AsLivenessChecker reports and returns the liveness capability,
// looking through contract wrappers.
func AsLivenessChecker(b Backend) (LivenessChecker, bool) {
	for {
		if s, ok := b.(LivenessChecker); ok {
			return s, true
		}

		u, ok := b.(unwrapper)
		if !ok {
			return nil, false
		}

		b = u.unwrap()
	}
}

// AsSchemaAttacher reports and returns the schema attachment capability,
// looking through contract wrappers.
func AsSchemaAttacher(b Backend) (SchemaAttacher, bool) {
	for {
		if s, ok := b.(SchemaAttacher); ok {
			return s, true
		}

		u, ok := b.(unwrapper)
		if !ok {
			return nil, false
		}

		b = u.unwrap()
	}
}

// check interfaces
var (
	_ Backend = (*backendContract)(nil)
)
