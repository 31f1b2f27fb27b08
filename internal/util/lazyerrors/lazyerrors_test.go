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

package lazyerrors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Parallel()

	err := Error(io.EOF)
	assert.Contains(t, err.Error(), "lazyerrors_test.go:")
	assert.Contains(t, err.Error(), "EOF")
	assert.True(t, errors.Is(err, io.EOF))
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	err := Errorf("fail: %w", io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "lazyerrors_test.go:")
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestErrorNil(t *testing.T) {
	t.Parallel()

	require.Panics(t, func() {
		_ = Error(nil)
	})
}
