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

// Package observability provides tracing helpers for function calls.
package observability

import (
	"context"
	"runtime"
	"runtime/trace"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name reported to OpenTelemetry.
const tracerName = "github.com/omnistore/omnistore"

// funcCall tracks a single function call.
type funcCall struct {
	region *trace.Region
	span   oteltrace.Span
}

// FuncCall adds observability to a function call.
//
// It should be called at the very beginning of the function,
// and the returned function should be called at exit.
// The returned function must not be passed or stored.
// The only valid way to use FuncCall is:
//
//	func foo(ctx context.Context) {
//	    defer FuncCall(ctx)()
//	    // ...
//
// For the Go execution tracer, FuncCall creates a new region for the function call.
// For OpenTelemetry, it creates a span named after the calling function.
func FuncCall(ctx context.Context) func() {
	pc := make([]uintptr, 1)
	runtime.Callers(2, pc)
	f, _ := runtime.CallersFrames(pc).Next()
	funcName := f.Function

	fc := &funcCall{}

	if trace.IsEnabled() {
		fc.region = trace.StartRegion(ctx, funcName)
	}

	_, fc.span = otel.Tracer(tracerName).Start(ctx, funcName)

	return fc.leave
}

// leave is called on function exit.
func (fc *funcCall) leave() {
	fc.span.End()

	if fc.region != nil {
		fc.region.End()
	}
}
