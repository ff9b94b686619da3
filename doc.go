// Copyright 2025 Patrick J. Scruggs
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

// Package slogscope attaches groups of key/value scopes to every record a
// [log/slog] logger emits inside a code region, and releases them all when
// the region ends.
//
// The central type is [Bag]. A Bag is created at the start of an operation,
// collects scope handles as pairs are appended, and closes every handle it
// holds when its Close method runs, normally through defer:
//
//	logger := slogscope.NewLogger(handler, "orders")
//
//	bag := logger.InitScopes(slog.String("order_id", id))
//	defer bag.Close()
//
//	bag.Append("customer", customer) // non-string values are stored as JSON
//	logger.Info("order accepted")    // carries order_id and customer
//
// Each append call opens exactly one scope on the engine, whatever the number
// of pairs, and a Bag may be appended to from several goroutines at once.
// String values are stored verbatim. Other values are encoded by [Normalize],
// which never drops a pair: a value that cannot be encoded becomes "".
//
// # Engines
//
// A Bag needs only a [ScopeCreator]. [Logger] is the engine provided here: it
// wraps any slog.Handler and adds the pairs of its open scopes to each record.
// Scopes belong to one Logger, so per-request Loggers keep concurrent requests
// apart. [NewHandler] builds a JSON handler using Cloud Logging field names
// that works well as the underlying handler; with [WithFileRotation] it
// rotates file output. [WithScopeRedaction] masks secrets in scope values
// before they are encoded.
//
// # Trace correlation
//
// [Bag.AppendTrace] adds the trace and span of the OpenTelemetry span context
// in a context.Context. Importing the package installs [TracePropagator], which
// also understands X-Cloud-Trace-Context; see [EnsurePropagation] and
// [ExtractRemoteSpan].
//
// # Subpackages
//
//   - [github.com/pjscruggs/slogscope/slogscopehttp] opens a Bag per HTTP
//     request.
//   - [github.com/pjscruggs/slogscope/slogscopegrpc] does the same for gRPC
//     servers.
//
// # Configuration
//
// SLOGSCOPE_INCLUDE_SCOPES, SLOGSCOPE_SCOPE_GROUP, SLOGSCOPE_LEVEL,
// SLOGSCOPE_SOURCE_LOCATION and SLOGSCOPE_TARGET provide defaults that
// functional options override.
package slogscope
