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

// Command http-server gives each request its own scopes through the
// slogscopehttp middleware.
//
// This example is both documentation, and a test for `slogscope`.
package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/pjscruggs/slogscope"
	"github.com/pjscruggs/slogscope/slogscopehttp"
)

// main starts the HTTP server example.
func main() {
	handler, err := slogscope.NewHandler(os.Stdout)
	if err != nil {
		log.Fatalf("failed to create slogscope handler: %v", err)
	}
	defer handler.Close()

	http.Handle("/api", newServer(handler))
	if err := http.ListenAndServe(":8080", nil); err != nil {
		slog.New(handler).Error("server stopped", slog.Any("error", err))
	}
}

// newServer wraps the API handler with the scope middleware.
func newServer(h slog.Handler) http.Handler {
	return slogscopehttp.Middleware(
		slogscopehttp.WithHandler(h),
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bag, ok := slogscope.BagFromContext(r.Context()); ok {
			bag.Append("query", r.URL.Query())
		}
		slogscope.FromContext(r.Context()).InfoContext(r.Context(), "handling request")
		w.WriteHeader(http.StatusNoContent)
	}))
}
