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

// Package slogscopehttp opens a [slogscope.Bag] for every inbound HTTP
// request.
//
// [Middleware] derives a fresh [slogscope.Logger] per request, seeds a Bag
// with request metadata and trace correlation fields, and stores both in the
// request context. Handlers retrieve them with [slogscope.FromContext] and
// [slogscope.BagFromContext] and may append further scopes; everything is
// released when the handler returns, or panics.
//
//	base, _ := slogscope.NewHandler(os.Stdout)
//	mux := http.NewServeMux()
//	mux.HandleFunc("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
//		slogscope.BagFromContext(r.Context()) // add more scopes here
//		slogscope.FromContext(r.Context()).Info("loading order")
//	})
//	http.ListenAndServe(":8080", slogscopehttp.Middleware(
//		slogscopehttp.WithHandler(base),
//	)(mux))
//
// The middleware wraps the chain with otelhttp unless [WithOTel] disables it.
package slogscopehttp
