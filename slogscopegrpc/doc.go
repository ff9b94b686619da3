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

// Package slogscopegrpc opens a [slogscope.Bag] for every RPC a gRPC server
// handles.
//
// The interceptors derive a [slogscope.Logger] per call and seed a Bag with
// the method, peer, request ID and trace correlation fields. Handlers read
// them back with [slogscope.FromContext] and [slogscope.BagFromContext]; the
// Bag is closed when the handler returns.
//
//	server := grpc.NewServer(slogscopegrpc.ServerOptions(
//		slogscopegrpc.WithHandler(base),
//		slogscopegrpc.WithRequestPayload(true),
//	)...)
package slogscopegrpc
