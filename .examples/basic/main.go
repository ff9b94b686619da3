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

// Command basic opens a Bag of scopes around a unit of work and logs inside
// it.
//
// This example is both documentation, and a test for `slogscope`.
package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/pjscruggs/slogscope"
)

// main runs the basic slogscope example.
func main() {
	handler, err := slogscope.NewHandler(os.Stdout)
	if err != nil {
		log.Fatalf("failed to create slogscope handler: %v", err)
	}
	defer handler.Close()

	run(slogscope.NewLogger(handler, "app"))
}

// run logs one record inside three scope pairs.
func run(logger *slogscope.Logger) {
	bag := logger.InitScopes(
		slog.String("ScopeKey", "ScopeValue"),
		slog.String("ScopeKey2", "ScopeValue2"),
	)
	defer bag.Close()

	bag.Append("ScopeKey3", "ScopeValue3")
	logger.Info("Log within a scoped context.")
}
