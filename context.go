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

package slogscope

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	loggerContextKey contextKey = iota
	bagContextKey
)

// DefaultCategory is the category of the fallback Logger returned by
// [FromContext].
const DefaultCategory = "default"

// ContextWithLogger returns a child context carrying logger so code further
// down the call chain logs with the same scopes.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if ctx == nil || logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext returns the Logger stored by ContextWithLogger. When none is
// present it returns a new Logger over the slog.Default() handler, so callers
// always receive a usable value.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
			return logger
		}
	}
	return NewLogger(slog.Default().Handler(), DefaultCategory)
}

// ContextWithBag returns a child context carrying bag, letting nested calls
// append to the scopes of the enclosing region.
func ContextWithBag(ctx context.Context, bag *Bag) context.Context {
	if ctx == nil || bag == nil {
		return ctx
	}
	return context.WithValue(ctx, bagContextKey, bag)
}

// BagFromContext returns the Bag stored by ContextWithBag.
func BagFromContext(ctx context.Context) (*Bag, bool) {
	if ctx == nil {
		return nil, false
	}
	bag, ok := ctx.Value(bagContextKey).(*Bag)
	return bag, ok && bag != nil
}
