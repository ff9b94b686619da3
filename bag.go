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
	"errors"
	"io"
	"log/slog"
	"sync"
)

// badKey is used for AppendArgs arguments that are not preceded by a string
// key, mirroring log/slog.
const badKey = "!BADKEY"

// ScopeCreator opens scopes on a logging engine. BeginScope returns a handle
// whose Close ends the scope, or nil when the engine declines to open one.
type ScopeCreator interface {
	BeginScope(values map[string]string) io.Closer
}

// categorized is implemented by engines that report the category they log
// under.
type categorized interface {
	Category() string
}

// scopeAttrReplacer is implemented by engines that rewrite scope attributes
// before normalization, for example to redact secrets.
type scopeAttrReplacer interface {
	ReplaceScopeAttr(slog.Attr) slog.Attr
}

// Bag accumulates scope handles for a code region and releases all of them
// on Close. A Bag is safe for concurrent use; it is meant to be closed once,
// typically with defer right after construction:
//
//	bag := logger.InitScopes(slog.String("order_id", id))
//	defer bag.Close()
//
//	bag.Append("customer", customer)
//	logger.Info("order accepted") // carries order_id and customer
type Bag struct {
	category string
	creator  ScopeCreator
	replacer scopeAttrReplacer

	mu     sync.Mutex
	scopes []io.Closer
	closed bool
}

// NewBag returns a Bag that opens scopes on creator. When attrs are supplied
// they are appended as a single scope, exactly as one AppendAttrs call would.
func NewBag(creator ScopeCreator, attrs ...slog.Attr) *Bag {
	b := &Bag{creator: creator}
	if c, ok := creator.(categorized); ok {
		b.category = c.Category()
	}
	if r, ok := creator.(scopeAttrReplacer); ok {
		b.replacer = r
	}
	if len(attrs) > 0 {
		b.AppendAttrs(attrs...)
	}
	return b
}

// Category reports the category of the engine the Bag opens scopes on.
func (b *Bag) Category() string {
	if b == nil {
		return ""
	}
	return b.category
}

// Append opens one scope holding key with its normalized value.
func (b *Bag) Append(key string, value any) *Bag {
	return b.AppendAttrs(slog.Any(key, value))
}

// AppendAttrs normalizes attrs into a single mapping and opens one scope for
// it. Duplicate keys keep the last value. Attributes with an empty key are
// skipped, and no scope is opened when nothing remains.
func (b *Bag) AppendAttrs(attrs ...slog.Attr) *Bag {
	if b == nil {
		return nil
	}
	values := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		if b.replacer != nil {
			attr.Value = attr.Value.Resolve()
			if attr = b.replacer.ReplaceScopeAttr(attr); attr.Key == "" {
				continue
			}
		}
		values[attr.Key] = Normalize(attr.Value)
	}
	if len(values) == 0 || b.creator == nil {
		return b
	}
	b.hold(b.creator.BeginScope(values))
	return b
}

// AppendArgs accepts alternating key/value arguments, or slog.Attr values,
// the same way slog.Logger.Info does, and opens one scope for them.
func (b *Bag) AppendArgs(args ...any) *Bag {
	return b.AppendAttrs(argsToAttrs(args)...)
}

// AppendTrace opens a scope with the trace correlation fields of the span in
// ctx. It does nothing when ctx carries no valid span context.
func (b *Bag) AppendTrace(ctx context.Context, projectID string) *Bag {
	attrs, ok := TraceAttributes(ctx, projectID)
	if !ok {
		return b
	}
	return b.AppendAttrs(attrs...)
}

// Len reports how many handles the Bag holds, including absent ones.
func (b *Bag) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.scopes)
}

// hold records scope for release. A scope handed over after Close is
// released immediately so it cannot outlive the Bag.
func (b *Bag) hold(scope io.Closer) {
	b.mu.Lock()
	if !b.closed {
		b.scopes = append(b.scopes, scope)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	if scope != nil {
		_ = scope.Close()
	}
}

// Close releases every held scope. Absent handles are skipped and errors
// from individual handles are joined; every handle is visited regardless.
// Calls after the first are no-ops.
func (b *Bag) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	scopes := b.scopes
	b.scopes = nil
	b.mu.Unlock()

	var errs []error
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		if err := scope.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// argsToAttrs converts slog-style alternating arguments into attributes.
func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2+1)
	for len(args) > 0 {
		switch x := args[0].(type) {
		case string:
			if len(args) == 1 {
				attrs = append(attrs, slog.String(badKey, x))
				args = nil
				continue
			}
			attrs = append(attrs, slog.Any(x, args[1]))
			args = args[2:]
		case slog.Attr:
			attrs = append(attrs, x)
			args = args[1:]
		default:
			attrs = append(attrs, slog.Any(badKey, x))
			args = args[1:]
		}
	}
	return attrs
}
