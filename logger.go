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
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/m-mizutani/masq"
)

const (
	// DefaultCategoryKey is the attribute key carrying a Logger's category.
	DefaultCategoryKey = "category"

	envIncludeScopes = "SLOGSCOPE_INCLUDE_SCOPES"
	envScopeGroup    = "SLOGSCOPE_SCOPE_GROUP"
)

// Logger wraps slog.Logger with a category and a set of active scopes.
//
// Scopes opened with BeginScope, usually through a [Bag], are attached to
// every record emitted through the Logger, including loggers derived from it
// with With or WithGroup, until they are closed. Scopes belong to the Logger
// value that opened them: two Loggers built from the same handler never see
// each other's scopes, which is why the HTTP and gRPC integrations build a
// fresh Logger per request.
type Logger struct {
	*slog.Logger

	category      string
	scopes        *scopeRegistry
	scopesEnabled bool
	replaceAttr   func([]string, slog.Attr) slog.Attr
}

// LoggerOption configures a Logger created by [NewLogger].
type LoggerOption func(*loggerOptions)

type loggerOptions struct {
	scopesEnabled *bool
	scopeGroup    *string
	categoryKey   *string
	replaceAttr   func([]string, slog.Attr) slog.Attr
}

// WithScopesEnabled controls whether BeginScope opens scopes at all. When
// disabled it returns nil handles and records carry no scope attributes.
func WithScopesEnabled(enabled bool) LoggerOption {
	return func(o *loggerOptions) {
		o.scopesEnabled = &enabled
	}
}

// WithScopeGroup nests scope attributes under name instead of adding them
// at the top level of each record. An empty name keeps them at the top level.
func WithScopeGroup(name string) LoggerOption {
	trimmed := strings.TrimSpace(name)
	return func(o *loggerOptions) {
		o.scopeGroup = &trimmed
	}
}

// WithCategoryKey overrides the attribute key used for the category. An empty
// key omits the category from records.
func WithCategoryKey(key string) LoggerOption {
	trimmed := strings.TrimSpace(key)
	return func(o *loggerOptions) {
		o.categoryKey = &trimmed
	}
}

// WithScopeReplaceAttr rewrites each scope attribute before it is
// normalized, with the same signature as [slog.HandlerOptions.ReplaceAttr].
// The groups argument is always nil. Returning an attribute with an empty key
// drops it.
func WithScopeReplaceAttr(fn func(groups []string, a slog.Attr) slog.Attr) LoggerOption {
	return func(o *loggerOptions) {
		o.replaceAttr = fn
	}
}

// WithScopeRedaction masks sensitive scope values with masq before they are
// normalized, so secrets nested in structs never reach the JSON text.
//
//	slogscope.WithScopeRedaction(masq.WithFieldName("Password"), masq.WithType[Token]())
func WithScopeRedaction(opts ...masq.Option) LoggerOption {
	return WithScopeReplaceAttr(masq.New(opts...))
}

// NewLogger returns a Logger for category that writes through h. A nil h
// falls back to the handler of slog.Default().
//
// SLOGSCOPE_INCLUDE_SCOPES and SLOGSCOPE_SCOPE_GROUP provide defaults that
// explicit options override.
func NewLogger(h slog.Handler, category string, opts ...LoggerOption) *Logger {
	o := &loggerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	enabled := parseBoolEnv(os.Getenv(envIncludeScopes), true, nil)
	if o.scopesEnabled != nil {
		enabled = *o.scopesEnabled
	}
	group := strings.TrimSpace(os.Getenv(envScopeGroup))
	if o.scopeGroup != nil {
		group = *o.scopeGroup
	}
	categoryKey := DefaultCategoryKey
	if o.categoryKey != nil {
		categoryKey = *o.categoryKey
	}

	if h == nil {
		h = slog.Default().Handler()
	}

	reg := &scopeRegistry{}
	logger := slog.New(&scopeHandler{next: h, scopes: reg, group: group})
	category = strings.TrimSpace(category)
	if categoryKey != "" && category != "" {
		logger = logger.With(slog.String(categoryKey, category))
	}

	return &Logger{
		Logger:        logger,
		category:      category,
		scopes:        reg,
		scopesEnabled: enabled,
		replaceAttr:   o.replaceAttr,
	}
}

// Category reports the category the Logger was created with.
func (l *Logger) Category() string {
	if l == nil {
		return ""
	}
	return l.category
}

// BeginScope makes values part of every subsequent record until the
// returned handle is closed. It returns nil when scopes are disabled or values
// is empty. The map is copied; later changes by the caller have no effect.
func (l *Logger) BeginScope(values map[string]string) io.Closer {
	if l == nil || !l.scopesEnabled || len(values) == 0 {
		return nil
	}
	return l.scopes.begin(values)
}

// ReplaceScopeAttr applies the Logger's scope attribute replacer, if any.
// [Bag] calls it before normalizing each value. Group members are replaced
// one by one so the group keeps its shape.
func (l *Logger) ReplaceScopeAttr(a slog.Attr) slog.Attr {
	if l == nil || l.replaceAttr == nil {
		return a
	}
	if a.Value.Kind() != slog.KindGroup {
		return l.replaceAttr(nil, a)
	}
	members := a.Value.Group()
	kept := make([]slog.Attr, 0, len(members))
	for _, m := range members {
		m.Value = m.Value.Resolve()
		if m = l.ReplaceScopeAttr(m); m.Key != "" {
			kept = append(kept, m)
		}
	}
	return slog.Attr{Key: a.Key, Value: slog.GroupValue(kept...)}
}

// InitScopes returns a Bag bound to the Logger, seeded with attrs as a single
// scope when any are given.
func (l *Logger) InitScopes(attrs ...slog.Attr) *Bag {
	return NewBag(l, attrs...)
}

// InitScope returns a Bag bound to the Logger seeded with one pair.
func (l *Logger) InitScope(key string, value any) *Bag {
	return NewBag(l).Append(key, value)
}

// ActiveScopes returns a copy of the scopes currently open on the Logger, in
// the order they were opened.
func (l *Logger) ActiveScopes() []map[string]string {
	if l == nil {
		return nil
	}
	return l.scopes.snapshot()
}

// scopeRegistry tracks the open scopes of one Logger in begin order.
type scopeRegistry struct {
	mu     sync.Mutex
	active []*scopeHandle
}

type scopeHandle struct {
	reg    *scopeRegistry
	values map[string]string
	once   sync.Once
}

// Close removes the scope from its Logger. Repeated calls are no-ops.
func (s *scopeHandle) Close() error {
	s.once.Do(func() {
		s.reg.remove(s)
	})
	return nil
}

// begin registers a copy of values and returns its handle.
func (r *scopeRegistry) begin(values map[string]string) *scopeHandle {
	h := &scopeHandle{reg: r, values: maps.Clone(values)}
	r.mu.Lock()
	r.active = append(r.active, h)
	r.mu.Unlock()
	return h
}

// remove drops h from the active list, preserving the order of the rest.
func (r *scopeRegistry) remove(h *scopeHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.active {
		if s == h {
			r.active = append(r.active[:i], r.active[i+1:]...)
			return
		}
	}
}

// snapshot copies the active scopes.
func (r *scopeRegistry) snapshot() []map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) == 0 {
		return nil
	}
	out := make([]map[string]string, 0, len(r.active))
	for _, s := range r.active {
		out = append(out, maps.Clone(s.values))
	}
	return out
}

// attrs flattens the active scopes into attributes. Keys keep the position
// of their first appearance; later scopes override earlier values.
func (r *scopeRegistry) attrs() []slog.Attr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) == 0 {
		return nil
	}
	index := make(map[string]int)
	var out []slog.Attr
	for _, s := range r.active {
		for _, k := range slices.Sorted(maps.Keys(s.values)) {
			if i, ok := index[k]; ok {
				out[i] = slog.String(k, s.values[k])
				continue
			}
			index[k] = len(out)
			out = append(out, slog.String(k, s.values[k]))
		}
	}
	return out
}

// scopeHandler adds the active scopes of its registry to each record.
//
// Groups opened by WithGroup are tracked here rather than on next, so scope
// attributes stay at the top level of the record (or under the scope group)
// no matter which derived logger emitted it. next only ever receives the
// attributes added before the first group.
type scopeHandler struct {
	next   slog.Handler
	scopes *scopeRegistry
	group  string
	frames []groupFrame
}

// groupFrame is one caller group and the attributes added while it was the
// innermost open group.
type groupFrame struct {
	name  string
	attrs []slog.Attr
}

// Enabled defers to the wrapped handler.
func (h *scopeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle rebuilds the caller's groups around the record attributes and adds
// the scope attributes beside them.
func (h *scopeHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := h.scopes.attrs()
	if len(attrs) == 0 && len(h.frames) == 0 {
		return h.next.Handle(ctx, r)
	}

	out := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	if len(h.frames) == 0 {
		r.Attrs(func(a slog.Attr) bool {
			out.AddAttrs(a)
			return true
		})
	} else {
		out.AddAttrs(h.nest(r))
	}

	if len(attrs) > 0 {
		if h.group != "" {
			out.AddAttrs(slog.Attr{Key: h.group, Value: slog.GroupValue(attrs...)})
		} else {
			out.AddAttrs(attrs...)
		}
	}
	return h.next.Handle(ctx, out)
}

// nest wraps the record attributes in the open groups, innermost first.
func (h *scopeHandler) nest(r slog.Record) slog.Attr {
	inner := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		inner = append(inner, a)
		return true
	})
	for i := len(h.frames) - 1; i >= 0; i-- {
		f := h.frames[i]
		members := make([]slog.Attr, 0, len(f.attrs)+len(inner))
		members = append(members, f.attrs...)
		members = append(members, inner...)
		inner = []slog.Attr{{Key: f.name, Value: slog.GroupValue(members...)}}
	}
	return inner[0]
}

// WithAttrs passes attrs to the wrapped handler until a group is open, then
// holds them in the innermost group.
func (h *scopeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	if len(h.frames) == 0 {
		return &scopeHandler{next: h.next.WithAttrs(attrs), scopes: h.scopes, group: h.group}
	}
	frames := slices.Clone(h.frames)
	last := &frames[len(frames)-1]
	last.attrs = append(slices.Clip(last.attrs), attrs...)
	return &scopeHandler{next: h.next, scopes: h.scopes, group: h.group, frames: frames}
}

// WithGroup opens a caller group for later attributes.
func (h *scopeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	frames := append(slices.Clip(h.frames), groupFrame{name: name})
	return &scopeHandler{next: h.next, scopes: h.scopes, group: h.group, frames: frames}
}
