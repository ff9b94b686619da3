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
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/m-mizutani/masq"
)

// newCaptureLogger returns a Logger writing JSON lines into a buffer.
func newCaptureLogger(t *testing.T, category string, opts ...LoggerOption) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewLogger(h, category, opts...), &buf
}

// decodeLines parses every JSON line in buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

// TestLoggerScopesAppearUntilReleased verifies scope pairs are attached to
// records while the Bag is open and gone once it is closed.
func TestLoggerScopesAppearUntilReleased(t *testing.T) {
	t.Setenv(envIncludeScopes, "")
	t.Setenv(envScopeGroup, "")

	logger, buf := newCaptureLogger(t, "orders")
	bag := logger.InitScopes(slog.String("order_id", "o-1"))
	bag.Append("customer", map[string]string{"name": "ann"})
	logger.Info("inside")

	if err := bag.Close(); err != nil {
		t.Fatalf("Close() returned %v", err)
	}
	logger.Info("outside")

	entries := decodeLines(t, buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	inside := entries[0]
	if inside["order_id"] != "o-1" {
		t.Fatalf("order_id = %v, want o-1", inside["order_id"])
	}
	if inside["customer"] != `{"name":"ann"}` {
		t.Fatalf("customer = %v, want JSON text", inside["customer"])
	}
	if inside[DefaultCategoryKey] != "orders" {
		t.Fatalf("category = %v, want orders", inside[DefaultCategoryKey])
	}

	outside := entries[1]
	if _, ok := outside["order_id"]; ok {
		t.Fatalf("order_id still present after Close: %v", outside)
	}
	if _, ok := outside["customer"]; ok {
		t.Fatalf("customer still present after Close: %v", outside)
	}
}

// TestLoggerLaterScopesOverride verifies a key opened again takes the newer
// value and reverts when the newer scope closes.
func TestLoggerLaterScopesOverride(t *testing.T) {
	t.Setenv(envIncludeScopes, "")
	t.Setenv(envScopeGroup, "")

	logger, buf := newCaptureLogger(t, "")
	outer := logger.InitScope("step", "load")
	inner := logger.InitScope("step", "parse")
	logger.Info("nested")
	_ = inner.Close()
	logger.Info("outer")
	_ = outer.Close()

	entries := decodeLines(t, buf)
	if got := entries[0]["step"]; got != "parse" {
		t.Fatalf("step while nested = %v, want parse", got)
	}
	if got := entries[1]["step"]; got != "load" {
		t.Fatalf("step after inner close = %v, want load", got)
	}
	if _, ok := entries[0][DefaultCategoryKey]; ok {
		t.Fatalf("empty category should be omitted: %v", entries[0])
	}
}

// TestLoggerScopesDisabled verifies disabled scopes yield nil handles.
func TestLoggerScopesDisabled(t *testing.T) {
	t.Setenv(envIncludeScopes, "")
	t.Setenv(envScopeGroup, "")

	logger, buf := newCaptureLogger(t, "c", WithScopesEnabled(false))
	if h := logger.BeginScope(map[string]string{"k": "v"}); h != nil {
		t.Fatalf("BeginScope() = %v, want nil", h)
	}

	bag := logger.InitScopes(slog.String("k", "v"))
	if got := bag.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 absent handle", got)
	}
	logger.Info("msg")
	if err := bag.Close(); err != nil {
		t.Fatalf("Close() returned %v", err)
	}
	if entries := decodeLines(t, buf); entries[0]["k"] != nil {
		t.Fatalf("scope leaked into record: %v", entries[0])
	}
}

// TestLoggerScopesDisabledFromEnv verifies SLOGSCOPE_INCLUDE_SCOPES.
func TestLoggerScopesDisabledFromEnv(t *testing.T) {
	t.Setenv(envIncludeScopes, "false")
	t.Setenv(envScopeGroup, "")

	logger, _ := newCaptureLogger(t, "c")
	if h := logger.BeginScope(map[string]string{"k": "v"}); h != nil {
		t.Fatalf("BeginScope() = %v, want nil", h)
	}

	enabled, _ := newCaptureLogger(t, "c", WithScopesEnabled(true))
	h := enabled.BeginScope(map[string]string{"k": "v"})
	if h == nil {
		t.Fatalf("BeginScope() returned nil with explicit option")
	}
	_ = h.Close()
}

// TestLoggerScopeGroup verifies scope pairs nest under the configured group.
func TestLoggerScopeGroup(t *testing.T) {
	t.Setenv(envIncludeScopes, "")
	t.Setenv(envScopeGroup, "scope")

	logger, buf := newCaptureLogger(t, "c", WithCategoryKey("logger"))
	bag := logger.InitScopes(slog.String("a", "1"), slog.String("b", "2"))
	defer bag.Close()
	logger.With("extra", 1).Info("grouped")

	entry := decodeLines(t, buf)[0]
	want := map[string]any{"a": "1", "b": "2"}
	if diff := cmp.Diff(want, entry["scope"]); diff != "" {
		t.Fatalf("scope group mismatch (-want +got):\n%s", diff)
	}
	if entry["logger"] != "c" {
		t.Fatalf("category under custom key = %v, want c", entry["logger"])
	}
	if entry["extra"] != float64(1) {
		t.Fatalf("extra = %v, want 1", entry["extra"])
	}
}

// TestLoggerScopesIgnoreCallerGroups verifies scope attributes land at the top
// level, or under the scope group, when the emitting logger has open groups.
func TestLoggerScopesIgnoreCallerGroups(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		group string
		want  map[string]any
	}{
		{
			name: "top_level",
			want: map[string]any{
				"category": "c",
				"order":    "42",
				"req":      map[string]any{"b": float64(2), "inner": map[string]any{"a": float64(1)}},
			},
		},
		{
			name:  "scope_group",
			group: "scope",
			want: map[string]any{
				"category": "c",
				"scope":    map[string]any{"order": "42"},
				"req":      map[string]any{"b": float64(2), "inner": map[string]any{"a": float64(1)}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, buf := newCaptureLogger(t, "c", WithScopesEnabled(true), WithScopeGroup(tt.group))
			bag := logger.InitScope("order", 42)
			defer bag.Close()

			logger.WithGroup("req").With("b", 2).WithGroup("inner").Info("hi", "a", 1)

			entry := decodeLines(t, buf)[0]
			for _, k := range []string{"time", "level", "msg"} {
				delete(entry, k)
			}
			if diff := cmp.Diff(tt.want, entry); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestLoggerGroupsWithoutScopes verifies caller groups keep their shape when
// no scope is active.
func TestLoggerGroupsWithoutScopes(t *testing.T) {
	t.Parallel()

	logger, buf := newCaptureLogger(t, "c", WithScopesEnabled(true), WithScopeGroup(""))
	logger.WithGroup("req").WithGroup("").Info("hi", "a", 1)
	logger.WithGroup("empty").Info("bare")

	entries := decodeLines(t, buf)
	if diff := cmp.Diff(map[string]any{"a": float64(1)}, entries[0]["req"]); diff != "" {
		t.Fatalf("req group mismatch (-want +got):\n%s", diff)
	}
	if _, ok := entries[1]["empty"]; ok {
		t.Fatalf("empty group emitted: %v", entries[1])
	}
}

// TestLoggerActiveScopes verifies snapshots are ordered copies.
func TestLoggerActiveScopes(t *testing.T) {
	t.Parallel()

	logger := NewLogger(slog.DiscardHandler, "c", WithScopesEnabled(true))
	first := logger.BeginScope(map[string]string{"a": "1"})
	values := map[string]string{"b": "2"}
	second := logger.BeginScope(values)
	values["b"] = "mutated"

	got := logger.ActiveScopes()
	want := []map[string]string{{"a": "1"}, {"b": "2"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ActiveScopes mismatch (-want +got):\n%s", diff)
	}

	_ = first.Close()
	_ = first.Close()
	if diff := cmp.Diff([]map[string]string{{"b": "2"}}, logger.ActiveScopes()); diff != "" {
		t.Fatalf("ActiveScopes after close mismatch (-want +got):\n%s", diff)
	}
	_ = second.Close()
	if got := logger.ActiveScopes(); got != nil {
		t.Fatalf("ActiveScopes() = %v, want nil", got)
	}
}

// TestLoggersDoNotShareScopes verifies scopes stay with the Logger that
// opened them.
func TestLoggersDoNotShareScopes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	a := NewLogger(h, "a", WithScopesEnabled(true))
	b := NewLogger(h, "b", WithScopesEnabled(true))

	bag := a.InitScope("owner", "a")
	defer bag.Close()
	b.Info("from b")

	if entry := decodeLines(t, &buf)[0]; entry["owner"] != nil {
		t.Fatalf("scope of logger a leaked into logger b: %v", entry)
	}
}

// TestNewLoggerNilHandler verifies the default handler is used when none is
// given.
func TestNewLoggerNilHandler(t *testing.T) {
	t.Parallel()

	logger := NewLogger(nil, " padded ")
	if logger.Logger == nil {
		t.Fatalf("NewLogger(nil) returned no slog.Logger")
	}
	if got := logger.Category(); got != "padded" {
		t.Fatalf("Category() = %q, want %q", got, "padded")
	}
	var nilLogger *Logger
	if got := nilLogger.Category(); got != "" {
		t.Fatalf("nil Category() = %q, want empty", got)
	}
	if got := nilLogger.BeginScope(map[string]string{"k": "v"}); got != nil {
		t.Fatalf("nil BeginScope() = %v, want nil", got)
	}
}

type credentials struct {
	Name  string
	Token string
}

// TestLoggerScopeRedaction verifies masq redacts scope values before they
// are normalized.
func TestLoggerScopeRedaction(t *testing.T) {
	t.Parallel()

	logger := NewLogger(slog.DiscardHandler, "auth",
		WithScopesEnabled(true),
		WithScopeRedaction(masq.WithFieldName("password"), masq.WithFieldName("Token")),
	)
	bag := logger.InitScopes(
		slog.String("password", "hunter2"),
		slog.Any("user", credentials{Name: "ann", Token: "abc"}),
		slog.String("plain", "visible"),
		slog.Group("login", slog.String("password", "x"), slog.Int("attempt", 2)),
	)
	defer bag.Close()

	want := []map[string]string{{
		"password": masq.DefaultRedactMessage,
		"user":     `{"Name":"ann","Token":"` + masq.DefaultRedactMessage + `"}`,
		"plain":    "visible",
		"login":    `{"attempt":2,"password":"` + masq.DefaultRedactMessage + `"}`,
	}}
	if diff := cmp.Diff(want, logger.ActiveScopes()); diff != "" {
		t.Fatalf("redacted scopes mismatch (-want +got):\n%s", diff)
	}
}

// TestLoggerScopeReplaceAttrDrops verifies an empty key removes the pair.
func TestLoggerScopeReplaceAttrDrops(t *testing.T) {
	t.Parallel()

	logger := NewLogger(slog.DiscardHandler, "c",
		WithScopesEnabled(true),
		WithScopeReplaceAttr(func(groups []string, a slog.Attr) slog.Attr {
			if groups != nil {
				t.Errorf("groups = %v, want nil", groups)
			}
			if a.Key == "drop" {
				return slog.Attr{}
			}
			return a
		}),
	)
	bag := logger.InitScopes(slog.String("drop", "x"), slog.String("keep", "y"))
	defer bag.Close()
	bag.Append("drop", "only")

	want := []map[string]string{{"keep": "y"}}
	if diff := cmp.Diff(want, logger.ActiveScopes()); diff != "" {
		t.Fatalf("scopes mismatch (-want +got):\n%s", diff)
	}
	if got := bag.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}
