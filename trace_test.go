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
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/trace"
)

const (
	testTraceID = "105445aa7843bc8bf206b12000100000"
	testSpanID  = "09158d8185d3c3af"
)

// spanContext builds a sampled span context for tests.
func spanContext(t *testing.T, remote bool) trace.SpanContext {
	t.Helper()
	tid, err := trace.TraceIDFromHex(testTraceID)
	if err != nil {
		t.Fatalf("TraceIDFromHex: %v", err)
	}
	sid, err := trace.SpanIDFromHex(testSpanID)
	if err != nil {
		t.Fatalf("SpanIDFromHex: %v", err)
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     sid,
		TraceFlags: trace.FlagsSampled,
		Remote:     remote,
	})
}

// attrMap flattens attrs for comparison.
func attrMap(attrs []slog.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[a.Key] = a.Value.String()
	}
	return out
}

// TestTraceAttributesWithProject verifies Cloud Logging keys are used when a
// project is known.
func TestTraceAttributesWithProject(t *testing.T) {
	t.Parallel()

	ctx := trace.ContextWithSpanContext(context.Background(), spanContext(t, false))
	attrs, ok := TraceAttributes(ctx, "projects/My-Proj")
	if !ok {
		t.Fatalf("TraceAttributes() ok = false")
	}
	want := map[string]string{
		TraceKey:   "projects/my-proj/traces/" + testTraceID,
		SpanKey:    testSpanID,
		SampledKey: "true",
	}
	if diff := cmp.Diff(want, attrMap(attrs)); diff != "" {
		t.Fatalf("TraceAttributes mismatch (-want +got):\n%s", diff)
	}
}

// TestTraceAttributesRemoteSpanOmitsSpanID verifies a remote parent's span ID
// is not reported.
func TestTraceAttributesRemoteSpanOmitsSpanID(t *testing.T) {
	t.Parallel()

	ctx := trace.ContextWithRemoteSpanContext(context.Background(), spanContext(t, true))
	attrs, ok := TraceAttributes(ctx, "proj-1")
	if !ok {
		t.Fatalf("TraceAttributes() ok = false")
	}
	if _, found := attrMap(attrs)[SpanKey]; found {
		t.Fatalf("remote span ID reported: %v", attrs)
	}
}

// TestTraceAttributesWithoutProject verifies the otel.* fallback keys.
func TestTraceAttributesWithoutProject(t *testing.T) {
	for _, name := range projectEnvVars {
		t.Setenv(name, "")
	}
	orig := metadataProjectID
	metadataProjectID = func(context.Context) (string, bool) { return "", false }
	resetProjectIDCache()
	t.Cleanup(func() {
		metadataProjectID = orig
		resetProjectIDCache()
	})

	ctx := trace.ContextWithSpanContext(context.Background(), spanContext(t, false))
	attrs, ok := TraceAttributes(ctx, "")
	if !ok {
		t.Fatalf("TraceAttributes() ok = false")
	}
	want := map[string]string{
		otelTraceIDKey: testTraceID,
		otelSpanIDKey:  testSpanID,
		otelSampledKey: "true",
	}
	if diff := cmp.Diff(want, attrMap(attrs)); diff != "" {
		t.Fatalf("TraceAttributes mismatch (-want +got):\n%s", diff)
	}
}

// TestTraceAttributesNoSpan verifies contexts without a span yield nothing.
func TestTraceAttributesNoSpan(t *testing.T) {
	t.Parallel()

	if attrs, ok := TraceAttributes(context.Background(), "proj-1"); ok || attrs != nil {
		t.Fatalf("TraceAttributes() = (%v, %v), want (nil, false)", attrs, ok)
	}
	//nolint:staticcheck // nil context is part of the contract.
	if _, ok := TraceAttributes(nil, "proj-1"); ok {
		t.Fatalf("TraceAttributes(nil) ok = true")
	}
}

// TestBagAppendTrace verifies trace pairs become one scope.
func TestBagAppendTrace(t *testing.T) {
	t.Parallel()

	creator := &recordingCreator{}
	bag := NewBag(creator)
	bag.AppendTrace(context.Background(), "proj-1")
	if got := len(creator.calls()); got != 0 {
		t.Fatalf("BeginScope called %d times without a span", got)
	}

	ctx := trace.ContextWithSpanContext(context.Background(), spanContext(t, false))
	bag.AppendTrace(ctx, "proj-1")
	want := []map[string]string{{
		TraceKey:   "projects/proj-1/traces/" + testTraceID,
		SpanKey:    testSpanID,
		SampledKey: "true",
	}}
	if diff := cmp.Diff(want, creator.calls()); diff != "" {
		t.Fatalf("BeginScope calls mismatch (-want +got):\n%s", diff)
	}
}

// TestNormalizeTraceProjectID verifies normalization and validation.
func TestNormalizeTraceProjectID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "empty", input: "", want: "", wantOK: false},
		{name: "valid", input: "alpha-123", want: "alpha-123", wantOK: true},
		{name: "with_prefix", input: "projects/my-project", want: "my-project", wantOK: true},
		{name: "uppercased", input: " My-Project ", want: "my-project", wantOK: true},
		{name: "domain_scoped", input: "example.com:proj", want: "example.com:proj", wantOK: true},
		{name: "reject_extra_path", input: "projects/proj/extra", want: "", wantOK: false},
		{name: "reject_trailing_dash", input: "proj-", want: "", wantOK: false},
		{name: "reject_prefix_only", input: "projects/", want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeTraceProjectID(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("normalizeTraceProjectID(%q) = (%q, %v), want (%q, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

// TestFormatTraceResource verifies the resource name layout.
func TestFormatTraceResource(t *testing.T) {
	t.Parallel()

	if got := FormatTraceResource("p", "abc"); got != "projects/p/traces/abc" {
		t.Fatalf("FormatTraceResource() = %q", got)
	}
}
