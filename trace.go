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
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Keys used for trace correlation pairs. Cloud Logging links entries that
// carry them to the matching Cloud Trace span.
const (
	// TraceKey holds "projects/PROJECT_ID/traces/TRACE_ID".
	TraceKey = "logging.googleapis.com/trace"
	// SpanKey holds the hex span ID.
	SpanKey = "logging.googleapis.com/spanId"
	// SampledKey holds the sampling decision.
	SampledKey = "logging.googleapis.com/trace_sampled"

	otelTraceIDKey = "otel.trace_id"
	otelSpanIDKey  = "otel.span_id"
	otelSampledKey = "otel.trace_sampled"
)

var projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.:-]*[a-z0-9]$`)

// FormatTraceResource returns the Cloud Trace resource name
// "projects/<projectID>/traces/<traceID>".
func FormatTraceResource(projectID, rawTraceID string) string {
	return fmt.Sprintf("projects/%s/traces/%s", projectID, rawTraceID)
}

// TraceAttributes returns trace correlation attributes for the span context
// in ctx. With a known project the Cloud Logging keys are used; otherwise
// the raw IDs are reported under otel.* keys. The span ID is only included
// for spans created in this process, since a remote parent's span is not the
// one doing the logging.
//
// An empty projectID falls back to [DetectProjectID]. The boolean is false
// when ctx carries no valid span context.
func TraceAttributes(ctx context.Context, projectID string) ([]slog.Attr, bool) {
	if ctx == nil {
		return nil, false
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil, false
	}

	rawTrace := sc.TraceID().String()
	rawSpan := sc.SpanID().String()
	ownsSpan := !sc.IsRemote()

	project, ok := normalizeTraceProjectID(projectID)
	if !ok {
		project = DetectProjectID()
	}

	if project != "" {
		attrs := []slog.Attr{
			slog.String(TraceKey, FormatTraceResource(project, rawTrace)),
			slog.Bool(SampledKey, sc.IsSampled()),
		}
		if ownsSpan {
			attrs = append(attrs, slog.String(SpanKey, rawSpan))
		}
		return attrs, true
	}

	attrs := []slog.Attr{slog.String(otelTraceIDKey, rawTrace)}
	if ownsSpan {
		attrs = append(attrs, slog.String(otelSpanIDKey, rawSpan))
	}
	attrs = append(attrs, slog.Bool(otelSampledKey, sc.IsSampled()))
	return attrs, true
}

// normalizeTraceProjectID trims, strips a "projects/" prefix, lowercases and
// validates a project identifier.
func normalizeTraceProjectID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(s), "projects/") {
		s = strings.TrimSpace(s[len("projects/"):])
	}
	if s == "" || strings.Contains(s, "/") {
		return "", false
	}
	s = strings.ToLower(s)
	if !projectIDPattern.MatchString(s) {
		return "", false
	}
	return s, true
}
