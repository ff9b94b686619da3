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
	"os"
	"sync"

	gcppropagator "github.com/GoogleCloudPlatform/opentelemetry-operations-go/propagator"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const envDisablePropagatorAutoset = "SLOGSCOPE_DISABLE_PROPAGATOR_AUTOSET"

var installPropagatorOnce sync.Once

func init() {
	EnsurePropagation()
}

// TracePropagator returns the propagator slogscope reads remote spans with:
// Google Cloud's X-Cloud-Trace-Context on ingress only, then W3C Trace
// Context and Baggage.
func TracePropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		gcppropagator.CloudTraceOneWayPropagator{},
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// EnsurePropagation installs [TracePropagator] as the global OpenTelemetry
// propagator, once per process. Setting SLOGSCOPE_DISABLE_PROPAGATOR_AUTOSET
// to a true value leaves the global propagator alone.
func EnsurePropagation() {
	installPropagatorOnce.Do(func() {
		if parseBoolEnv(os.Getenv(envDisablePropagatorAutoset), false, nil) {
			return
		}
		otel.SetTextMapPropagator(TracePropagator())
	})
}

// ExtractRemoteSpan returns ctx carrying the remote span found in carrier,
// so a following [Bag.AppendTrace] records the caller's trace. A ctx that
// already holds a valid span is returned unchanged.
//
// A nil prop means the global propagator. When the global propagator finds
// nothing, [TracePropagator] is tried as well so X-Cloud-Trace-Context is
// honored even with automatic installation disabled.
func ExtractRemoteSpan(ctx context.Context, prop propagation.TextMapPropagator, carrier propagation.TextMapCarrier) context.Context {
	if trace.SpanContextFromContext(ctx).IsValid() {
		return ctx
	}
	if prop != nil {
		return prop.Extract(ctx, carrier)
	}
	out := otel.GetTextMapPropagator().Extract(ctx, carrier)
	if trace.SpanContextFromContext(out).IsValid() {
		return out
	}
	return TracePropagator().Extract(ctx, carrier)
}
