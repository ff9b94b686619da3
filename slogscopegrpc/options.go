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

package slogscopegrpc

import (
	"log/slog"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/slogscope"
)

// DefaultCategory is the category of RPC Loggers unless overridden.
const DefaultCategory = "grpc"

// Option configures the gRPC interceptors.
type Option func(*config)

type config struct {
	handler        slog.Handler
	category       string
	loggerOpts     []slogscope.LoggerOption
	projectID      string
	enableOTel     bool
	tracerProvider trace.TracerProvider
	propagators    propagation.TextMapPropagator
	propagateTrace bool
	includePeer    bool
	includePayload bool
	accessLog      bool
	clock          clockz.Clock
}

// defaultConfig returns the baseline interceptor configuration.
func defaultConfig() *config {
	return &config{
		category:       DefaultCategory,
		enableOTel:     true,
		propagateTrace: true,
		includePeer:    true,
		accessLog:      true,
		clock:          clockz.RealClock,
	}
}

// applyOptions applies opts on top of defaultConfig.
func applyOptions(opts []Option) *config {
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// WithHandler sets the slog.Handler RPC Loggers write through. When nil or
// unset, the handler of slog.Default() at call time is used.
func WithHandler(h slog.Handler) Option {
	return func(cfg *config) {
		cfg.handler = h
	}
}

// WithCategory overrides the category of RPC Loggers.
func WithCategory(category string) Option {
	return func(cfg *config) {
		cfg.category = category
	}
}

// WithLoggerOptions forwards options to every RPC Logger.
func WithLoggerOptions(opts ...slogscope.LoggerOption) Option {
	return func(cfg *config) {
		cfg.loggerOpts = append(cfg.loggerOpts, opts...)
	}
}

// WithProjectID sets the project used for trace correlation fields.
func WithProjectID(projectID string) Option {
	return func(cfg *config) {
		cfg.projectID = projectID
	}
}

// WithOTel toggles the otelgrpc stats handler installed by [ServerOptions].
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithTracerProvider sets the tracer provider otelgrpc uses.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithPropagators sets the propagator used to extract trace context from
// incoming metadata. The global propagator is used otherwise.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		cfg.propagators = p
	}
}

// WithTracePropagation toggles extraction of trace context from incoming
// metadata. Enabled by default.
func WithTracePropagation(enabled bool) Option {
	return func(cfg *config) {
		cfg.propagateTrace = enabled
	}
}

// WithPeerInfo toggles the net.peer.ip scope pair. Enabled by default.
func WithPeerInfo(enabled bool) Option {
	return func(cfg *config) {
		cfg.includePeer = enabled
	}
}

// WithRequestPayload adds the unary request message as the grpc.request
// scope pair, encoded as protojson. Disabled by default since payloads may
// hold sensitive data.
func WithRequestPayload(enabled bool) Option {
	return func(cfg *config) {
		cfg.includePayload = enabled
	}
}

// WithAccessLog toggles the "rpc completed" record. Enabled by default.
func WithAccessLog(enabled bool) Option {
	return func(cfg *config) {
		cfg.accessLog = enabled
	}
}

// WithClock replaces the clock used to measure RPC latency.
func WithClock(clock clockz.Clock) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// statsHandlerOptions configures otelgrpc from cfg.
func statsHandlerOptions(cfg *config) []otelgrpc.Option {
	var opts []otelgrpc.Option
	if cfg.tracerProvider != nil {
		opts = append(opts, otelgrpc.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagators != nil {
		opts = append(opts, otelgrpc.WithPropagators(cfg.propagators))
	}
	return opts
}
