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

package slogscopehttp

import (
	"log/slog"
	"net/http"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/pjscruggs/slogscope"
)

// DefaultCategory is the category of request Loggers unless overridden.
const DefaultCategory = "http"

// Option configures the HTTP middleware.
type Option func(*config)

type config struct {
	handler          slog.Handler
	category         string
	loggerOpts       []slogscope.LoggerOption
	projectID        string
	enableOTel       bool
	tracerProvider   trace.TracerProvider
	propagators      propagation.TextMapPropagator
	propagateTrace   bool
	routeGetter      func(*http.Request) string
	includeClientIP  bool
	includeUserAgent bool
	accessLog        bool
	clock            clockz.Clock
}

// defaultConfig returns the baseline middleware configuration.
func defaultConfig() *config {
	return &config{
		category:        DefaultCategory,
		enableOTel:      true,
		propagateTrace:  true,
		includeClientIP: true,
		accessLog:       true,
		clock:           clockz.RealClock,
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

// WithHandler sets the slog.Handler request Loggers write through. When nil
// or unset, the handler of slog.Default() at request time is used.
func WithHandler(h slog.Handler) Option {
	return func(cfg *config) {
		cfg.handler = h
	}
}

// WithCategory overrides the category of request Loggers.
func WithCategory(category string) Option {
	return func(cfg *config) {
		cfg.category = category
	}
}

// WithLoggerOptions forwards options to every request Logger.
func WithLoggerOptions(opts ...slogscope.LoggerOption) Option {
	return func(cfg *config) {
		cfg.loggerOpts = append(cfg.loggerOpts, opts...)
	}
}

// WithProjectID sets the project used for trace correlation fields. When
// unset, [slogscope.DetectProjectID] decides.
func WithProjectID(projectID string) Option {
	return func(cfg *config) {
		cfg.projectID = projectID
	}
}

// WithOTel enables or disables otelhttp instrumentation. Enabled by default.
func WithOTel(enabled bool) Option {
	return func(cfg *config) {
		cfg.enableOTel = enabled
	}
}

// WithTracerProvider sets the tracer provider otelhttp uses.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *config) {
		cfg.tracerProvider = tp
	}
}

// WithPropagators sets the propagator used to extract trace context from
// request headers. The global propagator is used otherwise.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *config) {
		cfg.propagators = p
	}
}

// WithTracePropagation toggles extraction of trace context from request
// headers. Enabled by default.
func WithTracePropagation(enabled bool) Option {
	return func(cfg *config) {
		cfg.propagateTrace = enabled
	}
}

// WithRouteGetter resolves the route template recorded as http.route.
func WithRouteGetter(fn func(*http.Request) string) Option {
	return func(cfg *config) {
		cfg.routeGetter = fn
	}
}

// WithClientIP toggles the http.client_ip scope pair. Enabled by default.
func WithClientIP(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeClientIP = enabled
	}
}

// WithUserAgent toggles the http.user_agent scope pair. Disabled by default.
func WithUserAgent(enabled bool) Option {
	return func(cfg *config) {
		cfg.includeUserAgent = enabled
	}
}

// WithAccessLog toggles the "request completed" record written when a
// request finishes. Enabled by default.
func WithAccessLog(enabled bool) Option {
	return func(cfg *config) {
		cfg.accessLog = enabled
	}
}

// WithClock replaces the clock used to measure request latency.
func WithClock(clock clockz.Clock) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}
