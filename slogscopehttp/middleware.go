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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"

	"github.com/pjscruggs/slogscope"
)

const instrumentationName = "github.com/pjscruggs/slogscope/slogscopehttp"

// RequestIDHeader carries the request ID. An incoming value is reused and
// the ID in effect is echoed on the response.
const RequestIDHeader = "X-Request-Id"

// Scope keys opened by the middleware.
const (
	MethodKey    = "http.method"
	TargetKey    = "http.target"
	RouteKey     = "http.route"
	ClientIPKey  = "http.client_ip"
	UserAgentKey = "http.user_agent"
	RequestIDKey = "request.id"
)

// Middleware returns middleware that gives each request its own
// [slogscope.Logger] and [slogscope.Bag]. The Bag is seeded with request
// metadata and trace fields and closed once the wrapped handler returns.
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	cfg := applyOptions(opts)

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.NotFoundHandler()
		}

		chain := wrapWithOTel(cfg, scopeHandler(cfg, next))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ctx := extractSpanContext(r.Context(), r, cfg); ctx != r.Context() {
				r = r.WithContext(ctx)
			}
			chain.ServeHTTP(w, r)
		})
	}
}

// scopeHandler opens the request Bag around next.
func scopeHandler(cfg *config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := cfg.clock.Now()

		requestID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)

		logger := slogscope.NewLogger(cfg.handler, cfg.category, cfg.loggerOpts...)
		bag := logger.InitScopes(requestAttrs(cfg, r, requestID)...)
		bag.AppendTrace(r.Context(), cfg.projectID)

		ctx := slogscope.ContextWithLogger(r.Context(), logger)
		ctx = slogscope.ContextWithBag(ctx, bag)

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		completed := false
		defer func() {
			if cfg.accessLog {
				logCompletion(ctx, logger, rec, completed, cfg.clock.Now().Sub(start))
			}
			if err := bag.Close(); err != nil {
				logger.LogAttrs(ctx, slog.LevelWarn, "failed to release request scopes", slog.Any("error", err))
			}
		}()

		next.ServeHTTP(rec, r.WithContext(ctx))
		completed = true
	})
}

// requestAttrs builds the pairs of the request's first scope.
func requestAttrs(cfg *config, r *http.Request, requestID string) []slog.Attr {
	attrs := []slog.Attr{
		slog.String(MethodKey, r.Method),
		slog.String(RequestIDKey, requestID),
	}
	if r.URL != nil && r.URL.Path != "" {
		attrs = append(attrs, slog.String(TargetKey, r.URL.Path))
	}
	if cfg.routeGetter != nil {
		if route := strings.TrimSpace(cfg.routeGetter(r)); route != "" {
			attrs = append(attrs, slog.String(RouteKey, route))
		}
	}
	if cfg.includeClientIP {
		if ip := extractIP(r.RemoteAddr); ip != "" {
			attrs = append(attrs, slog.String(ClientIPKey, ip))
		}
	}
	if cfg.includeUserAgent {
		if ua := r.UserAgent(); ua != "" {
			attrs = append(attrs, slog.String(UserAgentKey, ua))
		}
	}
	return attrs
}

// logCompletion writes the access record. A handler that did not return
// normally is reported as a 500.
func logCompletion(ctx context.Context, logger *slogscope.Logger, rec *responseRecorder, completed bool, latency time.Duration) {
	status := rec.status
	msg := "request completed"
	if !completed {
		status = http.StatusInternalServerError
		msg = "request panicked"
	}
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.LogAttrs(ctx, level, msg,
		slog.Int("http.status", status),
		slog.Int64("http.response_size", rec.bytesWritten),
		slog.Duration("http.latency", latency),
	)
}

// wrapWithOTel wraps handler with otelhttp when enabled.
func wrapWithOTel(cfg *config, handler http.Handler) http.Handler {
	if !cfg.enableOTel {
		return handler
	}
	var otelOpts []otelhttp.Option
	if cfg.tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.tracerProvider))
	}
	if cfg.propagators != nil {
		otelOpts = append(otelOpts, otelhttp.WithPropagators(cfg.propagators))
	}
	return otelhttp.NewHandler(handler, instrumentationName, otelOpts...)
}

// extractSpanContext pulls a remote span context out of the request headers
// when ctx does not already carry one.
func extractSpanContext(ctx context.Context, r *http.Request, cfg *config) context.Context {
	if !cfg.propagateTrace {
		return ctx
	}
	return slogscope.ExtractRemoteSpan(ctx, cfg.propagators, propagation.HeaderCarrier(r.Header))
}

// extractIP strips the port from a RemoteAddr value.
func extractIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

type responseRecorder struct {
	http.ResponseWriter
	status       int
	wroteHeader  bool
	bytesWritten int64
}

// WriteHeader records the first status code written.
func (rr *responseRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

// Write counts body bytes.
func (rr *responseRecorder) Write(p []byte) (int, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := rr.ResponseWriter.Write(p)
	rr.bytesWritten += int64(n)
	if err != nil {
		return n, fmt.Errorf("write response body: %w", err)
	}
	return n, nil
}

// ReadFrom counts bytes streamed through io.Copy.
func (rr *responseRecorder) ReadFrom(src io.Reader) (int64, error) {
	if !rr.wroteHeader {
		rr.WriteHeader(http.StatusOK)
	}
	n, err := io.Copy(rr.ResponseWriter, src)
	rr.bytesWritten += n
	if err != nil {
		return n, fmt.Errorf("copy response body: %w", err)
	}
	return n, nil
}

// Unwrap exposes the underlying ResponseWriter for http.ResponseController.
func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// Flush forwards to the underlying writer when it supports flushing.
func (rr *responseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack delegates to the wrapped Hijacker when supported.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		conn, rw, err := hijacker.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, rw, nil
	}
	return nil, nil, http.ErrNotSupported
}
