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
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/pjscruggs/slogscope"
)

// RequestIDMetadataKey is the incoming metadata key carrying a request ID.
const RequestIDMetadataKey = "x-request-id"

// Scope keys opened by the interceptors.
const (
	MethodKey    = "grpc.method"
	ServiceKey   = "grpc.service"
	KindKey      = "grpc.kind"
	PeerKey      = "net.peer.ip"
	RequestIDKey = "request.id"
	RequestKey   = "grpc.request"
)

// UnaryServerInterceptor gives each unary RPC its own [slogscope.Logger] and
// [slogscope.Bag], closing the Bag when the handler returns.
func UnaryServerInterceptor(opts ...Option) grpc.UnaryServerInterceptor {
	cfg := applyOptions(opts)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := cfg.clock.Now()
		ctx, logger, bag := openScopes(ctx, cfg, info.FullMethod, "unary")
		if cfg.includePayload && req != nil {
			bag.Append(RequestKey, req)
		}

		completed := false
		defer func() {
			finish(ctx, cfg, logger, bag, err, completed, cfg.clock.Now().Sub(start))
		}()

		resp, err = handler(ctx, req)
		completed = true
		return resp, err
	}
}

// StreamServerInterceptor gives each streaming RPC its own
// [slogscope.Logger] and [slogscope.Bag], closing the Bag when the handler
// returns.
func StreamServerInterceptor(opts ...Option) grpc.StreamServerInterceptor {
	cfg := applyOptions(opts)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := cfg.clock.Now()
		ctx, logger, bag := openScopes(ss.Context(), cfg, info.FullMethod, streamKind(info))

		completed := false
		defer func() {
			finish(ctx, cfg, logger, bag, err, completed, cfg.clock.Now().Sub(start))
		}()

		err = handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
		completed = true
		return err
	}
}

// ServerOptions returns grpc.ServerOptions that install the otelgrpc stats
// handler, when enabled, and both interceptors.
func ServerOptions(opts ...Option) []grpc.ServerOption {
	cfg := applyOptions(opts)
	var serverOpts []grpc.ServerOption

	if cfg.enableOTel {
		serverOpts = append(serverOpts, grpc.StatsHandler(otelgrpc.NewServerHandler(statsHandlerOptions(cfg)...)))
	}

	serverOpts = append(serverOpts,
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(opts...)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor(opts...)),
	)
	return serverOpts
}

// openScopes builds the RPC Logger and Bag and stores both in the context.
func openScopes(ctx context.Context, cfg *config, fullMethod, kind string) (context.Context, *slogscope.Logger, *slogscope.Bag) {
	md, _ := metadata.FromIncomingContext(ctx)
	ctx = extractSpanContext(ctx, md, cfg)

	logger := slogscope.NewLogger(cfg.handler, cfg.category, cfg.loggerOpts...)
	bag := logger.InitScopes(rpcAttrs(ctx, cfg, md, fullMethod, kind)...)
	bag.AppendTrace(ctx, cfg.projectID)

	ctx = slogscope.ContextWithLogger(ctx, logger)
	ctx = slogscope.ContextWithBag(ctx, bag)
	return ctx, logger, bag
}

// rpcAttrs builds the pairs of the RPC's first scope.
func rpcAttrs(ctx context.Context, cfg *config, md metadata.MD, fullMethod, kind string) []slog.Attr {
	service, method := splitMethod(fullMethod)
	requestID := ""
	if values := md.Get(RequestIDMetadataKey); len(values) > 0 {
		requestID = strings.TrimSpace(values[0])
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	attrs := []slog.Attr{
		slog.String(MethodKey, method),
		slog.String(KindKey, kind),
		slog.String(RequestIDKey, requestID),
	}
	if service != "" {
		attrs = append(attrs, slog.String(ServiceKey, service))
	}
	if cfg.includePeer {
		if addr, ok := peerAddress(ctx); ok {
			attrs = append(attrs, slog.String(PeerKey, addr))
		}
	}
	return attrs
}

// finish writes the completion record and releases the RPC scopes. A
// handler that did not return normally is reported as Internal.
func finish(ctx context.Context, cfg *config, logger *slogscope.Logger, bag *slogscope.Bag, err error, completed bool, latency time.Duration) {
	if cfg.accessLog {
		code := status.Code(err)
		msg := "rpc completed"
		if !completed {
			code = codes.Internal
			msg = "rpc panicked"
		}
		logger.LogAttrs(ctx, levelForCode(code), msg,
			slog.String("grpc.code", code.String()),
			slog.Duration("grpc.latency", latency),
		)
	}
	if cerr := bag.Close(); cerr != nil {
		logger.LogAttrs(ctx, slog.LevelWarn, "failed to release rpc scopes", slog.Any("error", cerr))
	}
}

// levelForCode maps server-side failures to Error and client-side ones to
// Warn.
func levelForCode(code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelInfo
	case codes.Canceled, codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition,
		codes.OutOfRange, codes.ResourceExhausted, codes.Aborted:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// splitMethod splits "/pkg.Service/Method" into service and method.
func splitMethod(fullMethod string) (string, string) {
	name := strings.TrimPrefix(fullMethod, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// extractSpanContext pulls a remote span context from incoming metadata when
// ctx does not already carry one.
func extractSpanContext(ctx context.Context, md metadata.MD, cfg *config) context.Context {
	if !cfg.propagateTrace || len(md) == 0 {
		return ctx
	}
	return slogscope.ExtractRemoteSpan(ctx, cfg.propagators, metadataCarrier{md: md})
}

// peerAddress extracts the remote host portion of the peer address.
func peerAddress(ctx context.Context) (string, bool) {
	pr, ok := peer.FromContext(ctx)
	if !ok || pr == nil || pr.Addr == nil {
		return "", false
	}
	addr := pr.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host, true
	}
	return addr, true
}

// streamKind converts stream information into a kind string.
func streamKind(info *grpc.StreamServerInfo) string {
	switch {
	case info.IsClientStream && info.IsServerStream:
		return "bidi_stream"
	case info.IsClientStream:
		return "client_stream"
	case info.IsServerStream:
		return "server_stream"
	default:
		return "unary"
	}
}

type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the context carrying the RPC Logger and Bag.
func (s *serverStream) Context() context.Context {
	return s.ctx
}

// metadataCarrier adapts metadata.MD to propagation.TextMapCarrier.
type metadataCarrier struct {
	md metadata.MD
}

// Get returns the first value for key.
func (c metadataCarrier) Get(key string) string {
	if values := c.md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// Set replaces the values for key.
func (c metadataCarrier) Set(key, value string) {
	c.md.Set(key, value)
}

// Keys lists the metadata keys.
func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c.md))
	for k := range c.md {
		keys = append(keys, k)
	}
	return keys
}
