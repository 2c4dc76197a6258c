package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type logContextKey string

const (
	requestIDKey logContextKey = "request_id"
	loggerKey    logContextKey = "logger"
)

// RequestIDHeader carries a caller-supplied request ID. It is echoed on every
// HTTP response and read from gRPC metadata under its lowercase form.
const RequestIDHeader = "X-Request-ID"

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._\-]{1,64}$`)

// RequestIDFromContext retrieves the request ID from the context.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// LoggerFromContext retrieves the request-scoped logger from the context.
// Falls back to slog.Default() if none is set.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// withRequestLogger stores the request ID and a logger tagged with it.
func withRequestLogger(ctx context.Context, logger *slog.Logger, reqID string) (context.Context, *slog.Logger) {
	reqLogger := logger.With(slog.String("request_id", reqID))
	ctx = context.WithValue(ctx, requestIDKey, reqID)
	ctx = context.WithValue(ctx, loggerKey, reqLogger)
	return ctx, reqLogger
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// requestID returns candidate when it is a well-formed ID, or a fresh one.
func requestID(candidate string) string {
	if requestIDPattern.MatchString(candidate) {
		return candidate
	}
	return generateRequestID()
}

func requestIDFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return generateRequestID()
	}
	if ids := md.Get(RequestIDHeader); len(ids) > 0 {
		return requestID(ids[0])
	}
	return generateRequestID()
}

func durationMillis(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d.Nanoseconds())/1e6)
}

// httpLevel maps a response status to the completion log level.
func httpLevel(code int) slog.Level {
	switch {
	case code >= http.StatusInternalServerError:
		return slog.LevelError
	case code >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func grpcLevel(code codes.Code) slog.Level {
	switch code {
	case codes.OK, codes.Canceled:
		return slog.LevelInfo
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController and middleware that unwrap writers.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// HTTPRequestLogging logs one line per HTTP request once the response is
// written. Client errors log at warn and server errors at error. A
// well-formed X-Request-ID header is reused; otherwise a random ID is
// generated.
func HTTPRequestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := requestID(r.Header.Get(RequestIDHeader))
			ctx, reqLogger := withRequestLogger(r.Context(), logger, reqID)
			w.Header().Set(RequestIDHeader, reqID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			reqLogger.LogAttrs(ctx, httpLevel(wrapped.statusCode), "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.Int("status_code", wrapped.statusCode),
				durationMillis(time.Since(start)),
			)
		})
	}
}

// UnaryRequestLoggingInterceptor logs each unary gRPC call with its request
// ID, method, status code and duration.
func UnaryRequestLoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, reqLogger := withRequestLogger(ctx, logger, requestIDFromMetadata(ctx))

		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		reqLogger.LogAttrs(ctx, grpcLevel(code), "request completed",
			slog.String("method", info.FullMethod),
			slog.String("status_code", code.String()),
			durationMillis(time.Since(start)),
		)
		return resp, err
	}
}

// StreamRequestLoggingInterceptor is the streaming counterpart of
// UnaryRequestLoggingInterceptor. The health Watch RPC is the main caller.
func StreamRequestLoggingInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, reqLogger := withRequestLogger(ss.Context(), logger, requestIDFromMetadata(ss.Context()))

		reqLogger.InfoContext(ctx, "stream started", slog.String("method", info.FullMethod))

		start := time.Now()
		err := handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})

		code := status.Code(err)
		reqLogger.LogAttrs(ctx, grpcLevel(code), "stream completed",
			slog.String("method", info.FullMethod),
			slog.String("status_code", code.String()),
			durationMillis(time.Since(start)),
		)
		return err
	}
}

type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
