package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// logRecorder captures JSON log records for assertions.
type logRecorder struct {
	buf bytes.Buffer
}

func (r *logRecorder) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&r.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (r *logRecorder) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(r.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode log line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func (r *logRecorder) single(t *testing.T) map[string]any {
	t.Helper()
	recs := r.records(t)
	if len(recs) != 1 {
		t.Fatalf("log records = %d, want 1: %s", len(recs), r.buf.String())
	}
	return recs[0]
}

func TestHTTPRequestLoggingLevels(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "ok", status: http.StatusOK, wantLevel: "INFO"},
		{name: "created", status: http.StatusCreated, wantLevel: "INFO"},
		{name: "field locked", status: http.StatusConflict, wantLevel: "WARN"},
		{name: "validation", status: http.StatusUnprocessableEntity, wantLevel: "WARN"},
		{name: "store failure", status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs logRecorder
			handler := HTTPRequestLogging(logs.logger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/experiments/1/status", nil)
			handler.ServeHTTP(httptest.NewRecorder(), req)

			rec := logs.single(t)
			if rec["level"] != tt.wantLevel {
				t.Fatalf("level = %v, want %s", rec["level"], tt.wantLevel)
			}
			if rec["msg"] != "request completed" {
				t.Fatalf("msg = %v", rec["msg"])
			}
			if rec["status_code"] != float64(tt.status) {
				t.Fatalf("status_code = %v, want %d", rec["status_code"], tt.status)
			}
			if rec["path"] != "/v1/experiments/1/status" || rec["method"] != http.MethodPost {
				t.Fatalf("unexpected request attrs: %v", rec)
			}
			if _, ok := rec["duration_ms"]; !ok {
				t.Fatal("missing duration_ms")
			}
		})
	}
}

func TestHTTPRequestLoggingRequestID(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantHdr bool
	}{
		{name: "generated", header: ""},
		{name: "reused", header: "trace-abc_123", wantHdr: true},
		{name: "malformed replaced", header: "bad id with spaces"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs logRecorder
			var fromCtx string
			var ctxLogger *slog.Logger
			handler := HTTPRequestLogging(logs.logger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id, ok := RequestIDFromContext(r.Context())
				if !ok {
					t.Fatal("request id missing from context")
				}
				fromCtx = id
				ctxLogger = LoggerFromContext(r.Context())
				_, _ = w.Write([]byte("ok"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/experiments", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.wantHdr && fromCtx != tt.header {
				t.Fatalf("request id = %q, want %q", fromCtx, tt.header)
			}
			if !tt.wantHdr && len(fromCtx) != 16 {
				t.Fatalf("generated request id = %q, want 16 hex chars", fromCtx)
			}
			if got := rec.Header().Get(RequestIDHeader); got != fromCtx {
				t.Fatalf("response header = %q, want %q", got, fromCtx)
			}
			if ctxLogger == slog.Default() {
				t.Fatal("expected request-scoped logger in context")
			}
			if got := logs.single(t)["request_id"]; got != fromCtx {
				t.Fatalf("logged request_id = %v, want %q", got, fromCtx)
			}
		})
	}
}

func TestHTTPRequestLoggingNilLogger(t *testing.T) {
	handler := HTTPRequestLogging(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/experiments/3", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestUnaryRequestLoggingInterceptor(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantLevel string
	}{
		{name: "ok", wantCode: "OK", wantLevel: "INFO"},
		{name: "not found", err: status.Error(codes.NotFound, "unknown service"), wantCode: "NotFound", wantLevel: "WARN"},
		{name: "internal", err: status.Error(codes.Internal, "boom"), wantCode: "Internal", wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs logRecorder
			interceptor := UnaryRequestLoggingInterceptor(logs.logger())
			info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

			_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
				if _, ok := RequestIDFromContext(ctx); !ok {
					t.Fatal("request id missing from context")
				}
				return nil, tt.err
			})
			if status.Code(err) != status.Code(tt.err) {
				t.Fatalf("error = %v, want %v", err, tt.err)
			}

			rec := logs.single(t)
			if rec["status_code"] != tt.wantCode || rec["level"] != tt.wantLevel {
				t.Fatalf("record = %v, want code %s level %s", rec, tt.wantCode, tt.wantLevel)
			}
			if rec["method"] != info.FullMethod {
				t.Fatalf("method = %v", rec["method"])
			}
		})
	}
}

func TestUnaryRequestLoggingInterceptorMetadataRequestID(t *testing.T) {
	var logs logRecorder
	interceptor := UnaryRequestLoggingInterceptor(logs.logger())
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "probe-7"))

	var got string
	_, _ = interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, func(ctx context.Context, _ any) (any, error) {
		got, _ = RequestIDFromContext(ctx)
		return nil, nil
	})

	if got != "probe-7" {
		t.Fatalf("request id = %q, want probe-7", got)
	}
	if logs.single(t)["request_id"] != "probe-7" {
		t.Fatal("logged request id does not match metadata")
	}
}

func TestStreamRequestLoggingInterceptor(t *testing.T) {
	var logs logRecorder
	interceptor := StreamRequestLoggingInterceptor(logs.logger())
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}
	stream := &testServerStream{ctx: context.Background()}

	err := interceptor(struct{}{}, stream, info, func(_ any, ss grpc.ServerStream) error {
		if _, ok := RequestIDFromContext(ss.Context()); !ok {
			t.Fatal("request id missing from stream context")
		}
		return status.Error(codes.Unavailable, "shutting down")
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("error = %v, want Unavailable", err)
	}

	recs := logs.records(t)
	if len(recs) != 2 {
		t.Fatalf("log records = %d, want 2", len(recs))
	}
	if recs[0]["msg"] != "stream started" || recs[1]["msg"] != "stream completed" {
		t.Fatalf("unexpected messages: %v, %v", recs[0]["msg"], recs[1]["msg"])
	}
	if recs[1]["status_code"] != "Unavailable" || recs[1]["level"] != "ERROR" {
		t.Fatalf("completion record = %v", recs[1])
	}
	if recs[0]["request_id"] != recs[1]["request_id"] {
		t.Fatal("request id differs between start and completion")
	}
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Fatal("expected slog.Default() without a request logger")
	}
	if _, ok := RequestIDFromContext(context.Background()); ok {
		t.Fatal("expected no request id in empty context")
	}
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusConflict)
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte("x"))

	if rw.statusCode != http.StatusConflict {
		t.Fatalf("statusCode = %d, want %d", rw.statusCode, http.StatusConflict)
	}
	if rw.Unwrap() != rec {
		t.Fatal("Unwrap should return the underlying writer")
	}
}
