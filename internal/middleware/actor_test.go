package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPActor(t *testing.T) {
	tests := []struct {
		name     string
		fallback string
		header   string
		want     string
	}{
		{name: "header wins", fallback: "Ops", header: "Jane Smith", want: "Jane Smith"},
		{name: "header trimmed", header: "  Emma Wilson ", want: "Emma Wilson"},
		{name: "missing header uses fallback", fallback: "Ops", want: "Ops"},
		{name: "blank fallback uses default", fallback: "  ", want: DefaultActor},
		{name: "oversized header ignored", fallback: "Ops", header: strings.Repeat("x", 200), want: "Ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := HTTPActor(tt.fallback)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = ActorFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/experiments", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Fatalf("actor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActorFromContextEmpty(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("expected no actor in empty context")
	}
}
