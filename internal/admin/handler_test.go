package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/matt-riley/experimentz/internal/core"
	"github.com/matt-riley/experimentz/internal/repository"
	"github.com/matt-riley/experimentz/internal/service"
	"github.com/matt-riley/experimentz/internal/store"
)

func newTestAdmin(t *testing.T) *Handler {
	t.Helper()

	st, err := store.New(repository.NewMemoryRepository(), store.DefaultBlobName)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	svc, err := service.New(context.Background(), st)
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}
	return NewHandler(svc, nil)
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHandleList(t *testing.T) {
	h := newTestAdmin(t)

	rec := get(t, h, "/?status=Running")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q, want text/html", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "APR Reduction Impact on Acceptance") {
		t.Fatal("expected running experiment in list")
	}
	if strings.Contains(body, "Cash Back vs. Reward Points") {
		t.Fatal("stopped experiment should be filtered out")
	}
	if !strings.Contains(body, `value="Running" checked`) {
		t.Fatal("expected Running checkbox to stay checked")
	}
}

func TestHandleListBadQuery(t *testing.T) {
	h := newTestAdmin(t)

	rec := get(t, h, "/?sort=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "unknown sort field") {
		t.Fatalf("expected error message in page, got %s", rec.Body.String())
	}
}

func TestHandleExperiment(t *testing.T) {
	h := newTestAdmin(t)

	rec := get(t, h, "/experiments/3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	for _, want := range []string{"Sign-up Bonus Threshold Test", "Marked for Deletion", "dynamic", "Next statuses: Stopped"} {
		if !strings.Contains(body, want) {
			t.Errorf("experiment page missing %q", want)
		}
	}
}

func TestHandleExperimentNotFound(t *testing.T) {
	h := newTestAdmin(t)

	if rec := get(t, h, "/experiments/nope"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStaticAssets(t *testing.T) {
	h := newTestAdmin(t)

	rec := get(t, h, "/static/style.css")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), ".status-running") {
		t.Fatalf("static asset = %d", rec.Code)
	}
}

func TestSortURLCyclesDirections(t *testing.T) {
	values := url.Values{"title": {"cash"}, "page": {"2"}}

	tests := []struct {
		current core.Sort
		want    string
	}{
		{core.DefaultSort, "direction=asc&sort=title&title=cash"},
		{core.Sort{Field: core.SortTitle, Direction: core.SortAsc}, "direction=desc&sort=title&title=cash"},
		{core.Sort{Field: core.SortTitle, Direction: core.SortDesc}, "direction=none&sort=title&title=cash"},
	}
	for _, tt := range tests {
		got := sortURL(values, tt.current, core.SortTitle)
		if got != "/?"+tt.want {
			t.Errorf("sortURL(%+v) = %q, want %q", tt.current, got, "/?"+tt.want)
		}
	}
	if values.Get("page") != "2" {
		t.Fatal("sortURL must not modify its input")
	}
}

func TestPageURL(t *testing.T) {
	got := pageURL(url.Values{"status": {"Running", "Stopped"}}, 3)
	if got != "/?page=3&status=Running&status=Stopped" {
		t.Fatalf("pageURL() = %q", got)
	}
}
