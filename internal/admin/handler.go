// Package admin serves the read-only HTML console: a filterable, sortable
// experiment list and a detail page with rules and the status timeline.
package admin

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/matt-riley/experimentz/internal/core"
	"github.com/matt-riley/experimentz/internal/server"
	"github.com/matt-riley/experimentz/internal/service"
)

type Handler struct {
	service server.Service
	log     *slog.Logger
	mux     *http.ServeMux
}

func NewHandler(svc server.Service, log *slog.Logger) *Handler {
	if svc == nil {
		panic("service is nil")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		service: svc,
		log:     log,
	}
	h.mux = h.buildMux()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleList)
	mux.HandleFunc("GET /experiments/{id}", h.handleExperiment)
	mux.Handle("GET /static/", http.FileServer(http.FS(content)))
	return mux
}

type sortColumn struct {
	Label     string
	URL       string
	Direction core.SortDirection
}

type pageLink struct {
	Number  int
	URL     string
	Current bool
}

type statusOption struct {
	Status   core.Status
	Selected bool
}

type listView struct {
	Page     core.Page
	Values   url.Values
	Columns  []sortColumn
	Statuses []statusOption
	Pages    []pageLink
	Error    string
}

var listColumns = []struct {
	label string
	field core.SortField
}{
	{"Title", core.SortTitle},
	{"Key", core.SortKey},
	{"Created By", core.SortCreatedBy},
	{"Status", core.SortStatus},
	{"Created", core.SortCreatedDate},
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q, err := server.ParseListQuery(values)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		h.render(w, "list.html", listView{Values: values, Error: err.Error()})
		return
	}

	page, err := h.service.ListExperiments(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view := listView{Page: page, Values: values}
	for _, col := range listColumns {
		c := sortColumn{Label: col.label, URL: sortURL(values, q.Sort, col.field)}
		if q.Sort.Field == col.field {
			c.Direction = q.Sort.Direction
		}
		view.Columns = append(view.Columns, c)
	}
	for _, status := range core.Statuses {
		view.Statuses = append(view.Statuses, statusOption{
			Status:   status,
			Selected: containsStatus(q.Filter.Statuses, status),
		})
	}
	for n := 1; n <= page.TotalPages; n++ {
		view.Pages = append(view.Pages, pageLink{Number: n, URL: pageURL(values, n), Current: n == page.Page})
	}

	h.render(w, "list.html", view)
}

type experimentView struct {
	Experiment   core.Experiment
	Capabilities service.Capabilities
}

func (h *Handler) handleExperiment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	experiment, err := h.service.GetExperiment(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	caps, err := h.service.Capabilities(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.render(w, "experiment.html", experimentView{Experiment: experiment, Capabilities: caps})
}

// render buffers the page so a template failure can still produce a 500.
func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := Render(&buf, name, data); err != nil {
		h.log.Error("render error", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrExperimentNotFound):
		http.Error(w, "Experiment not found", http.StatusNotFound)
	case errors.Is(err, service.ErrNotLoaded):
		http.Error(w, "Experiments are still loading", http.StatusServiceUnavailable)
	default:
		h.log.Error("admin request failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func sortURL(values url.Values, current core.Sort, field core.SortField) string {
	next := current.ToggleSort(field)
	v := cloneValues(values)
	v.Set("sort", string(next.Field))
	direction := string(next.Direction)
	if next.Direction == core.SortNone {
		direction = "none"
	}
	v.Set("direction", direction)
	v.Del("page")
	return "/?" + v.Encode()
}

func pageURL(values url.Values, page int) string {
	v := cloneValues(values)
	v.Set("page", strconv.Itoa(page))
	return "/?" + v.Encode()
}

func cloneValues(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func containsStatus(statuses []core.Status, status core.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
