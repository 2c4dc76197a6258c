package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/matt-riley/experimentz/internal/core"
	"github.com/matt-riley/experimentz/internal/middleware"
	"github.com/matt-riley/experimentz/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

var (
	errJSONBodyTooLarge = errors.New("json request body too large")
	errInvalidIndex     = errors.New("index must be a non-negative integer")
)

type HTTPServer struct {
	service        Service
	metricsHandler http.Handler
	maxBodyBytes   int64
}

// HTTPOption configures NewHTTPHandler.
type HTTPOption func(*HTTPServer)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) HTTPOption {
	return func(s *HTTPServer) {
		s.metricsHandler = h
	}
}

// WithMaxJSONBodySize caps request bodies. Non-positive values keep the
// 1 MiB default.
func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

type createExperimentRequest struct {
	Title      string   `json:"title"`
	Key        string   `json:"key"`
	Objective  string   `json:"objective"`
	Variations []string `json:"variations"`
}

type updateDetailsRequest struct {
	Title     *string `json:"title,omitempty"`
	Objective *string `json:"objective,omitempty"`
	Key       *string `json:"key,omitempty"`
}

type statusRequest struct {
	Status core.Status `json:"status"`
}

type variationRequest struct {
	Name string `json:"name"`
}

type addRuleRequest struct {
	Variation string `json:"variation,omitempty"`
}

type updateRuleRequest struct {
	Variation   *string           `json:"variation,omitempty"`
	Action      *core.ActionType  `json:"action,omitempty"`
	Percentage  *int              `json:"percentage,omitempty"`
	RankingType *core.RankingType `json:"ranking_type,omitempty"`
	ValueFormat *core.ValueFormat `json:"value_format,omitempty"`
}

type candidateRequest struct {
	Candidate string `json:"candidate"`
}

type moveRequest struct {
	Direction core.Direction `json:"direction"`
}

type checkValueRequest struct {
	Weight *int    `json:"weight,omitempty"`
	Value  *string `json:"value,omitempty"`
}

type updateCheckValueRequest struct {
	Field core.CheckValueField `json:"field"`
	Value string               `json:"value"`
}

func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:      svc,
		maxBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/experiments", server.handleListExperiments)
	mux.HandleFunc("POST /v1/experiments", server.handleCreateExperiment)
	mux.HandleFunc("GET /v1/experiments/{id}", server.handleGetExperiment)
	mux.HandleFunc("PATCH /v1/experiments/{id}", server.handleUpdateDetails)
	mux.HandleFunc("DELETE /v1/experiments/{id}", server.handlePurgeExperiment)
	mux.HandleFunc("GET /v1/experiments/{id}/capabilities", server.handleCapabilities)
	mux.HandleFunc("POST /v1/experiments/{id}/status", server.handleTransitionStatus)
	mux.HandleFunc("POST /v1/experiments/{id}/restore", server.handleRestore)
	mux.HandleFunc("POST /v1/experiments/{id}/toggle", server.handleToggleStatus)
	mux.HandleFunc("POST /v1/experiments/{id}/variations", server.handleAddVariation)
	mux.HandleFunc("PUT /v1/experiments/{id}/variations/{name}", server.handleRenameVariation)
	mux.HandleFunc("DELETE /v1/experiments/{id}/variations/{name}", server.handleRemoveVariation)
	mux.HandleFunc("POST /v1/experiments/{id}/rules", server.handleAddRule)
	mux.HandleFunc("PATCH /v1/experiments/{id}/rules/{variation}", server.handleUpdateRule)
	mux.HandleFunc("DELETE /v1/experiments/{id}/rules/{variation}", server.handleRemoveRule)
	mux.HandleFunc("POST /v1/experiments/{id}/rules/{variation}/next-best", server.handleAddNextBest)
	mux.HandleFunc("DELETE /v1/experiments/{id}/rules/{variation}/next-best/{candidate}", server.handleRemoveNextBest)
	mux.HandleFunc("POST /v1/experiments/{id}/rules/{variation}/next-best/{index}/move", server.handleMoveNextBest)
	mux.HandleFunc("POST /v1/experiments/{id}/rules/{variation}/check-values", server.handleAddCheckValue)
	mux.HandleFunc("PATCH /v1/experiments/{id}/rules/{variation}/check-values/{index}", server.handleUpdateCheckValue)
	mux.HandleFunc("DELETE /v1/experiments/{id}/rules/{variation}/check-values/{index}", server.handleRemoveCheckValue)
	mux.HandleFunc("GET /healthz", server.handleHealthz)
	if server.metricsHandler != nil {
		mux.Handle("GET /metrics", server.metricsHandler)
	}

	return mux
}

func (s *HTTPServer) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := s.service.ListExperiments(r.Context(), q)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req createExperimentRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateExperiment(r.Context(), core.Definition{
		Title:      req.Title,
		Key:        req.Key,
		Objective:  req.Objective,
		Variations: req.Variations,
	}, actorFromRequest(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	experiment, err := s.service.GetExperiment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, experiment)
}

func (s *HTTPServer) handleUpdateDetails(w http.ResponseWriter, r *http.Request) {
	var req updateDetailsRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.UpdateDetails(r.Context(), r.PathValue("id"), service.DetailsUpdate{
		Title:     req.Title,
		Objective: req.Objective,
		Key:       req.Key,
	}))
}

func (s *HTTPServer) handlePurgeExperiment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.PurgeExperiment(r.Context(), r.PathValue("id"), actorFromRequest(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps, err := s.service.Capabilities(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, caps)
}

func (s *HTTPServer) handleTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.TransitionStatus(r.Context(), r.PathValue("id"), req.Status, actorFromRequest(r)))
}

func (s *HTTPServer) handleRestore(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.service.Restore(r.Context(), r.PathValue("id"), actorFromRequest(r)))
}

func (s *HTTPServer) handleToggleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.service.ToggleStatus(r.Context(), r.PathValue("id"), actorFromRequest(r)))
}

func (s *HTTPServer) handleAddVariation(w http.ResponseWriter, r *http.Request) {
	var req variationRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.AddVariation(r.Context(), r.PathValue("id"), req.Name))
}

func (s *HTTPServer) handleRenameVariation(w http.ResponseWriter, r *http.Request) {
	var req variationRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.RenameVariation(r.Context(), r.PathValue("id"), r.PathValue("name"), req.Name))
}

func (s *HTTPServer) handleRemoveVariation(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.service.RemoveVariation(r.Context(), r.PathValue("id"), r.PathValue("name")))
}

func (s *HTTPServer) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if err := s.decodeOptionalJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respondStatus(w, http.StatusCreated)(s.service.AddRule(r.Context(), r.PathValue("id"), req.Variation))
}

func (s *HTTPServer) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req updateRuleRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.UpdateRule(r.Context(), r.PathValue("id"), r.PathValue("variation"), service.RuleUpdate{
		Variation:   req.Variation,
		Action:      req.Action,
		Percentage:  req.Percentage,
		RankingType: req.RankingType,
		ValueFormat: req.ValueFormat,
	}))
}

func (s *HTTPServer) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.service.RemoveRule(r.Context(), r.PathValue("id"), r.PathValue("variation")))
}

func (s *HTTPServer) handleAddNextBest(w http.ResponseWriter, r *http.Request) {
	var req candidateRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.AddNextBestVariation(r.Context(), r.PathValue("id"), r.PathValue("variation"), req.Candidate))
}

func (s *HTTPServer) handleRemoveNextBest(w http.ResponseWriter, r *http.Request) {
	s.respond(w)(s.service.RemoveNextBestVariation(r.Context(), r.PathValue("id"), r.PathValue("variation"), r.PathValue("candidate")))
}

func (s *HTTPServer) handleMoveNextBest(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req moveRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.ReorderNextBestVariation(r.Context(), r.PathValue("id"), r.PathValue("variation"), index, req.Direction))
}

func (s *HTTPServer) handleAddCheckValue(w http.ResponseWriter, r *http.Request) {
	var req checkValueRequest
	if err := s.decodeOptionalJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	item := core.DefaultCheckValueItem()
	if req.Weight != nil {
		item.Weight = *req.Weight
	}
	if req.Value != nil {
		item.Value = *req.Value
	}

	s.respond(w)(s.service.AddCheckValueItem(r.Context(), r.PathValue("id"), r.PathValue("variation"), item))
}

func (s *HTTPServer) handleUpdateCheckValue(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateCheckValueRequest
	if err := s.decodeJSONBody(w, r, &req); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	s.respond(w)(s.service.UpdateCheckValueItem(r.Context(), r.PathValue("id"), r.PathValue("variation"), index, req.Field, req.Value))
}

func (s *HTTPServer) handleRemoveCheckValue(w http.ResponseWriter, r *http.Request) {
	index, err := parseIndex(r.PathValue("index"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.respond(w)(s.service.RemoveCheckValueItem(r.Context(), r.PathValue("id"), r.PathValue("variation"), index))
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if !s.service.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) respond(w http.ResponseWriter) func(core.Experiment, error) {
	return s.respondStatus(w, http.StatusOK)
}

func (s *HTTPServer) respondStatus(w http.ResponseWriter, status int) func(core.Experiment, error) {
	return func(experiment core.Experiment, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, status, experiment)
	}
}

func actorFromRequest(r *http.Request) string {
	if actor, ok := middleware.ActorFromContext(r.Context()); ok {
		return actor
	}
	return middleware.DefaultActor
}

func parseIndex(raw string) (int, error) {
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, errInvalidIndex
	}
	return index, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeJSONError(w, serviceErrorStatus(err), serviceErrorMessage(err))
}

func serviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrExperimentNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidStatusTransition),
		errors.Is(err, core.ErrDuplicateKey),
		errors.Is(err, core.ErrFieldLocked):
		return http.StatusConflict
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrMinimumVariations),
		errors.Is(err, core.ErrUnknownVariation),
		errors.Is(err, core.ErrRuleNotFound),
		errors.Is(err, core.ErrDuplicateRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNotLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case service.IsClientError(err):
		return err.Error()
	case errors.Is(err, service.ErrNotLoaded):
		return "experiments not loaded"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

// decodeOptionalJSONBody is decodeJSONBody for endpoints where every field
// has a default; an empty body leaves dst untouched.
func (s *HTTPServer) decodeOptionalJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	err := s.decodeJSONBody(w, r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}

// ParseListQuery reads listing parameters shared by the API and the admin
// console: title, key, created_by, status (repeatable), sort, direction
// (asc, desc or none), page and page_size.
func ParseListQuery(values map[string][]string) (service.Query, error) {
	get := func(name string) string {
		if v := values[name]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	q := service.Query{
		Filter: core.Filter{
			Title:     get("title"),
			Key:       get("key"),
			CreatedBy: get("created_by"),
		},
		Sort: core.DefaultSort,
	}

	for _, raw := range values["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status := core.Status(part)
			if !status.Valid() {
				return service.Query{}, errors.New("unknown status " + strconv.Quote(part))
			}
			q.Filter.Statuses = append(q.Filter.Statuses, status)
		}
	}

	if field := get("sort"); field != "" {
		q.Sort = core.Sort{Field: core.SortField(field), Direction: core.SortAsc}
		if !q.Sort.Field.Valid() {
			return service.Query{}, errors.New("unknown sort field " + strconv.Quote(field))
		}
	}
	switch direction := get("direction"); direction {
	case "":
	case "none":
		q.Sort.Direction = core.SortNone
	default:
		q.Sort.Direction = core.SortDirection(direction)
		if !q.Sort.Direction.Valid() {
			return service.Query{}, errors.New("direction must be asc, desc or none")
		}
	}

	var err error
	if q.Page, err = parsePositive(get("page"), "page"); err != nil {
		return service.Query{}, err
	}
	if q.PageSize, err = parsePositive(get("page_size"), "page_size"); err != nil {
		return service.Query{}, err
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	return q, nil
}

const maxPageSize = 100

func parsePositive(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}
