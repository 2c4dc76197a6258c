// Package http provides an HTTP client for the experimentz admin API.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	experimentz "github.com/matt-riley/experimentz/clients/go"
)

// ActorHeader carries the acting user recorded in status history.
const ActorHeader = "X-Actor"

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the server, e.g. "http://localhost:8080".
	BaseURL string
	// Actor is sent on every request; empty leaves the server default.
	Actor string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements experimentz.ExperimentManager and experimentz.RuleEditor over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ experimentz.ExperimentManager = (*Client)(nil)
	_ experimentz.RuleEditor        = (*Client)(nil)
)

// NewHTTPClient returns a new HTTP client for the experimentz service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// -- wire types --------------------------------------------------------------

type wireExperiment struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Key           string                 `json:"key"`
	CreatedBy     string                 `json:"createdBy"`
	Objective     string                 `json:"objective"`
	Status        string                 `json:"status"`
	Variations    []string               `json:"variations"`
	Rules         []wireRule             `json:"rules"`
	CreatedDate   time.Time              `json:"createdDate"`
	StatusHistory []wireStatusTransition `json:"statusHistory"`
}

type wireRule struct {
	Variation          string               `json:"variation"`
	Action             string               `json:"action"`
	Percentage         int                  `json:"percentage"`
	RankingType        string               `json:"rankingType,omitempty"`
	NextBestVariations []string             `json:"nextBestVariations,omitempty"`
	ValueFormat        string               `json:"valueFormat,omitempty"`
	CheckValueItems    []wireCheckValueItem `json:"checkValueItems,omitempty"`
}

type wireCheckValueItem struct {
	Weight int    `json:"weight"`
	Value  string `json:"value"`
}

type wireStatusTransition struct {
	Status    string    `json:"status"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

type wirePage struct {
	Items      []wireExperiment `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

type wireCapabilities struct {
	EditableFields     []string `json:"editable_fields"`
	AllowedTransitions []string `json:"allowed_transitions"`
}

type wireDefinition struct {
	Title      string   `json:"title"`
	Key        string   `json:"key"`
	Objective  string   `json:"objective"`
	Variations []string `json:"variations"`
}

type wireDetailsUpdate struct {
	Title     *string `json:"title,omitempty"`
	Objective *string `json:"objective,omitempty"`
	Key       *string `json:"key,omitempty"`
}

type wireRuleUpdate struct {
	Variation   *string `json:"variation,omitempty"`
	Action      *string `json:"action,omitempty"`
	Percentage  *int    `json:"percentage,omitempty"`
	RankingType *string `json:"ranking_type,omitempty"`
	ValueFormat *string `json:"value_format,omitempty"`
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("experimentz: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("experimentz: create request: %w", err)
	}
	if c.cfg.Actor != "" {
		req.Header.Set(ActorHeader, c.cfg.Actor)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("experimentz: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(msg)}
	}
	return resp, nil
}

func (c *Client) experiment(ctx context.Context, method, path string, body any) (experimentz.Experiment, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return experimentz.Experiment{}, err
	}
	defer resp.Body.Close()
	var out wireExperiment
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return experimentz.Experiment{}, fmt.Errorf("experimentz: decode response: %w", err)
	}
	return decodeExperiment(out), nil
}

// errorMessage extracts the "error" field of a JSON error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(body))
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("experimentz: HTTP %d: %s", e.StatusCode, e.Message)
}

func experimentPath(id string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/v1/experiments/")
	b.WriteString(url.PathEscape(id))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func decodeExperiment(we wireExperiment) experimentz.Experiment {
	e := experimentz.Experiment{
		ID:          we.ID,
		Title:       we.Title,
		Key:         we.Key,
		CreatedBy:   we.CreatedBy,
		Objective:   we.Objective,
		Status:      we.Status,
		Variations:  we.Variations,
		CreatedDate: we.CreatedDate,
	}
	if len(we.Rules) > 0 {
		e.Rules = make([]experimentz.Rule, len(we.Rules))
		for i, r := range we.Rules {
			rule := experimentz.Rule{
				Variation:          r.Variation,
				Action:             r.Action,
				Percentage:         r.Percentage,
				RankingType:        r.RankingType,
				NextBestVariations: r.NextBestVariations,
				ValueFormat:        r.ValueFormat,
			}
			for _, item := range r.CheckValueItems {
				rule.CheckValueItems = append(rule.CheckValueItems, experimentz.CheckValueItem{Weight: item.Weight, Value: item.Value})
			}
			e.Rules[i] = rule
		}
	}
	for _, t := range we.StatusHistory {
		e.StatusHistory = append(e.StatusHistory, experimentz.StatusTransition{
			Status:    t.Status,
			ChangedBy: t.ChangedBy,
			ChangedAt: t.ChangedAt,
		})
	}
	return e
}

func encodeListOptions(opts experimentz.ListOptions) string {
	v := url.Values{}
	set := func(name, value string) {
		if value != "" {
			v.Set(name, value)
		}
	}
	set("title", opts.Title)
	set("key", opts.Key)
	set("created_by", opts.CreatedBy)
	for _, s := range opts.Statuses {
		v.Add("status", s)
	}
	set("sort", opts.Sort)
	set("direction", opts.Direction)
	if opts.Page > 0 {
		v.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	return v.Encode()
}

// -- ExperimentManager -------------------------------------------------------

func (c *Client) ListExperiments(ctx context.Context, opts experimentz.ListOptions) (experimentz.Page, error) {
	path := "/v1/experiments"
	if q := encodeListOptions(opts); q != "" {
		path += "?" + q
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return experimentz.Page{}, err
	}
	defer resp.Body.Close()
	var out wirePage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return experimentz.Page{}, fmt.Errorf("experimentz: decode response: %w", err)
	}
	page := experimentz.Page{
		Items:      make([]experimentz.Experiment, 0, len(out.Items)),
		Page:       out.Page,
		PageSize:   out.PageSize,
		TotalItems: out.TotalItems,
		TotalPages: out.TotalPages,
	}
	for _, we := range out.Items {
		page.Items = append(page.Items, decodeExperiment(we))
	}
	return page, nil
}

func (c *Client) GetExperiment(ctx context.Context, id string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodGet, experimentPath(id), nil)
}

func (c *Client) CreateExperiment(ctx context.Context, def experimentz.Definition) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPost, "/v1/experiments", wireDefinition{
		Title:      def.Title,
		Key:        def.Key,
		Objective:  def.Objective,
		Variations: def.Variations,
	})
}

func (c *Client) UpdateDetails(ctx context.Context, id string, update experimentz.DetailsUpdate) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPatch, experimentPath(id), wireDetailsUpdate(update))
}

func (c *Client) TransitionStatus(ctx context.Context, id, status string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPost, experimentPath(id, "status"), map[string]string{"status": status})
}

func (c *Client) Restore(ctx context.Context, id string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPost, experimentPath(id, "restore"), nil)
}

// Toggle starts a Draft or Stopped experiment and stops a Running one.
func (c *Client) Toggle(ctx context.Context, id string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPost, experimentPath(id, "toggle"), nil)
}

// Purge permanently removes an experiment that is Marked for Deletion.
func (c *Client) Purge(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, experimentPath(id), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Capabilities(ctx context.Context, id string) (experimentz.Capabilities, error) {
	resp, err := c.do(ctx, http.MethodGet, experimentPath(id, "capabilities"), nil)
	if err != nil {
		return experimentz.Capabilities{}, err
	}
	defer resp.Body.Close()
	var out wireCapabilities
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return experimentz.Capabilities{}, fmt.Errorf("experimentz: decode response: %w", err)
	}
	return experimentz.Capabilities(out), nil
}

// -- RuleEditor --------------------------------------------------------------

func (c *Client) AddVariation(ctx context.Context, id, name string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPost, experimentPath(id, "variations"), map[string]string{"name": name})
}

func (c *Client) RenameVariation(ctx context.Context, id, oldName, newName string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPut, experimentPath(id, "variations", oldName), map[string]string{"name": newName})
}

func (c *Client) RemoveVariation(ctx context.Context, id, name string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodDelete, experimentPath(id, "variations", name), nil)
}

// AddRule appends a rule; an empty variation lets the server pick the first
// variation without one.
func (c *Client) AddRule(ctx context.Context, id, variation string) (experimentz.Experiment, error) {
	var body any
	if variation != "" {
		body = map[string]string{"variation": variation}
	}
	return c.experiment(ctx, http.MethodPost, experimentPath(id, "rules"), body)
}

func (c *Client) UpdateRule(ctx context.Context, id, variation string, update experimentz.RuleUpdate) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPatch, experimentPath(id, "rules", variation), wireRuleUpdate(update))
}

func (c *Client) RemoveRule(ctx context.Context, id, variation string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodDelete, experimentPath(id, "rules", variation), nil)
}

func (c *Client) AddNextBestVariation(ctx context.Context, id, variation, candidate string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPost, experimentPath(id, "rules", variation, "next-best"), map[string]string{"candidate": candidate})
}

func (c *Client) RemoveNextBestVariation(ctx context.Context, id, variation, candidate string) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodDelete, experimentPath(id, "rules", variation, "next-best", candidate), nil)
}

func (c *Client) MoveNextBestVariation(ctx context.Context, id, variation string, index int, direction string) (experimentz.Experiment, error) {
	path := experimentPath(id, "rules", variation, "next-best", strconv.Itoa(index), "move")
	return c.experiment(ctx, http.MethodPost, path, map[string]string{"direction": direction})
}

func (c *Client) AddCheckValueItem(ctx context.Context, id, variation string, item experimentz.CheckValueItem) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodPost, experimentPath(id, "rules", variation, "check-values"), wireCheckValueItem(item))
}

func (c *Client) UpdateCheckValueItem(ctx context.Context, id, variation string, index int, field, value string) (experimentz.Experiment, error) {
	path := experimentPath(id, "rules", variation, "check-values", strconv.Itoa(index))
	return c.experiment(ctx, http.MethodPatch, path, map[string]string{"field": field, "value": value})
}

func (c *Client) RemoveCheckValueItem(ctx context.Context, id, variation string, index int) (experimentz.Experiment, error) {
	return c.experiment(ctx, http.MethodDelete, experimentPath(id, "rules", variation, "check-values", strconv.Itoa(index)), nil)
}
