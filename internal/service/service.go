package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/experimentz/internal/core"
	"github.com/matt-riley/experimentz/internal/store"
)

const tracerName = "github.com/matt-riley/experimentz/internal/service"

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrNotLoaded          = errors.New("experiments not loaded")
)

// Store is the persistence the service drives. *store.Store satisfies it.
type Store interface {
	Load(ctx context.Context) ([]core.Experiment, error)
	Get(id string) (core.Experiment, error)
	List() []core.Experiment
	Upsert(ctx context.Context, experiment core.Experiment) error
	Remove(ctx context.Context, id string) error
}

// Recorder receives mutation outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveMutation(operation, result string)
	ObserveTransition(from, to core.Status)
	SetExperimentCounts(counts map[core.Status]int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMutation(string, string)            {}
func (nopRecorder) ObserveTransition(core.Status, core.Status) {}
func (nopRecorder) SetExperimentCounts(map[core.Status]int)   {}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(s *Service) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// Service is the single entry point presentation surfaces use. It serializes
// every call, applies model operations to a copy of the stored experiment,
// and persists the copy only when the operation succeeds.
type Service struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	recorder Recorder
	tracer   trace.Tracer

	mu     sync.Mutex
	loaded atomic.Bool
}

func New(ctx context.Context, st Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is nil")
	}

	svc := &Service{
		store:    st,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.Load(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// Load (re)reads the collection from the store.
func (s *Service) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	experiments, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load experiments: %w", err)
	}
	s.loaded.Store(true)
	s.recordCountsLocked()
	s.logger.Info("experiments loaded", "count", len(experiments))
	return nil
}

// Ready reports whether the collection has been loaded.
func (s *Service) Ready() bool {
	return s.loaded.Load()
}

// Query selects a page of experiments.
type Query struct {
	Filter   core.Filter
	Sort     core.Sort
	Page     int
	PageSize int
}

func (s *Service) ListExperiments(_ context.Context, q Query) (core.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded.Load() {
		return core.Page{}, ErrNotLoaded
	}
	matched := core.Query(s.store.List(), q.Filter, q.Sort)
	return core.Paginate(matched, q.Page, q.PageSize), nil
}

func (s *Service) GetExperiment(_ context.Context, id string) (core.Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.getLocked(id)
}

// Capabilities describes what a caller may currently do with an experiment.
type Capabilities struct {
	EditableFields     core.FieldSet `json:"editable_fields"`
	AllowedTransitions []core.Status `json:"allowed_transitions"`
}

func (s *Service) Capabilities(_ context.Context, id string) (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getLocked(id)
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{
		EditableFields:     core.EditableFields(e.Status),
		AllowedTransitions: e.AllowedTransitions(),
	}, nil
}

func (s *Service) CreateExperiment(ctx context.Context, def core.Definition, actor string) (core.Experiment, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateExperiment")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := core.NewExperiment(def, actor, s.newID(), s.now())
	if err == nil {
		err = s.checkKeyLocked(e.Key, "")
	}
	if err == nil {
		err = s.store.Upsert(ctx, e)
	}
	s.finish(ctx, span, "create", e.ID, actor, err)
	if err != nil {
		return core.Experiment{}, err
	}
	return e, nil
}

// DetailsUpdate carries optional changes to the descriptive fields.
type DetailsUpdate struct {
	Title     *string
	Objective *string
	Key       *string
}

func (s *Service) UpdateDetails(ctx context.Context, id string, update DetailsUpdate) (core.Experiment, error) {
	var fields []core.Field
	if update.Title != nil {
		fields = append(fields, core.FieldTitle)
	}
	if update.Objective != nil {
		fields = append(fields, core.FieldObjective)
	}
	if update.Key != nil {
		fields = append(fields, core.FieldKey)
	}
	return s.mutate(ctx, "update_details", id, "", fields, func(e *core.Experiment) error {
		if update.Title != nil {
			if err := e.SetTitle(*update.Title); err != nil {
				return err
			}
		}
		if update.Objective != nil {
			e.SetObjective(*update.Objective)
		}
		if update.Key != nil {
			if err := e.SetKey(*update.Key); err != nil {
				return err
			}
			if err := s.checkKeyLocked(e.Key, e.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// TransitionStatus moves an experiment through the status lifecycle.
func (s *Service) TransitionStatus(ctx context.Context, id string, target core.Status, actor string) (core.Experiment, error) {
	return s.transition(ctx, "transition_status", id, actor, func(*core.Experiment) core.Status { return target })
}

// Restore returns an experiment marked for deletion to its previous status.
func (s *Service) Restore(ctx context.Context, id, actor string) (core.Experiment, error) {
	return s.transition(ctx, "restore", id, actor, func(e *core.Experiment) core.Status {
		if e.Status != core.StatusMarkedForDeletion {
			return ""
		}
		return e.RestoreTarget()
	})
}

// ToggleStatus starts, stops or restores an experiment depending on its
// current status.
func (s *Service) ToggleStatus(ctx context.Context, id, actor string) (core.Experiment, error) {
	return s.transition(ctx, "toggle_status", id, actor, (*core.Experiment).ToggleTarget)
}

func (s *Service) transition(ctx context.Context, op, id, actor string, target func(*core.Experiment) core.Status) (core.Experiment, error) {
	var from, to core.Status
	updated, err := s.mutate(ctx, op, id, actor, []core.Field{core.FieldStatus}, func(e *core.Experiment) error {
		from, to = e.Status, target(e)
		if to == "" {
			return fmt.Errorf("%w: %s is not marked for deletion", core.ErrInvalidStatusTransition, e.Status)
		}
		return e.TransitionStatus(to, actor, s.now())
	})
	if err == nil {
		s.recorder.ObserveTransition(from, to)
	}
	return updated, err
}

// PurgeExperiment removes an experiment from the collection entirely. Only
// experiments already marked for deletion can be purged.
func (s *Service) PurgeExperiment(ctx context.Context, id, actor string) error {
	ctx, span := s.tracer.Start(ctx, "service.PurgeExperiment", trace.WithAttributes(attribute.String("experiment.id", id)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getLocked(id)
	if err == nil && e.Status != core.StatusMarkedForDeletion {
		err = fmt.Errorf("%w: %s must be marked for deletion before it is purged", core.ErrInvalidStatusTransition, e.Status)
	}
	if err == nil {
		err = s.store.Remove(ctx, id)
	}
	s.finish(ctx, span, "purge", id, actor, err)
	return err
}

// mutate applies fn to a copy of experiment id after checking that every
// field in fields is editable in its current status. The copy replaces the
// stored experiment only if fn succeeds.
func (s *Service) mutate(ctx context.Context, op, id, actor string, fields []core.Field, fn func(*core.Experiment) error) (core.Experiment, error) {
	ctx, span := s.tracer.Start(ctx, "service."+op, trace.WithAttributes(attribute.String("experiment.id", id)))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := s.applyLocked(ctx, id, fields, fn)
	s.finish(ctx, span, op, id, actor, err)
	if err != nil {
		return core.Experiment{}, err
	}
	return updated, nil
}

func (s *Service) applyLocked(ctx context.Context, id string, fields []core.Field, fn func(*core.Experiment) error) (core.Experiment, error) {
	current, err := s.getLocked(id)
	if err != nil {
		return core.Experiment{}, err
	}
	editable := core.EditableFields(current.Status)
	for _, field := range fields {
		if !editable.Has(field) {
			return core.Experiment{}, fmt.Errorf("%w: %s is not editable while %s", core.ErrFieldLocked, field, current.Status)
		}
	}

	updated := current.Clone()
	if err := fn(&updated); err != nil {
		return core.Experiment{}, err
	}
	if err := s.store.Upsert(ctx, updated); err != nil {
		return core.Experiment{}, err
	}
	return updated.Clone(), nil
}

func (s *Service) finish(ctx context.Context, span trace.Span, op, id, actor string, err error) {
	result := resultLabel(err)
	s.recorder.ObserveMutation(op, result)

	attrs := []any{"operation", op, "experiment_id", id, "result", result}
	if actor != "" {
		attrs = append(attrs, "actor", actor)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelInfo
		if result == "error" {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "experiment mutation rejected", append(attrs, "error", err)...)
		return
	}
	s.recordCountsLocked()
	s.logger.InfoContext(ctx, "experiment mutation applied", attrs...)
}

func (s *Service) getLocked(id string) (core.Experiment, error) {
	if !s.loaded.Load() {
		return core.Experiment{}, ErrNotLoaded
	}
	e, err := s.store.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		return core.Experiment{}, fmt.Errorf("%w: %s", ErrExperimentNotFound, id)
	}
	return e, err
}

// checkKeyLocked rejects key when another experiment than exceptID uses it.
func (s *Service) checkKeyLocked(key, exceptID string) error {
	for _, e := range s.store.List() {
		if e.ID != exceptID && strings.EqualFold(e.Key, key) {
			return fmt.Errorf("%w: %q is used by experiment %s", core.ErrDuplicateKey, key, e.ID)
		}
	}
	return nil
}

func (s *Service) recordCountsLocked() {
	counts := make(map[core.Status]int, len(core.Statuses))
	for _, status := range core.Statuses {
		counts[status] = 0
	}
	for _, e := range s.store.List() {
		counts[e.Status]++
	}
	s.recorder.SetExperimentCounts(counts)
}

// resultLabel buckets an error for metrics: ok, rejected for caller
// mistakes, error for everything else.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}

// IsClientError reports whether err was caused by the request rather than
// by the service or its storage.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrExperimentNotFound,
		core.ErrValidation,
		core.ErrMinimumVariations,
		core.ErrInvalidStatusTransition,
		core.ErrDuplicateKey,
		core.ErrUnknownVariation,
		core.ErrRuleNotFound,
		core.ErrDuplicateRule,
		core.ErrFieldLocked,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
