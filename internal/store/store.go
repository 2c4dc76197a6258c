// Package store owns the in-memory experiment collection and its round trip
// to a single persisted blob. Every mutation rewrites the whole blob.
//
// A Store is not safe for concurrent use; callers serialize access.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/matt-riley/experimentz/internal/core"
	"github.com/matt-riley/experimentz/internal/repository"
)

// DefaultBlobName is the blob the collection lives in unless configured.
const DefaultBlobName = "experiments"

// ErrNotFound is returned by Get and Remove for unknown ids.
var ErrNotFound = errors.New("experiment not found")

// Observer receives the outcome of every blob read ("load") and write ("save").
type Observer func(op string, elapsed time.Duration, err error)

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(s *Store) {
		if observer != nil {
			s.observe = observer
		}
	}
}

// WithSeed replaces the collection written when the blob is missing or
// unreadable.
func WithSeed(seed func() []core.Experiment) Option {
	return func(s *Store) {
		if seed != nil {
			s.seed = seed
		}
	}
}

type Store struct {
	blobs   repository.BlobStore
	name    string
	logger  *slog.Logger
	observe Observer
	seed    func() []core.Experiment

	experiments []core.Experiment
}

func New(blobs repository.BlobStore, name string, opts ...Option) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("blob store is nil")
	}
	if name == "" {
		name = DefaultBlobName
	}
	s := &Store{
		blobs:   blobs,
		name:    name,
		logger:  slog.Default(),
		observe: func(string, time.Duration, error) {},
		seed:    SeedExperiments,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load reads the persisted collection. A missing blob, or one that fails to
// decode (including duplicate ids or keys), is replaced by the seed
// collection, which is written back before returning. Any
// other read failure is returned as is.
func (s *Store) Load(ctx context.Context) ([]core.Experiment, error) {
	start := time.Now()
	data, err := s.blobs.ReadBlob(ctx, s.name)
	s.observe("load", time.Since(start), ignoreNotFound(err))

	switch {
	case errors.Is(err, repository.ErrBlobNotFound):
		s.logger.Info("experiment blob missing, writing seed collection", "blob", s.name)
		return s.reseed(ctx)
	case err != nil:
		return nil, fmt.Errorf("load experiments: %w", err)
	}

	experiments, err := core.DecodeExperiments(data)
	if err != nil {
		s.logger.Warn("experiment blob unreadable, writing seed collection", "blob", s.name, "error", err)
		return s.reseed(ctx)
	}

	s.experiments = experiments
	return s.List(), nil
}

func (s *Store) reseed(ctx context.Context) ([]core.Experiment, error) {
	if err := s.SaveAll(ctx, s.seed()); err != nil {
		return nil, fmt.Errorf("seed experiments: %w", err)
	}
	return s.List(), nil
}

// SaveAll overwrites the persisted blob with experiments and makes them the
// in-memory collection. On failure the in-memory collection is unchanged.
func (s *Store) SaveAll(ctx context.Context, experiments []core.Experiment) error {
	next := cloneAll(experiments)
	data, err := core.EncodeExperiments(next)
	if err != nil {
		return fmt.Errorf("encode experiments: %w", err)
	}

	start := time.Now()
	err = s.blobs.WriteBlob(ctx, s.name, data)
	s.observe("save", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("save experiments: %w", err)
	}

	s.experiments = next
	return nil
}

// Upsert replaces the experiment with the same id, or appends it.
func (s *Store) Upsert(ctx context.Context, experiment core.Experiment) error {
	if err := experiment.Validate(); err != nil {
		return err
	}
	next := slices.Clone(s.experiments)
	if i := s.index(experiment.ID); i >= 0 {
		next[i] = experiment
	} else {
		next = append(next, experiment)
	}
	return s.SaveAll(ctx, next)
}

// Remove deletes the experiment entity itself, not just its status.
func (s *Store) Remove(ctx context.Context, id string) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := slices.Delete(slices.Clone(s.experiments), i, i+1)
	return s.SaveAll(ctx, next)
}

func (s *Store) Get(id string) (core.Experiment, error) {
	i := s.index(id)
	if i < 0 {
		return core.Experiment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.experiments[i].Clone(), nil
}

// List returns a deep copy of the collection in stored order.
func (s *Store) List() []core.Experiment {
	return cloneAll(s.experiments)
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.experiments, func(e core.Experiment) bool { return e.ID == id })
}

func cloneAll(experiments []core.Experiment) []core.Experiment {
	out := make([]core.Experiment, len(experiments))
	for i, e := range experiments {
		out[i] = e.Clone()
	}
	return out
}

func ignoreNotFound(err error) error {
	if errors.Is(err, repository.ErrBlobNotFound) {
		return nil
	}
	return err
}
