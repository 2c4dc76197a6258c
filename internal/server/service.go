package server

import (
	"context"

	"github.com/matt-riley/experimentz/internal/core"
	"github.com/matt-riley/experimentz/internal/service"
)

// Service is the experiment API the HTTP and admin surfaces drive.
type Service interface {
	Ready() bool
	ListExperiments(ctx context.Context, q service.Query) (core.Page, error)
	GetExperiment(ctx context.Context, id string) (core.Experiment, error)
	Capabilities(ctx context.Context, id string) (service.Capabilities, error)
	CreateExperiment(ctx context.Context, def core.Definition, actor string) (core.Experiment, error)
	UpdateDetails(ctx context.Context, id string, update service.DetailsUpdate) (core.Experiment, error)
	TransitionStatus(ctx context.Context, id string, target core.Status, actor string) (core.Experiment, error)
	Restore(ctx context.Context, id, actor string) (core.Experiment, error)
	ToggleStatus(ctx context.Context, id, actor string) (core.Experiment, error)
	PurgeExperiment(ctx context.Context, id, actor string) error

	AddVariation(ctx context.Context, id, name string) (core.Experiment, error)
	RenameVariation(ctx context.Context, id, from, to string) (core.Experiment, error)
	RemoveVariation(ctx context.Context, id, name string) (core.Experiment, error)
	AddRule(ctx context.Context, id, variation string) (core.Experiment, error)
	RemoveRule(ctx context.Context, id, variation string) (core.Experiment, error)
	UpdateRule(ctx context.Context, id, variation string, update service.RuleUpdate) (core.Experiment, error)
	AddNextBestVariation(ctx context.Context, id, variation, candidate string) (core.Experiment, error)
	RemoveNextBestVariation(ctx context.Context, id, variation, candidate string) (core.Experiment, error)
	ReorderNextBestVariation(ctx context.Context, id, variation string, index int, direction core.Direction) (core.Experiment, error)
	AddCheckValueItem(ctx context.Context, id, variation string, item core.CheckValueItem) (core.Experiment, error)
	UpdateCheckValueItem(ctx context.Context, id, variation string, index int, field core.CheckValueField, value string) (core.Experiment, error)
	RemoveCheckValueItem(ctx context.Context, id, variation string, index int) (core.Experiment, error)
}

var _ Service = (*service.Service)(nil)
