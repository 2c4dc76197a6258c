// Package experimentz defines the domain types and interfaces for Go clients
// of the experiments admin API.
package experimentz

import (
	"context"
	"time"
)

// Experiment lifecycle statuses.
const (
	StatusDraft             = "Draft"
	StatusRunning           = "Running"
	StatusStopped           = "Stopped"
	StatusMarkedForDeletion = "Marked for Deletion"
)

// Rule actions.
const (
	ActionAllow             = "allow"
	ActionSuppress          = "suppress"
	ActionNextBestVariation = "nextBestVariation"
	ActionCheckValue        = "checkValue"
)

// ExperimentManager covers experiment level operations.
type ExperimentManager interface {
	ListExperiments(ctx context.Context, opts ListOptions) (Page, error)
	GetExperiment(ctx context.Context, id string) (Experiment, error)
	CreateExperiment(ctx context.Context, def Definition) (Experiment, error)
	UpdateDetails(ctx context.Context, id string, update DetailsUpdate) (Experiment, error)
	TransitionStatus(ctx context.Context, id, status string) (Experiment, error)
	Restore(ctx context.Context, id string) (Experiment, error)
	Toggle(ctx context.Context, id string) (Experiment, error)
	Purge(ctx context.Context, id string) error
	Capabilities(ctx context.Context, id string) (Capabilities, error)
}

// RuleEditor covers variation and rule editing on Draft experiments.
type RuleEditor interface {
	AddVariation(ctx context.Context, id, name string) (Experiment, error)
	RenameVariation(ctx context.Context, id, oldName, newName string) (Experiment, error)
	RemoveVariation(ctx context.Context, id, name string) (Experiment, error)
	AddRule(ctx context.Context, id, variation string) (Experiment, error)
	UpdateRule(ctx context.Context, id, variation string, update RuleUpdate) (Experiment, error)
	RemoveRule(ctx context.Context, id, variation string) (Experiment, error)
	AddNextBestVariation(ctx context.Context, id, variation, candidate string) (Experiment, error)
	RemoveNextBestVariation(ctx context.Context, id, variation, candidate string) (Experiment, error)
	MoveNextBestVariation(ctx context.Context, id, variation string, index int, direction string) (Experiment, error)
	AddCheckValueItem(ctx context.Context, id, variation string, item CheckValueItem) (Experiment, error)
	UpdateCheckValueItem(ctx context.Context, id, variation string, index int, field, value string) (Experiment, error)
	RemoveCheckValueItem(ctx context.Context, id, variation string, index int) (Experiment, error)
}

type Experiment struct {
	ID            string
	Title         string
	Key           string
	CreatedBy     string
	Objective     string
	Status        string
	Variations    []string
	Rules         []Rule
	CreatedDate   time.Time
	StatusHistory []StatusTransition
}

// Rule maps a variation to an action. Only the fields belonging to Action
// are populated.
type Rule struct {
	Variation          string
	Action             string
	Percentage         int
	RankingType        string
	NextBestVariations []string
	ValueFormat        string
	CheckValueItems    []CheckValueItem
}

type CheckValueItem struct {
	Weight int
	Value  string
}

type StatusTransition struct {
	Status    string
	ChangedBy string
	ChangedAt time.Time
}

type Definition struct {
	Title      string
	Key        string
	Objective  string
	Variations []string
}

// DetailsUpdate changes only the non-nil fields.
type DetailsUpdate struct {
	Title     *string
	Objective *string
	Key       *string
}

// RuleUpdate changes only the non-nil fields.
type RuleUpdate struct {
	Variation   *string
	Action      *string
	Percentage  *int
	RankingType *string
	ValueFormat *string
}

// ListOptions mirrors the listing query. Zero values use server defaults.
type ListOptions struct {
	Title     string
	Key       string
	CreatedBy string
	Statuses  []string
	Sort      string
	Direction string
	Page      int
	PageSize  int
}

type Page struct {
	Items      []Experiment
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

type Capabilities struct {
	EditableFields     []string
	AllowedTransitions []string
}
