package core

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Marked for Deletion is absent: leaving it is a restore, resolved from the
// status history rather than from this table.
var statusTransitions = map[Status][]Status{
	StatusDraft:   {StatusDraft, StatusRunning, StatusMarkedForDeletion},
	StatusRunning: {StatusStopped, StatusMarkedForDeletion},
	StatusStopped: {StatusRunning, StatusStopped, StatusMarkedForDeletion},
}

type Field string

const (
	FieldTitle      Field = "title"
	FieldKey        Field = "key"
	FieldObjective  Field = "objective"
	FieldVariations Field = "variations"
	FieldRules      Field = "rules"
	FieldStatus     Field = "status"
)

// FieldSet is the set of fields a caller may edit.
type FieldSet []Field

func (s FieldSet) Has(field Field) bool {
	return slices.Contains(s, field)
}

// EditableFields returns the fields that may be changed while an experiment
// is in status. Draft experiments are fully editable; running experiments
// keep their variations and rules fixed; every other status only permits
// status changes.
func EditableFields(status Status) FieldSet {
	switch status {
	case StatusDraft:
		return FieldSet{FieldTitle, FieldKey, FieldObjective, FieldVariations, FieldRules, FieldStatus}
	case StatusRunning:
		return FieldSet{FieldTitle, FieldObjective, FieldStatus}
	default:
		return FieldSet{FieldStatus}
	}
}

// AllowedTransitions lists the statuses the experiment may move to next.
func (e *Experiment) AllowedTransitions() []Status {
	if e.Status == StatusMarkedForDeletion {
		return []Status{e.RestoreTarget()}
	}
	return slices.Clone(statusTransitions[e.Status])
}

func (e *Experiment) canTransitionTo(target Status) bool {
	if e.Status == StatusMarkedForDeletion {
		return target == e.RestoreTarget()
	}
	return slices.Contains(statusTransitions[e.Status], target)
}

// RestoreTarget is the status a deleted experiment returns to: the status
// recorded just before the latest history entry, or Draft when there is none.
func (e *Experiment) RestoreTarget() Status {
	n := len(e.StatusHistory)
	if n < 2 {
		return StatusDraft
	}
	prev := e.StatusHistory[n-2].Status
	if !prev.Valid() || prev == StatusMarkedForDeletion {
		return StatusDraft
	}
	return prev
}

// TransitionStatus moves the experiment to target and appends one history
// entry. A rejected transition leaves the experiment untouched.
func (e *Experiment) TransitionStatus(target Status, actor string, now time.Time) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, target)
	}
	if !e.canTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, e.Status, target)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return invalidf("actor is required for a status change")
	}

	history := make([]StatusTransition, len(e.StatusHistory), len(e.StatusHistory)+1)
	copy(history, e.StatusHistory)
	e.StatusHistory = append(history, StatusTransition{
		Status:    target,
		ChangedBy: actor,
		ChangedAt: now,
	})
	e.Status = target

	return nil
}

// Restore returns a deleted experiment to the status it held before deletion.
func (e *Experiment) Restore(actor string, now time.Time) error {
	if e.Status != StatusMarkedForDeletion {
		return fmt.Errorf("%w: %s is not marked for deletion", ErrInvalidStatusTransition, e.Status)
	}
	return e.TransitionStatus(e.RestoreTarget(), actor, now)
}

// ToggleTarget is the status the console's single start/stop control moves
// to: Draft and Stopped start running, Running stops, and a deleted
// experiment is restored.
func (e *Experiment) ToggleTarget() Status {
	switch e.Status {
	case StatusDraft, StatusStopped:
		return StatusRunning
	case StatusRunning:
		return StatusStopped
	default:
		return e.RestoreTarget()
	}
}
