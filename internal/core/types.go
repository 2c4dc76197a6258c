// Package core holds the experiment rule model: the Experiment and Rule
// types, the operations the console applies to them, and the invariants those
// operations preserve. Nothing in this package performs I/O.
package core

import "time"

type Status string

const (
	StatusDraft             Status = "Draft"
	StatusRunning           Status = "Running"
	StatusStopped           Status = "Stopped"
	StatusMarkedForDeletion Status = "Marked for Deletion"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusRunning, StatusStopped, StatusMarkedForDeletion}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusStopped, StatusMarkedForDeletion:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

type ActionType string

const (
	ActionAllow             ActionType = "allow"
	ActionSuppress          ActionType = "suppress"
	ActionNextBestVariation ActionType = "nextBestVariation"
	ActionCheckValue        ActionType = "checkValue"
)

// ActionTypes lists the actions in the order the console offers them.
var ActionTypes = []ActionType{ActionAllow, ActionSuppress, ActionNextBestVariation, ActionCheckValue}

func (a ActionType) Valid() bool {
	switch a {
	case ActionAllow, ActionSuppress, ActionNextBestVariation, ActionCheckValue:
		return true
	default:
		return false
	}
}

type RankingType string

const (
	RankingStatic  RankingType = "static"
	RankingDynamic RankingType = "dynamic"
)

func (r RankingType) Valid() bool {
	return r == RankingStatic || r == RankingDynamic
}

type ValueFormat string

const (
	FormatString ValueFormat = "string"
	FormatNumber ValueFormat = "number"
)

func (f ValueFormat) Valid() bool {
	return f == FormatString || f == FormatNumber
}

// Action is the tagged payload of a rule. Each implementation carries only
// the fields of its own action type.
type Action interface {
	Type() ActionType
	clone() Action
}

type Allow struct{}

func (Allow) Type() ActionType { return ActionAllow }
func (Allow) clone() Action    { return Allow{} }

type Suppress struct{}

func (Suppress) Type() ActionType { return ActionSuppress }
func (Suppress) clone() Action    { return Suppress{} }

// NextBestVariation falls back through Variations in order. Variations is
// only populated for static ranking; dynamic ranking is computed elsewhere.
type NextBestVariation struct {
	RankingType RankingType
	Variations  []string
}

func (*NextBestVariation) Type() ActionType { return ActionNextBestVariation }

func (n *NextBestVariation) clone() Action {
	out := &NextBestVariation{RankingType: n.RankingType}
	if n.Variations != nil {
		out.Variations = append(make([]string, 0, len(n.Variations)), n.Variations...)
	}
	return out
}

// CheckValue assigns weighted values; every item shares ValueFormat.
type CheckValue struct {
	ValueFormat ValueFormat
	Items       []CheckValueItem
}

func (*CheckValue) Type() ActionType { return ActionCheckValue }

func (c *CheckValue) clone() Action {
	out := &CheckValue{ValueFormat: c.ValueFormat}
	if c.Items != nil {
		out.Items = append(make([]CheckValueItem, 0, len(c.Items)), c.Items...)
	}
	return out
}

type CheckValueItem struct {
	Weight int    `json:"weight"`
	Value  string `json:"value"`
}

// DefaultCheckValueItem is the item appended when the caller supplies none.
func DefaultCheckValueItem() CheckValueItem {
	return CheckValueItem{Weight: 50, Value: ""}
}

// NewAction returns a fresh payload for the given action type. Payload-bearing
// actions start empty: static ranking with no fallbacks, or string-format
// check values with no items.
func NewAction(t ActionType) (Action, error) {
	switch t {
	case ActionAllow:
		return Allow{}, nil
	case ActionSuppress:
		return Suppress{}, nil
	case ActionNextBestVariation:
		return &NextBestVariation{RankingType: RankingStatic, Variations: []string{}}, nil
	case ActionCheckValue:
		return &CheckValue{ValueFormat: FormatString, Items: []CheckValueItem{}}, nil
	default:
		return nil, invalidf("unknown action %q", t)
	}
}

// Rule configures how traffic for one variation is handled.
type Rule struct {
	Variation  string
	Action     Action
	Percentage int
}

func (r Rule) clone() Rule {
	out := r
	if r.Action != nil {
		out.Action = r.Action.clone()
	}
	return out
}

type StatusTransition struct {
	Status    Status    `json:"status"`
	ChangedBy string    `json:"changedBy"`
	ChangedAt time.Time `json:"changedAt"`
}

type Experiment struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Key           string             `json:"key"`
	CreatedBy     string             `json:"createdBy"`
	Objective     string             `json:"objective"`
	Status        Status             `json:"status"`
	Variations    []string           `json:"variations"`
	Rules         []Rule             `json:"rules"`
	CreatedDate   time.Time          `json:"createdDate"`
	StatusHistory []StatusTransition `json:"statusHistory"`
}

// Definition carries the user-supplied fields of a new experiment.
type Definition struct {
	Title      string
	Key        string
	Objective  string
	Variations []string
}
