package core

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// NewExperiment builds a Draft experiment from def. The key is normalized to
// lowercase and every variation name is trimmed.
func NewExperiment(def Definition, createdBy, id string, now time.Time) (Experiment, error) {
	if strings.TrimSpace(id) == "" {
		return Experiment{}, invalidf("id is required")
	}
	title := strings.TrimSpace(def.Title)
	if title == "" {
		return Experiment{}, invalidf("title is required")
	}
	key, err := NormalizeKey(def.Key)
	if err != nil {
		return Experiment{}, err
	}
	createdBy = strings.TrimSpace(createdBy)
	if createdBy == "" {
		return Experiment{}, invalidf("createdBy is required")
	}

	variations := make([]string, 0, len(def.Variations))
	for _, name := range def.Variations {
		normalized, err := normalizeVariationName(name)
		if err != nil {
			return Experiment{}, err
		}
		if slices.Contains(variations, normalized) {
			continue
		}
		variations = append(variations, normalized)
	}
	if len(variations) < MinimumVariations {
		return Experiment{}, fmt.Errorf("%w: got %d unique variations", ErrMinimumVariations, len(variations))
	}

	return Experiment{
		ID:          id,
		Title:       title,
		Key:         key,
		CreatedBy:   createdBy,
		Objective:   strings.TrimSpace(def.Objective),
		Status:      StatusDraft,
		Variations:  variations,
		Rules:       []Rule{},
		CreatedDate: now,
		StatusHistory: []StatusTransition{{
			Status:    StatusDraft,
			ChangedBy: createdBy,
			ChangedAt: now,
		}},
	}, nil
}

// Clone returns a deep copy that shares no slices or payloads with e.
func (e Experiment) Clone() Experiment {
	out := e
	if e.Variations != nil {
		out.Variations = slices.Clone(e.Variations)
	}
	if e.Rules != nil {
		out.Rules = make([]Rule, len(e.Rules))
		for i, rule := range e.Rules {
			out.Rules[i] = rule.clone()
		}
	}
	if e.StatusHistory != nil {
		out.StatusHistory = slices.Clone(e.StatusHistory)
	}
	return out
}

func (e *Experiment) SetTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalidf("title is required")
	}
	e.Title = title
	return nil
}

func (e *Experiment) SetObjective(objective string) {
	e.Objective = strings.TrimSpace(objective)
}

// SetKey replaces the tracking key. Uniqueness across the collection is the
// caller's concern.
func (e *Experiment) SetKey(key string) error {
	normalized, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	e.Key = normalized
	return nil
}

func (e *Experiment) HasVariation(name string) bool {
	return slices.Contains(e.Variations, name)
}

// AddVariation appends name unless an identical variation already exists, in
// which case it does nothing.
func (e *Experiment) AddVariation(name string) error {
	normalized, err := normalizeVariationName(name)
	if err != nil {
		return err
	}
	if e.HasVariation(normalized) {
		return nil
	}
	variations := make([]string, len(e.Variations), len(e.Variations)+1)
	copy(variations, e.Variations)
	e.Variations = append(variations, normalized)
	return nil
}

// RemoveVariation drops name, the rule it owns, and every fallback reference
// to it in other rules.
func (e *Experiment) RemoveVariation(name string) error {
	if !e.HasVariation(name) {
		return fmt.Errorf("%w: %q", ErrUnknownVariation, name)
	}
	if len(e.Variations)-1 < MinimumVariations {
		return fmt.Errorf("%w: cannot remove %q from %d variations", ErrMinimumVariations, name, len(e.Variations))
	}

	variations := make([]string, 0, len(e.Variations)-1)
	for _, v := range e.Variations {
		if v != name {
			variations = append(variations, v)
		}
	}

	rules := make([]Rule, 0, len(e.Rules))
	for _, rule := range e.Rules {
		if rule.Variation == name {
			continue
		}
		rule = rule.clone()
		if nbv, ok := rule.Action.(*NextBestVariation); ok {
			nbv.Variations = withoutName(nbv.Variations, name)
		}
		rules = append(rules, rule)
	}

	e.Variations = variations
	e.Rules = rules
	return nil
}

// RenameVariation renames from to to and rewrites every rule that refers to it.
func (e *Experiment) RenameVariation(from, to string) error {
	if !e.HasVariation(from) {
		return fmt.Errorf("%w: %q", ErrUnknownVariation, from)
	}
	normalized, err := normalizeVariationName(to)
	if err != nil {
		return err
	}
	if normalized == from {
		return nil
	}
	if e.HasVariation(normalized) {
		return invalidf("variation %q already exists", normalized)
	}

	variations := slices.Clone(e.Variations)
	for i, v := range variations {
		if v == from {
			variations[i] = normalized
		}
	}

	rules := make([]Rule, len(e.Rules))
	for i, rule := range e.Rules {
		rule = rule.clone()
		if rule.Variation == from {
			rule.Variation = normalized
		}
		if nbv, ok := rule.Action.(*NextBestVariation); ok {
			for j, v := range nbv.Variations {
				if v == from {
					nbv.Variations[j] = normalized
				}
			}
		}
		rules[i] = rule
	}

	e.Variations = variations
	e.Rules = rules
	return nil
}

// Validate checks every structural invariant of the experiment.
func (e *Experiment) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return invalidf("id is required")
	}
	if strings.TrimSpace(e.Title) == "" {
		return invalidf("experiment %s: title is required", e.ID)
	}
	if !ValidateKey(e.Key) || e.Key != strings.ToLower(strings.TrimSpace(e.Key)) {
		return invalidf("experiment %s: key %q must be lowercase and match %s", e.ID, e.Key, namePattern.String())
	}
	if !e.Status.Valid() {
		return invalidf("experiment %s: unknown status %q", e.ID, e.Status)
	}

	seen := make(map[string]struct{}, len(e.Variations))
	for _, v := range e.Variations {
		if strings.TrimSpace(v) == "" {
			return invalidf("experiment %s: empty variation name", e.ID)
		}
		if _, dup := seen[v]; dup {
			return invalidf("experiment %s: duplicate variation %q", e.ID, v)
		}
		seen[v] = struct{}{}
	}
	if len(e.Variations) < MinimumVariations {
		return fmt.Errorf("%w: experiment %s has %d", ErrMinimumVariations, e.ID, len(e.Variations))
	}

	owners := make(map[string]struct{}, len(e.Rules))
	for _, rule := range e.Rules {
		if _, ok := seen[rule.Variation]; !ok {
			return fmt.Errorf("%w: experiment %s rule for %q", ErrUnknownVariation, e.ID, rule.Variation)
		}
		if _, dup := owners[rule.Variation]; dup {
			return fmt.Errorf("%w: experiment %s variation %q", ErrDuplicateRule, e.ID, rule.Variation)
		}
		owners[rule.Variation] = struct{}{}
		if err := validateRule(rule, seen); err != nil {
			return fmt.Errorf("experiment %s: %w", e.ID, err)
		}
	}

	if len(e.StatusHistory) == 0 {
		return invalidf("experiment %s: status history is empty", e.ID)
	}
	if e.StatusHistory[0].Status != StatusDraft {
		return invalidf("experiment %s: status history must start in Draft", e.ID)
	}
	for _, entry := range e.StatusHistory {
		if !entry.Status.Valid() {
			return invalidf("experiment %s: unknown status %q in history", e.ID, entry.Status)
		}
	}
	if last := e.StatusHistory[len(e.StatusHistory)-1]; last.Status != e.Status {
		return invalidf("experiment %s: status %q does not match history %q", e.ID, e.Status, last.Status)
	}

	return nil
}

func validateRule(rule Rule, variations map[string]struct{}) error {
	if rule.Percentage < 0 || rule.Percentage > 100 {
		return invalidf("rule %q: percentage %d outside [0,100]", rule.Variation, rule.Percentage)
	}
	switch action := rule.Action.(type) {
	case Allow, Suppress:
	case *NextBestVariation:
		if !action.RankingType.Valid() {
			return invalidf("rule %q: unknown ranking type %q", rule.Variation, action.RankingType)
		}
		if action.RankingType == RankingDynamic && len(action.Variations) > 0 {
			return invalidf("rule %q: dynamic ranking carries no fallback order", rule.Variation)
		}
		listed := make(map[string]struct{}, len(action.Variations))
		for _, v := range action.Variations {
			if v == rule.Variation {
				return invalidf("rule %q: falls back to itself", rule.Variation)
			}
			if _, ok := variations[v]; !ok {
				return fmt.Errorf("%w: rule %q falls back to %q", ErrUnknownVariation, rule.Variation, v)
			}
			if _, dup := listed[v]; dup {
				return invalidf("rule %q: %q listed twice", rule.Variation, v)
			}
			listed[v] = struct{}{}
		}
	case *CheckValue:
		if !action.ValueFormat.Valid() {
			return invalidf("rule %q: unknown value format %q", rule.Variation, action.ValueFormat)
		}
		for i, item := range action.Items {
			if item.Weight < 0 || item.Weight > 100 {
				return invalidf("rule %q: item %d weight %d outside [0,100]", rule.Variation, i, item.Weight)
			}
			if action.ValueFormat == FormatNumber && item.Value != "" && !isNumber(item.Value) {
				return invalidf("rule %q: item %d value %q is not a number", rule.Variation, i, item.Value)
			}
		}
	default:
		return invalidf("rule %q: missing action", rule.Variation)
	}
	return nil
}

func withoutName(names []string, name string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
