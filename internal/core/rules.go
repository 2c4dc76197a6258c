package core

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// CheckValueField names the editable columns of a check value item.
type CheckValueField string

const (
	CheckValueWeight CheckValueField = "weight"
	CheckValueValue  CheckValueField = "value"
)

// Rule returns the rule owned by variation.
func (e *Experiment) Rule(variation string) (Rule, bool) {
	i := e.ruleIndex(variation)
	if i < 0 {
		return Rule{}, false
	}
	return e.Rules[i].clone(), true
}

func (e *Experiment) ruleIndex(variation string) int {
	return slices.IndexFunc(e.Rules, func(r Rule) bool { return r.Variation == variation })
}

// NextUnusedVariation returns the first variation that has no rule yet.
func (e *Experiment) NextUnusedVariation() (string, bool) {
	for _, v := range e.Variations {
		if e.ruleIndex(v) < 0 {
			return v, true
		}
	}
	return "", false
}

// AddRule adds an allow rule at 0% for variation.
func (e *Experiment) AddRule(variation string) error {
	if !e.HasVariation(variation) {
		return fmt.Errorf("%w: %q", ErrUnknownVariation, variation)
	}
	if e.ruleIndex(variation) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateRule, variation)
	}
	rules := make([]Rule, len(e.Rules), len(e.Rules)+1)
	copy(rules, e.Rules)
	e.Rules = append(rules, Rule{Variation: variation, Action: Allow{}, Percentage: 0})
	return nil
}

func (e *Experiment) RemoveRule(variation string) error {
	i := e.ruleIndex(variation)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, variation)
	}
	e.Rules = slices.Delete(slices.Clone(e.Rules), i, i+1)
	return nil
}

// updateRule applies fn to a copy of variation's rule and stores the result
// only when fn succeeds.
func (e *Experiment) updateRule(variation string, fn func(*Rule) error) error {
	i := e.ruleIndex(variation)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, variation)
	}
	rule := e.Rules[i].clone()
	if err := fn(&rule); err != nil {
		return err
	}
	rules := slices.Clone(e.Rules)
	rules[i] = rule
	e.Rules = rules
	return nil
}

// ChangeRuleVariation moves the rule owned by from to to. The new owner is
// dropped from the rule's own fallback list.
func (e *Experiment) ChangeRuleVariation(from, to string) error {
	if from == to {
		if e.ruleIndex(from) < 0 {
			return fmt.Errorf("%w: %q", ErrRuleNotFound, from)
		}
		return nil
	}
	if !e.HasVariation(to) {
		return fmt.Errorf("%w: %q", ErrUnknownVariation, to)
	}
	if e.ruleIndex(to) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateRule, to)
	}
	return e.updateRule(from, func(r *Rule) error {
		r.Variation = to
		if nbv, ok := r.Action.(*NextBestVariation); ok {
			nbv.Variations = withoutName(nbv.Variations, to)
		}
		return nil
	})
}

// SetRuleAction switches the rule to action with a fresh payload. Nothing
// from the previous payload survives, even when action is unchanged.
func (e *Experiment) SetRuleAction(variation string, action ActionType) error {
	payload, err := NewAction(action)
	if err != nil {
		return err
	}
	return e.updateRule(variation, func(r *Rule) error {
		r.Action = payload
		return nil
	})
}

func (e *Experiment) SetRulePercentage(variation string, percentage int) error {
	if percentage < 0 || percentage > 100 {
		return invalidf("percentage %d outside [0,100]", percentage)
	}
	return e.updateRule(variation, func(r *Rule) error {
		r.Percentage = percentage
		return nil
	})
}

func nextBest(r *Rule) (*NextBestVariation, error) {
	nbv, ok := r.Action.(*NextBestVariation)
	if !ok {
		return nil, invalidf("rule %q action is %s, not %s", r.Variation, actionTypeOf(r.Action), ActionNextBestVariation)
	}
	return nbv, nil
}

func checkValue(r *Rule) (*CheckValue, error) {
	cv, ok := r.Action.(*CheckValue)
	if !ok {
		return nil, invalidf("rule %q action is %s, not %s", r.Variation, actionTypeOf(r.Action), ActionCheckValue)
	}
	return cv, nil
}

func actionTypeOf(a Action) ActionType {
	if a == nil {
		return ""
	}
	return a.Type()
}

// SetRankingType switches a nextBestVariation rule between static and
// dynamic ranking. Dynamic ranking drops the fallback list; static starts it
// empty.
func (e *Experiment) SetRankingType(variation string, ranking RankingType) error {
	if !ranking.Valid() {
		return invalidf("unknown ranking type %q", ranking)
	}
	return e.updateRule(variation, func(r *Rule) error {
		nbv, err := nextBest(r)
		if err != nil {
			return err
		}
		if nbv.RankingType == ranking {
			return nil
		}
		nbv.RankingType = ranking
		if ranking == RankingDynamic {
			nbv.Variations = nil
		} else {
			nbv.Variations = []string{}
		}
		return nil
	})
}

// AddNextBestVariation appends candidate to the rule's fallback list. Adding
// the rule's own variation or a candidate already listed does nothing.
func (e *Experiment) AddNextBestVariation(variation, candidate string) error {
	if !e.HasVariation(candidate) {
		return fmt.Errorf("%w: %q", ErrUnknownVariation, candidate)
	}
	return e.updateRule(variation, func(r *Rule) error {
		nbv, err := nextBest(r)
		if err != nil {
			return err
		}
		if nbv.RankingType != RankingStatic {
			return invalidf("rule %q uses %s ranking", variation, nbv.RankingType)
		}
		if candidate == variation || slices.Contains(nbv.Variations, candidate) {
			return nil
		}
		nbv.Variations = append(nbv.Variations, candidate)
		return nil
	})
}

// RemoveNextBestVariation drops candidate from the fallback list, if present.
func (e *Experiment) RemoveNextBestVariation(variation, candidate string) error {
	return e.updateRule(variation, func(r *Rule) error {
		nbv, err := nextBest(r)
		if err != nil {
			return err
		}
		nbv.Variations = withoutName(nbv.Variations, candidate)
		if nbv.RankingType == RankingDynamic && len(nbv.Variations) == 0 {
			nbv.Variations = nil
		}
		return nil
	})
}

// ReorderNextBestVariation swaps the entry at index with its neighbour in
// direction. Moves past either end are ignored.
func (e *Experiment) ReorderNextBestVariation(variation string, index int, direction Direction) error {
	if !direction.Valid() {
		return invalidf("unknown direction %q", direction)
	}
	return e.updateRule(variation, func(r *Rule) error {
		nbv, err := nextBest(r)
		if err != nil {
			return err
		}
		target := index - 1
		if direction == DirectionDown {
			target = index + 1
		}
		n := len(nbv.Variations)
		if index < 0 || index >= n || target < 0 || target >= n {
			return nil
		}
		nbv.Variations[index], nbv.Variations[target] = nbv.Variations[target], nbv.Variations[index]
		return nil
	})
}

// SetValueFormat changes the format shared by all check value items. Moving
// to number format is refused while any stored value is not numeric.
func (e *Experiment) SetValueFormat(variation string, format ValueFormat) error {
	if !format.Valid() {
		return invalidf("unknown value format %q", format)
	}
	return e.updateRule(variation, func(r *Rule) error {
		cv, err := checkValue(r)
		if err != nil {
			return err
		}
		if format == FormatNumber {
			for i, item := range cv.Items {
				if item.Value != "" && !isNumber(item.Value) {
					return invalidf("item %d value %q is not a number", i, item.Value)
				}
			}
		}
		cv.ValueFormat = format
		return nil
	})
}

// AddCheckValueItem appends item to a checkValue rule.
func (e *Experiment) AddCheckValueItem(variation string, item CheckValueItem) error {
	if item.Weight < 0 || item.Weight > 100 {
		return invalidf("weight %d outside [0,100]", item.Weight)
	}
	return e.updateRule(variation, func(r *Rule) error {
		cv, err := checkValue(r)
		if err != nil {
			return err
		}
		if cv.ValueFormat == FormatNumber && item.Value != "" && !isNumber(item.Value) {
			return invalidf("value %q is not a number", item.Value)
		}
		cv.Items = append(cv.Items, item)
		return nil
	})
}

func (e *Experiment) RemoveCheckValueItem(variation string, index int) error {
	return e.updateRule(variation, func(r *Rule) error {
		cv, err := checkValue(r)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(cv.Items) {
			return invalidf("check value item %d out of range", index)
		}
		cv.Items = slices.Delete(cv.Items, index, index+1)
		return nil
	})
}

// UpdateCheckValueItem sets one field of the item at index from raw input.
// A value that does not parse as a number is rejected on number-format rules
// and the stored value is kept.
func (e *Experiment) UpdateCheckValueItem(variation string, index int, field CheckValueField, raw string) error {
	return e.updateRule(variation, func(r *Rule) error {
		cv, err := checkValue(r)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(cv.Items) {
			return invalidf("check value item %d out of range", index)
		}
		switch field {
		case CheckValueWeight:
			weight, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return invalidf("weight %q is not an integer", raw)
			}
			if weight < 0 || weight > 100 {
				return invalidf("weight %d outside [0,100]", weight)
			}
			cv.Items[index].Weight = weight
		case CheckValueValue:
			if cv.ValueFormat == FormatNumber && !isNumber(raw) {
				return invalidf("value %q is not a number", raw)
			}
			cv.Items[index].Value = raw
		default:
			return invalidf("unknown check value field %q", field)
		}
		return nil
	})
}

func isNumber(s string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && !math.IsInf(f, 0) && !math.IsNaN(f)
}
