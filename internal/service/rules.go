package service

import (
	"context"

	"github.com/matt-riley/experimentz/internal/core"
)

var (
	variationFields = []core.Field{core.FieldVariations}
	ruleFields      = []core.Field{core.FieldRules}
)

func (s *Service) AddVariation(ctx context.Context, id, name string) (core.Experiment, error) {
	return s.mutate(ctx, "add_variation", id, "", variationFields, func(e *core.Experiment) error {
		return e.AddVariation(name)
	})
}

func (s *Service) RenameVariation(ctx context.Context, id, from, to string) (core.Experiment, error) {
	return s.mutate(ctx, "rename_variation", id, "", variationFields, func(e *core.Experiment) error {
		return e.RenameVariation(from, to)
	})
}

func (s *Service) RemoveVariation(ctx context.Context, id, name string) (core.Experiment, error) {
	return s.mutate(ctx, "remove_variation", id, "", variationFields, func(e *core.Experiment) error {
		return e.RemoveVariation(name)
	})
}

// AddRule adds a rule for variation, or for the first variation without one
// when variation is empty.
func (s *Service) AddRule(ctx context.Context, id, variation string) (core.Experiment, error) {
	return s.mutate(ctx, "add_rule", id, "", ruleFields, func(e *core.Experiment) error {
		if variation == "" {
			next, ok := e.NextUnusedVariation()
			if !ok {
				return core.ErrDuplicateRule
			}
			variation = next
		}
		return e.AddRule(variation)
	})
}

func (s *Service) RemoveRule(ctx context.Context, id, variation string) (core.Experiment, error) {
	return s.mutate(ctx, "remove_rule", id, "", ruleFields, func(e *core.Experiment) error {
		return e.RemoveRule(variation)
	})
}

// RuleUpdate carries optional rule changes. They are applied in field order,
// so an action change resets the payload before RankingType or ValueFormat
// are set.
type RuleUpdate struct {
	Variation   *string
	Action      *core.ActionType
	Percentage  *int
	RankingType *core.RankingType
	ValueFormat *core.ValueFormat
}

func (s *Service) UpdateRule(ctx context.Context, id, variation string, update RuleUpdate) (core.Experiment, error) {
	return s.mutate(ctx, "update_rule", id, "", ruleFields, func(e *core.Experiment) error {
		owner := variation
		if update.Variation != nil {
			if err := e.ChangeRuleVariation(owner, *update.Variation); err != nil {
				return err
			}
			owner = *update.Variation
		}
		if update.Action != nil {
			if err := e.SetRuleAction(owner, *update.Action); err != nil {
				return err
			}
		}
		if update.Percentage != nil {
			if err := e.SetRulePercentage(owner, *update.Percentage); err != nil {
				return err
			}
		}
		if update.RankingType != nil {
			if err := e.SetRankingType(owner, *update.RankingType); err != nil {
				return err
			}
		}
		if update.ValueFormat != nil {
			if err := e.SetValueFormat(owner, *update.ValueFormat); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) AddNextBestVariation(ctx context.Context, id, variation, candidate string) (core.Experiment, error) {
	return s.mutate(ctx, "add_next_best_variation", id, "", ruleFields, func(e *core.Experiment) error {
		return e.AddNextBestVariation(variation, candidate)
	})
}

func (s *Service) RemoveNextBestVariation(ctx context.Context, id, variation, candidate string) (core.Experiment, error) {
	return s.mutate(ctx, "remove_next_best_variation", id, "", ruleFields, func(e *core.Experiment) error {
		return e.RemoveNextBestVariation(variation, candidate)
	})
}

func (s *Service) ReorderNextBestVariation(ctx context.Context, id, variation string, index int, direction core.Direction) (core.Experiment, error) {
	return s.mutate(ctx, "reorder_next_best_variation", id, "", ruleFields, func(e *core.Experiment) error {
		return e.ReorderNextBestVariation(variation, index, direction)
	})
}

func (s *Service) AddCheckValueItem(ctx context.Context, id, variation string, item core.CheckValueItem) (core.Experiment, error) {
	return s.mutate(ctx, "add_check_value_item", id, "", ruleFields, func(e *core.Experiment) error {
		return e.AddCheckValueItem(variation, item)
	})
}

func (s *Service) UpdateCheckValueItem(ctx context.Context, id, variation string, index int, field core.CheckValueField, value string) (core.Experiment, error) {
	return s.mutate(ctx, "update_check_value_item", id, "", ruleFields, func(e *core.Experiment) error {
		return e.UpdateCheckValueItem(variation, index, field, value)
	})
}

func (s *Service) RemoveCheckValueItem(ctx context.Context, id, variation string, index int) (core.Experiment, error) {
	return s.mutate(ctx, "remove_check_value_item", id, "", ruleFields, func(e *core.Experiment) error {
		return e.RemoveCheckValueItem(variation, index)
	})
}
