package core

import (
	"errors"
	"fmt"
)

// MinimumVariations is the smallest variation count a usable experiment has.
const MinimumVariations = 2

var (
	// ErrValidation reports a malformed name, an empty required field or an
	// out-of-range value.
	ErrValidation = errors.New("validation failed")

	// ErrMinimumVariations reports an edit that would leave fewer than
	// MinimumVariations variations.
	ErrMinimumVariations = errors.New("experiment requires at least two variations")

	// ErrInvalidStatusTransition reports a status change the lifecycle does
	// not permit.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrDuplicateKey reports a tracking key already used by another experiment.
	ErrDuplicateKey = errors.New("duplicate experiment key")

	// ErrUnknownVariation reports a reference to a variation the experiment
	// does not define.
	ErrUnknownVariation = errors.New("unknown variation reference")

	// ErrRuleNotFound reports an operation on a variation that has no rule.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule reports a second rule for the same variation.
	ErrDuplicateRule = errors.New("variation already has a rule")

	// ErrFieldLocked reports an edit to a field the current status locks.
	ErrFieldLocked = errors.New("field is locked for current status")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
