package store

import (
	"time"

	"github.com/matt-riley/experimentz/internal/core"
)

func seedTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func history(entries ...core.StatusTransition) []core.StatusTransition {
	return entries
}

func transition(status core.Status, by, at string) core.StatusTransition {
	return core.StatusTransition{Status: status, ChangedBy: by, ChangedAt: seedTime(at)}
}

// SeedExperiments returns the sample collection written on first run. Every
// call builds fresh values.
func SeedExperiments() []core.Experiment {
	return []core.Experiment{
		{
			ID:         "1",
			Title:      "APR Reduction Impact on Acceptance",
			Key:        "apr_reduction_impact",
			CreatedBy:  "John Doe",
			Objective:  "Increase card offer acceptance rate by 10% through APR reduction",
			Status:     core.StatusRunning,
			Variations: []string{"Control", "2% APR Reduction", "5% APR Reduction"},
			Rules: []core.Rule{
				{Variation: "Control", Action: core.Allow{}, Percentage: 40},
				{Variation: "2% APR Reduction", Action: core.Suppress{}, Percentage: 0},
				{
					Variation: "5% APR Reduction",
					Action: &core.NextBestVariation{
						RankingType: core.RankingStatic,
						Variations:  []string{"Control", "2% APR Reduction"},
					},
					Percentage: 60,
				},
			},
			CreatedDate: seedTime("2024-01-01T00:00:00Z"),
			StatusHistory: history(
				transition(core.StatusDraft, "John Doe", "2024-01-01T09:00:00Z"),
				transition(core.StatusRunning, "Jane Smith", "2024-01-05T14:30:00Z"),
				transition(core.StatusStopped, "Mike Johnson", "2024-01-10T11:15:00Z"),
				transition(core.StatusRunning, "Sarah Lee", "2024-01-15T16:45:00Z"),
			),
		},
		{
			ID:         "2",
			Title:      "Cash Back vs. Reward Points",
			Key:        "cash_back_vs_points",
			CreatedBy:  "Jane Smith",
			Objective:  "Determine which reward structure leads to higher card usage",
			Status:     core.StatusStopped,
			Variations: []string{"2% Cash Back", "3x Reward Points"},
			Rules: []core.Rule{
				{
					Variation: "2% Cash Back",
					Action: &core.CheckValue{
						ValueFormat: core.FormatNumber,
						Items: []core.CheckValueItem{
							{Weight: 30, Value: "500"},
							{Weight: 70, Value: "1000"},
						},
					},
					Percentage: 50,
				},
				{Variation: "3x Reward Points", Action: core.Allow{}, Percentage: 50},
			},
			CreatedDate: seedTime("2024-01-15T00:00:00Z"),
			StatusHistory: history(
				transition(core.StatusDraft, "Emma Wilson", "2024-01-15T10:00:00Z"),
				transition(core.StatusRunning, "David Brown", "2024-01-20T09:30:00Z"),
				transition(core.StatusStopped, "Lisa Taylor", "2024-02-01T14:00:00Z"),
			),
		},
		{
			ID:         "3",
			Title:      "Sign-up Bonus Threshold Test",
			Key:        "signup_bonus_threshold",
			CreatedBy:  "Chris Evans",
			Objective:  "Optimize sign-up bonus spend threshold for maximum ROI",
			Status:     core.StatusMarkedForDeletion,
			Variations: []string{"$3000 in 3 months", "$4000 in 3 months", "$5000 in 3 months"},
			Rules: []core.Rule{
				{Variation: "$3000 in 3 months", Action: core.Allow{}, Percentage: 33},
				{
					Variation:  "$4000 in 3 months",
					Action:     &core.NextBestVariation{RankingType: core.RankingDynamic},
					Percentage: 33,
				},
				{Variation: "$5000 in 3 months", Action: core.Allow{}, Percentage: 34},
			},
			CreatedDate: seedTime("2024-02-01T00:00:00Z"),
			StatusHistory: history(
				transition(core.StatusDraft, "Chris Evans", "2024-02-01T08:00:00Z"),
				transition(core.StatusRunning, "Natalie Porter", "2024-02-05T11:30:00Z"),
				transition(core.StatusStopped, "Tom Holland", "2024-02-15T16:00:00Z"),
				transition(core.StatusMarkedForDeletion, "Robert Downey", "2024-02-20T09:45:00Z"),
			),
		},
	}
}
