package core

import (
	"encoding/json"
	"fmt"
)

// ruleJSON is the persisted shape of a rule: a flat record whose optional
// fields depend on the action.
type ruleJSON struct {
	Variation          string            `json:"variation"`
	Action             ActionType        `json:"action"`
	Percentage         int               `json:"percentage"`
	RankingType        RankingType       `json:"rankingType,omitempty"`
	NextBestVariations *[]string         `json:"nextBestVariations,omitempty"`
	ValueFormat        ValueFormat       `json:"valueFormat,omitempty"`
	CheckValueItems    *[]CheckValueItem `json:"checkValueItems,omitempty"`
}

func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		Variation:  r.Variation,
		Percentage: r.Percentage,
	}
	switch action := r.Action.(type) {
	case Allow, Suppress:
		out.Action = action.Type()
	case *NextBestVariation:
		out.Action = ActionNextBestVariation
		out.RankingType = action.RankingType
		if action.RankingType != RankingDynamic {
			list := action.Variations
			if list == nil {
				list = []string{}
			}
			out.NextBestVariations = &list
		}
	case *CheckValue:
		out.Action = ActionCheckValue
		out.ValueFormat = action.ValueFormat
		items := action.Items
		if items == nil {
			items = []CheckValueItem{}
		}
		out.CheckValueItems = &items
	default:
		return nil, fmt.Errorf("rule %q: cannot encode action %T", r.Variation, r.Action)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a rule, keeping only the payload that belongs to its
// action. Missing ranking types default to static and missing value formats
// to string.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	var action Action
	switch in.Action {
	case ActionAllow:
		action = Allow{}
	case ActionSuppress:
		action = Suppress{}
	case ActionNextBestVariation:
		ranking := in.RankingType
		if ranking == "" {
			ranking = RankingStatic
		}
		if !ranking.Valid() {
			return invalidf("rule %q: unknown ranking type %q", in.Variation, in.RankingType)
		}
		nbv := &NextBestVariation{RankingType: ranking}
		if ranking == RankingStatic {
			nbv.Variations = []string{}
			if in.NextBestVariations != nil {
				nbv.Variations = append(nbv.Variations, *in.NextBestVariations...)
			}
		}
		action = nbv
	case ActionCheckValue:
		format := in.ValueFormat
		if format == "" {
			format = FormatString
		}
		if !format.Valid() {
			return invalidf("rule %q: unknown value format %q", in.Variation, in.ValueFormat)
		}
		cv := &CheckValue{ValueFormat: format, Items: []CheckValueItem{}}
		if in.CheckValueItems != nil {
			cv.Items = append(cv.Items, *in.CheckValueItems...)
		}
		action = cv
	default:
		return invalidf("rule %q: unknown action %q", in.Variation, in.Action)
	}

	*r = Rule{
		Variation:  in.Variation,
		Action:     action,
		Percentage: in.Percentage,
	}
	return nil
}

// EncodeExperiments renders the collection in its persisted form.
func EncodeExperiments(experiments []Experiment) ([]byte, error) {
	if experiments == nil {
		experiments = []Experiment{}
	}
	return json.Marshal(experiments)
}

// DecodeExperiments parses a persisted collection and validates each entry.
// Ids and keys must be unique across the collection.
func DecodeExperiments(data []byte) ([]Experiment, error) {
	var experiments []Experiment
	if err := json.Unmarshal(data, &experiments); err != nil {
		return nil, fmt.Errorf("decode experiments: %w", err)
	}
	if experiments == nil {
		return nil, invalidf("decode experiments: blob is not a JSON array")
	}
	ids := make(map[string]struct{}, len(experiments))
	keys := make(map[string]string, len(experiments))
	for i := range experiments {
		e := &experiments[i]
		if e.Rules == nil {
			e.Rules = []Rule{}
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("decode experiments: %w", err)
		}
		if _, dup := ids[e.ID]; dup {
			return nil, invalidf("decode experiments: duplicate id %q", e.ID)
		}
		ids[e.ID] = struct{}{}
		if owner, dup := keys[e.Key]; dup {
			return nil, fmt.Errorf("decode experiments: %w: %q is used by experiments %s and %s", ErrDuplicateKey, e.Key, owner, e.ID)
		}
		keys[e.Key] = e.ID
	}
	return experiments, nil
}
