package core

import (
	"cmp"
	"slices"
	"strings"
)

// Filter narrows a listing. Text fields match case-insensitive substrings;
// Statuses matches any listed status. All set criteria must hold.
type Filter struct {
	Title     string
	Key       string
	CreatedBy string
	Statuses  []Status
}

func (f Filter) Match(e Experiment) bool {
	if !containsFold(e.Title, f.Title) || !containsFold(e.Key, f.Key) || !containsFold(e.CreatedBy, f.CreatedBy) {
		return false
	}
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, e.Status)
}

func containsFold(s, substr string) bool {
	substr = strings.TrimSpace(substr)
	return substr == "" || strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

type SortField string

const (
	SortTitle       SortField = "title"
	SortKey         SortField = "key"
	SortCreatedBy   SortField = "createdBy"
	SortStatus      SortField = "status"
	SortCreatedDate SortField = "createdDate"
)

func (f SortField) Valid() bool {
	switch f {
	case SortTitle, SortKey, SortCreatedBy, SortStatus, SortCreatedDate:
		return true
	default:
		return false
	}
}

// SortDirection is asc, desc, or empty for unsorted.
type SortDirection string

const (
	SortNone SortDirection = ""
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

func (d SortDirection) Valid() bool {
	return d == SortNone || d == SortAsc || d == SortDesc
}

type Sort struct {
	Field     SortField
	Direction SortDirection
}

// DefaultSort lists the newest experiments first.
var DefaultSort = Sort{Field: SortCreatedDate, Direction: SortDesc}

// ToggleSort advances the three-state header toggle: a new field sorts
// ascending, then descending, then unsorted.
func (s Sort) ToggleSort(field SortField) Sort {
	if s.Field != field || s.Direction == SortNone {
		return Sort{Field: field, Direction: SortAsc}
	}
	if s.Direction == SortAsc {
		return Sort{Field: field, Direction: SortDesc}
	}
	return Sort{Field: field, Direction: SortNone}
}

// SortExperiments orders experiments in place. Ties keep their input order.
func SortExperiments(experiments []Experiment, s Sort) {
	if s.Direction == SortNone || !s.Field.Valid() {
		return
	}
	slices.SortStableFunc(experiments, func(a, b Experiment) int {
		var c int
		switch s.Field {
		case SortTitle:
			c = cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case SortKey:
			c = cmp.Compare(a.Key, b.Key)
		case SortCreatedBy:
			c = cmp.Compare(strings.ToLower(a.CreatedBy), strings.ToLower(b.CreatedBy))
		case SortStatus:
			c = cmp.Compare(a.Status, b.Status)
		case SortCreatedDate:
			c = a.CreatedDate.Compare(b.CreatedDate)
		}
		if s.Direction == SortDesc {
			return -c
		}
		return c
	})
}

// Query filters then sorts a copy of experiments.
func Query(experiments []Experiment, f Filter, s Sort) []Experiment {
	out := make([]Experiment, 0, len(experiments))
	for _, e := range experiments {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	SortExperiments(out, s)
	return out
}

const DefaultPageSize = 5

type Page struct {
	Items      []Experiment `json:"items"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
	TotalItems int          `json:"totalItems"`
	TotalPages int          `json:"totalPages"`
}

// Paginate returns the 1-based page of items. Pages past the end are empty;
// non-positive arguments fall back to page 1 and DefaultPageSize.
func Paginate(items []Experiment, page, size int) Page {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	total := len(items)
	pages := (total + size - 1) / size
	start := total
	if page <= pages {
		start = (page - 1) * size
	}
	end := min(start+size, total)
	pageItems := make([]Experiment, end-start)
	copy(pageItems, items[start:end])
	return Page{
		Items:      pageItems,
		Page:       page,
		PageSize:   size,
		TotalItems: total,
		TotalPages: pages,
	}
}
