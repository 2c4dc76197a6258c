// Fuzz tests for the HTTP wire mapping.
// Uses the white-box package (package http) to reach unexported symbols.
package http

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	experimentz "github.com/matt-riley/experimentz/clients/go"
)

// FuzzErrorMessage ensures error bodies never panic and JSON bodies with an
// "error" field yield exactly that message.
func FuzzErrorMessage(f *testing.F) {
	f.Add([]byte(`{"error":"experiment not found"}`))
	f.Add([]byte("plain text\n"))
	f.Add([]byte(`{"error":""}`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, body []byte) {
		msg := errorMessage(body)
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" && msg != payload.Error {
			t.Fatalf("got %q, want %q", msg, payload.Error)
		}
	})
}

// FuzzDecodeExperiment checks that any decodable experiment maps rules and
// history one to one.
func FuzzDecodeExperiment(f *testing.F) {
	f.Add([]byte(`{"id":"1","rules":[{"variation":"A","action":"allow","percentage":10}],"statusHistory":[{"status":"Draft"}]}`))
	f.Add([]byte(`{"rules":[{"action":"checkValue","checkValueItems":[{"weight":1,"value":"x"}]}]}`))
	f.Add([]byte(`null`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var we wireExperiment
		if err := json.Unmarshal(data, &we); err != nil {
			return
		}
		e := decodeExperiment(we)
		if len(e.Rules) != len(we.Rules) || len(e.StatusHistory) != len(we.StatusHistory) {
			t.Fatalf("lost entries: %+v", e)
		}
		for i, r := range we.Rules {
			if len(e.Rules[i].CheckValueItems) != len(r.CheckValueItems) {
				t.Fatalf("rule %d: check values %d != %d", i, len(e.Rules[i].CheckValueItems), len(r.CheckValueItems))
			}
		}
	})
}

// FuzzEncodeListOptions checks the query string round-trips through url parsing.
func FuzzEncodeListOptions(f *testing.F) {
	f.Add("Checkout", "checkout-copy", "Jane Doe", "Draft", "title", "asc", 1, 5)
	f.Add("", "", "", "", "", "", 0, 0)

	f.Fuzz(func(t *testing.T, title, key, createdBy, status, sortField, direction string, page, pageSize int) {
		opts := experimentz.ListOptions{
			Title:     title,
			Key:       key,
			CreatedBy: createdBy,
			Sort:      sortField,
			Direction: direction,
			Page:      page,
			PageSize:  pageSize,
		}
		if status != "" {
			opts.Statuses = []string{status}
		}
		values, err := url.ParseQuery(encodeListOptions(opts))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if title != "" && values.Get("title") != title {
			t.Fatalf("title: got %q, want %q", values.Get("title"), title)
		}
		if status != "" && values.Get("status") != status {
			t.Fatalf("status: got %q, want %q", values.Get("status"), status)
		}
		if page <= 0 && values.Has("page") {
			t.Fatal("non-positive page must be omitted")
		}
	})
}

func TestExperimentPathEscapesSegments(t *testing.T) {
	got := experimentPath("a/b", "rules", "x y")
	if !strings.HasPrefix(got, "/v1/experiments/a%2Fb/") || !strings.HasSuffix(got, "/x%20y") {
		t.Errorf("got %q", got)
	}
}
