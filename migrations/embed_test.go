package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFSContainsGooseMigrations(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("fs.Glob() error = %v", err)
	}
	if len(names) == 0 {
		t.Fatal("expected at least one embedded migration")
	}
	for _, name := range names {
		data, err := fs.ReadFile(FS, name)
		if err != nil {
			t.Fatalf("ReadFile(%q) error = %v", name, err)
		}
		if !strings.Contains(string(data), "-- +goose Up") {
			t.Errorf("%s is missing the goose Up annotation", name)
		}
	}
}
