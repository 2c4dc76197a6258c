package store

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/matt-riley/experimentz/internal/core"
	"github.com/matt-riley/experimentz/internal/repository"
)

type failingBlobs struct {
	readErr  error
	writeErr error
	data     []byte
	writes   int
}

func (f *failingBlobs) ReadBlob(context.Context, string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.data, nil
}

func (f *failingBlobs) WriteBlob(_ context.Context, _ string, data []byte) error {
	f.writes++
	if f.writeErr != nil {
		return f.writeErr
	}
	f.data = data
	return nil
}

func newLoadedStore(t *testing.T) (*Store, *repository.MemoryRepository) {
	t.Helper()
	blobs := repository.NewMemoryRepository()
	s, err := New(blobs, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return s, blobs
}

func TestSeedExperimentsAreValid(t *testing.T) {
	for _, e := range SeedExperiments() {
		if err := e.Validate(); err != nil {
			t.Fatalf("seed %s Validate() error = %v", e.ID, err)
		}
	}
}

func TestLoadSeedsMissingBlob(t *testing.T) {
	s, blobs := newLoadedStore(t)

	got := s.List()
	if len(got) != 3 {
		t.Fatalf("List() len = %d, want 3", len(got))
	}
	if got[0].Title != "APR Reduction Impact on Acceptance" || got[0].Status != core.StatusRunning {
		t.Fatalf("first seed = %q (%s)", got[0].Title, got[0].Status)
	}

	stored, err := blobs.ReadBlob(context.Background(), DefaultBlobName)
	if err != nil {
		t.Fatalf("seed was not persisted: %v", err)
	}
	want, _ := core.EncodeExperiments(SeedExperiments())
	if !bytes.Equal(stored, want) {
		t.Fatalf("persisted seed = %s", stored)
	}
}

func TestLoadSeedsUnparsableBlob(t *testing.T) {
	blobs := repository.NewMemoryRepository()
	if err := blobs.WriteBlob(context.Background(), DefaultBlobName, []byte(`not json`)); err != nil {
		t.Fatalf("WriteBlob() error = %v", err)
	}
	s, _ := New(blobs, DefaultBlobName)

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Load() len = %d, want seed collection", len(got))
	}
}

func TestLoadReseedsCollidingBlob(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]core.Experiment)
	}{
		{
			name:   "duplicate key",
			mutate: func(es []core.Experiment) { es[1].Key = es[0].Key },
		},
		{
			name:   "duplicate id",
			mutate: func(es []core.Experiment) { es[2].ID = es[0].ID },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := SeedExperiments()
			broken[0].Title = "Edited before the collision"
			tt.mutate(broken)
			data, err := core.EncodeExperiments(broken)
			if err != nil {
				t.Fatalf("EncodeExperiments() error = %v", err)
			}
			blobs := repository.NewMemoryRepository()
			if err := blobs.WriteBlob(context.Background(), DefaultBlobName, data); err != nil {
				t.Fatalf("WriteBlob() error = %v", err)
			}
			s, _ := New(blobs, DefaultBlobName)

			got, err := s.Load(context.Background())
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			gotJSON, _ := core.EncodeExperiments(got)
			wantJSON, _ := core.EncodeExperiments(SeedExperiments())
			if !bytes.Equal(gotJSON, wantJSON) {
				t.Fatalf("Load() = %s, want the seed collection", gotJSON)
			}
			seen := map[string]bool{}
			for _, e := range got {
				if seen[e.ID] || seen["key:"+e.Key] {
					t.Fatalf("collision survived load: id %s key %s", e.ID, e.Key)
				}
				seen[e.ID], seen["key:"+e.Key] = true, true
			}
		})
	}
}

func TestLoadReturnsBackendErrors(t *testing.T) {
	blobs := &failingBlobs{readErr: errors.New("disk on fire")}
	s, _ := New(blobs, DefaultBlobName)

	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
	if blobs.writes != 0 {
		t.Fatalf("Load() wrote %d times after a read failure, want 0", blobs.writes)
	}
}

func TestSaveAllOfLoadIsFixedPoint(t *testing.T) {
	s, blobs := newLoadedStore(t)
	before, _ := blobs.ReadBlob(context.Background(), DefaultBlobName)

	reloaded, err := New(blobs, DefaultBlobName)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	loaded, err := reloaded.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := reloaded.SaveAll(context.Background(), loaded); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}

	after, _ := blobs.ReadBlob(context.Background(), DefaultBlobName)
	if !bytes.Equal(before, after) {
		t.Fatalf("SaveAll(Load()) changed the blob:\n%s\n%s", before, after)
	}
	if !reflect.DeepEqual(s.List(), reloaded.List()) {
		t.Fatal("reloaded collection differs from original")
	}
}

func TestSaveAllFailureKeepsMemory(t *testing.T) {
	blobs := &failingBlobs{readErr: repository.ErrBlobNotFound}
	s, _ := New(blobs, DefaultBlobName)
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	blobs.writeErr = errors.New("read-only filesystem")
	if err := s.SaveAll(context.Background(), nil); err == nil {
		t.Fatal("SaveAll() error = nil, want error")
	}
	if len(s.List()) != 3 {
		t.Fatalf("List() len = %d after failed save, want 3", len(s.List()))
	}
}

func TestUpsertAndRemove(t *testing.T) {
	s, _ := newLoadedStore(t)
	ctx := context.Background()

	e, err := core.NewExperiment(core.Definition{
		Title:      "Welcome Email",
		Key:        "welcome_email",
		Variations: []string{"Short", "Long"},
	}, "Ada", "new-1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("NewExperiment() error = %v", err)
	}
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert() insert error = %v", err)
	}
	if len(s.List()) != 4 {
		t.Fatalf("List() len = %d, want 4", len(s.List()))
	}

	mustSet := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("SetTitle() error = %v", err)
		}
	}
	mustSet(e.SetTitle("Welcome Email v2"))
	if err := s.Upsert(ctx, e); err != nil {
		t.Fatalf("Upsert() update error = %v", err)
	}
	got, err := s.Get("new-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "Welcome Email v2" {
		t.Fatalf("Title = %q after update", got.Title)
	}

	invalid := got.Clone()
	invalid.Variations = invalid.Variations[:1]
	if err := s.Upsert(ctx, invalid); !errors.Is(err, core.ErrMinimumVariations) {
		t.Fatalf("Upsert() invalid error = %v, want ErrMinimumVariations", err)
	}

	if err := s.Remove(ctx, "new-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := s.Get("new-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after remove error = %v, want ErrNotFound", err)
	}
	if err := s.Remove(ctx, "new-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove() error = %v, want ErrNotFound", err)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	s, _ := newLoadedStore(t)

	e, err := s.Get("1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	e.Variations[0] = "mutated"

	again, _ := s.Get("1")
	if again.Variations[0] != "Control" {
		t.Fatalf("store shares memory with callers: %q", again.Variations[0])
	}
}

func TestObserverSeesLoadAndSave(t *testing.T) {
	var ops []string
	s, err := New(repository.NewMemoryRepository(), DefaultBlobName, WithObserver(func(op string, _ time.Duration, err error) {
		if err != nil {
			t.Errorf("observer got error %v for %s", err, op)
		}
		ops = append(ops, op)
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(ops, []string{"load", "save"}) {
		t.Fatalf("observed ops = %v, want [load save]", ops)
	}
}
