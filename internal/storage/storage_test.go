package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

func openTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	raw, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		t.Fatalf("wrap db: %v", err)
	}
	s, err := NewSQLiteStorageFromDB(context.Background(), db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func testState() *eitypes.FullState {
	return &eitypes.FullState{
		Version:  eitypes.CurrentBlobVersion,
		Personas: map[string]eitypes.PersonaEntity{},
		Messages: map[string][]eitypes.Message{},
	}
}

func TestBackendsRoundTripState(t *testing.T) {
	backends := map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": openTestSQLite(t),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			loaded, err := backend.Load(ctx)
			if err != nil {
				t.Fatalf("load empty: %v", err)
			}
			if loaded != nil {
				t.Fatalf("expected nil state before first save, got %+v", loaded)
			}

			state := testState()
			state.Human.Settings.CeremonyTimezone = "America/New_York"
			if err := backend.Save(ctx, state); err != nil {
				t.Fatalf("save: %v", err)
			}

			loaded, err = backend.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded == nil || loaded.Human.Settings.CeremonyTimezone != "America/New_York" {
				t.Fatalf("got %+v, want round-tripped timezone", loaded)
			}
		})
	}
}

func TestBackendsCheckpointCRUD(t *testing.T) {
	backends := map[string]Storage{
		"memory": NewMemoryStorage(),
		"sqlite": openTestSQLite(t),
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			meta := eitypes.CheckpointMeta{
				ID:        "cp-1",
				Slot:      0,
				Name:      "auto",
				Kind:      eitypes.CheckpointAuto,
				CreatedAt: time.UnixMilli(1700000000000),
			}
			blob := []byte(`{"version":1}`)

			if err := backend.PutCheckpoint(ctx, meta, blob); err != nil {
				t.Fatalf("put: %v", err)
			}

			list, err := backend.ListCheckpoints(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 || list[0].ID != "cp-1" {
				t.Fatalf("got %+v, want one checkpoint cp-1", list)
			}

			gotMeta, gotBlob, err := backend.GetCheckpoint(ctx, "cp-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if gotMeta.Name != "auto" || string(gotBlob) != string(blob) {
				t.Fatalf("got %+v %q, want matching meta/blob", gotMeta, gotBlob)
			}

			if err := backend.DeleteCheckpoint(ctx, "cp-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}

			if _, _, err := backend.GetCheckpoint(ctx, "cp-1"); !eierrors.IsNotFound(err) {
				t.Fatalf("got %v, want NotFoundError after delete", err)
			}

			if err := backend.DeleteCheckpoint(ctx, "does-not-exist"); !eierrors.IsNotFound(err) {
				t.Fatalf("got %v, want NotFoundError for unknown id", err)
			}
		})
	}
}
