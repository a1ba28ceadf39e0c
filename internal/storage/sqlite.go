package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"

	"github.com/flare576/ei/internal/eierrors"
	"github.com/flare576/ei/internal/eitypes"
)

// blobRowID is the single row identifier for the one-row full-state table:
// there is exactly one FullState blob per database, so no scoping key is
// needed the way the teacher's ai_memory_files table scopes by
// bridge/login/agent id.
const blobRowID = 1

// SQLiteStorage is the C1 backend used outside of tests, grounded on the
// teacher's textfs.Store (pkg/textfs/store.go): a dbutil.Database wrapping
// database/sql, one table for the state blob and one for checkpoints.
type SQLiteStorage struct {
	db *dbutil.Database
}

// OpenSQLiteStorage opens (creating if necessary) a SQLite-backed Storage at
// the given path and runs its schema migration.
func OpenSQLiteStorage(ctx context.Context, path string) (*SQLiteStorage, error) {
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &eierrors.StorageError{Op: "open", Err: err}
	}
	db, err := dbutil.NewWithDB(raw, "sqlite3")
	if err != nil {
		return nil, &eierrors.StorageError{Op: "open", Err: err}
	}
	s := &SQLiteStorage{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLiteStorageFromDB wraps an already-open database, used by tests that
// want an in-memory SQLite instance without touching the filesystem.
func NewSQLiteStorageFromDB(ctx context.Context, db *dbutil.Database) (*SQLiteStorage, error) {
	s := &SQLiteStorage{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ei_full_state (
			id INTEGER PRIMARY KEY,
			blob TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS ei_checkpoints (
			id TEXT PRIMARY KEY,
			slot INTEGER NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			blob TEXT NOT NULL
		);
	`)
	if err != nil {
		return &eierrors.StorageError{Op: "migrate", Err: err}
	}
	return nil
}

// Load reads the single blob row. Atomicity at the blob level falls out of
// SQLite's own row-read guarantee: a writer's INSERT OR REPLACE is never
// observed half-written by a concurrent reader.
func (s *SQLiteStorage) Load(ctx context.Context) (*eitypes.FullState, error) {
	row := s.db.QueryRow(ctx, `SELECT blob FROM ei_full_state WHERE id=$1`, blobRowID)
	var blob string
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &eierrors.StorageError{Op: "load", Err: err}
	}
	state, err := decodeState([]byte(blob))
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *SQLiteStorage) Save(ctx context.Context, state *eitypes.FullState) error {
	data, err := encodeState(state)
	if err != nil {
		return &eierrors.StorageError{Op: "save", Err: err}
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO ei_full_state (id, blob, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET blob=excluded.blob, updated_at=excluded.updated_at`,
		blobRowID, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return &eierrors.StorageError{Op: "save", Err: err}
	}
	return nil
}

func (s *SQLiteStorage) ListCheckpoints(ctx context.Context) ([]eitypes.CheckpointMeta, error) {
	rows, err := s.db.Query(ctx, `SELECT id, slot, name, kind, created_at FROM ei_checkpoints ORDER BY slot ASC`)
	if err != nil {
		return nil, &eierrors.StorageError{Op: "list_checkpoints", Err: err}
	}
	defer rows.Close()

	var out []eitypes.CheckpointMeta
	for rows.Next() {
		var meta eitypes.CheckpointMeta
		var createdAtMs int64
		var kind string
		if err := rows.Scan(&meta.ID, &meta.Slot, &meta.Name, &kind, &createdAtMs); err != nil {
			return nil, &eierrors.StorageError{Op: "list_checkpoints", Err: err}
		}
		meta.Kind = eitypes.CheckpointKind(kind)
		meta.CreatedAt = time.UnixMilli(createdAtMs)
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, &eierrors.StorageError{Op: "list_checkpoints", Err: err}
	}
	return out, nil
}

func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, id string) (*eitypes.CheckpointMeta, []byte, error) {
	row := s.db.QueryRow(ctx, `SELECT id, slot, name, kind, created_at, blob FROM ei_checkpoints WHERE id=$1`, id)
	var meta eitypes.CheckpointMeta
	var createdAtMs int64
	var kind, blob string
	if err := row.Scan(&meta.ID, &meta.Slot, &meta.Name, &kind, &createdAtMs, &blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, &eierrors.NotFoundError{Kind: "checkpoint", ID: id}
		}
		return nil, nil, &eierrors.StorageError{Op: "get_checkpoint", Err: err}
	}
	meta.Kind = eitypes.CheckpointKind(kind)
	meta.CreatedAt = time.UnixMilli(createdAtMs)
	return &meta, []byte(blob), nil
}

func (s *SQLiteStorage) PutCheckpoint(ctx context.Context, meta eitypes.CheckpointMeta, blob []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO ei_checkpoints (id, slot, name, kind, created_at, blob) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET slot=excluded.slot, name=excluded.name, kind=excluded.kind,
		   created_at=excluded.created_at, blob=excluded.blob`,
		meta.ID, meta.Slot, meta.Name, string(meta.Kind), meta.CreatedAt.UnixMilli(), string(blob),
	)
	if err != nil {
		return &eierrors.StorageError{Op: "put_checkpoint", Err: err}
	}
	return nil
}

func (s *SQLiteStorage) DeleteCheckpoint(ctx context.Context, id string) error {
	res, err := s.db.Exec(ctx, `DELETE FROM ei_checkpoints WHERE id=$1`, id)
	if err != nil {
		return &eierrors.StorageError{Op: "delete_checkpoint", Err: err}
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return &eierrors.NotFoundError{Kind: "checkpoint", ID: id}
	}
	return nil
}
