package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/vk/chunkforge/internal/chunk"
	"github.com/vk/chunkforge/internal/stage"
)

// SQLite stores chunk records in a single-file SQLite database. Payloads are
// zstd-compressed binary records; position and stage live in plain columns
// so the database stays inspectable with ordinary tooling.
type SQLite struct {
	db    *sql.DB
	codec *codec
}

// OpenSQLite opens (creating if needed) the chunk database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty chunk db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating chunk db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk db: %w", err)
	}
	// modernc sqlite serializes on a single connection anyway; pinning it
	// also keeps the WAL session pragmas applied to every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, codec: c}, nil
}

func initSchema(db *sql.DB) error {
	// WAL suits the write-mostly eviction flush pattern.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}
	const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	x          INTEGER NOT NULL,
	z          INTEGER NOT NULL,
	stage      INTEGER NOT NULL,
	data       BLOB    NOT NULL,
	updated_at TEXT    NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (x, z)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating chunks table: %w", err)
	}
	return nil
}

// Load implements Store. Decode and validation failures surface as
// ErrCorrupt; everything the driver reports (locked file, closed db, I/O)
// surfaces as ErrUnavailable.
func (s *SQLite) Load(ctx context.Context, pos chunk.Pos) (Record, bool, error) {
	var stg int32
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT stage, data FROM chunks WHERE x = ? AND z = ?`, pos.X, pos.Z,
	).Scan(&stg, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: loading %v: %v", ErrUnavailable, pos, err)
	}

	if !stage.Stage(stg).Valid() {
		return Record{}, false, fmt.Errorf("%w: %v has stage %d outside the pipeline", ErrCorrupt, pos, stg)
	}
	payload, err := s.codec.decode(raw)
	if err != nil {
		return Record{}, false, fmt.Errorf("decoding %v: %w", pos, err)
	}
	return Record{Stage: stage.Stage(stg), Payload: payload}, true, nil
}

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, pos chunk.Pos, rec Record) error {
	if !rec.Stage.Valid() {
		return fmt.Errorf("saving %v: stage %d outside the pipeline", pos, rec.Stage)
	}
	raw, err := s.codec.encode(rec.Payload)
	if err != nil {
		return fmt.Errorf("encoding %v: %w", pos, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO chunks (x, z, stage, data, updated_at) VALUES (?, ?, ?, ?, datetime('now'))
ON CONFLICT(x, z) DO UPDATE SET stage = excluded.stage, data = excluded.data, updated_at = excluded.updated_at`,
		pos.X, pos.Z, int32(rec.Stage), raw)
	if err != nil {
		return fmt.Errorf("%w: saving %v: %v", ErrUnavailable, pos, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
