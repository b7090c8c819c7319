package vectorsource

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CurrentSchemaVersion tracks the database schema version.
const CurrentSchemaVersion = "1.0.0"

// Migration is a single forward step in the Vector Source's schema.
type Migration struct {
	Version string
	Up      string
}

// AllMigrations lists every migration in order. There is one today; the
// slice exists so a schema change never has to touch ApplyMigrations.
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    line_count INTEGER NOT NULL,
    content TEXT NOT NULL,
    blob_id TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
CREATE INDEX IF NOT EXISTS idx_chunks_blob ON chunks(blob_id);

CREATE TABLE IF NOT EXISTS embeddings (
    chunk_id TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    content_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_embeddings_hash ON embeddings(content_hash);
`

// ApplyMigrations brings db up to CurrentSchemaVersion, skipping versions
// already recorded in schema_version.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	var currentVersionStr string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersionStr)

	var current *semver.Version
	switch {
	case err == sql.ErrNoRows || err != nil:
		current = semver.MustParse("0.0.0")
	default:
		current, err = semver.NewVersion(currentVersionStr)
		if err != nil {
			return fmt.Errorf("invalid current schema version %s: %w", currentVersionStr, err)
		}
	}

	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		if _, err := db.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}
		current = v
	}

	return nil
}
