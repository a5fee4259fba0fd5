package ledger

import "database/sql"

// Schema is the complete ledger schema.
const Schema = `
-- One row per run over the configured targets
CREATE TABLE IF NOT EXISTS cycles (
    id           TEXT PRIMARY KEY,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL,
    targets      INTEGER NOT NULL DEFAULT 0,
    baseline     INTEGER NOT NULL DEFAULT 0,
    unchanged    INTEGER NOT NULL DEFAULT 0,
    changed      INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    aborted      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at DESC);

-- One row per target per cycle. Rows arrive before their cycle row.
CREATE TABLE IF NOT EXISTS target_results (
    id             TEXT PRIMARY KEY,
    cycle_id       TEXT NOT NULL,
    url            TEXT NOT NULL,
    identifier     TEXT NOT NULL,
    status         TEXT NOT NULL,
    snapshot_path  TEXT NOT NULL DEFAULT '',
    previous_path  TEXT NOT NULL DEFAULT '',
    diff_path      TEXT NOT NULL DEFAULT '',
    diff_pixels    INTEGER NOT NULL DEFAULT 0,
    total_pixels   INTEGER NOT NULL DEFAULT 0,
    error_kind     TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    checked_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_cycle ON target_results(cycle_id);
CREATE INDEX IF NOT EXISTS idx_results_identifier ON target_results(identifier, checked_at DESC);
`

// ApplySchema creates all tables and indexes.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
