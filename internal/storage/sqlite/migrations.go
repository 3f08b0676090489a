package sqlite

import "database/sql"

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS executions (
    id             TEXT PRIMARY KEY,
    language       TEXT NOT NULL DEFAULT '',
    outcome        TEXT NOT NULL
                   CHECK(outcome IN ('completed','failed','timeout','error')),
    exit_code      INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    code_bytes     INTEGER NOT NULL DEFAULT 0,
    enable_network INTEGER NOT NULL DEFAULT 0,
    created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_outcome ON executions(outcome);
CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at DESC);
`

func runMigrations(db *sql.DB) error {
	var current int
	row := db.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&current); err != nil {
		// Table doesn't exist or is empty
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	if current < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return err
		}
	}

	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, schemaVersion)
	return err
}
