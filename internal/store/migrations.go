package store

import (
	"database/sql"

	"github.com/cat9999aaa/moneyclaw/internal/migration"
)

var migrations = []migration.Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE identity (
					id              INTEGER PRIMARY KEY CHECK (id = 0),
					wallet_address  TEXT NOT NULL,
					creator_address TEXT NOT NULL,
					genesis_prompt  TEXT NOT NULL,
					created_at      TEXT NOT NULL
				)`,
				`CREATE TABLE sessions (
					id         TEXT PRIMARY KEY,
					started_at TEXT NOT NULL,
					ended_at   TEXT
				)`,
				`CREATE UNIQUE INDEX idx_sessions_single_open ON sessions(ended_at) WHERE ended_at IS NULL`,
				`CREATE TABLE turns (
					id                TEXT PRIMARY KEY,
					session_id        TEXT NOT NULL REFERENCES sessions(id),
					turn_index        INTEGER NOT NULL,
					tier              TEXT NOT NULL,
					model_id          TEXT NOT NULL,
					prompt_tokens     INTEGER NOT NULL DEFAULT 0,
					completion_tokens INTEGER NOT NULL DEFAULT 0,
					credit_delta      REAL NOT NULL DEFAULT 0,
					status            TEXT NOT NULL,
					error_text        TEXT NOT NULL DEFAULT '',
					created_at        TEXT NOT NULL,
					completed_at      TEXT
				)`,
				`CREATE UNIQUE INDEX idx_turns_session_index ON turns(session_id, turn_index)`,
				`CREATE TABLE tool_calls (
					id          TEXT PRIMARY KEY,
					turn_id     TEXT NOT NULL REFERENCES turns(id),
					seq         INTEGER NOT NULL,
					tool_name   TEXT NOT NULL,
					input       TEXT NOT NULL DEFAULT '',
					output      TEXT NOT NULL DEFAULT '',
					exit_code   INTEGER NOT NULL DEFAULT 0,
					started_at  TEXT NOT NULL,
					finished_at TEXT
				)`,
				`CREATE UNIQUE INDEX idx_tool_calls_turn_seq ON tool_calls(turn_id, seq)`,
				`CREATE TABLE kv (
					key        TEXT PRIMARY KEY,
					value      TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE TABLE model_registry (
					model_id           TEXT PRIMARY KEY,
					provider           TEXT NOT NULL,
					display_name       TEXT NOT NULL,
					tier_minimum       TEXT NOT NULL,
					input_cost_per_1k  REAL NOT NULL DEFAULT 0,
					output_cost_per_1k REAL NOT NULL DEFAULT 0,
					max_output_tokens  INTEGER NOT NULL DEFAULT 4096,
					context_window     INTEGER NOT NULL DEFAULT 0,
					supports_tools     INTEGER NOT NULL DEFAULT 1,
					supports_vision    INTEGER NOT NULL DEFAULT 0,
					param_style        TEXT NOT NULL,
					enabled            INTEGER NOT NULL DEFAULT 1,
					created_at         TEXT NOT NULL,
					updated_at         TEXT NOT NULL
				)`,
				`CREATE INDEX idx_model_registry_provider ON model_registry(provider)`,
				`CREATE TABLE children (
					id             TEXT PRIMARY KEY,
					name           TEXT NOT NULL,
					address        TEXT NOT NULL,
					sandbox_id     TEXT NOT NULL,
					genesis_prompt TEXT NOT NULL,
					status         TEXT NOT NULL,
					created_at     TEXT NOT NULL
				)`,
				`CREATE INDEX idx_children_status_created ON children(status, created_at)`,
				`CREATE TABLE lifecycle_events (
					id         TEXT PRIMARY KEY,
					child_id   TEXT NOT NULL REFERENCES children(id),
					transition TEXT NOT NULL,
					to_state   TEXT NOT NULL,
					ts         TEXT NOT NULL
				)`,
				`CREATE INDEX idx_lifecycle_events_child_ts ON lifecycle_events(child_id, ts)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		},
	},
}
