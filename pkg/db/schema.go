package db

import (
	"database/sql"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS account_credentials (
    account_id TEXT PRIMARY KEY,
    api_key_encrypted TEXT NOT NULL,
    api_secret_encrypted TEXT NOT NULL,
    key_version INTEGER NOT NULL DEFAULT 1,
    testnet INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    commission REAL NOT NULL DEFAULT 0,
    strategy_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    related_trade_id INTEGER,
    profit REAL NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, id);

CREATE TABLE IF NOT EXISTS trade_pairs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    entry_trade_id INTEGER NOT NULL,
    exit_trade_id INTEGER NOT NULL,
    profit REAL NOT NULL,
    profit_percent REAL NOT NULL,
    entry_time DATETIME NOT NULL,
    exit_time DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_pairs_account ON trade_pairs(account_id, id);

CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    strategy_id TEXT NOT NULL,
    amount REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    started_at DATETIME NOT NULL,
    stopped_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_active ON runs(status, account_id);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Idempotent column additions for older DB files.
	if err := ensureColumn(d.DB, "runs", "instance_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "order_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "take_profit", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "stop_loss", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	return ensureSingleActiveRun(d.DB)
}

// ensureSingleActiveRun keeps at most one active run per (account, strategy).
// Older files may hold duplicates; all but the newest are stopped before the
// partial unique index is created.
func ensureSingleActiveRun(db *sql.DB) error {
	_, err := db.Exec(`
		UPDATE runs SET status = ?, stopped_at = ?
		WHERE status = ? AND id NOT IN (
			SELECT MAX(id) FROM runs WHERE status = ? GROUP BY account_id, strategy_id
		)
	`, RunStopped, time.Now().UTC(), RunActive, RunActive)
	if err != nil {
		return fmt.Errorf("stop duplicate active runs: %w", err)
	}
	if _, err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_one_active
		ON runs(account_id, strategy_id) WHERE status = 'active'`); err != nil {
		return fmt.Errorf("create idx_runs_one_active: %w", err)
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
