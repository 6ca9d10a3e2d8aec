package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) the SQLite database backing the mail cache,
// sync watermarks and account records, and applies the schema.
func InitDB(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers during sync writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func applySchema(db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS mail_accounts (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		code       TEXT NOT NULL,
		protocol   TEXT NOT NULL,
		host       TEXT NOT NULL,
		port       INTEGER NOT NULL,
		security   TEXT NOT NULL,
		username   TEXT NOT NULL,
		secret     TEXT NOT NULL,
		is_active  INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, code)
	)`,

	`CREATE TABLE IF NOT EXISTS mail_cache (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         TEXT NOT NULL,
		account_code    TEXT NOT NULL,
		mailbox         TEXT NOT NULL,
		uid             INTEGER NOT NULL,
		message_id      TEXT NOT NULL DEFAULT '',
		from_addrs      TEXT NOT NULL DEFAULT '[]',
		to_addrs        TEXT NOT NULL DEFAULT '[]',
		cc_addrs        TEXT NOT NULL DEFAULT '[]',
		bcc_addrs       TEXT NOT NULL DEFAULT '[]',
		subject         TEXT NOT NULL,
		text_body       TEXT,
		html_body       TEXT,
		preview         TEXT NOT NULL DEFAULT '',
		date            TIMESTAMP NOT NULL,
		is_read         INTEGER NOT NULL DEFAULT 0,
		is_starred      INTEGER NOT NULL DEFAULT 0,
		has_attachments INTEGER NOT NULL DEFAULT 0,
		attachments     TEXT NOT NULL DEFAULT '[]',
		labels          TEXT NOT NULL DEFAULT '[]',
		updated_at      TIMESTAMP NOT NULL,
		UNIQUE (user_id, account_code, mailbox, uid)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_mail_cache_user_date
		ON mail_cache (user_id, date DESC)`,

	`CREATE INDEX IF NOT EXISTS idx_mail_cache_account_date
		ON mail_cache (user_id, account_code, date DESC)`,

	`CREATE TABLE IF NOT EXISTS sync_watermarks (
		user_id         TEXT NOT NULL,
		account_code    TEXT NOT NULL,
		mailbox         TEXT NOT NULL,
		last_uid        INTEGER NOT NULL DEFAULT 0,
		total_on_server INTEGER NOT NULL DEFAULT 0,
		last_synced_at  TIMESTAMP NOT NULL,
		UNIQUE (user_id, account_code, mailbox)
	)`,
}
