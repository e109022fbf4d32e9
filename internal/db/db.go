package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_id TEXT NOT NULL,
			hostname TEXT NOT NULL,
			ts DATETIME NOT NULL,
			cpu_percent REAL NOT NULL,
			memory_percent REAL NOT NULL,
			disk_percent REAL NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			architecture TEXT NOT NULL DEFAULT '',
			process_count INTEGER,
			uptime_seconds REAL,
			received_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS thresholds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			limit_value REAL NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(host_id, metric)
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			observed_value REAL NOT NULL,
			limit_value REAL NOT NULL,
			ts DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'sent'
		);`,
		`CREATE TABLE IF NOT EXISTS notification_config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL UNIQUE,
			config TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS notification_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id INTEGER NOT NULL,
			channel TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT,
			sent_ts_nullable DATETIME,
			FOREIGN KEY(alert_id) REFERENCES alerts(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_host_ts ON samples(host_id, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_samples_ts ON samples(ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_host_metric_ts ON alerts(host_id, metric, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status_ts ON alerts(status, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
