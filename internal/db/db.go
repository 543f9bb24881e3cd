package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"anemometer-server/internal/config"
)

// Open connects to the history database and checks it is reachable. With
// cfg.LogSQL every statement is traced through logger.
func Open(cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	if cfg.LogSQL {
		if cfg.Driver != "sqlite3" {
			return nil, fmt.Errorf("DB_LOG_SQL requires the sqlite3 driver, got %q", cfg.Driver)
		}
		db = sql.OpenDB(NewTracingConnector(dsn, logger))
	} else {
		db, err = sql.Open(cfg.Driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return db, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(cfg config.Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}

	path := cfg.Path
	if dir := filepath.Dir(strings.TrimPrefix(path, "file:")); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	// WAL lets /history reads proceed while an append commits.
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}
