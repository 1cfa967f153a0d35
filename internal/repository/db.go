package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" database/sql driver
	_ "modernc.org/sqlite"             // "sqlite" database/sql driver
)

// Config holds database connection settings. DSNs with a postgres scheme use
// pgx; everything else is opened as a local SQLite file.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
}

// DB wraps the sql pool with its dialect so repositories can share one set
// of hand-written statements across both drivers.
type DB struct {
	*sql.DB
	postgres bool
}

// Open connects, applies pool settings, pings, and runs the migration DDL.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	driver := "sqlite"
	postgres := strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://")
	if postgres {
		driver = "pgx"
	}
	logger.Info("connecting to database", "driver", driver)

	sqlDB, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{DB: sqlDB, postgres: postgres}
	if err := db.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database ready", "driver", driver)
	return db, nil
}

// Rebind converts ?-placeholders to the $n form for postgres.
func (db *DB) Rebind(query string) string {
	if !db.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func (db *DB) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			stored_filename TEXT NOT NULL,
			original_filename TEXT NOT NULL,
			file_size BIGINT NOT NULL,
			content_hash TEXT NOT NULL,
			page_count INTEGER NOT NULL,
			status TEXT NOT NULL,
			classification TEXT,
			classification_confidence DOUBLE PRECISION,
			model_used TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			processing_started_at TIMESTAMPTZ,
			processing_completed_at TIMESTAMPTZ,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS documents_content_hash ON documents (content_hash)`,
		`CREATE INDEX IF NOT EXISTS documents_status ON documents (status)`,
		`CREATE TABLE IF NOT EXISTS extracted_data (
			document_id TEXT PRIMARY KEY,
			fields_json TEXT NOT NULL,
			raw_response TEXT,
			confidence_scores TEXT NOT NULL,
			overall_confidence DOUBLE PRECISION NOT NULL,
			needs_review BOOLEAN NOT NULL,
			review_notes TEXT,
			parse_error BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cost_metrics (
			document_id TEXT PRIMARY KEY,
			input_tokens BIGINT NOT NULL,
			output_tokens BIGINT NOT NULL,
			model TEXT NOT NULL,
			estimated_cost DOUBLE PRECISION NOT NULL,
			used_batch_api BOOLEAN NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			document_count INTEGER NOT NULL,
			use_batch_api BOOLEAN NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the pool.
func (db *DB) Close(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.DB.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
		return
	}
	logger.Info("database connections closed")
}
