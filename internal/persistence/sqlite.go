package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spec-kit/checkpoint-service/internal/config"
	"github.com/spec-kit/checkpoint-service/internal/repository"
)

// SQLite wraps a single-writer database handle for the attendance table.
type SQLite struct {
	DB *sql.DB
}

// NewSQLite opens the database at cfg.Path and ensures the schema exists.
func NewSQLite(ctx context.Context, cfg config.SQLiteConfig, logger *zap.Logger) (*SQLite, error) {
	return OpenSQLite(ctx, sqliteDSN(cfg.Path), logger)
}

// OpenSQLite opens an arbitrary modernc DSN, e.g. a shared in-memory database.
func OpenSQLite(ctx context.Context, dsn string, logger *zap.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, repository.SQLiteAttendanceSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	logger.Info("opened sqlite", zap.String("dsn", dsn))
	return &SQLite{DB: db}, nil
}

func sqliteDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		path,
	)
}

// Close releases the handle.
func (s *SQLite) Close() {
	if s != nil && s.DB != nil {
		_ = s.DB.Close()
	}
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("sqlite not configured")
	}
	return s.DB.PingContext(ctx)
}
