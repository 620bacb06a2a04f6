package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/filebridge/filebridge/internal/logger"
)

// Store is the embedded server's persistent configuration store.
//
// It is a single SQLite database running in WAL mode, so every write
// lands in the write-ahead journal (data.db-wal) first and must be
// checkpointed back into the primary file before the host process is
// reclaimed. The integrity package watches exactly these files.
type Store struct {
	db   *gorm.DB
	path string
}

// Open opens (creating if necessary) the store at the given path.
//
// SQLite pragmas:
//   - journal_mode(WAL): concurrent readers with a single writer
//   - busy_timeout(5000): wait up to 5 seconds when the database is locked
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to run database migration: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the primary database file path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying GORM database connection.
// This is useful for advanced queries or testing.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Checkpoint merges pending journal entries into the primary file.
//
// With truncate set, the journal file is reset to zero length after the
// merge ("PRAGMA wal_checkpoint(TRUNCATE)"); otherwise a passive
// checkpoint is issued which never blocks writers.
func (s *Store) Checkpoint(ctx context.Context, truncate bool) error {
	mode := "PASSIVE"
	if truncate {
		mode = "TRUNCATE"
	}
	if err := s.db.WithContext(ctx).Exec("PRAGMA wal_checkpoint(" + mode + ");").Error; err != nil {
		return fmt.Errorf("wal checkpoint (%s) failed: %w", mode, err)
	}
	return nil
}

// Compact reclaims free pages in the primary file.
func (s *Store) Compact(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("VACUUM;").Error; err != nil {
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// Close checkpoints the journal and closes the database connection.
// A truncating checkpoint on close keeps the journal empty across clean
// shutdowns, which is what the post-shutdown verifier expects to find.
func (s *Store) Close() error {
	ctx := context.Background()
	if err := s.Checkpoint(ctx, true); err != nil {
		// Close anyway; the verifier will pick up the leftover journal.
		logger.Warn("checkpoint on close failed", "error", err)
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
