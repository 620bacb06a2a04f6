package integrity

import (
	"context"
	"fmt"
	"os"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/filebridge/filebridge/internal/logger"
)

// ForceCheckpoint opens the store directly and issues a checkpoint-and-
// compact command. This is the last-resort path for low-memory or crash
// conditions where the regular shutdown sequence may not run to
// completion, so it deliberately bypasses the server: no migration, no
// shared state, just the database file.
//
// Calling it on a store with an empty journal (or on a missing database
// file) is a no-op, which makes redundant invocations from emergency
// handlers safe.
func ForceCheckpoint(ctx context.Context, dbPath string) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		logger.Debug("no database file, nothing to checkpoint", "db", dbPath)
		return nil
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database for checkpoint: %w", err)
	}
	defer func() {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := db.WithContext(ctx).Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error; err != nil {
		return fmt.Errorf("forced wal checkpoint failed: %w", err)
	}

	if err := db.WithContext(ctx).Exec("VACUUM;").Error; err != nil {
		return fmt.Errorf("compaction after checkpoint failed: %w", err)
	}

	// VACUUM itself journals; truncate once more so the wal ends empty.
	if err := db.WithContext(ctx).Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error; err != nil {
		return fmt.Errorf("final wal checkpoint failed: %w", err)
	}

	logger.Info("forced checkpoint completed", "db", dbPath)
	return nil
}
