package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting is a key/value configuration entry persisted in the store.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Mount describes a storage mount point served by the gateway. The
// driver-specific behavior lives outside this module; the store only
// persists the mount table so it survives restarts.
type Mount struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Path      string    `gorm:"uniqueIndex;not null" json:"path"`
	Driver    string    `gorm:"not null" json:"driver"`
	Order     int       `gorm:"column:mount_order" json:"order"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllModels returns every model migrated at Open.
func AllModels() []any {
	return []any{
		&Setting{},
		&Mount{},
	}
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// GetSetting returns the setting for the given key.
func (s *Store) GetSetting(ctx context.Context, key string) (*Setting, error) {
	var setting Setting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return &setting, nil
}

// PutSetting inserts or updates a setting.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	setting := Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&setting).Error
	if err != nil {
		return fmt.Errorf("failed to put setting %q: %w", key, err)
	}
	return nil
}

// ListMounts returns all mounts ordered by their configured order.
func (s *Store) ListMounts(ctx context.Context) ([]Mount, error) {
	var mounts []Mount
	if err := s.db.WithContext(ctx).Order("mount_order asc").Find(&mounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list mounts: %w", err)
	}
	return mounts, nil
}

// CreateMount persists a new mount point.
func (s *Store) CreateMount(ctx context.Context, mount *Mount) error {
	if err := s.db.WithContext(ctx).Create(mount).Error; err != nil {
		return fmt.Errorf("failed to create mount %q: %w", mount.Path, err)
	}
	return nil
}

// DeleteMount removes a mount point by path.
func (s *Store) DeleteMount(ctx context.Context, path string) error {
	res := s.db.WithContext(ctx).Delete(&Mount{}, "path = ?", path)
	if res.Error != nil {
		return fmt.Errorf("failed to delete mount %q: %w", path, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
