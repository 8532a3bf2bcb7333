package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/usenetsync/usenetsync/internal/logger"
	"github.com/usenetsync/usenetsync/pkg/crypto"
	"github.com/usenetsync/usenetsync/pkg/models"
)

// Migration is one numbered schema change. Migrations run in version order
// exactly once and their outcome is recorded in schema_migrations. The
// checksum covers the migration's stable descriptor so a changed migration
// is detected on startup.
type Migration struct {
	Version  int
	Name     string
	Describe string // stable description of the change, checksummed
	Run      func(tx *gorm.DB) error
}

// migrations is the ordered list of schema changes. Append only; never
// reorder or edit a released entry.
var migrations = []Migration{
	{
		Version:  1,
		Name:     "initial_schema",
		Describe: "auto-migrate all engine models",
		Run: func(tx *gorm.DB) error {
			return tx.AutoMigrate(models.AllModels()...)
		},
	},
}

// Migrate applies all pending migrations in order. A recorded non-successful
// migration blocks further application until the row is resolved.
func (s *GORMStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to prepare schema_migrations: %w", err)
	}

	var applied []models.SchemaMigration
	if err := s.db.WithContext(ctx).Order("version").Find(&applied).Error; err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}

	appliedByVersion := make(map[int]models.SchemaMigration, len(applied))
	for _, m := range applied {
		if !m.Success {
			return fmt.Errorf("%w: migration %d (%s) previously failed, resolve before continuing",
				models.ErrMigrationFailed, m.Version, m.Name)
		}
		appliedByVersion[m.Version] = m
	}

	for _, m := range migrations {
		checksum := migrationChecksum(m)

		if prev, ok := appliedByVersion[m.Version]; ok {
			if prev.Checksum != checksum {
				return fmt.Errorf("%w: migration %d (%s) checksum changed after application",
					models.ErrMigrationFailed, m.Version, m.Name)
			}
			continue
		}

		start := time.Now()
		runErr := s.db.WithContext(ctx).Transaction(m.Run)

		record := models.SchemaMigration{
			Version:     m.Version,
			Name:        m.Name,
			Checksum:    checksum,
			ExecutionMs: time.Since(start).Milliseconds(),
			Success:     runErr == nil,
		}
		if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if runErr != nil {
			return fmt.Errorf("%w: migration %d (%s): %v",
				models.ErrMigrationFailed, m.Version, m.Name, runErr)
		}

		logger.Info("applied schema migration",
			"version", m.Version,
			"name", m.Name,
			logger.DurationMs(float64(record.ExecutionMs)))
	}

	return nil
}

// MigrationStatus returns the recorded migration rows in version order.
func (s *GORMStore) MigrationStatus(ctx context.Context) ([]*models.SchemaMigration, error) {
	return listAll[models.SchemaMigration](s.db, ctx, "version")
}

func migrationChecksum(m Migration) string {
	return crypto.HashBytes([]byte(fmt.Sprintf("%d|%s|%s", m.Version, m.Name, m.Describe)))
}
