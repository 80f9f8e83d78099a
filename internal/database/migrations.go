package database

import (
	"errors"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizePermissionLevels = "2026-10-01_normalize_permission_levels"
	migrationClearOrphanedReplies      = "2026-10-02_clear_orphaned_replies"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizePermissionLevels, apply: normalizePermissionLevels},
		{name: migrationClearOrphanedReplies, apply: clearOrphanedReplies},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Permission levels written by earlier tooling were mixed case.
func normalizePermissionLevels(db *gorm.DB) error {
	return db.Model(&store.PermissionRow{}).
		Where("level <> lower(trim(level))").
		Update("level", gorm.Expr("lower(trim(level))")).Error
}

// Replies whose parent row is missing would fail thread verification on load;
// they are detached into top-level comments.
func clearOrphanedReplies(db *gorm.DB) error {
	orphaned := "parent_id <> '' AND NOT EXISTS (" +
		"SELECT 1 FROM document_comments AS parent " +
		"WHERE parent.document_id = document_comments.document_id " +
		"AND parent.comment_id = document_comments.parent_id)"
	return db.Model(&store.CommentRow{}).
		Where(orphaned).
		Update("parent_id", "").Error
}
