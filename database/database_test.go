package database

import (
	"errors"
	"path/filepath"
	"testing"

	"proof-badge-system/config"
	"proof-badge-system/models"

	"gorm.io/gorm"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestDuplicateSubmissionBadgeIsTranslated(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	first := models.BadgeRecord{UserID: "u1", SubmissionID: "s1", ChallengeID: "c1", Mode: models.ModeReserved}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	second := models.BadgeRecord{UserID: "u1", SubmissionID: "s1", ChallengeID: "c1", Mode: models.ModeReserved}
	err = db.Create(&second).Error
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("second insert error = %v, want ErrDuplicatedKey", err)
	}
}
