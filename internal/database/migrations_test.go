package database

import (
	"path/filepath"
	"testing"

	"github.com/pulsefeed/pulse-backend/internal/notification"
	"go.uber.org/zap"
)

func TestOpenSQLiteAppliesUnreadDedupIndex(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationAddUnreadDedupIndex).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	first := notification.Notification{
		NotificationID:   "n-1",
		RecipientID:      "user-b",
		SenderID:         "user-a",
		Type:             notification.TypeLike,
		PostID:           "post-1",
		CreatedAtSeconds: 1700000000,
	}
	if err := database.Create(&first).Error; err != nil {
		testContext.Fatalf("failed to insert notification: %v", err)
	}

	duplicate := notification.Notification{
		NotificationID:   "n-2",
		RecipientID:      "user-b",
		SenderID:         "user-a",
		Type:             notification.TypeLike,
		PostID:           "post-1",
		CreatedAtSeconds: 1700000001,
	}
	if err := database.Create(&duplicate).Error; err == nil {
		testContext.Fatalf("expected unique violation for duplicate unread tuple")
	}

	if err := database.Model(&notification.Notification{}).
		Where("notification_id = ?", "n-1").
		Update("is_read", true).Error; err != nil {
		testContext.Fatalf("failed to mark read: %v", err)
	}
	if err := database.Create(&duplicate).Error; err != nil {
		testContext.Fatalf("expected insert to succeed once prior record is read: %v", err)
	}
}

func TestOpenSQLiteIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "reopen.db")

	if _, err := OpenSQLite(databasePath, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if _, err := OpenSQLite(databasePath, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reopen sqlite: %v", err)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		testContext.Fatalf("expected error for empty database path")
	}
}
