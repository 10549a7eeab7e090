package users

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestUpsertCreatesProfile(t *testing.T) {
	service := newTestService(t)

	profile, err := service.Upsert(context.Background(), ProfileInput{
		UserID:    "user-1",
		Username:  "alice",
		AvatarURL: "https://example.com/alice.png",
	})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if profile.Username != "alice" {
		t.Fatalf("expected username alice, got %q", profile.Username)
	}
}

func TestUpsertDefaultsUsernameToUserID(t *testing.T) {
	service := newTestService(t)

	profile, err := service.Upsert(context.Background(), ProfileInput{UserID: "user-2"})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if profile.Username != "user-2" {
		t.Fatalf("expected username to default to user id, got %q", profile.Username)
	}
}

func TestUpsertRefreshesNonEmptyFields(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Upsert(context.Background(), ProfileInput{UserID: "user-3", Username: "old-name"}); err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	updated, err := service.Upsert(context.Background(), ProfileInput{UserID: "user-3", Username: "new-name"})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if updated.Username != "new-name" {
		t.Fatalf("expected refreshed username, got %q", updated.Username)
	}

	unchanged, err := service.Upsert(context.Background(), ProfileInput{UserID: "user-3"})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if unchanged.Username != "new-name" {
		t.Fatalf("empty input must not clear existing fields, got %q", unchanged.Username)
	}
}

func TestUpsertRejectsEmptyUserID(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Upsert(context.Background(), ProfileInput{UserID: "  "}); !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("expected invalid profile error, got %v", err)
	}
}

func TestGetUnknownProfileReportsNotFound(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestProfilesByIDSkipsUnknownUsers(t *testing.T) {
	service := newTestService(t)

	for _, userID := range []string{"user-a", "user-b"} {
		if _, err := service.Upsert(context.Background(), ProfileInput{UserID: userID}); err != nil {
			t.Fatalf("unexpected upsert error: %v", err)
		}
	}

	resolved, err := service.ProfilesByID(context.Background(), []string{"user-a", "user-b", "user-ghost"})
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected 2 resolved profiles, got %d", len(resolved))
	}
	if _, ok := resolved["user-ghost"]; ok {
		t.Fatal("unknown user must not appear in resolution")
	}
}
