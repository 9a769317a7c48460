package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

func TestUpsertUserKeepsRole(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	u := &models.User{ID: "sub-1", Email: "dev@example.com", Name: "Dev", Role: models.RoleAdmin}
	if err := repo.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}

	got, err := repo.GetUser(ctx, "sub-1")
	if err != nil {
		t.Fatalf("GetUser error: %v", err)
	}
	if got.Role != models.RoleAdmin {
		t.Errorf("role not stored on insert, got %q", got.Role)
	}

	// Re-authentication upserts with default claims: role survives,
	// profile fields re-sync.
	if err := repo.UpsertUser(ctx, &models.User{ID: "sub-1", Email: "new@example.com", Name: "Dev Renamed"}); err != nil {
		t.Fatalf("second upsert error: %v", err)
	}
	got, _ = repo.GetUser(ctx, "sub-1")
	if got.Role != models.RoleAdmin {
		t.Errorf("upsert must not overwrite role, got %q", got.Role)
	}
	if got.Email != "new@example.com" || got.Name != "Dev Renamed" {
		t.Errorf("profile fields not re-synced: %+v", got)
	}
	if !got.IsAdmin() {
		t.Error("IsAdmin should report true for admin role")
	}
}

func TestTouchLastLogin(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	if err := repo.UpsertUser(ctx, &models.User{ID: "sub-1", Email: "dev@example.com"}); err != nil {
		t.Fatalf("UpsertUser error: %v", err)
	}
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.TouchLastLogin(ctx, "sub-1", at); err != nil {
		t.Fatalf("TouchLastLogin error: %v", err)
	}
	got, _ := repo.GetUser(ctx, "sub-1")
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(at) {
		t.Errorf("last login not recorded: %v", got.LastLoginAt)
	}
}

func TestGetUserMissing(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()

	if _, err := repo.GetUser(context.Background(), "nobody"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
