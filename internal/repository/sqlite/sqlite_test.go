package sqlite_test

import (
	"context"
	"testing"
	"time"

	dbpkg "github.com/cisentry/cisentry/internal/db"
	"github.com/cisentry/cisentry/internal/models"
	sqlite "github.com/cisentry/cisentry/internal/repository/sqlite"
)

func setupRepo(t *testing.T) (*sqlite.SQLiteRepo, func()) {
	t.Helper()
	ctx := context.Background()
	d, err := dbpkg.New(ctx, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}

	if err := dbpkg.Migrate(ctx, d); err != nil {
		d.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	// in-memory db with shared cache persists across connections within
	// the test; wipe tables so tests stay independent
	for _, table := range []string{"incidents", "background_jobs", "events", "oauth_connections", "users", "workflow_runs", "repo_connections"} {
		if _, err := d.Exec(ctx, "DELETE FROM "+table); err != nil {
			d.Close()
			t.Fatalf("failed to clear %s: %v", table, err)
		}
	}

	repo := sqlite.New(d, nil)
	return repo, func() { d.Close() }
}

func mustCreateIncident(t *testing.T, repo *sqlite.SQLiteRepo, inc *models.Incident) string {
	t.Helper()
	id, err := repo.CreateIncident(context.Background(), inc)
	if err != nil {
		t.Fatalf("CreateIncident error: %v", err)
	}
	return id
}

func timePtr(t time.Time) *time.Time { return &t }

func sqliteDecodeCursor(cursor string) (int, error) {
	return sqlite.DecodePageCursor(cursor)
}
