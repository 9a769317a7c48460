package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cisentry/cisentry/internal/config"
	"github.com/cisentry/cisentry/internal/db"
	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/internal/repository/sqlite"
)

func main() {
	ctx := context.Background()
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	database, err := db.New(ctx, cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database); err != nil {
		fmt.Fprintf(os.Stderr, "Migration runner error: %v\n", err)
		os.Exit(1)
	}

	if err := seed(ctx, sqlite.New(database, nil)); err != nil {
		fmt.Fprintf(os.Stderr, "Seed error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Database initialized successfully.")
}

// seed inserts a demo user with a few incidents so the API has something
// to show on a fresh install. Re-running is harmless: the user upsert is
// idempotent and duplicate demo incidents are acceptable in a dev db.
func seed(ctx context.Context, repo *sqlite.SQLiteRepo) error {
	demo := &models.User{
		ID:    "demo-user",
		Email: "demo@example.com",
		Name:  "Demo User",
		Role:  models.RoleAdmin,
	}
	if err := repo.UpsertUser(ctx, demo); err != nil {
		return err
	}

	incidents := []models.Incident{
		{
			UserID:       demo.ID,
			Source:       "github_actions",
			Severity:     models.SeverityHigh,
			FailureType:  "build_failure",
			Confidence:   0.92,
			ErrorMessage: "go build failed: undefined symbol",
			RootCause:    "merge dropped a file rename",
			Outcome:      models.OutcomeSuccess,
			Context:      models.IncidentContext{Repository: "acme/api", Service: "api"},
			Tags:         []string{"pr:101"},
		},
		{
			UserID:       demo.ID,
			Source:       "jenkins",
			Severity:     models.SeverityMedium,
			FailureType:  "test_failure",
			Confidence:   0.61,
			ErrorMessage: "TestCheckout flaked twice in a row",
			Context:      models.IncidentContext{Repository: "acme/web", Service: "web"},
			Tags:         []string{"flaky"},
		},
		{
			UserID:       demo.ID,
			Source:       "gitlab_ci",
			Severity:     models.SeverityCritical,
			FailureType:  "deploy_failure",
			Confidence:   0.88,
			ErrorMessage: "helm upgrade timed out",
			Context:      models.IncidentContext{Repository: "acme/api", Namespace: "prod", Service: "api"},
		},
	}
	for i := range incidents {
		if _, err := repo.CreateIncident(ctx, &incidents[i]); err != nil {
			return err
		}
	}

	if _, err := repo.CreateRepoConnection(ctx, &models.RepoConnection{
		UserID:       demo.ID,
		Provider:     "github",
		RepoFullName: "acme/api",
		Enabled:      true,
	}); err != nil {
		return err
	}

	return nil
}
