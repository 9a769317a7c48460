package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cisentry/cisentry/internal/models"
	sqlite "github.com/cisentry/cisentry/internal/repository/sqlite"
	"github.com/cisentry/cisentry/pkg/repository"
)

func mustCreateJob(t *testing.T, repo *sqlite.SQLiteRepo, j *models.BackgroundJob) string {
	t.Helper()
	id, err := repo.CreateJob(context.Background(), j)
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	return id
}

func TestJobLifecycle(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	id := mustCreateJob(t, repo, &models.BackgroundJob{
		UserID:  "user-1",
		Type:    models.JobTypeExportCSV,
		Payload: `{"format":"csv"}`,
	})

	j, err := repo.GetJob(ctx, "user-1", id)
	if err != nil {
		t.Fatalf("GetJob error: %v", err)
	}
	if j.Status != models.JobQueued {
		t.Errorf("new job must be queued, got %q", j.Status)
	}
	if j.StartedAt != nil || j.CompletedAt != nil {
		t.Error("new job must not carry started_at or completed_at")
	}

	if err := repo.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	j, _ = repo.GetJob(ctx, "user-1", id)
	if j.Status != models.JobProcessing {
		t.Errorf("expected processing, got %q", j.Status)
	}
	if j.StartedAt == nil {
		t.Error("processing must stamp started_at")
	}

	// Double transition is rejected.
	if err := repo.MarkProcessing(ctx, id); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := repo.UpdateProgress(ctx, id, 40, "rendering"); err != nil {
		t.Fatalf("UpdateProgress error: %v", err)
	}
	j, _ = repo.GetJob(ctx, "user-1", id)
	if j.Progress != 40 || j.CurrentStep != "rendering" {
		t.Errorf("progress not persisted: %d %q", j.Progress, j.CurrentStep)
	}

	if err := repo.CompleteJob(ctx, id, "45 incidents exported", "/tmp/export.csv", 1024, "text/csv"); err != nil {
		t.Fatalf("CompleteJob error: %v", err)
	}
	j, _ = repo.GetJob(ctx, "user-1", id)
	if j.Status != models.JobCompleted {
		t.Errorf("expected completed, got %q", j.Status)
	}
	if j.Progress != 100 {
		t.Errorf("completion must force progress to 100, got %d", j.Progress)
	}
	if j.CompletedAt == nil {
		t.Error("completion must stamp completed_at")
	}
	if j.ResultFilePath != "/tmp/export.csv" || j.ResultFileSize != 1024 || j.ResultFileMime != "text/csv" {
		t.Errorf("artifact fields not persisted: %+v", j)
	}
	if !j.Terminal() {
		t.Error("completed job must report terminal")
	}
}

func TestJobProgressClamping(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	id := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})

	if err := repo.UpdateProgress(ctx, id, -5, "negative"); err != nil {
		t.Fatalf("UpdateProgress error: %v", err)
	}
	j, _ := repo.GetJob(ctx, "user-1", id)
	if j.Progress != 0 {
		t.Errorf("progress -5 must clamp to 0, got %d", j.Progress)
	}

	if err := repo.UpdateProgress(ctx, id, 150, "overshoot"); err != nil {
		t.Fatalf("UpdateProgress error: %v", err)
	}
	j, _ = repo.GetJob(ctx, "user-1", id)
	if j.Progress != 100 {
		t.Errorf("progress 150 must clamp to 100, got %d", j.Progress)
	}
}

func TestJobProgressRefusedOnTerminal(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	id := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})
	if err := repo.FailJob(ctx, id, "disk full"); err != nil {
		t.Fatalf("FailJob error: %v", err)
	}

	if err := repo.UpdateProgress(ctx, id, 50, "late"); !errors.Is(err, repository.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on terminal job, got %v", err)
	}
	j, _ := repo.GetJob(ctx, "user-1", id)
	if j.Status != models.JobFailed || j.ErrorMessage != "disk full" {
		t.Errorf("failed job state wrong: %+v", j)
	}
	if j.CompletedAt == nil {
		t.Error("failure must stamp completed_at")
	}
}

func TestJobCancel(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	queued := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})
	if err := repo.CancelJob(ctx, "user-1", queued); err != nil {
		t.Fatalf("CancelJob on queued error: %v", err)
	}
	j, _ := repo.GetJob(ctx, "user-1", queued)
	if j.Status != models.JobCancelled {
		t.Errorf("expected cancelled, got %q", j.Status)
	}
	if j.CompletedAt == nil {
		t.Error("cancellation must stamp completed_at")
	}

	processing := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})
	if err := repo.MarkProcessing(ctx, processing); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	if err := repo.CancelJob(ctx, "user-1", processing); err != nil {
		t.Fatalf("CancelJob on processing error: %v", err)
	}

	// Terminal jobs and cross-owner ids both report not-found.
	done := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})
	if err := repo.CompleteJob(ctx, done, "", "", 0, ""); err != nil {
		t.Fatalf("CompleteJob error: %v", err)
	}
	if err := repo.CancelJob(ctx, "user-1", done); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("cancel of completed job: expected ErrNotFound, got %v", err)
	}
	other := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})
	if err := repo.CancelJob(ctx, "user-2", other); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("cross-owner cancel: expected ErrNotFound, got %v", err)
	}
}

func TestJobListAndOwnership(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})
	}
	theirs := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-2", Type: models.JobTypeExportPDF})

	jobs, total, err := repo.ListJobs(ctx, "user-1", repository.Page{Limit: 10})
	if err != nil {
		t.Fatalf("ListJobs error: %v", err)
	}
	if total != 3 || len(jobs) != 3 {
		t.Errorf("expected 3 jobs for user-1, got total=%d len=%d", total, len(jobs))
	}

	if _, err := repo.GetJob(ctx, "user-1", theirs); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("cross-owner get: expected ErrNotFound, got %v", err)
	}
	if err := repo.DeleteJob(ctx, "user-1", theirs); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("cross-owner delete: expected ErrNotFound, got %v", err)
	}
}

func TestFetchNextQueued(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	j, err := repo.FetchNextQueued(ctx)
	if err != nil {
		t.Fatalf("FetchNextQueued error: %v", err)
	}
	if j != nil {
		t.Errorf("empty queue must return nil, got %+v", j)
	}

	id := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeReanalysis})
	j, err = repo.FetchNextQueued(ctx)
	if err != nil {
		t.Fatalf("FetchNextQueued error: %v", err)
	}
	if j == nil || j.ID != id {
		t.Fatalf("expected job %s, got %+v", id, j)
	}
}

func TestPurgeTerminal(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	done := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})
	if err := repo.CompleteJob(ctx, done, "", "", 0, ""); err != nil {
		t.Fatalf("CompleteJob error: %v", err)
	}
	queued := mustCreateJob(t, repo, &models.BackgroundJob{UserID: "user-1", Type: models.JobTypeExportCSV})

	n, err := repo.PurgeTerminal(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminal error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged job, got %d", n)
	}
	if _, err := repo.GetJob(ctx, "user-1", queued); err != nil {
		t.Errorf("queued job must survive the purge: %v", err)
	}
	if _, err := repo.GetJob(ctx, "user-1", done); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("purged job still readable: %v", err)
	}
}
