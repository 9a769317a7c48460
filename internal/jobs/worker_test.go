package jobs

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"log/slog"

	"go.uber.org/goleak"

	dbpkg "github.com/cisentry/cisentry/internal/db"
	"github.com/cisentry/cisentry/internal/models"
	sqlite "github.com/cisentry/cisentry/internal/repository/sqlite"
	"github.com/cisentry/cisentry/pkg/repository"
)

func setupWorkerRepo(t *testing.T) (*sqlite.SQLiteRepo, func()) {
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
	for _, table := range []string{"incidents", "background_jobs"} {
		if _, err := d.Exec(ctx, "DELETE FROM "+table); err != nil {
			d.Close()
			t.Fatalf("failed to clear %s: %v", table, err)
		}
	}
	return sqlite.New(d, nil), func() { d.Close() }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitTerminal(t *testing.T, repo *sqlite.SQLiteRepo, userID, id string) *models.BackgroundJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := repo.GetJob(context.Background(), userID, id)
		if err != nil {
			t.Fatalf("GetJob error: %v", err)
		}
		if j.Terminal() {
			return j
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return nil
}

func TestWorkerPoolRunsExportJob(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo, cleanup := setupWorkerRepo(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.CreateIncident(ctx, &models.Incident{
			UserID: "user-1", Source: "jenkins", ErrorMessage: "boom",
		}); err != nil {
			t.Fatalf("CreateIncident error: %v", err)
		}
	}

	exportDir := t.TempDir()
	handlers := NewHandlers(repo, repo, nil, exportDir, discardLogger())
	pool := NewWorkerPool(repo, handlers.Map(), discardLogger(), 2, time.Hour)

	jobID, err := repo.CreateJob(ctx, &models.BackgroundJob{
		UserID:  "user-1",
		Type:    models.JobTypeExportCSV,
		Payload: `{"source":"jenkins"}`,
	})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	pool.Start(ctx)
	j := waitTerminal(t, repo, "user-1", jobID)
	pool.Stop()

	if j.Status != models.JobCompleted {
		t.Fatalf("expected completed, got %q (%s)", j.Status, j.ErrorMessage)
	}
	if j.Progress != 100 {
		t.Errorf("expected progress 100, got %d", j.Progress)
	}
	if j.ResultFileMime != "text/csv" {
		t.Errorf("expected text/csv, got %q", j.ResultFileMime)
	}
	if !strings.HasPrefix(j.ResultFilePath, exportDir) {
		t.Errorf("artifact outside export dir: %q", j.ResultFilePath)
	}
	info, err := os.Stat(j.ResultFilePath)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if info.Size() != j.ResultFileSize {
		t.Errorf("recorded size %d, actual %d", j.ResultFileSize, info.Size())
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(j.Result), &result); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if result["incident_count"] != float64(3) {
		t.Errorf("expected incident_count 3, got %v", result["incident_count"])
	}
}

func TestWorkerPoolFailsUnknownType(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo, cleanup := setupWorkerRepo(t)
	defer cleanup()
	ctx := context.Background()

	handlers := NewHandlers(repo, repo, nil, t.TempDir(), discardLogger())
	pool := NewWorkerPool(repo, handlers.Map(), discardLogger(), 1, time.Hour)

	jobID, err := repo.CreateJob(ctx, &models.BackgroundJob{UserID: "user-1", Type: "mystery"})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}

	pool.Start(ctx)
	j := waitTerminal(t, repo, "user-1", jobID)
	pool.Stop()

	if j.Status != models.JobFailed {
		t.Fatalf("expected failed, got %q", j.Status)
	}
	if !strings.Contains(j.ErrorMessage, "no handler") {
		t.Errorf("unexpected error message: %q", j.ErrorMessage)
	}
	if j.CompletedAt == nil {
		t.Error("failure must stamp completed_at")
	}
}

func TestBulkUpdateHandler(t *testing.T) {
	repo, cleanup := setupWorkerRepo(t)
	defer cleanup()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		id, err := repo.CreateIncident(ctx, &models.Incident{UserID: "user-1", Source: "jenkins"})
		if err != nil {
			t.Fatalf("CreateIncident error: %v", err)
		}
		ids = append(ids, id)
	}

	payload, _ := json.Marshal(BulkUpdatePayload{IDs: ids, Outcome: models.OutcomeSuccess, Message: "done"})
	jobID, err := repo.CreateJob(ctx, &models.BackgroundJob{
		UserID: "user-1", Type: models.JobTypeBulkUpdate, Payload: string(payload),
	})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if err := repo.MarkProcessing(ctx, jobID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}

	handlers := NewHandlers(repo, repo, nil, t.TempDir(), discardLogger())
	job, _ := repo.GetJob(ctx, "user-1", jobID)
	if err := handlers.handleBulkUpdate(ctx, job); err != nil {
		t.Fatalf("handleBulkUpdate error: %v", err)
	}

	for _, id := range ids {
		inc, err := repo.GetIncident(ctx, repository.OwnerScope{UserID: "user-1"}, id)
		if err != nil {
			t.Fatalf("GetIncident error: %v", err)
		}
		if inc.Outcome != models.OutcomeSuccess || inc.ResolvedAt == nil {
			t.Errorf("bulk outcome not applied to %s: %+v", id, inc)
		}
	}
	j, _ := repo.GetJob(ctx, "user-1", jobID)
	if j.Status != models.JobCompleted {
		t.Errorf("expected completed, got %q", j.Status)
	}
}

type staticEmbedder struct {
	vec []float64
}

func (s *staticEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	return s.vec, nil
}

func TestReanalysisHandler(t *testing.T) {
	repo, cleanup := setupWorkerRepo(t)
	defer cleanup()
	ctx := context.Background()

	incID, err := repo.CreateIncident(ctx, &models.Incident{
		UserID: "user-1", Source: "jenkins", ErrorMessage: "oom", RootCause: "leak",
	})
	if err != nil {
		t.Fatalf("CreateIncident error: %v", err)
	}

	payload, _ := json.Marshal(ReanalysisPayload{IncidentID: incID})
	jobID, err := repo.CreateJob(ctx, &models.BackgroundJob{
		UserID: "user-1", Type: models.JobTypeReanalysis, Payload: string(payload),
	})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if err := repo.MarkProcessing(ctx, jobID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}

	handlers := NewHandlers(repo, repo, &staticEmbedder{vec: []float64{0.5, 0.5}}, t.TempDir(), discardLogger())
	job, _ := repo.GetJob(ctx, "user-1", jobID)
	if err := handlers.handleReanalysis(ctx, job); err != nil {
		t.Fatalf("handleReanalysis error: %v", err)
	}

	inc, err := repo.GetIncident(ctx, repository.OwnerScope{UserID: "user-1"}, incID)
	if err != nil {
		t.Fatalf("GetIncident error: %v", err)
	}
	if len(inc.Embedding) != 2 {
		t.Errorf("embedding not stored: %v", inc.Embedding)
	}

	// PDF export artifact path test lives with the export handler: verify
	// the pdf branch picks the right mime and suffix.
	pdfJobID, err := repo.CreateJob(ctx, &models.BackgroundJob{
		UserID: "user-1", Type: models.JobTypeExportPDF, Payload: `{}`,
	})
	if err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if err := repo.MarkProcessing(ctx, pdfJobID); err != nil {
		t.Fatalf("MarkProcessing error: %v", err)
	}
	pdfJob, _ := repo.GetJob(ctx, "user-1", pdfJobID)
	if err := handlers.handleExport(ctx, pdfJob); err != nil {
		t.Fatalf("handleExport error: %v", err)
	}
	done, _ := repo.GetJob(ctx, "user-1", pdfJobID)
	if done.ResultFileMime != "application/pdf" || filepath.Ext(done.ResultFilePath) != ".pdf" {
		t.Errorf("pdf export artifact wrong: mime=%q path=%q", done.ResultFileMime, done.ResultFilePath)
	}
}
