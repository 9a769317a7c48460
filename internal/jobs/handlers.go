package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/cisentry/cisentry/internal/export"
	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

// Embedder is the slice of the embedding client the reanalysis handler
// needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Handlers wires job types to their implementations.
type Handlers struct {
	incidents repository.IncidentRepo
	jobs      repository.JobRepo
	embedder  Embedder
	exportDir string
	logger    *slog.Logger
}

func NewHandlers(incidents repository.IncidentRepo, jobRepo repository.JobRepo, emb Embedder, exportDir string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{incidents: incidents, jobs: jobRepo, embedder: emb, exportDir: exportDir, logger: logger}
}

// Map returns the handler table for the worker pool.
func (h *Handlers) Map() map[string]Handler {
	return map[string]Handler{
		models.JobTypeExportCSV:  h.handleExport,
		models.JobTypeExportPDF:  h.handleExport,
		models.JobTypeBulkUpdate: h.handleBulkUpdate,
		models.JobTypeReanalysis: h.handleReanalysis,
	}
}

func (h *Handlers) handleExport(ctx context.Context, j *models.BackgroundJob) error {
	var p ExportPayload
	if err := json.Unmarshal([]byte(j.Payload), &p); err != nil {
		return fmt.Errorf("decode export payload: %w", err)
	}

	if err := h.jobs.UpdateProgress(ctx, j.ID, 10, "loading incidents"); err != nil {
		return err
	}

	filters := repository.IncidentFilters{Source: p.Source, Severity: p.Severity, Outcome: p.Outcome}
	if p.DatePreset != "" {
		start, end := repository.DateRangeFromPreset(p.DatePreset, time.Now())
		filters.CreatedAfter = &start
		filters.CreatedBefore = &end
	}
	incidents, _, err := h.incidents.ListIncidents(ctx, repository.OwnerScope{UserID: j.UserID},
		repository.Page{Limit: 100000}, filters)
	if err != nil {
		return fmt.Errorf("load incidents: %w", err)
	}

	if err := h.jobs.UpdateProgress(ctx, j.ID, 60, "rendering"); err != nil {
		return err
	}
	if err := os.MkdirAll(h.exportDir, 0o755); err != nil {
		return fmt.Errorf("ensure export dir: %w", err)
	}

	var (
		path string
		size int64
		mime string
	)
	switch j.Type {
	case models.JobTypeExportCSV:
		path = filepath.Join(h.exportDir, "incidents_"+j.ID+".csv")
		mime = "text/csv"
		size, err = export.WriteCSVFile(incidents, path)
	case models.JobTypeExportPDF:
		path = filepath.Join(h.exportDir, "incidents_"+j.ID+".pdf")
		mime = "application/pdf"
		size, err = export.WritePDFFile(incidents, path)
	default:
		return fmt.Errorf("unexpected export type %q", j.Type)
	}
	if err != nil {
		return err
	}

	result, _ := json.Marshal(map[string]any{"incident_count": len(incidents)})
	return h.jobs.CompleteJob(ctx, j.ID, string(result), path, size, mime)
}

func (h *Handlers) handleBulkUpdate(ctx context.Context, j *models.BackgroundJob) error {
	var p BulkUpdatePayload
	if err := json.Unmarshal([]byte(j.Payload), &p); err != nil {
		return fmt.Errorf("decode bulk update payload: %w", err)
	}

	if err := h.jobs.UpdateProgress(ctx, j.ID, 20, "applying outcome"); err != nil {
		return err
	}
	n, err := h.incidents.BulkUpdateOutcome(ctx, p.IDs, p.Outcome, p.Message)
	if err != nil {
		return err
	}

	result, _ := json.Marshal(map[string]any{"affected": n})
	return h.jobs.CompleteJob(ctx, j.ID, string(result), "", 0, "")
}

func (h *Handlers) handleReanalysis(ctx context.Context, j *models.BackgroundJob) error {
	if h.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}
	var p ReanalysisPayload
	if err := json.Unmarshal([]byte(j.Payload), &p); err != nil {
		return fmt.Errorf("decode reanalysis payload: %w", err)
	}

	inc, err := h.incidents.GetIncident(ctx, repository.OwnerScope{UserID: j.UserID}, p.IncidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}

	if err := h.jobs.UpdateProgress(ctx, j.ID, 30, "computing embedding"); err != nil {
		return err
	}
	text := embeddingText(inc)
	vec, err := h.embedder.Embed(ctx, text)
	if err != nil {
		return err
	}
	if err := h.incidents.UpdateEmbedding(ctx, inc.ID, vec); err != nil {
		return err
	}

	result, _ := json.Marshal(map[string]any{"dimensions": len(vec)})
	return h.jobs.CompleteJob(ctx, j.ID, string(result), "", 0, "")
}

// embeddingText flattens the diagnostic fields into the text the embedding
// is computed over.
func embeddingText(inc *models.Incident) string {
	parts := []string{inc.ErrorMessage, inc.RootCause, inc.FailureType, inc.ErrorLog}
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(p)
	}
	return b.String()
}
