package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cisentry/cisentry/internal/models"
)

// CSVHeader is the fixed column schema of incident exports.
var CSVHeader = []string{
	"incident_id", "timestamp", "source", "severity", "failure_type",
	"error_message", "root_cause", "confidence", "outcome", "outcome_message",
	"resolution_time_seconds", "remediation_executed", "created_at",
	"resolved_at", "repository", "namespace", "service",
}

// Field bounds keep huge error dumps out of spreadsheet cells.
const (
	maxErrorMessageLen = 500
	maxRootCauseLen    = 500
)

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func csvRecord(inc *models.Incident) []string {
	resolvedAt := ""
	if inc.ResolvedAt != nil {
		resolvedAt = inc.ResolvedAt.UTC().Format(time.RFC3339)
	}
	resolution := ""
	if inc.ResolutionSeconds != nil {
		resolution = strconv.FormatInt(*inc.ResolutionSeconds, 10)
	}
	return []string{
		inc.ID,
		inc.CreatedAt.UTC().Format(time.RFC3339),
		inc.Source,
		inc.Severity,
		inc.FailureType,
		truncate(inc.ErrorMessage, maxErrorMessageLen),
		truncate(inc.RootCause, maxRootCauseLen),
		strconv.FormatFloat(inc.Confidence, 'f', 2, 64),
		inc.Outcome,
		inc.OutcomeMessage,
		resolution,
		strconv.FormatBool(inc.RemediationExecuted),
		inc.CreatedAt.UTC().Format(time.RFC3339),
		resolvedAt,
		inc.Context.Repository,
		inc.Context.Namespace,
		inc.Context.Service,
	}
}

// WriteCSVString renders incidents to an in-memory CSV document.
func WriteCSVString(incidents []models.Incident) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(CSVHeader); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for i := range incidents {
		if err := w.Write(csvRecord(&incidents[i])); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// WriteCSVFile renders incidents to path and returns the file size.
func WriteCSVFile(incidents []models.Incident, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for i := range incidents {
		if err := w.Write(csvRecord(&incidents[i])); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
