package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qri-io/jsonschema"

	"github.com/cisentry/cisentry/internal/models"
)

// Per-type payload schemas, validated at enqueue so workers never see a
// malformed payload.
var payloadSchemas = map[string]string{
	models.JobTypeExportCSV: exportSchema,
	models.JobTypeExportPDF: exportSchema,
	models.JobTypeBulkUpdate: `{
		"type": "object",
		"required": ["ids", "outcome"],
		"properties": {
			"ids": {"type": "array", "items": {"type": "string"}, "minItems": 1},
			"outcome": {"type": "string", "enum": ["pending", "success", "failed", "escalated"]},
			"message": {"type": "string"}
		}
	}`,
	models.JobTypeReanalysis: `{
		"type": "object",
		"required": ["incident_id"],
		"properties": {
			"incident_id": {"type": "string", "minLength": 1}
		}
	}`,
}

const exportSchema = `{
	"type": "object",
	"properties": {
		"source": {"type": "string"},
		"severity": {"type": "string"},
		"outcome": {"type": "string"},
		"date_preset": {"type": "string"}
	}
}`

// ExportPayload narrows which incidents an export job covers.
type ExportPayload struct {
	Source     string `json:"source,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	DatePreset string `json:"date_preset,omitempty"`
}

// BulkUpdatePayload applies one outcome to a set of incidents.
type BulkUpdatePayload struct {
	IDs     []string `json:"ids"`
	Outcome string   `json:"outcome"`
	Message string   `json:"message,omitempty"`
}

// ReanalysisPayload names the incident whose embedding gets recomputed.
type ReanalysisPayload struct {
	IncidentID string `json:"incident_id"`
}

// ValidatePayload checks a job payload against the schema for its type.
func ValidatePayload(ctx context.Context, jobType string, payload []byte) error {
	schemaJSON, ok := payloadSchemas[jobType]
	if !ok {
		return fmt.Errorf("no payload schema for job type %q", jobType)
	}
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal([]byte(schemaJSON), rs); err != nil {
		return fmt.Errorf("parse payload schema for %s: %w", jobType, err)
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	errs, err := rs.ValidateBytes(ctx, payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid payload: %s", errs[0].Error())
	}
	return nil
}
