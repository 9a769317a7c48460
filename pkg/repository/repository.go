package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cisentry/cisentry/internal/models"
)

// Repository interfaces for domain entities. These are the public contracts
// consumers should depend on; concrete implementations live under internal/.

// Sentinel errors shared across repositories.
var (
	// ErrNotFound covers both genuinely missing rows and cross-owner
	// access attempts, so existence never leaks to the caller.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for job state changes the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DataError wraps a failed persistence operation after rollback.
type DataError struct {
	Op  string
	Err error
}

func (e *DataError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *DataError) Unwrap() error { return e.Err }

// OwnerScope restricts queries to a single user unless Admin is set.
type OwnerScope struct {
	UserID string
	Admin  bool
}

// Page is offset pagination. Size is bounded by the caller.
type Page struct {
	Limit  int
	Offset int
}

// IncidentFilters are ANDed; nil/zero fields are ignored.
type IncidentFilters struct {
	Source        string
	Severity      string
	Outcome       string
	FailureType   string
	UserID        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// Search matches case-insensitively against error log, error message
	// and root cause.
	Search        string
	MinConfidence *float64
	MaxConfidence *float64
	Repository    string
	Namespace     string
	Service       string
}

// SearchCriteria drives AdvancedSearch. Multi-value fields are ORed within
// the field and ANDed across fields.
type SearchCriteria struct {
	Sources       []string
	Severities    []string
	Outcomes      []string
	FailureTypes  []string
	Tags          []string
	Repository    string
	MinConfidence *float64
	MaxConfidence *float64
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	FreeText      string
	SortBy        string
	SortDesc      bool
	Page          int
	PageSize      int
}

// SearchResult carries one page of advanced-search output with opaque
// cursors for forward/backward navigation.
type SearchResult struct {
	Incidents      []models.Incident
	Total          int64
	Page           int
	PageSize       int
	TotalPages     int
	HasNext        bool
	HasPrevious    bool
	NextCursor     *string
	PreviousCursor *string
}

// IncidentStats is the aggregate view over a (scoped, optionally
// date-bounded) incident set.
type IncidentStats struct {
	Total              int64            `json:"total"`
	Successes          int64            `json:"successes"`
	Pending            int64            `json:"pending"`
	Failed             int64            `json:"failed"`
	Escalated          int64            `json:"escalated"`
	SuccessRate        float64          `json:"success_rate"`
	AvgResolutionSecs  *float64         `json:"avg_resolution_seconds,omitempty"`
	BySource           map[string]int64 `json:"by_source"`
	BySeverity         map[string]int64 `json:"by_severity"`
	ByFailureType      map[string]int64 `json:"by_failure_type"`
}

// SimilarIncident pairs a matched incident with its cosine similarity.
type SimilarIncident struct {
	Incident   models.Incident `json:"incident"`
	Similarity float64         `json:"similarity"`
}

type IncidentRepo interface {
	CreateIncident(ctx context.Context, inc *models.Incident) (string, error)
	GetIncident(ctx context.Context, scope OwnerScope, id string) (*models.Incident, error)
	UpdateIncident(ctx context.Context, scope OwnerScope, inc *models.Incident) error
	DeleteIncident(ctx context.Context, id string) error
	ListIncidents(ctx context.Context, scope OwnerScope, page Page, f IncidentFilters) ([]models.Incident, int64, error)
	IncidentStats(ctx context.Context, scope OwnerScope, after, before *time.Time) (*IncidentStats, error)
	AdvancedSearch(ctx context.Context, userID string, c SearchCriteria) (*SearchResult, error)
	SimilarIncidents(ctx context.Context, embedding []float64, limit int, minSimilarity float64, excludeID, ownerID string) ([]SimilarIncident, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float64) error
	BulkAssign(ctx context.Context, ids []string, userID string) (int64, error)
	BulkUpdateOutcome(ctx context.Context, ids []string, outcome, message string) (int64, error)
}

type JobRepo interface {
	CreateJob(ctx context.Context, j *models.BackgroundJob) (string, error)
	GetJob(ctx context.Context, userID, id string) (*models.BackgroundJob, error)
	ListJobs(ctx context.Context, userID string, page Page) ([]models.BackgroundJob, int64, error)
	FetchNextQueued(ctx context.Context) (*models.BackgroundJob, error)
	MarkProcessing(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress int, step string) error
	CompleteJob(ctx context.Context, id string, result string, filePath string, fileSize int64, mime string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	CancelJob(ctx context.Context, userID, id string) error
	DeleteJob(ctx context.Context, userID, id string) error
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

type EventRepo interface {
	CreateEvent(ctx context.Context, e *models.Event) (string, error)
	GetEvent(ctx context.Context, userID, id string) (*models.Event, error)
	ListEvents(ctx context.Context, userID string, from, to *time.Time) ([]models.Event, error)
	UpdateEvent(ctx context.Context, userID string, e *models.Event) error
	DeleteEvent(ctx context.Context, userID, id string) error
}

type UserRepo interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, u *models.User) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

type OAuthRepo interface {
	UpsertConnection(ctx context.Context, c *models.OAuthConnection) (string, error)
	GetConnection(ctx context.Context, userID, provider string) (*models.OAuthConnection, error)
	ListConnections(ctx context.Context, userID string) ([]models.OAuthConnection, error)
	DeleteConnection(ctx context.Context, userID, id string) error
	CountActiveConnections(ctx context.Context, userID string) (int64, error)
}

type WorkflowRepo interface {
	InsertRun(ctx context.Context, r *models.WorkflowRun) error
	ListRuns(ctx context.Context, userID, repoFullName string, after, before *time.Time) ([]models.WorkflowRun, error)
	CountRuns(ctx context.Context, userID string, after *time.Time) (int64, error)
	ListRepoConnections(ctx context.Context, userID string, enabledOnly bool) ([]models.RepoConnection, error)
	CreateRepoConnection(ctx context.Context, c *models.RepoConnection) (string, error)
}
