package models

import (
	"time"
)

// Incident outcomes. A NULL outcome in storage is treated as pending.
const (
	OutcomePending   = "pending"
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeEscalated = "escalated"
)

// Incident severities, highest first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Background job statuses. Terminal states never transition again.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// Background job types.
const (
	JobTypeExportCSV  = "export_csv"
	JobTypeExportPDF  = "export_pdf"
	JobTypeBulkUpdate = "bulk_update"
	JobTypeReanalysis = "reanalysis"
	JobTypePRCreation = "pr_creation"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// IncidentContext carries the deployment coordinates an incident was
// observed in.
type IncidentContext struct {
	Repository string `json:"repository,omitempty"`
	Namespace  string `json:"namespace,omitempty"`
	Service    string `json:"service,omitempty"`
}

// Incident is a recorded CI/CD failure with diagnosis and resolution
// metadata. Invariant: Outcome == success implies ResolvedAt is set.
type Incident struct {
	ID                  string          `json:"id"`
	UserID              string          `json:"user_id"`
	Source              string          `json:"source"`
	Severity            string          `json:"severity"`
	FailureType         string          `json:"failure_type,omitempty"`
	Outcome             string          `json:"outcome"`
	Confidence          float64         `json:"confidence"`
	ErrorLog            string          `json:"error_log,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
	StackTrace          string          `json:"stack_trace,omitempty"`
	RootCause           string          `json:"root_cause,omitempty"`
	OutcomeMessage      string          `json:"outcome_message,omitempty"`
	Context             IncidentContext `json:"context"`
	Tags                []string        `json:"tags,omitempty"`
	Embedding           []float64       `json:"-"`
	RemediationExecuted bool            `json:"remediation_executed"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	ResolvedAt          *time.Time      `json:"resolved_at,omitempty"`
	ResolutionSeconds   *int64          `json:"resolution_time_seconds,omitempty"`
}

// BackgroundJob is a status-tracked row describing asynchronous work.
// Progress is clamped to [0,100]; CompletedAt is stamped exactly when the
// status transitions to a terminal state.
type BackgroundJob struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	Type                string     `json:"type"`
	Status              string     `json:"status"`
	Progress            int        `json:"progress"`
	CurrentStep         string     `json:"current_step,omitempty"`
	Payload             string     `json:"-"`
	Result              string     `json:"result,omitempty"`
	ResultFilePath      string     `json:"result_file_path,omitempty"`
	ResultFileSize      int64      `json:"result_file_size,omitempty"`
	ResultFileMime      string     `json:"result_file_mime,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// Terminal reports whether the job reached a final status.
func (j *BackgroundJob) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Event is a calendar entry. Invariant: EndDate >= StartDate.
type Event struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Color       string    `json:"color"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventColors lists the accepted event color values.
var EventColors = []string{"blue", "green", "red", "yellow", "purple"}

// OAuthConnection links a local user to a provider account. Tokens are
// stored encrypted (chacha20poly1305, base64 of nonce||ciphertext).
type OAuthConnection struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Provider         string     `json:"provider"`
	ProviderUserID   string     `json:"provider_user_id"`
	ProviderUsername string     `json:"provider_username,omitempty"`
	AccessToken      string     `json:"-"`
	RefreshToken     string     `json:"-"`
	Scopes           []string   `json:"scopes,omitempty"`
	Active           bool       `json:"active"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// User mirrors the identity provider subject. ID is the IdP "sub" claim.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	EmailVerified bool       `json:"email_verified"`
	Role          string     `json:"role"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsAdmin reports whether the user holds the administrative role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// WorkflowRun is one execution of a CI workflow in a connected repository.
type WorkflowRun struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	RepoFullName   string     `json:"repo_full_name"`
	WorkflowName   string     `json:"workflow_name,omitempty"`
	Status         string     `json:"status"`
	Conclusion     string     `json:"conclusion,omitempty"`
	RunStartedAt   *time.Time `json:"run_started_at,omitempty"`
	RunCompletedAt *time.Time `json:"run_completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Duration returns the run duration in seconds, or 0 when either endpoint
// is missing.
func (w *WorkflowRun) Duration() float64 {
	if w.RunStartedAt == nil || w.RunCompletedAt == nil {
		return 0
	}
	return w.RunCompletedAt.Sub(*w.RunStartedAt).Seconds()
}

// RepoConnection is a repository the user wired into monitoring.
type RepoConnection struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	RepoFullName string    `json:"repo_full_name"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}
