package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cisentry/cisentry/internal/auth"
	"github.com/cisentry/cisentry/internal/jobs"
	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

type IncidentsHandler struct {
	incidents repository.IncidentRepo
	jobRepo   repository.JobRepo
}

func NewIncidentsHandler(ir repository.IncidentRepo, jr repository.JobRepo) *IncidentsHandler {
	return &IncidentsHandler{incidents: ir, jobRepo: jr}
}

type createIncidentRequest struct {
	Source       string                 `json:"source"`
	Severity     string                 `json:"severity"`
	FailureType  string                 `json:"failure_type"`
	Confidence   float64                `json:"confidence"`
	ErrorLog     string                 `json:"error_log"`
	ErrorMessage string                 `json:"error_message"`
	StackTrace   string                 `json:"stack_trace"`
	RootCause    string                 `json:"root_cause"`
	Context      models.IncidentContext `json:"context"`
	Tags         []string               `json:"tags"`
}

func (h *IncidentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Source = strings.TrimSpace(req.Source)
	if req.Source == "" {
		writeError(w, "source is required", http.StatusBadRequest)
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeError(w, "confidence must be within [0,1]", http.StatusBadRequest)
		return
	}

	user := CurrentUser(r)
	inc := &models.Incident{
		UserID:       user.ID,
		Source:       req.Source,
		Severity:     req.Severity,
		FailureType:  req.FailureType,
		Confidence:   req.Confidence,
		ErrorLog:     req.ErrorLog,
		ErrorMessage: req.ErrorMessage,
		StackTrace:   req.StackTrace,
		RootCause:    req.RootCause,
		Context:      req.Context,
		Tags:         req.Tags,
	}
	id, err := h.incidents.CreateIncident(r.Context(), inc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	inc.ID = id
	writeJSON(w, inc, http.StatusCreated)
}

func (h *IncidentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	id := mux.Vars(r)["id"]
	inc, err := h.incidents.GetIncident(r.Context(), repository.OwnerScope{UserID: user.ID, Admin: user.IsAdmin()}, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, inc, http.StatusOK)
}

type updateIncidentRequest struct {
	Severity            *string  `json:"severity"`
	FailureType         *string  `json:"failure_type"`
	Outcome             *string  `json:"outcome"`
	Confidence          *float64 `json:"confidence"`
	RootCause           *string  `json:"root_cause"`
	OutcomeMessage      *string  `json:"outcome_message"`
	Tags                []string `json:"tags"`
	RemediationExecuted *bool    `json:"remediation_executed"`
}

func (h *IncidentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}

	user := CurrentUser(r)
	scope := repository.OwnerScope{UserID: user.ID, Admin: user.IsAdmin()}
	inc, err := h.incidents.GetIncident(r.Context(), scope, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Severity != nil {
		inc.Severity = *req.Severity
	}
	if req.FailureType != nil {
		inc.FailureType = *req.FailureType
	}
	if req.Outcome != nil {
		if !validOutcome(*req.Outcome) {
			writeError(w, "invalid outcome", http.StatusBadRequest)
			return
		}
		inc.Outcome = *req.Outcome
	}
	if req.Confidence != nil {
		if *req.Confidence < 0 || *req.Confidence > 1 {
			writeError(w, "confidence must be within [0,1]", http.StatusBadRequest)
			return
		}
		inc.Confidence = *req.Confidence
	}
	if req.RootCause != nil {
		inc.RootCause = *req.RootCause
	}
	if req.OutcomeMessage != nil {
		inc.OutcomeMessage = *req.OutcomeMessage
	}
	if req.Tags != nil {
		inc.Tags = req.Tags
	}
	if req.RemediationExecuted != nil {
		inc.RemediationExecuted = *req.RemediationExecuted
	}

	if err := h.incidents.UpdateIncident(r.Context(), scope, inc); err != nil {
		writeDomainError(w, err)
		return
	}
	updated, err := h.incidents.GetIncident(r.Context(), scope, inc.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated, http.StatusOK)
}

// Delete is admin-only; routing enforces authentication, this enforces
// the role.
func (h *IncidentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireAdmin(CurrentUser(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.incidents.DeleteIncident(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IncidentsHandler) List(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	q := r.URL.Query()

	page := repository.Page{Limit: 50}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		page.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		page.Offset = v
	}

	filters := repository.IncidentFilters{
		Source:      q.Get("source"),
		Severity:    q.Get("severity"),
		Outcome:     q.Get("outcome"),
		FailureType: q.Get("failure_type"),
		Search:      q.Get("search"),
		Repository:  q.Get("repository"),
		Namespace:   q.Get("namespace"),
		Service:     q.Get("service"),
	}
	if preset := q.Get("date_preset"); preset != "" {
		start, end := repository.DateRangeFromPreset(preset, time.Now())
		filters.CreatedAfter = &start
		filters.CreatedBefore = &end
	}
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, "invalid min_confidence", http.StatusBadRequest)
			return
		}
		filters.MinConfidence = &f
	}
	if v := q.Get("max_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, "invalid max_confidence", http.StatusBadRequest)
			return
		}
		filters.MaxConfidence = &f
	}

	scope := repository.OwnerScope{UserID: user.ID, Admin: user.IsAdmin()}
	if scope.Admin {
		filters.UserID = q.Get("user_id")
	}

	incidents, total, err := h.incidents.ListIncidents(r.Context(), scope, page, filters)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	writeJSON(w, map[string]any{
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
		"items":  incidents,
	}, http.StatusOK)
}

func (h *IncidentsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	var after, before *time.Time
	if preset := r.URL.Query().Get("date_preset"); preset != "" {
		start, end := repository.DateRangeFromPreset(preset, time.Now())
		after, before = &start, &end
	}
	stats, err := h.incidents.IncidentStats(r.Context(), repository.OwnerScope{UserID: user.ID, Admin: user.IsAdmin()}, after, before)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, stats, http.StatusOK)
}

type searchRequest struct {
	Sources       []string `json:"sources"`
	Severities    []string `json:"severities"`
	Outcomes      []string `json:"outcomes"`
	FailureTypes  []string `json:"failure_types"`
	Tags          []string `json:"tags"`
	Repository    string   `json:"repository"`
	MinConfidence *float64 `json:"min_confidence"`
	MaxConfidence *float64 `json:"max_confidence"`
	CreatedAfter  *string  `json:"created_after"`
	CreatedBefore *string  `json:"created_before"`
	FreeText      string   `json:"free_text"`
	SortBy        string   `json:"sort_by"`
	SortDesc      bool     `json:"sort_desc"`
	Page          int      `json:"page"`
	PageSize      int      `json:"page_size"`
}

func (h *IncidentsHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	c := repository.SearchCriteria{
		Sources:       req.Sources,
		Severities:    req.Severities,
		Outcomes:      req.Outcomes,
		FailureTypes:  req.FailureTypes,
		Tags:          req.Tags,
		Repository:    req.Repository,
		MinConfidence: req.MinConfidence,
		MaxConfidence: req.MaxConfidence,
		FreeText:      req.FreeText,
		SortBy:        req.SortBy,
		SortDesc:      req.SortDesc,
		Page:          req.Page,
		PageSize:      req.PageSize,
	}
	for _, f := range []struct {
		raw  *string
		dest **time.Time
	}{
		{req.CreatedAfter, &c.CreatedAfter},
		{req.CreatedBefore, &c.CreatedBefore},
	} {
		if f.raw == nil || *f.raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, *f.raw)
		if err != nil {
			writeError(w, "invalid date, expected RFC3339", http.StatusBadRequest)
			return
		}
		*f.dest = &t
	}

	// Advanced search is always scoped to the caller, admin or not.
	res, err := h.incidents.AdvancedSearch(r.Context(), CurrentUser(r).ID, c)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if res.Incidents == nil {
		res.Incidents = []models.Incident{}
	}
	writeJSON(w, map[string]any{
		"items":           res.Incidents,
		"total":           res.Total,
		"page":            res.Page,
		"page_size":       res.PageSize,
		"total_pages":     res.TotalPages,
		"has_next":        res.HasNext,
		"has_previous":    res.HasPrevious,
		"next_cursor":     res.NextCursor,
		"previous_cursor": res.PreviousCursor,
	}, http.StatusOK)
}

type similarRequest struct {
	Limit         int     `json:"limit"`
	MinSimilarity float64 `json:"min_similarity"`
}

func (h *IncidentsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	user := CurrentUser(r)
	id := mux.Vars(r)["id"]

	inc, err := h.incidents.GetIncident(r.Context(), repository.OwnerScope{UserID: user.ID, Admin: user.IsAdmin()}, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(inc.Embedding) == 0 {
		writeError(w, "incident has no embedding; run reanalysis first", http.StatusBadRequest)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}
	if req.MinSimilarity <= 0 {
		req.MinSimilarity = 0.7
	}

	matches, err := h.incidents.SimilarIncidents(r.Context(), inc.Embedding, req.Limit, req.MinSimilarity, inc.ID, user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if matches == nil {
		matches = []repository.SimilarIncident{}
	}
	writeJSON(w, map[string]any{"items": matches}, http.StatusOK)
}

// Reanalyze enqueues a background job that recomputes the incident's
// embedding. Similarity queries require one, so this is the path for
// incidents created before an embedder was configured or after their
// diagnostic fields changed.
func (h *IncidentsHandler) Reanalyze(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	scope := repository.OwnerScope{UserID: user.ID, Admin: user.IsAdmin()}
	inc, err := h.incidents.GetIncident(r.Context(), scope, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}

	payload, _ := json.Marshal(jobs.ReanalysisPayload{IncidentID: inc.ID})
	if err := jobs.ValidatePayload(r.Context(), models.JobTypeReanalysis, payload); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	// The job runs under the incident owner, not the caller, so an
	// admin-triggered reanalysis still loads the row.
	job := &models.BackgroundJob{UserID: inc.UserID, Type: models.JobTypeReanalysis, Payload: string(payload)}
	if _, err := h.jobRepo.CreateJob(r.Context(), job); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, job, http.StatusCreated)
}

type bulkAssignRequest struct {
	IDs    []string `json:"ids"`
	UserID string   `json:"user_id"`
}

func (h *IncidentsHandler) BulkAssign(w http.ResponseWriter, r *http.Request) {
	var req bulkAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 || req.UserID == "" {
		writeError(w, "ids and user_id are required", http.StatusBadRequest)
		return
	}
	n, err := h.incidents.BulkAssign(r.Context(), req.IDs, req.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"affected": n}, http.StatusOK)
}

type bulkOutcomeRequest struct {
	IDs     []string `json:"ids"`
	Outcome string   `json:"outcome"`
	Message string   `json:"message"`
	// Async routes the update through a background job instead of
	// applying it inline; the response is then the queued job row.
	Async bool `json:"async"`
}

func (h *IncidentsHandler) BulkOutcome(w http.ResponseWriter, r *http.Request) {
	var req bulkOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 || !validOutcome(req.Outcome) {
		writeError(w, "ids and a valid outcome are required", http.StatusBadRequest)
		return
	}

	if req.Async {
		payload, _ := json.Marshal(jobs.BulkUpdatePayload{IDs: req.IDs, Outcome: req.Outcome, Message: req.Message})
		if err := jobs.ValidatePayload(r.Context(), models.JobTypeBulkUpdate, payload); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		job := &models.BackgroundJob{UserID: CurrentUser(r).ID, Type: models.JobTypeBulkUpdate, Payload: string(payload)}
		if _, err := h.jobRepo.CreateJob(r.Context(), job); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, job, http.StatusCreated)
		return
	}

	n, err := h.incidents.BulkUpdateOutcome(r.Context(), req.IDs, req.Outcome, req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"affected": n}, http.StatusOK)
}

type exportRequest struct {
	Format     string `json:"format"`
	Source     string `json:"source"`
	Severity   string `json:"severity"`
	Outcome    string `json:"outcome"`
	DatePreset string `json:"date_preset"`
}

// Export enqueues a background export job and returns 201 with the job
// row; clients poll the jobs API for completion.
func (h *IncidentsHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}

	var jobType string
	switch req.Format {
	case "csv", "":
		jobType = models.JobTypeExportCSV
	case "pdf":
		jobType = models.JobTypeExportPDF
	default:
		writeError(w, "format must be csv or pdf", http.StatusBadRequest)
		return
	}

	payload, _ := json.Marshal(jobs.ExportPayload{
		Source:     req.Source,
		Severity:   req.Severity,
		Outcome:    req.Outcome,
		DatePreset: req.DatePreset,
	})
	if err := jobs.ValidatePayload(r.Context(), jobType, payload); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := &models.BackgroundJob{UserID: CurrentUser(r).ID, Type: jobType, Payload: string(payload)}
	if _, err := h.jobRepo.CreateJob(r.Context(), job); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, job, http.StatusCreated)
}

func validOutcome(s string) bool {
	switch s {
	case models.OutcomePending, models.OutcomeSuccess, models.OutcomeFailed, models.OutcomeEscalated:
		return true
	}
	return false
}
