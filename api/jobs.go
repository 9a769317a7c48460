package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

type JobsHandler struct {
	jobs repository.JobRepo
}

func NewJobsHandler(jr repository.JobRepo) *JobsHandler {
	return &JobsHandler{jobs: jr}
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	q := r.URL.Query()

	page := repository.Page{Limit: 50}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 500 {
		page.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v >= 0 {
		page.Offset = v
	}

	items, total, err := h.jobs.ListJobs(r.Context(), user.ID, page)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []models.BackgroundJob{}
	}
	writeJSON(w, map[string]any{
		"total":  total,
		"limit":  page.Limit,
		"offset": page.Offset,
		"items":  items,
	}, http.StatusOK)
}

func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.GetJob(r.Context(), CurrentUser(r).ID, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, j, http.StatusOK)
}

func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	id := mux.Vars(r)["id"]
	if err := h.jobs.CancelJob(r.Context(), user.ID, id); err != nil {
		writeDomainError(w, err)
		return
	}
	j, err := h.jobs.GetJob(r.Context(), user.ID, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, j, http.StatusOK)
}

func (h *JobsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.DeleteJob(r.Context(), CurrentUser(r).ID, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download streams the job's result artifact. Only completed jobs with a
// stored file qualify.
func (h *JobsHandler) Download(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.GetJob(r.Context(), CurrentUser(r).ID, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if j.Status != models.JobCompleted || j.ResultFilePath == "" {
		writeError(w, "no result artifact", http.StatusNotFound)
		return
	}
	if j.ResultFileMime != "" {
		w.Header().Set("Content-Type", j.ResultFileMime)
	}
	http.ServeFile(w, r, j.ResultFilePath)
}
