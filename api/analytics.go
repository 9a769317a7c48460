package api

import (
	"net/http"
	"time"

	"github.com/cisentry/cisentry/internal/analytics"
)

type AnalyticsHandler struct {
	svc *analytics.Service
}

func NewAnalyticsHandler(svc *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// parseWindow reads start/end/period query params, defaulting to the last
// 30 days bucketed by day.
func parseWindow(r *http.Request) (start, end time.Time, period string, errMsg string) {
	q := r.URL.Query()
	end = time.Now().UTC()
	start = end.AddDate(0, 0, -30)
	period = q.Get("period")
	if period == "" {
		period = "day"
	}
	if _, err := analytics.PeriodDelta(period); err != nil {
		return start, end, period, "period must be one of hour, day, week, month"
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, period, "invalid start, expected RFC3339"
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, period, "invalid end, expected RFC3339"
		}
		end = t
	}
	if end.Before(start) {
		return start, end, period, "end must not be earlier than start"
	}
	return start, end, period, ""
}

func (h *AnalyticsHandler) WorkflowTrends(w http.ResponseWriter, r *http.Request) {
	start, end, period, msg := parseWindow(r)
	if msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}
	trends, err := h.svc.WorkflowTrends(r.Context(), CurrentUser(r).ID, start, end, period, r.URL.Query().Get("repository"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, trends, http.StatusOK)
}

func (h *AnalyticsHandler) RepositoryHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.svc.RepositoryHealth(r.Context(), CurrentUser(r).ID, r.URL.Query().Get("repository"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, map[string]any{"repositories": health}, http.StatusOK)
}

func (h *AnalyticsHandler) IncidentTrends(w http.ResponseWriter, r *http.Request) {
	start, end, period, msg := parseWindow(r)
	if msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}
	trends, err := h.svc.IncidentTrends(r.Context(), CurrentUser(r).ID, start, end, period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, trends, http.StatusOK)
}

func (h *AnalyticsHandler) SystemHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.svc.SystemHealth(r.Context(), CurrentUser(r).ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, health, http.StatusOK)
}
