package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

type EventsHandler struct {
	events repository.EventRepo
}

func NewEventsHandler(er repository.EventRepo) *EventsHandler {
	return &EventsHandler{events: er}
}

type eventRequest struct {
	Title       string `json:"title"`
	Color       string `json:"color"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Description string `json:"description"`
}

// parse validates the payload before anything touches persistence.
func (req *eventRequest) parse() (*models.Event, string) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, "title is required"
	}
	if req.Color == "" {
		req.Color = "blue"
	}
	if !slices.Contains(models.EventColors, req.Color) {
		return nil, "invalid color"
	}
	start, err := time.Parse(time.RFC3339, req.StartDate)
	if err != nil {
		return nil, "invalid start_date, expected RFC3339"
	}
	end, err := time.Parse(time.RFC3339, req.EndDate)
	if err != nil {
		return nil, "invalid end_date, expected RFC3339"
	}
	if end.Before(start) {
		return nil, "end_date must not be earlier than start_date"
	}
	return &models.Event{
		Title:       req.Title,
		Color:       req.Color,
		StartDate:   start,
		EndDate:     end,
		Description: req.Description,
	}, ""
}

func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	e, msg := req.parse()
	if msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}
	e.UserID = CurrentUser(r).ID

	id, err := h.events.CreateEvent(r.Context(), e)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	e.ID = id
	writeJSON(w, e, http.StatusCreated)
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.events.GetEvent(r.Context(), CurrentUser(r).ID, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, e, http.StatusOK)
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var from, to *time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "invalid from, expected RFC3339", http.StatusBadRequest)
			return
		}
		from = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "invalid to, expected RFC3339", http.StatusBadRequest)
			return
		}
		to = &t
	}

	items, err := h.events.ListEvents(r.Context(), CurrentUser(r).ID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []models.Event{}
	}
	writeJSON(w, map[string]any{"items": items}, http.StatusOK)
}

func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request", http.StatusBadRequest)
		return
	}
	e, msg := req.parse()
	if msg != "" {
		writeError(w, msg, http.StatusBadRequest)
		return
	}
	user := CurrentUser(r)
	e.ID = mux.Vars(r)["id"]

	if err := h.events.UpdateEvent(r.Context(), user.ID, e); err != nil {
		writeDomainError(w, err)
		return
	}
	updated, err := h.events.GetEvent(r.Context(), user.ID, e.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, updated, http.StatusOK)
}

func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.events.DeleteEvent(r.Context(), CurrentUser(r).ID, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
