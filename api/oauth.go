package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/internal/oauthlink"
)

type OAuthHandler struct {
	link *oauthlink.Service
}

func NewOAuthHandler(link *oauthlink.Service) *OAuthHandler {
	return &OAuthHandler{link: link}
}

func (h *OAuthHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.link.List(r.Context(), CurrentUser(r).ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []models.OAuthConnection{}
	}
	writeJSON(w, map[string]any{"items": items}, http.StatusOK)
}

// Link pulls the provider token the IdP already holds for this user and
// stores it locally. The caller's own bearer token authorizes the IdP
// call.
func (h *OAuthHandler) Link(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if provider != oauthlink.ProviderGitHub && provider != oauthlink.ProviderGitLab {
		writeError(w, "provider must be github or gitlab", http.StatusBadRequest)
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		writeError(w, "missing authorization header", http.StatusUnauthorized)
		return
	}

	conn, err := h.link.Link(r.Context(), CurrentUser(r).ID, token, provider)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, conn, http.StatusCreated)
}

func (h *OAuthHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	if err := h.link.Unlink(r.Context(), CurrentUser(r).ID, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
