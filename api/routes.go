package api

import (
	"github.com/gorilla/mux"

	"github.com/cisentry/cisentry/internal/analytics"
	"github.com/cisentry/cisentry/internal/auth"
	"github.com/cisentry/cisentry/internal/oauthlink"
	"github.com/cisentry/cisentry/internal/repository/sqlite"
)

// Deps carries everything the routing layer wires together. All state is
// constructed at startup and injected; nothing here owns globals.
type Deps struct {
	Repo          *sqlite.SQLiteRepo
	Authenticator *auth.Authenticator
	Analytics     *analytics.Service
	OAuthLink     *oauthlink.Service
}

func SetupRoutes(version, buildTime string, d Deps) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := &SystemHandler{}
	incidentsHandler := NewIncidentsHandler(d.Repo, d.Repo)
	jobsHandler := NewJobsHandler(d.Repo)
	eventsHandler := NewEventsHandler(d.Repo)
	analyticsHandler := NewAnalyticsHandler(d.Analytics)
	oauthHandler := NewOAuthHandler(d.OAuthLink)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(BearerAuthMiddleware(d.Authenticator))

	// Incidents
	apiV1.HandleFunc("/incidents", incidentsHandler.Create).Methods("POST")
	apiV1.HandleFunc("/incidents", incidentsHandler.List).Methods("GET")
	apiV1.HandleFunc("/incidents/stats", incidentsHandler.Stats).Methods("GET")
	apiV1.HandleFunc("/incidents/search", incidentsHandler.Search).Methods("POST")
	apiV1.HandleFunc("/incidents/export", incidentsHandler.Export).Methods("POST")
	apiV1.HandleFunc("/incidents/bulk/assign", incidentsHandler.BulkAssign).Methods("POST")
	apiV1.HandleFunc("/incidents/bulk/outcome", incidentsHandler.BulkOutcome).Methods("POST")
	apiV1.HandleFunc("/incidents/{id}", incidentsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/incidents/{id}", incidentsHandler.Update).Methods("PUT")
	apiV1.HandleFunc("/incidents/{id}", incidentsHandler.Delete).Methods("DELETE")
	apiV1.HandleFunc("/incidents/{id}/similar", incidentsHandler.Similar).Methods("POST")
	apiV1.HandleFunc("/incidents/{id}/reanalyze", incidentsHandler.Reanalyze).Methods("POST")

	// Jobs
	apiV1.HandleFunc("/jobs", jobsHandler.List).Methods("GET")
	apiV1.HandleFunc("/jobs/{id}", jobsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/jobs/{id}", jobsHandler.Delete).Methods("DELETE")
	apiV1.HandleFunc("/jobs/{id}/cancel", jobsHandler.Cancel).Methods("POST")
	apiV1.HandleFunc("/jobs/{id}/download", jobsHandler.Download).Methods("GET")

	// Events
	apiV1.HandleFunc("/events", eventsHandler.Create).Methods("POST")
	apiV1.HandleFunc("/events", eventsHandler.List).Methods("GET")
	apiV1.HandleFunc("/events/{id}", eventsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/events/{id}", eventsHandler.Update).Methods("PUT")
	apiV1.HandleFunc("/events/{id}", eventsHandler.Delete).Methods("DELETE")

	// Analytics
	apiV1.HandleFunc("/analytics/workflows/trends", analyticsHandler.WorkflowTrends).Methods("GET")
	apiV1.HandleFunc("/analytics/repositories/health", analyticsHandler.RepositoryHealth).Methods("GET")
	apiV1.HandleFunc("/analytics/incidents/trends", analyticsHandler.IncidentTrends).Methods("GET")
	apiV1.HandleFunc("/analytics/system/health", analyticsHandler.SystemHealth).Methods("GET")

	// OAuth linkage
	apiV1.HandleFunc("/oauth/connections", oauthHandler.List).Methods("GET")
	apiV1.HandleFunc("/oauth/connections/{id}", oauthHandler.Unlink).Methods("DELETE")
	apiV1.HandleFunc("/oauth/{provider}/link", oauthHandler.Link).Methods("POST")

	return r
}
