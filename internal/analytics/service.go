package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

// Store is the slice of persistence the aggregation service needs.
type Store interface {
	ListRuns(ctx context.Context, userID, repoFullName string, after, before *time.Time) ([]models.WorkflowRun, error)
	CountRuns(ctx context.Context, userID string, after *time.Time) (int64, error)
	ListRepoConnections(ctx context.Context, userID string, enabledOnly bool) ([]models.RepoConnection, error)
	ListIncidents(ctx context.Context, scope repository.OwnerScope, page repository.Page, f repository.IncidentFilters) ([]models.Incident, int64, error)
	IncidentStats(ctx context.Context, scope repository.OwnerScope, after, before *time.Time) (*repository.IncidentStats, error)
	CountActiveConnections(ctx context.Context, userID string) (int64, error)
}

// Service buckets workflow-run and incident rows into fixed-width time
// intervals and derives trend series and health scores. All operations are
// scoped to a single user. Any query failure aborts the whole aggregation;
// there is no partial-result recovery.
type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// incidentFetchLimit bounds how many rows one aggregation may scan. The
// linear bucketing below assumes bounded analytic windows, not bulk scans.
const incidentFetchLimit = 100000

// PeriodDelta maps a period name onto its fixed bucket width. The month
// delta is a flat 30 days and drifts against calendar months; callers rely
// on that approximation.
func PeriodDelta(period string) (time.Duration, error) {
	switch strings.ToLower(period) {
	case "hour":
		return time.Hour, nil
	case "day", "":
		return 24 * time.Hour, nil
	case "week":
		return 7 * 24 * time.Hour, nil
	case "month":
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown period %q", period)
	}
}

// bucketStarts generates bucket start times by advancing from start by
// delta until exceeding end.
func bucketStarts(start, end time.Time, delta time.Duration) []time.Time {
	var out []time.Time
	for t := start; !t.After(end); t = t.Add(delta) {
		out = append(out, t)
	}
	return out
}

// bucketIndex assigns ts to the first bucket [start, start+delta)
// containing it, or -1.
func bucketIndex(starts []time.Time, delta time.Duration, ts time.Time) int {
	for i, s := range starts {
		if !ts.Before(s) && ts.Before(s.Add(delta)) {
			return i
		}
	}
	return -1
}

// WorkflowBucket is one interval of the workflow trend series.
type WorkflowBucket struct {
	Start       time.Time `json:"start"`
	Total       int       `json:"total_runs"`
	Success     int       `json:"successful_runs"`
	Failed      int       `json:"failed_runs"`
	FailureRate float64   `json:"failure_rate"`
	AvgDuration float64   `json:"avg_duration_seconds"`
}

// WorkflowSummary aggregates the same metrics across the whole window.
type WorkflowSummary struct {
	Total       int     `json:"total_runs"`
	Success     int     `json:"successful_runs"`
	Failed      int     `json:"failed_runs"`
	FailureRate float64 `json:"failure_rate"`
	SuccessRate float64 `json:"success_rate"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

type WorkflowTrends struct {
	Period  string           `json:"period"`
	Buckets []WorkflowBucket `json:"buckets"`
	Summary WorkflowSummary  `json:"summary"`
}

// WorkflowTrends partitions [start, end] into fixed-width buckets and
// computes run counts, failure rate and mean duration per bucket.
func (s *Service) WorkflowTrends(ctx context.Context, userID string, start, end time.Time, period, repo string) (*WorkflowTrends, error) {
	delta, err := PeriodDelta(period)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, userID, repo, &start, &end)
	if err != nil {
		return nil, fmt.Errorf("workflow trends: %w", err)
	}

	starts := bucketStarts(start, end, delta)
	buckets := make([]WorkflowBucket, len(starts))
	durSums := make([]float64, len(starts))
	durCounts := make([]int, len(starts))
	for i, t := range starts {
		buckets[i].Start = t
	}

	var summary WorkflowSummary
	var totalDur float64
	var totalDurCount int
	for _, run := range runs {
		i := bucketIndex(starts, delta, run.CreatedAt)
		if i < 0 {
			continue
		}
		buckets[i].Total++
		summary.Total++
		switch run.Conclusion {
		case "success":
			buckets[i].Success++
			summary.Success++
		case "failure":
			buckets[i].Failed++
			summary.Failed++
		}
		if d := run.Duration(); d > 0 {
			durSums[i] += d
			durCounts[i]++
			totalDur += d
			totalDurCount++
		}
	}

	for i := range buckets {
		if buckets[i].Total > 0 {
			buckets[i].FailureRate = float64(buckets[i].Failed) / float64(buckets[i].Total) * 100
		}
		if durCounts[i] > 0 {
			buckets[i].AvgDuration = durSums[i] / float64(durCounts[i])
		}
	}
	if summary.Total > 0 {
		summary.FailureRate = float64(summary.Failed) / float64(summary.Total) * 100
		summary.SuccessRate = float64(summary.Success) / float64(summary.Total) * 100
	}
	if totalDurCount > 0 {
		summary.AvgDuration = totalDur / float64(totalDurCount)
	}

	return &WorkflowTrends{Period: period, Buckets: buckets, Summary: summary}, nil
}

// RepoHealth is the composite per-repository health view.
type RepoHealth struct {
	RepoFullName      string  `json:"repo_full_name"`
	TotalRuns         int     `json:"total_runs"`
	SuccessfulRuns    int     `json:"successful_runs"`
	FailedRuns        int     `json:"failed_runs"`
	FailureRate       float64 `json:"failure_rate"`
	TotalIncidents    int64   `json:"total_incidents"`
	OpenIncidents     int64   `json:"open_incidents"`
	ResolvedIncidents int64   `json:"resolved_incidents"`
	PRsReferenced     int     `json:"prs_referenced"`
	PRMergeRate       float64 `json:"pr_merge_rate"`
	HealthScore       float64 `json:"health_score"`
}

// CalculateHealthScore blends failure rate, open incidents, PR merge rate
// and activity into a 0-100 score. A repository with zero runs scores 100:
// no evidence of problems.
func CalculateHealthScore(totalRuns int, failureRate float64, openIncidents int64, prMergeRate float64) float64 {
	if totalRuns == 0 {
		return 100.0
	}
	failureScore := 25 - 0.25*failureRate
	if failureScore < 0 {
		failureScore = 0
	}
	incidentScore := 25 - 5*float64(openIncidents)
	if incidentScore < 0 {
		incidentScore = 0
	}
	prScore := 0.25 * prMergeRate
	activityScore := float64(totalRuns) / 10
	if activityScore > 25 {
		activityScore = 25
	}
	return clampScore(failureScore + incidentScore + prScore + activityScore)
}

// RepositoryHealth computes per-repository metrics for every enabled repo
// connection in scope, or just the named one.
func (s *Service) RepositoryHealth(ctx context.Context, userID, repo string) ([]RepoHealth, error) {
	conns, err := s.store.ListRepoConnections(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("repository health: %w", err)
	}

	scope := repository.OwnerScope{UserID: userID}
	out := make([]RepoHealth, 0, len(conns))
	for _, conn := range conns {
		if repo != "" && conn.RepoFullName != repo {
			continue
		}
		h := RepoHealth{RepoFullName: conn.RepoFullName}

		runs, err := s.store.ListRuns(ctx, userID, conn.RepoFullName, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("repository health: %w", err)
		}
		h.TotalRuns = len(runs)
		for _, run := range runs {
			switch run.Conclusion {
			case "success":
				h.SuccessfulRuns++
			case "failure":
				h.FailedRuns++
			}
		}
		if h.TotalRuns > 0 {
			h.FailureRate = float64(h.FailedRuns) / float64(h.TotalRuns) * 100
		}

		incidents, total, err := s.store.ListIncidents(ctx, scope,
			repository.Page{Limit: incidentFetchLimit},
			repository.IncidentFilters{Repository: conn.RepoFullName})
		if err != nil {
			return nil, fmt.Errorf("repository health: %w", err)
		}
		h.TotalIncidents = total
		for _, inc := range incidents {
			if inc.ResolvedAt != nil {
				h.ResolvedIncidents++
			} else {
				h.OpenIncidents++
			}
			for _, tag := range inc.Tags {
				if strings.HasPrefix(tag, "pr:") {
					h.PRsReferenced++
				}
			}
		}

		// Merged-PR detection is not implemented, so the merge rate is
		// always 0 and pr_score contributes nothing. Known gap.
		h.PRMergeRate = 0
		h.HealthScore = CalculateHealthScore(h.TotalRuns, h.FailureRate, h.OpenIncidents, h.PRMergeRate)
		out = append(out, h)
	}
	return out, nil
}

// IncidentBucket is one interval of the incident trend series.
type IncidentBucket struct {
	Start      time.Time      `json:"start"`
	Created    int            `json:"created"`
	Resolved   int            `json:"resolved"`
	Open       int            `json:"open"`
	BySeverity map[string]int `json:"by_severity"`
}

type IncidentTrends struct {
	Period   string           `json:"period"`
	Buckets  []IncidentBucket `json:"buckets"`
	Summary  IncidentSummary  `json:"summary"`
	BySource map[string]int   `json:"by_source"`
}

type IncidentSummary struct {
	TotalCreated  int `json:"total_created"`
	TotalResolved int `json:"total_resolved"`
	OpenAtEnd     int `json:"open_at_end"`
}

// IncidentTrends applies the same bucketing to incidents, tracking created
// and resolved counts plus a running open count floored at 0.
func (s *Service) IncidentTrends(ctx context.Context, userID string, start, end time.Time, period string) (*IncidentTrends, error) {
	delta, err := PeriodDelta(period)
	if err != nil {
		return nil, err
	}
	incidents, _, err := s.store.ListIncidents(ctx, repository.OwnerScope{UserID: userID},
		repository.Page{Limit: incidentFetchLimit},
		repository.IncidentFilters{CreatedAfter: &start, CreatedBefore: &end})
	if err != nil {
		return nil, fmt.Errorf("incident trends: %w", err)
	}

	starts := bucketStarts(start, end, delta)
	buckets := make([]IncidentBucket, len(starts))
	for i, t := range starts {
		buckets[i] = IncidentBucket{Start: t, BySeverity: map[string]int{}}
	}

	trends := &IncidentTrends{Period: period, BySource: map[string]int{}}
	for _, inc := range incidents {
		if i := bucketIndex(starts, delta, inc.CreatedAt); i >= 0 {
			buckets[i].Created++
			buckets[i].BySeverity[inc.Severity]++
			trends.Summary.TotalCreated++
		}
		if inc.ResolvedAt != nil {
			if i := bucketIndex(starts, delta, *inc.ResolvedAt); i >= 0 {
				buckets[i].Resolved++
				trends.Summary.TotalResolved++
			}
		}
		trends.BySource[inc.Source]++
	}

	open := 0
	for i := range buckets {
		open += buckets[i].Created - buckets[i].Resolved
		if open < 0 {
			open = 0
		}
		buckets[i].Open = open
	}
	trends.Summary.OpenAtEnd = open
	trends.Buckets = buckets

	return trends, nil
}

// SystemHealth is the whole-account health snapshot.
type SystemHealth struct {
	Status            string  `json:"status"`
	HealthScore       float64 `json:"health_score"`
	TotalRepos        int     `json:"total_repositories"`
	ActiveRepos       int     `json:"active_repositories"`
	TotalRuns         int64   `json:"total_workflow_runs"`
	TotalIncidents    int64   `json:"total_incidents"`
	OpenIncidents     int64   `json:"open_incidents"`
	ActiveConnections int64   `json:"active_oauth_connections"`
	RunsLast24h       int64   `json:"runs_last_24h"`
	IncidentsLast24h  int64   `json:"incidents_last_24h"`
}

// SystemHealth starts at 100 and penalizes open-incident backlog beyond 10
// (2 points each) and a complete absence of active repositories (20
// points).
func (s *Service) SystemHealth(ctx context.Context, userID string) (*SystemHealth, error) {
	all, err := s.store.ListRepoConnections(ctx, userID, false)
	if err != nil {
		return nil, fmt.Errorf("system health: %w", err)
	}
	h := &SystemHealth{TotalRepos: len(all)}
	for _, c := range all {
		if c.Enabled {
			h.ActiveRepos++
		}
	}

	if h.TotalRuns, err = s.store.CountRuns(ctx, userID, nil); err != nil {
		return nil, fmt.Errorf("system health: %w", err)
	}

	scope := repository.OwnerScope{UserID: userID}
	stats, err := s.store.IncidentStats(ctx, scope, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("system health: %w", err)
	}
	h.TotalIncidents = stats.Total
	h.OpenIncidents = stats.Total - stats.Successes

	if h.ActiveConnections, err = s.store.CountActiveConnections(ctx, userID); err != nil {
		return nil, fmt.Errorf("system health: %w", err)
	}

	dayAgo := time.Now().UTC().Add(-24 * time.Hour)
	if h.RunsLast24h, err = s.store.CountRuns(ctx, userID, &dayAgo); err != nil {
		return nil, fmt.Errorf("system health: %w", err)
	}
	recent, err := s.store.IncidentStats(ctx, scope, &dayAgo, nil)
	if err != nil {
		return nil, fmt.Errorf("system health: %w", err)
	}
	h.IncidentsLast24h = recent.Total

	score := 100.0
	if h.OpenIncidents > 10 {
		score -= 2 * float64(h.OpenIncidents-10)
	}
	if h.ActiveRepos == 0 {
		score -= 20
	}
	h.HealthScore = clampScore(score)

	switch {
	case h.HealthScore >= 80:
		h.Status = "healthy"
	case h.HealthScore >= 50:
		h.Status = "degraded"
	default:
		h.Status = "unhealthy"
	}
	return h, nil
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
