package analytics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

// fakeStore serves canned rows; filters the service relies on (owner,
// repo, date windows) are applied here the same way the real store does.
type fakeStore struct {
	runs        []models.WorkflowRun
	conns       []models.RepoConnection
	incidents   []models.Incident
	stats       *repository.IncidentStats
	recentStats *repository.IncidentStats
	activeConns int64
}

func (f *fakeStore) ListRuns(_ context.Context, userID, repoFullName string, after, before *time.Time) ([]models.WorkflowRun, error) {
	var out []models.WorkflowRun
	for _, r := range f.runs {
		if r.UserID != userID {
			continue
		}
		if repoFullName != "" && r.RepoFullName != repoFullName {
			continue
		}
		if after != nil && r.CreatedAt.Before(*after) {
			continue
		}
		if before != nil && r.CreatedAt.After(*before) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) CountRuns(_ context.Context, userID string, after *time.Time) (int64, error) {
	var n int64
	for _, r := range f.runs {
		if r.UserID != userID {
			continue
		}
		if after != nil && r.CreatedAt.Before(*after) {
			continue
		}
		n++
	}
	return n, nil
}

func (f *fakeStore) ListRepoConnections(_ context.Context, userID string, enabledOnly bool) ([]models.RepoConnection, error) {
	var out []models.RepoConnection
	for _, c := range f.conns {
		if c.UserID != userID {
			continue
		}
		if enabledOnly && !c.Enabled {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeStore) ListIncidents(_ context.Context, scope repository.OwnerScope, _ repository.Page, flt repository.IncidentFilters) ([]models.Incident, int64, error) {
	var out []models.Incident
	for _, inc := range f.incidents {
		if !scope.Admin && inc.UserID != scope.UserID {
			continue
		}
		if flt.Repository != "" && inc.Context.Repository != flt.Repository {
			continue
		}
		if flt.CreatedAfter != nil && inc.CreatedAt.Before(*flt.CreatedAfter) {
			continue
		}
		if flt.CreatedBefore != nil && inc.CreatedAt.After(*flt.CreatedBefore) {
			continue
		}
		out = append(out, inc)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) IncidentStats(_ context.Context, _ repository.OwnerScope, after, _ *time.Time) (*repository.IncidentStats, error) {
	if after != nil && f.recentStats != nil {
		return f.recentStats, nil
	}
	if f.stats != nil {
		return f.stats, nil
	}
	return &repository.IncidentStats{}, nil
}

func (f *fakeStore) CountActiveConnections(_ context.Context, _ string) (int64, error) {
	return f.activeConns, nil
}

func TestPeriodDelta(t *testing.T) {
	cases := []struct {
		period string
		want   time.Duration
	}{
		{"hour", time.Hour},
		{"day", 24 * time.Hour},
		{"", 24 * time.Hour},
		{"week", 7 * 24 * time.Hour},
		{"month", 30 * 24 * time.Hour},
		{"DAY", 24 * time.Hour},
	}
	for _, c := range cases {
		got, err := PeriodDelta(c.period)
		if err != nil {
			t.Errorf("PeriodDelta(%q) error: %v", c.period, err)
			continue
		}
		if got != c.want {
			t.Errorf("PeriodDelta(%q) = %v, want %v", c.period, got, c.want)
		}
	}
	if _, err := PeriodDelta("fortnight"); err == nil {
		t.Error("expected error for unknown period")
	}
}

func TestBucketIndex(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	starts := bucketStarts(start, start.Add(6*24*time.Hour), 24*time.Hour)
	if len(starts) != 7 {
		t.Fatalf("expected 7 day buckets, got %d", len(starts))
	}

	if i := bucketIndex(starts, 24*time.Hour, start); i != 0 {
		t.Errorf("bucket start belongs to its own bucket, got %d", i)
	}
	// Boundaries are half-open: the next bucket's start is not in the
	// previous one.
	if i := bucketIndex(starts, 24*time.Hour, starts[1]); i != 1 {
		t.Errorf("expected index 1, got %d", i)
	}
	if i := bucketIndex(starts, 24*time.Hour, start.Add(36*time.Hour)); i != 1 {
		t.Errorf("expected index 1 for mid-second-day, got %d", i)
	}
	if i := bucketIndex(starts, 24*time.Hour, start.Add(-time.Second)); i != -1 {
		t.Errorf("out-of-range before: expected -1, got %d", i)
	}
	if i := bucketIndex(starts, 24*time.Hour, start.Add(8*24*time.Hour)); i != -1 {
		t.Errorf("out-of-range after: expected -1, got %d", i)
	}
}

func TestWorkflowTrends(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(6 * 24 * time.Hour)

	store := &fakeStore{}
	// 100 runs spread evenly: 80 successes, 20 failures, 60s each.
	for i := 0; i < 100; i++ {
		at := start.Add(time.Duration(i) * 80 * time.Minute)
		s := at
		e := at.Add(60 * time.Second)
		conclusion := "success"
		if i%5 == 0 {
			conclusion = "failure"
		}
		store.runs = append(store.runs, models.WorkflowRun{
			UserID: "user-1", RepoFullName: "acme/api", Status: "completed",
			Conclusion: conclusion, CreatedAt: at, RunStartedAt: &s, RunCompletedAt: &e,
		})
	}

	svc := New(store, nil)
	trends, err := svc.WorkflowTrends(context.Background(), "user-1", start, end, "day", "")
	if err != nil {
		t.Fatalf("WorkflowTrends error: %v", err)
	}
	if len(trends.Buckets) != 7 {
		t.Fatalf("expected 7 buckets, got %d", len(trends.Buckets))
	}
	if trends.Summary.Total != 100 || trends.Summary.Success != 80 || trends.Summary.Failed != 20 {
		t.Errorf("summary counts wrong: %+v", trends.Summary)
	}
	if trends.Summary.FailureRate != 20.0 {
		t.Errorf("expected failure rate 20.0, got %v", trends.Summary.FailureRate)
	}
	if trends.Summary.SuccessRate != 80.0 {
		t.Errorf("expected success rate 80.0, got %v", trends.Summary.SuccessRate)
	}
	if trends.Summary.AvgDuration != 60.0 {
		t.Errorf("expected avg duration 60s, got %v", trends.Summary.AvgDuration)
	}

	var bucketTotal int
	for _, b := range trends.Buckets {
		bucketTotal += b.Total
	}
	if bucketTotal != 100 {
		t.Errorf("bucket totals must add up to the summary: %d", bucketTotal)
	}

	if _, err := svc.WorkflowTrends(context.Background(), "user-1", start, end, "decade", ""); err == nil {
		t.Error("expected error for invalid period")
	}
}

func TestCalculateHealthScore(t *testing.T) {
	if got := CalculateHealthScore(0, 0, 0, 0); got != 100.0 {
		t.Errorf("zero runs must score 100, got %v", got)
	}

	// Perfect record, high activity: 25 + 25 + 0 + 25 = 75 (merge rate 0).
	if got := CalculateHealthScore(500, 0, 0, 0); got != 75.0 {
		t.Errorf("expected 75, got %v", got)
	}

	// Full merge rate adds the remaining 25.
	if got := CalculateHealthScore(500, 0, 0, 100); got != 100.0 {
		t.Errorf("expected 100, got %v", got)
	}

	// Components floor at 0 rather than going negative.
	if got := CalculateHealthScore(10, 100, 20, 0); got != 1.0 {
		t.Errorf("expected activity-only score 1.0, got %v", got)
	}

	// Activity caps at 25.
	low := CalculateHealthScore(10, 0, 0, 0) // 25 + 25 + 0 + 1
	high := CalculateHealthScore(1000, 0, 0, 0)
	if low != 51.0 || high != 75.0 {
		t.Errorf("activity scaling wrong: low=%v high=%v", low, high)
	}
}

func TestRepositoryHealth(t *testing.T) {
	at := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	resolved := at.Add(time.Hour)
	store := &fakeStore{
		conns: []models.RepoConnection{
			{UserID: "user-1", RepoFullName: "acme/api", Enabled: true},
			{UserID: "user-1", RepoFullName: "acme/legacy", Enabled: false},
		},
		runs: []models.WorkflowRun{
			{UserID: "user-1", RepoFullName: "acme/api", Conclusion: "success", CreatedAt: at},
			{UserID: "user-1", RepoFullName: "acme/api", Conclusion: "failure", CreatedAt: at},
		},
		incidents: []models.Incident{
			{UserID: "user-1", Context: models.IncidentContext{Repository: "acme/api"}, Tags: []string{"pr:12", "infra"}, CreatedAt: at},
			{UserID: "user-1", Context: models.IncidentContext{Repository: "acme/api"}, ResolvedAt: &resolved, CreatedAt: at},
		},
	}

	svc := New(store, nil)
	out, err := svc.RepositoryHealth(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("RepositoryHealth error: %v", err)
	}
	// Disabled connections are skipped.
	if len(out) != 1 {
		t.Fatalf("expected 1 repo, got %d", len(out))
	}
	h := out[0]
	if h.TotalRuns != 2 || h.FailureRate != 50.0 {
		t.Errorf("run metrics wrong: %+v", h)
	}
	if h.OpenIncidents != 1 || h.ResolvedIncidents != 1 {
		t.Errorf("incident split wrong: %+v", h)
	}
	if h.PRsReferenced != 1 {
		t.Errorf("expected 1 pr tag, got %d", h.PRsReferenced)
	}
	if h.PRMergeRate != 0 {
		t.Errorf("merge rate is a known 0, got %v", h.PRMergeRate)
	}
	// 25-0.25*50 + 25-5*1 + 0 + 2/10 = 12.5 + 20 + 0.2
	if math.Abs(h.HealthScore-32.7) > 1e-9 {
		t.Errorf("expected score 32.7, got %v", h.HealthScore)
	}
}

func TestIncidentTrendsOpenFloor(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * 24 * time.Hour)

	day0 := start.Add(time.Hour)
	day1 := start.Add(25 * time.Hour)
	day2 := start.Add(49 * time.Hour)

	store := &fakeStore{incidents: []models.Incident{
		// Created day 0, resolved day 1.
		{UserID: "user-1", Source: "jenkins", Severity: "high", CreatedAt: day0, ResolvedAt: &day1},
		// Created day 0, resolved day 1: day 1 resolves more than it
		// creates, so the running open count would go negative without
		// the floor.
		{UserID: "user-1", Source: "jenkins", Severity: "low", CreatedAt: day0, ResolvedAt: &day1},
		// Created day 2, still open.
		{UserID: "user-1", Source: "github_actions", Severity: "high", CreatedAt: day2},
	}}

	svc := New(store, nil)
	trends, err := svc.IncidentTrends(context.Background(), "user-1", start, end, "day")
	if err != nil {
		t.Fatalf("IncidentTrends error: %v", err)
	}
	if len(trends.Buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d", len(trends.Buckets))
	}
	if trends.Buckets[0].Created != 2 || trends.Buckets[0].Open != 2 {
		t.Errorf("day 0 wrong: %+v", trends.Buckets[0])
	}
	if trends.Buckets[1].Resolved != 2 || trends.Buckets[1].Open != 0 {
		t.Errorf("day 1 wrong: %+v", trends.Buckets[1])
	}
	if trends.Buckets[2].Created != 1 || trends.Buckets[2].Open != 1 {
		t.Errorf("day 2 wrong: %+v", trends.Buckets[2])
	}
	if trends.Summary.TotalCreated != 3 || trends.Summary.TotalResolved != 2 || trends.Summary.OpenAtEnd != 1 {
		t.Errorf("summary wrong: %+v", trends.Summary)
	}
	if trends.Buckets[0].BySeverity["high"] != 1 || trends.Buckets[0].BySeverity["low"] != 1 {
		t.Errorf("by_severity wrong: %v", trends.Buckets[0].BySeverity)
	}
	if trends.BySource["jenkins"] != 2 || trends.BySource["github_actions"] != 1 {
		t.Errorf("by_source wrong: %v", trends.BySource)
	}
}

func TestSystemHealth(t *testing.T) {
	store := &fakeStore{
		conns: []models.RepoConnection{
			{UserID: "user-1", RepoFullName: "acme/api", Enabled: true},
			{UserID: "user-1", RepoFullName: "acme/legacy", Enabled: false},
		},
		stats:       &repository.IncidentStats{Total: 30, Successes: 5},
		recentStats: &repository.IncidentStats{Total: 2},
		activeConns: 1,
	}

	svc := New(store, nil)
	h, err := svc.SystemHealth(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("SystemHealth error: %v", err)
	}
	if h.TotalRepos != 2 || h.ActiveRepos != 1 {
		t.Errorf("repo counts wrong: %+v", h)
	}
	if h.OpenIncidents != 25 {
		t.Errorf("expected 25 open incidents, got %d", h.OpenIncidents)
	}
	// 100 - 2*(25-10) = 70 -> degraded.
	if h.HealthScore != 70.0 {
		t.Errorf("expected score 70, got %v", h.HealthScore)
	}
	if h.Status != "degraded" {
		t.Errorf("expected degraded, got %q", h.Status)
	}
	if h.IncidentsLast24h != 2 {
		t.Errorf("expected 2 recent incidents, got %d", h.IncidentsLast24h)
	}
}

func TestSystemHealthNoActiveRepos(t *testing.T) {
	store := &fakeStore{stats: &repository.IncidentStats{}}
	svc := New(store, nil)
	h, err := svc.SystemHealth(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("SystemHealth error: %v", err)
	}
	// 100 - 20 for having no active repositories.
	if h.HealthScore != 80.0 {
		t.Errorf("expected score 80, got %v", h.HealthScore)
	}
	if h.Status != "healthy" {
		t.Errorf("80 is still healthy, got %q", h.Status)
	}
}
