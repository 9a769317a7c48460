package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

func (r *SQLiteRepo) InsertRun(ctx context.Context, run *models.WorkflowRun) error {
	if run == nil {
		return fmt.Errorf("workflow run is nil")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	created := run.CreatedAt
	if created.IsZero() {
		created = timeFromUnix(now())
		run.CreatedAt = created
	}
	q := `INSERT INTO workflow_runs (id, user_id, repo_full_name, workflow_name, status, conclusion, run_started_at, run_completed_at, created) VALUES (?,?,?,?,?,?,?,?,?)`
	_, err := r.conn.Exec(ctx, q, run.ID, run.UserID, run.RepoFullName, run.WorkflowName,
		run.Status, run.Conclusion, unixPtr(run.RunStartedAt), unixPtr(run.RunCompletedAt), created.UTC().Unix())
	if err != nil {
		return &repository.DataError{Op: "insert workflow run", Err: err}
	}
	return nil
}

func (r *SQLiteRepo) ListRuns(ctx context.Context, userID, repoFullName string, after, before *time.Time) ([]models.WorkflowRun, error) {
	q := `SELECT id, user_id, repo_full_name, workflow_name, status, conclusion, run_started_at, run_completed_at, created FROM workflow_runs WHERE user_id = ?`
	args := []any{userID}
	if repoFullName != "" {
		q += ` AND repo_full_name = ?`
		args = append(args, repoFullName)
	}
	if after != nil {
		q += ` AND created >= ?`
		args = append(args, after.UTC().Unix())
	}
	if before != nil {
		q += ` AND created <= ?`
		args = append(args, before.UTC().Unix())
	}
	q += ` ORDER BY created ASC`

	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var out []models.WorkflowRun
	for rows.Next() {
		var (
			run       models.WorkflowRun
			started   sql.NullInt64
			completed sql.NullInt64
			created   int64
		)
		if err := rows.Scan(&run.ID, &run.UserID, &run.RepoFullName, &run.WorkflowName,
			&run.Status, &run.Conclusion, &started, &completed, &created); err != nil {
			return nil, err
		}
		if started.Valid {
			t := timeFromUnix(started.Int64)
			run.RunStartedAt = &t
		}
		if completed.Valid {
			t := timeFromUnix(completed.Int64)
			run.RunCompletedAt = &t
		}
		run.CreatedAt = timeFromUnix(created)
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) CountRuns(ctx context.Context, userID string, after *time.Time) (int64, error) {
	q := `SELECT COUNT(1) FROM workflow_runs WHERE user_id = ?`
	args := []any{userID}
	if after != nil {
		q += ` AND created >= ?`
		args = append(args, after.UTC().Unix())
	}
	var n int64
	err := r.conn.QueryRow(ctx, q, args...).Scan(&n)
	return n, err
}

func (r *SQLiteRepo) ListRepoConnections(ctx context.Context, userID string, enabledOnly bool) ([]models.RepoConnection, error) {
	q := `SELECT id, user_id, provider, repo_full_name, enabled, created FROM repo_connections WHERE user_id = ?`
	if enabledOnly {
		q += ` AND enabled = 1`
	}
	q += ` ORDER BY created ASC`

	rows, err := r.conn.QueryRows(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list repo connections: %w", err)
	}
	defer rows.Close()

	var out []models.RepoConnection
	for rows.Next() {
		var (
			c       models.RepoConnection
			enabled int
			created int64
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.RepoFullName, &enabled, &created); err != nil {
			return nil, err
		}
		c.Enabled = enabled != 0
		c.CreatedAt = timeFromUnix(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) CreateRepoConnection(ctx context.Context, c *models.RepoConnection) (string, error) {
	if c == nil {
		return "", fmt.Errorf("repo connection is nil")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.conn.Exec(ctx, `INSERT INTO repo_connections (id, user_id, provider, repo_full_name, enabled, created) VALUES (?,?,?,?,?,?)`,
		c.ID, c.UserID, c.Provider, c.RepoFullName, boolToInt(c.Enabled), now())
	if err != nil {
		return "", &repository.DataError{Op: "create repo connection", Err: err}
	}
	return c.ID, nil
}
