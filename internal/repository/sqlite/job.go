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

const jobCols = `id, user_id, type, status, progress, current_step, payload, result, result_file_path, result_file_size, result_file_mime, error_message, created, started_at, completed_at, estimated_completion`

func scanJob(s interface{ Scan(...any) error }) (*models.BackgroundJob, error) {
	var (
		j         models.BackgroundJob
		result    sql.NullString
		filePath  sql.NullString
		fileSize  sql.NullInt64
		fileMime  sql.NullString
		created   int64
		started   sql.NullInt64
		completed sql.NullInt64
		estimated sql.NullInt64
	)
	err := s.Scan(&j.ID, &j.UserID, &j.Type, &j.Status, &j.Progress, &j.CurrentStep, &j.Payload,
		&result, &filePath, &fileSize, &fileMime, &j.ErrorMessage, &created, &started, &completed, &estimated)
	if err != nil {
		return nil, err
	}
	if result.Valid {
		j.Result = result.String
	}
	if filePath.Valid {
		j.ResultFilePath = filePath.String
	}
	if fileSize.Valid {
		j.ResultFileSize = fileSize.Int64
	}
	if fileMime.Valid {
		j.ResultFileMime = fileMime.String
	}
	j.CreatedAt = timeFromUnix(created)
	if started.Valid {
		t := timeFromUnix(started.Int64)
		j.StartedAt = &t
	}
	if completed.Valid {
		t := timeFromUnix(completed.Int64)
		j.CompletedAt = &t
	}
	if estimated.Valid {
		t := timeFromUnix(estimated.Int64)
		j.EstimatedCompletion = &t
	}
	return &j, nil
}

func (r *SQLiteRepo) CreateJob(ctx context.Context, j *models.BackgroundJob) (string, error) {
	if j == nil {
		return "", fmt.Errorf("job is nil")
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = models.JobQueued
	}
	if j.Payload == "" {
		j.Payload = "{}"
	}
	ts := now()
	j.CreatedAt = timeFromUnix(ts)
	q := `INSERT INTO background_jobs (id, user_id, type, status, progress, current_step, payload, created, estimated_completion) VALUES (?,?,?,?,?,?,?,?,?)`
	_, err := r.conn.Exec(ctx, q, j.ID, j.UserID, j.Type, j.Status, clampProgress(j.Progress),
		j.CurrentStep, j.Payload, ts, unixPtr(j.EstimatedCompletion))
	if err != nil {
		return "", &repository.DataError{Op: "create job", Err: err}
	}
	return j.ID, nil
}

// GetJob enforces ownership: a mismatching user sees not-found, never the
// row itself.
func (r *SQLiteRepo) GetJob(ctx context.Context, userID, id string) (*models.BackgroundJob, error) {
	q := `SELECT ` + jobCols + ` FROM background_jobs WHERE id = ?`
	args := []any{id}
	if userID != "" {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	j, err := scanJob(r.conn.QueryRow(ctx, q, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func (r *SQLiteRepo) ListJobs(ctx context.Context, userID string, page repository.Page) ([]models.BackgroundJob, int64, error) {
	var total int64
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(1) FROM background_jobs WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	if page.Limit <= 0 {
		page.Limit = 50
	}
	rows, err := r.conn.QueryRows(ctx, `SELECT `+jobCols+` FROM background_jobs WHERE user_id = ? ORDER BY created DESC LIMIT ? OFFSET ?`, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.BackgroundJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *j)
	}
	return out, total, rows.Err()
}

// FetchNextQueued returns the oldest queued job, or nil when none exist.
func (r *SQLiteRepo) FetchNextQueued(ctx context.Context) (*models.BackgroundJob, error) {
	j, err := scanJob(r.conn.QueryRow(ctx, `SELECT `+jobCols+` FROM background_jobs WHERE status = 'queued' ORDER BY created ASC LIMIT 1`))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch next job: %w", err)
	}
	return j, nil
}

// MarkProcessing moves queued -> processing and stamps started_at once.
func (r *SQLiteRepo) MarkProcessing(ctx context.Context, id string) error {
	res, err := r.conn.Exec(ctx, `UPDATE background_jobs SET status = 'processing', started_at = COALESCE(started_at, ?) WHERE id = ? AND status = 'queued'`, now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

// UpdateProgress clamps to [0,100] and refuses updates on terminal jobs.
func (r *SQLiteRepo) UpdateProgress(ctx context.Context, id string, progress int, step string) error {
	res, err := r.conn.Exec(ctx, `UPDATE background_jobs SET progress = ?, current_step = ? WHERE id = ? AND status IN ('queued','processing')`,
		clampProgress(progress), step, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

// CompleteJob transitions to completed, forcing progress to 100 and
// recording the result artifact.
func (r *SQLiteRepo) CompleteJob(ctx context.Context, id string, result string, filePath string, fileSize int64, mime string) error {
	q := `UPDATE background_jobs SET status = 'completed', progress = 100, result = ?, result_file_path = ?, result_file_size = ?, result_file_mime = ?, completed_at = ? WHERE id = ? AND status IN ('queued','processing')`
	res, err := r.conn.Exec(ctx, q, nullIfEmpty(result), nullIfEmpty(filePath), fileSize, nullIfEmpty(mime), now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

func (r *SQLiteRepo) FailJob(ctx context.Context, id string, errMsg string) error {
	res, err := r.conn.Exec(ctx, `UPDATE background_jobs SET status = 'failed', error_message = ?, completed_at = ? WHERE id = ? AND status IN ('queued','processing')`, errMsg, now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrInvalidTransition
	}
	return nil
}

// CancelJob is only permitted from queued or processing. Anything else,
// including a cross-owner id, reports not-found.
func (r *SQLiteRepo) CancelJob(ctx context.Context, userID, id string) error {
	res, err := r.conn.Exec(ctx, `UPDATE background_jobs SET status = 'cancelled', completed_at = ? WHERE id = ? AND user_id = ? AND status IN ('queued','processing')`, now(), id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) DeleteJob(ctx context.Context, userID, id string) error {
	res, err := r.conn.Exec(ctx, `DELETE FROM background_jobs WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// PurgeTerminal removes terminal jobs completed before the cutoff.
func (r *SQLiteRepo) PurgeTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.conn.Exec(ctx, `DELETE FROM background_jobs WHERE status IN ('completed','failed','cancelled') AND completed_at IS NOT NULL AND completed_at < ?`, olderThan.UTC().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
