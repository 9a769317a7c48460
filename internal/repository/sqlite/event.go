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

const eventCols = `id, user_id, title, color, start_date, end_date, description, created, updated`

func scanEvent(s interface{ Scan(...any) error }) (*models.Event, error) {
	var (
		e       models.Event
		start   int64
		end     int64
		created int64
		updated int64
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.Title, &e.Color, &start, &end, &e.Description, &created, &updated); err != nil {
		return nil, err
	}
	e.StartDate = timeFromUnix(start)
	e.EndDate = timeFromUnix(end)
	e.CreatedAt = timeFromUnix(created)
	e.UpdatedAt = timeFromUnix(updated)
	return &e, nil
}

func (r *SQLiteRepo) CreateEvent(ctx context.Context, e *models.Event) (string, error) {
	if e == nil {
		return "", fmt.Errorf("event is nil")
	}
	if e.EndDate.Before(e.StartDate) {
		return "", fmt.Errorf("event end date before start date")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	ts := now()
	_, err := r.conn.Exec(ctx, `INSERT INTO events (`+eventCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, e.Title, e.Color, e.StartDate.UTC().Unix(), e.EndDate.UTC().Unix(), e.Description, ts, ts)
	if err != nil {
		return "", &repository.DataError{Op: "create event", Err: err}
	}
	return e.ID, nil
}

func (r *SQLiteRepo) GetEvent(ctx context.Context, userID, id string) (*models.Event, error) {
	e, err := scanEvent(r.conn.QueryRow(ctx, `SELECT `+eventCols+` FROM events WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *SQLiteRepo) ListEvents(ctx context.Context, userID string, from, to *time.Time) ([]models.Event, error) {
	q := `SELECT ` + eventCols + ` FROM events WHERE user_id = ?`
	args := []any{userID}
	if from != nil {
		q += ` AND end_date >= ?`
		args = append(args, from.UTC().Unix())
	}
	if to != nil {
		q += ` AND start_date <= ?`
		args = append(args, to.UTC().Unix())
	}
	q += ` ORDER BY start_date ASC`

	rows, err := r.conn.QueryRows(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) UpdateEvent(ctx context.Context, userID string, e *models.Event) error {
	if e == nil {
		return fmt.Errorf("event is nil")
	}
	if e.EndDate.Before(e.StartDate) {
		return fmt.Errorf("event end date before start date")
	}
	res, err := r.conn.Exec(ctx, `UPDATE events SET title = ?, color = ?, start_date = ?, end_date = ?, description = ?, updated = ? WHERE id = ? AND user_id = ?`,
		e.Title, e.Color, e.StartDate.UTC().Unix(), e.EndDate.UTC().Unix(), e.Description, now(), e.ID, userID)
	if err != nil {
		return &repository.DataError{Op: "update event", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) DeleteEvent(ctx context.Context, userID, id string) error {
	res, err := r.conn.Exec(ctx, `DELETE FROM events WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
