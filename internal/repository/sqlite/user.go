package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

func (r *SQLiteRepo) GetUser(ctx context.Context, id string) (*models.User, error) {
	row := r.conn.QueryRow(ctx, `SELECT id, email, name, avatar_url, email_verified, role, last_login_at, created FROM users WHERE id = ?`, id)
	var (
		u         models.User
		verified  int
		lastLogin sql.NullInt64
		created   int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.AvatarURL, &verified, &u.Role, &lastLogin, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	u.EmailVerified = verified != 0
	if lastLogin.Valid {
		t := timeFromUnix(lastLogin.Int64)
		u.LastLoginAt = &t
	}
	u.CreatedAt = timeFromUnix(created)
	return &u, nil
}

// UpsertUser creates the row on first authentication and re-syncs profile
// fields from IdP claims on subsequent ones. Role is never overwritten by
// the upsert; it is managed locally.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *models.User) error {
	if u == nil {
		return fmt.Errorf("user is nil")
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	q := `INSERT INTO users (id, email, name, avatar_url, email_verified, role, created)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name, avatar_url = excluded.avatar_url, email_verified = excluded.email_verified`
	_, err := r.conn.Exec(ctx, q, u.ID, u.Email, u.Name, u.AvatarURL, boolToInt(u.EmailVerified), u.Role, now())
	if err != nil {
		return &repository.DataError{Op: "upsert user", Err: err}
	}
	return nil
}

func (r *SQLiteRepo) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.conn.Exec(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, at.UTC().Unix(), id)
	return err
}
