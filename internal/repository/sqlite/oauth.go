package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

const oauthCols = `id, user_id, provider, provider_user_id, provider_username, access_token, refresh_token, scopes, active, last_used_at, created`

func scanConnection(s interface{ Scan(...any) error }) (*models.OAuthConnection, error) {
	var (
		c        models.OAuthConnection
		scopes   string
		active   int
		lastUsed sql.NullInt64
		created  int64
	)
	err := s.Scan(&c.ID, &c.UserID, &c.Provider, &c.ProviderUserID, &c.ProviderUsername,
		&c.AccessToken, &c.RefreshToken, &scopes, &active, &lastUsed, &created)
	if err != nil {
		return nil, err
	}
	if scopes != "" {
		_ = json.Unmarshal([]byte(scopes), &c.Scopes)
	}
	c.Active = active != 0
	if lastUsed.Valid {
		t := timeFromUnix(lastUsed.Int64)
		c.LastUsedAt = &t
	}
	c.CreatedAt = timeFromUnix(created)
	return &c, nil
}

// UpsertConnection replaces any previous linkage for the same
// user/provider pair.
func (r *SQLiteRepo) UpsertConnection(ctx context.Context, c *models.OAuthConnection) (string, error) {
	if c == nil {
		return "", fmt.Errorf("connection is nil")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	scopes, _ := json.Marshal(tagsOrEmpty(c.Scopes))
	q := `INSERT INTO oauth_connections (` + oauthCols + `) VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(user_id, provider) DO UPDATE SET provider_user_id = excluded.provider_user_id, provider_username = excluded.provider_username, access_token = excluded.access_token, refresh_token = excluded.refresh_token, scopes = excluded.scopes, active = excluded.active, last_used_at = excluded.last_used_at`
	_, err := r.conn.Exec(ctx, q, c.ID, c.UserID, c.Provider, c.ProviderUserID, c.ProviderUsername,
		c.AccessToken, c.RefreshToken, string(scopes), boolToInt(c.Active), unixPtr(c.LastUsedAt), now())
	if err != nil {
		return "", &repository.DataError{Op: "upsert oauth connection", Err: err}
	}

	// The pre-existing row keeps its id on conflict.
	existing, err := r.GetConnection(ctx, c.UserID, c.Provider)
	if err != nil {
		return "", err
	}
	return existing.ID, nil
}

func (r *SQLiteRepo) GetConnection(ctx context.Context, userID, provider string) (*models.OAuthConnection, error) {
	c, err := scanConnection(r.conn.QueryRow(ctx, `SELECT `+oauthCols+` FROM oauth_connections WHERE user_id = ? AND provider = ?`, userID, provider))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *SQLiteRepo) ListConnections(ctx context.Context, userID string) ([]models.OAuthConnection, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT `+oauthCols+` FROM oauth_connections WHERE user_id = ? ORDER BY created DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list oauth connections: %w", err)
	}
	defer rows.Close()

	var out []models.OAuthConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *SQLiteRepo) DeleteConnection(ctx context.Context, userID, id string) error {
	res, err := r.conn.Exec(ctx, `DELETE FROM oauth_connections WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) CountActiveConnections(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := r.conn.QueryRow(ctx, `SELECT COUNT(1) FROM oauth_connections WHERE user_id = ? AND active = 1`, userID).Scan(&n)
	return n, err
}
