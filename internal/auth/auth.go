package auth

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cisentry/cisentry/internal/idp"
	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/pkg/repository"
)

// ErrForbidden means the authenticated user lacks the required role.
var ErrForbidden = errors.New("auth: forbidden")

// lastLoginThrottle bounds how often the last-login timestamp is written,
// to avoid write amplification on chatty clients.
const lastLoginThrottle = 5 * time.Minute

// UserinfoClient is the slice of the IdP client the authenticator needs.
type UserinfoClient interface {
	Userinfo(ctx context.Context, token string) (*idp.Userinfo, error)
}

// Authenticator validates opaque bearer tokens against the identity
// provider, caches successful validations, and lazily maintains the local
// user row. It owns its cache; construct once at startup and share.
type Authenticator struct {
	idp    UserinfoClient
	users  repository.UserRepo
	cache  *tokenCache
	ttl    time.Duration
	logger *slog.Logger

	// nowFn is swappable in tests.
	nowFn func() time.Time
}

func NewAuthenticator(idpClient UserinfoClient, users repository.UserRepo, ttl time.Duration, cacheSize int, logger *slog.Logger) *Authenticator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		idp:    idpClient,
		users:  users,
		cache:  newTokenCache(cacheSize),
		ttl:    ttl,
		logger: logger,
		nowFn:  time.Now,
	}
}

// Authenticate resolves a bearer token to the local user, creating or
// re-syncing the user row from IdP claims as needed.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, idp.ErrUnauthorized
	}
	now := a.nowFn().UTC()

	info := a.cache.get(token, now)
	if info == nil {
		var err error
		info, err = a.idp.Userinfo(ctx, token)
		if err != nil {
			return nil, err
		}
		a.cache.put(token, info, a.cacheDeadline(token, now))
	}

	u := &models.User{
		ID:            info.Subject,
		Email:         info.Email,
		Name:          info.Name,
		AvatarURL:     info.Picture,
		EmailVerified: info.EmailVerified,
	}
	if err := a.users.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	stored, err := a.users.GetUser(ctx, info.Subject)
	if err != nil {
		return nil, err
	}

	if stored.LastLoginAt == nil || now.Sub(*stored.LastLoginAt) > lastLoginThrottle {
		if err := a.users.TouchLastLogin(ctx, stored.ID, now); err != nil {
			a.logger.Warn("touch last login", "err", err, "user", stored.ID)
		} else {
			stored.LastLoginAt = &now
		}
	}
	return stored, nil
}

// cacheDeadline bounds the cache TTL by the token's own expiry when the
// token happens to be a JWT. Opaque tokens get the full TTL.
func (a *Authenticator) cacheDeadline(token string, now time.Time) time.Time {
	deadline := now.Add(a.ttl)
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Time.Before(deadline) {
			deadline = exp.Time
		}
	}
	return deadline
}

// RequireAdmin gates admin-only operations on the locally stored role.
func RequireAdmin(u *models.User) error {
	if !u.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
