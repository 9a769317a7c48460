package oauthlink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"log/slog"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/cisentry/cisentry/internal/idp"
	"github.com/cisentry/cisentry/internal/models"
	"github.com/cisentry/cisentry/internal/secrets"
	"github.com/cisentry/cisentry/pkg/repository"
)

// Providers this service knows how to link.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// TokenClient is the slice of the IdP client the linkage service needs.
type TokenClient interface {
	ProviderTokens(ctx context.Context, token, provider string) (*idp.ProviderToken, error)
}

// Service fetches GitHub/GitLab access tokens previously obtained by the
// identity provider and persists them locally, encrypted, for later use
// against the provider APIs.
type Service struct {
	idp    TokenClient
	repo   repository.OAuthRepo
	box    *secrets.Box
	logger *slog.Logger

	// newGitHub is swappable in tests to avoid real API calls.
	newGitHub func(ts oauth2.TokenSource) githubUsers
}

type githubUsers interface {
	Get(ctx context.Context, user string) (*github.User, *github.Response, error)
}

func New(idpClient TokenClient, repo repository.OAuthRepo, box *secrets.Box, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		idp:    idpClient,
		repo:   repo,
		box:    box,
		logger: logger,
		newGitHub: func(ts oauth2.TokenSource) githubUsers {
			return github.NewClient(oauth2.NewClient(context.Background(), ts)).Users
		},
	}
}

// Link retrieves the provider token from the IdP, verifies it where
// possible, and upserts the local connection with tokens encrypted at
// rest.
func (s *Service) Link(ctx context.Context, userID, bearerToken, provider string) (*models.OAuthConnection, error) {
	if provider != ProviderGitHub && provider != ProviderGitLab {
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}

	tok, err := s.idp.ProviderTokens(ctx, bearerToken, provider)
	if err != nil {
		return nil, err
	}

	conn := &models.OAuthConnection{
		UserID:           userID,
		Provider:         provider,
		ProviderUserID:   tok.ProviderID,
		ProviderUsername: tok.ProviderUserName,
		Scopes:           tok.Scopes,
		Active:           true,
	}

	if provider == ProviderGitHub {
		// Verify the token works and backfill the username when the IdP
		// record lacks one.
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.AccessToken})
		ghUser, _, err := s.newGitHub(ts).Get(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("verify github token: %w", err)
		}
		if conn.ProviderUsername == "" {
			conn.ProviderUsername = ghUser.GetLogin()
		}
		if conn.ProviderUserID == "" {
			conn.ProviderUserID = strconv.FormatInt(ghUser.GetID(), 10)
		}
	}

	if conn.AccessToken, err = s.box.Encrypt(tok.AccessToken); err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	if tok.RefreshToken != "" {
		if conn.RefreshToken, err = s.box.Encrypt(tok.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	now := time.Now().UTC()
	conn.LastUsedAt = &now

	id, err := s.repo.UpsertConnection(ctx, conn)
	if err != nil {
		return nil, err
	}
	conn.ID = id
	s.logger.Info("linked provider", "user", userID, "provider", provider, "provider_user", conn.ProviderUsername)
	return conn, nil
}

// AccessToken decrypts the stored access token for a provider connection.
func (s *Service) AccessToken(ctx context.Context, userID, provider string) (string, error) {
	conn, err := s.repo.GetConnection(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if !conn.Active {
		return "", fmt.Errorf("%s connection is inactive", provider)
	}
	return s.box.Decrypt(conn.AccessToken)
}

// List returns the user's connections with token material stripped by the
// model's JSON tags.
func (s *Service) List(ctx context.Context, userID string) ([]models.OAuthConnection, error) {
	return s.repo.ListConnections(ctx, userID)
}

// Unlink removes a connection.
func (s *Service) Unlink(ctx context.Context, userID, id string) error {
	return s.repo.DeleteConnection(ctx, userID, id)
}
