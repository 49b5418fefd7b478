// resolver.go implements request-time credential resolution. A request may
// carry an X-API-Key header, a bearer token, both, or neither; the resolver
// turns that into exactly one authenticated user or a sentinel error. The
// API key always wins when both are present.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/telemetry-hub/telemetry-hub/internal/db/models"
)

var (
	// ErrNoCredential means nothing usable was supplied (or, in optional
	// mode, the bearer token failed verification)
	ErrNoCredential = errors.New("no credential")

	// ErrInvalidCredential covers unknown, revoked, and malformed credentials
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrExpiredCredential means an otherwise valid API key is past its expiry
	ErrExpiredCredential = errors.New("expired credential")

	// ErrAuthenticationRequired means a protected endpoint got no credential
	ErrAuthenticationRequired = errors.New("authentication required")
)

// UserStore is the subset of UserRepository the resolver needs
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// KeyStore is the subset of APIKeyRepository the resolver needs
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, keyPrefix string) ([]*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, keyID string) error
}

// Resolver combines API key lookup and JWT verification into a single
// principal resolution step
type Resolver struct {
	tokens *TokenService
	users  UserStore
	keys   KeyStore
	logger *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewResolver creates a Resolver
func NewResolver(tokens *TokenService, users UserStore, keys KeyStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		tokens: tokens,
		users:  users,
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
}

// ResolveOptional authenticates an ingestion request. The API key, when
// present, is authoritative: its failures are reported specifically and any
// bearer token is ignored. Without an API key, a bearer token is tried
// silently: verification failure collapses to ErrNoCredential so the caller
// can produce a single uniform 401. Store failures are not verification
// failures and propagate unchanged.
func (r *Resolver) ResolveOptional(ctx context.Context, apiKey, bearerToken string) (*models.User, error) {
	if apiKey != "" {
		return r.resolveAPIKey(ctx, apiKey)
	}

	if bearerToken != "" {
		user, err := r.resolveBearer(ctx, bearerToken)
		if errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrExpiredCredential) {
			return nil, ErrNoCredential
		}
		if err != nil {
			return nil, err
		}
		return user, nil
	}

	return nil, ErrNoCredential
}

// ResolveRequired authenticates a read/query request. Only bearer tokens are
// accepted and every failure is loud.
func (r *Resolver) ResolveRequired(ctx context.Context, bearerToken string) (*models.User, error) {
	if bearerToken == "" {
		return nil, ErrAuthenticationRequired
	}

	return r.resolveBearer(ctx, bearerToken)
}

// resolveAPIKey looks up the presented key by its plaintext prefix, verifies
// the bcrypt hash against each candidate, and checks revocation and expiry.
// On success the key's last-used timestamp is persisted immediately; that
// side effect is independent of whether the surrounding request later fails.
func (r *Resolver) resolveAPIKey(ctx context.Context, presented string) (*models.User, error) {
	candidates, err := r.keys.GetAPIKeysByPrefix(ctx, LookupPrefix(presented))
	if err != nil {
		return nil, err
	}

	var matched *models.APIKey
	for _, candidate := range candidates {
		if ValidateAPIKey(presented, candidate.KeyHash) {
			matched = candidate
			break
		}
	}

	if matched == nil || !matched.IsActive {
		return nil, ErrInvalidCredential
	}

	if matched.Expired(r.now()) {
		return nil, ErrExpiredCredential
	}

	if err := r.keys.UpdateLastUsed(ctx, matched.ID); err != nil {
		r.logger.Warn("failed to update API key last-used timestamp",
			"key_id", matched.ID, "error", err)
	}

	user, err := r.users.GetUserByID(ctx, matched.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, ErrInvalidCredential
	}

	return user, nil
}

// resolveBearer verifies an access token and requires its subject to be an
// active user at verification time, not just at issuance.
func (r *Resolver) resolveBearer(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := r.tokens.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	user, err := r.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, ErrInvalidCredential
	}

	return user, nil
}
