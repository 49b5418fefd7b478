// Package auth provides authentication primitives for the telemetry hub:
// JWT issuance and verification (short-lived access tokens plus long-lived
// refresh tokens) and API key generation/validation with bcrypt hashing.
// See resolver.go for the request-time credential resolution logic that
// combines the two.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds carried in the "kind" claim. Refresh tokens are rejected on
// regular endpoints and access tokens are rejected on the refresh endpoint.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenKind = errors.New("wrong token kind")
)

// Claims is the JWT claims structure for both token kinds
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Kind   string `json:"kind"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the hub's JWTs with a shared HMAC secret.
// The secret is validated at config load; there is no development fallback.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a TokenService
func NewTokenService(secret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		issuer:     "telemetry-hub",
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// GenerateAccessToken creates a short-lived access token for a user
func (s *TokenService) GenerateAccessToken(userID, email string) (string, error) {
	return s.generate(userID, email, TokenKindAccess, s.accessTTL)
}

// GenerateRefreshToken creates a long-lived refresh token for a user
func (s *TokenService) GenerateRefreshToken(userID, email string) (string, error) {
	return s.generate(userID, email, TokenKindRefresh, s.refreshTTL)
}

func (s *TokenService) generate(userID, email, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Email:  email,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateAccessToken parses a token and requires the access kind
func (s *TokenService) ValidateAccessToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenKindAccess)
}

// ValidateRefreshToken parses a token and requires the refresh kind
func (s *TokenService) ValidateRefreshToken(tokenString string) (*Claims, error) {
	return s.validate(tokenString, TokenKindRefresh)
}

func (s *TokenService) validate(tokenString, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}

	// Tokens issued before the kind claim existed carry an empty kind and
	// are treated as access tokens.
	tokenKind := claims.Kind
	if tokenKind == "" {
		tokenKind = TokenKindAccess
	}
	if tokenKind != kind {
		return nil, ErrWrongTokenKind
	}

	return claims, nil
}
