package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	// ErrTokenExpired marks a token with a valid signature past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid marks a malformed, forged, or wrong-type token.
	ErrTokenInvalid = errors.New("token invalid")
)

// TokenConfig is immutable after construction; secrets are never read from the
// environment inside the token layer.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type TokenClaims struct {
	UserID   string
	IssuedAt time.Time
}

// TokenManager issues and verifies the HS256 access/refresh token pair.
// Issuance is pure signing; persisting refresh tokens belongs to the Service.
type TokenManager struct {
	cfg TokenConfig
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, fmt.Errorf("token secrets must not be empty")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token ttls must be positive")
	}
	return &TokenManager{cfg: cfg}, nil
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.cfg.AccessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.cfg.RefreshTTL }

func (m *TokenManager) IssueAccess(userID string) (string, error) {
	return m.issue(userID, tokenTypeAccess, m.cfg.AccessSecret, m.cfg.AccessTTL)
}

func (m *TokenManager) IssueRefresh(userID string) (string, error) {
	return m.issue(userID, tokenTypeRefresh, m.cfg.RefreshSecret, m.cfg.RefreshTTL)
}

func (m *TokenManager) issue(userID, tokenType string, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"typ": tokenType,
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	return encoded, nil
}

func (m *TokenManager) VerifyAccess(token string) (TokenClaims, error) {
	return m.verify(token, tokenTypeAccess, m.cfg.AccessSecret)
}

func (m *TokenManager) VerifyRefresh(token string) (TokenClaims, error) {
	return m.verify(token, tokenTypeRefresh, m.cfg.RefreshSecret)
}

func (m *TokenManager) verify(token, wantType string, secret []byte) (TokenClaims, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenClaims{}, ErrTokenExpired
		}
		return TokenClaims{}, ErrTokenInvalid
	}
	if !parsed.Valid {
		return TokenClaims{}, ErrTokenInvalid
	}

	if tokenType, _ := claims["typ"].(string); tokenType != wantType {
		return TokenClaims{}, ErrTokenInvalid
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return TokenClaims{}, ErrTokenInvalid
	}

	result := TokenClaims{UserID: subject}
	if issuedAt, err := claims.GetIssuedAt(); err == nil && issuedAt != nil {
		result.IssuedAt = issuedAt.Time
	}

	return result, nil
}
