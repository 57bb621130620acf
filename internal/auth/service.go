package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidInput marks malformed or incomplete request data.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCredentials marks a password that does not match the stored hash.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrStaleRefreshToken marks a cryptographically valid refresh token that no
	// longer matches the stored slot: already rotated away, cleared by logout,
	// or replayed.
	ErrStaleRefreshToken = errors.New("stale refresh token")
)

// Service orchestrates credential verification, token issuance, and the
// single-slot refresh rotation protocol. One refresh token is valid per user
// at any instant; a new login replaces the previous session's token.
type Service struct {
	store                  Store
	tokens                 *TokenManager
	revokeOnPasswordChange bool
}

func NewService(store Store, tokens *TokenManager) *Service {
	return &Service{
		store:                  store,
		tokens:                 tokens,
		revokeOnPasswordChange: true,
	}
}

// WithRevokeOnPasswordChange toggles clearing the session slot when the
// password changes. Enabled by default.
func (s *Service) WithRevokeOnPasswordChange(enabled bool) {
	s.revokeOnPasswordChange = enabled
}

type LoginInput struct {
	Username string
	Email    string
	Password string
}

type LoginResult struct {
	Tokens Tokens
	User   PublicUser
}

func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	username := strings.TrimSpace(strings.ToLower(in.Username))
	email := strings.TrimSpace(strings.ToLower(in.Email))
	password := strings.TrimSpace(in.Password)

	identifier := username
	if identifier == "" {
		identifier = email
	}
	if identifier == "" || password == "" {
		return LoginResult{}, ErrInvalidInput
	}

	user, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, fmt.Errorf("load user for login: %w", err)
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return LoginResult{}, ErrInvalidCredentials
	}

	pair, refreshExpiry, err := s.issuePair(user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	// Overwrites any previous slot: a new login invalidates the prior session.
	refreshToken := pair.RefreshToken
	if err := s.store.SetRefreshToken(ctx, user.ID, &refreshToken, &refreshExpiry); err != nil {
		return LoginResult{}, fmt.Errorf("persist refresh token: %w", err)
	}

	return LoginResult{Tokens: pair, User: user.Public()}, nil
}

// Refresh rotates the session slot. The presented token must carry a valid
// signature, be unexpired, and still byte-for-byte equal the stored value.
func (s *Service) Refresh(ctx context.Context, presented string) (Tokens, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return Tokens{}, ErrTokenInvalid
	}

	claims, err := s.tokens.VerifyRefresh(presented)
	if err != nil {
		return Tokens{}, err
	}

	user, err := s.store.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrUserNotFound
		}
		return Tokens{}, fmt.Errorf("load user for refresh: %w", err)
	}

	pair, refreshExpiry, err := s.issuePair(user.ID)
	if err != nil {
		return Tokens{}, err
	}

	rotated, err := s.store.RotateRefreshToken(ctx, user.ID, presented, pair.RefreshToken, refreshExpiry)
	if err != nil {
		return Tokens{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !rotated {
		// Replay detection point: the token was rotated away, cleared, or lost
		// a concurrent rotation race.
		return Tokens{}, ErrStaleRefreshToken
	}

	return pair, nil
}

// Logout clears the session slot. Idempotent; no token verification happens
// here, the caller is identified by an upstream access-token check.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.store.SetRefreshToken(ctx, userID, nil, nil); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	oldPassword = strings.TrimSpace(oldPassword)
	newPassword = strings.TrimSpace(newPassword)
	if oldPassword == "" || newPassword == "" {
		return ErrInvalidInput
	}

	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("load user for password change: %w", err)
	}

	if !VerifyPassword(oldPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	if s.revokeOnPasswordChange {
		if err := s.store.SetRefreshToken(ctx, userID, nil, nil); err != nil {
			return fmt.Errorf("revoke session after password change: %w", err)
		}
	}

	return nil
}

type RegisterInput struct {
	Username      string
	Email         string
	FullName      string
	Password      string
	AvatarURL     string
	CoverImageURL string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (PublicUser, error) {
	in.Username = strings.TrimSpace(strings.ToLower(in.Username))
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.Password = strings.TrimSpace(in.Password)

	if in.Username == "" || in.Email == "" || in.FullName == "" || in.Password == "" {
		return PublicUser{}, ErrInvalidInput
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return PublicUser{}, err
	}

	user, err := s.store.CreateUser(ctx, User{
		Username:      in.Username,
		Email:         in.Email,
		FullName:      in.FullName,
		AvatarURL:     in.AvatarURL,
		CoverImageURL: in.CoverImageURL,
		PasswordHash:  hash,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return PublicUser{}, ErrDuplicateUser
		}
		return PublicUser{}, fmt.Errorf("create user: %w", err)
	}

	return user.Public(), nil
}

func (s *Service) GetUser(ctx context.Context, userID string) (PublicUser, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return PublicUser{}, ErrUserNotFound
		}
		return PublicUser{}, fmt.Errorf("load user: %w", err)
	}
	return user.Public(), nil
}

func (s *Service) issuePair(userID string) (Tokens, time.Time, error) {
	access, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return Tokens{}, time.Time{}, err
	}

	refresh, err := s.tokens.IssueRefresh(userID)
	if err != nil {
		return Tokens{}, time.Time{}, err
	}

	pair := Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
	}

	return pair, time.Now().UTC().Add(s.tokens.RefreshTTL()), nil
}
