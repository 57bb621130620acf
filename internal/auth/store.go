package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("username or email already taken")
)

// Store abstracts the user record persistence the session manager depends on.
//
// RotateRefreshToken must be a compare-and-swap: the stored slot is replaced
// only while it still equals the presented value, so that two concurrent
// refreshes with the same token rotate exactly once.
type Store interface {
	FindByIdentifier(ctx context.Context, identifier string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, u User) (User, error)

	// SetRefreshToken overwrites the single session slot; nil clears it.
	SetRefreshToken(ctx context.Context, userID string, token *string, expiresAt *time.Time) error
	RotateRefreshToken(ctx context.Context, userID, oldToken, newToken string, expiresAt time.Time) (bool, error)

	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	ClearExpiredRefreshTokens(ctx context.Context, now time.Time, batchSize int) (int64, error)
}
