package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

// fakeStore keeps user records in memory behind a mutex so the rotation
// compare-and-swap behaves like the conditional UPDATE in Postgres.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*User
	fail  bool
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*User)}
}

func (f *fakeStore) addUser(t *testing.T, username, email, password string) User {
	t.Helper()

	hash, err := HashPassword(password)
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()

	u := &User{
		ID:           fmt.Sprintf("user-%d", len(f.users)+1),
		Username:     username,
		Email:        email,
		FullName:     "Test User",
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	f.users[u.ID] = u
	return *u
}

func (f *fakeStore) slot(userID string) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		return u.RefreshToken
	}
	return nil
}

func (f *fakeStore) FindByIdentifier(_ context.Context, identifier string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return User{}, errStoreDown
	}
	for _, u := range f.users {
		if u.Username == identifier || u.Email == identifier {
			return *u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (f *fakeStore) FindByID(_ context.Context, id string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return User{}, errStoreDown
	}
	if u, ok := f.users[id]; ok {
		return *u, nil
	}
	return User{}, ErrUserNotFound
}

func (f *fakeStore) CreateUser(_ context.Context, u User) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return User{}, errStoreDown
	}
	for _, existing := range f.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return User{}, ErrDuplicateUser
		}
	}
	u.ID = fmt.Sprintf("user-%d", len(f.users)+1)
	u.CreatedAt = time.Now().UTC()
	f.users[u.ID] = &u
	return u, nil
}

func (f *fakeStore) SetRefreshToken(_ context.Context, userID string, token *string, expiresAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	u, ok := f.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.RefreshToken = token
	u.RefreshExpiresAt = expiresAt
	return nil
}

func (f *fakeStore) RotateRefreshToken(_ context.Context, userID, oldToken, newToken string, expiresAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return false, errStoreDown
	}
	u, ok := f.users[userID]
	if !ok || u.RefreshToken == nil || *u.RefreshToken != oldToken {
		return false, nil
	}
	u.RefreshToken = &newToken
	u.RefreshExpiresAt = &expiresAt
	return true, nil
}

func (f *fakeStore) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errStoreDown
	}
	u, ok := f.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f *fakeStore) ClearExpiredRefreshTokens(_ context.Context, now time.Time, _ int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cleared int64
	for _, u := range f.users {
		if u.RefreshExpiresAt != nil && u.RefreshExpiresAt.Before(now) {
			u.RefreshToken = nil
			u.RefreshExpiresAt = nil
			cleared++
		}
	}
	return cleared, nil
}

func newTestTokenManager(t *testing.T) *TokenManager {
	t.Helper()
	manager, err := NewTokenManager(TokenConfig{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
	})
	require.NoError(t, err)
	return manager
}

func newTestService(t *testing.T) (*Service, *fakeStore, *TokenManager) {
	t.Helper()
	store := newFakeStore()
	manager := newTestTokenManager(t)
	return NewService(store, manager), store, manager
}

func TestLogin_IssuesTokensAndPersistsRefreshSlot(t *testing.T) {
	service, store, manager := newTestService(t)
	alice := store.addUser(t, "alice", "alice@example.com", "correctpw")

	result, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)
	require.Equal(t, alice.ID, result.User.ID)
	require.Equal(t, "Bearer", result.Tokens.TokenType)

	accessClaims, err := manager.VerifyAccess(result.Tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, alice.ID, accessClaims.UserID)

	refreshClaims, err := manager.VerifyRefresh(result.Tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, alice.ID, refreshClaims.UserID)

	slot := store.slot(alice.ID)
	require.NotNil(t, slot)
	require.Equal(t, result.Tokens.RefreshToken, *slot)

	// the freshly persisted token refreshes immediately
	_, err = service.Refresh(context.Background(), result.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestLogin_ByEmail(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	result, err := service.Login(context.Background(), LoginInput{Email: "Alice@Example.com", Password: "correctpw"})
	require.NoError(t, err)
	require.Equal(t, "alice", result.User.Username)
}

func TestLogin_WrongPasswordLeavesSlotUntouched(t *testing.T) {
	service, store, _ := newTestService(t)
	alice := store.addUser(t, "alice", "alice@example.com", "correctpw")

	_, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "wrongpw"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	require.Nil(t, store.slot(alice.ID))
}

func TestLogin_UnknownUser(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Login(context.Background(), LoginInput{Username: "nobody", Password: "whatever"})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestLogin_MissingIdentifierOrPassword(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Login(context.Background(), LoginInput{Password: "pw"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = service.Login(context.Background(), LoginInput{Username: "alice"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	first, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	_, err = service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	// the first session's refresh token was silently invalidated
	_, err = service.Refresh(context.Background(), first.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrStaleRefreshToken)
}

func TestRefresh_RotationMakesOldTokenPermanentlyStale(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)
	rt1 := login.Tokens.RefreshToken

	second, err := service.Refresh(context.Background(), rt1)
	require.NoError(t, err)
	require.NotEqual(t, rt1, second.RefreshToken)

	_, err = service.Refresh(context.Background(), rt1)
	require.ErrorIs(t, err, ErrStaleRefreshToken)

	third, err := service.Refresh(context.Background(), second.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, third.AccessToken)
}

func TestRefresh_RejectsTamperedToken(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	tampered := login.Tokens.RefreshToken[:len(login.Tokens.RefreshToken)-2] + "xx"
	_, err = service.Refresh(context.Background(), tampered)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	_, err = service.Refresh(context.Background(), login.Tokens.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefresh_EmptyToken(t *testing.T) {
	service, _, _ := newTestService(t)

	_, err := service.Refresh(context.Background(), "  ")
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefresh_StoreOutageIsNotACredentialFailure(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	store.fail = true
	_, err = service.Refresh(context.Background(), login.Tokens.RefreshToken)
	require.ErrorIs(t, err, errStoreDown)
	require.NotErrorIs(t, err, ErrStaleRefreshToken)
	require.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_ConcurrentCallsRotateExactlyOnce(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)
	rt1 := login.Tokens.RefreshToken

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Refresh(context.Background(), rt1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, stale int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrStaleRefreshToken):
			stale++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}

	require.Equal(t, 1, succeeded)
	require.Equal(t, attempts-1, stale)
}

func TestLogout_InvalidatesRefreshToken(t *testing.T) {
	service, store, _ := newTestService(t)
	alice := store.addUser(t, "alice", "alice@example.com", "correctpw")

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	require.NoError(t, service.Logout(context.Background(), alice.ID))
	require.Nil(t, store.slot(alice.ID))

	_, err = service.Refresh(context.Background(), login.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrStaleRefreshToken)

	// idempotent
	require.NoError(t, service.Logout(context.Background(), alice.ID))
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	service, store, _ := newTestService(t)
	alice := store.addUser(t, "alice", "alice@example.com", "correctpw")

	err := service.ChangePassword(context.Background(), alice.ID, "wrongpw", "newpassword")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_RevokesSessionByDefault(t *testing.T) {
	service, store, _ := newTestService(t)
	alice := store.addUser(t, "alice", "alice@example.com", "correctpw")

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	require.NoError(t, service.ChangePassword(context.Background(), alice.ID, "correctpw", "newpassword"))
	require.Nil(t, store.slot(alice.ID))

	_, err = service.Refresh(context.Background(), login.Tokens.RefreshToken)
	require.ErrorIs(t, err, ErrStaleRefreshToken)

	// new password works, old one does not
	_, err = service.Login(context.Background(), LoginInput{Username: "alice", Password: "newpassword"})
	require.NoError(t, err)
	_, err = service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestChangePassword_KeepsSessionWhenRevokeDisabled(t *testing.T) {
	service, store, _ := newTestService(t)
	alice := store.addUser(t, "alice", "alice@example.com", "correctpw")
	service.WithRevokeOnPasswordChange(false)

	login, err := service.Login(context.Background(), LoginInput{Username: "alice", Password: "correctpw"})
	require.NoError(t, err)

	require.NoError(t, service.ChangePassword(context.Background(), alice.ID, "correctpw", "newpassword"))
	require.NotNil(t, store.slot(alice.ID))

	_, err = service.Refresh(context.Background(), login.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestRegister_CreatesUserWithHashedPassword(t *testing.T) {
	service, store, _ := newTestService(t)

	created, err := service.Register(context.Background(), RegisterInput{
		Username:  "Bob",
		Email:     "Bob@Example.com",
		FullName:  "Bob Builder",
		Password:  "strongpassword",
		AvatarURL: "https://cdn.example/avatar.png",
	})
	require.NoError(t, err)
	require.Equal(t, "bob", created.Username)
	require.Equal(t, "bob@example.com", created.Email)

	stored, err := store.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotEqual(t, "strongpassword", stored.PasswordHash)
	require.True(t, VerifyPassword("strongpassword", stored.PasswordHash))
}

func TestRegister_DuplicateAndMissingFields(t *testing.T) {
	service, store, _ := newTestService(t)
	store.addUser(t, "alice", "alice@example.com", "correctpw")

	_, err := service.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "other@example.com", FullName: "A", Password: "pw12345678",
	})
	require.ErrorIs(t, err, ErrDuplicateUser)

	_, err = service.Register(context.Background(), RegisterInput{Username: "x"})
	require.ErrorIs(t, err, ErrInvalidInput)
}
