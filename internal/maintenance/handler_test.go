package maintenance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vidtube-api/internal/observability"
)

type fakeSessionStore struct {
	cleared int64
	err     error
}

func (f *fakeSessionStore) ClearExpiredRefreshTokens(_ context.Context, _ time.Time, _ int) (int64, error) {
	return f.cleared, f.err
}

func do(handler *CleanupHandler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	recorder := httptest.NewRecorder()
	handler.Handle(recorder, req)
	return recorder
}

func TestCleanup_HiddenWithoutConfiguredSecret(t *testing.T) {
	handler := NewCleanupHandler(&fakeSessionStore{}, observability.NewLogger("test"), "", 500)
	require.Equal(t, http.StatusNotFound, do(handler, "Bearer anything").Code)
}

func TestCleanup_RejectsWrongSecret(t *testing.T) {
	handler := NewCleanupHandler(&fakeSessionStore{}, observability.NewLogger("test"), "s3cret", 500)
	require.Equal(t, http.StatusUnauthorized, do(handler, "Bearer wrong").Code)
	require.Equal(t, http.StatusUnauthorized, do(handler, "").Code)
}

func TestCleanup_ClearsExpiredSlots(t *testing.T) {
	handler := NewCleanupHandler(&fakeSessionStore{cleared: 3}, observability.NewLogger("test"), "s3cret", 500)
	recorder := do(handler, "Bearer s3cret")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), `"cleared_sessions":3`)
}

func TestCleanup_StoreFailure(t *testing.T) {
	handler := NewCleanupHandler(&fakeSessionStore{err: errors.New("boom")}, observability.NewLogger("test"), "s3cret", 500)
	require.Equal(t, http.StatusInternalServerError, do(handler, "Bearer s3cret").Code)
}
