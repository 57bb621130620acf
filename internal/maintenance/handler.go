package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"vidtube-api/internal/observability"
)

// SessionStore is the cleanup-relevant slice of the auth store.
type SessionStore interface {
	ClearExpiredRefreshTokens(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// CleanupHandler clears session slots whose refresh token has expired. Meant
// to be hit by a scheduled job authenticated with the cron secret; the route
// pretends not to exist when no secret is configured.
type CleanupHandler struct {
	store      SessionStore
	logger     *observability.Logger
	cronSecret string
	batchSize  int
}

func NewCleanupHandler(store SessionStore, logger *observability.Logger, cronSecret string, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		store:      store,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		batchSize:  batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		h.logger.Warn("cleanup_unauthorized", map[string]any{"ip": observability.ClientIP(r)})
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cleared, err := h.store.ClearExpiredRefreshTokens(r.Context(), time.Now().UTC(), h.batchSize)
	if err != nil {
		h.logger.Error("session_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("session_cleanup_completed", map[string]any{"cleared_sessions": cleared})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"cleared_sessions": cleared,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
