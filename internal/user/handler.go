package user

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"vidtube-api/internal/auth"
	"vidtube-api/internal/media"
	"vidtube-api/internal/observability"
)

// Accounts is the slice of the auth service the user endpoints need.
type Accounts interface {
	Register(ctx context.Context, in auth.RegisterInput) (auth.PublicUser, error)
	GetUser(ctx context.Context, userID string) (auth.PublicUser, error)
}

type Handler struct {
	accounts Accounts
	uploader media.Uploader
	logger   *observability.Logger
}

func NewHandler(accounts Accounts, uploader media.Uploader, logger *observability.Logger) *Handler {
	return &Handler{accounts: accounts, uploader: uploader, logger: logger}
}

// Register creates an account from a multipart form: text fields plus a
// required avatar image and an optional cover image, both stored remotely
// before the record is written.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(media.MaxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	input := auth.RegisterInput{
		Username: r.FormValue("username"),
		Email:    r.FormValue("email"),
		FullName: r.FormValue("fullname"),
		Password: r.FormValue("password"),
	}

	avatarSource, err := imageSource(r, "avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, "avatar is required")
		return
	}

	avatarURL, err := h.uploader.UploadImage(r.Context(), avatarSource)
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("avatar_upload_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusBadGateway, "failed to upload avatar")
		return
	}
	input.AvatarURL = avatarURL

	// Cover image is optional; a missing part is not an error.
	if coverSource, err := imageSource(r, "coverImage"); err == nil {
		coverURL, err := h.uploader.UploadImage(r.Context(), coverSource)
		if err != nil {
			sentry.CaptureException(err)
			h.logger.Error("cover_upload_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusBadGateway, "failed to upload cover image")
			return
		}
		input.CoverImageURL = coverURL
	}

	created, err := h.accounts.Register(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "all fields are required")
		case errors.Is(err, auth.ErrDuplicateUser):
			writeError(w, http.StatusConflict, "username or email already exists")
		default:
			sentry.CaptureException(err)
			h.logger.Error("register_failed", map[string]any{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to register user")
		}
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	current, err := h.accounts.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		h.logger.Error("get_current_user_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, current)
}

func imageSource(r *http.Request, field string) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return media.ImagePartToDataURI(file, header)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
