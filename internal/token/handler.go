package token

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/acesso-gov/acesso/internal/platform/httpx"
	"github.com/acesso-gov/acesso/internal/shared"
)

// Handler exposes token issuance, validation and refresh endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

type issueRequest struct {
	UserID   int64  `json:"user_id,omitempty"`
	AppCode  string `json:"app_code,omitempty"`
	TTLHours int    `json:"ttl_hours,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Claims    *Claims   `json:"claims"`
}

// Issue signs a token for the requested user, defaulting to the calling
// principal. Issuing for another user is an administrative operation and is
// guarded at the router.
// POST /v1/tokens
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	userID := req.UserID
	if userID == 0 {
		principal := shared.PrincipalFromContext(r.Context())
		if !principal.IsAuthenticated() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id is required")
			return
		}
		userID = principal.GetID()
	}

	signed, claims, err := h.service.Issue(r.Context(), userID, req.AppCode, time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		h.logger.Error("issue token", slog.Int64("user_id", userID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tokenResponse{Token: signed, ExpiresAt: claims.ExpiresAt, Claims: claims})
}

type presentedTokenRequest struct {
	Token string `json:"token"`
}

// Validate verifies a presented token and returns its claims.
// POST /v1/tokens/validate
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req presentedTokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Token == "" {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "token is required")
		return
	}
	claims, err := h.service.Validate(r.Context(), req.Token)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Invalid Token", "token did not validate")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// Refresh re-issues a token with a fresh snapshot and expiry.
// POST /v1/tokens/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req presentedTokenRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Token == "" {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "token is required")
		return
	}
	signed, claims, err := h.service.Refresh(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			httpx.Problem(w, http.StatusUnauthorized, "Invalid Token", "token did not validate")
			return
		}
		h.logger.Error("refresh token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tokenResponse{Token: signed, ExpiresAt: claims.ExpiresAt, Claims: claims})
}
