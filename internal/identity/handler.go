package identity

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/acesso-gov/acesso/internal/platform/httpx"
)

// Handler exposes administrative provisioning endpoints. The router guards
// every route with an authorization policy.
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

// CreateApplication registers an application scope.
// POST /v1/admin/applications
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	var input CreateApplicationInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	application, err := h.service.CreateApplication(r.Context(), input)
	if err != nil {
		h.logger.Error("create application", slog.String("code", input.Code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":   application.ID,
		"code": application.Code,
		"name": application.Name,
	})
}

// CreateRole registers a role under an application.
// POST /v1/admin/roles
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var input CreateRoleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	role, err := h.service.CreateRole(r.Context(), input)
	if err != nil {
		h.logger.Error("create role", slog.String("app_code", input.AppCode),
			slog.String("code", input.Code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":       role.ID,
		"app_code": role.AppCode,
		"code":     role.Code,
		"name":     role.Name,
	})
}

// SetRolePermissions replaces a role's permission grants.
// PUT /v1/admin/roles/{roleID}/permissions
func (h *Handler) SetRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := strconv.ParseInt(chi.URLParam(r, "roleID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "roleID must be an integer")
		return
	}
	var body struct {
		Codenames []string `json:"codenames"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	input := SetRolePermissionsInput{RoleID: roleID, Codenames: body.Codenames}
	if err := h.service.SetRolePermissions(r.Context(), input); err != nil {
		h.logger.Error("set role permissions", slog.Int64("role_id", roleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignmentRequest struct {
	UserID int64 `json:"user_id"`
	RoleID int64 `json:"role_id"`
}

// AssignRole grants a role to a user.
// POST /v1/admin/assignments
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	if req.UserID == 0 || req.RoleID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id and role_id are required")
		return
	}
	if err := h.service.AssignRole(r.Context(), req.UserID, req.RoleID); err != nil {
		h.logger.Error("assign role", slog.Int64("user_id", req.UserID),
			slog.Int64("role_id", req.RoleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveRole revokes a role from a user.
// DELETE /v1/admin/assignments
func (h *Handler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	var req assignmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	if req.UserID == 0 || req.RoleID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id and role_id are required")
		return
	}
	if err := h.service.RemoveRole(r.Context(), req.UserID, req.RoleID); err != nil {
		h.logger.Error("remove role", slog.Int64("user_id", req.UserID),
			slog.Int64("role_id", req.RoleID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAttribute upserts an ABAC fact for a user.
// PUT /v1/admin/attributes
func (h *Handler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	var input SetAttributeInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	if err := h.service.SetAttribute(r.Context(), input); err != nil {
		h.logger.Error("set attribute", slog.Int64("user_id", input.UserID),
			slog.String("key", input.Key), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAttribute removes an ABAC fact.
// DELETE /v1/admin/attributes?user_id=&app_code=&key=
func (h *Handler) DeleteAttribute(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "user_id must be an integer")
		return
	}
	appCode := r.URL.Query().Get("app_code")
	key := r.URL.Query().Get("key")
	if appCode == "" || key == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "app_code and key are required")
		return
	}
	if err := h.service.DeleteAttribute(r.Context(), userID, appCode, key); err != nil {
		h.logger.Error("delete attribute", slog.Int64("user_id", userID),
			slog.String("key", key), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
