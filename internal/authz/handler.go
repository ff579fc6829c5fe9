package authz

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/acesso-gov/acesso/internal/identity"
	"github.com/acesso-gov/acesso/internal/platform/httpx"
	"github.com/acesso-gov/acesso/internal/shared"
)

// Handler exposes the decision and role endpoints consumed by interface
// adapters that cannot link this module directly.
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

type checkRequest struct {
	AppCode string `json:"app_code"`
	Policy  Policy `json:"policy"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

// Check evaluates a policy for the current principal.
// POST /v1/decisions/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	if req.AppCode == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "app_code is required")
		return
	}
	if err := req.Policy.Validate(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	principal := shared.PrincipalFromContext(r.Context())
	allowed, err := h.service.Evaluate(r.Context(), principal, req.AppCode, req.Policy)
	if err != nil {
		h.logger.Error("evaluate policy", slog.String("app_code", req.AppCode), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

// Permissions returns the principal's effective permission codenames in one
// application.
// GET /v1/permissions?app_code=X
func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	appCode := r.URL.Query().Get("app_code")
	if appCode == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "app_code is required")
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if !principal.IsAuthenticated() {
		httpx.JSON(w, http.StatusOK, map[string][]string{"permissions": {}})
		return
	}
	set, err := h.service.Permissions().Get(r.Context(), principal.GetID(), appCode)
	if err != nil {
		h.logger.Error("resolve permissions", slog.String("app_code", appCode), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"permissions": set.Sorted()})
}

// Roles lists the principal's roles, grouped by application or scoped to one.
// GET /v1/roles[?app_code=X]
func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	appCode := r.URL.Query().Get("app_code")

	if appCode != "" {
		roles, err := h.service.Roles().RolesForApp(r.Context(), principal, appCode)
		if err != nil {
			h.logger.Error("list roles", slog.String("app_code", appCode), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if roles == nil {
			roles = []identity.RoleInfo{}
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
		return
	}

	grouped, err := h.service.Roles().AllRoles(r.Context(), principal)
	if err != nil {
		h.logger.Error("list all roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": grouped})
}

// ActiveRole returns the role the principal currently operates as.
// GET /v1/roles/active?app_code=X
func (h *Handler) ActiveRole(w http.ResponseWriter, r *http.Request) {
	appCode := r.URL.Query().Get("app_code")
	if appCode == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "app_code is required")
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())

	role, err := h.service.Roles().ActiveRole(r.Context(), principal, appCode, sessionData(sess))
	if err != nil {
		h.logger.Error("resolve active role", slog.String("app_code", appCode), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if role == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no role held in application")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role": role})
}

type setActiveRoleRequest struct {
	AppCode string `json:"app_code"`
	RoleID  int64  `json:"role_id"`
}

// SetActiveRole pins the active role in the caller's session.
// PUT /v1/roles/active
func (h *Handler) SetActiveRole(w http.ResponseWriter, r *http.Request) {
	var req setActiveRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Body", "request body is not valid JSON")
		return
	}
	if req.AppCode == "" || req.RoleID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "app_code and role_id are required")
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "no session to pin the role in")
		return
	}

	if err := h.service.Roles().SetActiveRole(r.Context(), principal, req.AppCode, req.RoleID, sess); err != nil {
		if errors.Is(err, ErrRoleNotHeld) {
			httpx.Problem(w, http.StatusConflict, "Role Not Held", err.Error())
			return
		}
		h.logger.Error("set active role", slog.String("app_code", req.AppCode), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearActiveRole drops the active-role pin.
// DELETE /v1/roles/active?app_code=X
func (h *Handler) ClearActiveRole(w http.ResponseWriter, r *http.Request) {
	appCode := r.URL.Query().Get("app_code")
	if appCode == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "app_code is required")
		return
	}
	sess := shared.SessionFromContext(r.Context())
	h.service.Roles().ClearActiveRole(appCode, sessionData(sess))
	w.WriteHeader(http.StatusNoContent)
}

// sessionData converts the possibly nil session pointer into the resolver's
// interface without producing a non-nil interface around a nil pointer.
func sessionData(sess *shared.Session) SessionData {
	if sess == nil {
		return nil
	}
	return sess
}
