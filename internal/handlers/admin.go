package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/folio-ledger/apiserver/internal/services"
	"github.com/folio-ledger/apiserver/types"
)

// UserManager is the account lifecycle surface used by admin and self routes.
type UserManager interface {
	RoleSource
	Status(ctx context.Context, id string) (types.Role, error)
	List(ctx context.Context) ([]types.User, error)
	Create(ctx context.Context, actorID string, in services.CreateUserInput) (types.User, error)
	SetActive(ctx context.Context, actorID, targetID string, active bool) error
	SoftDelete(ctx context.Context, actorID, targetID string) error
	HardDelete(ctx context.Context, actorID, targetID string) error
	ResetPassword(ctx context.Context, actorID, targetID, password string) error
	CompleteFirstLogin(ctx context.Context, callerID, targetID string) error
	ChangePassword(ctx context.Context, callerID, password string) error
}

// PermissionManager edits global permissions and point grants.
type PermissionManager interface {
	Overview(ctx context.Context) (services.Overview, error)
	Update(ctx context.Context, actorID string, in services.PermissionInput) (types.GlobalPermission, error)
	Grant(ctx context.Context, actorID string, in services.GrantInput) (types.Grant, error)
	Revoke(ctx context.Context, actorID string, in services.GrantInput) error
}

// AuditFeed reads and exports the audit feed.
type AuditFeed interface {
	List(ctx context.Context, filter types.AuditFilter) ([]types.AuditRecord, error)
	Export(ctx context.Context, filter types.AuditFilter) (services.ExportResult, error)
	OpenExport(ctx context.Context, id string) (io.ReadCloser, error)
}

// AdminHandler serves the admin-only management routes.
type AdminHandler struct {
	users       UserManager
	permissions PermissionManager
	audit       AuditFeed
	errs        *Responder
}

func NewAdminHandler(users UserManager, permissions PermissionManager, audit AuditFeed, errs *Responder) *AdminHandler {
	return &AdminHandler{users: users, permissions: permissions, audit: audit, errs: errs}
}

// AdminRouter registers admin routes. The caller must already be gated by
// RequireAuth and RequireAdmin.
func AdminRouter(r chi.Router, handler *AdminHandler) {
	r.Get("/users", handler.ListUsers)
	r.Route("/admin/users", func(r chi.Router) {
		r.Post("/create", handler.CreateUser)
		r.Post("/delete", handler.HardDeleteUser)
		r.Post("/soft-delete", handler.SoftDeleteUser)
		r.Post("/set-active", handler.SetActive)
		r.Post("/reset-password", handler.ResetPassword)
	})
	r.Get("/permissions", handler.GetPermissions)
	r.Post("/permissions", handler.UpdatePermissions)
	r.Post("/grant", handler.UpsertGrant)
	r.Delete("/grant", handler.DeleteGrant)
	r.Get("/audit", handler.ListAudit)
	r.Post("/audit/export", handler.ExportAudit)
	r.Get("/audit/export/{id}", handler.DownloadExport)
}

type CreateUserRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	IsAdmin  bool    `json:"is_admin"`
	FullName *string `json:"full_name"`
}

type CreateUserResponse struct {
	OK     bool   `json:"ok"`
	UserID string `json:"user_id"`
}

type UserTargetRequest struct {
	UserID string `json:"user_id"`
}

type DeleteUserResponse struct {
	OK   bool   `json:"ok"`
	Mode string `json:"mode"`
}

type SetActiveRequest struct {
	UserID   string `json:"user_id"`
	IsActive *bool  `json:"is_active"`
}

type SetActiveResponse struct {
	OK       bool `json:"ok"`
	IsActive bool `json:"is_active"`
}

type ResetPasswordRequest struct {
	UserID      string `json:"user_id"`
	NewPassword string `json:"new_password"`
}

type PermissionRequest struct {
	UserID              string `json:"user_id"`
	CanViewAll          *bool  `json:"can_view_all"`
	CanEditAll          *bool  `json:"can_edit_all"`
	CanEditDictionaries *bool  `json:"can_edit_dictionaries"`
	IsAdmin             *bool  `json:"is_admin"`
}

type PermissionResponse struct {
	OK          bool                   `json:"ok"`
	Permissions types.GlobalPermission `json:"permissions"`
}

type GrantRequest struct {
	Resource  string  `json:"resource"`
	OwnerID   *string `json:"owner_id"`
	GranteeID string  `json:"grantee_id"`
	Mode      string  `json:"mode"`
}

func (req GrantRequest) input() services.GrantInput {
	return services.GrantInput{
		Resource:  req.Resource,
		OwnerID:   req.OwnerID,
		GranteeID: req.GranteeID,
		Mode:      req.Mode,
	}
}

type GrantResponse struct {
	OK    bool        `json:"ok"`
	Grant types.Grant `json:"grant"`
}

type ExportRequest struct {
	Limit *int   `json:"limit"`
	Table string `json:"table"`
	User  string `json:"user"`
}

type ExportResponse struct {
	OK    bool   `json:"ok"`
	Key   string `json:"key"`
	Count int    `json:"count"`
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	out := make([]types.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	user, err := h.users.Create(r.Context(), callerID(r), services.CreateUserInput{
		Email:    req.Email,
		Password: req.Password,
		IsAdmin:  req.IsAdmin,
		FullName: req.FullName,
	})
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateUserResponse{OK: true, UserID: user.ID})
}

func (h *AdminHandler) HardDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req UserTargetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if err := h.users.HardDelete(r.Context(), callerID(r), req.UserID); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteUserResponse{OK: true, Mode: "hard_delete"})
}

func (h *AdminHandler) SoftDeleteUser(w http.ResponseWriter, r *http.Request) {
	var req UserTargetRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if err := h.users.SoftDelete(r.Context(), callerID(r), req.UserID); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteUserResponse{OK: true, Mode: "soft_delete"})
}

func (h *AdminHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}
	if err := h.users.SetActive(r.Context(), callerID(r), req.UserID, *req.IsActive); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SetActiveResponse{OK: true, IsActive: *req.IsActive})
}

func (h *AdminHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if err := h.users.ResetPassword(r.Context(), callerID(r), req.UserID, req.NewPassword); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *AdminHandler) GetPermissions(w http.ResponseWriter, r *http.Request) {
	overview, err := h.permissions.Overview(r.Context())
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *AdminHandler) UpdatePermissions(w http.ResponseWriter, r *http.Request) {
	var req PermissionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	perm, err := h.permissions.Update(r.Context(), callerID(r), services.PermissionInput{
		UserID:              req.UserID,
		CanViewAll:          req.CanViewAll,
		CanEditAll:          req.CanEditAll,
		CanEditDictionaries: req.CanEditDictionaries,
		IsAdmin:             req.IsAdmin,
	})
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PermissionResponse{OK: true, Permissions: perm})
}

func (h *AdminHandler) UpsertGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	grant, err := h.permissions.Grant(r.Context(), callerID(r), req.input())
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GrantResponse{OK: true, Grant: grant})
}

func (h *AdminHandler) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if err := h.permissions.Revoke(r.Context(), callerID(r), req.input()); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// ListAudit serves the feed newest first. A missing or unparsable limit
// falls back to the default.
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var limit *int
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil {
		limit = &n
	}
	records, err := h.audit.List(r.Context(), types.AuditFilter{
		Limit: limit,
		Table: strings.TrimSpace(q.Get("table")),
		User:  strings.TrimSpace(q.Get("user")),
	})
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *AdminHandler) ExportAudit(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	result, err := h.audit.Export(r.Context(), types.AuditFilter{
		Limit: req.Limit,
		Table: strings.TrimSpace(req.Table),
		User:  strings.TrimSpace(req.User),
	})
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{OK: true, Key: result.Key, Count: result.Count})
}

func (h *AdminHandler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	body, err := h.audit.OpenExport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.errs.logger.WithError(err).Warn("audit export download interrupted")
	}
}
