package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

// RoleSource loads the role flags of a caller.
type RoleSource interface {
	Role(ctx context.Context, id string) (types.Role, error)
}

// Authenticator exchanges credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (string, identity.Identity, error)
}

// Gate resolves bearer tokens and enforces the activity and admin checks.
type Gate struct {
	verifier identity.Verifier
	roles    RoleSource
	errs     *Responder
}

func NewGate(verifier identity.Verifier, roles RoleSource, errs *Responder) *Gate {
	return &Gate{verifier: verifier, roles: roles, errs: errs}
}

// RequireAuth verifies the bearer token and injects the identity into context.
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgNoBearer)
			return
		}
		id, err := g.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, msgBadToken)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), id)))
	})
}

// RequireActive rejects callers without a profile or with an inactive one.
func (g *Gate) RequireActive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := g.loadRole(w, r)
		if !ok {
			return
		}
		if !role.IsActive {
			writeError(w, http.StatusForbidden, msgInactive)
			return
		}
		next.ServeHTTP(w, r.WithContext(withRole(r.Context(), role)))
	})
}

// RequireAdmin rejects callers that are not active admins.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := g.loadRole(w, r)
		if !ok {
			return
		}
		if !role.IsAdmin {
			writeError(w, http.StatusForbidden, msgAdminOnly)
			return
		}
		if !role.IsActive {
			writeError(w, http.StatusForbidden, msgInactive)
			return
		}
		next.ServeHTTP(w, r.WithContext(withRole(r.Context(), role)))
	})
}

func (g *Gate) loadRole(w http.ResponseWriter, r *http.Request) (types.Role, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgNoBearer)
		return types.Role{}, false
	}
	role, err := g.roles.Role(r.Context(), id.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusForbidden, msgInactive)
			return types.Role{}, false
		}
		g.errs.fail(w, r, err)
		return types.Role{}, false
	}
	return role, true
}

// AuthHandler serves the local login endpoint.
type AuthHandler struct {
	auth  Authenticator
	roles RoleSource
	errs  *Responder
}

func NewAuthHandler(auth Authenticator, roles RoleSource, errs *Responder) *AuthHandler {
	return &AuthHandler{auth: auth, roles: roles, errs: errs}
}

// AuthRouter registers auth routes on the given router. limit wraps the
// login route and may be nil.
func AuthRouter(r chi.Router, handler *AuthHandler, limit func(http.Handler) http.Handler) {
	if limit != nil {
		r.With(limit).Post("/login", handler.Login)
		return
	}
	r.Post("/login", handler.Login)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token              string `json:"token"`
	UserID             string `json:"user_id"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Login verifies credentials and returns a token. Inactive users may log
// in; the status check tells them they are inactive.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	token, id, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.errs.fail(w, r, err)
		return
	}

	resp := LoginResponse{Token: token, UserID: id.ID}
	role, err := h.roles.Role(r.Context(), id.ID)
	switch {
	case err == nil:
		resp.MustChangePassword = role.MustChangePassword
	case !errors.Is(err, store.ErrNotFound):
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
