package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/types"
)

const maxBodyBytes = 1 << 20

type contextKey string

const (
	contextIdentityKey contextKey = "identity"
	contextRoleKey     contextKey = "role"
)

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// OKResponse acknowledges a mutation that has nothing else to return.
type OKResponse struct {
	OK bool `json:"ok"`
}

func withIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, id)
}

// IdentityFromContext returns the identity resolved by RequireAuth.
func IdentityFromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(contextIdentityKey).(identity.Identity)
	return id, ok
}

func withRole(ctx context.Context, role types.Role) context.Context {
	return context.WithValue(ctx, contextRoleKey, role)
}

// RoleFromContext returns the role loaded by RequireActive or RequireAdmin.
func RoleFromContext(ctx context.Context) (types.Role, bool) {
	role, ok := ctx.Value(contextRoleKey).(types.Role)
	return role, ok
}

func callerID(r *http.Request) string {
	id, _ := IdentityFromContext(r.Context())
	return id.ID
}

func callerRole(r *http.Request) types.Role {
	role, _ := RoleFromContext(r.Context())
	return role
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched
// when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
