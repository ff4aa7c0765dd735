package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/store"
	"github.com/folio-ledger/apiserver/types"
)

// stubVerifier maps bearer tokens to user ids.
type stubVerifier map[string]string

func (v stubVerifier) Verify(_ context.Context, token string) (identity.Identity, error) {
	id, ok := v[token]
	if !ok {
		return identity.Identity{}, identity.ErrUnauthorized
	}
	return identity.Identity{ID: id}, nil
}

type stubRoles map[string]types.Role

func (s stubRoles) Role(_ context.Context, id string) (types.Role, error) {
	role, ok := s[id]
	if !ok {
		return types.Role{}, store.ErrNotFound
	}
	return role, nil
}

func testRoles() stubRoles {
	return stubRoles{
		"admin":   {UserID: "admin", IsAdmin: true, IsActive: true},
		"retired": {UserID: "retired", IsAdmin: true, IsActive: false},
		"alice":   {UserID: "alice", IsActive: true},
		"idle":    {UserID: "idle", IsActive: false},
	}
}

func testVerifier() stubVerifier {
	return stubVerifier{
		"t-admin":   "admin",
		"t-retired": "retired",
		"t-alice":   "alice",
		"t-idle":    "idle",
		"t-ghost":   "ghost",
	}
}

func testResponder(t *testing.T) *Responder {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewResponder(logger, false)
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func jsonDecode(rr *httptest.ResponseRecorder, dst any) error {
	return json.NewDecoder(rr.Body).Decode(dst)
}
