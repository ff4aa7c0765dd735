package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/folio-ledger/apiserver/internal/authz"
	"github.com/folio-ledger/apiserver/internal/identity"
	"github.com/folio-ledger/apiserver/internal/services"
	"github.com/folio-ledger/apiserver/internal/store"
)

const (
	msgInternal    = "internal server error"
	msgInvalidBody = "invalid request"
	msgAdminOnly   = "Forbidden: admin only"
	msgInactive    = "inactive"
	msgNoBearer    = "No bearer token"
	msgBadToken    = "Invalid token"
)

// Responder turns service errors into HTTP responses. In dev mode admin
// callers also see the error text and the request id of a 500.
type Responder struct {
	logger logrus.FieldLogger
	dev    bool
}

func NewResponder(logger logrus.FieldLogger, dev bool) *Responder {
	return &Responder{logger: logger, dev: dev}
}

func (rs *Responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status < http.StatusInternalServerError {
		writeError(w, status, message)
		return
	}

	requestID := middleware.GetReqID(r.Context())
	rs.logger.WithError(err).WithFields(logrus.Fields{
		"request_id": requestID,
		"path":       r.URL.Path,
	}).Error("request failed")

	resp := ErrorResponse{Error: message}
	if rs.dev && callerRole(r).IsAdmin {
		resp.Detail = err.Error()
		resp.RequestID = requestID
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	var failure *services.Failure
	if errors.As(err, &failure) {
		return kindStatus(failure.Kind), failure.Reason
	}

	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, identity.ErrUnauthorized):
		return http.StatusUnauthorized, msgBadToken
	case errors.Is(err, services.ErrInactive):
		return http.StatusForbidden, msgInactive
	case errors.Is(err, authz.ErrNoAccess):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrExportUnavailable):
		return http.StatusServiceUnavailable, services.ErrExportUnavailable.Error()
	case errors.Is(err, services.ErrIdentityPending):
		return http.StatusInternalServerError, services.ErrIdentityPending.Error()
	}
	for _, kind := range []error{services.ErrValidation, services.ErrForbidden, services.ErrConflictState, services.ErrDuplicate, services.ErrExternalIdentity} {
		if errors.Is(err, kind) {
			return kindStatus(kind), kind.Error()
		}
	}
	return http.StatusInternalServerError, msgInternal
}

func kindStatus(kind error) int {
	switch kind {
	case services.ErrValidation:
		return http.StatusBadRequest
	case services.ErrForbidden, services.ErrConflictState, services.ErrInactive:
		return http.StatusForbidden
	case services.ErrDuplicate, services.ErrExternalIdentity:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
