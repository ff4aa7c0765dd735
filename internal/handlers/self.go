package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SelfHandler serves the endpoints any authenticated caller may use on
// their own account.
type SelfHandler struct {
	users UserManager
	errs  *Responder
}

func NewSelfHandler(users UserManager, errs *Responder) *SelfHandler {
	return &SelfHandler{users: users, errs: errs}
}

// SelfRouter registers self-service routes behind RequireAuth.
func SelfRouter(r chi.Router, handler *SelfHandler) {
	r.Get("/status", handler.Status)
	r.Post("/complete-first-login", handler.CompleteFirstLogin)
	r.Post("/change-password", handler.ChangePassword)
}

type ChangePasswordRequest struct {
	NewPassword string `json:"new_password"`
}

// Status answers 403 inactive for a missing or inactive profile.
func (h *SelfHandler) Status(w http.ResponseWriter, r *http.Request) {
	if _, err := h.users.Status(r.Context(), callerID(r)); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *SelfHandler) CompleteFirstLogin(w http.ResponseWriter, r *http.Request) {
	var req UserTargetRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if err := h.users.CompleteFirstLogin(r.Context(), callerID(r), req.UserID); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *SelfHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if err := h.users.ChangePassword(r.Context(), callerID(r), req.NewPassword); err != nil {
		h.errs.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}
