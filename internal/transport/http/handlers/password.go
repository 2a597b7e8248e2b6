package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/portal-auth/internal/transport/http/errors"
)

// msgResetRequested одинаково для зарегистрированных и неизвестных адресов.
const msgResetRequested = "if the email is registered, a reset link has been sent"

func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in forgotPasswordRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.svc.RequestPasswordReset(r.Context(), in.Email); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{Message: msgResetRequested})
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var in resetPasswordRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), in.Token, in.Password); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "password updated"})
}
