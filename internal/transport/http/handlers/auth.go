package handlers

import (
	"fmt"
	"net/http"

	"github.com/pribylovaa/portal-auth/internal/service"
	apierrors "github.com/pribylovaa/portal-auth/internal/transport/http/errors"
	"github.com/pribylovaa/portal-auth/internal/transport/http/middleware"
)

// Register: POST /auth/register, 201 с пользователем и парой токенов.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.svc.Register(r.Context(), in.Email, in.Password, in.Name)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokensFrom(res.User, res.Tokens))
}

// Login: POST /auth/login, 200 с пользователем и парой токенов.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	res, err := h.svc.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokensFrom(res.User, res.Tokens))
}

// Refresh: POST /auth/refresh, 200 с новой парой токенов (ротация).
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if in.RefreshToken == "" {
		apierrors.WriteError(w, r, fmt.Errorf("%w: refresh_token is required", service.ErrInvalidInput))
		return
	}

	pair, err := h.svc.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokensFrom(nil, pair))
}

// Logout требует RequireAuth.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	if err := h.svc.Logout(r.Context(), p.UserID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me требует RequireAuth.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	u, err := h.svc.Me(r.Context(), p.UserID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}
