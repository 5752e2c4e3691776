package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/zydorg/kemunify/internal/adapters/identity"
	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/internal/domain/types"
)

// AuthDependencies defines sign-in and session operations.
type AuthDependencies interface {
	TokenVerifier
	SignIn(ctx context.Context, cred identity.Credential, nonce string) (model.User, *types.Token, error)
	Session(ctx context.Context) (model.User, error)
	SignOut(ctx context.Context) error
}

// AuthHandler handles sign-in requests.
type AuthHandler struct {
	deps AuthDependencies
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(deps AuthDependencies) *AuthHandler {
	return &AuthHandler{deps: deps}
}

type googleSignInRequest struct {
	IDToken string `json:"id_token"`
	Nonce   string `json:"nonce"`
}

type signInResponse struct {
	User  model.User   `json:"user"`
	Token *types.Token `json:"token,omitempty"`
}

// HandleGoogle handles POST /auth/google.
func (h *AuthHandler) HandleGoogle(w http.ResponseWriter, r *http.Request) {
	const op = "api.auth_google"
	var req googleSignInRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		fail(w, NewKind(op, ErrBadRequest))
		return
	}
	user, tok, err := h.deps.SignIn(r.Context(), identity.GoogleIDToken{Token: req.IDToken}, req.Nonce)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{User: user, Token: tok})
}

// HandleSession handles GET /auth/session. Nobody signed in is a zero user.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	user, err := h.deps.Session(r.Context())
	if err != nil {
		fail(w, Wrap("api.auth_session", err))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleLogout handles POST /auth/logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.SignOut(r.Context()); err != nil {
		fail(w, Wrap("api.auth_logout", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
