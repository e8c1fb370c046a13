package httpapi

import (
	"net/http"
	"time"

	"metasaas.org/internal/audit"
	"metasaas.org/internal/auth"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type authResponse struct {
	User   auth.Profile   `json:"user"`
	Tokens auth.TokenPair `json:"tokens"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.auth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// Self-service registration always lands in the tenant tier.
	principal, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     auth.RoleTenant,
	}, requestMeta(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": principal.Profile()})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.auth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, actx, err := a.auth.Login(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}

	// Browser clients also get a session; API clients can ignore the
	// cookie and use the token pair.
	if a.sessions != nil {
		sess, serr := a.sessions.Create(r.Context(), actx.Principal.ID, string(actx.Principal.Role))
		if serr == nil {
			a.setSessionCookie(w, sess.ID, int(time.Until(sess.ExpiresAt).Seconds()))
		}
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:   actx.Principal.Profile(),
		Tokens: pair,
	})
}

// handleLogout is best-effort: it destroys whatever session the request
// carries and answers success even when there is nothing to destroy.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principalID := ""
	if a.sessions != nil {
		if cookie, err := r.Cookie(a.cfg.SessionCookie); err == nil && cookie.Value != "" {
			if sess, gerr := a.sessions.Get(r.Context(), cookie.Value); gerr == nil {
				principalID = sess.PrincipalID
			}
			_ = a.sessions.Delete(r.Context(), cookie.Value)
		}
	}
	a.clearSessionCookie(w)
	if principalID != "" {
		a.audit(r.Context(), audit.Entry{
			PrincipalID: principalID,
			Action:      "auth.logout",
			Category:    audit.CategoryAuth,
			TargetID:    principalID,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.auth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, actx, err := a.auth.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		User:   actx.Principal.Profile(),
		Tokens: pair,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actx, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	permissions := make([]auth.Permission, 0, len(actx.Permissions))
	permissions = append(permissions, actx.Permissions...)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":        actx.Principal.Profile(),
		"permissions": permissions,
	})
}

// handlePasswordForgot answers identically for known and unknown
// accounts. Nothing about the response, including its timing profile at
// this layer, may reveal whether the email exists.
func (a *API) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.auth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email, requestMeta(r)); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "If the email exists, reset instructions have been sent",
	})
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.auth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.CompletePasswordReset(r.Context(), req.Token, req.Password, requestMeta(r)); err != nil {
		a.handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Password has been reset",
	})
}
