package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"metasaas.org/internal/auth"
	"metasaas.org/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
	"/v1/auth/register",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/v1/auth/password/forgot",
	"/v1/auth/password/reset",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth resolves the caller through either strategy. A bearer token
// wins when both are presented; the session cookie is the fallback for
// browser traffic. Both strategies end in the same principal resolution,
// so guards downstream never care which one authenticated the request.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
			token, err := extractBearerToken(header)
			if err != nil {
				writeError(w, r, http.StatusUnauthorized, err.Error())
				return
			}
			actx, err := a.auth.Authenticate(r.Context(), token)
			if err != nil {
				a.handleAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.ContextWith(r.Context(), actx)))
			return
		}

		if actx, ok := a.sessionAuth(w, r); ok {
			if actx != nil {
				next.ServeHTTP(w, r.WithContext(auth.ContextWith(r.Context(), actx)))
				return
			}
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		// sessionAuth already answered.
	})
}

// sessionAuth tries the cookie strategy. The bool reports whether the
// response is still open; a nil AuthContext with true means anonymous.
func (a *API) sessionAuth(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, bool) {
	if a.sessions == nil {
		return nil, true
	}
	cookie, err := r.Cookie(a.cfg.SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, true
	}
	sess, err := a.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			a.clearSessionCookie(w)
			return nil, true
		}
		writeError(w, r, http.StatusInternalServerError, "session lookup failed")
		return nil, false
	}
	// Rolling expiry; a failed touch is not fatal for this request.
	_ = a.sessions.Touch(r.Context(), sess.ID)

	actx, err := a.auth.ResolvePrincipal(r.Context(), sess.PrincipalID)
	if err != nil {
		// The account vanished or was deactivated under a live session.
		_ = a.sessions.Delete(r.Context(), sess.ID)
		a.clearSessionCookie(w)
		a.handleAuthError(w, r, err)
		return nil, false
	}
	actx.SessionID = sess.ID
	return actx, true
}

func (a *API) setSessionCookie(w http.ResponseWriter, id string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.cfg.Production,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cfg.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cfg.Production,
		SameSite: http.SameSiteLaxMode,
	})
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
