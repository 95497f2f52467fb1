package core

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	ctxAuthSession = "auth_session"
	ctxAuthError   = "auth_error"
)

// ResolveSession looks up the session for the request token once per request
// and stores the result for the guards and handlers downstream. A cookie that
// names a dead session has its token dropped.
func ResolveSession(manager *SessionManager, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionTokenFromRequest(c)
		if token == "" {
			c.Next()
			return
		}
		sess, err := manager.Resolve(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(ctxAuthSession, sess)
		case errors.Is(err, ErrUnauthenticated):
			if cs := cookieSession(c); cs != nil && bearerToken(c.Request) == "" {
				delete(cs.Values, sessionTokenKey)
				_ = cs.Save(c.Request, c.Writer)
			}
		default:
			LogErrorContext(c.Request.Context(), logger, "session lookup failed", err)
			c.Set(ctxAuthError, err)
		}
		c.Next()
	}
}

// SessionFromContext returns the authenticated session, or nil.
func SessionFromContext(c *gin.Context) *Session {
	v, ok := c.Get(ctxAuthSession)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}

// UserFromContext returns the authenticated user.
func UserFromContext(c *gin.Context) (User, bool) {
	sess := SessionFromContext(c)
	if sess == nil {
		return User{}, false
	}
	return sess.User(), true
}

func sessionLookupFailed(c *gin.Context) bool {
	_, failed := c.Get(ctxAuthError)
	return failed
}

// RequireLogin lets authenticated requests through and sends everyone else to
// the login page with a flash message. The protected handler does not run.
func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if SessionFromContext(c) != nil {
			c.Next()
			return
		}
		if sessionLookupFailed(c) {
			renderError(c, http.StatusInternalServerError, MsgGenericFailure)
			c.Abort()
			return
		}
		if sess := cookieSession(c); sess != nil {
			sess.AddFlash(MsgLoginRequired)
			_ = sess.Save(c.Request, c.Writer)
		}
		c.Redirect(http.StatusSeeOther, "/login")
		c.Abort()
	}
}

// RequireAPILogin is RequireLogin for JSON endpoints: 401 instead of a redirect.
func RequireAPILogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if SessionFromContext(c) != nil {
			c.Next()
			return
		}
		if sessionLookupFailed(c) {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", MsgGenericFailure)
			c.Abort()
			return
		}
		c.Header("WWW-Authenticate", `Bearer realm="demobank"`)
		respondError(c, http.StatusUnauthorized, "UNAUTHENTICATED", MsgLoginRequired)
		c.Abort()
	}
}
