package core

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
)

const (
	sessionName     = "bank_session"
	sessionTokenKey = "token"
	csrfTokenKey    = "csrf_token"
	csrfHeader      = "X-CSRF-Token"
	csrfFormField   = "csrf_token"
)

// NewCookieStore returns the signed cookie store carrying the session token,
// the CSRF token and flash messages.
func NewCookieStore(cfg Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	store.Options = &sessions.Options{}
	applyCookieOptions(cfg, store.Options)
	return store
}

// SessionMiddleware loads the cookie session into the gin context.
// A cookie that fails to decode (tampered, or signed with an old key) is
// replaced by a fresh anonymous session.
func SessionMiddleware(cfg Config, store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := store.Get(c.Request, sessionName)
		if session == nil {
			respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "session error")
			c.Abort()
			return
		}
		if err != nil {
			session.Values = map[interface{}]interface{}{}
		}
		applySessionOptions(cfg, session)
		c.Set("session", session)
		c.Next()
	}
}

// cookieSession returns the session loaded by SessionMiddleware.
func cookieSession(c *gin.Context) *sessions.Session {
	sessionAny, _ := c.Get("session")
	sess, _ := sessionAny.(*sessions.Session)
	return sess
}

// saveCookieSession must run before the response body is written.
func saveCookieSession(c *gin.Context) error {
	sess := cookieSession(c)
	if sess == nil {
		return nil
	}
	return sess.Save(c.Request, c.Writer)
}

// OriginRefererMiddleware validates Origin/Referer of unsafe requests against the
// request host and the allowed list, and sets CORS headers for allowed origins.
func OriginRefererMiddleware(cfg Config) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}

	isAllowed := func(c *gin.Context, origin string) bool {
		if origin == "" {
			// Same-origin navigation (no Origin header) is allowed.
			return true
		}
		origin = strings.ToLower(origin)
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, c.Request.Host) {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		referer := c.GetHeader("Referer")
		if origin == "" && referer != "" {
			if u, err := url.Parse(referer); err == nil && u.Host != "" {
				origin = u.Scheme + "://" + u.Host
			}
		}

		if c.Request.Method == http.MethodOptions && origin != "" {
			if !isAllowed(c, origin) {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
				c.Abort()
				return
			}
			setCORSHeaders(c, origin)
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}

		allowed := isAllowed(c, origin)
		// Cross-site links land on pages with a foreign Referer; only state changes are checked.
		if !allowed && !isSafeMethod(c.Request.Method) {
			respondError(c, http.StatusForbidden, "FORBIDDEN", "origin not allowed")
			c.Abort()
			return
		}
		if allowed && origin != "" {
			setCORSHeaders(c, origin)
		}
		c.Next()
	}
}

func setCORSHeaders(c *gin.Context, origin string) {
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Vary", "Origin")
	c.Header("Access-Control-Allow-Credentials", "true")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
}

// CSRFMiddleware issues a per-session CSRF token and validates it on unsafe
// methods, from the X-CSRF-Token header or the csrf_token form field.
// Bearer-authenticated requests carry no ambient credentials and are exempt.
func CSRFMiddleware(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := cookieSession(c)
		if session == nil {
			c.Next()
			return
		}

		token, _ := session.Values[csrfTokenKey].(string)
		if token == "" {
			var err error
			token, err = generateCSRFToken()
			if err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to issue csrf token")
				c.Abort()
				return
			}
			session.Values[csrfTokenKey] = token
			if err := session.Save(c.Request, c.Writer); err != nil {
				respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to persist session")
				c.Abort()
				return
			}
		}

		if cfg.CSRFEnabled && !isSafeMethod(c.Request.Method) && !csrfExemptPath(c.Request.URL.Path) && bearerToken(c.Request) == "" {
			presented := c.GetHeader(csrfHeader)
			if presented == "" {
				presented = c.PostForm(csrfFormField)
			}
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				respondError(c, http.StatusForbidden, "FORBIDDEN", "invalid csrf token")
				c.Abort()
				return
			}
		}

		// Expose token so frontend can read and reuse.
		c.Writer.Header().Set(csrfHeader, token)
		c.Set(csrfTokenKey, token)
		c.Next()
	}
}

// rotateCSRFToken replaces the session's CSRF token; call on privilege change.
func rotateCSRFToken(c *gin.Context, session *sessions.Session) error {
	token, err := generateCSRFToken()
	if err != nil {
		return err
	}
	session.Values[csrfTokenKey] = token
	c.Writer.Header().Set(csrfHeader, token)
	c.Set(csrfTokenKey, token)
	return nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// Paths that intentionally skip CSRF validation.
func csrfExemptPath(path string) bool {
	switch path {
	case "/api/v1/auth/login", "/api/v1/auth/register":
		return true
	default:
		return false
	}
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func applySessionOptions(cfg Config, session *sessions.Session) {
	if session.Options == nil {
		session.Options = &sessions.Options{}
	}
	applyCookieOptions(cfg, session.Options)
}

func applyCookieOptions(cfg Config, opts *sessions.Options) {
	opts.Path = "/"
	// A zero TTL gives a browser-session cookie.
	opts.MaxAge = int(cfg.SessionTTL.Seconds())
	opts.HttpOnly = true
	opts.Secure = cfg.CookieSecure
	opts.SameSite = sameSiteFromString(cfg.CookieSameSite)
}

func sameSiteFromString(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// bearerToken returns the token from an "Authorization: Bearer" header, or "".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// sessionTokenFromRequest prefers a bearer token over the cookie session.
func sessionTokenFromRequest(c *gin.Context) string {
	if t := bearerToken(c.Request); t != "" {
		return t
	}
	if sess := cookieSession(c); sess != nil {
		t, _ := sess.Values[sessionTokenKey].(string)
		return t
	}
	return ""
}
