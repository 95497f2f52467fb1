package core

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// Pinger checks one backend for /readyz.
type Pinger func(ctx context.Context) error

// RouterDeps are the long-lived components the HTTP layer is built from.
type RouterDeps struct {
	Cookies   sessions.Store
	Auth      AuthService
	Sessions  *SessionManager
	Metrics   *Metrics
	Gatherer  prometheus.Gatherer // nil disables /metrics
	Limiter   *IPRateLimiter      // nil disables rate limiting
	Logger    *slog.Logger
	Pingers   map[string]Pinger
	Templates *template.Template // nil loads the embedded templates
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) (*gin.Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tmpl := deps.Templates
	if tmpl == nil {
		var err error
		if tmpl, err = LoadTemplates(); err != nil {
			return nil, err
		}
	}

	r := gin.New()
	// ClientIP keys the auth rate limiter; only listed proxies may set X-Forwarded-For.
	var proxies []string
	if len(cfg.TrustedProxies) > 0 {
		proxies = cfg.TrustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("trusted_proxies", cfg.TrustedProxies).Wrap(err)
	}
	r.SetHTMLTemplate(tmpl)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(AccessLogMiddleware(logger))
	r.Use(deps.Metrics.Middleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", readyHandler(deps.Pingers))
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// Application routes: origin/CORS -> session -> CSRF -> session lookup
	app := r.Group("/")
	app.Use(OriginRefererMiddleware(cfg))
	app.Use(SessionMiddleware(cfg, deps.Cookies))
	app.Use(CSRFMiddleware(cfg))
	app.Use(ResolveSession(deps.Sessions, logger))

	h := &pageHandlers{cfg: cfg, auth: deps.Auth, logger: logger}
	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if deps.Limiter != nil {
		limit = deps.Limiter.Middleware(deps.Metrics)
	}

	app.GET("/", h.index)
	app.GET("/register", h.registerForm)
	app.POST("/register", limit, h.register)
	app.GET("/login", h.loginForm)
	app.POST("/login", limit, h.login)
	app.GET("/logout", h.logout)
	app.POST("/logout", h.logout)
	app.GET("/dashboard", RequireLogin(), h.dashboard)

	api := app.Group("/api/v1")
	{
		api.POST("/auth/register", limit, h.apiRegister)
		api.POST("/auth/login", limit, h.apiLogin)
		api.POST("/auth/logout", h.apiLogout)
		api.GET("/users/me", RequireAPILogin(), h.apiMe)
		api.GET("/dashboard", RequireAPILogin(), h.apiDashboard)
	}

	r.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "not found")
	})
	return r, nil
}

func readyHandler(pingers map[string]Pinger) gin.HandlerFunc {
	names := make([]string, 0, len(pingers))
	for name := range pingers {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		status := http.StatusOK
		for _, name := range names {
			if err := pingers[name](ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}
		overall := "ok"
		if status != http.StatusOK {
			overall = "unavailable"
		}
		c.JSON(status, gin.H{"status": overall, "checks": checks})
	}
}

type pageHandlers struct {
	cfg    Config
	auth   AuthService
	logger *slog.Logger
}

func (h *pageHandlers) index(c *gin.Context) {
	renderPage(c, http.StatusOK, "index.html", "Home", nil)
}

func (h *pageHandlers) registerForm(c *gin.Context) {
	renderPage(c, http.StatusOK, "register.html", "Register", nil)
}

func (h *pageHandlers) register(c *gin.Context) {
	_, err := h.auth.Register(c.Request.Context(), c.PostForm("username"), c.PostForm("password"))
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			renderFormPage(c, http.StatusOK, "register.html", verr.Message)
		case errors.Is(err, ErrUsernameTaken):
			renderFormPage(c, http.StatusOK, "register.html", MsgUsernameTaken)
		default:
			LogErrorContext(c.Request.Context(), h.logger, "registration failed", err)
			renderFormPage(c, http.StatusInternalServerError, "register.html", MsgGenericFailure)
		}
		return
	}

	sess := cookieSession(c)
	sess.AddFlash(MsgRegistered)
	if err := sess.Save(c.Request, c.Writer); err != nil {
		LogErrorContext(c.Request.Context(), h.logger, "failed to persist session", err)
	}
	c.Redirect(http.StatusSeeOther, "/login")
}

func (h *pageHandlers) loginForm(c *gin.Context) {
	renderPage(c, http.StatusOK, "login.html", "Login", nil)
}

func (h *pageHandlers) login(c *gin.Context) {
	sess := cookieSession(c)
	previous, _ := sess.Values[sessionTokenKey].(string)

	_, token, err := h.auth.Login(c.Request.Context(), c.PostForm("username"), c.PostForm("password"), previous)
	if err != nil {
		var verr *ValidationError
		if errors.Is(err, ErrInvalidCredentials) || errors.As(err, &verr) {
			renderFormPage(c, http.StatusOK, "login.html", MsgInvalidCredentials)
			return
		}
		LogErrorContext(c.Request.Context(), h.logger, "login failed", err)
		renderFormPage(c, http.StatusInternalServerError, "login.html", MsgGenericFailure)
		return
	}

	if !h.establishCookie(c, sess, token) {
		return
	}
	c.Redirect(http.StatusSeeOther, "/dashboard")
}

// establishCookie binds token to the cookie session and rotates the CSRF token.
func (h *pageHandlers) establishCookie(c *gin.Context, sess *sessions.Session, token string) bool {
	sess.Values[sessionTokenKey] = token
	if err := rotateCSRFToken(c, sess); err != nil {
		LogErrorContext(c.Request.Context(), h.logger, "failed to rotate csrf token", err)
	}
	if err := sess.Save(c.Request, c.Writer); err != nil {
		LogErrorContext(c.Request.Context(), h.logger, "failed to persist session", err)
		renderError(c, http.StatusInternalServerError, MsgGenericFailure)
		return false
	}
	return true
}

func (h *pageHandlers) logout(c *gin.Context) {
	sess := cookieSession(c)
	token, _ := sess.Values[sessionTokenKey].(string)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		LogErrorContext(c.Request.Context(), h.logger, "logout failed", err)
	}

	// Clear auth values but keep the cookie so the flash survives the redirect.
	sess.Values = map[interface{}]interface{}{}
	if token != "" {
		sess.AddFlash(MsgLoggedOut)
	}
	if err := sess.Save(c.Request, c.Writer); err != nil {
		LogErrorContext(c.Request.Context(), h.logger, "failed to clear session", err)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *pageHandlers) dashboard(c *gin.Context) {
	user, _ := UserFromContext(c)
	renderPage(c, http.StatusOK, "dashboard.html", "Dashboard", gin.H{
		"Dashboard": DashboardFor(user),
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *pageHandlers) apiRegister(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if !isClientAuthError(err) {
			LogErrorContext(c.Request.Context(), h.logger, "registration failed", err)
		}
		respondAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *pageHandlers) apiLogin(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json")
		return
	}
	sess, token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password, sessionTokenFromRequest(c))
	if err != nil {
		if !isClientAuthError(err) {
			LogErrorContext(c.Request.Context(), h.logger, "login failed", err)
		}
		var verr *ValidationError
		if errors.As(err, &verr) {
			err = ErrInvalidCredentials
		}
		respondAuthError(c, err)
		return
	}
	if !h.establishCookie(c, cookieSession(c), token) {
		return
	}

	var expiresAt *time.Time
	if !sess.ExpiresAt.IsZero() {
		expiresAt = &sess.ExpiresAt
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       sess.User(),
		"token":      token,
		"expires_at": expiresAt,
	})
}

func (h *pageHandlers) apiLogout(c *gin.Context) {
	token := sessionTokenFromRequest(c)
	if err := h.auth.Logout(c.Request.Context(), token); err != nil {
		LogErrorContext(c.Request.Context(), h.logger, "logout failed", err)
		respondAuthError(c, err)
		return
	}
	sess := cookieSession(c)
	if cookieToken, _ := sess.Values[sessionTokenKey].(string); cookieToken != "" && cookieToken == token {
		delete(sess.Values, sessionTokenKey)
		if err := sess.Save(c.Request, c.Writer); err != nil {
			LogErrorContext(c.Request.Context(), h.logger, "failed to clear session", err)
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *pageHandlers) apiMe(c *gin.Context) {
	sess := SessionFromContext(c)
	var expiresAt *time.Time
	if !sess.ExpiresAt.IsZero() {
		expiresAt = &sess.ExpiresAt
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       sess.UserID,
		"username": sess.Username,
		"session": gin.H{
			"id":             sess.ID.String(),
			"established_at": sess.EstablishedAt,
			"expires_at":     expiresAt,
		},
	})
}

func (h *pageHandlers) apiDashboard(c *gin.Context) {
	user, _ := UserFromContext(c)
	c.JSON(http.StatusOK, DashboardFor(user))
}

func isClientAuthError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) || errors.Is(err, ErrUsernameTaken) || errors.Is(err, ErrInvalidCredentials)
}
