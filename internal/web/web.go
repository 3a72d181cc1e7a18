// ABOUTME: HTTP front of the portal: instance and CSRF cookies, session forms, navigation
// ABOUTME: Every GET outside the fixed routes is resolved and rendered by the pipeline

package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/bizhub/internal/boot"
	"github.com/2389/bizhub/internal/instance"
	"github.com/2389/bizhub/internal/metrics"
	"github.com/2389/bizhub/internal/pipeline"
	"github.com/2389/bizhub/internal/session"
	"github.com/2389/bizhub/internal/views"
)

const (
	// InstanceCookieName carries the application instance id.
	InstanceCookieName = "bizhub_instance"

	// CSRFCookieName carries the double-submit CSRF token.
	CSRFCookieName = "bizhub_csrf"

	// InstanceCookieAge is how long the browser keeps the instance cookie.
	InstanceCookieAge = 30 * 24 * time.Hour

	defaultLoginPath = "/login"
)

type contextKey string

const (
	instanceContextKey contextKey = "instance"
	csrfContextKey     contextKey = "csrf_token"
)

// Instances hands out application instances by cookie id.
type Instances interface {
	Acquire(ctx context.Context, id string) (*instance.Instance, error)
	Fresh(ctx context.Context) (*instance.Instance, error)
	Remove(id string) bool
}

// Config holds the collaborators of the HTTP front. API and Metrics are
// optional.
type Config struct {
	Pipeline    *pipeline.Pipeline
	Instances   Instances
	Boot        *boot.Coordinator
	BootRefresh time.Duration
	LoginPath   string

	API         http.Handler
	Metrics     *metrics.Metrics
	MetricsPath string
}

// Server is the portal's HTTP front.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New creates the HTTP front.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = defaultLoginPath
	}
	if cfg.BootRefresh <= 0 {
		cfg.BootRefresh = 2 * time.Second
	}
	return &Server{cfg: cfg, logger: logger.With("component", "web")}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.cfg.Metrics.Instrument(routeLabel))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/static/*", http.StripPrefix("/static/", staticHandler()))
	if s.cfg.API != nil {
		r.Mount("/api", s.cfg.API)
	}
	if s.cfg.Metrics != nil && s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, s.cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.cfg.Boot.Gate(views.BootPages{}, s.cfg.BootRefresh))
		r.Use(s.withInstance)
		r.Post(s.cfg.LoginPath, s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/session/refresh", s.handleRefresh)
		r.Get("/*", s.handleNavigate)
	})
	return r
}

// routeLabel keeps metric cardinality low by using chi's route pattern.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.cfg.Boot.State()
	status, health := http.StatusOK, "ok"
	if state == boot.Failed {
		status, health = http.StatusServiceUnavailable, "failed"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": health, "boot": state.String()})
}

// withInstance attaches the caller's application instance, issuing a new
// instance cookie when the old one is missing or unknown.
func (s *Server) withInstance(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(InstanceCookieName); err == nil {
			id = c.Value
		}

		inst, err := s.cfg.Instances.Acquire(r.Context(), id)
		if err != nil {
			s.logger.Error("failed to acquire instance", "error", err)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		if inst.ID != id {
			setInstanceCookie(w, r, inst.ID)
		}

		ctx := context.WithValue(r.Context(), instanceContextKey, inst)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func setInstanceCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     InstanceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(InstanceCookieAge / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func instanceFrom(r *http.Request) *instance.Instance {
	inst, _ := r.Context().Value(instanceContextKey).(*instance.Instance)
	return inst
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context.
func (s *Server) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	if cookie, err := r.Cookie(CSRFCookieName); err == nil && cookie.Value != "" {
		return r.WithContext(context.WithValue(r.Context(), csrfContextKey, cookie.Value)), cookie.Value
	}

	token, err := generateSecureToken(32)
	if err != nil {
		s.logger.Error("failed to generate CSRF token", "error", err)
		token = ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	return r.WithContext(context.WithValue(r.Context(), csrfContextKey, token)), token
}

// validateCSRF checks the form (or X-CSRF-Token header) against the cookie.
func validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		formToken = r.Header.Get("X-CSRF-Token")
	}
	return formToken != "" && formToken == cookie.Value
}

func generateSecureToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// safeNext keeps post-login redirects on this origin.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, `/\`) {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return u.String()
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	r, csrf := s.ensureCSRFToken(w, r)
	inst := instanceFrom(r)

	if r.URL.Path == s.cfg.LoginPath && inst.Session.Session().IsAuthenticated {
		http.Redirect(w, r, safeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
		return
	}

	out := s.cfg.Pipeline.Resolve(r.Context(), pipeline.NavigationRequest{
		Path:      r.URL.Path,
		Query:     r.URL.Query(),
		CSRFToken: csrf,
	}, inst.Session, inst.Access)

	if err := s.cfg.Pipeline.Render(w, out); err != nil {
		s.logger.Error("render failed", "path", r.URL.Path, "outcome", out.Kind.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}
	inst := instanceFrom(r)
	next := safeNext(r.FormValue("next"))

	if inst.Session.Session().IsAuthenticated {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	// Sign in on a new instance; the pre-login id is dropped on success.
	fresh, err := s.cfg.Instances.Fresh(r.Context())
	if err != nil {
		s.logger.Error("failed to start instance for login", "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	_, err = fresh.Session.Login(r.Context(), session.Credentials{
		Username: strings.TrimSpace(r.FormValue("username")),
		Password: r.FormValue("password"),
	})
	if err != nil {
		s.cfg.Instances.Remove(fresh.ID)
		reason := "credentials"
		if !errors.Is(err, session.ErrInvalidCredentials) {
			reason = "unavailable"
			s.logger.Warn("login failed", "instance_id", inst.ID, "error", err)
		}
		q := url.Values{"error": {reason}}
		if next != "/" {
			q.Set("next", next)
		}
		http.Redirect(w, r, s.cfg.LoginPath+"?"+q.Encode(), http.StatusSeeOther)
		return
	}

	s.cfg.Instances.Remove(inst.ID)
	setInstanceCookie(w, r, fresh.ID)
	s.logger.Debug("instance rotated on login", "from", inst.ID, "to", fresh.ID)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}
	inst := instanceFrom(r)
	if err := inst.Session.Logout(r.Context()); err != nil {
		s.logger.Warn("logout incomplete", "instance_id", inst.ID, "error", err)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleRefresh revalidates the token and reloads the permission cache.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}
	inst := instanceFrom(r)

	err := inst.Session.Refresh(r.Context())
	var authErr *session.AuthError
	switch {
	case errors.As(err, &authErr):
		http.Error(w, "session expired", http.StatusUnauthorized)
		return
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, "not signed in", http.StatusConflict)
		return
	case err != nil:
		s.logger.Warn("session refresh failed", "instance_id", inst.ID, "error", err)
		http.Error(w, "identity service unavailable", http.StatusBadGateway)
		return
	}

	if err := inst.Access.Refresh(r.Context()); err != nil {
		s.logger.Warn("permission refresh failed", "instance_id", inst.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
