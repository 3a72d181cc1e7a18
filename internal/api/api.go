// ABOUTME: Built-in identity and permission HTTP API consumed by the portal front end
// ABOUTME: chi routes for login, identity, bulk feature lists and point feature checks

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/2389/bizhub/internal/auth"
	"github.com/2389/bizhub/internal/session"
	"github.com/2389/bizhub/internal/store"
)

const maxBodyBytes = 1 << 20

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse answers a successful login.
type LoginResponse struct {
	Token string       `json:"token"`
	User  session.User `json:"user"`
}

// MeResponse answers GET /auth/me.
type MeResponse struct {
	User session.User `json:"user"`
}

// FeaturesResponse answers GET /permissions/user-features.
type FeaturesResponse struct {
	Features []string `json:"features"`
}

// CheckResponse answers GET /permissions/check/{featureCode}.
type CheckResponse struct {
	HasAccess bool `json:"hasAccess"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Authorizer answers feature questions for a user.
type Authorizer interface {
	Allowed(userID, code string) bool
	Features(userID string) []string
}

// Server holds the API dependencies.
type Server struct {
	store    store.Store
	authn    *auth.Authenticator
	verifier auth.TokenVerifier
	authz    Authorizer
	logger   *slog.Logger
}

// New creates the API server.
func New(s store.Store, authn *auth.Authenticator, verifier auth.TokenVerifier, az Authorizer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    s,
		authn:    authn,
		verifier: verifier,
		authz:    az,
		logger:   logger.With("component", "api"),
	}
}

// Routes returns the API router, meant to be mounted under /api.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(s.store, s.store, s.verifier, s.logger))
		r.Get("/auth/me", s.handleMe)
		r.Get("/permissions/user-features", s.handleUserFeatures)
		r.Get("/permissions/check/{featureCode}", s.handleCheck)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, user, err := s.authn.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	roles, err := s.store.ListRoles(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("failed to list roles", "user_id", user.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: toUser(user.ID, user.Username, user.DisplayName, roleStrings(roles))})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{User: toUser(ac.UserID, ac.Username, ac.DisplayName, ac.Roles)})
}

func (s *Server) handleUserFeatures(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	features := s.authz.Features(ac.UserID)
	if features == nil {
		features = []string{}
	}
	writeJSON(w, http.StatusOK, FeaturesResponse{Features: features})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "featureCode")
	if !store.ValidFeature(code) {
		writeError(w, http.StatusBadRequest, "invalid feature code")
		return
	}
	ac := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, CheckResponse{HasAccess: s.authz.Allowed(ac.UserID, code)})
}

func toUser(id, username, displayName string, roles []string) session.User {
	return session.User{ID: id, Username: username, DisplayName: displayName, Roles: roles}
}

func roleStrings(roles []store.RoleName) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
