// Package web exposes the HTTP API: authentication, uploads, translation
// control, task status via polling or SSE, settings and admin surfaces.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"doc-translator/internal/auth"
	"doc-translator/internal/config"
	"doc-translator/internal/db"
	"doc-translator/internal/settings"
	"doc-translator/internal/task"
	"doc-translator/internal/translate"
)

// Server is the HTTP front of the service.
type Server struct {
	cfg      *config.Config
	db       *db.DB
	auth     *auth.Service
	tasks    *task.Manager
	settings *settings.Store
	runner   *translate.Runner
	httpSrv  *http.Server
}

// NewServer wires the API routes.
func NewServer(cfg *config.Config, database *db.DB, authSvc *auth.Service, tasks *task.Manager, store *settings.Store, runner *translate.Runner) *Server {
	s := &Server{
		cfg:      cfg,
		db:       database,
		auth:     authSvc,
		tasks:    tasks,
		settings: store,
		runner:   runner,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/auth/setup", s.handleSetup)
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /api/auth/me", s.requireAuth(s.handleMe))
	mux.HandleFunc("POST /api/auth/password", s.requireAuth(s.handleChangePassword))

	mux.HandleFunc("POST /api/files/upload", s.requireAuth(s.handleUpload))
	mux.HandleFunc("POST /api/translate", s.requireAuth(s.handleTranslate))

	mux.HandleFunc("GET /api/tasks", s.requireAuth(s.handleHistory))
	mux.HandleFunc("GET /api/tasks/{id}", s.requireAuth(s.handleTaskStatus))
	mux.HandleFunc("DELETE /api/tasks/{id}", s.requireAuth(s.handleTaskDelete))
	mux.HandleFunc("GET /api/tasks/{id}/stream", s.requireAuth(s.handleTaskStream))
	mux.HandleFunc("GET /api/tasks/{id}/download/{variant}", s.requireAuth(s.handleDownload))

	mux.HandleFunc("GET /api/settings", s.requireAuth(s.handleGetSettings))
	mux.HandleFunc("PUT /api/settings", s.requireAuth(s.handleUpdateSettings))
	mux.HandleFunc("DELETE /api/settings", s.requireAuth(s.handleResetSettings))

	mux.HandleFunc("GET /api/admin/users", s.requireAdmin(s.handleListUsers))
	mux.HandleFunc("DELETE /api/admin/users/{username}", s.requireAdmin(s.handleDeleteUser))
	mux.HandleFunc("PUT /api/admin/registration", s.requireAdmin(s.handleSetRegistration))

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe runs the server until the listener fails or Shutdown is
// called.
func (s *Server) ListenAndServe() error {
	slog.Info("http server listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	needsSetup, err := s.auth.NeedsSetup()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "health check failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"needs_setup": needsSetup,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
