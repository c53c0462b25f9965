package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"remindcal/internal/config"
	appLog "remindcal/internal/log"
	"remindcal/internal/model"
	"remindcal/internal/reconcile"
)

// Reconciler is the part of a binding the API reads and pokes.
type Reconciler interface {
	Events() []model.Event
	Records() []reconcile.Record
	Fingerprint() string
	Refresh()
}

// PendingLister lists notifications still waiting to fire.
type PendingLister interface {
	Pending() []model.Notification
}

// Deps are the components the HTTP API exposes.
type Deps struct {
	Binding Reconciler
	Pending PendingLister
	// Push serves /ws/notifications; nil leaves the route unregistered.
	Push http.Handler
	// Reload re-fetches event sources before a forced refresh; optional.
	Reload func(ctx context.Context) error
}

// Server provides the HTTP API over the running reminder binding.
type Server struct {
	cfg  *config.Config
	deps Deps
	loc  *time.Location
	mux  *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		loc:  resolveLocationOrLocal(cfg.Timezone),
		mux:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="remindcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, deps Deps) error {
	s := NewServer(cfg, deps)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/scheduled", s.handleScheduled)
	s.mux.HandleFunc("/api/pending", s.handlePending)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	if s.deps.Push != nil {
		s.mux.Handle("/ws/notifications", s.deps.Push)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events          []model.Event `json:"events"`
	Fingerprint     string        `json:"fingerprint"`
	DisplayTimeZone string        `json:"display_timezone"`
}

// handleEvents returns the snapshot last delivered to the binding, with
// start times in the configured timezone.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	events := s.deps.Binding.Events()
	for i := range events {
		events[i].Start = events[i].Start.In(s.loc)
	}
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:          events,
		Fingerprint:     s.deps.Binding.Fingerprint(),
		DisplayTimeZone: s.loc.String(),
	})
}

// scheduledDTO is a JSON-friendly view of a reconcile.Record.
type scheduledDTO struct {
	EventID string   `json:"event_id"`
	Handles []string `json:"handles"`
}

// handleScheduled lists the events the engine believes have reminders.
func (s *Server) handleScheduled(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	records := s.deps.Binding.Records()
	out := make([]scheduledDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, scheduledDTO{EventID: rec.EventID, Handles: rec.Handles})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePending lists notifications that have not fired yet.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if s.deps.Pending == nil {
		writeJSON(w, http.StatusOK, []model.Notification{})
		return
	}

	pending := s.deps.Pending.Pending()
	for i := range pending {
		pending[i].EventStart = pending[i].EventStart.In(s.loc)
		pending[i].FireAt = pending[i].FireAt.In(s.loc)
	}
	writeJSON(w, http.StatusOK, pending)
}

// handleRefresh forces a full reconciliation pass.
//
// POST /api/refresh
//   - re-fetches event sources when a reloader is configured
//   - then diffs the latest snapshot even if it is unchanged
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if s.deps.Reload != nil {
		if err := s.deps.Reload(r.Context()); err != nil {
			appLog.Error("api refresh: reload failed", err)
			writeError(w, http.StatusBadGateway, "failed to reload event sources")
			return
		}
	}
	s.deps.Binding.Refresh()
	appLog.Info("api refresh: forced reconciliation requested")

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
