package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"actualcal/internal/config"
	"actualcal/internal/feed"
	appLog "actualcal/internal/log"
)

const (
	shutdownTimeout = 5 * time.Second
	refreshTimeout  = 2 * time.Minute
)

// Feed is the part of feed.Refresher the server needs.
type Feed interface {
	Snapshot() *feed.Snapshot
	Refresh(ctx context.Context) (*feed.Snapshot, error)
}

// Server exposes the calendar feed and a small JSON API.
type Server struct {
	cfg  *config.Config
	feed Feed
	mux  *http.ServeMux

	// refreshLimiter throttles POST /api/refresh; each call hits the
	// schedule source.
	refreshLimiter *rate.Limiter
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, f Feed) *Server {
	s := &Server{
		cfg:            cfg,
		feed:           f,
		mux:            http.NewServeMux(),
		refreshLimiter: rate.NewLimiter(rate.Every(30*time.Second), 2),
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

// ListenAndServe serves on cfg.Listen until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="actualcal", charset="UTF-8"`)
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

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the latest rendered feed.
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	snap := s.feed.Snapshot()
	if snap == nil {
		http.Error(w, "calendar not built yet", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="actual.ics"`)
	w.Header().Set("Last-Modified", snap.GeneratedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.ICS)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snap.ICS)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Horizon     time.Time      `json:"horizon"`
	Timezone    string         `json:"timezone"`
	Schedules   int            `json:"schedules"`
	Events      []eventDTO     `json:"events"`
	Failures    []feed.Failure `json:"failures"`
}

// eventDTO is a JSON-friendly view of an event.
type eventDTO struct {
	UID         string `json:"uid"`
	ScheduleID  string `json:"schedule_id"`
	Index       int    `json:"index"`
	Summary     string `json:"summary"`
	Date        string `json:"date"`
	PatternDate string `json:"pattern_date"`
	AllDay      bool   `json:"all_day"`
}

// handleEvents returns the events of the latest snapshot.
//
// GET /api/events?schedule=<id>
//   - schedule: only events of this schedule (optional)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap := s.feed.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar not built yet")
		return
	}
	writeJSON(w, http.StatusOK, toEventsResponse(snap, r.URL.Query().Get("schedule")))
}

// handleRefresh rebuilds the feed immediately.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.refreshLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
	defer cancel()

	appLog.Info("api refresh request", "remote", r.RemoteAddr)

	snap, err := s.feed.Refresh(ctx)
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeError(w, http.StatusBadGateway, "failed to refresh schedules")
		return
	}
	writeJSON(w, http.StatusOK, toEventsResponse(snap, ""))
}

func toEventsResponse(snap *feed.Snapshot, scheduleID string) eventsResponse {
	dtos := make([]eventDTO, 0, len(snap.Events))
	for _, ev := range snap.Events {
		if scheduleID != "" && ev.ScheduleID != scheduleID {
			continue
		}
		dtos = append(dtos, eventDTO{
			UID:         ev.UID,
			ScheduleID:  ev.ScheduleID,
			Index:       ev.Index,
			Summary:     ev.Summary,
			Date:        ev.Date.Format("2006-01-02"),
			PatternDate: ev.PatternDate.Format("2006-01-02"),
			AllDay:      ev.AllDay,
		})
	}

	failures := snap.Failures
	if failures == nil {
		failures = []feed.Failure{}
	}

	return eventsResponse{
		GeneratedAt: snap.GeneratedAt,
		Horizon:     snap.Horizon,
		Timezone:    snap.Timezone,
		Schedules:   snap.Schedules,
		Events:      dtos,
		Failures:    failures,
	}
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
