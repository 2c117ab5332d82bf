package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"ttcal/internal/config"
	"ttcal/internal/convert"
	"ttcal/internal/ics"
	appLog "ttcal/internal/log"
	"ttcal/internal/model"
)

// Server publishes the latest converted calendar over HTTP:
// /health, /calendar.ics, /api/events and /api/status.
type Server struct {
	cfg    *config.Config
	loc    *time.Location
	logger *appLog.Logger
	mux    *http.ServeMux
	now    func() time.Time

	mu     sync.RWMutex
	events []model.Event
	status statusResponse
	// gen counts event replacements; cached responses built from an
	// older generation are never stored.
	gen uint64

	// In-memory cache for /api/events responses; dropped whenever a new
	// conversion result arrives.
	eventsMu    sync.RWMutex
	eventsCache map[eventsKey]*eventsCache
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, logger *appLog.Logger) *Server {
	if logger == nil {
		logger = appLog.Default()
	}
	s := &Server{
		cfg:         cfg,
		loc:         resolveLocationOrLocal(cfg.Timezone),
		logger:      logger,
		mux:         http.NewServeMux(),
		now:         time.Now,
		eventsCache: make(map[eventsKey]*eventsCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		s.logger.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Serve.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Warm loads the events of a previously written calendar so the API has
// data before the first conversion finishes. A missing file is not an error.
func (s *Server) Warm() error {
	data, err := os.ReadFile(s.cfg.Output)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	events, err := ics.ParseICS(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.events = events
	s.status.EventCount = len(events)
	s.gen++
	s.mu.Unlock()
	s.resetEventsCache()

	s.logger.Info("warmed from existing calendar", "path", s.cfg.Output, "events", len(events))
	return nil
}

// Update records the outcome of a conversion run.
func (s *Server) Update(res convert.Result, runErr error) {
	s.mu.Lock()
	now := s.now()
	s.status.LastRun = &now
	if runErr != nil {
		s.status.LastError = runErr.Error()
		s.mu.Unlock()
		return
	}
	s.status.LastError = ""
	s.status.SourceHash = res.SourceHash
	s.status.Skipped = res.Skipped
	if res.Skipped {
		s.mu.Unlock()
		return
	}
	s.status.LastSuccess = &now
	s.status.EventCount = len(res.Events)
	s.events = append([]model.Event(nil), res.Events...)
	s.gen++
	s.mu.Unlock()

	s.resetEventsCache()
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.Serve.BasicAuth
	if ba == nil {
		return false
	}
	// Empty username or password disables auth.
	return ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.Serve.BasicAuth.Username
	password := s.cfg.Serve.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="ttcal", charset="UTF-8"`)
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

// Serve listens on cfg.Serve.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Serve.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "listen", "http://"+s.cfg.Serve.Listen)
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
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/status", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the last written calendar file.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.cfg.Output)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusServiceUnavailable, "calendar not generated yet")
			return
		}
		s.logger.Error("calendar open failed", err, "path", s.cfg.Output)
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read calendar")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeContent(w, r, "calendar.ics", st.ModTime(), f)
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	EventCount  int        `json:"event_count"`
	SourceHash  string     `json:"source_sha256,omitempty"`
	Skipped     bool       `json:"skipped"`
	LastError   string     `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, st)
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedUIDs   []string        `json:"truncated_uids,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
}

type eventsKey struct {
	days     int
	backfill int
}

// eventsCache holds a cached /api/events response, its timestamp and the
// event generation it was built from.
type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
	gen       uint64
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	UID         string    `json:"uid"`
	InstanceKey string    `json:"instance_key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleEvents returns expanded occurrences of the current calendar within
// a requested time window.
//
// GET /api/events?days=7&backfill=1
//   - days:     how many days ahead to include (default 7)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	key := eventsKey{days: days, backfill: backfill}

	const eventsCacheTTL = 30 * time.Second
	cacheNow := s.now()

	s.eventsMu.RLock()
	ec := s.eventsCache[key]
	s.eventsMu.RUnlock()
	if ec != nil && ec.gen == s.generation() && cacheNow.Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	resp, gen, err := s.buildEvents(key, cacheNow)
	if err != nil {
		s.logger.Error("api events: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}
	s.storeEvents(key, resp, gen, cacheNow)

	writeJSON(w, http.StatusOK, resp)
}

// buildEvents expands the current events for key and returns the response
// together with the generation of the events it was built from.
func (s *Server) buildEvents(key eventsKey, at time.Time) (eventsResponse, uint64, error) {
	now := at.In(s.loc)
	rangeStart := now.AddDate(0, 0, -key.backfill)
	rangeEnd := now.AddDate(0, 0, key.days)

	s.logger.Debug("api events request",
		"days", key.days,
		"backfill", key.backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	s.mu.RLock()
	events := s.events
	gen := s.gen
	s.mu.RUnlock()

	expandResult, err := ics.ExpandOccurrences(events, ics.ExpandConfig{
		DisplayLocation:        s.loc,
		RangeStart:             rangeStart,
		RangeEnd:               rangeEnd,
		MaxOccurrencesPerEvent: 5000,
	})
	if err != nil {
		return eventsResponse{}, gen, err
	}

	dtos := make([]occurrenceDTO, 0, len(expandResult.Occurrences))
	for _, occ := range expandResult.Occurrences {
		dtos = append(dtos, occurrenceDTO{
			UID:         occ.UID,
			InstanceKey: occ.InstanceKey,
			Summary:     occ.Title,
			Description: occ.Description,
			Start:       occ.Start,
			End:         occ.End,
		})
	}

	return eventsResponse{
		Occurrences:     dtos,
		TruncatedUIDs:   expandResult.TruncatedEvents,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
	}, gen, nil
}

// storeEvents caches resp unless the events changed after it was built.
// It reports whether the response was stored.
func (s *Server) storeEvents(key eventsKey, resp eventsResponse, gen uint64, at time.Time) bool {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if gen != s.generation() {
		return false
	}
	s.eventsCache[key] = &eventsCache{resp: resp, updatedAt: at, gen: gen}
	return true
}

func (s *Server) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

func (s *Server) resetEventsCache() {
	s.eventsMu.Lock()
	s.eventsCache = make(map[eventsKey]*eventsCache)
	s.eventsMu.Unlock()
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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
