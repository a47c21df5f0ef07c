// Package httpapi exposes the moderation engine over HTTP: read endpoints
// for stats and per-user history, admin endpoints for trust and forgiveness,
// a dry-run check, and live verdict feeds over SSE and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/moderation"
	"github.com/you/streamwarden/internal/raid"
	"github.com/you/streamwarden/internal/trust"
)

const maxBodyBytes = 64 << 10

// Moderator is the slice of the engine the API needs.
type Moderator interface {
	Check(ctx context.Context, msg core.ChatMessage) (moderation.CheckResult, error)
	GetModerationStats() moderation.Stats
	GetUserHistory(username string) (moderation.UserHistory, error)
	ActiveEscalations() []moderation.ActiveEscalation
	Trust(username string) trust.Result
	Untrust(username string) trust.Result
	Forgive(username string) trust.Result
	HandleRaid(ctx context.Context, raider string, viewers uint) (raid.Assessment, error)
	ReloadWords(path string) (int, error)
}

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

type Options struct {
	Addr        string
	Channel     string
	WordsFile   string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	Metrics     bool
	AccessLog   bool
	Build       BuildInfo
	Logger      *slog.Logger
	// Registry, when set, receives the HTTP collectors and backs /metrics,
	// so the engine's collectors can share the endpoint.
	Registry *prometheus.Registry
}

type subscriber struct {
	ch      chan core.Verdict
	filters Filters
}

type Server struct {
	httpServer *http.Server
	engine     Moderator
	opts       Options
	logger     *slog.Logger
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func New(engine Moderator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:  engine,
		opts:    opts,
		logger:  logger,
		limiter: newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
		subs:    make(map[*subscriber]struct{}),
	}
	if opts.Metrics {
		srv.metrics = newMetrics(opts.Registry)
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", srv.wrap("healthz", srv.handleHealthz))
	mux.Handle("/info", srv.wrap("info", srv.handleInfo))
	mux.Handle("/stats", srv.wrap("stats", srv.handleStats))
	mux.Handle("/user", srv.wrap("user", srv.handleUser))
	mux.Handle("/escalations", srv.wrap("escalations", srv.handleEscalations))
	mux.Handle("/check", srv.wrap("check", srv.handleCheck))
	mux.Handle("/trust", srv.wrap("trust", srv.handleTrust))
	mux.Handle("/untrust", srv.wrap("untrust", srv.handleUntrust))
	mux.Handle("/forgive", srv.wrap("forgive", srv.handleForgive))
	mux.Handle("/raid", srv.wrap("raid", srv.handleRaid))
	mux.Handle("/admin/reload-words", srv.wrap("reload_words", srv.handleReloadWords))
	mux.Handle("/stream", srv.wrap("stream", srv.handleStream))
	mux.Handle("/ws", srv.wrap("ws", srv.handleWS))
	if srv.metrics != nil {
		mux.Handle("/metrics", srv.metrics.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// wrap applies rate limiting, CORS, gzip, access logging and request metrics
// around a handler.
func (s *Server) wrap(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if handled, _ := s.cors.handlePreflight(w, r); handled {
			return
		}
		if !s.cors.applyHeaders(w, r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if s.limiter != nil && !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		rec := newResponseRecorder(w)
		if gz, ok := maybeGzip(rec, r); ok {
			defer func() { _ = gz.Close() }()
		}
		next(rec, r)

		status := rec.Status()
		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, status, dur)
		if s.opts.AccessLog {
			s.logger.Info("httpapi: request",
				"route", route, "method", r.Method, "status", status,
				"bytes", rec.Bytes(), "dur", dur, "ip", remoteIP(r))
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.GetModerationStats())
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "name parameter required", http.StatusBadRequest)
		return
	}
	hist, err := s.engine.GetUserHistory(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleEscalations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows := s.engine.ActiveEscalations()
	out := rows[:0:0]
	for _, row := range rows {
		if filters.MatchesEscalation(row) {
			out = append(out, row)
		}
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type checkRequest struct {
	Username string `json:"username"`
	Text     string `json:"text"`
	Role     string `json:"role,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req checkRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg := core.ChatMessage{
		Username: req.Username,
		Text:     req.Text,
		Channel:  s.opts.Channel,
		Role:     core.Role(req.Role),
		Ts:       time.Now().UTC(),
	}
	out, err := s.engine.Check(r.Context(), msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type userRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	s.handleUserAction(w, r, s.engine.Trust)
}

func (s *Server) handleUntrust(w http.ResponseWriter, r *http.Request) {
	s.handleUserAction(w, r, s.engine.Untrust)
}

func (s *Server) handleForgive(w http.ResponseWriter, r *http.Request) {
	s.handleUserAction(w, r, s.engine.Forgive)
}

func (s *Server) handleUserAction(w http.ResponseWriter, r *http.Request, action func(string) trust.Result) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res := action(req.Username)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusConflict
	}
	writeJSON(w, status, res)
}

type raidRequest struct {
	Raider  string `json:"raider"`
	Viewers uint   `json:"viewers"`
}

func (s *Server) handleRaid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req raidRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.engine.HandleRaid(r.Context(), req.Raider, req.Viewers)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReloadWords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.opts.WordsFile == "" {
		http.Error(w, "no words file configured", http.StatusConflict)
		return
	}
	count, err := s.engine.ReloadWords(s.opts.WordsFile)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true, "words": count})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := s.subscribe(filters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(sub)
	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case verdict, ok := <-sub.ch:
			if !ok {
				return
			}
			data, err := json.Marshal(verdict)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: verdict\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncVerdictsSent("sse")
		}
	}
}

func (s *Server) subscribe(filters Filters) (*subscriber, error) {
	sub := &subscriber{ch: make(chan core.Verdict, 256), filters: filters}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("server shutting down")
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

// Broadcast fans one verdict out to every live feed. Slow clients drop
// verdicts rather than stall the engine.
func (s *Server) Broadcast(verdict core.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if !sub.filters.MatchesVerdict(verdict) {
			continue
		}
		select {
		case sub.ch <- verdict:
		default:
			s.metrics.IncBroadcastDrops()
		}
	}
}

func (s *Server) Start() error {
	s.logger.Info("httpapi: listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		close(sub.ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
