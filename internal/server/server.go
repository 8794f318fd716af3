// Package server exposes discovery submission and variant selection over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agleyzer/hlsgrab/internal/cluster"
	"github.com/agleyzer/hlsgrab/internal/hlserr"
	"github.com/agleyzer/hlsgrab/internal/platform"
	"github.com/agleyzer/hlsgrab/internal/resolver"
	"github.com/agleyzer/hlsgrab/internal/session"
)

// Cluster is the replication state the front-end consults. Session writes
// are only accepted by the leader.
type Cluster interface {
	State() string
	IsLeader() bool
}

// Server serves the request and selection endpoints.
type Server struct {
	manifests  platform.Manifests
	files      platform.Files
	sessions   *session.Store
	cluster    Cluster
	port       int
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new HTTP server
func New(manifests platform.Manifests, files platform.Files, sessions *session.Store, port int, logger *slog.Logger) *Server {
	return &Server{
		manifests: manifests,
		files:     files,
		sessions:  sessions,
		port:      port,
		logger:    logger,
	}
}

// SetCluster makes /health report the replication state and routes
// selections to the leader.
func (s *Server) SetCluster(c Cluster) {
	s.cluster = c
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /requests", s.handleRequest)
	mux.HandleFunc("POST /selections", s.handleSelection)
	mux.HandleFunc("DELETE /requests/{chat}/{id}", s.handleDiscard)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "port", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	// Graceful shutdown
	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

type submitRequest struct {
	Chat   string `json:"chat"`
	URL    string `json:"url"`
	Cookie string `json:"cookie,omitempty"`
}

type variantEntry struct {
	Index      int    `json:"index"`
	Resolution string `json:"resolution"`
	Audio      bool   `json:"audio"`
	Key        string `json:"key"`
}

type submitResponse struct {
	RequestID string         `json:"request_id,omitempty"`
	Variants  []variantEntry `json:"variants,omitempty"`
	Path      string         `json:"path,omitempty"`
}

type selectRequest struct {
	Chat string `json:"chat"`
	Key  string `json:"key"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// handleRequest accepts a discovered URL. Manifest URLs are resolved and
// parked as a session awaiting selection; direct files download at once.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.Chat == "" || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("chat and url are required"))
		return
	}

	kind, err := platform.Detect(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if kind == platform.DirectFile {
		path, err := s.files.Download(r.Context(), req.URL, req.Cookie)
		if err != nil {
			s.writeError(w, http.StatusBadGateway, err)
			return
		}
		s.writeJSON(w, http.StatusOK, submitResponse{Path: path})
		return
	}

	set, err := s.manifests.Variants(r.Context(), req.URL)
	if err != nil {
		var empty *resolver.EmptySetError
		if errors.As(err, &empty) {
			s.logger.Warn("no usable variants", "url", req.URL, "report", empty.Report.String())
		}
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	id := session.NewRequestID()
	if err := s.sessions.Insert(session.Key{Chat: req.Chat, Request: id}, set); err != nil {
		s.writeError(w, writeStatus(err), err)
		return
	}

	resp := submitResponse{RequestID: id}
	for i, v := range set.Variants {
		resp.Variants = append(resp.Variants, variantEntry{
			Index:      i,
			Resolution: v.Resolution.String(),
			Audio:      v.HasAudio(),
			Key:        session.FormatKey(id, i),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSelection downloads the variant named by a selection key and
// discards the session on success. In a cluster only the leader can discard,
// so followers refuse selections before downloading anything.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if s.cluster != nil && !s.cluster.IsLeader() {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Errorf("%w: selections are served by the leader", cluster.ErrNotLeader))
		return
	}

	id, index, err := session.ParseKey(req.Key)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	key := session.Key{Chat: req.Chat, Request: id}
	set, ok := s.sessions.Get(key)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("no pending request %q", id))
		return
	}
	v, err := set.At(index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	path, err := s.manifests.Download(r.Context(), v)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	// leadership can move during a long download
	if err := s.sessions.Remove(key); err != nil {
		s.logger.Warn("failed to discard session", "key", key.String(), "error", err)
	}
	s.writeJSON(w, http.StatusOK, submitResponse{Path: path})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	key := session.Key{Chat: r.PathValue("chat"), Request: r.PathValue("id")}
	if err := s.sessions.Remove(key); err != nil {
		s.writeError(w, writeStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth serves health check information
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	}
	if s.cluster != nil {
		health["cluster"] = s.cluster.State()
	}
	s.writeJSON(w, http.StatusOK, health)
}

// writeStatus maps a session write failure to a status code.
func writeStatus(err error) int {
	if errors.Is(err, cluster.ErrNotLeader) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	resp := errorResponse{Error: err.Error()}
	if status >= http.StatusInternalServerError {
		resp.Kind = hlserr.Kind(err)
	}
	s.writeJSON(w, status, resp)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap the response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
