// Package api exposes the HTTP trigger and query surface.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bgm-archive/archiver/internal/lock"
	"github.com/bgm-archive/archiver/internal/metrics"
	"github.com/bgm-archive/archiver/internal/store"
	"github.com/bgm-archive/archiver/internal/timespec"
	"github.com/bgm-archive/archiver/internal/vcs"
)

// Config holds the HTTP knobs.
type Config struct {
	Secret          string
	ReadConcurrency int64
	Timeout         time.Duration
}

// Server wires HTTP handlers to a Backend.
type Server struct {
	router  chi.Router
	backend Backend
	secret  string
	reads   *semaphore.Weighted
	logger  *zap.Logger
	now     func() time.Time
}

// NewServer constructs a Server with middleware and routes. events, when
// non-nil, is mounted at /ws.
func NewServer(backend Backend, cfg Config, events http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		backend: backend,
		secret:  cfg.Secret,
		reads:   semaphore.NewWeighted(max(cfg.ReadConcurrency, 1)),
		logger:  logger.Named("api"),
		now:     time.Now,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	if events != nil {
		r.Handle("/ws", events)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Timeout > 0 {
			r.Use(timeoutMiddleware(cfg.Timeout))
		}

		r.Group(func(r chi.Router) {
			r.Use(secretMiddleware(s.secret))
			r.Post("/convert", s.triggerConvert)
			r.Post("/cache", s.triggerCache)
			r.Post("/propagate", s.triggerPropagate)
			r.Post("/watermark", s.overrideWatermark)
		})

		r.Get("/watermark", s.getWatermark)
		r.Get("/repos/{repo}/status", s.status)
		r.Get("/topics/{category}/{id}/timestamps", s.limited(s.timestamps))
		r.Get("/topics/{category}/{id}", s.limited(s.topicAt))
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) triggerConvert(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if err := s.backend.TriggerConvert(r.Context(), repo); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "repo": repo})
}

func (s *Server) triggerCache(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if err := s.backend.TriggerCache(r.Context(), repo); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "repo": repo})
}

func (s *Server) triggerPropagate(w http.ResponseWriter, r *http.Request) {
	repo := r.URL.Query().Get("repo")
	if err := s.backend.TriggerPropagate(r.Context(), repo); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "repo": repo})
}

func (s *Server) getWatermark(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	commit, err := s.backend.Watermark(r.Context(), scope)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"scope": scope, "commit": commit})
}

func (s *Server) overrideWatermark(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, ref := q.Get("scope"), q.Get("commit")
	if scope == "" || ref == "" {
		writeError(w, http.StatusBadRequest, "scope and commit are required")
		return
	}
	commit, err := s.backend.OverrideWatermark(r.Context(), scope, ref)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"scope": scope, "commit": commit})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.backend.Status(r.Context(), chi.URLParam(r, "repo"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) timestamps(w http.ResponseWriter, r *http.Request) {
	cat, id, ok := topicParams(w, r)
	if !ok {
		return
	}
	caps, err := s.backend.Timestamps(r.Context(), r.URL.Query().Get("repo"), cat, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if caps == nil {
		caps = []store.Capture{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": cat, "id": id, "captures": caps})
}

func (s *Server) topicAt(w http.ResponseWriter, r *http.Request) {
	cat, id, ok := topicParams(w, r)
	if !ok {
		return
	}
	at, err := timespec.ParseMS(r.URL.Query().Get("at"), s.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.backend.TopicAt(r.Context(), r.URL.Query().Get("repo"), cat, id, at)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// limited rejects the request with 503 when the read semaphore is full.
func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.reads.TryAcquire(1) {
			metrics.ObserveBusy()
			writeError(w, http.StatusServiceUnavailable, "busy")
			return
		}
		defer s.reads.Release(1)
		h(w, r)
	}
}

func topicParams(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return "", 0, false
	}
	return chi.URLParam(r, "category"), id, true
}

// writeErr maps backend errors to status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownRepo), errors.Is(err, ErrUnknownCategory), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUnknownScope), errors.Is(err, vcs.ErrRefNotFound), errors.Is(err, timespec.ErrUnrecognized):
		status = http.StatusBadRequest
	case errors.Is(err, lock.ErrTimeout):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func secretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("secret")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
