// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/config"
	"github.com/JakeFAU/manga-crawler/internal/crawler"
	"github.com/JakeFAU/manga-crawler/internal/manga"
	"github.com/JakeFAU/manga-crawler/internal/metrics"
)

const (
	defaultCatalogLimit = 50
	maxCatalogLimit     = 500
	requestTimeout      = 60 * time.Second
)

// MangaService is the orchestrator surface the read endpoints need.
type MangaService interface {
	Catalog(ctx context.Context, limit, offset int) ([]crawler.CatalogEntry, error)
	SearchCatalog(ctx context.Context, query string, limit int) ([]crawler.CatalogEntry, error)
	Story(ctx context.Context, mangaID string) (crawler.StoryDetail, error)
	DownloadStatus(ctx context.Context, mangaID string) (crawler.DownloadStatus, error)
	DownloadedChapters(ctx context.Context, mangaID string) ([]string, error)
	ChapterImages(ctx context.Context, mangaID, chapterID string) (crawler.ChapterImageSet, error)
	MaterializeChapter(ctx context.Context, mangaID, chapterID, chapterURL string) (crawler.ChapterImageSet, error)
}

// JobSubmitter accepts and reports background jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, params crawler.JobParameters) (crawler.Job, error)
	Job(ctx context.Context, id string) (crawler.Job, error)
}

// Server wires HTTP handlers to the orchestrator and the dispatcher.
type Server struct {
	router  chi.Router
	service MangaService
	jobs    JobSubmitter
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(service MangaService, jobs JobSubmitter, auth config.AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		jobs:    jobs,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/catalog", s.getCatalog)
		r.Route("/stories/{mangaID}", func(r chi.Router) {
			r.Get("/", s.getStory)
			r.Get("/status", s.getStatus)
			r.Get("/chapters", s.getChapters)
			r.Get("/chapters/{chapterID}", s.getChapter)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if auth.Enabled {
					r.Use(apiKeyMiddleware(auth.APIKey))
				}
				r.Post("/", s.submitJob)
			})
			r.Get("/{jobID}", s.getJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultCatalogLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	if limit <= 0 || limit > maxCatalogLimit {
		limit = maxCatalogLimit
	}

	var entries []crawler.CatalogEntry
	if term := q.Get("q"); term != "" {
		entries, err = s.service.SearchCatalog(r.Context(), term, limit)
	} else {
		entries, err = s.service.Catalog(r.Context(), limit, offset)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []crawler.CatalogEntry{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
}

func (s *Server) getStory(w http.ResponseWriter, r *http.Request) {
	detail, err := s.service.Story(r.Context(), chi.URLParam(r, "mangaID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.DownloadStatus(r.Context(), chi.URLParam(r, "mangaID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) getChapters(w http.ResponseWriter, r *http.Request) {
	mangaID := chi.URLParam(r, "mangaID")
	ids, err := s.service.DownloadedChapters(r.Context(), mangaID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"manga_id": mangaID, "chapters": ids})
}

func (s *Server) getChapter(w http.ResponseWriter, r *http.Request) {
	mangaID := chi.URLParam(r, "mangaID")
	chapterID := chi.URLParam(r, "chapterID")
	set, err := s.service.ChapterImages(r.Context(), mangaID, chapterID)
	if errors.Is(err, crawler.ErrNotFound) && r.URL.Query().Get("materialize") == "true" {
		set, err = s.service.MaterializeChapter(r.Context(), mangaID, chapterID, "")
		if err == nil && len(set.Images) == 0 {
			s.writeError(w, http.StatusNotFound, "chapter has no images")
			return
		}
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var params crawler.JobParameters
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.jobs.Submit(r.Context(), params)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": job.Status})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Job(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", raw, err)
	}
	return v, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrInvalidJob), errors.Is(err, manga.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeError(w, status, err.Error())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.L(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSON(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	writeError(s.logger, w, status, msg)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
