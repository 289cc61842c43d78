package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/elonfeng/popradar/internal/metrics"
	"github.com/elonfeng/popradar/internal/pipeline"
	"github.com/elonfeng/popradar/internal/store"
	"github.com/elonfeng/popradar/pkg/rank"
	"github.com/elonfeng/popradar/pkg/source"
)

// CollectTimeout bounds an on-demand pass started over HTTP.
const CollectTimeout = 30 * time.Minute

// Collector runs an on-demand aggregation pass.
type Collector interface {
	RunOnce(ctx context.Context) (*pipeline.Report, error)
}

// Server provides the HTTP query API over the current snapshot.
type Server struct {
	holder     *store.Holder
	collector  Collector
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates the HTTP server. collector and m may be nil.
func New(port int, holder *store.Holder, collector Collector, m *metrics.Metrics, logger *slog.Logger) *Server {
	if port == 0 {
		port = 8000
	}
	s := &Server{
		holder:    holder,
		collector: collector,
		metrics:   m,
		logger:    logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      withLogging(logger, s.routes()),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /workflows", s.handleWorkflows)
	mux.HandleFunc("GET /api/v1/platforms", s.handlePlatforms)
	mux.HandleFunc("POST /api/v1/reload", s.handleReload)
	mux.HandleFunc("POST /api/v1/collect", s.handleCollect)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Handler returns the full handler chain, including request logging.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or an error occurs.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := rank.Filter{
		Platform: q.Get("platform"),
		Region:   q.Get("country"),
	}
	if filter.Region == "" {
		filter.Region = q.Get("region")
	}
	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.metrics.ObserveQuery(http.StatusBadRequest)
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	records, err := s.holder.Records(r.Context())
	if err != nil {
		s.logger.Error("failed to load snapshot", "error", err)
		s.metrics.ObserveQuery(http.StatusInternalServerError)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load snapshot")
		return
	}
	if len(records) == 0 {
		s.metrics.ObserveQuery(http.StatusServiceUnavailable)
		writeError(w, http.StatusServiceUnavailable, "no_data", rank.ErrNoData.Error())
		return
	}

	ranked := rank.Query(records, filter)
	s.metrics.ObserveQuery(http.StatusOK)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(ranked),
		"workflows": ranked,
	})
}

type platformInfo struct {
	Name    string         `json:"name"`
	Records int            `json:"records"`
	Regions map[string]int `json:"regions"`
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	records, err := s.holder.Records(r.Context())
	if err != nil {
		s.logger.Error("failed to load snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load snapshot")
		return
	}

	byName := make(map[source.Platform]*platformInfo)
	var infos []*platformInfo
	for _, p := range source.AllPlatforms() {
		info := &platformInfo{Name: string(p), Regions: map[string]int{}}
		byName[p] = info
		infos = append(infos, info)
	}
	for _, rec := range records {
		info, ok := byName[rec.Platform]
		if !ok {
			continue
		}
		info.Records++
		info.Regions[rec.Region]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  infos,
		"total": len(records),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	records, err := s.holder.Reload(r.Context())
	if err != nil {
		s.logger.Error("snapshot reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to reload snapshot")
		return
	}
	s.metrics.SetSnapshotRecords(len(records))
	s.logger.Info("snapshot reloaded", "records", len(records))
	writeJSON(w, http.StatusOK, map[string]int{"records": len(records)})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "collection is not enabled")
		return
	}

	// A full pass outlives the default write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("could not clear write deadline", "error", err)
	}

	// The pass outlives a client that hangs up mid-request.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), CollectTimeout)
	defer cancel()

	rep, err := s.collector.RunOnce(ctx)
	switch {
	case errors.Is(err, pipeline.ErrPassInProgress):
		writeError(w, http.StatusConflict, "pass_in_progress", err.Error())
		return
	case err != nil:
		s.logger.Error("on-demand pass failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "pass failed")
		return
	}

	resp := map[string]any{
		"run_id":    rep.RunID,
		"records":   rep.Records,
		"written":   rep.Written,
		"collected": rep.ByPlatform(),
	}
	var errs []string
	for _, f := range rep.Fetches {
		if f.Err != nil {
			errs = append(errs, fmt.Sprintf("%s/%s: %v", f.Platform, f.Region, f.Err))
		}
	}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{
		"error":   errType,
		"message": message,
	})
}

func withLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
