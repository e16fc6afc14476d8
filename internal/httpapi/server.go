// Package httpapi serves the read-only status surface of a running screener.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"stage2-screener/internal/model"
	"stage2-screener/internal/service"
	"stage2-screener/internal/storage"
)

type ctxKey struct{}

// LatestCycle exposes the in-process cycle, if one has completed.
type LatestCycle interface {
	Latest() *service.Cycle
}

// Server is the HTTP listener plus its router.
type Server struct {
	router *mux.Router
	server *http.Server
	latest LatestCycle
	store  storage.ResultStore
	logger zerolog.Logger
}

// New builds the router. latest and store may be nil; metrics is served as-is.
func New(addr string, latest LatestCycle, store storage.ResultStore, metrics http.Handler, logger zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		latest: latest,
		store:  store,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}

	s.router.Use(s.requestIDMiddleware, s.loggingMiddleware)
	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if metrics != nil {
		s.router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonContentType)
	api.HandleFunc("/scan/latest", s.latestScan).Methods(http.MethodGet)
	api.HandleFunc("/scan/latest/{ticker}", s.latestTicker).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.runs).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

type scanResponse struct {
	Run     storage.ScanRun      `json:"run"`
	Results []model.ScreenResult `json:"results"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.latest != nil {
		if c := s.latest.Latest(); c != nil {
			body["last_cycle"] = c.Run.FinishedAt
			body["trading_date"] = c.Run.TradingDate.Format(model.DateLayout)
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) latestScan(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.loadLatest(w, r)
	if !ok {
		return
	}
	if st := r.URL.Query().Get("status"); st != "" {
		filtered := resp.Results[:0:0]
		for _, res := range resp.Results {
			if string(res.Status) == st {
				filtered = append(filtered, res)
			}
		}
		resp.Results = filtered
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) latestTicker(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.loadLatest(w, r)
	if !ok {
		return
	}
	ticker := mux.Vars(r)["ticker"]
	for _, res := range resp.Results {
		if res.Ticker == ticker {
			writeJSON(w, http.StatusOK, res)
			return
		}
	}
	writeError(w, http.StatusNotFound, "ticker not in latest scan")
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage not configured")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list runs failed")
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// loadLatest prefers the in-process cycle and falls back to the store.
func (s *Server) loadLatest(w http.ResponseWriter, r *http.Request) (scanResponse, bool) {
	if s.latest != nil {
		if c := s.latest.Latest(); c != nil {
			results := make([]model.ScreenResult, len(c.Results))
			copy(results, c.Results)
			return scanResponse{Run: c.Run, Results: results}, true
		}
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "no scan completed yet")
		return scanResponse{}, false
	}
	run, records, err := s.store.LatestScan(r.Context())
	if errors.Is(err, storage.ErrNoScans) {
		writeError(w, http.StatusNotFound, "no scan completed yet")
		return scanResponse{}, false
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("load latest scan failed")
		writeError(w, http.StatusInternalServerError, "load latest scan failed")
		return scanResponse{}, false
	}
	results := make([]model.ScreenResult, 0, len(records))
	for _, rec := range records {
		results = append(results, rec.ScreenResult())
	}
	model.SortByPriority(results)
	return scanResponse{Run: run, Results: results}, true
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		id, _ := r.Context().Value(ctxKey{}).(string)
		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
