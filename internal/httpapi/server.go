package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"meridian/internal/store"
	"meridian/pkg/meridian"
)

// Server serves the backtest results HTTP API.
type Server struct {
	results store.ResultStore
	log     *slog.Logger
}

// NewServer creates a results API server over the given store.
func NewServer(results store.ResultStore) *Server {
	return &Server{
		results: results,
		log:     slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/backtests", s.handleListBacktests)
	mux.HandleFunc("GET /api/backtests/{id}", s.handleGetBacktest)
	mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	runs, err := s.results.ListBacktests(r.Context())
	if err != nil {
		s.log.Error("listing backtests", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backtests")
		return
	}
	headers := make([]meridian.RunHeaderJSON, 0, len(runs))
	for i := range runs {
		headers = append(headers, headerJSON(&runs[i]))
	}
	writeJSON(w, headers)
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.results.GetBacktest(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "backtest not found")
			return
		}
		s.log.Error("loading backtest", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load backtest")
		return
	}
	writeJSON(w, runJSON(run))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
