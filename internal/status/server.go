// Package status serves batch progress over HTTP. The endpoints read the
// manifest store, so a status server and a running batch must not share one
// processing directory unless the batch itself hosts the server.
package status

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rkm/s1ard/internal/marker"
)

// Server exposes the progress of a batch run.
type Server struct {
	manifest *marker.Manifest
	logger   *slog.Logger
}

// New creates a Server reading from the given manifest.
func New(manifest *marker.Manifest, logger *slog.Logger) *Server {
	return &Server{manifest: manifest, logger: logger}
}

// Handler builds the HTTP router with all routes and middleware.
func (s *Server) Handler() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recovery(s.logger))
	r.Use(middleware.Compress(5))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Get("/progress", s.progress)
	r.Get("/units", s.units)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// progress returns the per-status entry counts of the manifest.
func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	p, err := s.manifest.Summary()
	if err != nil {
		s.logger.Error("failed to summarise manifest", "error", err)
		writeError(w, http.StatusInternalServerError, "ServerError", "failed to read manifest")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// units returns the distinct unit keys the batch has touched.
func (s *Server) units(w http.ResponseWriter, r *http.Request) {
	units, err := s.manifest.Units()
	if err != nil {
		s.logger.Error("failed to scan manifest", "error", err)
		writeError(w, http.StatusInternalServerError, "ServerError", "failed to read manifest")
		return
	}
	sort.Strings(units)
	writeJSON(w, http.StatusOK, map[string][]string{"units": units})
}
