// Package server exposes the verification pipeline over HTTP: record intake,
// document upload, live status streaming and manual stage re-triggering.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/byebiz/layerone/internal/blob"
	"github.com/byebiz/layerone/internal/live"
	"github.com/byebiz/layerone/internal/store"
	"github.com/byebiz/layerone/internal/trigger"
)

// maxUploadBytes bounds a single document upload request.
const maxUploadBytes = 32 << 20

// Server holds the wired pipeline components behind the HTTP API.
type Server struct {
	store    store.Store
	blobs    blob.Store
	bus      *live.Bus
	dispatch *trigger.Dispatcher
	origins  []string
}

// New builds a Server. store should be the live-publishing decorator so that
// mutations reach event subscribers.
func New(st store.Store, blobs blob.Store, bus *live.Bus, dispatch *trigger.Dispatcher, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{store: st, blobs: blobs, bus: bus, dispatch: dispatch, origins: origins}
}

// Router builds the HTTP routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/records", func(r chi.Router) {
		r.Post("/", s.handleCreateRecord)
		r.Get("/", s.handleListRecords)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRecord)
			r.Post("/documents", s.handleUploadDocuments)
			r.Get("/events", s.handleEvents)
			r.Post("/retrigger", s.handleRetrigger)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
