// Package httpapi exposes the jukebox over JSON HTTP routes and a WebSocket
// notification stream.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/cuelist/internal/app/filter"
	"github.com/osa030/cuelist/internal/app/jukebox"
	"github.com/osa030/cuelist/internal/app/notification"
	"github.com/osa030/cuelist/internal/infra/metrics"
)

// Jukebox is the command and query surface served by the API.
type Jukebox interface {
	PlayByID(id string)
	PauseByID(id string)
	StopCurrent()
	AddByID(id string)
	AddByPath(path string)
	RemoveByID(id string)
	MoveUp(id string, reorderCtx any)
	MoveDown(id string, reorderCtx any)
	Expand(id string)
	Collapse(id string)
	Search(query string)

	Entries() []jukebox.EntryView
	Entry(id string) (jukebox.EntryView, bool)
	Playback() jukebox.PlaybackView
	SearchResults() jukebox.SearchView
	Filters() []filter.Filter

	Subscribe() (string, <-chan notification.Event)
	Unsubscribe(id string)
}

// Config holds API configuration.
type Config struct {
	AdminToken string // Required in X-Admin-Token on mutating routes; empty disables the check
}

// Server routes HTTP requests to the jukebox.
type Server struct {
	config   Config
	jukebox  Jukebox
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// NewServer creates a new API server.
func NewServer(cfg Config, jb Jukebox, m *metrics.Metrics) *Server {
	return &Server{
		config:   cfg,
		jukebox:  jb,
		metrics:  m,
		validate: validator.New(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/entries", s.handleListEntries)
		r.Get("/entries/{id}", s.handleGetEntry)
		r.Get("/playback", s.handlePlayback)
		r.Get("/search/results", s.handleSearchResults)
		r.Get("/filters", s.handleFilters)
		r.Get("/ws", s.handleWS)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Post("/entries", s.handleAddEntry)
			r.Delete("/entries/{id}", s.handleRemoveEntry)
			r.Post("/entries/{id}/play", s.command(s.jukebox.PlayByID))
			r.Post("/entries/{id}/pause", s.command(s.jukebox.PauseByID))
			r.Post("/entries/{id}/expand", s.command(s.jukebox.Expand))
			r.Post("/entries/{id}/collapse", s.command(s.jukebox.Collapse))
			r.Post("/entries/{id}/up", s.handleMove(s.jukebox.MoveUp))
			r.Post("/entries/{id}/down", s.handleMove(s.jukebox.MoveDown))
			r.Post("/stop", s.handleStop)
			r.Get("/search", s.handleSearch)
		})
	})
	return r
}

type addRequest struct {
	ID   string `json:"id" validate:"required_without=Path"`
	Path string `json:"path" validate:"required_without=ID"`
}

type moveRequest struct {
	Context any `json:"context"`
}

type filterInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ReturnCodes []string `json:"return_codes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jukebox.Entries())
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.jukebox.Entry(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jukebox.Playback())
}

func (s *Server) handleSearchResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jukebox.SearchResults())
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	filters := s.jukebox.Filters()
	out := make([]filterInfo, 0, len(filters))
	for _, f := range filters {
		out = append(out, filterInfo{Name: f.Name(), Description: f.Description(), ReturnCodes: f.ReturnCodes()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "id or path is required")
		return
	}
	if req.ID != "" {
		s.jukebox.AddByID(req.ID)
	} else {
		s.jukebox.AddByPath(req.Path)
	}
	accepted(w)
}

func (s *Server) handleRemoveEntry(w http.ResponseWriter, r *http.Request) {
	s.jukebox.RemoveByID(chi.URLParam(r, "id"))
	accepted(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.jukebox.StopCurrent()
	accepted(w)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.jukebox.Search(r.URL.Query().Get("q"))
	accepted(w)
}

func (s *Server) command(fn func(id string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(chi.URLParam(r, "id"))
		accepted(w)
	}
}

// handleMove accepts an optional body whose context is echoed in the
// reordered notification.
func (s *Server) handleMove(fn func(id string, reorderCtx any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req moveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		fn(chi.URLParam(r, "id"), req.Context)
		accepted(w)
	}
}

func accepted(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("httpapi: failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
