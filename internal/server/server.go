// Package server exposes the HTTP API: starting and aborting indexing jobs,
// the per-workspace event stream, and job snapshots.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pageproof/internal/config"
	"pageproof/internal/domain"
	"pageproof/internal/events"
	"pageproof/internal/indexer"
	"pageproof/internal/model"
	"pageproof/internal/signing"
)

// JobController starts and aborts indexing runs.
type JobController interface {
	Start(ctx context.Context, workspaceID string, opts indexer.StartOptions) (*model.IndexJob, error)
	Abort(ctx context.Context, workspaceID string) (*model.IndexJob, error)
}

// JobReader returns the most recent job for a workspace.
type JobReader interface {
	Latest(ctx context.Context, workspaceID string) (*model.IndexJob, error)
}

// MemberStore resolves a user's role in a workspace.
type MemberStore interface {
	Role(ctx context.Context, workspaceID, userID string) (string, error)
}

// Server hosts the HTTP handlers. It stitches together the job controller,
// the event hub, session verification, and membership checks.
type Server struct {
	cfg        *config.Config
	controller JobController
	jobs       JobReader
	members    MemberStore
	hub        *events.Hub
	signer     *signing.Signer
	log        zerolog.Logger

	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, controller JobController, jobs JobReader, members MemberStore, hub *events.Hub, signer *signing.Signer, log zerolog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		controller: controller,
		jobs:       jobs,
		members:    members,
		hub:        hub,
		signer:     signer,
		log:        log.With().Str("component", "server").Logger(),
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Routes(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info().Str("addr", s.cfg.Address).Msg("api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Routes builds the router. Exposed so tests can drive handlers directly.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.With(s.requireService).Post("/index", s.handleStart)
		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.With(s.requireService).Post("/index/abort", s.handleAbort)
			r.With(s.requireMember).Get("/events", s.handleEvents)
			r.With(s.requireMember).Get("/job", s.handleJob)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	WorkspaceID   string   `json:"workspaceId"`
	DocumentIDs   []string `json:"documentIds"`
	RenderDPI     int      `json:"renderDpi"`
	RenderQuality int      `json:"renderQuality"`
	AnalysisModel string   `json:"analysisModel"`
}

// handleStart accepts an indexing request and returns immediately; the run
// proceeds in the background and reports through the event stream.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, domain.Validation("request body must be JSON"))
		return
	}
	job, err := s.controller.Start(r.Context(), req.WorkspaceID, indexer.StartOptions{
		DocumentIDs:   req.DocumentIDs,
		RenderDPI:     req.RenderDPI,
		RenderQuality: req.RenderQuality,
		AnalysisModel: req.AnalysisModel,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"jobId":  job.ID,
	})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	job, err := s.controller.Abort(r.Context(), workspaceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "cancelled",
		"jobId":  job.ID,
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	job, err := s.jobs.Latest(r.Context(), workspaceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

const heartbeatInterval = 15 * time.Second

// handleEvents streams job events for a workspace over SSE. The stream carries
// no history: subscribers see only events published after they connect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")
	ch, cancel := s.hub.Subscribe(workspaceID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Type.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("event: " + string(ev.Type) + "\n")); err != nil {
		return err
	}
	_, err = w.Write(append(append([]byte("data: "), data...), '\n', '\n'))
	return err
}

// requireService admits only callers presenting the service token.
func (s *Server) requireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if s.cfg.ServiceToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.ServiceToken)) != 1 {
			respondError(w, domain.New(domain.KindAuth, "invalid service token", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireMember admits callers holding a valid session token for a user with
// some role in the workspace. The token may arrive as a bearer header or, for
// EventSource clients that cannot set headers, as a query parameter.
func (s *Server) requireMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		userID, err := s.signer.Verify(token)
		if err != nil {
			respondError(w, domain.New(domain.KindAuth, "invalid session token", err))
			return
		}
		workspaceID := chi.URLParam(r, "workspaceID")
		if _, err := s.members.Role(r.Context(), workspaceID, userID); err != nil {
			respondError(w, domain.New(domain.KindAuth, "no access to this workspace", err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps the error taxonomy onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindAuth:
		status = http.StatusUnauthorized
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}
