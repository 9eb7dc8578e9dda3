// Package api is the HTTP boundary: a health probe and the webhook
// endpoint. All real work happens in the processor after the request
// has been acked.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/herald/internal/feishu"
	"github.com/MikeSquared-Agency/herald/internal/processor"
)

type Server struct {
	router *chi.Mux
	proc   *processor.Processor
	token  string
	port   int
	logger *slog.Logger
}

func NewServer(port int, proc *processor.Processor, verificationToken string, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		proc:   proc,
		token:  verificationToken,
		port:   port,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Post("/webhook/feishu", s.webhook)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// webhook acks within the platform's delivery deadline: the pipeline
// runs in the background after the response is written.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if challenge, ok := feishu.IsChallenge(raw); ok {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
		return
	}

	env, err := feishu.NormalizePayload(raw, s.token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported payload"})
		return
	}

	if err := feishu.VerifyToken(env, s.token); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid verification token"})
		return
	}
	if s.token == "" {
		s.logger.Warn("verification token not configured, accepting unverified webhook")
	}

	s.proc.Schedule(env)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
