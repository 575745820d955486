// Package oauthcallback serves the process-local HTTP listener that
// completes the GitHub OAuth dance (spec §4.9). Every log line from
// this package goes to standard error: standard output is reserved
// for the MCP transport's framed protocol messages.
package oauthcallback

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gitflow-mcp/gitflow-mcp/internal/authservice"
)

// Server serves /health and /oauth/callback.
type Server struct {
	auth *authservice.Service
	log  *log.Logger
}

// New constructs a Server. logger must write to stderr.
func New(auth *authservice.Service, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "oauthcallback ", log.LstdFlags|log.LUTC)
	}
	return &Server{auth: auth, log: logger}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/oauth/callback", s.handleCallback)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		renderError(w, http.StatusNotFound, "Not found", "That page doesn't exist.")
	})

	return r
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if oauthErr := strings.TrimSpace(q.Get("error")); oauthErr != "" {
		desc := q.Get("error_description")
		s.log.Printf("oauth callback: provider error=%s description=%s", oauthErr, desc)
		renderError(w, http.StatusBadRequest, "GitHub sign-in was cancelled", desc)
		return
	}

	code := strings.TrimSpace(q.Get("code"))
	state := strings.TrimSpace(q.Get("state"))
	if code == "" || state == "" {
		renderError(w, http.StatusBadRequest, "Missing parameters", "The callback URL is missing code or state.")
		return
	}

	result, err := s.auth.HandleCallback(r.Context(), code, state)
	if err != nil {
		s.log.Printf("oauth callback: %v", err)
		renderError(w, http.StatusUnauthorized, "Sign-in failed", "Your GitHub sign-in link may have expired. Run authenticate_github again.")
		return
	}

	renderSuccess(w, result.User.Username, result.User.ID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
