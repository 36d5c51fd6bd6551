// Package httpapi exposes the outbound-send HTTP endpoint and a health
// probe. Inbound chat traffic never flows through here; this surface exists
// for the automation side to push replies back into the chat session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/dixelmedia/wabridge/internal/config"
	"github.com/dixelmedia/wabridge/internal/dispatch"
	"github.com/dixelmedia/wabridge/internal/session"
)

// Relayer sends an operator message into the chat session.
type Relayer interface {
	Relay(ctx context.Context, to, text string) error
}

// Server is the HTTP API server.
type Server struct {
	cfg     *config.Config
	relayer Relayer
	state   func() session.State
	limiter *rate.Limiter

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates the API server.
// rate_limit_rpm > 0 enables request limiting on /send; 0 disables it.
func NewServer(cfg *config.Config, relayer Relayer, state func() session.State) *Server {
	s := &Server{
		cfg:     cfg,
		relayer: relayer,
		state:   state,
	}
	gw, _, _ := cfg.Snapshot()
	if gw.RateLimitRPM > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(gw.RateLimitRPM)/60, 5)
	}
	return s
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	gw, _, _ := s.cfg.Snapshot()
	addr := gw.Addr()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("api listening", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

type sendRequest struct {
	To      string `json:"to"`
	Number  string `json:"number"` // accepted alias for to
	Message string `json:"message"`
}

// handleSend relays one message into the chat session.
// 400: malformed request. 503: session not connected. 500: send failed.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to := req.To
	if to == "" {
		to = req.Number
	}

	err := s.relayer.Relay(r.Context(), to, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	case errors.Is(err, dispatch.ErrBadInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("send relay failed", "to", to, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleHealth reports liveness and the current session state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"session": s.state().String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
