// File: internal/api/server.go
// ============================================
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	json "github.com/bytedance/sonic"

	"smart-trading-bot/internal/logging"
	"smart-trading-bot/pkg/types"
)

// Controller is the part of the orchestrator the HTTP shim drives.
type Controller interface {
	GetState() types.BotState
	StartE() error
	StopE() error
	Reset()
}

type controlResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Server struct {
	addr   string
	ctrl   Controller
	logger logging.LoggerInterface
	mux    *http.ServeMux
}

func NewServer(addr string, ctrl Controller, logger logging.LoggerInterface) *Server {
	if logger == nil {
		logger = logging.Nop{}
	}
	s := &Server{addr: addr, ctrl: ctrl, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/trades", s.handleTrades)
	s.mux.HandleFunc("GET /api/actions", s.handleActions)
	s.mux.HandleFunc("POST /api/start", s.control(ctrl.StartE))
	s.mux.HandleFunc("POST /api/stop", s.control(ctrl.StopE))
	s.mux.HandleFunc("POST /api/reset", s.control(func() error {
		ctrl.Reset()
		return nil
	}))
	return s
}

// Handle mounts an extra handler, e.g. the dashboard websocket.
func (s *Server) Handle(pattern string, h http.Handler) { s.mux.Handle(pattern, h) }

func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🌐 HTTP API listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
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
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("🌐 HTTP API stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, controlResponse{OK: true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.GetState())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.GetState().Trades)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctrl.GetState().ActionLog)
}

// control wraps a state-changing operation. Refusals are reported as
// ok=false with 409; the request itself succeeded.
func (s *Server) control(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			s.logger.Warning("⚠️ %s refused: %v", r.URL.Path, err)
			s.writeJSON(w, http.StatusConflict, controlResponse{OK: false, Error: err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, controlResponse{OK: true})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("❌ JSON marshaling error: %v", err)
		http.Error(w, "JSON marshaling error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
