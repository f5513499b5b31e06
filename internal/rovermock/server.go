package rovermock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/net/websocket"

	"github.com/maishede/little-eighteen/internal/auth"
	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/config"
	"github.com/maishede/little-eighteen/internal/remote"
)

// Speed bounds accepted by /control/speed.
const (
	SpeedMin = 0
	SpeedMax = 100
)

// Replies sent on the speech channel.
const (
	replyAccepted     = "已接收命令: "
	replyUnrecognised = "未识别出有效命令"
)

// Server serves the emulated controller.
type Server struct {
	cfg      config.MockConfig
	state    *State
	verifier *auth.Verifier
	logger   *log.Logger

	asrMu    sync.Mutex
	asrConns map[*websocket.Conn]struct{}

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a mock from configuration. Bearer tokens are required
// when cfg.Auth.Secret is set.
func NewServer(cfg *config.Config, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		cfg:      cfg.Mock,
		state:    NewState(cfg.Speed.Default, cfg.Mock.DemoStepUnit, logger),
		logger:   logger,
		asrConns: make(map[*websocket.Conn]struct{}),
	}
	s.state.SetFaults(Faults{
		FailCameraStart: cfg.Mock.FailCameraStart,
		RejectAll:       cfg.Mock.RejectAll,
		Offline:         cfg.Mock.Offline,
	})

	if cfg.Auth.Secret != "" {
		verifier, err := auth.NewVerifier(cfg.Auth.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to create verifier: %w", err)
		}
		s.verifier = verifier
	}
	return s, nil
}

// State exposes the emulated rover for inspection and fault injection.
func (s *Server) State() *State {
	return s.state
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	root := mux.NewRouter()
	root.PathPrefix(MaintenancePrefix).Handler(s.maintenanceHandler())
	root.PathPrefix("/").Handler(s.roverHandler())
	return root
}

// roverHandler serves the controller surface.
func (s *Server) roverHandler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests, s.injectFaults)

	var authMW *auth.Middleware
	if s.verifier != nil {
		authMW = auth.NewMiddleware(s.verifier, remote.PathHealth, remote.PathVideoFeed)
		r.Use(authMW.RequireAuth)
	}
	scoped := func(h http.HandlerFunc, scope string) http.Handler {
		if authMW == nil {
			return h
		}
		return authMW.RequireScope(scope)(h)
	}

	r.HandleFunc(remote.PathHealth, s.handleHealth).Methods(http.MethodGet)
	r.Handle(remote.PathControl, scoped(s.handleControl, auth.ScopeControl)).Methods(http.MethodPost)
	r.Handle(remote.PathSpeed, scoped(s.handleSpeed, auth.ScopeControl)).Methods(http.MethodPost)
	r.Handle(remote.PathCmd, scoped(s.handleCmd, auth.ScopeControl)).Methods(http.MethodPost)
	r.Handle(remote.PathDemoStart, scoped(s.handleDemoStart, auth.ScopeControl)).Methods(http.MethodPost)
	r.Handle(remote.PathDemoStop, scoped(s.handleDemoStop, auth.ScopeControl)).Methods(http.MethodPost)
	r.Handle(remote.PathCameraStart, scoped(s.handleCameraStart, auth.ScopeCamera)).Methods(http.MethodPost)
	r.Handle(remote.PathCameraStop, scoped(s.handleCameraStop, auth.ScopeCamera)).Methods(http.MethodPost)
	r.HandleFunc(remote.PathVideoFeed, s.handleVideoFeed).Methods(http.MethodGet)
	r.Handle(remote.PathSpeech, scoped(s.asrServer().ServeHTTP, auth.ScopeSpeech))
	r.Handle(remote.PathSpeech+"/say", scoped(s.handleSay, auth.ScopeSpeech)).Methods(http.MethodPost)

	return r
}

// ListenAndServe serves on cfg.Mock.Addr until Shutdown.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start mock server: %w", err)
	}
	return nil
}

// Shutdown stops serving, closes speech channels and ends any demo.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	// Speech channels are hijacked and not tracked by http.Server
	s.asrMu.Lock()
	for conn := range s.asrConns {
		_ = conn.Close()
	}
	s.asrMu.Unlock()

	s.state.SetCamera(false)
	s.state.Close()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown mock server: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("rovermock: %s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// injectFaults drops or rejects requests per the active faults. Health
// checks are rejected too so the client sees the rover as down.
func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		faults := s.state.Faults()
		switch {
		case faults.Offline:
			hijacker, ok := w.(http.Hijacker)
			if !ok {
				http.Error(w, "offline", http.StatusServiceUnavailable)
				return
			}
			conn, _, err := hijacker.Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		case faults.RejectAll:
			writeDetail(w, http.StatusServiceUnavailable, "Rover is not accepting commands")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes a {"detail": ...} error body.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// validationError is a field-level 422 body.
type validationError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// writeValidation writes a 422 listing a single invalid body field.
func writeValidation(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"detail": []validationError{{Loc: []string{"body", field}, Msg: msg, Type: "value_error"}},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction *string `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Direction == nil {
		writeValidation(w, "direction", "field required")
		return
	}

	s.state.Execute(command.Direction(*req.Direction))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "received_command": *req.Direction})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *int `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Speed == nil {
		writeValidation(w, "speed", "value is not a valid integer")
		return
	}
	if *req.Speed < SpeedMin || *req.Speed > SpeedMax {
		writeValidation(w, "speed", fmt.Sprintf("ensure this value is between %d and %d", SpeedMin, SpeedMax))
		return
	}

	s.state.SetSpeed(*req.Speed)
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "speed": *req.Speed})
}

func (s *Server) handleCmd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == nil {
		writeValidation(w, "text", "field required")
		return
	}

	cmd, ok := ParseVoice(*req.Text)
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "未能解析出有效命令")
		return
	}
	s.state.Execute(cmd)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "parsed_command": string(cmd)})
}

func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CameraStartDelay > 0 {
		select {
		case <-time.After(s.cfg.CameraStartDelay):
		case <-r.Context().Done():
			return
		}
	}

	if s.state.Faults().FailCameraStart {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "Camera could not be opened"})
		return
	}

	s.state.SetCamera(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Camera started."})
}

func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	message := "Camera already stopped or not active."
	if s.state.SetCamera(false) {
		message = "Camera stopped."
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": message})
}

func (s *Server) handleDemoStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DemoName string `json:"demo_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DemoName == "" {
		writeValidation(w, "demo_name", "field required")
		return
	}

	if err := s.state.StartDemo(req.DemoName); err != nil {
		switch {
		case errors.Is(err, ErrUnknownDemo):
			writeDetail(w, http.StatusNotFound, fmt.Sprintf("Demo '%s' not found", req.DemoName))
		case errors.Is(err, ErrDemoRunning):
			writeDetail(w, http.StatusConflict, fmt.Sprintf("Demo '%s' is already running", s.state.RunningDemo()))
		default:
			writeDetail(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Demo '%s' started", req.DemoName)})
}

func (s *Server) handleDemoStop(w http.ResponseWriter, r *http.Request) {
	message := "No demo running"
	if s.state.StopDemo() {
		message = "Demo stopped"
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}
