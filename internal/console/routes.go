package console

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/auth"
	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/demo"
)

// APIPrefix is the base path of every endpoint.
const APIPrefix = "/api/v1"

// CorrelationHeader carries the request's correlation ID.
const CorrelationHeader = "X-Correlation-ID"

func (s *Server) routes() http.Handler {
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s is not allowed", r.Method), nil)
	})

	r := mux.NewRouter()
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = methodNotAllowed

	// Subrouters do not inherit the parent's handlers
	api := r.PathPrefix(APIPrefix).Subrouter()
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed

	// Health endpoint (no auth required)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Read access
	s.handle(api, http.MethodGet, "/state", s.handleState)
	s.handle(api, http.MethodGet, "/demos", s.handleDemos)
	s.handle(api, http.MethodGet, "/telemetry", s.handleTelemetry)

	// Motion control
	s.handle(api, http.MethodPost, "/move", s.handleMotion, auth.ScopeControl)
	s.handle(api, http.MethodPost, "/speed", s.handleSpeed, auth.ScopeControl)
	s.handle(api, http.MethodPost, "/text", s.handleText, auth.ScopeControl)
	s.handle(api, http.MethodPost, "/halt", s.handleHalt, auth.ScopeControl)
	s.handle(api, http.MethodPost, "/demo/start", s.handleDemoStart, auth.ScopeControl)
	s.handle(api, http.MethodPost, "/demo/stop", s.handleDemoStop, auth.ScopeControl)

	s.handle(api, http.MethodPost, "/camera/start", s.handleCameraStart, auth.ScopeCamera)
	s.handle(api, http.MethodPost, "/camera/stop", s.handleCameraStop, auth.ScopeCamera)

	s.handle(api, http.MethodPost, "/speech/connect", s.handleSpeechConnect, auth.ScopeSpeech)
	s.handle(api, http.MethodPost, "/speech/disconnect", s.handleSpeechDisconnect, auth.ScopeSpeech)
	s.handle(api, http.MethodPost, "/speech/send", s.handleSpeechSend, auth.ScopeSpeech)

	return r
}

// handle registers h, wrapped in authentication and the given scopes when
// the server has auth middleware.
func (s *Server) handle(r *mux.Router, method, path string, h http.HandlerFunc, scopes ...string) {
	var handler http.Handler = h
	if s.authMiddleware != nil {
		if len(scopes) > 0 {
			handler = s.authMiddleware.RequireScope(scopes...)(handler)
		}
		handler = s.authMiddleware.RequireAuth(handler)
	}
	r.Handle(path, handler).Methods(method)
}

// withCorrelation tags each request with a correlation ID and logs it.
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(audit.WithCorrelationID(r.Context(), id)))
		s.logger.Printf("console: %s %s (%s) %v", r.Method, r.URL.Path, id, time.Since(start))
	})
}

// operatorContext attaches the authenticated subject for auditing.
func operatorContext(r *http.Request) *http.Request {
	claims := auth.ClaimsFromContext(r.Context())
	if claims == nil || claims.Subject == "" {
		return r
	}
	return r.WithContext(audit.WithUser(r.Context(), claims.Subject))
}

// decodeJSON decodes a single strict JSON object.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed JSON or unknown fields: %w", ErrBadRequest)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("trailing data after JSON object: %w", ErrBadRequest)
	}
	return nil
}

// commandView is the data returned for a dispatched command.
type commandView struct {
	Kind    string          `json:"kind"`
	Outcome command.Outcome `json:"outcome"`
	Message string          `json:"message,omitempty"`
}

// writeCommand waits for the command's result and writes it.
func (s *Server) writeCommand(w http.ResponseWriter, r *http.Request, results <-chan command.Result) {
	select {
	case res := <-results:
		if res.Err != nil {
			writeErr(w, r, res.Err)
			return
		}
		view := commandView{Kind: res.Command.Kind(), Outcome: res.Outcome}
		if res.Response != nil {
			view.Message = res.Response.Message
		}
		WriteSuccess(w, r, view)
	case <-r.Context().Done():
	}
}

// writeDemo waits for a demo request's result and writes it.
func (s *Server) writeDemo(w http.ResponseWriter, r *http.Request, results <-chan demo.Result) {
	select {
	case res := <-results:
		if res.Err != nil {
			writeErr(w, r, res.Err)
			return
		}
		WriteSuccess(w, r, map[string]interface{}{
			"outcome": res.Outcome,
			"message": res.Message,
			"demo":    s.rover.Snapshot().Demo,
		})
	case <-r.Context().Done():
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	remoteStatus := "reachable"
	if err := s.rover.Health(r.Context()); err != nil {
		remoteStatus = "unreachable"
	}

	health := map[string]interface{}{
		"status":    "ok",
		"uptimeSec": time.Since(s.startTime).Seconds(),
		"remote":    remoteStatus,
	}
	if remoteStatus != "reachable" {
		health["status"] = "degraded"
		WriteError(w, r, http.StatusServiceUnavailable, "SERVICE_DEGRADED",
			"Rover controller is unreachable", health)
		return
	}
	WriteSuccess(w, r, health)
}

// handleState handles GET /state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, s.rover.Snapshot())
}

// handleDemos handles GET /demos
func (s *Server) handleDemos(w http.ResponseWriter, r *http.Request) {
	snap := s.rover.Snapshot()
	WriteSuccess(w, r, map[string]interface{}{"demos": snap.Demos, "current": snap.Demo})
}

// handleTelemetry handles GET /telemetry (SSE)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if s.telemetry == nil {
		WriteError(w, r, http.StatusServiceUnavailable, "UNAVAILABLE",
			"Telemetry service not available", nil)
		return
	}

	if err := s.telemetry.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Printf("console: telemetry stream ended: %v", err)
	}
}

// handleMotion handles POST /move
func (s *Server) handleMotion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	r = operatorContext(r)
	_, results := s.rover.Move(r.Context(), req.Direction)
	s.writeCommand(w, r, results)
}

// handleSpeed handles POST /speed
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed *int `json:"speed"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.Speed == nil {
		writeErr(w, r, fmt.Errorf("speed is required: %w", ErrBadRequest))
		return
	}
	r = operatorContext(r)
	_, results := s.rover.SetSpeed(r.Context(), *req.Speed)
	s.writeCommand(w, r, results)
}

// handleText handles POST /text
func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	r = operatorContext(r)
	_, results := s.rover.SendText(r.Context(), req.Text)
	s.writeCommand(w, r, results)
}

// handleHalt handles POST /halt
func (s *Server) handleHalt(w http.ResponseWriter, r *http.Request) {
	r = operatorContext(r)
	_, results := s.rover.Halt(r.Context())
	s.writeCommand(w, r, results)
}

// handleDemoStart handles POST /demo/start
func (s *Server) handleDemoStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	r = operatorContext(r)
	results, err := s.rover.StartDemo(r.Context(), req.Name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	s.writeDemo(w, r, results)
}

// handleDemoStop handles POST /demo/stop
func (s *Server) handleDemoStop(w http.ResponseWriter, r *http.Request) {
	r = operatorContext(r)
	s.writeDemo(w, r, s.rover.StopDemo(r.Context()))
}

// handleCameraStart handles POST /camera/start
func (s *Server) handleCameraStart(w http.ResponseWriter, r *http.Request) {
	r = operatorContext(r)
	if err := s.rover.StartCamera(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	WriteAccepted(w, r, s.rover.Snapshot().Camera)
}

// handleCameraStop handles POST /camera/stop
func (s *Server) handleCameraStop(w http.ResponseWriter, r *http.Request) {
	r = operatorContext(r)
	s.rover.StopCamera(r.Context())
	WriteAccepted(w, r, s.rover.Snapshot().Camera)
}

// handleSpeechConnect handles POST /speech/connect
func (s *Server) handleSpeechConnect(w http.ResponseWriter, r *http.Request) {
	r = operatorContext(r)
	s.rover.ConnectSpeech(r.Context())
	WriteAccepted(w, r, s.rover.Snapshot().Speech)
}

// handleSpeechDisconnect handles POST /speech/disconnect
func (s *Server) handleSpeechDisconnect(w http.ResponseWriter, r *http.Request) {
	r = operatorContext(r)
	s.rover.DisconnectSpeech(r.Context())
	WriteAccepted(w, r, s.rover.Snapshot().Speech)
}

// handleSpeechSend handles POST /speech/send
func (s *Server) handleSpeechSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.rover.SendSpeech(req.Text); err != nil {
		writeErr(w, r, err)
		return
	}
	WriteSuccess(w, r, map[string]string{"sent": req.Text})
}
