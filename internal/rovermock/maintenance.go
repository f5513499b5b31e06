package rovermock

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"
)

// MaintenancePrefix roots the loopback-only test control surface. It sits
// outside fault injection and auth so a test can always clear faults.
const MaintenancePrefix = "/_mock"

// maintenanceState is the body of GET /_mock/state.
type maintenanceState struct {
	Speed    int      `json:"speed"`
	CameraOn bool     `json:"cameraOn"`
	Demo     string   `json:"demo,omitempty"`
	History  []string `json:"history"`
	Faults   Faults   `json:"faults"`
}

func (s *Server) maintenanceHandler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests, loopbackOnly)

	r.HandleFunc(MaintenancePrefix+"/state", s.handleMaintenanceState).Methods(http.MethodGet)
	r.HandleFunc(MaintenancePrefix+"/faults", s.handleGetFaults).Methods(http.MethodGet)
	r.HandleFunc(MaintenancePrefix+"/faults", s.handleSetFaults).Methods(http.MethodPut)
	r.HandleFunc(MaintenancePrefix+"/reset", s.handleReset).Methods(http.MethodPost)
	return r
}

// loopbackOnly rejects callers outside 127.0.0.0/8 and ::1.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			writeDetail(w, http.StatusForbidden, "maintenance is loopback only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleMaintenanceState(w http.ResponseWriter, r *http.Request) {
	history := s.state.History()
	names := make([]string, len(history))
	for i, d := range history {
		names[i] = string(d)
	}
	demo := s.state.RunningDemo()
	writeJSON(w, http.StatusOK, maintenanceState{
		Speed:    s.state.Speed(),
		CameraOn: s.state.CameraOn(),
		Demo:     demo,
		History:  names,
		Faults:   s.state.Faults(),
	})
}

func (s *Server) handleGetFaults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Faults())
}

func (s *Server) handleSetFaults(w http.ResponseWriter, r *http.Request) {
	var f Faults
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid faults body: "+err.Error())
		return
	}
	s.state.SetFaults(f)
	s.logger.Printf("rovermock: faults set to %+v", f)
	writeJSON(w, http.StatusOK, f)
}

// handleReset clears faults, stops any demo and turns the camera off.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.state.SetFaults(Faults{})
	s.state.StopDemo()
	s.state.SetCamera(false)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
