package rovermock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/remote"
)

func putFaults(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, url+MaintenancePrefix+"/faults", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT faults: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMaintenanceFaultsReachableWhileOffline(t *testing.T) {
	s, client, srv := startMock(t, testConfig())
	ctx := context.Background()

	if resp := putFaults(t, srv.URL, `{"offline":true}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT faults status = %d", resp.StatusCode)
	}
	if !s.State().Faults().Offline {
		t.Fatal("Offline fault not applied")
	}
	if _, err := client.Health(ctx); !errors.Is(err, remote.ErrTransportFailure) {
		t.Errorf("Health() = %v, want TransportFailure", err)
	}

	// Maintenance is not subject to injected faults
	resp, err := http.Get(srv.URL + MaintenancePrefix + "/faults")
	if err != nil {
		t.Fatalf("GET faults: %v", err)
	}
	defer resp.Body.Close()
	var got Faults
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Offline || got.RejectAll {
		t.Errorf("faults = %+v", got)
	}

	putFaults(t, srv.URL, `{}`)
	if _, err := client.Health(ctx); err != nil {
		t.Errorf("Health() after clearing = %v", err)
	}
}

func TestMaintenanceRejectsUnknownFields(t *testing.T) {
	_, _, srv := startMock(t, testConfig())

	if resp := putFaults(t, srv.URL, `{"meltdown":true}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMaintenanceStateAndReset(t *testing.T) {
	s, client, srv := startMock(t, testConfig())
	ctx := context.Background()

	if _, err := client.Move(ctx, string(command.Forward)); err != nil {
		t.Fatalf("Move() failed: %v", err)
	}
	s.State().SetCamera(true)
	s.State().SetFaults(Faults{FailCameraStart: true})

	resp, err := http.Get(srv.URL + MaintenancePrefix + "/state")
	if err != nil {
		t.Fatalf("GET state: %v", err)
	}
	var st maintenanceState
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.CameraOn || !st.Faults.FailCameraStart {
		t.Errorf("state = %+v", st)
	}
	if len(st.History) != 1 || st.History[0] != string(command.Forward) {
		t.Errorf("history = %v", st.History)
	}

	resp, err = http.Post(srv.URL+MaintenancePrefix+"/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST reset: %v", err)
	}
	resp.Body.Close()
	if s.State().CameraOn() || s.State().Faults() != (Faults{}) {
		t.Error("reset left camera or faults set")
	}
}

func TestLoopbackOnly(t *testing.T) {
	h := loopbackOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5000", http.StatusNoContent},
		{"[::1]:5000", http.StatusNoContent},
		{"192.168.1.20:5000", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, MaintenancePrefix+"/faults", nil)
			req.RemoteAddr = tt.remote
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
