package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]interface{}
}

// newRecordingServer answers every request with status and body and records what it saw.
func newRecordingServer(t *testing.T, status int, body string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), seen...)
	}
}

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

type failingToken struct{}

func (failingToken) Token() (string, error) { return "", errors.New("no key") }

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"http", "http://rover:8000", false},
		{"https_trailing_slash", "https://rover/", false},
		{"ws_scheme", "ws://rover", true},
		{"no_host", "http://", true},
		{"relative", "/rover", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.baseURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) err = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

func TestOperationsWireFormat(t *testing.T) {
	srv, seen := newRecordingServer(t, http.StatusOK, `{"status":"success","message":"ok"}`)
	c, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name     string
		call     func() (*Response, error)
		path     string
		wantBody map[string]interface{}
	}{
		{"move", func() (*Response, error) { return c.Move(ctx, "move_forward") }, "/control", map[string]interface{}{"direction": "move_forward"}},
		{"speed", func() (*Response, error) { return c.SetSpeed(ctx, 42) }, "/control/speed", map[string]interface{}{"speed": float64(42)}},
		{"text", func() (*Response, error) { return c.SendText(ctx, "go ahead") }, "/cmd", map[string]interface{}{"text": "go ahead"}},
		{"camera_start", func() (*Response, error) { return c.StartCamera(ctx) }, "/camera/start", nil},
		{"camera_stop", func() (*Response, error) { return c.StopCamera(ctx) }, "/camera/stop", nil},
		{"demo_start", func() (*Response, error) { return c.StartDemo(ctx, "box_step") }, "/demo/start", map[string]interface{}{"demo_name": "box_step"}},
		{"demo_stop", func() (*Response, error) { return c.StopDemo(ctx) }, "/demo/stop", nil},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.call()
			if err != nil {
				t.Fatalf("call failed: %v", err)
			}
			if resp.Status != "success" || resp.Message != "ok" {
				t.Errorf("response = %+v", resp)
			}

			got := seen()[i]
			if got.Method != http.MethodPost || got.Path != tt.path {
				t.Errorf("request = %s %s, want POST %s", got.Method, got.Path, tt.path)
			}
			if len(tt.wantBody) != len(got.Body) {
				t.Fatalf("body = %v, want %v", got.Body, tt.wantBody)
			}
			for k, v := range tt.wantBody {
				if got.Body[k] != v {
					t.Errorf("body[%q] = %v, want %v", k, got.Body[k], v)
				}
			}
		})
	}
}

func TestNonJSONSuccessBody(t *testing.T) {
	srv, _ := newRecordingServer(t, http.StatusOK, "fine")
	c, _ := NewClient(srv.URL)

	resp, err := c.StopCamera(context.Background())
	if err != nil {
		t.Fatalf("StopCamera() failed: %v", err)
	}
	if string(resp.Body) != "fine" {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestRejectedCarriesDetail(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"string_detail", http.StatusUnprocessableEntity, `{"detail":"could not parse command"}`, "could not parse command"},
		{"validation_list", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","text"],"msg":"field required"}]}`, "field required"},
		{"message_only", http.StatusInternalServerError, `{"message":"camera busy"}`, "camera busy"},
		{"plain_text", http.StatusBadGateway, `upstream down`, "upstream down"},
		{"empty_body", http.StatusServiceUnavailable, ``, "503 Service Unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newRecordingServer(t, tt.status, tt.body)
			c, _ := NewClient(srv.URL)

			_, err := c.SendText(context.Background(), "spin")
			if !errors.Is(err, ErrRemoteRejected) {
				t.Fatalf("err = %v, want ErrRemoteRejected", err)
			}

			var re *Error
			if !errors.As(err, &re) {
				t.Fatalf("err is %T, want *Error", err)
			}
			if re.Status != tt.status {
				t.Errorf("Status = %d, want %d", re.Status, tt.status)
			}
			if DetailOf(err) != tt.wantDetail {
				t.Errorf("DetailOf() = %q, want %q", DetailOf(err), tt.wantDetail)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, _ := NewClient(base)
	_, err := c.Move(context.Background(), "stop")
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("err = %v, want ErrTransportFailure", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := NewClient(srv.URL, WithRequestTimeout(20*time.Millisecond))
	_, err := c.StartCamera(context.Background())
	if !errors.Is(err, ErrTransportFailure) {
		t.Fatalf("err = %v, want ErrTransportFailure", err)
	}
}

func TestBearerToken(t *testing.T) {
	srv, seen := newRecordingServer(t, http.StatusOK, `{}`)

	c, _ := NewClient(srv.URL, WithTokenSource(staticToken("abc")))
	if _, err := c.Move(context.Background(), "stop"); err != nil {
		t.Fatalf("Move() failed: %v", err)
	}
	if got := seen()[0].Auth; got != "Bearer abc" {
		t.Errorf("Authorization = %q", got)
	}

	c, _ = NewClient(srv.URL, WithTokenSource(failingToken{}))
	if _, err := c.Move(context.Background(), "stop"); !errors.Is(err, ErrTransportFailure) {
		t.Errorf("err = %v, want ErrTransportFailure when no token can be minted", err)
	}
	if len(seen()) != 1 {
		t.Error("request sent without a token")
	}
}

func TestDerivedURLs(t *testing.T) {
	tests := []struct {
		base       string
		wantFeed   string
		wantSpeech string
	}{
		{"http://rover:8000", "http://rover:8000/video_feed?t=42", "ws://rover:8000/asr"},
		{"https://rover.example.com", "https://rover.example.com/video_feed?t=42", "wss://rover.example.com/asr"},
		{"http://gw/rover/", "http://gw/rover/video_feed?t=42", "ws://gw/rover/asr"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			c, err := NewClient(tt.base)
			if err != nil {
				t.Fatalf("NewClient() failed: %v", err)
			}
			if got := c.FeedURL(42); got != tt.wantFeed {
				t.Errorf("FeedURL() = %q, want %q", got, tt.wantFeed)
			}
			if got := c.SpeechURL(); got != tt.wantSpeech {
				t.Errorf("SpeechURL() = %q, want %q", got, tt.wantSpeech)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify("op", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	rejected := Rejected("POST /cmd", 422, "nope")
	if Classify("other", rejected) != rejected {
		t.Error("classified errors should pass through")
	}

	err := Classify("POST /control", context.DeadlineExceeded)
	if !errors.Is(err, ErrTransportFailure) {
		t.Errorf("Classify(deadline) = %v", err)
	}
	if !strings.Contains(err.Error(), "POST /control") {
		t.Errorf("Error() = %q, want op", err.Error())
	}
}
