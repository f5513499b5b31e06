package speech

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maishede/little-eighteen/internal/telemetry"
)

type fakeEndpoint struct {
	url    string
	header http.Header
	err    error
}

func (f fakeEndpoint) SpeechURL() string { return f.url }

func (f fakeEndpoint) AuthHeader() (http.Header, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.header, nil
}

// asrServer is a scripted speech endpoint.
type asrServer struct {
	*httptest.Server
	dials   int32
	hold    chan struct{}
	handler func(conn *websocket.Conn)
}

func newASRServer(t *testing.T, handler func(conn *websocket.Conn)) *asrServer {
	t.Helper()
	s := &asrServer{handler: handler}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.dials, 1)
		if s.hold != nil {
			<-s.hold
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.handler(conn)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func (s *asrServer) endpoint() fakeEndpoint {
	return fakeEndpoint{url: "ws" + strings.TrimPrefix(s.URL, "http") + "/asr"}
}

// drain reads until the client goes away; the default close handler echoes close frames.
func drain(conn *websocket.Conn) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type mockPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *mockPublisher) PublishTopic(topic string, event telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) states() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		if e.Type == "speech" {
			out = append(out, e.Data["state"].(string))
		}
	}
	return out
}

func newTestSession(ep Endpoint) (*Session, *mockPublisher) {
	events := &mockPublisher{}
	return NewSession(ep, Options{
		Logger: log.New(io.Discard, "", 0),
		Events: events,
	}), events
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("State() = %v, want %v", s.State(), want)
}

func TestConnectReceiveUnexpectedCloseReconnect(t *testing.T) {
	sent := make(chan struct{}, 2)
	srv := newASRServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("forward"))
		sent <- struct{}{}
		time.Sleep(20 * time.Millisecond)
		// Drop the connection without a close frame
		_ = conn.UnderlyingConn().Close()
	})
	s, events := newTestSession(srv.endpoint())

	s.Connect(context.Background())
	<-sent
	waitForState(t, s, Disconnected)
	s.Wait()

	if got := s.Transcript(); got != PlaceholderStopped {
		t.Errorf("Transcript() = %q, want %q", got, PlaceholderStopped)
	}

	states := events.states()
	want := []string{"Connecting", "Connected", "Disconnected"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("states = %v, want %v", states, want)
	}

	// Immediate reconnect allocates a fresh channel
	s.Connect(context.Background())
	<-sent
	waitForState(t, s, Disconnected)
	s.Wait()
	if n := atomic.LoadInt32(&srv.dials); n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}
}

func TestTranscriptReplacedVerbatim(t *testing.T) {
	release := make(chan struct{})
	srv := newASRServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("move forward"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("  turn left "))
		<-release
		drain(conn)
	})
	s, _ := newTestSession(srv.endpoint())

	s.Connect(context.Background())
	waitForState(t, s, Connected)

	deadline := time.Now().Add(2 * time.Second)
	for s.Transcript() != "  turn left " && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := s.Transcript(); got != "  turn left " {
		t.Errorf("Transcript() = %q, want the last payload verbatim", got)
	}

	close(release)
	s.Disconnect(context.Background())
	waitForState(t, s, Disconnected)
	s.Wait()
}

func TestListeningPlaceholderOnOpen(t *testing.T) {
	srv := newASRServer(t, drain)
	s, _ := newTestSession(srv.endpoint())

	s.Connect(context.Background())
	waitForState(t, s, Connected)
	if got := s.Transcript(); got != PlaceholderListening {
		t.Errorf("Transcript() = %q, want %q", got, PlaceholderListening)
	}

	s.Disconnect(context.Background())
	waitForState(t, s, Disconnected)
	s.Wait()
}

func TestDoubleConnectDialsOnce(t *testing.T) {
	srv := newASRServer(t, drain)
	srv.hold = make(chan struct{})
	s, _ := newTestSession(srv.endpoint())

	s.Connect(context.Background())
	s.Connect(context.Background())
	if s.State() != Connecting {
		t.Fatalf("State() = %v, want Connecting", s.State())
	}
	if !s.Active() {
		t.Error("Active() = false while Connecting")
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&srv.dials) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Connect(context.Background())
	close(srv.hold)

	waitForState(t, s, Connected)
	s.Connect(context.Background())

	if n := atomic.LoadInt32(&srv.dials); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}

	s.Disconnect(context.Background())
	waitForState(t, s, Disconnected)
	s.Wait()
}

func TestDisconnectIsImmediatelyInactive(t *testing.T) {
	srv := newASRServer(t, drain)
	s, events := newTestSession(srv.endpoint())

	s.Connect(context.Background())
	waitForState(t, s, Connected)

	s.Disconnect(context.Background())
	if s.Active() {
		t.Error("Active() = true right after Disconnect")
	}

	waitForState(t, s, Disconnected)
	s.Wait()
	if got := s.Transcript(); got != PlaceholderStopped {
		t.Errorf("Transcript() = %q", got)
	}

	states := events.states()
	if states[len(states)-2] != "Closing" || states[len(states)-1] != "Disconnected" {
		t.Errorf("states = %v, want ... Closing, Disconnected", states)
	}
}

func TestDisconnectWhileConnectingAbandonsDial(t *testing.T) {
	closed := make(chan struct{})
	srv := newASRServer(t, func(conn *websocket.Conn) {
		drain(conn)
		close(closed)
	})
	srv.hold = make(chan struct{})
	s, events := newTestSession(srv.endpoint())

	s.Connect(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&srv.dials) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	s.Disconnect(context.Background())
	if s.Active() {
		t.Error("Active() = true right after Disconnect while Connecting")
	}
	if s.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected", s.State())
	}
	if got := s.Transcript(); got != PlaceholderStopped {
		t.Errorf("Transcript() = %q, want %q", got, PlaceholderStopped)
	}

	// The late dial must not resurrect the channel
	close(srv.hold)
	s.Wait()
	if s.State() != Disconnected {
		t.Errorf("State() after late dial = %v, want Disconnected", s.State())
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Error("late connection was not closed")
	}

	states := events.states()
	want := []string{"Connecting", "Disconnected"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestDisconnectNoOpWhenNotConnected(t *testing.T) {
	s, events := newTestSession(fakeEndpoint{url: "ws://127.0.0.1:1/asr"})

	s.Disconnect(context.Background())
	if s.State() != Disconnected {
		t.Errorf("State() = %v", s.State())
	}
	if len(events.states()) != 0 {
		t.Error("Disconnect published events while disconnected")
	}
}

func TestDialFailureFaults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	s, _ := newTestSession(fakeEndpoint{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/asr"})
	s.Connect(context.Background())
	waitForState(t, s, Faulted)
	s.Wait()

	if got := s.Transcript(); got != PlaceholderError {
		t.Errorf("Transcript() = %q, want %q", got, PlaceholderError)
	}
	if s.Active() {
		t.Error("Active() = true while Faulted")
	}

	// Faulted permits a fresh connect
	s.Connect(context.Background())
	if s.State() != Connecting {
		t.Errorf("State() after reconnect = %v, want Connecting", s.State())
	}
	waitForState(t, s, Faulted)
	s.Wait()
}

func TestAuthHeaderFailureFaults(t *testing.T) {
	s, _ := newTestSession(fakeEndpoint{url: "ws://127.0.0.1:1/asr", err: errors.New("no key")})
	s.Connect(context.Background())
	waitForState(t, s, Faulted)
	s.Wait()
}

func TestAuthHeaderPresented(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		drain(conn)
	}))
	defer srv.Close()

	ep := fakeEndpoint{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/asr",
		header: http.Header{"Authorization": {"Bearer t0k"}},
	}
	s, _ := newTestSession(ep)
	s.Connect(context.Background())

	if h := <-got; h != "Bearer t0k" {
		t.Errorf("Authorization = %q", h)
	}
	waitForState(t, s, Connected)
	s.Close()
	s.Wait()
}

func TestSendRoundTrip(t *testing.T) {
	srv := newASRServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte("ack: "+string(msg)))
		}
	})
	s, _ := newTestSession(srv.endpoint())

	if err := s.Send("forward"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before connect = %v, want ErrNotConnected", err)
	}

	s.Connect(context.Background())
	waitForState(t, s, Connected)
	if err := s.Send("forward"); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Transcript() != "ack: forward" && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := s.Transcript(); got != "ack: forward" {
		t.Errorf("Transcript() = %q", got)
	}

	s.Disconnect(context.Background())
	waitForState(t, s, Disconnected)
	s.Wait()
}

func TestCloseDropsChannel(t *testing.T) {
	srv := newASRServer(t, drain)
	s, _ := newTestSession(srv.endpoint())

	s.Connect(context.Background())
	waitForState(t, s, Connected)
	s.Close()
	s.Wait()

	if s.State() != Disconnected || s.Transcript() != PlaceholderStopped {
		t.Errorf("after Close: state=%v transcript=%q", s.State(), s.Transcript())
	}
}
