package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/telemetry"
)

// State is the channel lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closing:
		return "Closing"
	case Faulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transcript placeholders.
const (
	PlaceholderListening = "Listening..."
	PlaceholderError     = "Speech recognition error"
	PlaceholderStopped   = "Speech recognition stopped"
)

// closeGrace is how long a graceful close waits for the peer's close frame.
const closeGrace = time.Second

// ErrNotConnected is returned by Send outside the Connected state.
var ErrNotConnected = errors.New("speech channel not connected")

// Endpoint locates the speech channel.
type Endpoint interface {
	SpeechURL() string
	AuthHeader() (http.Header, error)
}

// AuditLogger interface for writing audit records.
type AuditLogger interface {
	LogAction(ctx context.Context, entry audit.Entry)
}

// Publisher receives state and transcript events.
type Publisher interface {
	PublishTopic(topic string, event telemetry.Event) error
}

// Options configures a Session.
type Options struct {
	Dialer *websocket.Dialer
	Logger *log.Logger
	Audit  AuditLogger
	Events Publisher
}

// Session owns the speech channel. All methods are safe for concurrent use.
type Session struct {
	endpoint Endpoint
	dialer   *websocket.Dialer
	opts     Options
	logger   *log.Logger

	mu         sync.Mutex
	state      State
	transcript string
	conn       *websocket.Conn
	// attempt identifies the current channel; goroutines of older attempts
	// must not touch session state.
	attempt uint64

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewSession creates a disconnected session.
func NewSession(endpoint Endpoint, opts Options) *Session {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		endpoint: endpoint,
		dialer:   dialer,
		opts:     opts,
		logger:   logger,
	}
}

// Connect opens the channel in the background. It is a no-op while
// Connecting or Connected.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.state == Connecting || s.state == Connected {
		s.mu.Unlock()
		return
	}
	s.attempt++
	attempt := s.attempt
	// A closing handle from an earlier attempt is abandoned to its reader
	s.conn = nil
	s.state = Connecting
	s.mu.Unlock()

	s.publishState(Connecting)

	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dial(ctx, attempt)
	}()
}

// Disconnect requests a graceful close when Connected and abandons a
// pending dial when Connecting. Active reports false as soon as it returns.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	if s.state == Connecting {
		// The dial goroutine sees a newer attempt and closes its handle
		s.attempt++
		s.state = Disconnected
		s.transcript = PlaceholderStopped
		s.mu.Unlock()

		s.publishState(Disconnected)
		s.publishTranscript(PlaceholderStopped)
		s.logAudit(ctx, "speechDisconnect", nil, 0)
		return
	}
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = Closing
	conn := s.conn
	s.mu.Unlock()

	s.publishState(Closing)
	s.logAudit(ctx, "speechDisconnect", nil, 0)

	s.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace))
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Printf("speech: close frame failed: %v", err)
		_ = conn.Close()
		return
	}

	// Force the handle shut if the peer never answers
	time.AfterFunc(closeGrace, func() { _ = conn.Close() })
}

// Send writes a text frame on the open channel.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return remote.Classify("WS "+remote.PathSpeech, err)
	}
	return nil
}

// Close drops the channel immediately without a close handshake.
func (s *Session) Close() {
	s.mu.Lock()
	s.attempt++
	conn := s.conn
	s.conn = nil
	changed := s.state != Disconnected
	s.state = Disconnected
	if changed {
		s.transcript = PlaceholderStopped
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if changed {
		s.publishState(Disconnected)
		s.publishTranscript(PlaceholderStopped)
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the latest transcription or placeholder.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Active reports whether the channel is being opened or is open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connecting || s.state == Connected
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State      State  `json:"state"`
	Transcript string `json:"transcript"`
	Active     bool   `json:"active"`
	Endpoint   string `json:"endpoint"`
}

// Snapshot returns the session state as one value.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:      s.state,
		Transcript: s.transcript,
		Active:     s.state == Connecting || s.state == Connected,
		Endpoint:   s.endpoint.SpeechURL(),
	}
}

// Wait blocks until the dial and reader goroutines have exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) dial(ctx context.Context, attempt uint64) {
	start := time.Now()
	url := s.endpoint.SpeechURL()

	header, err := s.endpoint.AuthHeader()
	var conn *websocket.Conn
	if err == nil {
		var resp *http.Response
		conn, resp, err = s.dialer.DialContext(ctx, url, header)
		if err != nil && resp != nil {
			err = fmt.Errorf("%w (HTTP %s)", err, resp.Status)
		}
	}
	if err != nil {
		err = remote.Classify("WS "+remote.PathSpeech, err)
	}
	s.logAudit(ctx, "speechConnect", err, time.Since(start))

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		s.state = Faulted
		s.transcript = PlaceholderError
		s.mu.Unlock()

		s.logger.Printf("speech: dial %s failed: %v", url, err)
		s.publishState(Faulted)
		s.publishTranscript(PlaceholderError)
		return
	}

	s.state = Connected
	s.conn = conn
	s.transcript = PlaceholderListening
	s.mu.Unlock()

	s.logger.Printf("speech: connected to %s", url)
	s.publishState(Connected)
	s.publishTranscript(PlaceholderListening)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.read(conn, attempt)
	}()
}

// read delivers inbound frames until the channel ends.
func (s *Session) read(conn *websocket.Conn, attempt uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(conn, attempt, err)
			return
		}

		text := string(data)
		s.mu.Lock()
		if s.attempt != attempt {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.transcript = text
		s.mu.Unlock()

		s.publishTranscript(text)
	}
}

// finish handles the end of a channel. Close frames, abnormal closure and
// anything during a requested close end in Disconnected; other read errors
// fault the session.
func (s *Session) finish(conn *websocket.Conn, attempt uint64, err error) {
	_ = conn.Close()

	s.mu.Lock()
	if s.attempt != attempt {
		s.mu.Unlock()
		return
	}

	var cerr *websocket.CloseError
	next, placeholder := Faulted, PlaceholderError
	if errors.As(err, &cerr) || s.state == Closing {
		next, placeholder = Disconnected, PlaceholderStopped
	}
	s.state = next
	s.transcript = placeholder
	s.conn = nil
	s.mu.Unlock()

	if next == Faulted {
		s.logger.Printf("speech: channel error: %v", err)
	} else {
		s.logger.Printf("speech: channel closed: %v", err)
	}
	s.publishState(next)
	s.publishTranscript(placeholder)
}

func (s *Session) logAudit(ctx context.Context, action string, err error, latency time.Duration) {
	if s.opts.Audit == nil {
		return
	}
	outcome := "Sent"
	if err != nil {
		outcome = "TransportFailure"
	}
	s.opts.Audit.LogAction(ctx, audit.Entry{
		Action:  action,
		Target:  remote.PathSpeech,
		Outcome: outcome,
		Err:     err,
		Latency: latency,
	})
}

func (s *Session) publishState(state State) {
	if s.opts.Events == nil {
		return
	}
	_ = s.opts.Events.PublishTopic(telemetry.TopicSpeech, telemetry.Event{
		Type: "speech",
		Data: map[string]interface{}{
			"state":  state.String(),
			"active": state == Connecting || state == Connected,
			"ts":     time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Session) publishTranscript(text string) {
	if s.opts.Events == nil {
		return
	}
	_ = s.opts.Events.PublishTopic(telemetry.TopicSpeech, telemetry.Event{
		Type: "transcript",
		Data: map[string]interface{}{
			"text": text,
			"ts":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}
