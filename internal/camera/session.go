package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/telemetry"
)

// State is the feed lifecycle state.
type State int

const (
	Idle State = iota
	Starting
	Streaming
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Starting:
		return "Starting"
	case Streaming:
		return "Streaming"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrBusy is returned by Start while a stop is still in flight.
var ErrBusy = errors.New("BUSY")

// Transport is the subset of the rover client the session needs.
type Transport interface {
	StartCamera(ctx context.Context) (*remote.Response, error)
	StopCamera(ctx context.Context) (*remote.Response, error)
	FeedURL(token int64) string
}

// AuditLogger interface for writing audit records.
type AuditLogger interface {
	LogAction(ctx context.Context, entry audit.Entry)
}

// Publisher receives state change events.
type Publisher interface {
	PublishTopic(topic string, event telemetry.Event) error
}

// Options configures a Session.
type Options struct {
	Logger *log.Logger
	Audit  AuditLogger
	Events Publisher
	// Now seeds cache-busting tokens; defaults to time.Now.
	Now func() time.Time
}

// Session owns the camera state. All methods are safe for concurrent use.
type Session struct {
	transport Transport
	opts      Options
	logger    *log.Logger

	mu        sync.Mutex
	state     State
	epoch     uint64
	source    string
	lastToken int64
	notice    string

	inflight sync.WaitGroup
}

// NewSession creates an idle session.
func NewSession(transport Transport, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

// Start requests the feed. It is a no-op while Starting or Streaming and
// fails with ErrBusy while Stopping. The request runs in the background.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Starting, Streaming:
		s.mu.Unlock()
		return nil
	case Stopping:
		s.mu.Unlock()
		return fmt.Errorf("camera is stopping: %w", ErrBusy)
	}
	epoch := s.transitionLocked(Starting)
	s.notice = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)

	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		start := time.Now()
		resp, err := s.transport.StartCamera(ctx)
		err = s.checkStart(resp, err)
		s.logAudit(ctx, "cameraStart", remote.PathCameraStart, err, time.Since(start))
		s.finishStart(epoch, err)
	}()

	return nil
}

// Stop requests the feed to end. It is a no-op in Idle and Starting. The
// source stays visible until the rover answers.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.state != Streaming {
		s.mu.Unlock()
		return
	}
	epoch := s.transitionLocked(Stopping)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)

	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		start := time.Now()
		_, err := s.transport.StopCamera(ctx)
		if err != nil {
			err = remote.Classify("POST "+remote.PathCameraStop, err)
		}
		s.logAudit(ctx, "cameraStop", remote.PathCameraStop, err, time.Since(start))
		s.finishStop(epoch, err)
	}()
}

// Reset forces Idle and clears the source without contacting the rover.
// Responses to requests issued before Reset are ignored.
func (s *Session) Reset() {
	s.mu.Lock()
	if s.state == Idle {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(Idle)
	s.source = ""
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Source returns the live feed locator, or "" when no feed should be shown.
func (s *Session) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Busy reports whether a start or stop is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Starting || s.state == Stopping
}

// Notice returns the last user-visible failure message, cleared by Start.
func (s *Session) Notice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State  State  `json:"state"`
	Source string `json:"source,omitempty"`
	Busy   bool   `json:"busy"`
	Notice string `json:"notice,omitempty"`
}

// Snapshot returns the session state as one value.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until in-flight requests have completed.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// checkStart treats anything but {"status":"success"} as a rejection.
func (s *Session) checkStart(resp *remote.Response, err error) error {
	op := "POST " + remote.PathCameraStart
	if err != nil {
		return remote.Classify(op, err)
	}
	if resp == nil || resp.Status != "success" {
		status, detail := 0, "camera did not report success"
		if resp != nil {
			status = resp.StatusCode
			if resp.Message != "" {
				detail = resp.Message
			} else if resp.Status != "" {
				detail = fmt.Sprintf("camera reported status %q", resp.Status)
			}
		}
		return remote.Rejected(op, status, detail)
	}
	return nil
}

func (s *Session) finishStart(epoch uint64, err error) {
	s.mu.Lock()
	if s.state != Starting || s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Printf("camera: ignoring stale start response (err=%v)", err)
		return
	}

	if err != nil {
		s.transitionLocked(Idle)
		s.source = ""
		s.notice = "Camera failed to start: " + remote.DetailOf(err)
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.logger.Printf("camera: start failed: %v", err)
		s.publishFault(err, snap.Notice)
		s.publishState(snap)
		return
	}

	s.transitionLocked(Streaming)
	s.source = s.transport.FeedURL(s.nextTokenLocked())
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publishState(snap)
}

func (s *Session) finishStop(epoch uint64, err error) {
	s.mu.Lock()
	if s.state != Stopping || s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Printf("camera: ignoring stale stop response (err=%v)", err)
		return
	}

	// Any answer, including failure, ends the feed
	s.transitionLocked(Idle)
	s.source = ""
	if err != nil {
		s.notice = "Camera stop was not confirmed: " + remote.DetailOf(err)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Printf("camera: stop failed, assuming off: %v", err)
		s.publishFault(err, snap.Notice)
	}
	s.publishState(snap)
}

// transitionLocked moves to next and returns the new epoch. Caller must hold s.mu.
func (s *Session) transitionLocked(next State) uint64 {
	s.state = next
	s.epoch++
	return s.epoch
}

// nextTokenLocked returns a strictly increasing cache-busting token. Caller must hold s.mu.
func (s *Session) nextTokenLocked() int64 {
	token := s.opts.Now().UnixMilli()
	if token <= s.lastToken {
		token = s.lastToken + 1
	}
	s.lastToken = token
	return token
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:  s.state,
		Source: s.source,
		Busy:   s.state == Starting || s.state == Stopping,
		Notice: s.notice,
	}
}

func (s *Session) logAudit(ctx context.Context, action, target string, err error, latency time.Duration) {
	if s.opts.Audit == nil {
		return
	}
	outcome := "Sent"
	if err != nil {
		outcome = "Failed"
		if errors.Is(err, remote.ErrRemoteRejected) {
			outcome = "RemoteRejected"
		} else if errors.Is(err, remote.ErrTransportFailure) {
			outcome = "TransportFailure"
		}
	}
	s.opts.Audit.LogAction(ctx, audit.Entry{
		Action:  action,
		Target:  target,
		Outcome: outcome,
		Err:     err,
		Latency: latency,
	})
}

func (s *Session) publishState(snap Snapshot) {
	if s.opts.Events == nil {
		return
	}
	_ = s.opts.Events.PublishTopic(telemetry.TopicCamera, telemetry.Event{
		Type: "camera",
		Data: map[string]interface{}{
			"state":  snap.State.String(),
			"source": snap.Source,
			"busy":   snap.Busy,
			"ts":     time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (s *Session) publishFault(err error, message string) {
	if s.opts.Events == nil {
		return
	}
	_ = s.opts.Events.PublishTopic(telemetry.TopicCamera, telemetry.Event{
		Type: "fault",
		Data: map[string]interface{}{
			"code":    audit.CodeOf(err),
			"message": message,
			"ts":      time.Now().UTC().Format(time.RFC3339),
		},
	})
}
