package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/telemetry"
	"github.com/maishede/little-eighteen/internal/throttle"
)

type call struct {
	Op    string
	Value interface{}
}

// fakeTransport records calls and answers with err, optionally waiting on gate.
type fakeTransport struct {
	mu    sync.Mutex
	calls []call
	err   error
	resp  *remote.Response
	gate  chan struct{}
}

func (f *fakeTransport) record(op string, v interface{}) (*remote.Response, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op, v})
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &remote.Response{StatusCode: 200, Status: "success"}, nil
}

func (f *fakeTransport) Move(ctx context.Context, direction string) (*remote.Response, error) {
	return f.record("move", direction)
}

func (f *fakeTransport) SetSpeed(ctx context.Context, speed int) (*remote.Response, error) {
	return f.record("speed", speed)
}

func (f *fakeTransport) SendText(ctx context.Context, text string) (*remote.Response, error) {
	return f.record("text", text)
}

func (f *fakeTransport) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// MockAuditLogger captures audit entries
type MockAuditLogger struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *MockAuditLogger) LogAction(ctx context.Context, entry audit.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *MockAuditLogger) Entries() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}

type mockPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *mockPublisher) PublishTopic(topic string, event telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Topic = topic
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	d         *Dispatcher
	transport *fakeTransport
	audit     *MockAuditLogger
	events    *mockPublisher
	clock     *fakeClock
}

func newFixture(t *testing.T, transport *fakeTransport, queueSize int) *fixture {
	t.Helper()
	gate, err := throttle.NewDefaultGate(50*time.Millisecond, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDefaultGate() failed: %v", err)
	}
	f := &fixture{
		transport: transport,
		audit:     &MockAuditLogger{},
		events:    &mockPublisher{},
		clock:     &fakeClock{now: time.Unix(1700000000, 0)},
	}
	f.d = NewDispatcher(gate, transport, Options{
		SpeedMin:     0,
		SpeedMax:     100,
		SpeedDefault: 50,
		QueueSize:    queueSize,
		Logger:       log.New(io.Discard, "", 0),
		Audit:        f.audit,
		Events:       f.events,
		Now:          f.clock.Now,
	})
	t.Cleanup(f.d.Close)
	return f
}

func TestForwardClickScenario(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, 8)
	ctx := context.Background()
	fwd := Motion{Direction: Forward}

	if outcome, _ := f.d.Dispatch(ctx, fwd); outcome != Sent {
		t.Fatalf("first click = %v, want Sent", outcome)
	}
	f.clock.Advance(10 * time.Millisecond)
	outcome, results := f.d.Dispatch(ctx, fwd)
	if outcome != Throttled {
		t.Fatalf("click at +10ms = %v, want Throttled", outcome)
	}
	if r := <-results; r.Outcome != Throttled || !errors.Is(r.Err, ErrThrottled) {
		t.Errorf("throttled result = %+v", r)
	}
	f.clock.Advance(50 * time.Millisecond)
	if outcome, _ := f.d.Dispatch(ctx, fwd); outcome != Sent {
		t.Fatalf("click at +60ms = %v, want Sent", outcome)
	}
	f.d.Wait()

	calls := f.transport.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d /control requests, want 2", len(calls))
	}
	for _, c := range calls {
		if c.Op != "move" || c.Value != "move_forward" {
			t.Errorf("call = %+v, want move move_forward", c)
		}
	}
}

func TestSpeedOutOfRangeSendsNothing(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, 8)

	for _, v := range []int{-1, 101, 1000} {
		outcome, results := f.d.Dispatch(context.Background(), SpeedSet{Value: v})
		if outcome != InvalidArgument {
			t.Errorf("speed %d = %v, want InvalidArgument", v, outcome)
		}
		r := <-results
		if !errors.Is(r.Err, ErrInvalidArgument) {
			t.Errorf("speed %d err = %v", v, r.Err)
		}
	}
	f.d.Wait()

	if n := len(f.transport.Calls()); n != 0 {
		t.Errorf("got %d requests, want 0", n)
	}

	// Rejected values did not consume the speed window
	if outcome, _ := f.d.Dispatch(context.Background(), SpeedSet{Value: 100}); outcome != Sent {
		t.Errorf("in-range speed after rejections = %v, want Sent", outcome)
	}
}

func TestSpeedBoundsInclusive(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, 8)

	if outcome, _ := f.d.Dispatch(context.Background(), SpeedSet{Value: 0}); outcome != Sent {
		t.Errorf("speed 0 = %v, want Sent", outcome)
	}
	f.clock.Advance(100 * time.Millisecond)
	if outcome, _ := f.d.Dispatch(context.Background(), SpeedSet{Value: 100}); outcome != Sent {
		t.Errorf("speed 100 = %v, want Sent", outcome)
	}
	f.d.Wait()

	if got := f.d.Speed(); got != 100 {
		t.Errorf("Speed() = %d, want 100", got)
	}
}

func TestSpeedSliderBurst(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, 16)

	for i := 0; i < 20; i++ {
		f.d.Dispatch(context.Background(), SpeedSet{Value: i})
		f.clock.Advance(10 * time.Millisecond)
	}
	f.d.Wait()

	calls := f.transport.Calls()
	if len(calls) != 2 {
		t.Fatalf("got %d speed requests in 200ms, want 2", len(calls))
	}
	if calls[0].Value != 0 || calls[1].Value != 10 {
		t.Errorf("sent values = %v, %v; want 0, 10", calls[0].Value, calls[1].Value)
	}
}

func TestFreeText(t *testing.T) {
	t.Run("empty_after_trim", func(t *testing.T) {
		f := newFixture(t, &fakeTransport{}, 8)
		outcome, _ := f.d.Dispatch(context.Background(), FreeText{Text: "   \t"})
		if outcome != InvalidArgument {
			t.Errorf("outcome = %v, want InvalidArgument", outcome)
		}
		if len(f.transport.Calls()) != 0 {
			t.Error("empty text reached the rover")
		}
	})

	t.Run("not_throttled", func(t *testing.T) {
		f := newFixture(t, &fakeTransport{}, 8)
		for i := 0; i < 3; i++ {
			if outcome, _ := f.d.Dispatch(context.Background(), FreeText{Text: fmt.Sprintf(" cmd %d ", i)}); outcome != Sent {
				t.Fatalf("text %d = %v, want Sent", i, outcome)
			}
		}
		f.d.Wait()
		calls := f.transport.Calls()
		if len(calls) != 3 || calls[0].Value != "cmd 0" {
			t.Errorf("calls = %+v", calls)
		}
	})

	t.Run("remote_detail_surfaced", func(t *testing.T) {
		f := newFixture(t, &fakeTransport{err: remote.Rejected("POST /cmd", 422, "could not parse command")}, 8)
		outcome, results := f.d.Dispatch(context.Background(), FreeText{Text: "dance"})
		if outcome != Sent {
			t.Fatalf("outcome = %v, want Sent", outcome)
		}
		r := <-results
		if r.Outcome != RemoteRejected {
			t.Errorf("result outcome = %v, want RemoteRejected", r.Outcome)
		}
		if r.Detail != "could not parse command" {
			t.Errorf("Detail = %q", r.Detail)
		}
		if _, ok := <-results; ok {
			t.Error("result channel not closed after one result")
		}
	})
}

func TestFreeTextUnparsedStatusRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"no_command_parsed","message":"未能解析出有效命令"}`))
	}))
	defer srv.Close()

	client, err := remote.NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	gate, err := throttle.NewDefaultGate(50*time.Millisecond, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDefaultGate() failed: %v", err)
	}
	auditLog := &MockAuditLogger{}
	d := NewDispatcher(gate, client, Options{
		SpeedMax:     100,
		SpeedDefault: 50,
		QueueSize:    8,
		Logger:       log.New(io.Discard, "", 0),
		Audit:        auditLog,
	})
	defer d.Close()

	_, results := d.Dispatch(context.Background(), FreeText{Text: "唱首歌"})
	r := <-results
	if r.Outcome != RemoteRejected {
		t.Errorf("outcome = %v, want RemoteRejected", r.Outcome)
	}
	if !errors.Is(r.Err, remote.ErrRemoteRejected) {
		t.Errorf("err = %v, want ErrRemoteRejected", r.Err)
	}
	if r.Detail != "未能解析出有效命令" {
		t.Errorf("Detail = %q", r.Detail)
	}
	entries := auditLog.Entries()
	if len(entries) != 1 || entries[0].Outcome != "RemoteRejected" {
		t.Errorf("audit = %+v", entries)
	}
}

func TestCheckParsed(t *testing.T) {
	tests := []struct {
		name    string
		resp    *remote.Response
		wantErr bool
	}{
		{"nil_response", nil, false},
		{"no_status", &remote.Response{StatusCode: 200}, false},
		{"ok", &remote.Response{StatusCode: 200, Status: "ok"}, false},
		{"success", &remote.Response{StatusCode: 200, Status: "success"}, false},
		{"no_command_parsed", &remote.Response{StatusCode: 200, Status: "no_command_parsed"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkParsed(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkParsed() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && remote.DetailOf(err) != "no_command_parsed" {
				t.Errorf("detail = %q, want status as fallback", remote.DetailOf(err))
			}
		})
	}
}

func TestTransportFailureReported(t *testing.T) {
	f := newFixture(t, &fakeTransport{err: errors.New("connection refused")}, 8)

	_, results := f.d.Dispatch(context.Background(), Motion{Direction: Stop})
	r := <-results
	if r.Outcome != TransportFailure {
		t.Errorf("outcome = %v, want TransportFailure", r.Outcome)
	}
	if !errors.Is(r.Err, remote.ErrTransportFailure) {
		t.Errorf("err = %v, want ErrTransportFailure", r.Err)
	}

	types := f.events.Types()
	if len(types) != 1 || types[0] != "commandFailed" {
		t.Errorf("events = %v, want [commandFailed]", types)
	}
	entries := f.audit.Entries()
	if len(entries) != 1 || entries[0].Outcome != "TransportFailure" || entries[0].Target != "/control" {
		t.Errorf("audit = %+v", entries)
	}
}

func TestUnknownDirectionRejected(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, 8)

	if outcome, _ := f.d.Dispatch(context.Background(), Motion{Direction: "moonwalk"}); outcome != InvalidArgument {
		t.Errorf("outcome = %v, want InvalidArgument", outcome)
	}
	if outcome, _ := f.d.Dispatch(context.Background(), nil); outcome != InvalidArgument {
		t.Errorf("nil command = %v, want InvalidArgument", outcome)
	}
}

func TestFIFOOrderWithinChannel(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{})}
	f := newFixture(t, transport, 8)

	want := []Direction{Forward, Left, Back, Stop}
	for _, dir := range want {
		if outcome, _ := f.d.Dispatch(context.Background(), Motion{Direction: dir}); outcome != Sent {
			t.Fatalf("%s = %v, want Sent", dir, outcome)
		}
		f.clock.Advance(50 * time.Millisecond)
	}
	close(transport.gate)
	f.d.Wait()

	calls := transport.Calls()
	if len(calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(calls), len(want))
	}
	for i, dir := range want {
		if calls[i].Value != string(dir) {
			t.Errorf("call %d = %v, want %s", i, calls[i].Value, dir)
		}
	}
}

func TestQueueFullIsTransportFailure(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{})}
	f := newFixture(t, transport, 1)
	ctx := context.Background()

	// First is picked up by the sender and blocks; second fills the queue
	f.d.Dispatch(ctx, FreeText{Text: "one"})
	waitUntil(t, func() bool { return len(f.d.lanes[laneText]) == 0 })
	f.d.Dispatch(ctx, FreeText{Text: "two"})

	outcome, results := f.d.Dispatch(ctx, FreeText{Text: "three"})
	if outcome != TransportFailure {
		t.Errorf("outcome = %v, want TransportFailure", outcome)
	}
	if r := <-results; !errors.Is(r.Err, remote.ErrTransportFailure) {
		t.Errorf("err = %v", r.Err)
	}

	close(transport.gate)
	f.d.Wait()
}

func TestCallerCancellationDoesNotAbortRequest(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{})}
	f := newFixture(t, transport, 8)

	ctx, cancel := context.WithCancel(context.Background())
	_, results := f.d.Dispatch(ctx, Motion{Direction: TurnLeft})
	cancel()
	close(transport.gate)

	if r := <-results; r.Outcome != Sent {
		t.Errorf("outcome = %v, want Sent", r.Outcome)
	}
}

func TestDispatchAfterClose(t *testing.T) {
	f := newFixture(t, &fakeTransport{}, 8)
	f.d.Close()
	f.d.Close()

	if outcome, _ := f.d.Dispatch(context.Background(), Motion{Direction: Stop}); outcome != TransportFailure {
		t.Errorf("outcome = %v, want TransportFailure", outcome)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
