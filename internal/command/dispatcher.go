package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/telemetry"
	"github.com/maishede/little-eighteen/internal/throttle"
)

// laneText carries free text. It has a sender but no rate gate.
const laneText throttle.Channel = "text"

// errQueueFull is reported when a sender has more pending work than it can hold.
var errQueueFull = errors.New("send queue full")

// errClosed is reported for commands dispatched after Close.
var errClosed = errors.New("dispatcher closed")

// Options configures a Dispatcher.
type Options struct {
	SpeedMin     int
	SpeedMax     int
	SpeedDefault int
	// QueueSize bounds pending requests per channel.
	QueueSize int

	Logger *log.Logger
	Audit  AuditLogger
	Events Publisher
	// Now is the gate clock; defaults to time.Now.
	Now func() time.Time
}

type job struct {
	ctx    context.Context
	cmd    Command
	result chan Result
}

// Dispatcher applies validation and rate limits, then sends commands through
// one FIFO sender per channel.
type Dispatcher struct {
	gate      *throttle.Gate
	transport Transport
	opts      Options
	logger    *log.Logger

	// mu makes gate acquisition and enqueueing one step, so a channel's queue
	// order matches the order the gate accepted commands.
	mu     sync.Mutex
	lanes  map[throttle.Channel]chan job
	closed bool
	speed  int

	pending sync.WaitGroup
}

// NewDispatcher creates a dispatcher and starts its senders.
func NewDispatcher(gate *throttle.Gate, transport Transport, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	d := &Dispatcher{
		gate:      gate,
		transport: transport,
		opts:      opts,
		logger:    logger,
		lanes:     make(map[throttle.Channel]chan job),
		speed:     opts.SpeedDefault,
	}

	for _, ch := range []throttle.Channel{throttle.ChannelMotion, throttle.ChannelSpeed, laneText} {
		queue := make(chan job, opts.QueueSize)
		d.lanes[ch] = queue
		go d.sender(queue)
	}

	return d
}

// Dispatch validates cmd and, if allowed, queues it for sending. It returns
// at once; the returned channel yields exactly one Result and is then closed.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Outcome, <-chan Result) {
	switch c := cmd.(type) {
	case Motion:
		if !c.Direction.Valid() {
			return d.reject(ctx, cmd, fmt.Errorf("unknown direction %q: %w", c.Direction, ErrInvalidArgument))
		}
		return d.enqueue(ctx, throttle.ChannelMotion, cmd)

	case SpeedSet:
		// Range is checked first so invalid values never consume a gate slot
		if c.Value < d.opts.SpeedMin || c.Value > d.opts.SpeedMax {
			return d.reject(ctx, cmd, fmt.Errorf("speed %d outside [%d, %d]: %w",
				c.Value, d.opts.SpeedMin, d.opts.SpeedMax, ErrInvalidArgument))
		}
		return d.enqueue(ctx, throttle.ChannelSpeed, cmd)

	case FreeText:
		text := strings.TrimSpace(c.Text)
		if text == "" {
			return d.reject(ctx, cmd, fmt.Errorf("text is empty: %w", ErrInvalidArgument))
		}
		return d.enqueue(ctx, laneText, FreeText{Text: text})

	default:
		return d.reject(ctx, cmd, fmt.Errorf("unsupported command %T: %w", cmd, ErrInvalidArgument))
	}
}

// Speed returns the last speed value the rover accepted.
func (d *Dispatcher) Speed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// SpeedRange returns the accepted speed bounds.
func (d *Dispatcher) SpeedRange() (int, int) {
	return d.opts.SpeedMin, d.opts.SpeedMax
}

// Wait blocks until every queued command has completed.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

// Close stops accepting commands. Queued commands are still sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, queue := range d.lanes {
		close(queue)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) enqueue(ctx context.Context, ch throttle.Channel, cmd Command) (Outcome, <-chan Result) {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return d.reject(ctx, cmd, remote.Classify(opFor(cmd), errClosed))
	}

	queue := d.lanes[ch]
	// Only Dispatch sends on queue and it holds mu, so a free slot stays free
	if len(queue) == cap(queue) {
		d.mu.Unlock()
		return d.reject(ctx, cmd, remote.Classify(opFor(cmd), errQueueFull))
	}

	if ch != laneText && !d.gate.TryAcquire(ch, d.opts.Now()) {
		d.mu.Unlock()
		return Throttled, resolved(Result{Command: cmd, Outcome: Throttled, Err: ErrThrottled})
	}

	j := job{
		ctx:    context.WithoutCancel(ctx),
		cmd:    cmd,
		result: make(chan Result, 1),
	}
	d.pending.Add(1)
	queue <- j
	d.mu.Unlock()

	return Sent, j.result
}

// reject resolves a command that never left the process.
func (d *Dispatcher) reject(ctx context.Context, cmd Command, err error) (Outcome, <-chan Result) {
	outcome := OutcomeOf(err)
	d.logger.Printf("command: %v rejected locally: %v", cmd, err)
	d.logAudit(ctx, cmd, outcome, err, 0)
	return outcome, resolved(Result{Command: cmd, Outcome: outcome, Detail: err.Error(), Err: err})
}

func resolved(r Result) <-chan Result {
	ch := make(chan Result, 1)
	ch <- r
	close(ch)
	return ch
}

// sender processes one channel's commands in FIFO order.
func (d *Dispatcher) sender(queue <-chan job) {
	for j := range queue {
		d.send(j)
	}
}

func (d *Dispatcher) send(j job) {
	defer d.pending.Done()

	start := time.Now()
	var (
		resp *remote.Response
		err  error
	)
	switch c := j.cmd.(type) {
	case Motion:
		resp, err = d.transport.Move(j.ctx, string(c.Direction))
	case SpeedSet:
		resp, err = d.transport.SetSpeed(j.ctx, c.Value)
	case FreeText:
		resp, err = d.transport.SendText(j.ctx, c.Text)
		if err == nil {
			err = checkParsed(resp)
		}
	}
	latency := time.Since(start)

	result := Result{Command: j.cmd, Response: resp}
	if err != nil {
		err = remote.Classify(opFor(j.cmd), err)
		result.Outcome = OutcomeOf(err)
		result.Err = err
		result.Detail = remote.DetailOf(err)
		d.logger.Printf("command: %v failed after %v: %v", j.cmd, latency, err)
		d.publishFailed(j.cmd, result)
	} else {
		result.Outcome = Sent
		if resp != nil {
			result.Detail = resp.Message
		}
		if s, ok := j.cmd.(SpeedSet); ok {
			d.mu.Lock()
			d.speed = s.Value
			d.mu.Unlock()
		}
		d.publishSent(j.cmd, latency)
	}

	d.logAudit(j.ctx, j.cmd, result.Outcome, err, latency)

	j.result <- result
	close(j.result)
}

// checkParsed rejects a 2xx free-text reply whose status field reports that
// nothing was parsed, e.g. {"status":"no_command_parsed","message":...}.
func checkParsed(resp *remote.Response) error {
	if resp == nil {
		return nil
	}
	switch resp.Status {
	case "", "ok", "success":
		return nil
	}
	detail := resp.Message
	if detail == "" {
		detail = resp.Status
	}
	return remote.Rejected("POST "+remote.PathCmd, resp.StatusCode, detail)
}

func (d *Dispatcher) logAudit(ctx context.Context, cmd Command, outcome Outcome, err error, latency time.Duration) {
	if d.opts.Audit == nil {
		return
	}
	d.opts.Audit.LogAction(ctx, audit.Entry{
		Action:  kindOf(cmd),
		Target:  targetFor(cmd),
		Params:  paramsOf(cmd),
		Outcome: outcome.String(),
		Err:     err,
		Latency: latency,
	})
}

func (d *Dispatcher) publishSent(cmd Command, latency time.Duration) {
	if d.opts.Events == nil {
		return
	}
	_ = d.opts.Events.PublishTopic(telemetry.TopicCommand, telemetry.Event{
		Type: "commandSent",
		Data: map[string]interface{}{
			"kind":      kindOf(cmd),
			"params":    paramsOf(cmd),
			"latencyMs": latency.Milliseconds(),
			"ts":        time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (d *Dispatcher) publishFailed(cmd Command, result Result) {
	if d.opts.Events == nil {
		return
	}
	_ = d.opts.Events.PublishTopic(telemetry.TopicCommand, telemetry.Event{
		Type: "commandFailed",
		Data: map[string]interface{}{
			"kind":    kindOf(cmd),
			"params":  paramsOf(cmd),
			"outcome": result.Outcome.String(),
			"detail":  result.Detail,
			"ts":      time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func kindOf(cmd Command) string {
	if cmd == nil {
		return "unknown"
	}
	return cmd.Kind()
}

func targetFor(cmd Command) string {
	switch cmd.(type) {
	case Motion:
		return remote.PathControl
	case SpeedSet:
		return remote.PathSpeed
	case FreeText:
		return remote.PathCmd
	default:
		return ""
	}
}

func opFor(cmd Command) string {
	return "POST " + targetFor(cmd)
}

func paramsOf(cmd Command) map[string]interface{} {
	switch c := cmd.(type) {
	case Motion:
		return map[string]interface{}{"direction": string(c.Direction)}
	case SpeedSet:
		return map[string]interface{}{"speed": c.Value}
	case FreeText:
		return map[string]interface{}{"text": c.Text}
	default:
		return nil
	}
}
