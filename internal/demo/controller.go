package demo

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/telemetry"
)

// Catalog lists the sequences the rover knows. Names outside it are still
// sent; the rover decides.
var Catalog = []string{
	"digit_0", "digit_1", "digit_2", "digit_3", "digit_4",
	"digit_5", "digit_6", "digit_7", "digit_8", "digit_9",
	"crab_walk", "box_step", "s_curve", "z_curve", "spin_fast",
}

// Transport is the subset of the rover client the controller needs.
type Transport interface {
	StartDemo(ctx context.Context, name string) (*remote.Response, error)
	StopDemo(ctx context.Context) (*remote.Response, error)
}

// AuditLogger interface for writing audit records.
type AuditLogger interface {
	LogAction(ctx context.Context, entry audit.Entry)
}

// Publisher receives demo events.
type Publisher interface {
	PublishTopic(topic string, event telemetry.Event) error
}

// State is Idle when Name is empty, otherwise Running(Name).
type State struct {
	Running bool   `json:"running"`
	Name    string `json:"name,omitempty"`
}

func (s State) String() string {
	if !s.Running {
		return "Idle"
	}
	return fmt.Sprintf("Running(%s)", s.Name)
}

// Result carries the rover's message for display.
type Result struct {
	Outcome command.Outcome
	Message string
	Err     error
}

// Options configures a Controller.
type Options struct {
	Logger *log.Logger
	Audit  AuditLogger
	Events Publisher
}

// Controller issues demo requests.
type Controller struct {
	transport Transport
	opts      Options
	logger    *log.Logger

	mu    sync.Mutex
	state State
	epoch uint64

	inflight sync.WaitGroup
}

// NewController creates an idle controller.
func NewController(transport Transport, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		transport: transport,
		opts:      opts,
		logger:    logger,
	}
}

// Start asks the rover to run name. An empty name fails with
// command.ErrInvalidArgument; otherwise the result arrives on the channel.
func (c *Controller) Start(ctx context.Context, name string) (<-chan Result, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("no demo selected: %w", command.ErrInvalidArgument)
	}

	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	return c.run(ctx, "demoStart", remote.PathDemoStart, map[string]interface{}{"demo_name": name},
		func(ctx context.Context) (*remote.Response, error) { return c.transport.StartDemo(ctx, name) },
		func(err error) {
			if err != nil {
				return
			}
			c.mu.Lock()
			if c.epoch != epoch {
				c.mu.Unlock()
				return
			}
			c.state = State{Running: true, Name: name}
			c.mu.Unlock()
			c.publishState(State{Running: true, Name: name})
		}), nil
}

// Stop asks the rover to stop, whatever the controller believes is running.
func (c *Controller) Stop(ctx context.Context) <-chan Result {
	c.mu.Lock()
	c.epoch++
	changed := c.state.Running
	c.state = State{}
	c.mu.Unlock()

	if changed {
		c.publishState(State{})
	}

	return c.run(ctx, "demoStop", remote.PathDemoStop, nil,
		func(ctx context.Context) (*remote.Response, error) { return c.transport.StopDemo(ctx) },
		func(error) {})
}

// State returns what the controller last asked for.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Catalog returns the known sequence names.
func (c *Controller) Catalog() []string {
	return append([]string(nil), Catalog...)
}

// Wait blocks until in-flight requests have completed.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) run(ctx context.Context, action, target string, params map[string]interface{},
	call func(context.Context) (*remote.Response, error), apply func(error)) <-chan Result {
	results := make(chan Result, 1)
	ctx = context.WithoutCancel(ctx)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer close(results)

		start := time.Now()
		resp, err := call(ctx)
		latency := time.Since(start)

		result := Result{Outcome: command.Sent}
		if err != nil {
			err = remote.Classify("POST "+target, err)
			result.Outcome = command.OutcomeOf(err)
			result.Err = err
			result.Message = remote.DetailOf(err)
			c.logger.Printf("demo: %s failed: %v", action, err)
			c.publishFault(err, result.Message)
		} else if resp != nil {
			result.Message = resp.Message
		}

		apply(err)

		if c.opts.Audit != nil {
			c.opts.Audit.LogAction(ctx, audit.Entry{
				Action:  action,
				Target:  target,
				Params:  params,
				Outcome: result.Outcome.String(),
				Err:     err,
				Latency: latency,
			})
		}

		results <- result
	}()

	return results
}

func (c *Controller) publishState(state State) {
	if c.opts.Events == nil {
		return
	}
	_ = c.opts.Events.PublishTopic(telemetry.TopicDemo, telemetry.Event{
		Type: "demo",
		Data: map[string]interface{}{
			"state": state.String(),
			"name":  state.Name,
			"ts":    time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func (c *Controller) publishFault(err error, message string) {
	if c.opts.Events == nil {
		return
	}
	_ = c.opts.Events.PublishTopic(telemetry.TopicDemo, telemetry.Event{
		Type: "fault",
		Data: map[string]interface{}{
			"code":    audit.CodeOf(err),
			"message": message,
			"ts":      time.Now().UTC().Format(time.RFC3339),
		},
	})
}
