package rover

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/auth"
	"github.com/maishede/little-eighteen/internal/camera"
	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/config"
	"github.com/maishede/little-eighteen/internal/demo"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/speech"
	"github.com/maishede/little-eighteen/internal/telemetry"
	"github.com/maishede/little-eighteen/internal/throttle"
)

// auditPort is satisfied by *audit.Logger and test doubles.
type auditPort interface {
	LogAction(ctx context.Context, entry audit.Entry)
}

// Rover is one operator's control session.
type Rover struct {
	cfg *config.Config

	Client     *remote.Client
	Gate       *throttle.Gate
	Dispatcher *command.Dispatcher
	Camera     *camera.Session
	Speech     *speech.Session
	Demo       *demo.Controller
	Hub        *telemetry.Hub

	audit     auditPort
	auditFile *audit.Logger
	user      string
}

// Option customises New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *log.Logger
	audit      auditPort
}

// WithHTTPClient replaces the HTTP client used for rover requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithDialer replaces the WebSocket dialer used for the speech channel.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAuditLogger replaces the file-backed audit log.
func WithAuditLogger(a interface {
	LogAction(ctx context.Context, entry audit.Entry)
}) Option {
	return func(o *options) { o.audit = a }
}

// New builds a Rover from configuration.
func New(cfg *config.Config, opts ...Option) (*Rover, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Rover{cfg: cfg, user: cfg.Auth.Subject}
	if r.user == "" {
		r.user = auth.RoleOperator
	}

	clientOpts := []remote.Option{
		remote.WithHTTPClient(o.httpClient),
		remote.WithRequestTimeout(cfg.Remote.RequestTimeout),
	}
	if cfg.Auth.Secret != "" {
		minter, err := auth.NewMinter(cfg.Auth.Secret, cfg.Auth.Subject, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create token minter: %w", err)
		}
		clientOpts = append(clientOpts, remote.WithTokenSource(minter))
	}

	client, err := remote.NewClient(cfg.Remote.BaseURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rover client: %w", err)
	}
	r.Client = client

	gate, err := throttle.NewDefaultGate(cfg.Throttle.Motion, cfg.Throttle.Speed)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate gate: %w", err)
	}
	r.Gate = gate

	switch {
	case o.audit != nil:
		r.audit = o.audit
	case !cfg.Audit.Disabled:
		logger, err := audit.NewLogger(cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		r.audit = logger
		r.auditFile = logger
	}

	r.Hub = telemetry.NewHub(cfg.Telemetry)

	r.Dispatcher = command.NewDispatcher(gate, client, command.Options{
		SpeedMin:     cfg.Speed.Min,
		SpeedMax:     cfg.Speed.Max,
		SpeedDefault: cfg.Speed.Default,
		QueueSize:    cfg.Dispatch.QueueSize,
		Logger:       o.logger,
		Audit:        r.audit,
		Events:       r.Hub,
	})
	r.Camera = camera.NewSession(client, camera.Options{
		Logger: o.logger,
		Audit:  r.audit,
		Events: r.Hub,
	})
	r.Speech = speech.NewSession(client, speech.Options{
		Dialer: o.dialer,
		Logger: o.logger,
		Audit:  r.audit,
		Events: r.Hub,
	})
	r.Demo = demo.NewController(client, demo.Options{
		Logger: o.logger,
		Audit:  r.audit,
		Events: r.Hub,
	})

	r.Hub.SetSnapshot(func() interface{} { return r.Snapshot() })

	return r, nil
}

// Context attaches the configured operator identity used in audit records,
// unless ctx already names one.
func (r *Rover) Context(ctx context.Context) context.Context {
	if audit.UserFromContext(ctx) != audit.UnknownUser {
		return ctx
	}
	return audit.WithUser(ctx, r.user)
}

// Move parses and dispatches a motion command.
func (r *Rover) Move(ctx context.Context, direction string) (command.Outcome, <-chan command.Result) {
	d, err := command.ParseDirection(direction)
	if err != nil {
		// Unknown words still go through Dispatch so they are logged and audited
		d = command.Direction(direction)
	}
	return r.Dispatcher.Dispatch(r.Context(ctx), command.Motion{Direction: d})
}

// SetSpeed dispatches a speed change.
func (r *Rover) SetSpeed(ctx context.Context, speed int) (command.Outcome, <-chan command.Result) {
	return r.Dispatcher.Dispatch(r.Context(ctx), command.SpeedSet{Value: speed})
}

// SendText dispatches a free-text instruction.
func (r *Rover) SendText(ctx context.Context, text string) (command.Outcome, <-chan command.Result) {
	return r.Dispatcher.Dispatch(r.Context(ctx), command.FreeText{Text: text})
}

// Halt stops any demo and sends a stop motion.
func (r *Rover) Halt(ctx context.Context) (command.Outcome, <-chan command.Result) {
	ctx = r.Context(ctx)
	r.Demo.Stop(ctx)
	return r.Dispatcher.Dispatch(ctx, command.Motion{Direction: command.Stop})
}

// StartCamera requests the video feed.
func (r *Rover) StartCamera(ctx context.Context) error {
	return r.Camera.Start(r.Context(ctx))
}

// StopCamera ends the video feed.
func (r *Rover) StopCamera(ctx context.Context) {
	r.Camera.Stop(r.Context(ctx))
}

// ConnectSpeech opens the speech channel.
func (r *Rover) ConnectSpeech(ctx context.Context) {
	r.Speech.Connect(r.Context(ctx))
}

// DisconnectSpeech closes the speech channel gracefully.
func (r *Rover) DisconnectSpeech(ctx context.Context) {
	r.Speech.Disconnect(r.Context(ctx))
}

// SendSpeech writes a text frame on the open speech channel.
func (r *Rover) SendSpeech(text string) error {
	return r.Speech.Send(text)
}

// StartDemo runs a named movement sequence.
func (r *Rover) StartDemo(ctx context.Context, name string) (<-chan demo.Result, error) {
	return r.Demo.Start(r.Context(ctx), name)
}

// StopDemo stops the running sequence.
func (r *Rover) StopDemo(ctx context.Context) <-chan demo.Result {
	return r.Demo.Stop(r.Context(ctx))
}

// Health checks that the rover controller answers.
func (r *Rover) Health(ctx context.Context) error {
	_, err := r.Client.Health(ctx)
	return err
}

// Speed describes the speed control.
type Speed struct {
	Value int `json:"value"`
	Min   int `json:"min"`
	Max   int `json:"max"`
}

// Snapshot is the complete observable state.
type Snapshot struct {
	Remote     string              `json:"remote"`
	Camera     camera.Snapshot     `json:"camera"`
	Speech     speech.Snapshot     `json:"speech"`
	Demo       demo.State          `json:"demo"`
	Speed      Speed               `json:"speed"`
	ThrottleMs map[string]int64    `json:"throttleMs"`
	Directions []command.Direction `json:"directions"`
	Demos      []string            `json:"demos"`
}

// Snapshot returns the current state of every component.
func (r *Rover) Snapshot() Snapshot {
	intervals := r.Gate.Intervals()
	throttleMs := make(map[string]int64, len(intervals))
	for ch, d := range intervals {
		throttleMs[string(ch)] = d.Milliseconds()
	}

	lo, hi := r.Dispatcher.SpeedRange()
	return Snapshot{
		Remote:     r.cfg.Remote.BaseURL,
		Camera:     r.Camera.Snapshot(),
		Speech:     r.Speech.Snapshot(),
		Demo:       r.Demo.State(),
		Speed:      Speed{Value: r.Dispatcher.Speed(), Min: lo, Max: hi},
		ThrottleMs: throttleMs,
		Directions: command.Directions(),
		Demos:      r.Demo.Catalog(),
	}
}

// Wait blocks until every component's in-flight work has completed.
func (r *Rover) Wait() {
	r.Dispatcher.Wait()
	r.Camera.Wait()
	r.Speech.Wait()
	r.Demo.Wait()
}

// Shutdown drops the speech channel, forgets the camera feed, stops
// accepting commands and waits for in-flight requests until ctx ends.
func (r *Rover) Shutdown(ctx context.Context) error {
	r.Speech.Close()
	r.Camera.Reset()
	r.Dispatcher.Close()

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("in-flight requests did not finish: %w", ctx.Err())
	}

	r.Hub.Stop()
	if r.auditFile != nil {
		if cerr := r.auditFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close audit log: %w", cerr)
		}
	}
	return err
}

// shutdownTimeout bounds Shutdown when the caller has no deadline.
const shutdownTimeout = 5 * time.Second

// Close shuts down with a default timeout.
func (r *Rover) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return r.Shutdown(ctx)
}
