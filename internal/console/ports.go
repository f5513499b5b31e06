package console

import (
	"context"
	"net/http"

	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/demo"
	"github.com/maishede/little-eighteen/internal/rover"
	"github.com/maishede/little-eighteen/internal/telemetry"
)

// RoverPort is what the console needs from a rover session.
type RoverPort interface {
	Move(ctx context.Context, direction string) (command.Outcome, <-chan command.Result)
	SetSpeed(ctx context.Context, speed int) (command.Outcome, <-chan command.Result)
	SendText(ctx context.Context, text string) (command.Outcome, <-chan command.Result)
	Halt(ctx context.Context) (command.Outcome, <-chan command.Result)

	StartCamera(ctx context.Context) error
	StopCamera(ctx context.Context)

	ConnectSpeech(ctx context.Context)
	DisconnectSpeech(ctx context.Context)
	SendSpeech(text string) error

	StartDemo(ctx context.Context, name string) (<-chan demo.Result, error)
	StopDemo(ctx context.Context) <-chan demo.Result

	Health(ctx context.Context) error
	Snapshot() rover.Snapshot
}

// TelemetryPort streams events to API clients and the REPL.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	Listen(buffer int) (<-chan telemetry.Event, func())
}

var _ RoverPort = (*rover.Rover)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
