package command

import (
	"context"

	"github.com/maishede/little-eighteen/internal/audit"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/telemetry"
)

// Transport sends commands to the rover.
type Transport interface {
	Move(ctx context.Context, direction string) (*remote.Response, error)
	SetSpeed(ctx context.Context, speed int) (*remote.Response, error)
	SendText(ctx context.Context, text string) (*remote.Response, error)
}

// AuditLogger interface for writing audit records.
type AuditLogger interface {
	LogAction(ctx context.Context, entry audit.Entry)
}

// Publisher receives completion events.
type Publisher interface {
	PublishTopic(topic string, event telemetry.Event) error
}

// Compile-time assertions
var (
	_ Transport   = (*remote.Client)(nil)
	_ AuditLogger = (*audit.Logger)(nil)
	_ Publisher   = (*telemetry.Hub)(nil)
)
