package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/maishede/little-eighteen/internal/config"
)

// FileName is the active audit log inside the configured directory.
const FileName = "audit.jsonl"

// Entry is what a component reports about one operation.
type Entry struct {
	Action  string
	Target  string
	Params  map[string]interface{}
	Outcome string
	Err     error
	Latency time.Duration
}

// Record is one line of the audit log.
type Record struct {
	Timestamp     time.Time              `json:"ts"`
	User          string                 `json:"user"`
	Target        string                 `json:"target"`
	Action        string                 `json:"action"`
	Params        map[string]interface{} `json:"params"`
	Outcome       string                 `json:"outcome"`
	Code          string                 `json:"code"`
	LatencyMs     int64                  `json:"latencyMs"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

// Logger writes audit records to a rotated JSONL file.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
	now      func() time.Time
}

// NewLogger creates an audit logger under cfg.Dir.
func NewLogger(cfg config.AuditConfig) (*Logger, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(cfg.Dir, FileName)

	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		now: time.Now,
	}, nil
}

// LogAction writes one record for entry.
func (l *Logger) LogAction(ctx context.Context, entry Entry) {
	params := entry.Params
	if params == nil {
		params = map[string]interface{}{}
	}

	l.writeRecord(Record{
		Timestamp:     l.now().UTC(),
		User:          UserFromContext(ctx),
		Target:        entry.Target,
		Action:        entry.Action,
		Params:        params,
		Outcome:       entry.Outcome,
		Code:          CodeOf(entry.Err),
		LatencyMs:     entry.Latency.Milliseconds(),
		CorrelationID: CorrelationIDFromContext(ctx),
	})
}

func (l *Logger) writeRecord(record Record) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("audit: failed to marshal record: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.out.Write(append(data, '\n')); err != nil {
		log.Printf("audit: failed to write record: %v", err)
	}
}

// Rotate closes the current file and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Rotate()
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}

// FilePath returns the path to the active audit log file.
func (l *Logger) FilePath() string {
	return l.filePath
}

// codes are matched in order against the error text.
var codes = []string{
	"INVALID_ARGUMENT",
	"THROTTLED",
	"BUSY",
	"TRANSPORT_FAILURE",
	"REMOTE_REJECTED",
}

// CodeOf maps an error to a normalised audit code.
func CodeOf(err error) string {
	if err == nil {
		return "SUCCESS"
	}

	msg := err.Error()
	for _, code := range codes {
		if strings.Contains(msg, code) {
			return code
		}
	}
	return "ERROR"
}

type contextKey string

const (
	userKey          contextKey = "audit.user"
	correlationIDKey contextKey = "audit.correlationId"
)

// WithUser attaches the acting operator to ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// WithCorrelationID attaches the originating request's correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// UnknownUser is recorded when no operator is attached.
const UnknownUser = "unknown"

// UserFromContext returns the operator attached to ctx, or UnknownUser.
func UserFromContext(ctx context.Context) string {
	if user, ok := ctx.Value(userKey).(string); ok && user != "" {
		return user
	}
	return UnknownUser
}

// CorrelationIDFromContext returns the correlation ID attached to ctx.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
