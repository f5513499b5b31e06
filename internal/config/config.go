package config

import (
	"time"
)

// Config is the complete console configuration.
type Config struct {
	Remote    RemoteConfig    `yaml:"remote" envPrefix:"REMOTE_"`
	Throttle  ThrottleConfig  `yaml:"throttle" envPrefix:"THROTTLE_"`
	Speed     SpeedConfig     `yaml:"speed" envPrefix:"SPEED_"`
	Dispatch  DispatchConfig  `yaml:"dispatch" envPrefix:"DISPATCH_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Audit     AuditConfig     `yaml:"audit" envPrefix:"AUDIT_"`
	Auth      AuthConfig      `yaml:"auth" envPrefix:"AUTH_"`
	Console   ConsoleConfig   `yaml:"console" envPrefix:"CONSOLE_"`
	Mock      MockConfig      `yaml:"mock" envPrefix:"MOCK_"`
}

// RemoteConfig locates the rover controller.
type RemoteConfig struct {
	// BaseURL is the controller's page origin. The speech channel scheme
	// (ws/wss) is derived from it.
	BaseURL string `yaml:"baseURL" env:"BASE_URL"`

	// RequestTimeout bounds each outbound call. Zero means no timeout.
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"REQUEST_TIMEOUT"`
}

// ThrottleConfig holds the minimum interval per rate channel.
type ThrottleConfig struct {
	Motion time.Duration `yaml:"motion" env:"MOTION"`
	Speed  time.Duration `yaml:"speed" env:"SPEED"`
}

// SpeedConfig holds the client-enforced speed range.
type SpeedConfig struct {
	Min     int `yaml:"min" env:"MIN"`
	Max     int `yaml:"max" env:"MAX"`
	Default int `yaml:"default" env:"DEFAULT"`
}

// DispatchConfig tunes the per-channel sender queues.
type DispatchConfig struct {
	QueueSize int `yaml:"queueSize" env:"QUEUE_SIZE"`
}

// TelemetryConfig holds event hub settings.
type TelemetryConfig struct {
	EventBufferSize   int           `yaml:"eventBufferSize" env:"EVENT_BUFFER_SIZE"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"HEARTBEAT_INTERVAL"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter" env:"HEARTBEAT_JITTER"`
}

// AuditConfig holds audit log location and rotation limits.
type AuditConfig struct {
	Dir        string `yaml:"dir" env:"DIR"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"MAX_AGE_DAYS"`
	Disabled   bool   `yaml:"disabled" env:"DISABLED"`
}

// AuthConfig enables bearer tokens on outbound requests when Secret is set.
type AuthConfig struct {
	Secret   string        `yaml:"secret" env:"SECRET"`
	Subject  string        `yaml:"subject" env:"SUBJECT"`
	TokenTTL time.Duration `yaml:"tokenTTL" env:"TOKEN_TTL"`
}

// ConsoleConfig holds the local operator API server settings.
type ConsoleConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	REPL         bool          `yaml:"repl" env:"REPL"`
}

// MockConfig holds settings for the development rover double.
type MockConfig struct {
	Addr             string        `yaml:"addr" env:"ADDR"`
	CameraStartDelay time.Duration `yaml:"cameraStartDelay" env:"CAMERA_START_DELAY"`
	FeedFPS          int           `yaml:"feedFPS" env:"FEED_FPS"`

	// DemoStepUnit is the wall time of one unit in a demo step's duration.
	DemoStepUnit time.Duration `yaml:"demoStepUnit" env:"DEMO_STEP_UNIT"`

	// Fault injection
	FailCameraStart bool `yaml:"failCameraStart" env:"FAIL_CAMERA_START"`
	RejectAll       bool `yaml:"rejectAll" env:"REJECT_ALL"`
	Offline         bool `yaml:"offline" env:"OFFLINE"`
}

// Baseline returns the default configuration.
func Baseline() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: 0, // hang until resolved, as the rover UI always has
		},
		Throttle: ThrottleConfig{
			Motion: 50 * time.Millisecond,
			Speed:  100 * time.Millisecond,
		},
		Speed: SpeedConfig{
			Min:     0,
			Max:     100,
			Default: 50,
		},
		Dispatch: DispatchConfig{
			QueueSize: 64,
		},
		Telemetry: TelemetryConfig{
			EventBufferSize:   50,
			HeartbeatInterval: 15 * time.Second,
			HeartbeatJitter:   2 * time.Second,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Auth: AuthConfig{
			Subject:  "operator",
			TokenTTL: 5 * time.Minute,
		},
		Console: ConsoleConfig{
			Addr:         "127.0.0.1:3000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // SSE streams stay open
			IdleTimeout:  120 * time.Second,
		},
		Mock: MockConfig{
			Addr:             ":8000",
			CameraStartDelay: 300 * time.Millisecond,
			FeedFPS:          10,
			DemoStepUnit:     time.Second,
		},
	}
}
