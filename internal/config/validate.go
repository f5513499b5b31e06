package config

import (
	"fmt"
	"net/url"
)

// Validate enforces structural rules on a merged configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateRemote(cfg.Remote); err != nil {
		return fmt.Errorf("remote validation failed: %w", err)
	}

	if err := validateThrottle(cfg.Throttle); err != nil {
		return fmt.Errorf("throttle validation failed: %w", err)
	}

	if err := validateSpeed(cfg.Speed); err != nil {
		return fmt.Errorf("speed validation failed: %w", err)
	}

	if cfg.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch queue size must be positive, got %d", cfg.Dispatch.QueueSize)
	}

	if err := validateTelemetry(cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry validation failed: %w", err)
	}

	if err := validateMock(cfg.Mock); err != nil {
		return fmt.Errorf("mock validation failed: %w", err)
	}

	if cfg.Auth.Secret != "" && cfg.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token TTL must be positive when a secret is set, got %v", cfg.Auth.TokenTTL)
	}

	return nil
}

// validateRemote requires an absolute http(s) base URL.
func validateRemote(remote RemoteConfig) error {
	u, err := url.Parse(remote.BaseURL)
	if err != nil {
		return fmt.Errorf("base URL %q is invalid: %w", remote.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL %q has no host", remote.BaseURL)
	}
	if remote.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be non-negative, got %v", remote.RequestTimeout)
	}
	return nil
}

// validateThrottle requires positive channel intervals.
func validateThrottle(throttle ThrottleConfig) error {
	if throttle.Motion <= 0 {
		return fmt.Errorf("motion interval must be positive, got %v", throttle.Motion)
	}
	if throttle.Speed <= 0 {
		return fmt.Errorf("speed interval must be positive, got %v", throttle.Speed)
	}
	return nil
}

// validateSpeed requires min <= default <= max.
func validateSpeed(speed SpeedConfig) error {
	if speed.Min > speed.Max {
		return fmt.Errorf("speed min %d exceeds max %d", speed.Min, speed.Max)
	}
	if speed.Default < speed.Min || speed.Default > speed.Max {
		return fmt.Errorf("speed default %d is outside [%d, %d]", speed.Default, speed.Min, speed.Max)
	}
	return nil
}

// validateTelemetry mirrors the hub's buffering and heartbeat constraints.
func validateTelemetry(telemetry TelemetryConfig) error {
	if telemetry.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", telemetry.EventBufferSize)
	}
	if telemetry.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", telemetry.HeartbeatInterval)
	}

	// Jitter must be non-negative and ≤ 50% of interval
	if telemetry.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", telemetry.HeartbeatJitter)
	}
	if telemetry.HeartbeatJitter > telemetry.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", telemetry.HeartbeatJitter, telemetry.HeartbeatInterval)
	}
	return nil
}

// validateMock checks the development double's timing.
func validateMock(mock MockConfig) error {
	if mock.FeedFPS <= 0 {
		return fmt.Errorf("feed FPS must be positive, got %d", mock.FeedFPS)
	}
	if mock.DemoStepUnit <= 0 {
		return fmt.Errorf("demo step unit must be positive, got %v", mock.DemoStepUnit)
	}
	if mock.CameraStartDelay < 0 {
		return fmt.Errorf("camera start delay must be non-negative, got %v", mock.CameraStartDelay)
	}
	return nil
}
