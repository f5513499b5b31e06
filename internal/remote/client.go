package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Rover controller paths.
const (
	PathControl     = "/control"
	PathSpeed       = "/control/speed"
	PathCmd         = "/cmd"
	PathCameraStart = "/camera/start"
	PathCameraStop  = "/camera/stop"
	PathVideoFeed   = "/video_feed"
	PathDemoStart   = "/demo/start"
	PathDemoStop    = "/demo/stop"
	PathSpeech      = "/asr"
	PathHealth      = "/health"
)

// maxBodyBytes caps how much of a reply is read.
const maxBodyBytes = 1 << 20

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token() (string, error)
}

// Response is a decoded rover reply. Only the fields a caller acts on are
// decoded; Body keeps the raw payload.
type Response struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	Body       []byte `json:"-"`
}

// Client talks to one rover controller.
type Client struct {
	base    *url.URL
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource attaches bearer tokens to every request and the speech dial.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithRequestTimeout bounds each request. Zero leaves requests unbounded.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a client for the controller at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", baseURL)
	}

	c := &Client{
		base: u,
		http: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Move posts a motion direction.
func (c *Client) Move(ctx context.Context, direction string) (*Response, error) {
	return c.post(ctx, PathControl, map[string]string{"direction": direction})
}

// SetSpeed posts a speed value.
func (c *Client) SetSpeed(ctx context.Context, speed int) (*Response, error) {
	return c.post(ctx, PathSpeed, map[string]int{"speed": speed})
}

// SendText posts a free-text command.
func (c *Client) SendText(ctx context.Context, text string) (*Response, error) {
	return c.post(ctx, PathCmd, map[string]string{"text": text})
}

// StartCamera asks the rover to start capturing.
func (c *Client) StartCamera(ctx context.Context) (*Response, error) {
	return c.post(ctx, PathCameraStart, nil)
}

// StopCamera asks the rover to stop capturing.
func (c *Client) StopCamera(ctx context.Context) (*Response, error) {
	return c.post(ctx, PathCameraStop, nil)
}

// StartDemo starts a named movement sequence.
func (c *Client) StartDemo(ctx context.Context, name string) (*Response, error) {
	return c.post(ctx, PathDemoStart, map[string]string{"demo_name": name})
}

// StopDemo stops whatever sequence is running.
func (c *Client) StopDemo(ctx context.Context) (*Response, error) {
	return c.post(ctx, PathDemoStop, nil)
}

// Health checks that the controller is reachable.
func (c *Client) Health(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, PathHealth, nil)
}

// FeedURL returns the video feed locator for a cache-busting token.
func (c *Client) FeedURL(token int64) string {
	u := *c.base
	u.Path = c.base.Path + PathVideoFeed
	u.RawQuery = url.Values{"t": {strconv.FormatInt(token, 10)}}.Encode()
	return u.String()
}

// SpeechURL returns the speech channel endpoint. The WebSocket scheme
// follows the base URL: http→ws, https→wss.
func (c *Client) SpeechURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + PathSpeech
	u.RawQuery = ""
	return u.String()
}

// AuthHeader returns the headers to present on the speech dial.
func (c *Client) AuthHeader() (http.Header, error) {
	h := http.Header{}
	if c.tokens == nil {
		return h, nil
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain token: %w", err)
	}
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	op := method + " " + path

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	u := *c.base
	u.Path = c.base.Path + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	header, err := c.AuthHeader()
	if err != nil {
		return nil, Classify(op, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Classify(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, Classify(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := detailFromBody(raw)
		if detail == "" {
			detail = resp.Status
		}
		return nil, Rejected(op, resp.StatusCode, detail)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: raw}
	// Success bodies are informational; a non-JSON body is not a failure.
	_ = json.Unmarshal(raw, out)
	return out, nil
}
