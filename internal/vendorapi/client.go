package vendorapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxBodyBytes     = 4 << 20
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second

	// readChunkSize is the size of each body read handed to the Accumulator.
	readChunkSize = 32 << 10

	// maxErrorBody caps how much of an error body is kept in StatusError.
	maxErrorBody = 512
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures a Client.
type Options struct {
	// APIURL is the REST base, e.g. "https://api.us-east-1.mbedcloud.com".
	APIURL string

	// StreamURL is the full websocket notification URL.
	StreamURL string

	// Token is the bearer credential attached to every call.
	Token string

	// Timeout bounds each REST call. Default 30s.
	Timeout time.Duration

	// MaxBodyBytes bounds response buffering and the size of a single
	// stream frame. Default 4 MiB.
	MaxBodyBytes int

	// PingInterval is how often the stream is pinged. Default 30s.
	PingInterval time.Duration

	// PongTimeout is how long past a ping interval the stream may stay
	// silent before it is treated as dead. Default 10s.
	PongTimeout time.Duration

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client talks to the vendor device-management API.
//
// Every call is independent: many may be in flight at once and nothing
// pairs requests with responses beyond the HTTP exchange itself.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	apiURL    string
	streamURL string
	token     string
	maxBody   int

	pingInterval time.Duration
	pongWait     time.Duration

	httpClient *http.Client
	dialer     *websocket.Dialer

	logger   Logger
	loggerMu sync.RWMutex
}

// NewClient creates a vendor API client.
//
// Returns:
//   - *Client: Ready for use; no connection is made until the first call
//   - error: If APIURL or Token is missing
func NewClient(opts Options) (*Client, error) {
	if opts.APIURL == "" {
		return nil, fmt.Errorf("vendorapi: api url is required")
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("%w: token is empty", ErrAuth)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	pongWait := opts.PongTimeout
	if pongWait <= 0 {
		pongWait = defaultPongTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiURL:     strings.TrimRight(opts.APIURL, "/"),
		streamURL:  opts.StreamURL,
		token:      opts.Token,
		maxBody:    maxBody,
		httpClient: httpClient,

		pingInterval: pingInterval,
		pongWait:     pongWait,
		dialer:     &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout},
	}, nil
}

// SetLogger sets the logger used for request tracing.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) logDebug(msg string, args ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

// setHeaders attaches the bearer credential and content type.
func (c *Client) setHeaders(h http.Header) {
	h.Set("Authorization", "Bearer "+c.token)
	h.Set("Content-Type", "application/json")
}

// Request performs one authenticated call and returns the classified body.
//
// The body is read in chunks through an Accumulator, so a JSON object
// split across several transfer chunks is only returned once complete.
//
// Parameters:
//   - ctx: Cancels the call; the client timeout still applies
//   - method: HTTP method
//   - path: Path and query relative to the API base, e.g. "/v3/devices?limit=100"
//   - body: Raw JSON request body or nil
//
// Returns:
//   - Body: Classified response body on 2xx
//   - error: ErrNetwork, ErrTimeout, ErrAuth, ErrNotFound, *StatusError,
//     ErrPartialBody or ErrBodyTooLarge
func (c *Client) Request(ctx context.Context, method, path string, body []byte) (Body, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return Body{}, fmt.Errorf("vendorapi: building request: %w", err)
	}
	c.setHeaders(req.Header)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Body{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	result, readErr := c.readBody(resp.Body)
	c.logDebug("vendor request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"kind", result.Kind.String(),
		"duration", time.Since(start),
	)

	if statusErr := statusError(resp.StatusCode, result.Raw); statusErr != nil {
		return result, statusErr
	}
	if readErr != nil {
		return result, readErr
	}
	return result, nil
}

func (c *Client) readBody(r io.Reader) (Body, error) {
	acc := NewAccumulator(c.maxBody)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if _, appendErr := acc.Append(chunk[:n]); appendErr != nil {
				return Body{Kind: KindPartial}, appendErr
			}
		}
		if errors.Is(err, io.EOF) {
			return acc.Finish()
		}
		if err != nil {
			body, _ := acc.Finish() //nolint:errcheck // read error takes precedence
			return body, classifyTransportError(err)
		}
	}
}

func statusError(code int, raw []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuth, code)
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		text := string(raw)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &StatusError{Code: code, Body: text}
	}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}
