package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/health"
	"github.com/c360/semtopo/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client is closed")
)

// Client manages one NATS connection and its JetStream handle. After
// circuitThreshold consecutive failures the circuit opens and calls fail fast
// until the backoff has elapsed.
type Client struct {
	url    string
	logger *slog.Logger

	status   atomic.Value // ConnectionStatus
	failures atomic.Int32
	openedAt atomic.Int64 // unix nanos the circuit opened
	closed   atomic.Bool

	circuitThreshold int32
	circuitBackoff   time.Duration
	connectRetry     retry.Config

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	username   string
	password   string
	token      string
	clientName string
	tlsConfig  *tls.Config

	jsMetrics *jetstreamMetrics

	onHealthChange func(bool)

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream

	metricsCancel context.CancelFunc
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default(),
		circuitThreshold: 5,
		circuitBackoff:   10 * time.Second,
		connectRetry:     retry.Quick(),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}
	c.logger = c.logger.With("component", "natsclient", "url", url)
	c.status.Store(StatusDisconnected)
	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status. An open circuit whose
// backoff has elapsed reports disconnected so the next call may try again.
func (c *Client) Status() ConnectionStatus {
	s := c.status.Load().(ConnectionStatus)
	if s == StatusCircuitOpen && time.Since(time.Unix(0, c.openedAt.Load())) >= c.circuitBackoff {
		c.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected)
		return StatusDisconnected
	}
	return s
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(s)
}

// IsHealthy returns true if the connection is established
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the consecutive failure count
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

func (c *Client) recordFailure(op string) {
	c.jsMetrics.recordError(op)
	n := c.failures.Add(1)
	if n >= c.circuitThreshold && c.Status() != StatusCircuitOpen {
		c.openedAt.Store(time.Now().UnixNano())
		c.setStatus(StatusCircuitOpen)
		c.logger.Warn("Circuit breaker opened", "failures", n, "backoff", c.circuitBackoff)
	}
}

func (c *Client) resetCircuit() {
	c.failures.Store(0)
}

// guard fails fast when the circuit is open or the client is not connected.
func (c *Client) guard() (jetstream.JetStream, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	switch c.Status() {
	case StatusCircuitOpen:
		return nil, ErrCircuitOpen
	case StatusConnected:
	default:
		return nil, ErrNotConnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	if c.tlsConfig != nil {
		opts = append(opts, nats.Secure(c.tlsConfig))
	}
	return opts
}

// Connect establishes the connection, retrying transient failures with
// backoff until ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS")

	err := retry.Do(ctx, c.connectRetry, func() error {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			c.logger.Debug("Connect attempt failed", "error", err)
			return err
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return retry.NonRetryable(err)
		}
		c.mu.Lock()
		c.conn, c.js = conn, js
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		c.recordFailure("connect")
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Connected to NATS")

	if c.jsMetrics != nil {
		c.metricsCancel = c.jsMetrics.startPoller(context.WithoutCancel(ctx), c.jsMetrics.interval)
	}
	if c.onHealthChange != nil {
		c.onHealthChange(true)
	}
	return nil
}

// JetStream returns the JetStream handle of the connection.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	return c.guard()
}

// EnsureStream creates the stream or updates it to cfg.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.guard()
	if err != nil {
		return nil, err
	}
	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.recordFailure("ensure_stream")
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", fmt.Sprintf("create stream %s", cfg.Name))
	}
	c.resetCircuit()
	c.jsMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// PullConsumer creates or updates a durable pull consumer on stream.
func (c *Client) PullConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	js, err := c.guard()
	if err != nil {
		return nil, err
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, stream, cfg)
	if err != nil {
		c.recordFailure("create_consumer")
		return nil, errors.WrapTransient(err, "Client", "PullConsumer",
			fmt.Sprintf("create consumer on %s", stream))
	}
	c.resetCircuit()
	c.jsMetrics.trackConsumer(stream, cfg.Durable, cons)
	return cons, nil
}

// Publish publishes data to a stream subject and waits for the ack.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	js, err := c.guard()
	if err != nil {
		return err
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		c.recordFailure("publish")
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	c.resetCircuit()
	return nil
}

// RTT returns the round-trip time to the NATS server
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// Health reports the connection as a health status.
func (c *Client) Health() health.Status {
	switch s := c.Status(); s {
	case StatusConnected:
		return health.NewHealthy("natsclient", "connected")
	case StatusConnecting, StatusReconnecting:
		return health.NewDegraded("natsclient", s.String())
	default:
		return health.NewUnhealthy("natsclient", s.String())
	}
}

// Close drains and closes the connection. It waits for the drain up to the
// drain timeout or the ctx deadline, whichever is first.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.metricsCancel != nil {
		c.metricsCancel()
	}

	c.mu.Lock()
	conn := c.conn
	c.conn, c.js = nil, nil
	c.password, c.token = "", ""
	c.mu.Unlock()

	defer c.setStatus(StatusDisconnected)
	if conn == nil {
		return nil
	}

	timeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}

	drained := make(chan error, 1)
	go func() { drained <- conn.Drain() }()

	var err error
	select {
	case err = <-drained:
		err = errors.Wrap(err, "Client", "Close", "drain connection")
	case <-time.After(timeout):
		err = errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain")
	case <-ctx.Done():
		err = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
	conn.Close()
	return err
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)
	if c.onHealthChange != nil {
		go c.onHealthChange(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("Reconnected to NATS")
	if c.onHealthChange != nil {
		go c.onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	c.logger.Error("NATS error", "error", err)
}
