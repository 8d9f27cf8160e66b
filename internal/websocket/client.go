package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

var (
	ErrNotConnected   = errors.New("websocket not connected")
	ErrMaxRetries     = errors.New("max reconnect retries exceeded")
	ErrSendFailed     = errors.New("failed to send message")
	ErrRequestFailed  = errors.New("gateway request failed")
	ErrInvalidMessage = errors.New("invalid message format")
)

const connectionLost = "connection lost"

// Config holds gateway client configuration
type Config struct {
	URL               string
	Token             string
	ReconnectInterval time.Duration
	MaxRetries        int
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	RequestTimeout    time.Duration
}

func (c *Config) setDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// MessageHandler receives every chat message pushed by the gateway
type MessageHandler func(msg *models.Message)

// Client is a connection to the chat gateway. It receives pushed messages,
// resolves forum topics and forwards messages on request.
type Client struct {
	config  Config
	conn    *websocket.Conn
	log     logger.Logger
	metrics *metrics.Metrics
	handler MessageHandler
	pending *pending

	mu           sync.RWMutex
	writeMu      sync.Mutex
	isConnected  bool
	retryCount   int
	done         chan struct{}
	closeOnce    sync.Once
	reconnecting bool
}

// NewClient creates a new gateway client. m may be nil.
func NewClient(cfg Config, m *metrics.Metrics, log logger.Logger) *Client {
	cfg.setDefaults()

	return &Client{
		config:  cfg,
		log:     log.With(logger.F("component", "gateway")),
		metrics: m,
		pending: newPending(),
		done:    make(chan struct{}),
	}
}

// SetHandler sets the message handler
func (c *Client) SetHandler(handler MessageHandler) {
	c.handler = handler
}

// Connect establishes the connection if it is not already up
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	connected := c.isConnected
	c.mu.RUnlock()
	if connected {
		return nil
	}

	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	c.log.Info("connecting to gateway", logger.F("url", c.config.URL))

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	var header http.Header
	if c.config.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + c.config.Token}}
	}

	conn, _, err := dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.config.URL, err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.isConnected = true
	c.retryCount = 0
	c.mu.Unlock()

	c.log.Info("gateway connected", logger.F("url", c.config.URL))
	return nil
}

// Start connects and begins reading frames in the background
func (c *Client) Start(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	go c.readLoop(ctx)
	go c.pingLoop(ctx)

	return nil
}

func (c *Client) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.isConnected = false
		c.mu.Unlock()
		c.pending.fail(connectionLost)
	}()

	for {
		if c.stopping(ctx) {
			c.log.Info("stopping read loop")
			return
		}

		if err := c.readFrame(); err != nil {
			if c.stopping(ctx) {
				c.log.Info("stopping read loop")
				return
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("gateway closed the connection")
				return
			}

			c.log.Error("read error", logger.Err(err))
			c.pending.fail(connectionLost)

			if err := c.reconnect(ctx); err != nil {
				c.log.Error("reconnection failed", logger.Err(err))
				return
			}
		}
	}
}

func (c *Client) readFrame() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
		return err
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.log.Warn("failed to parse frame", logger.Err(err), logger.F("size", len(data)))
		return nil
	}

	c.handleFrame(&frame)
	return nil
}

func (c *Client) handleFrame(frame *Frame) {
	switch {
	case frame.Type == frameTypeMessage:
		var msg models.Message
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			c.log.Warn("failed to parse chat message", logger.Err(fmt.Errorf("%w: %v", ErrInvalidMessage, err)))
			return
		}
		if c.handler != nil {
			c.handler(&msg)
		}
	case frame.ID != "":
		if !c.pending.resolve(frame) {
			c.log.Debug("response for unknown request", logger.F("id", frame.ID))
		}
	default:
		c.log.Debug("ignoring frame", logger.F("type", frame.Type))
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if !c.IsConnected() {
				continue
			}

			pctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
			err := c.call(pctx, MethodPing, nil, nil)
			cancel()
			if err != nil {
				c.log.Warn("ping failed", logger.Err(err))
				continue
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn != nil {
				_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
			}
			c.log.Debug("pong received")
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	if c.stopping(ctx) {
		return ctx.Err()
	}

	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting = true
	c.isConnected = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		c.retryCount++
		retryCount := c.retryCount
		c.mu.Unlock()

		if c.config.MaxRetries > 0 && retryCount > c.config.MaxRetries {
			return ErrMaxRetries
		}

		c.log.Info("attempting reconnection",
			logger.F("attempt", retryCount),
			logger.F("max_retries", c.config.MaxRetries),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(c.config.ReconnectInterval):
			if err := c.connect(ctx); err != nil {
				c.log.Warn("reconnection attempt failed",
					logger.Err(err),
					logger.F("attempt", retryCount),
				)
				continue
			}
			c.metrics.RecordReconnect()
			return nil
		}
	}
}

// Send writes a JSON frame
func (c *Client) Send(ctx context.Context, data interface{}) error {
	c.mu.RLock()
	conn := c.conn
	isConnected := c.isConnected
	c.mu.RUnlock()

	if !isConnected || conn == nil {
		return ErrNotConnected
	}

	message, err := json.Marshal(data)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// call sends a request and waits for its response. out may be nil.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	wait := c.pending.add(id)
	defer c.pending.remove(id)

	if err := c.Send(ctx, Request{ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-wait:
		if resp.Error != "" {
			return fmt.Errorf("%w: %s: %s", ErrRequestFailed, method, resp.Error)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return nil
	}
}

// ResolveTopic fetches the message that opened a forum topic. A topic the
// gateway cannot find resolves to nil without error.
func (c *Client) ResolveTopic(ctx context.Context, chatID, messageID int64) (*models.Message, error) {
	var topic *models.Message
	if err := c.call(ctx, MethodGetMessage, MessageRef{ChatID: chatID, MessageID: messageID}, &topic); err != nil {
		return nil, err
	}
	return topic, nil
}

// Forward asks the gateway to re-post msg to target
func (c *Client) Forward(ctx context.Context, target string, msg *models.Message) error {
	return c.call(ctx, MethodForward, ForwardParams{
		Target:    target,
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
	}, nil)
}

// Close closes the connection gracefully
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.isConnected = false
	c.mu.Unlock()

	c.pending.fail(connectionLost)

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	c.writeMu.Unlock()

	return conn.Close()
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}
