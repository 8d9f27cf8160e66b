package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

const (
	channelScans     = "scans:broadcast"
	channelHeartbeat = "cluster:heartbeat"

	messageTypeHeartbeat = "heartbeat"
)

var ErrNotSubscribed = errors.New("pubsub not subscribed")

// PubSubMessage is the envelope of every broadcast
type PubSubMessage struct {
	Type       string          `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  int64           `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ScanEvent decodes the payload of a scan broadcast
func (m *PubSubMessage) ScanEvent() (*models.ScanEvent, error) {
	var event models.ScanEvent
	if err := json.Unmarshal(m.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode scan event: %w", err)
	}
	return &event, nil
}

// MessageHandler is a function that handles incoming pub/sub messages
type MessageHandler func(msg *PubSubMessage)

// PubSub broadcasts scan events and heartbeats between relay instances and
// to any other subscriber of the scan channel.
type PubSub struct {
	client     *Client
	log        logger.Logger
	instanceID string

	pubsub   *redis.PubSub
	handlers map[string][]MessageHandler
	mu       sync.RWMutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewPubSub creates a new pub/sub handler
func NewPubSub(client *Client, instanceID string, log logger.Logger) *PubSub {
	return &PubSub{
		client:     client,
		log:        log.With(logger.F("component", "pubsub")),
		instanceID: instanceID,
		handlers:   make(map[string][]MessageHandler),
		done:       make(chan struct{}),
	}
}

// InstanceID returns the id stamped on outgoing messages
func (p *PubSub) InstanceID() string {
	return p.instanceID
}

// Subscribe subscribes to one or more channels
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) error {
	p.pubsub = p.client.rdb.Subscribe(ctx, channels...)

	if _, err := p.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	p.log.Info("subscribed to channels", logger.F("channels", channels))
	return nil
}

// Start begins dispatching received messages to handlers
func (p *PubSub) Start(ctx context.Context) error {
	if p.pubsub == nil {
		return ErrNotSubscribed
	}
	go p.listen(ctx, p.pubsub.Channel())
	return nil
}

func (p *PubSub) listen(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			p.log.Info("stopping pubsub listener due to context cancellation")
			return
		case <-p.done:
			p.log.Info("stopping pubsub listener")
			return
		case msg, ok := <-ch:
			if !ok {
				p.log.Warn("pubsub channel closed")
				return
			}
			p.handleMessage(msg)
		}
	}
}

func (p *PubSub) handleMessage(msg *redis.Message) {
	var pubsubMsg PubSubMessage
	if err := json.Unmarshal([]byte(msg.Payload), &pubsubMsg); err != nil {
		p.log.Warn("failed to unmarshal pubsub message",
			logger.Err(err),
			logger.F("channel", msg.Channel),
		)
		return
	}

	if pubsubMsg.InstanceID == p.instanceID {
		return
	}

	p.log.Debug("received pubsub message",
		logger.F("channel", msg.Channel),
		logger.F("type", pubsubMsg.Type),
		logger.F("from_instance", pubsubMsg.InstanceID),
	)

	p.mu.RLock()
	handlers := p.handlers[msg.Channel]
	p.mu.RUnlock()

	for _, handler := range handlers {
		handler(&pubsubMsg)
	}
}

// RegisterHandler registers a handler for a specific channel
func (p *PubSub) RegisterHandler(channel string, handler MessageHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[channel] = append(p.handlers[channel], handler)
}

func (p *PubSub) publish(ctx context.Context, channel string, msgType string, payload interface{}) error {
	var payloadJSON json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloadJSON = data
	}

	msgJSON, err := json.Marshal(PubSubMessage{
		Type:       msgType,
		InstanceID: p.instanceID,
		Timestamp:  time.Now().Unix(),
		Payload:    payloadJSON,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.client.rdb.Publish(ctx, channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.log.Debug("published message",
		logger.F("channel", channel),
		logger.F("type", msgType),
	)
	return nil
}

// Publish broadcasts a scan event on the scan channel
func (p *PubSub) Publish(ctx context.Context, event *models.ScanEvent) error {
	return p.publish(ctx, channelScans, event.Type, event)
}

// PublishHeartbeat announces this instance as alive
func (p *PubSub) PublishHeartbeat(ctx context.Context) error {
	return p.publish(ctx, channelHeartbeat, messageTypeHeartbeat, map[string]string{
		"instance_id": p.instanceID,
		"status":      "alive",
	})
}

// RunHeartbeat publishes a heartbeat every interval until ctx ends
func (p *PubSub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.PublishHeartbeat(ctx); err != nil {
				p.log.Warn("failed to publish heartbeat", logger.Err(err))
			}
		}
	}
}

// Close stops the listener and closes the subscription
func (p *PubSub) Close() error {
	p.closeOnce.Do(func() { close(p.done) })

	if p.pubsub != nil {
		return p.pubsub.Close()
	}
	return nil
}

// ScanChannel returns the scan broadcast channel name
func ScanChannel() string {
	return channelScans
}

// HeartbeatChannel returns the heartbeat channel name
func HeartbeatChannel() string {
	return channelHeartbeat
}
