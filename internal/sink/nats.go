package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

const DefaultSubjectPrefix = "scans"

// NATSConfig holds NATS sink configuration
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
}

// NATSSink publishes scan events on <prefix>.<type>
type NATSSink struct {
	nc     *nats.Conn
	prefix string
	log    logger.Logger
}

// ConnectNATS dials the NATS server. The connection retries and reconnects
// forever in the background.
func ConnectNATS(cfg NATSConfig, log logger.Logger) (*NATSSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Name == "" {
		cfg.Name = "chat-relay"
	}

	l := log.With(logger.F("component", "nats_sink"))

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("nats disconnected", logger.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats reconnected", logger.F("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	l.Info("connected to NATS", logger.F("url", cfg.URL), logger.F("prefix", cfg.SubjectPrefix))
	return &NATSSink{nc: nc, prefix: cfg.SubjectPrefix, log: l}, nil
}

// Subject returns the subject an event type is published on
func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

func (s *NATSSink) Publish(ctx context.Context, event *models.ScanEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.nc.Publish(s.Subject(event.Type), data); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

// Ready reports whether the connection is up
func (s *NATSSink) Ready() bool {
	return s.nc != nil && s.nc.Status() == nats.CONNECTED
}

// Close drains pending publishes and closes the connection
func (s *NATSSink) Close() error {
	if s.nc == nil || s.nc.Status() == nats.CLOSED {
		return nil
	}

	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	s.log.Info("NATS connection closed")
	return nil
}
