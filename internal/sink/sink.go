package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

var (
	ErrPublishFailed = errors.New("failed to publish scan event")
	ErrNoSinks       = errors.New("no sinks configured")
)

// Sink receives classified scan events
type Sink interface {
	Publish(ctx context.Context, event *models.ScanEvent) error
}

// Named labels a sink for logs and metrics
type Named struct {
	Name string
	Sink Sink
}

// Multi publishes every event to all configured sinks concurrently
type Multi struct {
	sinks   []Named
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewMulti creates a fan-out over sinks. Entries with a nil Sink are skipped.
func NewMulti(sinks []Named, m *metrics.Metrics, log logger.Logger) *Multi {
	active := make([]Named, 0, len(sinks))
	for _, s := range sinks {
		if s.Sink != nil {
			active = append(active, s)
		}
	}

	return &Multi{
		sinks:   active,
		metrics: m,
		log:     log.With(logger.F("component", "multi_sink")),
	}
}

// Publish returns the first failure after every sink has been tried
func (m *Multi) Publish(ctx context.Context, event *models.ScanEvent) error {
	if len(m.sinks) == 0 {
		return ErrNoSinks
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(m.sinks))

	for _, s := range m.sinks {
		wg.Add(1)
		go func(s Named) {
			defer wg.Done()

			err := s.Sink.Publish(ctx, event)
			m.metrics.RecordSinkPublish(s.Name, err)
			if err != nil {
				m.log.Error("failed to publish via sink",
					logger.F("sink", s.Name),
					logger.F("address", event.TokenAddress),
					logger.Err(err),
				)
				errChan <- err
			}
		}(s)
	}

	wg.Wait()
	close(errChan)

	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Names lists the active sinks
func (m *Multi) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name
	}
	return names
}

func (m *Multi) Count() int {
	return len(m.sinks)
}
