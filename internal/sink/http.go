package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

const (
	DefaultHistoryURL = "https://istory.ai"
	historyPath       = "/create/history"
)

// HTTPConfig holds history endpoint configuration
type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
	Backoff    time.Duration
}

// HTTPSink posts scan events to the history service
type HTTPSink struct {
	config     HTTPConfig
	endpoint   string
	httpClient *http.Client
	log        logger.Logger
}

// NewHTTPSink creates a new history sink
func NewHTTPSink(cfg HTTPConfig, log logger.Logger) *HTTPSink {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultHistoryURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}

	return &HTTPSink{
		config:     cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + historyPath,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With(logger.F("component", "history_sink")),
	}
}

// Endpoint returns the full URL events are posted to
func (s *HTTPSink) Endpoint() string {
	return s.endpoint
}

func (s *HTTPSink) Publish(ctx context.Context, event *models.ScanEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for i := 0; i <= s.config.RetryCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i*i) * s.config.Backoff):
			}
		}

		if lastErr = s.post(ctx, body); lastErr == nil {
			s.log.Debug("scan event posted",
				logger.F("type", event.Type),
				logger.F("address", event.TokenAddress),
			)
			return nil
		}

		s.log.Warn("history post failed, retrying",
			logger.F("attempt", i+1),
			logger.F("max_retries", s.config.RetryCount),
			logger.Err(lastErr),
		)
	}

	return fmt.Errorf("%w: %v", ErrPublishFailed, lastErr)
}

func (s *HTTPSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
