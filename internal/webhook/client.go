package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

var (
	ErrSendFailed     = errors.New("failed to execute webhook")
	ErrRejected       = errors.New("webhook rejected payload")
	ErrMissingWebhook = errors.New("missing webhook url")
)

const (
	defaultTimeout    = 15 * time.Second
	defaultBackoff    = time.Second
	defaultMaxWait    = 30 * time.Second
	defaultRetryCount = 3
)

// Config holds webhook client configuration
type Config struct {
	Timeout    time.Duration
	RetryCount int
	// Backoff is multiplied by attempt² between retries
	Backoff time.Duration
	// MaxRetryAfter caps how long a 429 response may pause delivery
	MaxRetryAfter time.Duration
	UserAgent     string
}

// Client executes Discord-compatible webhooks
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    Limiter
	log        logger.Logger
}

type rateLimitBody struct {
	RetryAfter float64 `json:"retry_after"`
}

// statusError carries a non-2xx response
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// NewClient creates a webhook client. limiter may be nil.
func NewClient(cfg Config, limiter Limiter, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = defaultMaxWait
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		log:        log.With(logger.F("component", "webhook")),
	}
}

// DefaultConfig returns the retry policy used when none is configured
func DefaultConfig() Config {
	return Config{
		Timeout:       defaultTimeout,
		RetryCount:    defaultRetryCount,
		Backoff:       defaultBackoff,
		MaxRetryAfter: defaultMaxWait,
	}
}

// Key identifies a webhook without exposing its token
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}

// Send executes the webhook at url. Attachments switch the request to
// multipart with the payload in payload_json.
func (c *Client) Send(ctx context.Context, url string, payload *Payload, files []models.Attachment) error {
	if url == "" {
		return ErrMissingWebhook
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return c.sendWithRetry(ctx, url, body, files)
}

func (c *Client) sendWithRetry(ctx context.Context, url string, body []byte, files []models.Attachment) error {
	key := Key(url)
	var lastErr error

	for i := 0; i <= c.config.RetryCount; i++ {
		if i > 0 {
			wait := time.Duration(i*i) * c.config.Backoff
			var se *statusError
			if errors.As(lastErr, &se) && se.retryAfter > 0 {
				wait = se.retryAfter
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, key); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		err := c.send(ctx, url, body, files)
		if err == nil {
			return nil
		}

		lastErr = err
		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}

		c.log.Warn("webhook send failed, retrying",
			logger.F("webhook", key),
			logger.F("attempt", i+1),
			logger.F("max_retries", c.config.RetryCount),
			logger.Err(err),
		)
	}

	return fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

func (c *Client) send(ctx context.Context, url string, body []byte, files []models.Attachment) error {
	reqBody, contentType, err := encode(body, files)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.log.Debug("webhook executed", logger.F("status", resp.StatusCode))
		return nil
	}

	se := &statusError{code: resp.StatusCode, body: string(respBody)}
	if resp.StatusCode == http.StatusTooManyRequests {
		se.retryAfter = c.retryAfter(resp.Header, respBody)
	}
	return se
}

func (c *Client) retryAfter(h http.Header, body []byte) time.Duration {
	var wait time.Duration

	var rl rateLimitBody
	if err := json.Unmarshal(body, &rl); err == nil && rl.RetryAfter > 0 {
		wait = time.Duration(rl.RetryAfter * float64(time.Second))
	} else if secs, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil && secs > 0 {
		wait = time.Duration(secs * float64(time.Second))
	}

	if wait > c.config.MaxRetryAfter {
		wait = c.config.MaxRetryAfter
	}
	return wait
}

func encode(body []byte, files []models.Attachment) (io.Reader, string, error) {
	if len(files) == 0 {
		return bytes.NewReader(body), "application/json", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="payload_json"`},
		"Content-Type":        {"application/json"},
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create payload part: %w", err)
	}
	if _, err := part.Write(body); err != nil {
		return nil, "", fmt.Errorf("failed to write payload part: %w", err)
	}

	for i, f := range files {
		name := f.Name
		if name == "" {
			name = "file" + strconv.Itoa(i)
		}
		fw, err := w.CreateFormFile("files["+strconv.Itoa(i)+"]", name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part: %w", err)
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write file part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
