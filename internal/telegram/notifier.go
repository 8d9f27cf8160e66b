package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrSendFailed  = errors.New("failed to send telegram message")
)

const (
	DefaultAPIURL = "https://api.telegram.org"
	sendPath      = "/bot%s/sendMessage"
)

// Config holds Telegram notifier configuration
type Config struct {
	BotToken   string
	ChatID     string
	RateLimit  int // Messages per minute
	Timeout    time.Duration
	RetryCount int
	// Backoff is multiplied by attempt² between retries
	Backoff time.Duration
	APIURL  string
}

// Message represents a Telegram message
type Message struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// Response represents the Telegram API response
type Response struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
	ErrorCode   int    `json:"error_code,omitempty"`
}

// Notifier posts wallet trade alerts to a Telegram chat. It is a scan sink
// that ignores everything but buy and sell events.
type Notifier struct {
	config     Config
	httpClient *http.Client
	log        logger.Logger
	enabled    bool

	mu           sync.Mutex
	messageCount int
	lastReset    time.Time
	now          func() time.Time
}

// NewNotifier creates a new Telegram notifier
func NewNotifier(cfg Config, log logger.Logger) *Notifier {
	enabled := cfg.BotToken != "" && cfg.ChatID != ""

	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	n := &Notifier{
		config:    cfg,
		log:       log.With(logger.F("component", "telegram")),
		lastReset: time.Now(),
		enabled:   enabled,
		now:       time.Now,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	if enabled {
		n.log.Info("telegram trade alerts enabled")
	} else {
		n.log.Warn("telegram trade alerts disabled: missing bot token or chat ID")
	}

	return n
}

// IsEnabled returns true if Telegram notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.enabled
}

// Publish sends a trade alert for buy and sell events. Other event types and
// a disabled notifier are no-ops.
func (n *Notifier) Publish(ctx context.Context, event *models.ScanEvent) error {
	if event == nil || (event.Type != models.ScanTypeBuy && event.Type != models.ScanTypeSell) {
		return nil
	}
	return n.SendMarkdown(ctx, FormatTrade(event))
}

// SendMarkdown sends a message with Markdown formatting and no link preview
func (n *Notifier) SendMarkdown(ctx context.Context, text string) error {
	if !n.enabled {
		n.log.Debug("telegram notification skipped: notifier disabled")
		return nil
	}

	if err := n.checkRateLimit(); err != nil {
		return err
	}

	msg := Message{
		ChatID:                n.config.ChatID,
		Text:                  text,
		ParseMode:             "Markdown",
		DisableWebPagePreview: true,
	}

	return n.sendWithRetry(ctx, msg)
}

// checkRateLimit checks if we're within rate limits
func (n *Notifier) checkRateLimit() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()

	// Reset counter every minute
	if now.Sub(n.lastReset) >= time.Minute {
		n.messageCount = 0
		n.lastReset = now
	}

	if n.messageCount >= n.config.RateLimit {
		return ErrRateLimited
	}

	n.messageCount++
	return nil
}

// sendWithRetry sends a message with retry logic
func (n *Notifier) sendWithRetry(ctx context.Context, msg Message) error {
	var lastErr error

	for i := 0; i <= n.config.RetryCount; i++ {
		if i > 0 {
			backoff := time.Duration(i*i) * n.config.Backoff
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := n.send(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		n.log.Warn("telegram send failed, retrying",
			logger.F("attempt", i+1),
			logger.F("max_retries", n.config.RetryCount),
			logger.Err(err),
		)
	}

	return fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
}

// send performs the actual HTTP request to Telegram
func (n *Notifier) send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	url := n.config.APIURL + fmt.Sprintf(sendPath, n.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var tgResp Response
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !tgResp.OK {
		n.log.Error("telegram API error",
			logger.F("error_code", tgResp.ErrorCode),
			logger.F("description", tgResp.Description),
		)
		return fmt.Errorf("telegram API error: %s", tgResp.Description)
	}

	n.log.Debug("message sent successfully")
	return nil
}

// FormatTrade renders a buy or sell event as a Markdown alert
func FormatTrade(event *models.ScanEvent) string {
	emoji, label := "🟢", "Buy"
	if event.Type == models.ScanTypeSell {
		emoji, label = "🔴", "Sell"
	}

	var tc models.TradeContext
	switch c := event.Context.(type) {
	case models.TradeContext:
		tc = c
	case *models.TradeContext:
		if c != nil {
			tc = *c
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s* on %s\n\n", emoji, label, event.Chain)
	if tc.Username != "" {
		fmt.Fprintf(&sb, "👤 *Wallet:* `%s`\n", tc.Username)
	}
	if tc.WalletAddress != nil && *tc.WalletAddress != "" {
		fmt.Fprintf(&sb, "🏦 *Address:* `%s`\n", truncateAddress(*tc.WalletAddress))
	}
	fmt.Fprintf(&sb, "🪙 *Token:* `%s`\n", event.TokenAddress)
	if tc.Amount > 0 {
		fmt.Fprintf(&sb, "💰 *Amount:* %s %s\n", formatLargeNumber(tc.Amount), tc.Currency)
	}
	if tc.PricePerToken > 0 {
		fmt.Fprintf(&sb, "💲 *Price:* $%s\n", formatPriceCompact(tc.PricePerToken))
	}
	if tc.URL != "" {
		fmt.Fprintf(&sb, "\n[Profile](%s)", tc.URL)
	}

	return strings.TrimRight(sb.String(), "\n")
}

func truncateAddress(addr string) string {
	if len(addr) > 12 {
		return addr[:6] + "..." + addr[len(addr)-4:]
	}
	return addr
}

// formatLargeNumber formats a large number with K, M, B suffixes
func formatLargeNumber(n float64) string {
	if n >= 1e12 {
		return fmt.Sprintf("%.2fT", n/1e12)
	}
	if n >= 1e9 {
		return fmt.Sprintf("%.2fB", n/1e9)
	}
	if n >= 1e6 {
		return fmt.Sprintf("%.2fM", n/1e6)
	}
	if n >= 1e3 {
		return fmt.Sprintf("%.2fK", n/1e3)
	}
	return fmt.Sprintf("%.2f", n)
}

// formatPriceCompact formats a price with appropriate precision
func formatPriceCompact(price float64) string {
	if price >= 1000 {
		return fmt.Sprintf("%.2f", price)
	}
	if price >= 1 {
		return fmt.Sprintf("%.4f", price)
	}
	if price >= 0.0001 {
		return fmt.Sprintf("%.6f", price)
	}
	return fmt.Sprintf("%.10f", price)
}
