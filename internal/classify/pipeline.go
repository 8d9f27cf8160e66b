package classify

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lugondev/go-chat-relay-web3/internal/dedupe"
	"github.com/lugondev/go-chat-relay-web3/internal/extract"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	"github.com/lugondev/go-chat-relay-web3/internal/trade"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

const defaultPublishTimeout = 10 * time.Second

// callerKeywords mark chats whose members post calls rather than scans
var callerKeywords = []string{"call", "gamble", "playground"}

// Sink receives classified scan events
type Sink interface {
	Publish(ctx context.Context, event *models.ScanEvent) error
}

// Config wires the pipeline's collaborators. Scans and Trades are optional;
// leaving them nil disables suppression of repeated events.
type Config struct {
	Sink           Sink
	Scans          dedupe.RecentSet
	Trades         dedupe.RecentSet
	Metrics        *metrics.Metrics
	PublishTimeout time.Duration
	Clock          func() time.Time
}

// Input is one classification request
type Input struct {
	ChatID     int64
	SenderName string
	ChatName   string
	Message    *models.Message
	Hint       TypeHint
}

// Pipeline turns chat messages into scan events and hands them to the sink
type Pipeline struct {
	extractor *extract.Extractor
	parser    *trade.Parser
	sink      Sink
	scans     dedupe.RecentSet
	trades    dedupe.RecentSet
	metrics   *metrics.Metrics
	log       logger.Logger
	now       func() time.Time
	timeout   time.Duration

	wg sync.WaitGroup
}

// New creates a new classification pipeline
func New(cfg Config, log logger.Logger) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	return &Pipeline{
		extractor: extract.New(),
		parser:    trade.NewParser(),
		sink:      cfg.Sink,
		scans:     cfg.Scans,
		trades:    cfg.Trades,
		metrics:   cfg.Metrics,
		log:       log.With(logger.F("component", "classifier")),
		now:       cfg.Clock,
		timeout:   cfg.PublishTimeout,
	}
}

// FullText joins the message body with the last path segment of every hyperlink
func FullText(msg *models.Message) string {
	parts := append([]string{msg.Text}, msg.LinkTargets()...)
	return strings.Join(parts, " ")
}

// DefaultType derives the event type when no hint applies
func DefaultType(senderName, chatName string) string {
	if strings.Contains(strings.ToLower(senderName), "bot") {
		return models.ScanTypeBot
	}
	chat := strings.ToLower(chatName)
	for _, kw := range callerKeywords {
		if strings.Contains(chat, kw) {
			return models.ScanTypeCaller
		}
	}
	return models.ScanTypeScan
}

// Permalink builds the t.me link of a message in a supergroup or channel
func Permalink(chatID, messageID int64) string {
	chat := strings.Replace(strconv.FormatInt(chatID, 10), "-100", "", 1)
	return "https://t.me/c/" + chat + "/" + strconv.FormatInt(messageID, 10)
}

// Build classifies the message without publishing anything. ok is false when
// no address or cashtag was found.
func (p *Pipeline) Build(in Input) (*models.ScanEvent, bool) {
	msg := in.Message
	full := FullText(msg)

	candidate, ok := p.extractor.Extract(full)
	if !ok {
		return nil, false
	}

	typ := in.Hint.Resolve(full)
	if typ == "" {
		typ = DefaultType(in.SenderName, in.ChatName)
	}

	event := &models.ScanEvent{
		Type:         typ,
		Chain:        string(candidate.Chain),
		TokenAddress: candidate.Address,
		Context: models.ScanContext{
			Username:  in.SenderName,
			Guildname: in.ChatName,
			URL:       Permalink(in.ChatID, msg.ID),
			Args:      msg.Text,
		},
		Timestamp: p.now().UnixMilli(),
	}

	if trade.IsTrade(full) {
		if t, ok := p.parser.Parse(msg.Text, msg.Entities, candidate.Address); ok {
			event.Type = string(t.Direction)
			event.Context = t.Context()
		}
	}

	return event, true
}

// Classify builds the event and publishes it in the background. The returned
// bool is false when there was nothing to publish or the event was suppressed.
func (p *Pipeline) Classify(ctx context.Context, in Input) (*models.ScanEvent, bool) {
	event, ok := p.Build(in)
	if !ok {
		return nil, false
	}

	if p.suppressed(ctx, in.SenderName, event) {
		return event, false
	}

	p.metrics.RecordScan(event.Chain, event.Type)
	p.log.WithContext(ctx).Info("address found",
		logger.F("chain", event.Chain),
		logger.F("address", event.TokenAddress),
		logger.F("type", event.Type),
		logger.F("sender", in.SenderName),
		logger.F("chat", in.ChatName),
	)

	p.publish(ctx, event)
	return event, true
}

func (p *Pipeline) suppressed(ctx context.Context, senderName string, event *models.ScanEvent) bool {
	if p.scans != nil && p.seen(ctx, p.scans, "scans", dedupe.ScanKey(senderName, event.TokenAddress)) {
		return true
	}

	tc, isTrade := event.Context.(models.TradeContext)
	if !isTrade || p.trades == nil {
		return false
	}
	wallet := ""
	if tc.WalletAddress != nil {
		wallet = *tc.WalletAddress
	}
	return p.seen(ctx, p.trades, "trades", dedupe.TradeKey(wallet, event.TokenAddress))
}

func (p *Pipeline) seen(ctx context.Context, set dedupe.RecentSet, name, key string) bool {
	seen, err := set.Seen(ctx, key)
	if err != nil {
		p.log.Warn("recent set lookup failed", logger.F("set", name), logger.Err(err))
		return false
	}
	if seen {
		p.metrics.RecordSuppressed(name)
		p.log.Debug("repeated event suppressed", logger.F("set", name), logger.F("key", key))
	}
	return seen
}

func (p *Pipeline) publish(ctx context.Context, event *models.ScanEvent) {
	if p.sink == nil {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()

		if err := p.sink.Publish(pctx, event); err != nil {
			p.log.WithContext(ctx).Error("failed to publish scan event",
				logger.F("address", event.TokenAddress),
				logger.Err(err),
			)
		}
	}()
}

// Wait blocks until in-flight publishes finish
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
