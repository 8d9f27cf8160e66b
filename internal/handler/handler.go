package handler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
	"github.com/lugondev/go-chat-relay-web3/internal/dispatch"
	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// Drop reasons recorded for messages that never reach the matcher
const (
	DropQueueFull   = "queue_full"
	DropNoSender    = "no_sender"
	DropNoChat      = "no_chat"
	DropBlacklisted = "blacklisted"
	DropStopped     = "stopped"
)

// Router delivers one matched decision. *dispatch.Dispatcher implements it.
type Router interface {
	Dispatch(ctx context.Context, msg *models.Message, dec *listener.Decision) error
	Forward(ctx context.Context, msg *models.Message, dec *listener.Decision) error
}

// Config holds message handler configuration
type Config struct {
	QueueSize       int
	Blacklist       []string
	ShutdownTimeout time.Duration
}

// MessageHandler consumes inbound chat messages in arrival order and routes
// them to the listeners that accept them.
type MessageHandler struct {
	matcher    *listener.Matcher
	router     Router
	classifier dispatch.Classifier
	metrics    *metrics.Metrics
	log        logger.Logger

	blacklist map[string]struct{}
	timeout   time.Duration

	queue      chan *models.Message
	workerDone chan struct{}
	inflight   sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

// New creates a new message handler. classifier may be nil.
func New(cfg Config, matcher *listener.Matcher, router Router, classifier dispatch.Classifier, m *metrics.Metrics, log logger.Logger) *MessageHandler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, id := range cfg.Blacklist {
		if id = strings.TrimSpace(id); id != "" {
			blacklist[id] = struct{}{}
		}
	}

	return &MessageHandler{
		matcher:    matcher,
		router:     router,
		classifier: classifier,
		metrics:    m,
		log:        log.With(logger.F("component", "message_handler")),
		blacklist:  blacklist,
		timeout:    cfg.ShutdownTimeout,
		queue:      make(chan *models.Message, cfg.QueueSize),
		workerDone: make(chan struct{}),
	}
}

// Start launches the worker. Messages are processed one at a time so that
// listeners see them in the order the gateway delivered them.
func (h *MessageHandler) Start(ctx context.Context) {
	h.log.Info("starting message worker", logger.F("queue_size", cap(h.queue)))

	go func() {
		defer close(h.workerDone)
		h.worker(ctx)
	}()
}

// Stop closes the queue, lets the worker drain it and waits for in-flight
// deliveries, giving up after the shutdown timeout.
func (h *MessageHandler) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	close(h.queue)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-h.workerDone
		h.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("message handler stopped")
	case <-time.After(h.timeout):
		h.log.Warn("timeout waiting for message handler to stop",
			logger.F("pending", len(h.queue)),
		)
	}
}

func (h *MessageHandler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-h.queue:
			if !ok {
				return
			}
			h.metrics.SetQueueDepth(len(h.queue))
			h.Process(ctx, msg)
		}
	}
}

// Handle enqueues a message without blocking. It returns false when the
// message was dropped because the queue is full or the handler stopped.
func (h *MessageHandler) Handle(msg *models.Message) bool {
	if msg == nil {
		return false
	}
	h.metrics.RecordReceived()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.stopped {
		h.metrics.RecordDropped(DropStopped)
		return false
	}

	select {
	case h.queue <- msg:
		h.metrics.SetQueueDepth(len(h.queue))
		return true
	default:
		h.metrics.RecordDropped(DropQueueFull)
		h.log.Warn("message queue full, dropping message",
			logger.F("chat_id", msg.ChatID),
			logger.F("message_id", msg.ID),
		)
		return false
	}
}

// Process runs the full routing flow for one message on the calling
// goroutine. Per-listener deliveries run asynchronously; forwards do not.
func (h *MessageHandler) Process(ctx context.Context, msg *models.Message) {
	ctx = logger.ContextWithMessage(ctx, msg.ChatID, msg.ID)
	log := h.log.WithContext(ctx)

	if msg.Sender == nil {
		h.metrics.RecordDropped(DropNoSender)
		log.Debug("message has no sender, dropping")
		return
	}
	if msg.Chat == nil {
		h.metrics.RecordDropped(DropNoChat)
		log.Debug("message has no chat, dropping")
		return
	}

	ids := msg.Sender.Identities()
	if h.blacklisted(ids) {
		h.metrics.RecordDropped(DropBlacklisted)
		log.Info("sender is blacklisted, ignoring message",
			logger.F("sender", strings.Join(ids, " or ")),
		)
		return
	}

	if !msg.Chat.IsLinked() && !msg.Sender.Bot && h.classifier != nil {
		h.classifier.Classify(ctx, classify.Input{
			ChatID:     msg.ChatID,
			SenderName: msg.Sender.DisplayName(),
			ChatName:   msg.Chat.Title,
			Message:    msg,
			Hint:       classify.Fixed(models.ScanTypeScan),
		})
	}

	candidates := h.matcher.Prefilter(msg)
	if len(candidates) == 0 {
		return
	}

	decisions := h.matcher.Resolve(ctx, msg, candidates)
	if len(decisions) == 0 {
		log.Debug("no listener accepted message", logger.F("candidates", len(candidates)))
		return
	}

	for i := range decisions {
		dec := &decisions[i]

		h.inflight.Add(1)
		go func() {
			defer h.inflight.Done()
			// delivery outlives worker cancellation so Stop can drain it
			_ = h.router.Dispatch(context.WithoutCancel(ctx), msg, dec)
		}()

		_ = h.router.Forward(ctx, msg, dec)
	}
}

func (h *MessageHandler) blacklisted(ids []string) bool {
	for _, id := range ids {
		if _, ok := h.blacklist[id]; ok {
			return true
		}
	}
	return false
}
