package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	"github.com/lugondev/go-chat-relay-web3/internal/webhook"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

var (
	ErrNoDestination = errors.New("no webhook for decision")
	ErrNoForwarder   = errors.New("forwarding is not configured")
)

// Skip reasons reported by Compose
const (
	SkipRepliesOnly = "replies_only"
	SkipReplyingTo  = "replying_to"
	SkipEmpty       = "empty"
)

// Sender executes a webhook
type Sender interface {
	Send(ctx context.Context, url string, payload *webhook.Payload, files []models.Attachment) error
}

// Forwarder re-posts a message verbatim to another chat
type Forwarder interface {
	Forward(ctx context.Context, target string, msg *models.Message) error
}

// Classifier feeds routed messages to the scan pipeline
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) (*models.ScanEvent, bool)
}

// Config wires the dispatcher's collaborators. Forwarder and Classifier may be nil.
type Config struct {
	Sender     Sender
	Forwarder  Forwarder
	Classifier Classifier
	Metrics    *metrics.Metrics
}

// Delivery is a composed webhook execution
type Delivery struct {
	Webhook string
	Payload *webhook.Payload
	Files   []models.Attachment
}

// Dispatcher turns matched listener decisions into webhook deliveries
type Dispatcher struct {
	sender     Sender
	forwarder  Forwarder
	classifier Classifier
	metrics    *metrics.Metrics
	log        logger.Logger
}

// New creates a new dispatcher
func New(cfg Config, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		sender:     cfg.Sender,
		forwarder:  cfg.Forwarder,
		classifier: cfg.Classifier,
		metrics:    cfg.Metrics,
		log:        log.With(logger.F("component", "dispatcher")),
	}
}

// Compose builds the delivery for one decision. When the listener's reply
// constraints reject the message or there is nothing to send, it returns the
// skip reason instead.
func Compose(msg *models.Message, d *listener.Decision) (*Delivery, string) {
	r := d.Rule

	if r.RepliesOnly && d.ReplyAuthor == nil {
		return nil, SkipRepliesOnly
	}
	if len(r.ReplyingTo) > 0 && !intersects(r.ReplyingTo, d.ReplyAuthor.Identities()) {
		return nil, SkipReplyingTo
	}
	if !msg.HasContent() {
		return nil, SkipEmpty
	}

	reply := replyBlock(msg, d)
	text := content(msg, d, reply)

	payload := &webhook.Payload{
		Username: username(msg, d),
		Content:  text,
		Extra:    r.ExtraWebhookParameters,
	}

	if d.Embedding() {
		bodyEmbed := webhook.Embed{Color: r.Color(), Description: text}
		replyEmbed := webhook.Embed{Color: r.Color(), Description: reply}

		useBody := !d.EmbedReply
		if d.Topology == listener.TopologyForum {
			useBody = useBody && d.ShowReply
		}

		if !d.EmbedReply {
			payload.Content = ""
		}
		if useBody {
			payload.Embeds = []webhook.Embed{bodyEmbed}
		} else {
			payload.Embeds = []webhook.Embed{replyEmbed}
		}
	}

	return &Delivery{
		Webhook: d.Webhook(),
		Payload: payload,
		Files:   msg.Attachments,
	}, ""
}

// Dispatch delivers the message for one decision and then classifies it under
// the listener's type. A failed delivery is returned but classification still runs.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *models.Message, dec *listener.Decision) error {
	label := dec.Rule.Label()
	ctx = logger.ContextWithListener(ctx, label)
	log := d.log.WithContext(ctx)

	delivery, skip := Compose(msg, dec)
	if delivery == nil {
		log.Debug("listener skipped message", logger.F("reason", skip))
		return nil
	}

	d.metrics.RecordMatch(label, dec.Topology.String())

	err := d.deliver(ctx, label, delivery)
	if err != nil {
		log.Error("failed to deliver message", logger.Err(err))
	}

	d.classify(ctx, msg, dec)
	return err
}

func (d *Dispatcher) deliver(ctx context.Context, label string, delivery *Delivery) error {
	if delivery.Webhook == "" {
		return ErrNoDestination
	}
	if d.sender == nil {
		return fmt.Errorf("%w: no sender", ErrNoDestination)
	}

	start := time.Now()
	err := d.sender.Send(ctx, delivery.Webhook, delivery.Payload, delivery.Files)
	d.metrics.RecordDelivery(label, err, time.Since(start))
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", webhook.Key(delivery.Webhook), err)
	}
	return nil
}

func (d *Dispatcher) classify(ctx context.Context, msg *models.Message, dec *listener.Decision) {
	if d.classifier == nil {
		return
	}

	chatName := dec.Rule.Name
	if chatName == "" && msg.Chat != nil {
		chatName = msg.Chat.Title
	}

	d.classifier.Classify(ctx, classify.Input{
		ChatID:     msg.ChatID,
		SenderName: msg.Sender.DisplayName(),
		ChatName:   chatName,
		Message:    msg,
		Hint:       dec.TypeHint(),
	})
}

// Forward re-posts the raw message to the listener's forward target, if any.
// It is independent of whether the webhook delivery succeeded.
func (d *Dispatcher) Forward(ctx context.Context, msg *models.Message, dec *listener.Decision) error {
	target := dec.Rule.ForwardTo
	if target == "" {
		return nil
	}
	if d.forwarder == nil {
		d.log.WithContext(ctx).Error("cannot forward message",
			logger.F("listener", dec.Rule.Label()),
			logger.F("target", target),
			logger.Err(ErrNoForwarder),
		)
		return ErrNoForwarder
	}

	err := d.forwarder.Forward(ctx, target, msg)
	d.metrics.RecordForward(err)
	if err != nil {
		d.log.WithContext(ctx).Error("failed to forward message",
			logger.F("target", target),
			logger.Err(err),
		)
		return fmt.Errorf("forward to %s: %w", target, err)
	}
	return nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
