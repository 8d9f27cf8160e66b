package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
	"github.com/lugondev/go-chat-relay-web3/internal/config"
	"github.com/lugondev/go-chat-relay-web3/internal/dispatch"
	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	intRedis "github.com/lugondev/go-chat-relay-web3/internal/redis"
	"github.com/lugondev/go-chat-relay-web3/internal/webhook"
	"github.com/lugondev/go-chat-relay-web3/internal/websocket"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// probe connects to the gateway and logs what the relay would do with every
// message without delivering or publishing anything.

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	gatewayURL = flag.String("gateway", "", "Override the gateway URL")
	broadcast  = flag.Bool("broadcast", false, "Also log scan events broadcast by running relays over Redis")
)

func main() {
	flag.Parse()

	if *gatewayURL != "" {
		os.Setenv("GATEWAY_URL", *gatewayURL)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", logger.Err(err))
	}

	log := logger.New(logger.Config{Level: logger.LevelDebug, Format: "text", AppName: "probe"})
	logger.SetGlobal(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := websocket.NewClient(websocket.Config{
		URL:            cfg.Gateway.URL,
		Token:          cfg.Gateway.Token,
		MaxRetries:     cfg.Gateway.MaxRetries,
		RequestTimeout: cfg.Gateway.RequestTimeout,
	}, nil, log)

	pipeline := classify.New(classify.Config{}, logger.Nop())
	matcher := listener.NewMatcher(cfg.Listeners, listener.NewLinkDetector(cfg.Messages.AllowedEmbeds), gateway, log)

	gateway.SetHandler(func(msg *models.Message) {
		inspect(ctx, log, pipeline, matcher, msg)
	})

	if *broadcast {
		if stop := watchBroadcast(ctx, cfg, log); stop != nil {
			defer stop()
		}
	}

	if err := gateway.Start(ctx); err != nil {
		log.Fatal("failed to connect to gateway", logger.Err(err))
	}
	defer gateway.Close()

	log.Info("probe running, press Ctrl+C to stop", logger.F("gateway", cfg.Gateway.URL))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal, shutting down", logger.F("signal", sig.String()))
}

func inspect(ctx context.Context, log logger.Logger, pipeline *classify.Pipeline, matcher *listener.Matcher, msg *models.Message) {
	ctx = logger.ContextWithMessage(ctx, msg.ChatID, msg.ID)
	log = log.WithContext(ctx)

	if msg.Sender == nil || msg.Chat == nil {
		log.Warn("message without sender or chat")
		return
	}

	log.Info("message",
		logger.F("sender", msg.Sender.DisplayName()),
		logger.F("chat", msg.Chat.Title),
		logger.F("topology", listener.TopologyOf(msg.Chat).String()),
		logger.F("text", msg.Text),
	)

	if event, ok := pipeline.Build(classify.Input{
		ChatID:     msg.ChatID,
		SenderName: msg.Sender.DisplayName(),
		ChatName:   msg.Chat.Title,
		Message:    msg,
		Hint:       classify.Fixed(models.ScanTypeScan),
	}); ok {
		log.Info("would publish scan",
			logger.F("type", event.Type),
			logger.F("chain", event.Chain),
			logger.F("address", event.TokenAddress),
		)
	}

	for _, dec := range matcher.Match(ctx, msg) {
		delivery, skip := dispatch.Compose(msg, &dec)
		if delivery == nil {
			log.Info("listener would skip", logger.F("listener", dec.Rule.Label()), logger.F("reason", skip))
			continue
		}
		log.Info("listener would deliver",
			logger.F("listener", dec.Rule.Label()),
			logger.F("webhook", webhook.Key(delivery.Webhook)),
			logger.F("username", delivery.Payload.Username),
			logger.F("content", delivery.Payload.Content),
			logger.F("embeds", len(delivery.Payload.Embeds)),
			logger.F("forward_to", dec.Rule.ForwardTo),
		)
	}
}

// watchBroadcast subscribes to the scan broadcast channel and logs what other
// relays publish. It returns nil when Redis is unavailable.
func watchBroadcast(ctx context.Context, cfg *config.Config, log logger.Logger) func() {
	rc, err := intRedis.NewClient(intRedis.Config{
		Host:      cfg.Redis.Host,
		Port:      cfg.Redis.Port,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	}, log)
	if err != nil {
		log.Error("broadcast watch disabled", logger.Err(err))
		return nil
	}

	ps := intRedis.NewPubSub(rc, "probe-"+uuid.NewString()[:8], log)
	ps.RegisterHandler(intRedis.ScanChannel(), func(msg *intRedis.PubSubMessage) {
		event, err := msg.ScanEvent()
		if err != nil {
			log.Warn("undecodable broadcast", logger.Err(err))
			return
		}
		log.Info("scan broadcast",
			logger.F("from_instance", msg.InstanceID),
			logger.F("type", event.Type),
			logger.F("chain", event.Chain),
			logger.F("address", event.TokenAddress),
		)
	})

	if err := ps.Subscribe(ctx, intRedis.ScanChannel()); err != nil {
		log.Error("broadcast subscribe failed", logger.Err(err))
		_ = rc.Close()
		return nil
	}
	if err := ps.Start(ctx); err != nil {
		log.Error("broadcast listener failed", logger.Err(err))
	}

	return func() {
		_ = ps.Close()
		_ = rc.Close()
	}
}
