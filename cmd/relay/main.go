package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lugondev/go-chat-relay-web3/internal/classify"
	"github.com/lugondev/go-chat-relay-web3/internal/config"
	"github.com/lugondev/go-chat-relay-web3/internal/dedupe"
	"github.com/lugondev/go-chat-relay-web3/internal/dispatch"
	"github.com/lugondev/go-chat-relay-web3/internal/handler"
	"github.com/lugondev/go-chat-relay-web3/internal/listener"
	"github.com/lugondev/go-chat-relay-web3/internal/logger"
	"github.com/lugondev/go-chat-relay-web3/internal/metrics"
	intRedis "github.com/lugondev/go-chat-relay-web3/internal/redis"
	"github.com/lugondev/go-chat-relay-web3/internal/sink"
	"github.com/lugondev/go-chat-relay-web3/internal/telegram"
	"github.com/lugondev/go-chat-relay-web3/internal/web"
	"github.com/lugondev/go-chat-relay-web3/internal/webhook"
	"github.com/lugondev/go-chat-relay-web3/internal/websocket"
	"github.com/lugondev/go-chat-relay-web3/pkg/models"
)

// Flags
var (
	configPath  = flag.String("config", "configs/config.yaml", "Path to configuration file")
	enableAdmin = flag.Bool("admin", false, "Enable the admin HTTP server")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

// Application holds all application components
type Application struct {
	cfg        *config.Config
	log        logger.Logger
	metrics    *metrics.Metrics
	instanceID string

	redisClient *intRedis.Client
	pubsub      *intRedis.PubSub
	natsSink    *sink.NATSSink
	sinks       *sink.Multi
	pipeline    *classify.Pipeline
	handler     *handler.MessageHandler
	gateway     *websocket.Client
	adminServer *web.Server
}

func main() {
	flag.Parse()

	if v := os.Getenv("CONFIG_PATH"); v != "" {
		*configPath = v
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", logger.Err(err))
	}
	if *enableAdmin {
		cfg.Admin.Enabled = true
		if err := cfg.Validate(); err != nil {
			logger.Fatal("invalid admin configuration", logger.Err(err))
		}
	}

	log := initLogger(cfg)
	log.Info("starting chat relay",
		logger.F("app", cfg.App.Name),
		logger.F("env", cfg.App.Environment),
		logger.F("listeners", len(cfg.Listeners)),
		logger.F("admin_enabled", cfg.Admin.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &Application{
		cfg:        cfg,
		log:        log,
		metrics:    metrics.New(cfg.Metrics.Namespace),
		instanceID: uuid.NewString(),
	}

	if err := app.initialize(ctx); err != nil {
		log.Fatal("failed to initialize application", logger.Err(err))
	}

	if err := app.start(ctx); err != nil {
		log.Fatal("failed to start application", logger.Err(err))
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdown
	log.Info("shutdown signal received", logger.F("signal", sig.String()))

	app.shutdown(cancel)
}

// initialize builds every component from configuration
func (app *Application) initialize(ctx context.Context) error {
	cfg := app.cfg
	log := app.log

	if cfg.Redis.Enabled {
		rc, err := intRedis.NewClient(intRedis.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		}, log)
		if err != nil {
			return err
		}
		app.redisClient = rc
		app.pubsub = intRedis.NewPubSub(rc, app.instanceID, log)
	}

	app.gateway = websocket.NewClient(websocket.Config{
		URL:               cfg.Gateway.URL,
		Token:             cfg.Gateway.Token,
		ReconnectInterval: cfg.Gateway.ReconnectInterval,
		MaxRetries:        cfg.Gateway.MaxRetries,
		PingInterval:      cfg.Gateway.PingInterval,
		PongTimeout:       cfg.Gateway.PongTimeout,
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		ReadTimeout:       cfg.Gateway.ReadTimeout,
		RequestTimeout:    cfg.Gateway.RequestTimeout,
	}, app.metrics, log)

	app.sinks = sink.NewMulti(app.buildSinks(), app.metrics, log)

	pipelineCfg := classify.Config{
		Metrics:        app.metrics,
		PublishTimeout: cfg.Sink.PublishTimeout,
	}
	if app.sinks.Count() > 0 {
		pipelineCfg.Sink = app.sinks
	} else {
		log.Warn("no scan sinks configured, classifications are only logged")
	}
	if cfg.Dedupe.Enabled {
		pipelineCfg.Scans, pipelineCfg.Trades = app.recentSets()
	}
	app.pipeline = classify.New(pipelineCfg, log)

	dispatcher := dispatch.New(dispatch.Config{
		Sender:     webhook.NewClient(app.webhookConfig(), app.webhookLimiter(), log),
		Forwarder:  app.gateway,
		Classifier: app.pipeline,
		Metrics:    app.metrics,
	}, log)

	var topics listener.TopicResolver = app.gateway
	if app.redisClient != nil {
		topics = intRedis.NewTopicCache(app.redisClient, app.gateway, cfg.Redis.TopicCacheTTL, log)
	}
	matcher := listener.NewMatcher(cfg.Listeners, listener.NewLinkDetector(cfg.Messages.AllowedEmbeds), topics, log)

	app.handler = handler.New(handler.Config{
		QueueSize:       cfg.Messages.QueueSize,
		Blacklist:       cfg.Messages.Blacklist,
		ShutdownTimeout: cfg.App.ShutdownTimeout,
	}, matcher, dispatcher, app.pipeline, app.metrics, log)

	app.gateway.SetHandler(func(msg *models.Message) {
		app.handler.Handle(msg)
	})

	if cfg.Admin.Enabled {
		deps := web.Deps{
			Rules:     cfg.Listeners,
			Sinks:     app.sinks.Names(),
			Previewer: app.pipeline,
			Metrics:   app.metrics.Handler(),
			Gateway:   app.gateway,
		}
		if app.redisClient != nil {
			deps.Checks = map[string]web.HealthChecker{"redis": app.redisClient}
		}
		srv, err := web.NewServer(web.Config{
			Port:      cfg.Admin.Port,
			JWTSecret: cfg.Admin.JWTSecret,
			AccessLog: *debug,
		}, deps, log)
		if err != nil {
			return err
		}
		app.adminServer = srv
	}

	log.Info("relay components initialized",
		logger.F("instance_id", app.instanceID),
		logger.F("sinks", app.sinks.Names()),
		logger.F("redis", app.redisClient != nil),
	)

	return nil
}

// buildSinks returns the configured scan sinks in publish order
func (app *Application) buildSinks() []sink.Named {
	cfg := app.cfg
	var sinks []sink.Named

	if cfg.Sink.History.Enabled {
		sinks = append(sinks, sink.Named{Name: "history", Sink: sink.NewHTTPSink(sink.HTTPConfig{
			BaseURL:    cfg.Sink.History.URL,
			Timeout:    cfg.Sink.History.Timeout,
			RetryCount: cfg.Sink.History.RetryCount,
		}, app.log)})
	}

	if cfg.Sink.NATS.Enabled {
		ns, err := sink.ConnectNATS(sink.NATSConfig{
			URL:           cfg.Sink.NATS.URL,
			SubjectPrefix: cfg.Sink.NATS.SubjectPrefix,
			Name:          cfg.App.Name + "-" + app.instanceID[:8],
		}, app.log)
		if err != nil {
			app.log.Error("nats sink disabled", logger.Err(err))
		} else {
			app.natsSink = ns
			sinks = append(sinks, sink.Named{Name: "nats", Sink: ns})
		}
	}

	if cfg.Sink.RedisBroadcast && app.pubsub != nil {
		sinks = append(sinks, sink.Named{Name: "redis", Sink: app.pubsub})
	}

	if cfg.IsTelegramEnabled() {
		sinks = append(sinks, sink.Named{Name: "telegram", Sink: telegram.NewNotifier(telegram.Config{
			BotToken:   cfg.Sink.Telegram.BotToken,
			ChatID:     cfg.Sink.Telegram.ChatID,
			RateLimit:  cfg.Sink.Telegram.RateLimit,
			Timeout:    cfg.Sink.Telegram.Timeout,
			RetryCount: cfg.Sink.Telegram.RetryCount,
		}, app.log)})
	}

	return sinks
}

// recentSets builds the scan and trade suppression sets for the configured backend
func (app *Application) recentSets() (dedupe.RecentSet, dedupe.RecentSet) {
	cfg := app.cfg.Dedupe
	if cfg.Backend == config.BackendRedis && app.redisClient != nil {
		return intRedis.NewRecentSet(app.redisClient, "scans", cfg.ScanCapacity, app.log),
			intRedis.NewRecentSet(app.redisClient, "trades", cfg.TradeCapacity, app.log)
	}
	return dedupe.NewMemorySet(cfg.ScanCapacity), dedupe.NewMemorySet(cfg.TradeCapacity)
}

func (app *Application) webhookConfig() webhook.Config {
	wc := webhook.DefaultConfig()
	cfg := app.cfg.Webhook
	if cfg.Timeout > 0 {
		wc.Timeout = cfg.Timeout
	}
	if cfg.RetryCount > 0 {
		wc.RetryCount = cfg.RetryCount
	}
	if cfg.Backoff > 0 {
		wc.Backoff = cfg.Backoff
	}
	if cfg.MaxRetryAfter > 0 {
		wc.MaxRetryAfter = cfg.MaxRetryAfter
	}
	return wc
}

// webhookLimiter shares the per-webhook budget across instances when Redis is available
func (app *Application) webhookLimiter() webhook.Limiter {
	if !app.cfg.IsWebhookRateLimited() {
		return nil
	}
	cfg := app.cfg.Webhook
	if app.redisClient != nil {
		return intRedis.NewRateLimiter(app.redisClient, cfg.RateLimit, cfg.RateWindow, app.log)
	}
	return webhook.NewLocalLimiter(cfg.RateLimit, cfg.RateWindow)
}

// start starts all components
func (app *Application) start(ctx context.Context) error {
	if app.pubsub != nil {
		app.pubsub.RegisterHandler(intRedis.HeartbeatChannel(), func(msg *intRedis.PubSubMessage) {
			app.log.Debug("heartbeat from another instance", logger.F("from_instance", msg.InstanceID))
		})
		if err := app.pubsub.Subscribe(ctx, intRedis.HeartbeatChannel()); err != nil {
			app.log.Warn("failed to subscribe to redis channels", logger.Err(err))
		} else if err := app.pubsub.Start(ctx); err != nil {
			app.log.Warn("failed to start pubsub listener", logger.Err(err))
		}
		go app.pubsub.RunHeartbeat(ctx, app.cfg.Redis.HeartbeatInterval)
	}

	app.handler.Start(ctx)

	if err := app.gateway.Start(ctx); err != nil {
		return err
	}

	if app.adminServer != nil {
		go func() {
			if err := app.adminServer.Start(); err != nil {
				app.log.Error("admin server error", logger.Err(err))
			}
		}()
	}

	app.log.Info("application started successfully")
	return nil
}

// shutdown stops intake first, then drains deliveries and publishes
func (app *Application) shutdown(cancel context.CancelFunc) {
	app.log.Info("starting graceful shutdown")

	timeout := app.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := app.gateway.Close(); err != nil {
		app.log.Error("error closing gateway", logger.Err(err))
	}

	app.handler.Stop()
	cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.pipeline.Wait()
	}()

	if app.adminServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.adminServer.Shutdown(shutdownCtx); err != nil {
				app.log.Error("error shutting down admin server", logger.Err(err))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		app.log.Warn("shutdown timeout, dropping pending publishes")
	}

	if app.natsSink != nil {
		if err := app.natsSink.Close(); err != nil {
			app.log.Error("error closing nats", logger.Err(err))
		}
	}
	if app.pubsub != nil {
		if err := app.pubsub.Close(); err != nil {
			app.log.Error("error closing pubsub", logger.Err(err))
		}
	}
	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.log.Error("error closing redis client", logger.Err(err))
		}
	}

	app.log.Info("graceful shutdown completed")
}

// initLogger initializes the logger based on configuration
func initLogger(cfg *config.Config) logger.Logger {
	output, err := logger.OpenOutput(cfg.Logger.Output)
	if err != nil {
		logger.Fatal("failed to open log output", logger.Err(err), logger.F("output", cfg.Logger.Output))
	}

	level := logger.ParseLevel(cfg.Logger.Level)
	if *debug || os.Getenv("DEBUG") == "true" {
		level = logger.LevelDebug
	}

	log := logger.New(logger.Config{
		Level:      level,
		Format:     cfg.Logger.Format,
		Output:     output,
		TimeFormat: cfg.Logger.TimeFormat,
		AppName:    cfg.App.Name,
	})

	logger.SetGlobal(log)
	return log
}
