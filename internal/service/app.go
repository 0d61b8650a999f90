package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/prite36/multichannel-irrigation/internal/config"
	"github.com/prite36/multichannel-irrigation/internal/gpio"
	"github.com/prite36/multichannel-irrigation/internal/history"
	"github.com/prite36/multichannel-irrigation/internal/irrigation"
	"github.com/prite36/multichannel-irrigation/internal/logging"
	"github.com/prite36/multichannel-irrigation/internal/metrics"
	"github.com/prite36/multichannel-irrigation/internal/mqtt"
	"github.com/prite36/multichannel-irrigation/internal/scheduler"
	"github.com/prite36/multichannel-irrigation/internal/server"
	"github.com/prite36/multichannel-irrigation/internal/slack"
	"github.com/prite36/multichannel-irrigation/internal/storage"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	device   *Device
	output   gpio.Writer
	redis    *storage.RedisStore
	db       *gorm.DB
	metrics  *metrics.Metrics
	notifier *slack.Notifier
	mqtt     *mqtt.Client
	bridge   *mqtt.Bridge
	driver   *scheduler.Driver
	server   *http.Server

	cancel context.CancelFunc
}

// NewApp wires every component from cfg. Optional integrations (history,
// MQTT, Slack) are skipped when they are not configured.
func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.Setup(cfg.App.Env, cfg.App.LogLevel)
	return newApp(cfg, logger)
}

func newApp(cfg *config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	pins, err := cfg.ChannelPins()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	docs, err := a.openStorage()
	if err != nil {
		return nil, err
	}
	if a.output, err = a.openOutput(pins); err != nil {
		return nil, err
	}

	ctrl, err := irrigation.New(cfg.Limits(len(pins)), a.output, docs,
		irrigation.WithLocation(loc),
		irrigation.WithLogger(logger.With().Str("component", "controller").Logger()),
		irrigation.WithScheduleKey(cfg.Storage.Key),
	)
	if err != nil {
		return nil, err
	}
	a.device = NewDevice(ctrl, logger)
	if err := a.device.LoadSchedules(); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Info().Msg("no saved schedules yet")
		} else {
			logger.Warn().Err(err).Msg("failed to load schedules, running manual-only")
		}
	}

	if a.db, err = history.Connect(cfg); err != nil {
		return nil, err
	}
	var recorder *history.Recorder
	if a.db != nil {
		recorder = history.NewRecorder(a.db, logger)
		a.device.AddSink(recorder)
	}

	a.metrics = metrics.New()
	a.device.AddSink(a.metrics)

	slackClient := slack.NewClient(cfg.Slack.BotToken, cfg.Slack.ChannelID, logger)
	a.notifier = slack.NewNotifier(slackClient, logger)
	a.device.AddSink(a.notifier)

	if cfg.MQTT.Broker != "" {
		topics := mqtt.Topics{Base: cfg.MQTT.BaseTopic}
		a.mqtt, err = mqtt.NewClient(mqtt.Options{
			Broker:            cfg.MQTT.Broker,
			ClientID:          cfg.MQTT.ClientID,
			Username:          cfg.MQTT.Username,
			Password:          cfg.MQTT.Password,
			AvailabilityTopic: topics.Availability(),
		}, logger)
		if err != nil {
			return nil, err
		}
		a.bridge = mqtt.NewBridge(a.mqtt, cfg.MQTT.BaseTopic, a.device, logger)
		a.mqtt.OnConnect(a.bridge.PublishAll)
		a.device.AddSink(a.bridge)
		a.device.AddScheduleListener(a.bridge)
	} else {
		logger.Info().Msg("MQTT broker not configured, remote control disabled")
	}

	a.driver = scheduler.NewDriver(a.device, cfg.Irrigation.TickInterval, loc, a.metrics, logger)

	deps := server.Deps{
		Device:      a.device,
		Metrics:     a.metrics,
		Environment: cfg.App.Env,
		Logger:      logger,
	}
	if recorder != nil {
		deps.History = recorder
	}
	if cfg.Slack.SigningSecret != "" {
		commands := slack.NewCommandHandler(a.device, cfg.Slack.SigningSecret, logger)
		deps.SlackCommands = commands
		deps.SlackSigningSecret = cfg.Slack.SigningSecret
		deps.SlackExecutor = commands
		deps.SlackPoster = slackClient
	}
	a.server = server.New(cfg.HTTP.Addr, deps)

	return a, nil
}

func (a *App) openStorage() (irrigation.DocumentStore, error) {
	docs, redisStore, err := OpenStorage(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.redis = redisStore
	return docs, nil
}

// OpenStorage opens the configured schedule document store. The returned
// RedisStore is non-nil only for the redis backend and must be closed.
func OpenStorage(cfg *config.Config, logger zerolog.Logger) (irrigation.DocumentStore, *storage.RedisStore, error) {
	switch cfg.Storage.Backend {
	case "redis":
		store, err := storage.DialRedis(storage.RedisConfig{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
			Prefix:   cfg.Storage.RedisPrefix,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "file":
		store, err := storage.NewOSFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
}

func (a *App) openOutput(pins []int) (gpio.Writer, error) {
	switch a.cfg.Device.Driver {
	case "gpio":
		w, err := gpio.NewRealWriter(a.cfg.Device.Chip, pins, a.cfg.Device.ActiveLow)
		if err != nil {
			return nil, err
		}
		a.logger.Info().Str("chip", a.cfg.Device.Chip).Ints("pins", pins).Msg("GPIO outputs ready")
		return w, nil
	case "log":
		return gpio.NewLogWriter(len(pins), a.logger), nil
	}
	return nil, fmt.Errorf("unknown device driver: %s", a.cfg.Device.Driver)
}

// Device returns the serialized controller.
func (a *App) Device() *Device { return a.device }

// Handler returns the HTTP routes.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Start runs the application until SIGINT or SIGTERM.
func (a *App) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info().Msg("Irrigation controller started. Press Ctrl+C to stop.")
	return a.Run(ctx)
}

// Run starts every background component and blocks until ctx is done or the
// HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.notifier.Run(ctx)

	if a.bridge != nil {
		if err := a.bridge.Start(); err != nil {
			a.logger.Error().Err(err).Msg("failed to start MQTT bridge")
		}
	}
	if err := a.driver.Start(); err != nil {
		a.Stop()
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", a.server.Addr).Msg("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serverErr:
		a.logger.Error().Err(err).Msg("HTTP server failed")
	}
	a.Stop()
	return err
}

// Stop halts ticking, closes every valve and releases resources.
func (a *App) Stop() {
	a.logger.Info().Msg("Shutting down...")

	if a.driver != nil {
		a.driver.Stop()
	}
	if a.device != nil {
		if err := a.device.Stop(irrigation.StopAll()); err != nil {
			a.logger.Error().Err(err).Msg("failed to stop channels")
		}
	}
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error().Err(err).Msg("HTTP server shutdown")
		}
		cancel()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.close()

	a.logger.Info().Msg("Irrigation controller stopped")
}

func (a *App) close() {
	if a.mqtt != nil {
		if err := a.mqtt.Close(); err != nil {
			a.logger.Error().Err(err).Msg("close MQTT")
		}
		a.mqtt = nil
	}
	if a.output != nil {
		if err := a.output.Close(); err != nil {
			a.logger.Error().Err(err).Msg("close outputs")
		}
		a.output = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error().Err(err).Msg("close redis")
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := history.Close(a.db); err != nil {
			a.logger.Error().Err(err).Msg("close history database")
		}
		a.db = nil
	}
}
