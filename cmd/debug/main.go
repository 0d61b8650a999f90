package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prite36/multichannel-irrigation/internal/config"
	"github.com/prite36/multichannel-irrigation/internal/gpio"
	"github.com/prite36/multichannel-irrigation/internal/irrigation"
	"github.com/prite36/multichannel-irrigation/internal/logging"
	"github.com/prite36/multichannel-irrigation/internal/scheduler"
	"github.com/prite36/multichannel-irrigation/internal/service"
)

// debug runs a single controller tick against the configured storage with
// logged outputs instead of relays, then prints the resulting status.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.Setup(cfg.App.Env, "debug")

	pins, err := cfg.ChannelPins()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid channel pins")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid timezone")
	}
	docs, redisStore, err := service.OpenStorage(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
	}
	if redisStore != nil {
		defer redisStore.Close()
	}

	out := gpio.NewLogWriter(len(pins), logger)
	ctrl, err := irrigation.New(cfg.Limits(len(pins)), out, docs,
		irrigation.WithLocation(loc),
		irrigation.WithLogger(logger),
		irrigation.WithScheduleKey(cfg.Storage.Key),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create controller")
	}
	device := service.NewDevice(ctrl, logger)
	if err := device.LoadSchedules(); err != nil {
		logger.Warn().Err(err).Msg("Schedules not loaded, running manual-only")
	}

	logger.Info().Msg("Executing one tick directly...")
	driver := scheduler.NewDriver(device, cfg.Irrigation.TickInterval, loc, nil, logger)
	driver.RunOnce()

	status := device.Status()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		logger.Error().Err(err).Msg("Failed to print status")
	}
	if next, ok := device.NextScheduledTime(); ok {
		logger.Info().Time("next", next).Dur("in", time.Until(next)).Msg("Next scheduled run")
	}

	_ = device.Stop(irrigation.StopAll())
	logger.Info().Bools("outputs", out.State()).Msg("Debug run finished.")
}
