// Package server exposes the controller over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
	"github.com/prite36/multichannel-irrigation/internal/metrics"
	"github.com/prite36/multichannel-irrigation/internal/models"
)

// Device is the controller surface served over HTTP.
type Device interface {
	Start(channel, durationMinutes int, source irrigation.Source) error
	Stop(target irrigation.StopTarget) error
	Status() irrigation.Status
	Limits() irrigation.Limits
	Schedule(index int) (irrigation.Schedule, error)
	Schedules() []irrigation.Schedule
	AddSchedule(channel, hour, minute, durationMinutes int, weekdays irrigation.WeekdayMask) (int, error)
	UpdateSchedule(index, channel, hour, minute, durationMinutes int, weekdays irrigation.WeekdayMask) error
	RemoveSchedule(index int) error
	SetScheduleEnabled(index int, enabled bool) error
	ClearError()
}

// HistoryReader lists recorded runs.
type HistoryReader interface {
	Recent(ctx context.Context, channel, limit int) ([]models.IrrigationHistory, error)
}

// CommandExecutor runs a chat command line and returns the reply.
type CommandExecutor interface {
	Execute(line string) (string, error)
}

// Poster sends a plain text message to the configured chat channel.
type Poster interface {
	SendMessage(message string)
}

// Deps are the collaborators of the HTTP server. Only Device is required.
type Deps struct {
	Device      Device
	History     HistoryReader
	Metrics     *metrics.Metrics
	Environment string
	Logger      zerolog.Logger

	// SlackCommands serves the /irrigate slash command.
	SlackCommands http.Handler
	// SlackSigningSecret verifies Events API requests.
	SlackSigningSecret string
	SlackExecutor      CommandExecutor
	SlackPoster        Poster
}

type StatusResponse struct {
	Environment string `json:"environment"`
	Status      string `json:"status"`
}

// NewRouter builds the routes.
func NewRouter(d Deps) http.Handler {
	h := &handlers{
		device:  d.Device,
		history: d.History,
		env:     d.Environment,
		logger:  d.Logger.With().Str("component", "http").Logger(),
	}
	if h.env == "" {
		h.env = "development"
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Get("/", h.root)
	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Delete("/status/error", h.clearError)
		r.Post("/stop", h.stopAll)
		r.Post("/channels/{channel}/start", h.startChannel)
		r.Post("/channels/{channel}/stop", h.stopChannel)

		r.Get("/schedules", h.listSchedules)
		r.Post("/schedules", h.addSchedule)
		r.Get("/schedules/{index}", h.getSchedule)
		r.Put("/schedules/{index}", h.updateSchedule)
		r.Delete("/schedules/{index}", h.removeSchedule)
		r.Post("/schedules/{index}/enable", h.enableSchedule(true))
		r.Post("/schedules/{index}/disable", h.enableSchedule(false))

		if d.History != nil {
			r.Get("/history", h.listHistory)
		}
	})

	if d.SlackCommands != nil {
		r.Method(http.MethodPost, "/slack/commands", d.SlackCommands)
	}
	if d.SlackSigningSecret != "" {
		r.Post("/slack/events", SlackEventsHandler(d.SlackSigningSecret, d.SlackExecutor, d.SlackPoster, h.logger))
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	})
	return c.Handler(r)
}

// New creates a new HTTP server and sets up the routes.
func New(addr string, d Deps) *http.Server {
	d.Logger.Info().Str("addr", addr).Msg("API server configured")
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
