package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

// Controller is the part of the device a slash command can drive.
type Controller interface {
	Start(channel, durationMinutes int, source irrigation.Source) error
	Stop(target irrigation.StopTarget) error
	Status() irrigation.Status
	Limits() irrigation.Limits
}

// CommandHandler serves the /irrigate slash command.
type CommandHandler struct {
	ctrl          Controller
	signingSecret string
	logger        zerolog.Logger
}

func NewCommandHandler(ctrl Controller, signingSecret string, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		ctrl:          ctrl,
		signingSecret: signingSecret,
		logger:        logger.With().Str("component", "slack-command").Logger(),
	}
}

const usage = "Usage: `/irrigate status`, `/irrigate start <channel> [minutes]`, `/irrigate stop [channel]`"

// ServeHTTP verifies the request signature, runs the command and replies
// ephemerally.
func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		h.logger.Warn().Err(err).Msg("rejecting unsigned slash command")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	r.Body = io.NopCloser(io.TeeReader(r.Body, &verifier))
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := verifier.Ensure(); err != nil {
		h.logger.Warn().Err(err).Msg("slash command signature mismatch")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	h.logger.Info().Str("user", cmd.UserName).Str("text", cmd.Text).Msg("slash command")
	text, err := h.Execute(cmd.Text)
	if err != nil {
		text = fmt.Sprintf("Error: %v\n%s", err, usage)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&slack.Msg{ResponseType: slack.ResponseTypeEphemeral, Text: text})
}

// Execute runs one command line and returns the reply text.
func (h *CommandHandler) Execute(line string) (string, error) {
	args := strings.Fields(strings.ToLower(line))
	if len(args) == 0 {
		args = []string{"status"}
	}
	switch args[0] {
	case "status":
		return StatusText(h.ctrl.Status()), nil
	case "help":
		return usage, nil
	case "start":
		if len(args) < 2 || len(args) > 3 {
			return "", errors.New("start takes a channel and optional minutes")
		}
		channel, err := strconv.Atoi(args[1])
		if err != nil {
			return "", fmt.Errorf("invalid channel %q", args[1])
		}
		minutes := h.ctrl.Limits().DefaultDuration
		if len(args) == 3 {
			if minutes, err = strconv.Atoi(args[2]); err != nil {
				return "", fmt.Errorf("invalid minutes %q", args[2])
			}
		}
		if err := h.ctrl.Start(channel, minutes, irrigation.SourceRemote); err != nil {
			return "", err
		}
		return fmt.Sprintf("Channel %d started.\n%s", channel, StatusText(h.ctrl.Status())), nil
	case "stop":
		target := irrigation.StopAll()
		if len(args) == 2 {
			channel, err := strconv.Atoi(args[1])
			if err != nil {
				return "", fmt.Errorf("invalid channel %q", args[1])
			}
			if channel != 0 {
				target = irrigation.StopChannel(channel)
			}
		} else if len(args) > 2 {
			return "", errors.New("stop takes at most a channel")
		}
		if err := h.ctrl.Stop(target); err != nil {
			return "", err
		}
		return fmt.Sprintf("Stopped %s.", target), nil
	}
	return "", fmt.Errorf("unknown command %q", args[0])
}
