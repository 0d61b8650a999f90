package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// SlackEventsHandler creates a new http.HandlerFunc for handling Slack events.
// It verifies the request signature using the signing secret. Mentions of the
// bot are run as commands and answered in the notification channel.
func SlackEventsHandler(signingSecret string, executor CommandExecutor, poster Poster, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		verifier, err := slack.NewSecretsVerifier(r.Header, signingSecret)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create secrets verifier")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error().Err(err).Msg("failed to read request body")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		if _, err := verifier.Write(body); err != nil {
			logger.Error().Err(err).Msg("failed to write body to verifier")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if err := verifier.Ensure(); err != nil {
			logger.Warn().Err(err).Msg("invalid Slack signature")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		eventsAPIEvent, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
		if err != nil {
			logger.Error().Err(err).Msg("failed to parse Slack event")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch eventsAPIEvent.Type {
		case slackevents.URLVerification:
			var challenge *slackevents.ChallengeResponse
			if err := json.Unmarshal(body, &challenge); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(challenge.Challenge))
			logger.Info().Msg("responded to Slack URL verification challenge")
		case slackevents.CallbackEvent:
			logger.Info().Str("type", eventsAPIEvent.InnerEvent.Type).Msg("received Slack callback event")
			if mention, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent); ok && executor != nil && poster != nil {
				go replyToMention(mention.Text, executor, poster, logger)
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}
}

func replyToMention(text string, executor CommandExecutor, poster Poster, logger zerolog.Logger) {
	reply, err := executor.Execute(stripMentions(text))
	if err != nil {
		logger.Warn().Err(err).Msg("mention command failed")
		reply = "Error: " + err.Error()
	}
	poster.SendMessage(reply)
}

// stripMentions drops <@USER> tokens from a message.
func stripMentions(text string) string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "<@") && strings.HasSuffix(f, ">") {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}
