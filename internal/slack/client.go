package slack

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

// Client wraps the slack client
type Client struct {
	api       *slack.Client
	channelID string
	logger    zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	backoffUntil time.Time
}

// NewClient creates a new slack client. It returns nil when Slack is not
// configured; every method is safe to call on a nil client.
func NewClient(token, channelID string, logger zerolog.Logger, options ...slack.Option) *Client {
	logger = logger.With().Str("component", "slack").Logger()
	if token == "" || channelID == "" {
		logger.Info().Msg("Slack token or channel ID is not configured, notifications disabled")
		return nil
	}
	return &Client{
		api:       slack.New(token, options...),
		channelID: channelID,
		logger:    logger,
		now:       time.Now,
	}
}

// SendMessage sends a simple text message wrapped as an info block.
func (c *Client) SendMessage(message string) {
	if c == nil || c.api == nil {
		return
	}
	c.SendRichMessage(NewInfoMessage("Irrigation", message))
}

// SendRichMessage sends a message using block kit options with rate limit
// handling. Messages are dropped while a backoff is in effect.
func (c *Client) SendRichMessage(options ...slack.MsgOption) {
	if c == nil || c.api == nil {
		return
	}
	if c.IsRateLimited() {
		c.logger.Debug().Msg("skipping Slack message due to rate limit backoff")
		return
	}

	_, _, err := c.api.PostMessage(c.channelID, options...)
	if err != nil {
		if c.isRateLimitError(err) {
			c.handleRateLimit(err)
		} else {
			c.logger.Error().Err(err).Msg("failed to send Slack message")
		}
	}
}

// isRateLimitError checks if the error is related to rate limiting
func (c *Client) isRateLimitError(err error) bool {
	var limited *slack.RateLimitedError
	if errors.As(err, &limited) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "rate_limited") ||
		strings.Contains(errStr, "message_limit_exceeded") ||
		strings.Contains(errStr, "too_many_requests")
}

// handleRateLimit suspends sending for a backoff period. Slack's own
// Retry-After is honoured when it asks for longer.
func (c *Client) handleRateLimit(err error) {
	backoff := 1 * time.Minute
	if strings.Contains(strings.ToLower(err.Error()), "message_limit_exceeded") {
		backoff = 5 * time.Minute
	}
	var limited *slack.RateLimitedError
	if errors.As(err, &limited) && limited.RetryAfter > backoff {
		backoff = limited.RetryAfter
	}

	c.mu.Lock()
	c.backoffUntil = c.clock().Add(backoff)
	c.mu.Unlock()
	c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Slack rate limit detected, suppressing messages")
}

// IsRateLimited returns true if the client is currently in a rate limit backoff period
func (c *Client) IsRateLimited() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock().Before(c.backoffUntil)
}

// SendMessageSafe sends a message only if not rate limited, returns true if sent
func (c *Client) SendMessageSafe(message string) bool {
	if c == nil || c.IsRateLimited() {
		return false
	}
	c.SendMessage(message)
	return true
}

// SendRichMessageSafe sends a rich message only if not rate limited, returns true if sent
func (c *Client) SendRichMessageSafe(options ...slack.MsgOption) bool {
	if c == nil || c.IsRateLimited() {
		return false
	}
	c.SendRichMessage(options...)
	return true
}

func (c *Client) clock() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
