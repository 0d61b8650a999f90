package slack

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

func TestIsRateLimitError(t *testing.T) {
	client := &Client{}

	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "message_limit_exceeded error",
			err:      errors.New("message_limit_exceeded"),
			expected: true,
		},
		{
			name:     "rate_limited error",
			err:      errors.New("rate_limited"),
			expected: true,
		},
		{
			name:     "too_many_requests error",
			err:      errors.New("too_many_requests"),
			expected: true,
		},
		{
			name:     "typed rate limit error",
			err:      &slack.RateLimitedError{RetryAfter: time.Second},
			expected: true,
		},
		{
			name:     "other error",
			err:      errors.New("some other error"),
			expected: false,
		},
		{
			name:     "case insensitive",
			err:      errors.New("MESSAGE_LIMIT_EXCEEDED"),
			expected: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := client.isRateLimitError(tc.err)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v for error: %v", tc.expected, result, tc.err)
			}
		})
	}
}

func TestHandleRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)
	client := &Client{logger: zerolog.Nop(), now: func() time.Time { return now }}

	testCases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"message_limit_exceeded gets longer backoff", errors.New("message_limit_exceeded"), 5 * time.Minute},
		{"rate_limited gets shorter backoff", errors.New("rate_limited"), 1 * time.Minute},
		{"longer Retry-After is honoured", &slack.RateLimitedError{RetryAfter: 3 * time.Minute}, 3 * time.Minute},
		{"shorter Retry-After keeps the minimum", &slack.RateLimitedError{RetryAfter: time.Second}, 1 * time.Minute},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client.backoffUntil = time.Time{}
			client.handleRateLimit(tc.err)
			if got := client.backoffUntil.Sub(now); got != tc.want {
				t.Errorf("Expected %v backoff, got %v", tc.want, got)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	now := time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)
	client := &Client{logger: zerolog.Nop(), now: func() time.Time { return now }}

	// Initially not rate limited
	if client.IsRateLimited() {
		t.Error("Expected client to not be rate limited initially")
	}

	client.backoffUntil = now.Add(1 * time.Minute)
	if !client.IsRateLimited() {
		t.Error("Expected client to be rate limited during backoff")
	}

	// Backoff expires on its own
	now = now.Add(2 * time.Minute)
	if client.IsRateLimited() {
		t.Error("Expected client to not be rate limited after backoff ended")
	}

	var nilClient *Client
	if nilClient.IsRateLimited() || nilClient.SendMessageSafe("x") {
		t.Error("nil client must be inert")
	}
}

func TestNewClientDisabledWithoutConfig(t *testing.T) {
	if c := NewClient("", "C123", zerolog.Nop()); c != nil {
		t.Error("Expected nil client without a token")
	}
	if c := NewClient("xoxb-test", "", zerolog.Nop()); c != nil {
		t.Error("Expected nil client without a channel")
	}
}

// fakeSlackAPI records chat.postMessage calls.
type fakeSlackAPI struct {
	mu       sync.Mutex
	texts    []string
	limited  bool
	received chan string
}

func newFakeSlackAPI(t *testing.T) (*fakeSlackAPI, *httptest.Server) {
	api := &fakeSlackAPI{received: make(chan string, 10)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		api.mu.Lock()
		limited := api.limited
		api.texts = append(api.texts, r.Form.Get("text"))
		api.mu.Unlock()
		if limited {
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
		api.received <- r.Form.Get("text")
	}))
	t.Cleanup(srv.Close)
	return api, srv
}

func TestSendMessagePostsToChannel(t *testing.T) {
	api, srv := newFakeSlackAPI(t)
	client := NewClient("xoxb-test", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))

	if !client.SendMessageSafe("channel 2 started") {
		t.Fatal("message should have been sent")
	}
	select {
	case text := <-api.received:
		if !strings.Contains(text, "channel 2 started") {
			t.Errorf("unexpected fallback text: %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSendMessageBacksOffWhenLimited(t *testing.T) {
	api, srv := newFakeSlackAPI(t)
	api.limited = true
	client := NewClient("xoxb-test", "C123", zerolog.Nop(), slack.OptionAPIURL(srv.URL+"/"))

	client.SendMessage("first")
	if !client.IsRateLimited() {
		t.Fatal("Expected backoff after a 429")
	}
	client.SendMessage("second")

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.texts) != 1 {
		t.Errorf("Expected the second message to be suppressed, server saw %d", len(api.texts))
	}
}
