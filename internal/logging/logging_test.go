package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		env   string
		level string
		want  zerolog.Level
	}{
		{"production", "", zerolog.InfoLevel},
		{"local", "", zerolog.DebugLevel},
		{"development", "", zerolog.DebugLevel},
		{"production", "warn", zerolog.WarnLevel},
		{"production", "ERROR", zerolog.ErrorLevel},
		{"local", "nonsense", zerolog.DebugLevel},
	}
	for _, tc := range testCases {
		t.Run(tc.env+"/"+tc.level, func(t *testing.T) {
			if got := ParseLevel(tc.env, tc.level); got != tc.want {
				t.Errorf("ParseLevel(%q, %q) = %v, want %v", tc.env, tc.level, got, tc.want)
			}
		})
	}
}

func TestSetupProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", "", &buf)

	logger.Info().Int("channel", 2).Msg("irrigation started")
	logger.Debug().Msg("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one line at info level, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry["message"] != "irrigation started" || entry["channel"] != float64(2) {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestSetupLocalWritesConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("local", "", &buf)

	logger.Debug().Msg("valve changed")
	if !strings.Contains(buf.String(), "valve changed") {
		t.Errorf("Expected debug line in console output, got %q", buf.String())
	}
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("local output should not be JSON: %q", buf.String())
	}
}
