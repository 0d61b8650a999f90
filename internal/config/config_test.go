package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func loadWithEnv(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("CONFIG_FILE", "")
	for k, v := range env {
		t.Setenv(k, v)
	}
	return LoadConfig()
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadWithEnv(t, nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.App.Env != "test" {
		t.Errorf("Expected env test, got %q", cfg.App.Env)
	}
	pins, err := cfg.ChannelPins()
	if err != nil || len(pins) != 4 {
		t.Fatalf("Expected 4 default pins, got %v (%v)", pins, err)
	}
	limits := cfg.Limits(len(pins))
	if limits.MaxSchedules != 16 || limits.DefaultDuration != 30 || limits.MaxDuration != 240 || limits.MinDuration != 1 {
		t.Errorf("unexpected limits: %+v", limits)
	}
	if cfg.Device.Chip != "gpiochip0" || cfg.Device.Pins != "17,27,22,23" {
		t.Errorf("unexpected device defaults: %+v", cfg.Device)
	}
	if limits.SafetyTimeout != 5*time.Hour {
		t.Errorf("Expected 5h safety timeout, got %v", limits.SafetyTimeout)
	}
	if cfg.Irrigation.TickInterval != time.Second {
		t.Errorf("Expected 1s tick, got %v", cfg.Irrigation.TickInterval)
	}
	if cfg.Device.Driver != "log" || cfg.Storage.Backend != "file" || cfg.Database.Backend != "none" {
		t.Errorf("unexpected backends: %+v %+v %+v", cfg.Device, cfg.Storage, cfg.Database)
	}
	if cfg.MQTT.BaseTopic != "irrigation" || cfg.HTTP.Addr != ":8080" {
		t.Errorf("unexpected adapter defaults: %+v %+v", cfg.MQTT, cfg.HTTP)
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	cfg, err := loadWithEnv(t, map[string]string{
		"GPIO_PINS":       "5, 6",
		"SAFETY_TIMEOUT":  "90m",
		"TICK_INTERVAL":   "500ms",
		"MAX_SCHEDULES":   "8",
		"STORAGE_BACKEND": "redis",
		"REDIS_DB":        "3",
		"DB_BACKEND":      "postgres",
		"DB_HOST":         "db",
		"DB_PORT":         "6543",
		"TIMEZONE":        "UTC",
		"MQTT_BASE_TOPIC": "garden",
	})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	pins, _ := cfg.ChannelPins()
	if len(pins) != 2 || pins[0] != 5 || pins[1] != 6 {
		t.Errorf("unexpected pins: %v", pins)
	}
	if cfg.Irrigation.SafetyTimeout != 90*time.Minute || cfg.Irrigation.TickInterval != 500*time.Millisecond {
		t.Errorf("unexpected durations: %+v", cfg.Irrigation)
	}
	if cfg.Irrigation.MaxSchedules != 8 || cfg.Storage.RedisDB != 3 {
		t.Errorf("unexpected ints: %+v %+v", cfg.Irrigation, cfg.Storage)
	}
	if !strings.Contains(cfg.DSN(), "host=db") || !strings.Contains(cfg.DSN(), "port=6543") {
		t.Errorf("unexpected DSN: %s", cfg.DSN())
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Expected UTC, got %v (%v)", loc, err)
	}
	if cfg.MQTT.BaseTopic != "garden" {
		t.Errorf("Expected garden base topic, got %q", cfg.MQTT.BaseTopic)
	}
}

func TestLoadConfigFileUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irrigation.yaml")
	content := "irrigation:\n  defaultduration: 20\n  maxschedules: 6\nhttp:\n  addr: \":9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("APP_ENV", "test")
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_SCHEDULES", "10")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Irrigation.DefaultDuration != 20 || cfg.HTTP.Addr != ":9000" {
		t.Errorf("file values not applied: %+v %+v", cfg.Irrigation, cfg.HTTP)
	}
	if cfg.Irrigation.MaxSchedules != 10 {
		t.Errorf("environment should override the file, got %d", cfg.Irrigation.MaxSchedules)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"bad pin", map[string]string{"GPIO_PINS": "17,x"}},
		{"duplicate pin", map[string]string{"GPIO_PINS": "17,17"}},
		{"no pins", map[string]string{"GPIO_PINS": " , "}},
		{"unknown driver", map[string]string{"DEVICE_DRIVER": "spi"}},
		{"unknown storage", map[string]string{"STORAGE_BACKEND": "s3"}},
		{"unknown database", map[string]string{"DB_BACKEND": "oracle"}},
		{"default above max", map[string]string{"DEFAULT_DURATION": "300"}},
		{"zero safety timeout", map[string]string{"SAFETY_TIMEOUT": "0s"}},
		{"safety timeout within max duration", map[string]string{"SAFETY_TIMEOUT": "4h"}},
		{"slow tick", map[string]string{"TICK_INTERVAL": "1m"}},
		{"unknown timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadWithEnv(t, tc.env); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
