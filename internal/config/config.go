package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/prite36/multichannel-irrigation/internal/gpio"
	"github.com/prite36/multichannel-irrigation/internal/irrigation"
)

type AppConfig struct {
	Env      string
	LogLevel string
}

type DeviceConfig struct {
	// Driver selects the valve output: "gpio" for relays, "log" for a dry run.
	Driver    string
	Chip      string
	Pins      string
	ActiveLow bool
}

type IrrigationConfig struct {
	MaxSchedules    int
	MinDuration     int
	MaxDuration     int
	DefaultDuration int
	SafetyTimeout   time.Duration
	TickInterval    time.Duration
	Timezone        string
}

type StorageConfig struct {
	// Backend is "file" or "redis".
	Backend       string
	Dir           string
	Key           string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

type DatabaseConfig struct {
	// Backend is "postgres", "sqlite" or "none".
	Backend    string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

type MQTTConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	BaseTopic string
}

type SlackConfig struct {
	BotToken      string
	ChannelID     string
	SigningSecret string
}

type HTTPConfig struct {
	Addr string
}

type Config struct {
	App        AppConfig
	Device     DeviceConfig
	Irrigation IrrigationConfig
	Storage    StorageConfig
	Database   DatabaseConfig
	MQTT       MQTTConfig
	Slack      SlackConfig
	HTTP       HTTPConfig
}

var bindings = map[string]string{
	"app.env":      "APP_ENV",
	"app.loglevel": "LOG_LEVEL",

	"device.driver":    "DEVICE_DRIVER",
	"device.chip":      "GPIO_CHIP",
	"device.pins":      "GPIO_PINS",
	"device.activelow": "GPIO_ACTIVE_LOW",

	"irrigation.maxschedules":    "MAX_SCHEDULES",
	"irrigation.minduration":     "MIN_DURATION",
	"irrigation.maxduration":     "MAX_DURATION",
	"irrigation.defaultduration": "DEFAULT_DURATION",
	"irrigation.safetytimeout":   "SAFETY_TIMEOUT",
	"irrigation.tickinterval":    "TICK_INTERVAL",
	"irrigation.timezone":        "TIMEZONE",

	"storage.backend":       "STORAGE_BACKEND",
	"storage.dir":           "STORAGE_DIR",
	"storage.key":           "STORAGE_KEY",
	"storage.redisaddr":     "REDIS_ADDR",
	"storage.redispassword": "REDIS_PASSWORD",
	"storage.redisdb":       "REDIS_DB",
	"storage.redisprefix":   "REDIS_PREFIX",

	"database.backend":    "DB_BACKEND",
	"database.host":       "DB_HOST",
	"database.port":       "DB_PORT",
	"database.user":       "DB_USER",
	"database.password":   "DB_PASSWORD",
	"database.dbname":     "DB_NAME",
	"database.sslmode":    "DB_SSLMODE",
	"database.sqlitepath": "SQLITE_PATH",

	"mqtt.broker":    "MQTT_BROKER",
	"mqtt.clientid":  "MQTT_CLIENT_ID",
	"mqtt.username":  "MQTT_USERNAME",
	"mqtt.password":  "MQTT_PASSWORD",
	"mqtt.basetopic": "MQTT_BASE_TOPIC",

	"slack.bottoken":      "SLACK_BOT_TOKEN",
	"slack.channelid":     "SLACK_CHANNEL_ID",
	"slack.signingsecret": "SLACK_SIGNING_SECRET",

	"http.addr": "HTTP_ADDR",
}

func setDefaults(v *viper.Viper) {
	limits := irrigation.DefaultLimits()

	v.SetDefault("app.env", "local")
	v.SetDefault("app.loglevel", "")

	v.SetDefault("device.driver", "log")
	v.SetDefault("device.chip", gpio.DefaultChip)
	v.SetDefault("device.pins", joinPins(gpio.DefaultPins))
	v.SetDefault("device.activelow", true)

	v.SetDefault("irrigation.maxschedules", limits.MaxSchedules)
	v.SetDefault("irrigation.minduration", limits.MinDuration)
	v.SetDefault("irrigation.maxduration", limits.MaxDuration)
	v.SetDefault("irrigation.defaultduration", limits.DefaultDuration)
	v.SetDefault("irrigation.safetytimeout", limits.SafetyTimeout)
	v.SetDefault("irrigation.tickinterval", time.Second)
	v.SetDefault("irrigation.timezone", "Local")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.key", irrigation.DefaultScheduleKey)
	v.SetDefault("storage.redisaddr", "localhost:6379")
	v.SetDefault("storage.redisdb", 0)
	v.SetDefault("storage.redisprefix", "irrigation:")

	v.SetDefault("database.backend", "none")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.sqlitepath", "./data/history.db")

	v.SetDefault("mqtt.clientid", "irrigation-controller")
	v.SetDefault("mqtt.basetopic", "irrigation")

	v.SetDefault("http.addr", ":8080")
}

// LoadConfig reads configuration from the environment. When APP_ENV is
// "local" a .env.local file is read as well, and CONFIG_FILE may point at a
// YAML, JSON or TOML file that is merged underneath the environment.
func LoadConfig() (*Config, error) {
	log.Debug().Msg("loading configuration")
	v := viper.New()
	setDefaults(v)
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}

	if env == "local" {
		v.SetConfigFile(".env.local")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file .env.local: %w", err)
			}
			log.Debug().Msg(".env.local not found, relying on environment variables")
		} else {
			log.Info().Str("file", v.ConfigFileUsed()).Msg("loaded configuration file")
		}
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
		log.Info().Str("file", path).Msg("merged configuration file")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func joinPins(pins []int) string {
	parts := make([]string, len(pins))
	for i, p := range pins {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// Validate checks the values that cannot be defaulted.
func (cfg *Config) Validate() error {
	pins, err := cfg.ChannelPins()
	if err != nil {
		return err
	}
	switch cfg.Device.Driver {
	case "gpio", "log":
	default:
		return fmt.Errorf("config: unknown device driver %q", cfg.Device.Driver)
	}
	switch cfg.Storage.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("config: unknown storage backend %q", cfg.Storage.Backend)
	}
	switch cfg.Database.Backend {
	case "postgres", "sqlite", "none":
	default:
		return fmt.Errorf("config: unknown database backend %q", cfg.Database.Backend)
	}
	if cfg.Irrigation.TickInterval <= 0 || cfg.Irrigation.TickInterval > 30*time.Second {
		return fmt.Errorf("config: tick interval %v not in (0, 30s]", cfg.Irrigation.TickInterval)
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if err := cfg.Limits(len(pins)).Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ChannelPins parses the comma-separated pin list. Its length is the channel
// count.
func (cfg *Config) ChannelPins() ([]int, error) {
	var pins []int
	seen := make(map[int]bool)
	for _, field := range strings.Split(cfg.Device.Pins, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		pin, err := strconv.Atoi(field)
		if err != nil || pin < 0 {
			return nil, fmt.Errorf("config: invalid gpio pin %q", field)
		}
		if seen[pin] {
			return nil, fmt.Errorf("config: gpio pin %d used twice", pin)
		}
		seen[pin] = true
		pins = append(pins, pin)
	}
	if len(pins) == 0 {
		return nil, errors.New("config: no gpio pins configured")
	}
	return pins, nil
}

// Limits builds the controller limits for the given channel count.
func (cfg *Config) Limits(channels int) irrigation.Limits {
	return irrigation.Limits{
		Channels:        channels,
		MaxSchedules:    cfg.Irrigation.MaxSchedules,
		MinDuration:     cfg.Irrigation.MinDuration,
		MaxDuration:     cfg.Irrigation.MaxDuration,
		DefaultDuration: cfg.Irrigation.DefaultDuration,
		SafetyTimeout:   cfg.Irrigation.SafetyTimeout,
	}
}

// Location resolves the configured timezone.
func (cfg *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(cfg.Irrigation.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", cfg.Irrigation.Timezone, err)
	}
	return loc, nil
}

// DSN returns the PostgreSQL connection string
func (cfg *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Database.Host,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.DBName,
		cfg.Database.Port,
		cfg.Database.SSLMode,
	)
}
