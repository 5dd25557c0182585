package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Avanquish/DoughNation-sub002/internal/database"
	"github.com/Avanquish/DoughNation-sub002/internal/logger"
)

var ErrMissingSecret = errors.New("JWT_SECRET is required")

type Config struct {
	Env      string
	LogLevel string

	// Messenger client
	WSURL          string
	APIURL         string
	SessionToken   string
	ReconnectDelay time.Duration
	TypingDebounce time.Duration
	OutboxSize     int

	StorageDriver database.DriverType
	StorageDSN    string

	// Relay
	Port           string
	JWTSecret      string
	AllowedOrigins []string
	TokenTTL       time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "")
	v.SetDefault("ws_url", "ws://localhost:8080/api/ws")
	v.SetDefault("api_url", "http://localhost:8080/api")
	v.SetDefault("session_token", "")
	v.SetDefault("reconnect_delay", "2s")
	v.SetDefault("typing_debounce", "800ms")
	v.SetDefault("outbox_size", 256)
	v.SetDefault("storage_driver", string(database.SQLite))
	v.SetDefault("storage_dsn", "doughnation.db")
	v.SetDefault("port", "8080")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("allowed_origins", "http://localhost:3000")
	v.SetDefault("token_ttl", "24h")
}

// Load reads .env (if present), the optional YAML file named by CONFIG_FILE,
// and the environment, in increasing order of precedence.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	return parse(v)
}

func parse(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:            v.GetString("env"),
		LogLevel:       v.GetString("log_level"),
		WSURL:          v.GetString("ws_url"),
		APIURL:         strings.TrimRight(v.GetString("api_url"), "/"),
		SessionToken:   v.GetString("session_token"),
		ReconnectDelay: v.GetDuration("reconnect_delay"),
		TypingDebounce: v.GetDuration("typing_debounce"),
		OutboxSize:     v.GetInt("outbox_size"),
		StorageDriver:  database.DriverType(v.GetString("storage_driver")),
		StorageDSN:     v.GetString("storage_dsn"),
		Port:           v.GetString("port"),
		JWTSecret:      v.GetString("jwt_secret"),
		TokenTTL:       v.GetDuration("token_ttl"),
	}

	for _, origin := range strings.Split(v.GetString("allowed_origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}

	if cfg.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("reconnect_delay must be positive, got %s", cfg.ReconnectDelay)
	}
	if cfg.TypingDebounce <= 0 {
		return nil, fmt.Errorf("typing_debounce must be positive, got %s", cfg.TypingDebounce)
	}
	if cfg.OutboxSize < 0 {
		return nil, fmt.Errorf("outbox_size must not be negative, got %d", cfg.OutboxSize)
	}
	return cfg, nil
}

// RequireSecret is called by the relay, which cannot run without signing keys.
func (c *Config) RequireSecret() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	return nil
}

// ApplyLogLevel sets the logger threshold from LOG_LEVEL, keeping the
// ENV-based default when it is empty.
func (c *Config) ApplyLogLevel() error {
	if c.LogLevel == "" {
		return nil
	}
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	logger.SetMinLevel(level)
	return nil
}
