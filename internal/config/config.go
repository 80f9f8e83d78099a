package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "ZENITH"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "zenith.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultAuthIssuer        = "tauth"
	defaultCookieName        = "app_session"
	defaultHeartbeatTimeout  = 30 * time.Second
	defaultSweepInterval     = 5 * time.Second
	defaultOutboundQueue     = 64
	defaultWriteTimeout      = 10 * time.Second
	defaultMaxMessageBytes   = 64 * 1024
	defaultPersistQueue      = 1024
	defaultPersistMaxElapsed = 30 * time.Second
	defaultPersistInitial    = 200 * time.Millisecond
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string
	Auth           AuthConfig
	Realtime       RealtimeConfig
	Persist        PersistConfig
}

// AuthConfig configures session token validation.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	CookieName    string
}

// RealtimeConfig configures the collaboration hub.
type RealtimeConfig struct {
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	OutboundQueue    int
	WriteTimeout     time.Duration
	MaxMessageBytes  int64
}

// PersistConfig configures the asynchronous persistence worker.
type PersistConfig struct {
	Queue           int
	MaxElapsed      time.Duration
	InitialInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("realtime.heartbeat_timeout", defaultHeartbeatTimeout)
	configViper.SetDefault("realtime.sweep_interval", defaultSweepInterval)
	configViper.SetDefault("realtime.outbound_queue", defaultOutboundQueue)
	configViper.SetDefault("realtime.write_timeout", defaultWriteTimeout)
	configViper.SetDefault("realtime.max_message_bytes", defaultMaxMessageBytes)
	configViper.SetDefault("persist.queue", defaultPersistQueue)
	configViper.SetDefault("persist.max_elapsed", defaultPersistMaxElapsed)
	configViper.SetDefault("persist.initial_interval", defaultPersistInitial)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
		AllowedOrigins: configViper.GetStringSlice("cors.allowed_origins"),
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			CookieName:    configViper.GetString("auth.cookie_name"),
		},
		Realtime: RealtimeConfig{
			HeartbeatTimeout: configViper.GetDuration("realtime.heartbeat_timeout"),
			SweepInterval:    configViper.GetDuration("realtime.sweep_interval"),
			OutboundQueue:    configViper.GetInt("realtime.outbound_queue"),
			WriteTimeout:     configViper.GetDuration("realtime.write_timeout"),
			MaxMessageBytes:  configViper.GetInt64("realtime.max_message_bytes"),
		},
		Persist: PersistConfig{
			Queue:           configViper.GetInt("persist.queue"),
			MaxElapsed:      configViper.GetDuration("persist.max_elapsed"),
			InitialInterval: configViper.GetDuration("persist.initial_interval"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadStorage parses only the settings needed by offline tooling such as the
// grant command, which does not validate session secrets.
func LoadStorage(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    configViper.GetString("log.format"),
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		return AppConfig{}, fmt.Errorf("database.path is required")
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.Auth.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.Realtime.HeartbeatTimeout <= 0 {
		return fmt.Errorf("realtime.heartbeat_timeout must be positive")
	}
	if c.Realtime.SweepInterval <= 0 || c.Realtime.SweepInterval > c.Realtime.HeartbeatTimeout {
		return fmt.Errorf("realtime.sweep_interval must be positive and no longer than the heartbeat timeout")
	}
	if c.Realtime.OutboundQueue <= 0 {
		return fmt.Errorf("realtime.outbound_queue must be positive")
	}
	if c.Realtime.MaxMessageBytes <= 0 {
		return fmt.Errorf("realtime.max_message_bytes must be positive")
	}
	if c.Persist.Queue <= 0 {
		return fmt.Errorf("persist.queue must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console")
	}
	return nil
}
