package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the chat core.
// Values come from an optional YAML file, then a .env file, then the environment.
type Config struct {
	// SupabaseURL is the URL of your Supabase project
	SupabaseURL string `yaml:"supabase_url"`

	// SupabaseKey is the anon (public) key; user requests are authorized by the session token
	SupabaseKey string `yaml:"supabase_anon_key"`

	// Email / Password sign the user in when no refresh token is available
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// RefreshToken resumes an existing session
	RefreshToken string `yaml:"refresh_token"`

	// DatabaseURL enables the direct Postgres backend instead of PostgREST
	DatabaseURL string `yaml:"database_url"`

	// StorageBucket is where voice clips are uploaded
	StorageBucket string `yaml:"storage_bucket"`

	// CommunityGroupID is the group row backing the global community channel
	CommunityGroupID string `yaml:"community_group_id"`

	// ServerPort is the port the companion daemon listens on
	ServerPort string `yaml:"port"`

	// CORSOrigins lists origins allowed to call the daemon
	CORSOrigins []string `yaml:"cors_origins"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	Presence PresenceConfig `yaml:"presence"`

	// AmplitudeInterval is the cadence of live waveform samples
	AmplitudeInterval time.Duration `yaml:"amplitude_interval"`

	// HeartbeatInterval is the realtime socket keepalive period
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// RequestTimeout bounds each REST call
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PresenceConfig tunes typing / recording signals.
type PresenceConfig struct {
	TypingTTL    time.Duration `yaml:"typing_ttl"`
	RecordingTTL time.Duration `yaml:"recording_ttl"`
	Debounce     time.Duration `yaml:"debounce"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		StorageBucket: "voice-messages",
		ServerPort:    "8080",
		CORSOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		LogLevel:      "info",
		Presence: PresenceConfig{
			TypingTTL:    10 * time.Second,
			RecordingTTL: 5 * time.Second,
			Debounce:     3 * time.Second,
		},
		AmplitudeInterval: 50 * time.Millisecond,
		HeartbeatInterval: 25 * time.Second,
		RequestTimeout:    10 * time.Second,
	}
}

// Load reads configuration and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to defaults if values are not set.
func Load() (*Config, error) {
	// Not an error if .env doesn't exist, we may be running with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := Defaults()
	if path := os.Getenv("TALKIE_CONFIG"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.SupabaseURL == "" && cfg.DatabaseURL == "" {
		log.Println("WARNING: neither SUPABASE_URL nor DATABASE_URL is set")
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseKey == "" {
		log.Println("WARNING: SUPABASE_ANON_KEY is not set")
	}

	return cfg, Validate(cfg)
}

// LoadFile overlays a YAML file onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.SupabaseURL = strings.TrimSuffix(getEnv("SUPABASE_URL", cfg.SupabaseURL), "/")
	cfg.SupabaseKey = getEnv("SUPABASE_ANON_KEY", cfg.SupabaseKey)
	cfg.Email = getEnv("SUPABASE_EMAIL", cfg.Email)
	cfg.Password = getEnv("SUPABASE_PASSWORD", cfg.Password)
	cfg.RefreshToken = getEnv("SUPABASE_REFRESH_TOKEN", cfg.RefreshToken)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.StorageBucket = getEnv("STORAGE_BUCKET", cfg.StorageBucket)
	cfg.CommunityGroupID = getEnv("COMMUNITY_GROUP_ID", cfg.CommunityGroupID)
	cfg.ServerPort = getEnv("PORT", cfg.ServerPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	// Format: comma-separated list of origins, e.g., "http://localhost:5173,https://talkie.example.com"
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TYPING_TTL", &cfg.Presence.TypingTTL},
		{"RECORDING_TTL", &cfg.Presence.RecordingTTL},
		{"PRESENCE_DEBOUNCE", &cfg.Presence.Debounce},
		{"AMPLITUDE_INTERVAL", &cfg.AmplitudeInterval},
		{"HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval},
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.key)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, v, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate reports the first invalid setting.
func Validate(cfg *Config) error {
	if cfg.Presence.TypingTTL <= 0 || cfg.Presence.RecordingTTL <= 0 {
		return errors.New("presence TTLs must be positive")
	}
	if cfg.Presence.Debounce < 0 {
		return errors.New("presence debounce must not be negative")
	}
	if cfg.AmplitudeInterval <= 0 {
		return errors.New("amplitude interval must be positive")
	}
	if cfg.HeartbeatInterval < time.Second {
		return fmt.Errorf("heartbeat interval %v is too short", cfg.HeartbeatInterval)
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if cfg.StorageBucket == "" {
		return errors.New("storage bucket is required")
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
