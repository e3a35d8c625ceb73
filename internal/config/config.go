// Package config loads service settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Chat     ChatConfig     `yaml:"chat"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	Mode           string   `yaml:"mode"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

type ModelConfig struct {
	// Location is a file path or http(s) URL of the .onnx artifact.
	Location         string        `yaml:"location"`
	MetadataLocation string        `yaml:"metadata_location"`
	SharedLibrary    string        `yaml:"shared_library"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	Preload          bool          `yaml:"preload"`
}

type ChatConfig struct {
	// Backend is "groq", "ollama" or "none". Empty picks groq when an API key is set.
	Backend     string        `yaml:"backend"`
	APIKey      string        `yaml:"api_key"`
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite". Empty disables report storage.
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "5000",
			Mode:           "release",
			AllowedOrigins: []string{"http://localhost:5173"},
			RateLimitRPS:   10,
			RateLimitBurst: 20,
			MaxUploadBytes: 10 << 20,
		},
		Model: ModelConfig{
			Location:         "models/model.onnx",
			MetadataLocation: "models/model_metadata.json",
			FetchTimeout:     time.Minute,
		},
		Chat: ChatConfig{
			Temperature: 0.7,
			Timeout:     30 * time.Second,
		},
		Database: DatabaseConfig{
			Port:    "5432",
			SSLMode: "disable",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty and
// present), then environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Mode = getEnv("GIN_MODE", c.Server.Mode)
	if origins := getEnv("CORS_ORIGINS", ""); origins != "" {
		c.Server.AllowedOrigins = splitList(origins)
	}
	c.Server.RateLimitRPS = getEnvAsFloat("RATE_LIMIT_RPS", c.Server.RateLimitRPS)
	c.Server.RateLimitBurst = getEnvAsInt("RATE_LIMIT_BURST", c.Server.RateLimitBurst)

	c.Model.Location = getEnv("MODEL_LOCATION", c.Model.Location)
	c.Model.MetadataLocation = getEnv("MODEL_METADATA_LOCATION", c.Model.MetadataLocation)
	c.Model.SharedLibrary = getEnv("ONNXRUNTIME_LIB", c.Model.SharedLibrary)
	c.Model.Preload = getEnvAsBool("MODEL_PRELOAD", c.Model.Preload)

	c.Chat.Backend = getEnv("CHAT_BACKEND", c.Chat.Backend)
	c.Chat.APIKey = getEnv("GROQ_API_KEY", c.Chat.APIKey)
	c.Chat.Endpoint = getEnv("CHAT_ENDPOINT", c.Chat.Endpoint)
	c.Chat.Model = getEnv("CHAT_MODEL", c.Chat.Model)
	c.Chat.Timeout = getEnvAsDuration("CHAT_TIMEOUT", c.Chat.Timeout)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("DB_DSN", c.Database.DSN)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// ChatBackend resolves the configured backend name, auto-selecting groq when
// an API key is present. It returns "" when chat runs on fallback answers only.
func (c *Config) ChatBackend() string {
	switch backend := strings.ToLower(c.Chat.Backend); backend {
	case "":
		if c.Chat.APIKey != "" {
			return "groq"
		}
		return ""
	case "none":
		return ""
	default:
		return backend
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return errors.New("at least one allowed origin is required")
	}
	if c.Model.Location == "" || c.Model.MetadataLocation == "" {
		return errors.New("model location and metadata location are required")
	}
	switch c.ChatBackend() {
	case "", "ollama":
	case "groq":
		if c.Chat.APIKey == "" {
			return errors.New("groq chat backend requires GROQ_API_KEY")
		}
	default:
		return fmt.Errorf("unknown chat backend %q", c.Chat.Backend)
	}
	switch c.Database.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return errors.New("postgres requires DB_DSN or DB_HOST")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// getEnv returns the environment value for key, or defaultValue when unset.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
