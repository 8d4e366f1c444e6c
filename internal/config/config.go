package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/mohamurshid/AutoRemoveAi/internal/batch"
	"github.com/mohamurshid/AutoRemoveAi/internal/removal"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

// Config holds all application configuration.
// Values come from built-in defaults, then the optional TOML file, then
// environment variables (a .env file in the working directory is loaded
// first and never overrides variables that are already set).
//
// Environment Variables:
// Removal service:
// - REMOVAL_API_KEY: API key for the removal service (required)
// - REMOVAL_API_URL: endpoint (default: https://api.remove.bg/v1.0/removebg)
// - REMOVAL_SIZE: output size hint (default: auto)
// - REMOVAL_TIMEOUT: request timeout in seconds (default: 60)
//
// Batch:
// - BATCH_CONCURRENCY: parallel removal calls during process-all (default: 1)
// - ARCHIVE_NAME: file name of the bulk download (default: removed-backgrounds.zip)
// - OUTPUT_DIR: where downloads are saved (default: ./output)
//
// Watcher:
// - WATCH_DIR: directory scanned for new images (optional)
// - CRON_EXPR: scan schedule (default: @every 1m)
//
// System:
// - HTTP_ADDR: listen address (default: :8080)
// - LOG_LEVEL: debug, info, warn or error (default: info)
// - AUTOREMOVE_CONFIG: TOML file path (default: autoremove.toml)
type Config struct {
	Removal RemovalConfig `toml:"removal" json:"removal"`
	Batch   BatchConfig   `toml:"batch" json:"batch"`
	Watch   WatchConfig   `toml:"watch" json:"watch"`
	HTTP    HTTPConfig    `toml:"http" json:"http"`
	Log     LogConfig     `toml:"log" json:"log"`
}

type RemovalConfig struct {
	APIKey  string `toml:"api_key" json:"-"`
	APIURL  string `toml:"api_url" json:"api_url"`
	Size    string `toml:"size" json:"size"`
	Timeout int    `toml:"timeout" json:"timeout"`
}

type BatchConfig struct {
	Concurrency int    `toml:"concurrency" json:"concurrency"`
	ArchiveName string `toml:"archive_name" json:"archive_name"`
	OutputDir   string `toml:"output_dir" json:"output_dir"`
}

type WatchConfig struct {
	Dir      string `toml:"dir" json:"dir"`
	CronExpr string `toml:"cron_expr" json:"cron_expr"`
}

type HTTPConfig struct {
	Addr string `toml:"addr" json:"addr"`
}

type LogConfig struct {
	Level string `toml:"level" json:"level"`
}

const (
	DefaultConfigFile  = "autoremove.toml"
	DefaultArchiveName = "removed-backgrounds.zip"
	DefaultOutputDir   = "./output"
	DefaultCronExpr    = "@every 1m"
	DefaultHTTPAddr    = ":8080"
	DefaultTimeout     = 60
)

// Option is a function type for configuring Config
type Option func(*Config)

func WithAPIKey(key string) Option {
	return func(c *Config) {
		if key != "" {
			c.Removal.APIKey = key
		}
	}
}

func WithHTTPAddr(addr string) Option {
	return func(c *Config) {
		if addr != "" {
			c.HTTP.Addr = addr
		}
	}
}

func WithWatchDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.Watch.Dir = dir
		}
	}
}

func WithOutputDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.Batch.OutputDir = dir
		}
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) {
		if level != "" {
			c.Log.Level = level
		}
	}
}

func WithConcurrency(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.Batch.Concurrency = n
		}
	}
}

func defaults() *Config {
	return &Config{
		Removal: RemovalConfig{
			APIURL:  removal.DefaultAPIURL,
			Size:    removal.DefaultSize,
			Timeout: DefaultTimeout,
		},
		Batch: BatchConfig{
			Concurrency: batch.DefaultConcurrency,
			ArchiveName: DefaultArchiveName,
			OutputDir:   DefaultOutputDir,
		},
		Watch: WatchConfig{CronExpr: DefaultCronExpr},
		HTTP:  HTTPConfig{Addr: DefaultHTTPAddr},
		Log:   LogConfig{Level: "info"},
	}
}

// NewFromEnv creates a new Config instance from defaults, the optional config
// file, environment variables and options, in that order.
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Ignoring .env: %v", err)
	}

	config := defaults()

	path := getEnvString("AUTOREMOVE_CONFIG", DefaultConfigFile)
	loaded, err := loadFileIfExists(path, config)
	if err != nil {
		return nil, err
	}
	if loaded {
		log.Info("Loaded config file %s", path)
	}

	config.Removal.APIKey = getEnvString("REMOVAL_API_KEY", config.Removal.APIKey)
	config.Removal.APIURL = getEnvString("REMOVAL_API_URL", config.Removal.APIURL)
	config.Removal.Size = getEnvString("REMOVAL_SIZE", config.Removal.Size)
	config.Removal.Timeout = getEnvInt("REMOVAL_TIMEOUT", config.Removal.Timeout)
	config.Batch.Concurrency = getEnvInt("BATCH_CONCURRENCY", config.Batch.Concurrency)
	config.Batch.ArchiveName = getEnvString("ARCHIVE_NAME", config.Batch.ArchiveName)
	config.Batch.OutputDir = getEnvString("OUTPUT_DIR", config.Batch.OutputDir)
	config.Watch.Dir = getEnvString("WATCH_DIR", config.Watch.Dir)
	config.Watch.CronExpr = getEnvString("CRON_EXPR", config.Watch.CronExpr)
	config.HTTP.Addr = getEnvString("HTTP_ADDR", config.HTTP.Addr)
	config.Log.Level = getEnvString("LOG_LEVEL", config.Log.Level)

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: %s", config)
	return config, nil
}

// RemovalClient returns the removal client configuration.
func (c *Config) RemovalClient() *removal.Config {
	return &removal.Config{
		APIKey:  c.Removal.APIKey,
		APIURL:  c.Removal.APIURL,
		Size:    c.Removal.Size,
		Timeout: c.Removal.Timeout,
	}
}

// String renders the config with the API key masked.
func (c *Config) String() string {
	key := ""
	if c.Removal.APIKey != "" {
		key = "****"
	}
	return fmt.Sprintf("removal={url=%s size=%s timeout=%ds key=%s} batch={concurrency=%d archive=%s out=%s} watch={dir=%q cron=%q} http=%s log=%s",
		c.Removal.APIURL, c.Removal.Size, c.Removal.Timeout, key,
		c.Batch.Concurrency, c.Batch.ArchiveName, c.Batch.OutputDir,
		c.Watch.Dir, c.Watch.CronExpr, c.HTTP.Addr, c.Log.Level)
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Removal.APIKey) == "" {
		return fmt.Errorf("REMOVAL_API_KEY is required")
	}
	if c.Removal.Timeout <= 0 {
		return fmt.Errorf("REMOVAL_TIMEOUT must be positive, got %d", c.Removal.Timeout)
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be at least 1, got %d", c.Batch.Concurrency)
	}
	name := strings.TrimSpace(c.Batch.ArchiveName)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid ARCHIVE_NAME %q", c.Batch.ArchiveName)
	}
	if _, err := cron.ParseStandard(c.Watch.CronExpr); err != nil {
		return fmt.Errorf("invalid CRON_EXPR: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn("Ignoring %s=%q: not an integer", key, value)
	}
	return defaultValue
}
