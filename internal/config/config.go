// Package config loads ordersync settings from ~/.ordersync/config.toml
// and overlays environment variables, optionally read from .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/ordersync/internal/connectors/crm"
	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/services"
)

// FileName is the config file name inside the config directory.
const FileName = "config.toml"

// defaultChunkSize matches the store's default write chunk.
const defaultChunkSize = 10

// Cursor store backends.
const (
	CursorBackendSQLite = "sqlite"
	CursorBackendRedis  = "redis"
	CursorBackendMemory = "memory"
)

// Duration is a time.Duration written as a Go duration string ("90m", "2s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the complete application configuration.
type Config struct {
	// DataDir holds the order and cursor databases.
	DataDir string `toml:"data_dir" validate:"required"`

	CRM       CRMConfig       `toml:"crm"`
	Sync      SyncConfig      `toml:"sync"`
	Cursor    CursorConfig    `toml:"cursor"`
	Server    ServerConfig    `toml:"server"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
}

// CRMConfig configures the remote CRM client.
type CRMConfig struct {
	BaseURL  string `toml:"base_url" validate:"required,url"`
	TokenURL string `toml:"token_url" validate:"omitempty,url"`

	// APIKey is the service account key. Usually supplied through
	// KEAP_SERVICE_ACCOUNT_KEY rather than the file.
	APIKey       string   `toml:"api_key"`
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scopes       []string `toml:"scopes"`

	APIVersion        string   `toml:"api_version"`
	RequestsPerSecond float64  `toml:"requests_per_second" validate:"gte=0"`
	Timeout           Duration `toml:"timeout"`

	// CompanyID tags every stored order with a tenant identifier.
	CompanyID string `toml:"company_id"`
}

// SyncConfig tunes the sync loop.
type SyncConfig struct {
	PageSize    int      `toml:"page_size" validate:"gte=1,lte=1000"`
	ChunkSize   int      `toml:"chunk_size" validate:"gte=1"`
	Lookback    Duration `toml:"lookback"`
	PauseEvery  int      `toml:"pause_every" validate:"gte=1"`
	PauseFor    Duration `toml:"pause_for"`
	MaxAttempts int      `toml:"max_attempts" validate:"gte=1,lte=20"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
}

// CursorConfig selects where sync cursors are kept.
type CursorConfig struct {
	Backend  string `toml:"backend" validate:"oneof=sqlite redis memory"`
	RedisURL string `toml:"redis_url" validate:"required_if=Backend redis"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`

	// AuthToken, when set, is required as a bearer token on sync endpoints.
	AuthToken string `toml:"auth_token"`
}

// SchedulerConfig configures periodic syncs. A zero interval disables a task.
type SchedulerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Interval         Duration `toml:"interval"`
	FullSyncInterval Duration `toml:"full_sync_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format" validate:"omitempty,oneof=console json"`
}

// DefaultDir returns ~/.ordersync.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}
	return filepath.Join(home, ".ordersync"), nil
}

// Default returns the configuration used when no file or environment
// overrides are present. configDir is used as the parent of the data directory.
func Default(configDir string) *Config {
	crmDefaults := crm.DefaultConfig()
	syncDefaults := services.DefaultSyncConfig()

	return &Config{
		DataDir: filepath.Join(configDir, "data"),
		CRM: CRMConfig{
			BaseURL:           crmDefaults.BaseURL,
			TokenURL:          crmDefaults.TokenURL,
			Scopes:            crmDefaults.Scopes,
			APIVersion:        crmDefaults.APIVersion,
			RequestsPerSecond: crmDefaults.RequestsPerSecond,
			Timeout:           Duration(crmDefaults.Timeout),
		},
		Sync: SyncConfig{
			PageSize:    syncDefaults.PageSize,
			ChunkSize:   defaultChunkSize,
			Lookback:    Duration(syncDefaults.Lookback),
			PauseEvery:  syncDefaults.PauseEvery,
			PauseFor:    Duration(syncDefaults.PauseFor),
			MaxAttempts: syncDefaults.Retry.MaxAttempts,
			BaseDelay:   Duration(syncDefaults.Retry.BaseDelay),
			MaxDelay:    Duration(syncDefaults.Retry.MaxDelay),
		},
		Cursor: CursorConfig{Backend: CursorBackendSQLite},
		Server: ServerConfig{Addr: "127.0.0.1:8787"},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: Duration(time.Hour),
		},
		Log: LogConfig{Format: "console"},
	}
}

// Load reads configDir/config.toml over the defaults, then applies .env
// files and the process environment. An empty configDir means
// DefaultDir. A missing config file is not an error.
func Load(configDir string, envFiles ...string) (*Config, error) {
	if configDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}

	cfg := Default(configDir)
	if err := cfg.readFile(filepath.Join(configDir, FileName)); err != nil {
		return nil, err
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// loadEnvFiles loads the given .env files into the process environment
// without overriding variables that are already set. Missing files are
// skipped. With no arguments ".env" in the working directory is tried.
func loadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Save writes the configuration to configDir/config.toml with owner-only
// permissions, creating the directory if needed.
func Save(configDir string, cfg *Config) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(filepath.Join(configDir, FileName), data, 0600)
}

// ApplyEnv overlays environment variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}

	str(&c.DataDir, "ORDERSYNC_DATA_DIR")
	str(&c.Server.Addr, "ORDERSYNC_ADDR")
	str(&c.Server.AuthToken, "ORDERSYNC_AUTH_TOKEN", "WORKER_AUTH_TOKEN")
	str(&c.Cursor.Backend, "ORDERSYNC_CURSOR_BACKEND")
	str(&c.Cursor.RedisURL, "ORDERSYNC_REDIS_URL", "REDIS_URL")
	str(&c.Log.Format, "ORDERSYNC_LOG_FORMAT")

	str(&c.CRM.BaseURL, "KEAP_BASE_URL")
	str(&c.CRM.APIKey, "KEAP_SERVICE_ACCOUNT_KEY", "KEAP_API_KEY")
	str(&c.CRM.ClientID, "KEAP_CLIENT_ID")
	str(&c.CRM.ClientSecret, "KEAP_SECRET", "KEAP_CLIENT_SECRET")
	str(&c.CRM.APIVersion, "KEAP_API_VERSION")
	str(&c.CRM.CompanyID, "KEAP_APP_ID")

	if v, ok := lookup("ORDERSYNC_VERBOSE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ORDERSYNC_VERBOSE: %w", domain.ErrInvalidInput)
		}
		c.Log.Verbose = b
	}
	if v, ok := lookup("ORDERSYNC_SYNC_INTERVAL"); ok && v != "" {
		if err := c.Scheduler.Interval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("ORDERSYNC_SYNC_INTERVAL: %w", err)
		}
	}
	if v, ok := lookup("ORDERSYNC_PAGE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ORDERSYNC_PAGE_SIZE: %w", domain.ErrInvalidInput)
		}
		c.Sync.PageSize = n
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and credential completeness.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %v: %w", err, domain.ErrInvalidInput)
	}
	if (c.CRM.ClientID == "") != (c.CRM.ClientSecret == "") {
		return fmt.Errorf("invalid config: crm client_id and client_secret must be set together: %w",
			domain.ErrInvalidInput)
	}
	return nil
}

// HasCredentials reports whether any CRM credential is configured.
func (c *Config) HasCredentials() bool {
	return c.CRM.APIKey != "" || (c.CRM.ClientID != "" && c.CRM.ClientSecret != "")
}

// CRMClientConfig converts the CRM section to a client configuration.
func (c *Config) CRMClientConfig() crm.Config {
	cfg := crm.DefaultConfig()
	cfg.BaseURL = strings.TrimRight(c.CRM.BaseURL, "/")
	cfg.APIKey = c.CRM.APIKey
	cfg.ClientID = c.CRM.ClientID
	cfg.ClientSecret = c.CRM.ClientSecret
	if c.CRM.TokenURL != "" {
		cfg.TokenURL = c.CRM.TokenURL
	}
	if len(c.CRM.Scopes) > 0 {
		cfg.Scopes = c.CRM.Scopes
	}
	if c.CRM.APIVersion != "" {
		cfg.APIVersion = c.CRM.APIVersion
	}
	cfg.RequestsPerSecond = c.CRM.RequestsPerSecond
	if c.CRM.Timeout > 0 {
		cfg.Timeout = time.Duration(c.CRM.Timeout)
	}
	return cfg
}

// SyncServiceConfig converts the sync section to orchestrator tuning.
func (c *Config) SyncServiceConfig() services.SyncConfig {
	return services.SyncConfig{
		PageSize:   c.Sync.PageSize,
		Lookback:   time.Duration(c.Sync.Lookback),
		PauseEvery: c.Sync.PauseEvery,
		PauseFor:   time.Duration(c.Sync.PauseFor),
		CompanyID:  c.CRM.CompanyID,
		Retry: services.RetryPolicy{
			MaxAttempts: c.Sync.MaxAttempts,
			BaseDelay:   time.Duration(c.Sync.BaseDelay),
			MaxDelay:    time.Duration(c.Sync.MaxDelay),
		},
	}
}

// SchedulerDomainConfig converts the scheduler section to task settings.
func (c *Config) SchedulerDomainConfig() domain.SchedulerConfig {
	cfg := domain.DefaultSchedulerConfig()
	cfg.Enabled = c.Scheduler.Enabled
	cfg.TaskConfigs[domain.TaskIDIncrementalSync] = domain.TaskConfig{
		Enabled:  c.Scheduler.Interval > 0,
		Interval: time.Duration(c.Scheduler.Interval),
	}
	cfg.TaskConfigs[domain.TaskIDFullSync] = domain.TaskConfig{
		Enabled:  c.Scheduler.FullSyncInterval > 0,
		Interval: time.Duration(c.Scheduler.FullSyncInterval),
	}
	return cfg
}
