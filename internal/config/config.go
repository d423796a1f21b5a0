package config

import "time"

// MonitorConfig is the root configuration for a monitor instance.
type MonitorConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Sellers   []SellerConfig  `yaml:"sellers"`
	Fetcher   FetcherConfig   `yaml:"fetcher"`
	Poller    PollerConfig    `yaml:"poller"`
	Diff      DiffConfig      `yaml:"diff"`
	Storage   StorageConfig   `yaml:"storage"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Publisher PublisherConfig `yaml:"publisher"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Server    ServerConfig    `yaml:"server"`
}

// InstanceConfig identifies this monitor.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SellerConfig describes one watched seller. The notify switches
// default to true; a disabled kind is applied to storage but its events
// are suppressed at delivery time.
type SellerConfig struct {
	Username    string       `yaml:"username"`
	DisplayName string       `yaml:"display_name"`
	Notify      NotifyConfig `yaml:"notify"`
}

// NotifyConfig holds per-kind notification switches. Nil means enabled.
type NotifyConfig struct {
	New         *bool `yaml:"new"`
	PriceChange *bool `yaml:"price_change"`
	Edit        *bool `yaml:"edit"`
	Removed     *bool `yaml:"removed"`
}

func enabled(b *bool) bool { return b == nil || *b }

// NewEnabled reports whether new-product notifications are on.
func (n NotifyConfig) NewEnabled() bool { return enabled(n.New) }

// PriceChangeEnabled reports whether price-change notifications are on.
func (n NotifyConfig) PriceChangeEnabled() bool { return enabled(n.PriceChange) }

// EditEnabled reports whether edit notifications are on.
func (n NotifyConfig) EditEnabled() bool { return enabled(n.Edit) }

// RemovedEnabled reports whether removal notifications are on.
func (n NotifyConfig) RemovedEnabled() bool { return enabled(n.Removed) }

// FetcherConfig holds listings API client settings.
type FetcherConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// PollerConfig holds poll coordinator settings.
type PollerConfig struct {
	Interval       time.Duration `yaml:"interval"`         // Cycle interval
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`    // Per-seller fetch timeout
	Concurrency    int           `yaml:"concurrency"`      // Max sellers in flight
	SellerStagger  time.Duration `yaml:"seller_stagger"`   // Delay between seller launches
	MinSellerDelay time.Duration `yaml:"min_seller_delay"` // Min gap between fetches of one seller
}

// DiffConfig holds diff engine settings.
type DiffConfig struct {
	PriceEpsilon float64 `yaml:"price_epsilon"`
}

// StorageConfig selects and configures the record store backend.
type StorageConfig struct {
	Driver     string   `yaml:"driver"` // "sqlite" or "postgres"
	SQLitePath string   `yaml:"sqlite_path"`
	Postgres   DBConfig `yaml:"postgres"`
}

// DBConfig holds a PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// TelegramConfig holds the notification sink settings.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// PublisherConfig holds the optional marketplace re-listing client.
type PublisherConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	SellerID string `yaml:"seller_id"`
}

// SweeperConfig holds undelivered-event redelivery settings.
type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"` // How often to sweep
	MinAge   time.Duration `yaml:"min_age"`  // Only retry events older than this
}

// ServerConfig holds the health/debug HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}
