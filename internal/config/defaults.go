package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultFetcherBaseURL = "https://api.eldorado.gg"
	DefaultFetchTimeout   = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = time.Second

	DefaultPollInterval   = 10 * time.Minute
	DefaultConcurrency    = 4
	DefaultSellerStagger  = 2 * time.Second
	DefaultMinSellerDelay = time.Minute

	DefaultStorageDriver = "sqlite"
	DefaultSQLitePath    = "monitor.db"
	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 10
	DefaultMinConns      = 2

	DefaultSweepInterval = 5 * time.Minute
	DefaultSweepMinAge   = 2 * time.Minute

	DefaultServerPort = 8080
)

func (c *MonitorConfig) applyDefaults() {
	if c.Fetcher.BaseURL == "" {
		c.Fetcher.BaseURL = DefaultFetcherBaseURL
	}
	if c.Fetcher.Timeout == 0 {
		c.Fetcher.Timeout = DefaultFetchTimeout
	}
	if c.Fetcher.MaxRetries == 0 {
		c.Fetcher.MaxRetries = DefaultMaxRetries
	}
	if c.Fetcher.RetryBackoff == 0 {
		c.Fetcher.RetryBackoff = DefaultRetryBackoff
	}

	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.FetchTimeout == 0 {
		c.Poller.FetchTimeout = c.Fetcher.Timeout
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultConcurrency
	}
	if c.Poller.SellerStagger == 0 {
		c.Poller.SellerStagger = DefaultSellerStagger
	}
	if c.Poller.MinSellerDelay == 0 {
		c.Poller.MinSellerDelay = DefaultMinSellerDelay
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = DefaultSQLitePath
	}
	applyDBDefaults(&c.Storage.Postgres)

	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = DefaultSweepInterval
	}
	if c.Sweeper.MinAge == 0 {
		c.Sweeper.MinAge = DefaultSweepMinAge
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
