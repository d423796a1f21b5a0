package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *MonitorConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Sellers) == 0 {
		return errors.New("at least one seller is required")
	}
	seen := make(map[string]bool, len(c.Sellers))
	for i, s := range c.Sellers {
		if s.Username == "" {
			return fmt.Errorf("sellers[%d].username is required", i)
		}
		if seen[s.Username] {
			return fmt.Errorf("duplicate seller %q", s.Username)
		}
		seen[s.Username] = true
	}

	if c.Fetcher.BaseURL == "" {
		return errors.New("fetcher.base_url is required")
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}
	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be positive")
	}
	if c.Poller.MinSellerDelay > c.Poller.Interval {
		return fmt.Errorf("poller.min_seller_delay (%v) cannot exceed poller.interval (%v)",
			c.Poller.MinSellerDelay, c.Poller.Interval)
	}

	if c.Diff.PriceEpsilon < 0 {
		return errors.New("diff.price_epsilon cannot be negative")
	}

	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if err := c.Storage.Postgres.validate("storage.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return errors.New("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return errors.New("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Publisher.Enabled {
		if c.Publisher.BaseURL == "" {
			return errors.New("publisher.base_url is required when publisher is enabled")
		}
		if c.Publisher.APIKey == "" {
			return errors.New("publisher.api_key is required when publisher is enabled")
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
