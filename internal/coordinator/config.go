package coordinator

import (
	"fmt"
	"time"
)

// MinPollInterval bounds how often the watchdog may wake.
const MinPollInterval = 100 * time.Millisecond

type Config struct {
	// ConnectTimeout bounds the availability probe of one SendGoal call.
	ConnectTimeout time.Duration
	// PollInterval is the watchdog tick.
	PollInterval time.Duration
	// StaleAfter is the longest allowed gap between feedback messages.
	StaleAfter time.Duration
	// CancelTimeout bounds one protocol-level cancel round trip.
	CancelTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 3 * time.Second,
		PollInterval:   100 * time.Millisecond,
		StaleAfter:     10 * time.Second,
		CancelTimeout:  5 * time.Second,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.CancelTimeout == 0 {
		c.CancelTimeout = def.CancelTimeout
	}
	return c
}

func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be > 0", ErrInvalidConfig)
	}
	if c.PollInterval < MinPollInterval {
		return fmt.Errorf("%w: poll_interval %s below %s", ErrInvalidConfig, c.PollInterval, MinPollInterval)
	}
	if c.StaleAfter < c.PollInterval {
		return fmt.Errorf("%w: stale_after %s below poll_interval %s", ErrInvalidConfig, c.StaleAfter, c.PollInterval)
	}
	if c.CancelTimeout <= 0 {
		return fmt.Errorf("%w: cancel_timeout must be > 0", ErrInvalidConfig)
	}
	return nil
}
