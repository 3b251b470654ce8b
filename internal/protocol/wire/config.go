package wire

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport defaults for one actuator link.
type Config struct {
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration
	FeedbackBuffer   int
	Backoff          BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:      time.Second,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     5 * time.Second,
		RequestTimeout:   5 * time.Second,
		FeedbackBuffer:   64,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.FeedbackBuffer <= 0 {
		c.FeedbackBuffer = def.FeedbackBuffer
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}
