package session

import "time"

// Config defines transport and delivery reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// PollInterval is the pause between receive calls.
	PollInterval time.Duration
	ReadTimeout  time.Duration
	ReadBuffer   int
	// SendInterval is the pause after each successful send.
	SendInterval   time.Duration
	MaxSendRetries int
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   10 * time.Second,
		PollInterval:   100 * time.Millisecond,
		ReadTimeout:    100 * time.Millisecond,
		ReadBuffer:     1024,
		SendInterval:   time.Second,
		MaxSendRetries: 10,
		Backoff:        DefaultBackoff(),
	}
}
