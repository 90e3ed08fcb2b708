package session

import "time"

// BackoffStep applies Delay while the reconnect attempt count is at most
// UpTo.
type BackoffStep struct {
	UpTo  int
	Delay time.Duration
}

// BackoffConfig is a step schedule: the first step whose UpTo covers the
// attempt count wins, and Max applies beyond the last step.
type BackoffConfig struct {
	Steps []BackoffStep
	Max   time.Duration
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Steps: []BackoffStep{
			{UpTo: 3, Delay: 15 * time.Second},
			{UpTo: 6, Delay: 30 * time.Second},
			{UpTo: 9, Delay: 60 * time.Second},
			{UpTo: 12, Delay: 300 * time.Second},
		},
		Max: 600 * time.Second,
	}
}

// NextBackoffDelay returns the wait before the next delivery cycle after
// attempts consecutive reconnects.
func NextBackoffDelay(cfg BackoffConfig, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	for _, s := range cfg.Steps {
		if attempts <= s.UpTo {
			return s.Delay
		}
	}
	return cfg.Max
}
