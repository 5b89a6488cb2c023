package session

import "time"

// Config holds the lifecycle timings.
type Config struct {
	// IdleThreshold is the background gap after which the session is
	// concluded instead of resumed. The comparison is strict.
	IdleThreshold time.Duration `env:"ENGAGE_IDLE_THRESHOLD" envDefault:"1800s"`

	// KeepaliveInterval is the period of KEEP_ALIVE pings while foregrounded.
	KeepaliveInterval time.Duration `env:"ENGAGE_KEEPALIVE_INTERVAL" envDefault:"5m"`
}

// DefaultConfig returns the default lifecycle timings.
func DefaultConfig() Config {
	return Config{
		IdleThreshold:     30 * time.Minute,
		KeepaliveInterval: 5 * time.Minute,
	}
}
