// Package config loads typed configuration structs from environment variables.
//
// Fields are described with caarlos0/env struct tags. A .env file in the
// working directory, if present, is loaded once per process before the first
// parse (joho/godotenv); variables already set in the environment win.
//
//	type Settings struct {
//		CollectorURL string        `env:"ENGAGE_COLLECTOR_URL,required"`
//		IdleTimeout  time.Duration `env:"ENGAGE_IDLE_THRESHOLD" envDefault:"1800s"`
//	}
//
//	cfg, err := config.Load[Settings]()
//
// Unlike a process-wide cache, every call parses again, so callers own the
// returned value and tests can feed a private environment with WithEnvironment.
package config
