package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Option tunes a single Load call.
type Option func(*loadOptions)

type loadOptions struct {
	prefix      string
	environment map[string]string
	dotEnvFiles []string
}

// WithPrefix prepends prefix to every env key of the struct.
func WithPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.prefix = prefix
	}
}

// WithEnvironment parses from the given map instead of the process environment.
// The default .env file is not consulted in this mode.
func WithEnvironment(vars map[string]string) Option {
	return func(o *loadOptions) {
		o.environment = vars
	}
}

// WithDotEnv loads the listed files before parsing. Missing files are an error,
// unlike the implicit default .env lookup.
func WithDotEnv(files ...string) Option {
	return func(o *loadOptions) {
		o.dotEnvFiles = append(o.dotEnvFiles, files...)
	}
}

// Load parses environment variables into a new T.
func Load[T any](opts ...Option) (T, error) {
	var cfg T

	o := &loadOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if len(o.dotEnvFiles) > 0 {
		if err := godotenv.Load(o.dotEnvFiles...); err != nil {
			return cfg, errors.Join(ErrDotEnv, err)
		}
	}

	envOpts := env.Options{Prefix: o.prefix}
	if o.environment != nil {
		envOpts.Environment = o.environment
	} else {
		defaultEnvLoaded.Do(func() {
			// The .env file is optional.
			_ = godotenv.Load()
		})
	}

	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}
