// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"

	"github.com/illmade-knight/go-slotimage/pkg/binder"
	"github.com/illmade-knight/go-slotimage/pkg/cache"
	"github.com/illmade-knight/go-slotimage/pkg/fetch"
	"github.com/illmade-knight/go-slotimage/pkg/slots"
)

// Config holds every tunable of the image binding stack.
type Config struct {
	CacheCapacity int `env:"SLOTIMAGE_CACHE_CAPACITY" envDefault:"100"`
	// SoftCapacity of zero leaves the soft tier bounded only by reclamation.
	SoftCapacity int `env:"SLOTIMAGE_SOFT_CAPACITY" envDefault:"0"`

	ResizeParam   string        `env:"SLOTIMAGE_RESIZE_PARAM" envDefault:"sz"`
	ResizeValue   int           `env:"SLOTIMAGE_RESIZE_VALUE" envDefault:"144"`
	FetchWorkers  int           `env:"SLOTIMAGE_FETCH_WORKERS" envDefault:"4"`
	FetchTimeout  time.Duration `env:"SLOTIMAGE_FETCH_TIMEOUT" envDefault:"30s"`
	UserAgent     string        `env:"SLOTIMAGE_USER_AGENT" envDefault:"go-slotimage"`
	MaxDecodeSize int           `env:"SLOTIMAGE_MAX_DECODE_SIZE" envDefault:"0"`

	LogLevel    string `env:"SLOTIMAGE_LOG_LEVEL" envDefault:"info"`
	LogPretty   bool   `env:"SLOTIMAGE_LOG_PRETTY" envDefault:"false"`
	MetricsAddr string `env:"SLOTIMAGE_METRICS_ADDR" envDefault:":9090"`
}

// Load reads .env files (if present) and then the environment.
func Load(files ...string) (*Config, error) {
	// A missing .env is fine; only the environment is required.
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CacheCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.SoftCapacity, validation.Min(0)),
		validation.Field(&c.ResizeValue, validation.Min(0)),
		validation.Field(&c.FetchWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.FetchTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxDecodeSize, validation.Min(0)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error", "disabled")),
	)
}

// Cache returns the cache sizing.
func (c Config) Cache() cache.TieredConfig {
	return cache.TieredConfig{Capacity: c.CacheCapacity, SoftCapacity: c.SoftCapacity}
}

// HTTP returns the fetcher configuration.
func (c Config) HTTP() *fetch.HTTPConfig {
	return &fetch.HTTPConfig{
		ResizeParam: c.ResizeParam,
		ResizeValue: c.ResizeValue,
		Timeout:     c.FetchTimeout,
		UserAgent:   c.UserAgent,
	}
}

// Decoder returns the image decoder.
func (c Config) Decoder() fetch.Decoder {
	return fetch.ImgconvDecoder{MaxSize: c.MaxDecodeSize}
}

// Pool returns the fetch worker pool configuration.
func (c Config) Pool() slots.PoolConfig {
	return slots.PoolConfig{NumWorkers: c.FetchWorkers}
}

// Binder returns the façade configuration.
func (c Config) Binder() binder.Config {
	return binder.Config{ResizeParam: c.ResizeParam, TargetFetchTimeout: c.FetchTimeout}
}
