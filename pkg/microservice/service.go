package microservice

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-slotimage/pkg/binder"
	"github.com/illmade-knight/go-slotimage/pkg/cache"
	"github.com/illmade-knight/go-slotimage/pkg/config"
	"github.com/illmade-knight/go-slotimage/pkg/fetch"
	"github.com/illmade-knight/go-slotimage/pkg/render"
	"github.com/illmade-knight/go-slotimage/pkg/slots"
)

// ImageService owns one instance of every component: a single cache shared by
// the registry and the binder, the render loop, and the optional HTTP surface.
type ImageService struct {
	Binder   *binder.ImageBinder
	Cache    *cache.TieredCache[string, *fetch.Image]
	Registry *slots.Registry
	Loop     *render.Loop

	server *BaseServer
	logger zerolog.Logger
}

// NewImageService assembles the stack described by cfg. fetcher may be nil, in
// which case an HTTP fetcher is built from cfg.
func NewImageService(cfg *config.Config, renderer slots.Renderer, fetcher fetch.Fetcher, logger zerolog.Logger) (*ImageService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer cannot be nil")
	}

	tiered, err := cache.NewTieredCache[string, *fetch.Image](cfg.Cache(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	store := cache.Instrument[string, *fetch.Image](tiered)

	if fetcher == nil {
		httpFetcher, err := fetch.NewHTTPFetcher(cfg.HTTP(), nil, cfg.Decoder(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create fetcher: %w", err)
		}
		fetcher = httpFetcher
	}
	fetcher = fetch.Instrument(fetcher)

	loop := render.NewLoop(logger)
	pool := slots.NewPool(cfg.Pool(), logger)
	registry, err := slots.NewRegistry(store, fetcher, pool, renderer, loop, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create slot registry: %w", err)
	}
	b, err := binder.New(cfg.Binder(), store, registry, fetcher, loop, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create binder: %w", err)
	}

	svc := &ImageService{
		Binder:   b,
		Cache:    tiered,
		Registry: registry,
		Loop:     loop,
		logger:   logger.With().Str("component", "ImageService").Logger(),
	}
	if cfg.MetricsAddr != "" {
		svc.server = NewBaseServer(logger, cfg.MetricsAddr, svc.Status)
	}
	return svc, nil
}

// Start launches the render loop and, if configured, the HTTP server.
func (s *ImageService) Start(ctx context.Context) error {
	if err := s.Loop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start render loop: %w", err)
	}
	if s.server != nil {
		if err := s.server.Start(); err != nil {
			if stopErr := s.Loop.Stop(ctx); stopErr != nil {
				s.logger.Warn().Err(stopErr).Msg("Render loop did not stop cleanly after failed start.")
			}
			return err
		}
	}
	s.logger.Info().Msg("Image service started.")
	return nil
}

// Shutdown stops accepting work in dependency order: fetches first, then the
// render loop, then the HTTP server.
func (s *ImageService) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down image service...")
	var firstErr error
	if err := s.Binder.Close(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error while closing binder, continuing shutdown.")
		firstErr = err
	}
	if err := s.Loop.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Server returns the HTTP server, or nil when no metrics address is configured.
func (s *ImageService) Server() *BaseServer {
	return s.server
}

// ReleaseMemory forwards a host memory-pressure signal to the cache's soft tier.
func (s *ImageService) ReleaseMemory() int {
	released := s.Cache.ReleaseMemory()
	s.logger.Info().Int("released", released).Msg("Released soft cache entries.")
	return released
}

// Status reports cache occupancy and outstanding fetches.
func (s *ImageService) Status() map[string]interface{} {
	strong, soft := s.Cache.Len()
	return map[string]interface{}{
		"cache_strong":      strong,
		"cache_soft":        soft,
		"outstanding_tasks": s.Registry.Outstanding(),
	}
}
