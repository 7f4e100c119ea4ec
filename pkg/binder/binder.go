// Package binder is the entry point collaborators use to put remote images
// into slots and plain targets.
package binder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-slotimage/pkg/cache"
	"github.com/illmade-knight/go-slotimage/pkg/fetch"
	"github.com/illmade-knight/go-slotimage/pkg/slots"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Target is a display that is never reused for other content, so it needs no
// staleness tracking. Its methods are called from the rendering context.
type Target interface {
	SetImage(img *fetch.Image)
	SetPlaceholder()
}

// Config holds configuration for an ImageBinder.
type Config struct {
	// ResizeParam is stripped from incoming URLs to form cache keys.
	ResizeParam string
	// TargetFetchTimeout bounds fetches on the target path. Zero means none.
	TargetFetchTimeout time.Duration
}

// ImageBinder binds URLs to slots through the slot registry, and to bare
// targets directly.
type ImageBinder struct {
	cfg        Config
	store      cache.Store[string, *fetch.Image]
	registry   *slots.Registry
	fetcher    fetch.Fetcher
	dispatcher slots.Dispatcher
	logger     zerolog.Logger

	group singleflight.Group

	// mu orders wg.Add in BindToTarget against Close.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an ImageBinder.
func New(
	cfg Config,
	store cache.Store[string, *fetch.Image],
	registry *slots.Registry,
	fetcher fetch.Fetcher,
	dispatcher slots.Dispatcher,
	logger zerolog.Logger,
) (*ImageBinder, error) {
	if store == nil || registry == nil || fetcher == nil || dispatcher == nil {
		return nil, fmt.Errorf("store, registry, fetcher, and dispatcher cannot be nil")
	}
	return &ImageBinder{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		fetcher:    fetcher,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "ImageBinder").Logger(),
	}, nil
}

// BindToSlot points slot at url. An empty url unbinds the slot.
func (b *ImageBinder) BindToSlot(slot slots.SlotID, url string) slots.SlotToken {
	key := fetch.NormalizeURL(url, b.cfg.ResizeParam)
	if key == "" {
		return b.registry.RequestUnbind(slot)
	}
	return b.registry.RequestBind(slot, key)
}

// RequestUnbind clears slot and shows its placeholder.
func (b *ImageBinder) RequestUnbind(slot slots.SlotID) slots.SlotToken {
	return b.registry.RequestUnbind(slot)
}

// BindToTarget shows url in target. There is no cancellation on this path:
// the fetch always runs to completion and its result is written to target,
// last write wins. Concurrent target binds for one url share a single fetch.
// After Close, a cache miss sets the placeholder without fetching.
func (b *ImageBinder) BindToTarget(target Target, url string) {
	key := fetch.NormalizeURL(url, b.cfg.ResizeParam)
	if key == "" {
		b.logger.Debug().Msg("Setting placeholder as provided url is empty.")
		b.dispatcher.Post(target.SetPlaceholder)
		return
	}

	if img, ok := b.store.Get(key); ok {
		b.dispatcher.Post(func() { target.SetImage(img) })
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug().Str("url", key).Msg("Binder closed, setting placeholder instead of fetching.")
		b.dispatcher.Post(target.SetPlaceholder)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	b.logger.Debug().Str("url", key).Msg("Starting target fetch.")
	go func() {
		defer b.wg.Done()
		v, err, _ := b.group.Do(key, func() (interface{}, error) {
			return b.fetchForTarget(key)
		})
		if err != nil {
			b.logger.Warn().Err(err).Str("url", key).Msg("Target fetch failed, setting placeholder.")
			b.dispatcher.Post(target.SetPlaceholder)
			return
		}
		img := v.(*fetch.Image)
		b.dispatcher.Post(func() { target.SetImage(img) })
	}()
}

func (b *ImageBinder) fetchForTarget(key string) (*fetch.Image, error) {
	ctx := context.Background()
	if b.cfg.TargetFetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.TargetFetchTimeout)
		defer cancel()
	}
	img, err := b.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	b.store.Put(key, img)
	return img, nil
}

// Close stops new target fetches, waits for running ones and then closes the
// slot registry.
func (b *ImageBinder) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for target fetches: %w", ctx.Err())
	}
	return b.registry.Close(ctx)
}
