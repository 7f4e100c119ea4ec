// Package render provides the single rendering context that serialises every
// slot write.
package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Loop runs posted functions one at a time, in posting order, on a single
// goroutine. Post never blocks, so it is safe to call from fetch workers and
// from bind calls alike.
type Loop struct {
	logger zerolog.Logger

	mu      sync.Mutex
	pending []func()
	stopped bool
	started bool

	wake chan struct{}
	done chan struct{}
}

// NewLoop creates a rendering loop. Call Start before posting work.
func NewLoop(logger zerolog.Logger) *Loop {
	return &Loop{
		logger: logger.With().Str("component", "RenderLoop").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine. It runs until Stop is called or ctx is
// cancelled; either way the functions already posted are drained first.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("render loop already started")
	}
	l.started = true
	l.logger.Info().Msg("Render loop starting.")
	go l.run(ctx)
	return nil
}

// Post queues fn for the rendering context. It returns false once the loop is
// stopping, in which case fn will never run.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	l.signal()
	return true
}

// Sync blocks until everything posted before the call has run.
func (l *Loop) Sync(ctx context.Context) error {
	barrier := make(chan struct{})
	if !l.Post(func() { close(barrier) }) {
		return fmt.Errorf("render loop is stopped")
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new work, drains what is queued and waits for the loop to exit.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopped = true
	started := l.started
	l.mu.Unlock()
	if !started {
		return nil
	}
	l.signal()

	select {
	case <-l.done:
		l.logger.Info().Msg("Render loop stopped.")
		return nil
	case <-ctx.Done():
		l.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for render loop to drain.")
		return ctx.Err()
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		stopped := l.stopped
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			l.mu.Lock()
			l.stopped = true
			l.mu.Unlock()
		}
	}
}

// invoke keeps the loop alive when a collaborator panics.
func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Interface("panic", r).Msg("Recovered from panic on the render loop.")
		}
	}()
	fn()
}
