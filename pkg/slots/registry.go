// Package slots schedules image fetches for reusable display slots and makes
// sure a slot is only ever written by the fetch that matches its current content.
package slots

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-slotimage/pkg/cache"
	"github.com/illmade-knight/go-slotimage/pkg/fetch"
	"github.com/rs/zerolog"
)

// SlotID identifies a reusable display position. The collaborator keeps it
// stable across rebinds of the same on-screen position.
type SlotID int

// SlotToken describes what a slot currently wants: the URL of interest and the
// generation of that binding. Generation increases on every change of interest.
type SlotToken struct {
	Slot       SlotID
	URL        string
	Generation uint64
}

// Renderer draws into slots. It is only ever called from the rendering context,
// and never with registry locks held.
type Renderer interface {
	RenderImage(slot SlotID, img *fetch.Image)
	RenderPlaceholder(slot SlotID)
}

// Dispatcher hands work to the rendering context. Post must not block.
type Dispatcher interface {
	Post(fn func()) bool
}

// slotState is the per-slot bookkeeping. Its own lock keeps binds on different
// slots from contending with each other.
type slotState struct {
	mu         sync.Mutex
	generation uint64
	url        string
	task       *Task
}

func (s *slotState) token(id SlotID) SlotToken {
	return SlotToken{Slot: id, URL: s.url, Generation: s.generation}
}

// Registry tracks at most one outstanding fetch per slot.
//
// A slot moves from Idle to Fetching when a cache miss starts a task, back to
// Idle when that task completes, and to Fetching with a new task when it is
// rebound to a different URL first. A completion is applied only if its task
// is still the slot's registered task. The check and the slot write happen in
// the same turn of the rendering context, and any rebind after the check posts
// its own write behind it, so the slot always ends on its latest binding.
type Registry struct {
	store      cache.Store[string, *fetch.Image]
	fetcher    fetch.Fetcher
	pool       *Pool
	renderer   Renderer
	dispatcher Dispatcher
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	slots map[SlotID]*slotState

	outstanding atomic.Int64
	closed      atomic.Bool
}

// NewRegistry creates a Registry. Completed fetches are written to store,
// and slot writes are posted to dispatcher.
func NewRegistry(
	store cache.Store[string, *fetch.Image],
	fetcher fetch.Fetcher,
	pool *Pool,
	renderer Renderer,
	dispatcher Dispatcher,
	logger zerolog.Logger,
) (*Registry, error) {
	if store == nil || fetcher == nil || pool == nil {
		return nil, fmt.Errorf("store, fetcher, and pool cannot be nil")
	}
	if renderer == nil || dispatcher == nil {
		return nil, fmt.Errorf("renderer and dispatcher cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:      store,
		fetcher:    fetcher,
		pool:       pool,
		renderer:   renderer,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "SlotRegistry").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		slots:      make(map[SlotID]*slotState),
	}, nil
}

// RequestBind points slot at url. A cache hit is rendered straight away; a
// miss renders the placeholder and starts a fetch, unless the slot is already
// fetching the same url. An empty url unbinds the slot.
func (r *Registry) RequestBind(slot SlotID, url string) SlotToken {
	if url == "" {
		return r.RequestUnbind(slot)
	}
	st := r.slot(slot)

	st.mu.Lock()
	if img, ok := r.store.Get(url); ok {
		r.cancelLocked(st)
		st.generation++
		st.url = url
		token := st.token(slot)
		st.mu.Unlock()

		r.logger.Debug().Int("slot", int(slot)).Str("url", url).Msg("Cache hit, rendering immediately.")
		r.postRender(st, token, func() { r.renderer.RenderImage(slot, img) })
		return token
	}

	if st.task != nil && st.task.URL == url {
		token := st.token(slot)
		st.mu.Unlock()
		taskEvents.With(labelEvent, "reused").Add(1)
		r.logger.Debug().Int("slot", int(slot)).Str("url", url).Msg("Fetch for this url already outstanding, letting it continue.")
		return token
	}

	r.cancelLocked(st)
	st.generation++
	st.url = url
	if r.closed.Load() {
		token := st.token(slot)
		st.mu.Unlock()
		r.postRender(st, token, func() { r.renderer.RenderPlaceholder(slot) })
		return token
	}
	task := newTask(r.ctx, slot, url, st.generation)
	st.task = task
	token := st.token(slot)
	st.mu.Unlock()

	outstandingTasks.Set(float64(r.outstanding.Add(1)))
	taskEvents.With(labelEvent, "started").Add(1)
	r.logger.Debug().Int("slot", int(slot)).Str("url", url).Str("task_id", task.ID).Msg("Cache miss, starting fetch.")

	r.postRender(st, token, func() { r.renderer.RenderPlaceholder(slot) })
	if !r.pool.Submit(task.Context(), func(ctx context.Context) { r.run(ctx, task) }) {
		r.abandon(task, "Fetch pool closed, dropping task.")
	}
	return token
}

// RequestUnbind clears slot's interest, cancels its outstanding fetch and
// renders the placeholder.
func (r *Registry) RequestUnbind(slot SlotID) SlotToken {
	st := r.slot(slot)

	st.mu.Lock()
	r.cancelLocked(st)
	st.generation++
	st.url = ""
	token := st.token(slot)
	st.mu.Unlock()

	r.postRender(st, token, func() { r.renderer.RenderPlaceholder(slot) })
	return token
}

// Token returns what slot currently wants.
func (r *Registry) Token(slot SlotID) SlotToken {
	st := r.slot(slot)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.token(slot)
}

// IsCurrent reports whether token still describes its slot's binding.
func (r *Registry) IsCurrent(token SlotToken) bool {
	return r.Token(token.Slot).Generation == token.Generation
}

// Task returns the slot's outstanding task, or nil when the slot is idle.
func (r *Registry) Task(slot SlotID) *Task {
	st := r.slot(slot)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.task
}

// Outstanding returns the number of tasks whose completion has not been processed.
func (r *Registry) Outstanding() int {
	return int(r.outstanding.Load())
}

// Close cancels every outstanding task and waits for the fetch workers.
// Bindings made after Close render placeholders only.
func (r *Registry) Close(ctx context.Context) error {
	r.closed.Store(true)

	r.mu.RLock()
	states := make([]*slotState, 0, len(r.slots))
	for _, st := range r.slots {
		states = append(states, st)
	}
	r.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		r.cancelLocked(st)
		st.mu.Unlock()
	}
	r.cancel()

	r.logger.Info().Int("slots", len(states)).Msg("Slot registry closing, waiting for fetches.")
	return r.pool.Wait(ctx)
}

// slot returns the state for id, creating it on first use.
func (r *Registry) slot(id SlotID) *slotState {
	r.mu.RLock()
	st, ok := r.slots[id]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok = r.slots[id]; !ok {
		st = &slotState{}
		r.slots[id] = st
	}
	return st
}

// cancelLocked cancels and forgets the slot's task. Must be called with st.mu held.
func (r *Registry) cancelLocked(st *slotState) {
	if st.task == nil {
		return
	}
	st.task.Cancel()
	taskEvents.With(labelEvent, "cancelled").Add(1)
	r.logger.Debug().Int("slot", int(st.task.Slot)).Str("task_id", st.task.ID).Msg("Cancelled superseded fetch.")
	st.task = nil
}

// postRender runs fn on the rendering context if the slot still carries
// token's generation by then. fn runs without the slot lock.
func (r *Registry) postRender(st *slotState, token SlotToken, fn func()) {
	r.dispatcher.Post(func() {
		st.mu.Lock()
		current := st.generation == token.Generation
		st.mu.Unlock()
		if current {
			fn()
		}
	})
}

// run is the worker side of a task. A successful image goes into the cache
// even if the task has been superseded meanwhile; it is still valid data.
func (r *Registry) run(ctx context.Context, task *Task) {
	img, err := r.fetcher.Fetch(ctx, task.URL)
	if err == nil {
		r.store.Put(task.URL, img)
	}
	if !r.dispatcher.Post(func() { r.complete(task, img, err) }) {
		r.abandon(task, "Rendering context gone, dropping fetch result.")
	}
}

// abandon retires a task whose result will never be applied. Nothing is rendered.
func (r *Registry) abandon(task *Task, msg string) {
	st := r.slot(task.Slot)
	st.mu.Lock()
	if st.task == task {
		st.task = nil
	}
	st.mu.Unlock()
	task.release()
	outstandingTasks.Set(float64(r.outstanding.Add(-1)))
	r.logger.Debug().Str("task_id", task.ID).Msg(msg)
}

// complete applies a task's result on the rendering context.
func (r *Registry) complete(task *Task, img *fetch.Image, err error) {
	defer func() {
		task.release()
		outstandingTasks.Set(float64(r.outstanding.Add(-1)))
	}()
	st := r.slot(task.Slot)

	st.mu.Lock()
	if task.Cancelled() || st.task != task || st.generation != task.Generation {
		st.mu.Unlock()
		taskEvents.With(labelEvent, "stale").Add(1)
		r.logger.Debug().Int("slot", int(task.Slot)).Str("task_id", task.ID).Msg("Discarding result of superseded fetch.")
		return
	}
	st.task = nil
	st.mu.Unlock()

	if err != nil {
		taskEvents.With(labelEvent, "failed").Add(1)
		r.logger.Warn().Err(err).Int("slot", int(task.Slot)).Str("url", task.URL).Msg("Fetch failed, rendering placeholder.")
		r.renderer.RenderPlaceholder(task.Slot)
		return
	}
	taskEvents.With(labelEvent, "rendered").Add(1)
	r.renderer.RenderImage(task.Slot, img)
}
