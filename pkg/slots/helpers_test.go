package slots_test

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-slotimage/pkg/cache"
	"github.com/illmade-knight/go-slotimage/pkg/fetch"
	"github.com/illmade-knight/go-slotimage/pkg/render"
	"github.com/illmade-knight/go-slotimage/pkg/slots"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// --- Fetcher double ---

type fetchResult struct {
	img *fetch.Image
	err error
}

// gatedFetcher blocks every Fetch until the test releases its URL. URLs marked
// stubborn ignore cancellation, like a transfer that is already past the
// point of checking.
type gatedFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	gates    map[string]chan fetchResult
	stubborn map[string]bool
	started  chan string
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{
		calls:    make(map[string]int),
		gates:    make(map[string]chan fetchResult),
		stubborn: make(map[string]bool),
		started:  make(chan string, 100),
	}
}

func (f *gatedFetcher) gate(url string) chan fetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.gates[url]
	if !ok {
		g = make(chan fetchResult, 10)
		f.gates[url] = g
	}
	return g
}

func (f *gatedFetcher) Fetch(ctx context.Context, url string) (*fetch.Image, error) {
	f.mu.Lock()
	f.calls[url]++
	stubborn := f.stubborn[url]
	f.mu.Unlock()
	f.started <- url

	done := ctx.Done()
	if stubborn {
		done = nil
	}
	select {
	case res := <-f.gate(url):
		return res.img, res.err
	case <-done:
		return nil, &fetch.FetchError{Kind: fetch.KindCancelled, URL: url, Err: ctx.Err()}
	}
}

func (f *gatedFetcher) setStubborn(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stubborn[url] = true
}

func (f *gatedFetcher) succeed(url string) *fetch.Image {
	img := testImage(url)
	f.gate(url) <- fetchResult{img: img}
	return img
}

func (f *gatedFetcher) fail(url string, kind fetch.Kind) {
	f.gate(url) <- fetchResult{err: &fetch.FetchError{Kind: kind, URL: url}}
}

func (f *gatedFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *gatedFetcher) waitStarted(t *testing.T, url string) {
	t.Helper()
	select {
	case got := <-f.started:
		require.Equal(t, url, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch for %s never started", url)
	}
}

// --- Renderer double ---

type renderEvent struct {
	slot slots.SlotID
	url  string // empty for a placeholder
}

// recordingRenderer records writes. It is only called from the render loop,
// but tests read it from their own goroutine.
type recordingRenderer struct {
	mu     sync.Mutex
	events []renderEvent
}

func (r *recordingRenderer) RenderImage(slot slots.SlotID, img *fetch.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, renderEvent{slot: slot, url: img.URL})
}

func (r *recordingRenderer) RenderPlaceholder(slot slots.SlotID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, renderEvent{slot: slot})
}

func (r *recordingRenderer) forSlot(slot slots.SlotID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.slot == slot {
			out = append(out, e.url)
		}
	}
	return out
}

func (r *recordingRenderer) last(slot slots.SlotID) (string, bool) {
	got := r.forSlot(slot)
	if len(got) == 0 {
		return "", false
	}
	return got[len(got)-1], true
}

// blockingRenderer holds the first image write to one slot until released.
type blockingRenderer struct {
	recordingRenderer
	slot    slots.SlotID
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRenderer(slot slots.SlotID) *blockingRenderer {
	return &blockingRenderer{slot: slot, entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRenderer) RenderImage(slot slots.SlotID, img *fetch.Image) {
	if slot == r.slot {
		r.once.Do(func() {
			close(r.entered)
			<-r.release
		})
	}
	r.recordingRenderer.RenderImage(slot, img)
}

// --- Fixture ---

type fixture struct {
	registry *slots.Registry
	cache    *cache.TieredCache[string, *fetch.Image]
	fetcher  *gatedFetcher
	renderer *recordingRenderer
	loop     *render.Loop
}

func testImage(url string) *fetch.Image {
	return &fetch.Image{URL: url, Pixels: image.NewRGBA(image.Rect(0, 0, 1, 1)), Size: 1}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	renderer := &recordingRenderer{}
	return newFixtureWithRenderer(t, renderer, renderer)
}

// newFixtureWithRenderer wires renderer into the registry; rec is the
// recordingRenderer it writes through to.
func newFixtureWithRenderer(t *testing.T, renderer slots.Renderer, rec *recordingRenderer) *fixture {
	t.Helper()
	c, err := cache.NewTieredCache[string, *fetch.Image](cache.TieredConfig{Capacity: 10}, zerolog.Nop())
	require.NoError(t, err)

	loop := render.NewLoop(zerolog.Nop())
	require.NoError(t, loop.Start(context.Background()))

	f := newGatedFetcher()
	registry, err := slots.NewRegistry(c, f, slots.NewPool(slots.PoolConfig{NumWorkers: 4}, zerolog.Nop()), renderer, loop, zerolog.Nop())
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
		_ = loop.Stop(ctx)
	})
	return &fixture{registry: registry, cache: c, fetcher: f, renderer: rec, loop: loop}
}

// settle waits for outstanding tasks to be processed and the render loop to drain.
func (fx *fixture) settle(t *testing.T, outstanding int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return fx.registry.Outstanding() == outstanding
	}, 2*time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fx.loop.Sync(ctx))
}
