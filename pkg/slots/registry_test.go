package slots_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-slotimage/pkg/fetch"
	"github.com/illmade-knight/go-slotimage/pkg/slots"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	slotA slots.SlotID = 1
	slotB slots.SlotID = 2

	url1 = "https://img.example.com/u/1/photo.jpg"
	url2 = "https://img.example.com/u/2/photo.jpg"
)

func TestNewRegistry_Validation(t *testing.T) {
	_, err := slots.NewRegistry(nil, nil, nil, nil, nil, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be nil")
}

func TestRegistry_CacheHitRendersWithoutFetching(t *testing.T) {
	// Arrange
	fx := newFixture(t)
	fx.cache.Put(url1, testImage(url1))

	// Act
	token := fx.registry.RequestBind(slotA, url1)
	fx.settle(t, 0)

	// Assert
	assert.Equal(t, url1, token.URL)
	assert.Equal(t, []string{url1}, fx.renderer.forSlot(slotA))
	assert.Equal(t, 0, fx.fetcher.callCount(url1))
	assert.Nil(t, fx.registry.Task(slotA))
}

func TestRegistry_MissFetchesCachesAndRenders(t *testing.T) {
	// Arrange
	fx := newFixture(t)

	// Act 1: A miss starts a task and shows the placeholder meanwhile.
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	task := fx.registry.Task(slotA)

	// Assert 1
	require.NotNil(t, task)
	assert.Equal(t, url1, task.URL)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, 1, fx.registry.Outstanding())

	// Act 2
	fx.fetcher.succeed(url1)
	fx.settle(t, 0)

	// Assert 2
	assert.Equal(t, []string{"", url1}, fx.renderer.forSlot(slotA))
	assert.Nil(t, fx.registry.Task(slotA), "a completed task is cleared from its slot")
	cached, ok := fx.cache.Get(url1)
	require.True(t, ok)
	assert.Equal(t, url1, cached.URL)
}

func TestRegistry_RebindBeforeCompletionSuppressesStaleWrite(t *testing.T) {
	// Arrange: F1 cannot observe its cancellation in time.
	fx := newFixture(t)
	fx.fetcher.setStubborn(url1)

	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	f1 := fx.registry.Task(slotA)
	require.NotNil(t, f1)

	// Act 1: Rebind to url2 while F1 is in flight.
	fx.registry.RequestBind(slotA, url2)
	fx.fetcher.waitStarted(t, url2)

	// Assert 1
	assert.True(t, f1.Cancelled(), "the superseded task is flagged")
	f2 := fx.registry.Task(slotA)
	require.NotNil(t, f2)
	assert.NotSame(t, f1, f2)

	// Act 2: F1 finishes successfully anyway.
	fx.fetcher.succeed(url1)
	fx.settle(t, 1)

	// Assert 2: The cache may keep url1, but the slot never shows it.
	_, ok := fx.cache.Get(url1)
	assert.True(t, ok, "a superseded but successful fetch is still cached")
	assert.NotContains(t, fx.renderer.forSlot(slotA), url1)
	last, _ := fx.renderer.last(slotA)
	assert.Equal(t, "", last)

	// Act 3
	fx.fetcher.succeed(url2)
	fx.settle(t, 0)

	// Assert 3
	last, _ = fx.renderer.last(slotA)
	assert.Equal(t, url2, last)
	assert.NotContains(t, fx.renderer.forSlot(slotA), url1)
}

func TestRegistry_SameURLRebindDoesNotDuplicateWork(t *testing.T) {
	// Arrange
	fx := newFixture(t)
	first := fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	task := fx.registry.Task(slotA)

	// Act
	second := fx.registry.RequestBind(slotA, url1)

	// Assert
	assert.Equal(t, first, second, "the binding is unchanged")
	assert.Same(t, task, fx.registry.Task(slotA))
	assert.False(t, task.Cancelled())

	fx.fetcher.succeed(url1)
	fx.settle(t, 0)
	assert.Equal(t, 1, fx.fetcher.callCount(url1))
	last, _ := fx.renderer.last(slotA)
	assert.Equal(t, url1, last)
}

func TestRegistry_UnbindThenRebind(t *testing.T) {
	// Arrange
	fx := newFixture(t)
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	first := fx.registry.Task(slotA)

	// Act 1
	token := fx.registry.RequestUnbind(slotA)

	// Assert 1
	assert.True(t, first.Cancelled())
	assert.Nil(t, fx.registry.Task(slotA))
	assert.Equal(t, "", token.URL)

	// Act 2
	fx.registry.RequestBind(slotA, url2)
	fx.fetcher.waitStarted(t, url2)
	fx.fetcher.succeed(url2)
	fx.settle(t, 0)

	// Assert 2: Only the second task's result is ever rendered.
	for _, u := range fx.renderer.forSlot(slotA) {
		assert.NotEqual(t, url1, u)
	}
	last, _ := fx.renderer.last(slotA)
	assert.Equal(t, url2, last)
}

func TestRegistry_TaskIdentityDecidesOwnership(t *testing.T) {
	// Arrange: Two fetches for the same URL, separated by an unbind.
	fx := newFixture(t)
	fx.fetcher.setStubborn(url1)
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	older := fx.registry.Task(slotA)

	fx.registry.RequestUnbind(slotA)
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	newer := fx.registry.Task(slotA)
	require.NotSame(t, older, newer)

	// Act: Both complete; the gate hands out results in order.
	fx.fetcher.succeed(url1)
	fx.fetcher.succeed(url1)
	fx.settle(t, 0)

	// Assert: Exactly one write of url1, from the newer task.
	var writes int
	for _, u := range fx.renderer.forSlot(slotA) {
		if u == url1 {
			writes++
		}
	}
	assert.Equal(t, 1, writes)
	assert.Equal(t, 2, fx.fetcher.callCount(url1))
	assert.Nil(t, fx.registry.Task(slotA))
}

func TestRegistry_FailureRendersPlaceholderAndStaysBindable(t *testing.T) {
	// Arrange
	fx := newFixture(t)
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)

	// Act 1
	fx.fetcher.fail(url1, fetch.KindBadStatus)
	fx.settle(t, 0)

	// Assert 1
	assert.Equal(t, []string{"", ""}, fx.renderer.forSlot(slotA))
	assert.Nil(t, fx.registry.Task(slotA))
	_, ok := fx.cache.Get(url1)
	assert.False(t, ok, "failures are never cached")

	// Act 2: Binding the same url again retries.
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	fx.fetcher.succeed(url1)
	fx.settle(t, 0)

	// Assert 2
	last, _ := fx.renderer.last(slotA)
	assert.Equal(t, url1, last)
}

func TestRegistry_SlotsAreIndependent(t *testing.T) {
	// Arrange
	fx := newFixture(t)

	// Act
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	fx.registry.RequestBind(slotB, url2)
	fx.fetcher.waitStarted(t, url2)
	fx.fetcher.succeed(url2)
	fx.fetcher.succeed(url1)
	fx.settle(t, 0)

	// Assert
	lastA, _ := fx.renderer.last(slotA)
	lastB, _ := fx.renderer.last(slotB)
	assert.Equal(t, url1, lastA)
	assert.Equal(t, url2, lastB)
}

func TestRegistry_TokensTrackGenerations(t *testing.T) {
	fx := newFixture(t)
	fx.cache.Put(url1, testImage(url1))
	fx.cache.Put(url2, testImage(url2))

	t1 := fx.registry.RequestBind(slotA, url1)
	assert.True(t, fx.registry.IsCurrent(t1))

	t2 := fx.registry.RequestBind(slotA, url2)
	assert.Greater(t, t2.Generation, t1.Generation)
	assert.False(t, fx.registry.IsCurrent(t1))
	assert.True(t, fx.registry.IsCurrent(t2))

	t3 := fx.registry.RequestBind(slotA, "")
	assert.Equal(t, "", t3.URL, "an empty url unbinds")
	assert.Equal(t, t3, fx.registry.Token(slotA))

	fx.settle(t, 0)
	last, _ := fx.renderer.last(slotA)
	assert.Equal(t, "", last)
}

func TestRegistry_BindDoesNotWaitForSlowRender(t *testing.T) {
	// Arrange: The first image write to slotA stalls inside the renderer.
	renderer := newBlockingRenderer(slotA)
	fx := newFixtureWithRenderer(t, renderer, &renderer.recordingRenderer)
	t.Cleanup(func() {
		select {
		case <-renderer.release:
		default:
			close(renderer.release)
		}
	})
	fx.cache.Put(url1, testImage(url1))
	fx.cache.Put(url2, testImage(url2))

	fx.registry.RequestBind(slotA, url1)
	select {
	case <-renderer.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("render of url1 never started")
	}

	// Act: Rebind the same slot while its render is still running.
	bound := make(chan slots.SlotToken, 1)
	go func() {
		bound <- fx.registry.RequestBind(slotA, url2)
	}()

	// Assert 1
	var token slots.SlotToken
	select {
	case token = <-bound:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("RequestBind waited for the renderer")
	}
	assert.Equal(t, url2, token.URL)
	assert.True(t, fx.registry.IsCurrent(token))

	// Assert 2: Once the slow render finishes, the rebind's write lands last.
	close(renderer.release)
	fx.settle(t, 0)
	assert.Equal(t, []string{url1, url2}, fx.renderer.forSlot(slotA))
}

func TestRegistry_Close(t *testing.T) {
	// Arrange
	fx := newFixture(t)
	fx.registry.RequestBind(slotA, url1)
	fx.fetcher.waitStarted(t, url1)
	task := fx.registry.Task(slotA)

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fx.registry.Close(ctx))
	fx.settle(t, 0)

	// Assert
	assert.True(t, task.Cancelled())
	assert.NotContains(t, fx.renderer.forSlot(slotA), url1)

	fx.registry.RequestBind(slotB, url2)
	fx.settle(t, 0)
	assert.Equal(t, 0, fx.fetcher.callCount(url2), "no fetches start after Close")
	assert.Equal(t, []string{""}, fx.renderer.forSlot(slotB))
}
