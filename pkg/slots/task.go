package slots

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

// Task is the one outstanding fetch a slot may own. Tasks are compared by
// identity: two tasks for the same URL are still different tasks.
type Task struct {
	ID         string
	Slot       SlotID
	URL        string
	Generation uint64

	ctx       context.Context
	release   context.CancelFunc
	cancelled atomic.Bool
}

func newTask(parent context.Context, slot SlotID, url string, generation uint64) *Task {
	ctx, release := context.WithCancel(parent)
	return &Task{
		ID:         uuid.NewString(),
		Slot:       slot,
		URL:        url,
		Generation: generation,
		ctx:        ctx,
		release:    release,
	}
}

// Cancel flags the task and aborts its transfer. A task that is already past
// the point of observing cancellation still completes; its result is discarded.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
	t.release()
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// Context is the context the task's fetch runs under.
func (t *Task) Context() context.Context {
	return t.ctx
}
