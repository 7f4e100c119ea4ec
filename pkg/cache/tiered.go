package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultCapacity is the strong tier size used when none is configured.
const DefaultCapacity = 100

// TieredConfig holds the sizing of a TieredCache.
type TieredConfig struct {
	// Capacity bounds the strong tier. Must be > 0.
	Capacity int
	// SoftCapacity bounds the soft tier as a second LRU. Zero leaves the soft
	// tier unbounded, so only reclamation shrinks it.
	SoftCapacity int
}

// tieredItem is the internal structure stored in the strong tier's linked list.
type tieredItem[K comparable, V any] struct {
	key   K
	value V
}

// softRef is a reclaimable reference held by the soft tier. Once reclaimed the
// value is dropped and the ref stays behind as a tombstone until the next Get
// for its key evicts it.
type softRef[K comparable, V any] struct {
	key       K
	value     V
	reclaimed bool
}

// TieredCache is a thread-safe, two-tier cache.
//
// The strong tier is a fixed size LRU. When it overflows, its least recently
// used entry is demoted to the soft tier instead of being discarded. Soft
// entries stay retrievable until they are reclaimed (see Reclaim and
// ReleaseMemory); a Get that finds a live soft entry promotes it back into the
// strong tier. A key is resident in at most one tier at a time.
type TieredCache[K comparable, V any] struct {
	capacity     int
	softCapacity int
	logger       zerolog.Logger

	// mu covers both tiers: promotion during Get reorders the strong tier.
	mu     sync.Mutex
	strong *list.List // front is most recently used
	index  map[K]*list.Element
	soft   *list.List // front is most recently demoted
	refs   map[K]*list.Element
}

// NewTieredCache creates a new two-tier cache.
func NewTieredCache[K comparable, V any](cfg TieredConfig, logger zerolog.Logger) (*TieredCache[K, V], error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be greater than 0")
	}
	if cfg.SoftCapacity < 0 {
		return nil, fmt.Errorf("soft capacity cannot be negative")
	}
	return &TieredCache[K, V]{
		capacity:     cfg.Capacity,
		softCapacity: cfg.SoftCapacity,
		logger:       logger.With().Str("component", "TieredCache").Logger(),
		strong:       list.New(),
		index:        make(map[K]*list.Element),
		soft:         list.New(),
		refs:         make(map[K]*list.Element),
	}, nil
}

// Get checks the strong tier first and marks a hit as most recently used.
// On a strong miss it consults the soft tier: a live reference is promoted
// into the strong tier, a reclaimed one is evicted and reported absent.
func (c *TieredCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.strong.MoveToFront(elem)
		return elem.Value.(*tieredItem[K, V]).value, true
	}

	var zero V
	elem, ok := c.refs[key]
	if !ok {
		return zero, false
	}
	ref := c.soft.Remove(elem).(*softRef[K, V])
	delete(c.refs, key)
	if ref.reclaimed {
		tierTransitions.With(labelTransition, "evict_reclaimed").Add(1)
		c.logger.Debug().Str("key", fmt.Sprintf("%v", key)).Msg("Soft reference was reclaimed, reporting miss.")
		return zero, false
	}

	tierTransitions.With(labelTransition, "promote").Add(1)
	c.pushStrong(key, ref.value)
	return ref.value, true
}

// Put inserts or overwrites key in the strong tier as the most recently used
// entry. Empty values are ignored.
func (c *TieredCache[K, V]) Put(key K, value V) {
	if isEmpty(value) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		elem.Value.(*tieredItem[K, V]).value = value
		c.strong.MoveToFront(elem)
		return
	}
	if elem, ok := c.refs[key]; ok {
		c.soft.Remove(elem)
		delete(c.refs, key)
	}
	c.pushStrong(key, value)
}

// Reclaim drops the soft reference for key, as memory pressure would. It
// reports whether a live soft reference was found. Strong entries are never
// reclaimed.
func (c *TieredCache[K, V]) Reclaim(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.refs[key]
	if !ok {
		return false
	}
	return c.reclaim(elem.Value.(*softRef[K, V]))
}

// ReleaseMemory reclaims every live soft reference and returns how many were
// dropped. Hosts call it on a memory-pressure signal.
func (c *TieredCache[K, V]) ReleaseMemory() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	released := 0
	for elem := c.soft.Front(); elem != nil; elem = elem.Next() {
		if c.reclaim(elem.Value.(*softRef[K, V])) {
			released++
		}
	}
	if released > 0 {
		c.logger.Debug().Int("released", released).Msg("Soft tier released under memory pressure.")
	}
	return released
}

// Len returns the number of entries in each tier. Reclaimed tombstones still
// count towards the soft tier until a Get evicts them.
func (c *TieredCache[K, V]) Len() (strong, soft int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strong.Len(), c.soft.Len()
}

// StrongKeys returns the strong tier keys, least recently used first.
func (c *TieredCache[K, V]) StrongKeys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.strong.Len())
	for elem := c.strong.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(*tieredItem[K, V]).key)
	}
	return keys
}

// SoftKeys returns the soft tier keys, oldest demotion first.
func (c *TieredCache[K, V]) SoftKeys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.soft.Len())
	for elem := c.soft.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(*softRef[K, V]).key)
	}
	return keys
}

// pushStrong adds a new most recently used entry and demotes on overflow.
// Must be called with mu held.
func (c *TieredCache[K, V]) pushStrong(key K, value V) {
	c.index[key] = c.strong.PushFront(&tieredItem[K, V]{key: key, value: value})
	if c.strong.Len() > c.capacity {
		c.demote()
	}
}

// demote moves the least recently used strong entry into the soft tier.
// Must be called with mu held.
func (c *TieredCache[K, V]) demote() {
	elem := c.strong.Back()
	if elem == nil {
		return
	}
	item := c.strong.Remove(elem).(*tieredItem[K, V])
	delete(c.index, item.key)

	c.refs[item.key] = c.soft.PushFront(&softRef[K, V]{key: item.key, value: item.value})
	tierTransitions.With(labelTransition, "demote").Add(1)

	if c.softCapacity > 0 && c.soft.Len() > c.softCapacity {
		oldest := c.soft.Remove(c.soft.Back()).(*softRef[K, V])
		delete(c.refs, oldest.key)
		tierTransitions.With(labelTransition, "evict_soft").Add(1)
	}
}

// reclaim drops the value of a live reference. Must be called with mu held.
func (c *TieredCache[K, V]) reclaim(ref *softRef[K, V]) bool {
	if ref.reclaimed {
		return false
	}
	var zero V
	ref.value = zero
	ref.reclaimed = true
	tierTransitions.With(labelTransition, "reclaim").Add(1)
	return true
}
