package cache

// Monitoring middleware for cache stores

import (
	"strconv"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	labelMethod     = "method"
	labelHit        = "hit"
	labelTransition = "transition"
)

var (
	cacheRequests = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "slotimage",
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Cache requests by method and hit/miss.",
	}, []string{labelMethod, labelHit})
	tierTransitions = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "slotimage",
		Subsystem: "cache",
		Name:      "tier_transitions_total",
		Help:      "Entries moving between the strong and soft tiers, or leaving the cache.",
	}, []string{labelTransition})
)

type instrumentedStore[K comparable, V any] struct {
	next Store[K, V]
}

// Instrument wraps a Store so that every Get and Put is counted.
func Instrument[K comparable, V any](next Store[K, V]) Store[K, V] {
	return &instrumentedStore[K, V]{next: next}
}

func (i *instrumentedStore[K, V]) Get(key K) (V, bool) {
	v, ok := i.next.Get(key)
	cacheRequests.With(labelMethod, "Get", labelHit, strconv.FormatBool(ok)).Add(1)
	return v, ok
}

func (i *instrumentedStore[K, V]) Put(key K, value V) {
	i.next.Put(key, value)
	cacheRequests.With(labelMethod, "Put", labelHit, "n/a").Add(1)
}
