package fetch

// Monitoring middleware for fetchers

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const labelOutcome = "outcome"

var fetchDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
	Namespace: "slotimage",
	Subsystem: "fetch",
	Name:      "duration_seconds",
	Help:      "Duration of image fetches, in seconds, by outcome.",
	Buckets:   stdprometheus.DefBuckets,
}, []string{labelOutcome})

type instrumentedFetcher struct {
	next Fetcher
}

// Instrument wraps a Fetcher with a duration histogram labelled by outcome.
func Instrument(next Fetcher) Fetcher {
	return &instrumentedFetcher{next: next}
}

func (i *instrumentedFetcher) Fetch(ctx context.Context, url string) (img *Image, err error) {
	defer func(begin time.Time) {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
		}
		fetchDuration.With(labelOutcome, outcome).Observe(time.Since(begin).Seconds())
	}(time.Now())
	return i.next.Fetch(ctx, url)
}
