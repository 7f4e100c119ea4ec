package slots

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const labelEvent = "event"

var (
	taskEvents = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace: "slotimage",
		Subsystem: "slots",
		Name:      "task_events_total",
		Help:      "Slot task lifecycle events: started, reused, cancelled, rendered, failed, stale.",
	}, []string{labelEvent})
	outstandingTasks = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "slotimage",
		Subsystem: "slots",
		Name:      "outstanding_tasks",
		Help:      "Fetch tasks created and not yet completed.",
	}, []string{})
)
