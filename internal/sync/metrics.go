package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentscan_sync_cycles_total",
		Help: "Completed sync cycles (watermark advanced).",
	})
	cycleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentscan_sync_cycle_failures_total",
		Help: "Sync cycles aborted before the watermark advanced.",
	})
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentscan_events_applied_total",
		Help: "Decoded events applied to the store, by contract group.",
	}, []string{"contract"})
)
