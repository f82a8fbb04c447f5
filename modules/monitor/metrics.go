package monitor

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"tglogger/pkg/history"
)

// metrics holds the monitor collectors. Label cardinality stays bounded:
// kind has three values and outcome five.
type metrics struct {
	events  *prometheus.CounterVec
	entries prometheus.GaugeFunc
	sweeps  prometheus.Counter
	swept   prometheus.Counter
}

func newMetrics(cache *history.Cache) *metrics {
	return &metrics{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tglogger_events_total",
				Help: "Message events handled by the monitor, by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		entries: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tglogger_history_entries",
				Help: "Messages currently held in the history cache.",
			},
			func() float64 { return float64(cache.Len()) },
		),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tglogger_history_sweeps_total",
			Help: "History sweeps that ran past the cooldown.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tglogger_history_swept_entries_total",
			Help: "History entries removed by sweeps.",
		}),
	}
}

func (m *metrics) register(registerer prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{m.events, m.entries, m.sweeps, m.swept} {
		if err := registerer.Register(collector); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	return nil
}
