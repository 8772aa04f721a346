package sim

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"z4-server/quadtree"
)

const (
	kindLabel  = "kind"
	eventLabel = "event"
)

var (
	simTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "The time to run one game tick.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .016, .025, .05, .1},
	})

	simTickSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_tick_skipped",
		Help: "The number of ticks skipped because the clock went backwards.",
	})

	simObjects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_objects",
		Help: "The number of objects in all game worlds.",
	}, []string{kindLabel})

	simKills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sim_kills",
		Help: "The number of entities killed.",
	})

	simTreeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_tree_events",
		Help: "The structural changes of the game world indexes.",
	}, []string{eventLabel})
)

func instrumentTick(d time.Duration) {
	simTickDuration.Observe(d.Seconds())
}

func instrumentSkippedTick() {
	simTickSkipped.Inc()
}

func instrumentObjectAdded(k Kind) {
	simObjects.
		With(prometheus.Labels{kindLabel: k.String()}).
		Inc()
}

func instrumentObjectRemoved(k Kind) {
	simObjects.
		With(prometheus.Labels{kindLabel: k.String()}).
		Dec()
}

func instrumentKill() {
	simKills.Inc()
}

// instrumentTreeStats reports what changed in a tree since prev.
func instrumentTreeStats(prev, cur quadtree.Stats) {
	add := func(event string, before, after uint64) {
		if after > before {
			simTreeEvents.
				With(prometheus.Labels{eventLabel: event}).
				Add(float64(after - before))
		}
	}
	add("split", prev.Splits, cur.Splits)
	add("merge", prev.Merges, cur.Merges)
	add("relocation", prev.Relocations, cur.Relocations)
	add("drop", prev.Drops, cur.Drops)
}
