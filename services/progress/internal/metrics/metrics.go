// Package metrics holds the Prometheus collectors of the progress service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "progress_sessions_active",
		Help: "Viewing sessions currently open",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_sessions_total",
		Help: "Viewing sessions opened, by media kind",
	}, []string{"media_kind"})

	SavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_saves_total",
		Help: "Progress writes issued by viewing sessions, by kind and result",
	}, []string{"kind", "result"})

	SeekCorrectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "progress_seek_corrections_total",
		Help: "Forward seeks snapped back to the max watched position",
	})

	GrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_reward_grants_total",
		Help: "Reward grant calls, by trigger and result",
	}, []string{"trigger", "result"})

	PlayerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_player_errors_total",
		Help: "Players that failed to initialise, by media kind",
	}, []string{"media_kind"})

	AggregateCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_aggregate_cache_total",
		Help: "Aggregate cache lookups, by level and outcome",
	}, []string{"level", "outcome"})

	AggregateFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_aggregate_fallbacks_total",
		Help: "Aggregate computations that fell back to zeroed values",
	}, []string{"level", "reason"})

	ConsumerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "progress_consumer_messages_total",
		Help: "Async progress writes handled by the consumer, by result",
	}, []string{"result"})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveSave records one progress write.
func ObserveSave(terminal bool, err error) {
	kind := "debounced"
	if terminal {
		kind = "terminal"
	}
	SavesTotal.WithLabelValues(kind, result(err)).Inc()
}

// ObserveGrant records one reward grant call.
func ObserveGrant(backfill bool, err error) {
	trigger := "threshold"
	if backfill {
		trigger = "backfill"
	}
	GrantsTotal.WithLabelValues(trigger, result(err)).Inc()
}

func ObserveCache(level string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	AggregateCacheTotal.WithLabelValues(level, outcome).Inc()
}
