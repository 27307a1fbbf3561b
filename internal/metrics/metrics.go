package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeResolved labels investigations that ended in a resolved incident.
	OutcomeResolved = "resolved"
	// OutcomeDismissed labels investigations dismissed below the confidence gate.
	OutcomeDismissed = "dismissed"
	// OutcomeFailed labels investigations terminated by a stage failure.
	OutcomeFailed = "failed"
)

var (
	samplesIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "samples_ingested_total",
			Help:      "Total samples accepted by the ingestion boundary.",
		},
	)

	samplesRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "samples_rejected_total",
			Help:      "Total samples rejected at ingestion, partitioned by reason.",
		},
		[]string{"reason"},
	)

	detectorTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "detector_ticks_total",
			Help:      "Total detector poll ticks completed.",
		},
	)

	incidentsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "incidents_opened_total",
			Help:      "Total confirmed incidents, partitioned by trigger metric.",
		},
		[]string{"trigger"},
	)

	investigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "argus",
			Name:      "investigations_total",
			Help:      "Total investigations handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	investigationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "argus",
			Name:      "investigation_seconds",
			Help:      "Investigation wall time in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
	)

	baselineRecomputeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "argus",
			Name:      "baseline_recompute_seconds",
			Help:      "Baseline recomputation duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	baselineSlots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "argus",
			Name:      "baseline_slots",
			Help:      "Warm baseline slots in the current snapshot.",
		},
	)
)

// Register attaches argus collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesIngestedTotal,
		samplesRejectedTotal,
		detectorTicksTotal,
		incidentsOpenedTotal,
		investigationsTotal,
		investigationDurationSeconds,
		baselineRecomputeSeconds,
		baselineSlots,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIngest counts one accepted sample.
func ObserveIngest() {
	samplesIngestedTotal.Inc()
}

// ObserveIngestRejected counts one rejected sample.
func ObserveIngestRejected(reason string) {
	samplesRejectedTotal.WithLabelValues(reason).Inc()
}

// ObserveDetectorTick counts one completed poll tick.
func ObserveDetectorTick() {
	detectorTicksTotal.Inc()
}

// ObserveIncidentOpened counts one confirmed incident.
func ObserveIncidentOpened(trigger string) {
	incidentsOpenedTotal.WithLabelValues(trigger).Inc()
}

// ObserveInvestigation records an investigation duration and outcome label.
func ObserveInvestigation(duration time.Duration, outcome string) {
	investigationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	investigationDurationSeconds.Observe(duration.Seconds())
}

// ObserveBaselineRecompute records a recompute duration and resulting slot count.
func ObserveBaselineRecompute(duration time.Duration, slots int) {
	baselineRecomputeSeconds.Observe(duration.Seconds())
	baselineSlots.Set(float64(slots))
}
