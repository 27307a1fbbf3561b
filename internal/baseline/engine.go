package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/argusstack/argus/internal/metrics"
	"github.com/argusstack/argus/internal/models"
)

// Archive is the durable sample source baselines are trained from. The
// recent window store is never consulted: the archive is the only recovery
// path, so the slot table must be recomputable from it alone.
type Archive interface {
	Scan(ctx context.Context, endpoint string, since, until time.Time, fn func(models.Sample) error) error
}

type slotKey struct {
	endpoint  string
	hourOfDay int
	dayOfWeek int
}

// snapshot is an immutable slot table. Readers see either the previous or
// the next table, never a partial mix.
type snapshot struct {
	slots      map[slotKey]models.BaselineSlot
	endpoints  map[string]struct{}
	computedAt time.Time
}

// Engine computes and serves expected performance per
// (endpoint, hour-of-day, day-of-week) slot.
type Engine struct {
	archive        Archive
	logger         *slog.Logger
	loc            *time.Location
	lookback       time.Duration
	minSlotSamples int

	snap atomic.Pointer[snapshot]
}

// NewEngine constructs a baseline engine. Slot bucketing uses the supplied
// reference timezone so "2pm Tuesday" means the same thing on every run.
func NewEngine(archive Archive, logger *slog.Logger, loc *time.Location, lookback time.Duration, minSlotSamples int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if lookback <= 0 {
		lookback = 168 * time.Hour
	}
	if minSlotSamples <= 0 {
		minSlotSamples = 5
	}
	e := &Engine{
		archive:        archive,
		logger:         logger,
		loc:            loc,
		lookback:       lookback,
		minSlotSamples: minSlotSamples,
	}
	e.snap.Store(&snapshot{slots: map[slotKey]models.BaselineSlot{}, endpoints: map[string]struct{}{}})
	return e
}

type slotAccum struct {
	latencies []float64
	querySum  float64
}

// Recompute scans the trailing lookback window of the archive, rebuilds the
// whole slot table, and swaps it in atomically. Running it twice against the
// same archive state yields the same slots.
func (e *Engine) Recompute(ctx context.Context, now time.Time) error {
	start := time.Now()
	since := now.Add(-e.lookback)

	accums := make(map[slotKey]*slotAccum)
	err := e.archive.Scan(ctx, "", since, now, func(sample models.Sample) error {
		ts := sample.Timestamp.In(e.loc)
		key := slotKey{
			endpoint:  sample.Endpoint,
			hourOfDay: ts.Hour(),
			dayOfWeek: int(ts.Weekday()),
		}
		acc, ok := accums[key]
		if !ok {
			acc = &slotAccum{}
			accums[key] = acc
		}
		acc.latencies = append(acc.latencies, sample.LatencyMS)
		acc.querySum += float64(sample.QueryCount)
		return nil
	})
	if err != nil {
		return fmt.Errorf("baseline scan: %w", err)
	}

	slots := make(map[slotKey]models.BaselineSlot, len(accums))
	endpoints := make(map[string]struct{})
	for key, acc := range accums {
		n := len(acc.latencies)
		// Slots below the sample floor stay cold; the detector treats them
		// as insufficient data rather than scoring against noise.
		if n < e.minSlotSamples {
			continue
		}

		var sum float64
		for _, l := range acc.latencies {
			sum += l
		}
		mean := sum / float64(n)

		var variance float64
		for _, l := range acc.latencies {
			variance += (l - mean) * (l - mean)
		}
		variance /= float64(n)

		sorted := append([]float64(nil), acc.latencies...)
		sort.Float64s(sorted)

		slots[key] = models.BaselineSlot{
			Endpoint:       key.endpoint,
			HourOfDay:      key.hourOfDay,
			DayOfWeek:      key.dayOfWeek,
			MeanLatencyMS:  mean,
			P95LatencyMS:   nearestRank(sorted, 0.95),
			MeanQueryCount: acc.querySum / float64(n),
			StddevLatency:  math.Sqrt(variance),
			SampleCount:    n,
		}
		endpoints[key.endpoint] = struct{}{}
	}

	e.snap.Store(&snapshot{slots: slots, endpoints: endpoints, computedAt: now})
	metrics.ObserveBaselineRecompute(time.Since(start), len(slots))
	e.logger.Info("baseline recomputed",
		slog.Int("slots", len(slots)),
		slog.Int("endpoints", len(endpoints)),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Lookup returns the slot applicable at the given instant. The second return
// is false when no warm slot exists; callers must skip scoring in that case
// instead of assuming a zero expected latency.
func (e *Engine) Lookup(endpoint string, ts time.Time) (models.BaselineSlot, bool) {
	snap := e.snap.Load()
	local := ts.In(e.loc)
	slot, ok := snap.slots[slotKey{
		endpoint:  endpoint,
		hourOfDay: local.Hour(),
		dayOfWeek: int(local.Weekday()),
	}]
	return slot, ok
}

// Health reports slot table freshness for the operational surface.
func (e *Engine) Health() models.BaselineHealth {
	snap := e.snap.Load()
	return models.BaselineHealth{
		LastComputedAt: snap.computedAt,
		SlotCount:      len(snap.slots),
		Endpoints:      len(snap.endpoints),
	}
}

// Run recomputes on the given interval until the context is cancelled. One
// recompute happens immediately so the detector is not blind at startup.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if err := e.Recompute(ctx, time.Now()); err != nil {
		e.logger.Error("baseline recompute failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := e.Recompute(ctx, now); err != nil {
				e.logger.Error("baseline recompute failed", slog.Any("error", err))
			}
		}
	}
}

// nearestRank returns sorted[int(n*q)], clamped to the last element. The
// rule is deliberately the simple nearest-rank form so recomputation is
// reproducible across implementations.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
