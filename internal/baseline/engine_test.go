package baseline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/argusstack/argus/internal/models"
	"github.com/argusstack/argus/internal/storage"
)

// fakeArchive serves a fixed sample set, honouring the scan's time range.
type fakeArchive struct {
	samples []models.Sample
}

func (f *fakeArchive) Scan(ctx context.Context, endpoint string, since, until time.Time, fn func(models.Sample) error) error {
	for _, s := range f.samples {
		if endpoint != "" && s.Endpoint != endpoint {
			continue
		}
		if s.Timestamp.Before(since) || !s.Timestamp.Before(until) {
			continue
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// slotSamples produces n samples inside the same Tuesday-14:00 slot.
func slotSamples(endpoint string, n int, latency func(i int) float64) []models.Sample {
	// 2026-03-10 is a Tuesday.
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	samples := make([]models.Sample, 0, n)
	for i := 0; i < n; i++ {
		samples = append(samples, models.Sample{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Endpoint:   endpoint,
			StatusCode: 200,
			LatencyMS:  latency(i),
			QueryCount: 4,
		})
	}
	return samples
}

func TestEngineRecomputeAndLookup(t *testing.T) {
	archive := &fakeArchive{samples: slotSamples("/api/users", 10, func(i int) float64 {
		return float64(100 + i*10) // 100..190
	})}
	engine := NewEngine(archive, nil, time.UTC, 168*time.Hour, 5)

	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	if err := engine.Recompute(context.Background(), now); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	// Same Tuesday 14:xx instant maps to the warm slot.
	slot, ok := engine.Lookup("/api/users", time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	if !ok {
		t.Fatal("expected warm slot")
	}
	if slot.MeanLatencyMS != 145 {
		t.Fatalf("expected mean 145, got %f", slot.MeanLatencyMS)
	}
	// nearest-rank p95 of 10 sorted values is index int(10*0.95)=9.
	if slot.P95LatencyMS != 190 {
		t.Fatalf("expected p95 190, got %f", slot.P95LatencyMS)
	}
	if slot.MeanQueryCount != 4 {
		t.Fatalf("expected mean query count 4, got %f", slot.MeanQueryCount)
	}
	if slot.SampleCount != 10 {
		t.Fatalf("expected 10 samples, got %d", slot.SampleCount)
	}

	// Population stddev of 100..190 step 10.
	wantStddev := math.Sqrt(825)
	if math.Abs(slot.StddevLatency-wantStddev) > 1e-9 {
		t.Fatalf("expected stddev %f, got %f", wantStddev, slot.StddevLatency)
	}
}

func TestEngineColdSlot(t *testing.T) {
	archive := &fakeArchive{samples: slotSamples("/api/users", 3, func(int) float64 { return 100 })}
	engine := NewEngine(archive, nil, time.UTC, 168*time.Hour, 5)

	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	if err := engine.Recompute(context.Background(), now); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	// Three samples are below the five-sample floor.
	if _, ok := engine.Lookup("/api/users", time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)); ok {
		t.Fatal("expected cold slot below sample floor")
	}

	// A different hour has no samples at all.
	if _, ok := engine.Lookup("/api/users", time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)); ok {
		t.Fatal("expected no slot for empty hour")
	}
}

func TestEngineRecomputeIdempotent(t *testing.T) {
	archive := &fakeArchive{samples: slotSamples("/api/users", 8, func(i int) float64 { return float64(50 + i) })}
	engine := NewEngine(archive, nil, time.UTC, 168*time.Hour, 5)

	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	ts := time.Date(2026, 3, 10, 14, 5, 0, 0, time.UTC)

	if err := engine.Recompute(context.Background(), now); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	first, _ := engine.Lookup("/api/users", ts)

	if err := engine.Recompute(context.Background(), now); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	second, _ := engine.Lookup("/api/users", ts)

	if first != second {
		t.Fatalf("recompute not idempotent: %+v vs %+v", first, second)
	}
}

// Round trip through the real archive: every appended sample's contribution
// must show up in the recomputed slot.
func TestEngineRoundTripFromArchive(t *testing.T) {
	archive, err := storage.NewArchiveStore(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer archive.Close()

	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		err := archive.Append(models.Sample{
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
			Endpoint:   "/api/checkout",
			StatusCode: 200,
			LatencyMS:  120,
			QueryCount: 3,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	engine := NewEngine(archive, nil, time.UTC, 168*time.Hour, 5)
	if err := engine.Recompute(context.Background(), base.Add(2*time.Hour)); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	slot, ok := engine.Lookup("/api/checkout", base.Add(30*time.Minute))
	if !ok {
		t.Fatal("expected warm slot from archived samples")
	}
	if slot.MeanLatencyMS != 120 || slot.SampleCount != 6 {
		t.Fatalf("archived samples not reflected: %+v", slot)
	}
}

func TestEngineHealth(t *testing.T) {
	archive := &fakeArchive{samples: slotSamples("/api/users", 6, func(int) float64 { return 100 })}
	engine := NewEngine(archive, nil, time.UTC, 168*time.Hour, 5)

	health := engine.Health()
	if health.SlotCount != 0 || !health.LastComputedAt.IsZero() {
		t.Fatalf("expected empty health before recompute, got %+v", health)
	}

	now := time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)
	if err := engine.Recompute(context.Background(), now); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	health = engine.Health()
	if health.SlotCount != 1 || health.Endpoints != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
	if !health.LastComputedAt.Equal(now) {
		t.Fatalf("expected computedAt %v, got %v", now, health.LastComputedAt)
	}
}
