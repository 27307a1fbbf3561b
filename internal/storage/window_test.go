package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/argusstack/argus/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestWindowStoreAggregate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewWindowStore(30 * time.Minute)
	store.now = fixedClock(now)

	for i, latency := range []float64{100, 200, 300, 400} {
		store.Record(models.Sample{
			Timestamp:  now.Add(-time.Duration(i) * time.Second),
			Endpoint:   "/api/users",
			StatusCode: 200,
			LatencyMS:  latency,
			QueryCount: 5,
		})
	}

	agg, err := store.Aggregate("/api/users", 3*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.Count != 4 {
		t.Fatalf("expected 4 samples, got %d", agg.Count)
	}
	if agg.MeanLatencyMS != 250 {
		t.Fatalf("expected mean 250, got %f", agg.MeanLatencyMS)
	}
	if agg.MeanQueryCount != 5 {
		t.Fatalf("expected mean query count 5, got %f", agg.MeanQueryCount)
	}
}

func TestWindowStoreNoData(t *testing.T) {
	store := NewWindowStore(30 * time.Minute)

	_, err := store.Aggregate("/api/missing", 3*time.Minute)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestWindowStoreExcludesServerErrors(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewWindowStore(30 * time.Minute)
	store.now = fixedClock(now)

	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 100})
	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 500, LatencyMS: 9000})

	agg, err := store.Aggregate("/a", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.Count != 1 || agg.MeanLatencyMS != 100 {
		t.Fatalf("5xx sample leaked into aggregate: %+v", agg)
	}
}

func TestWindowStoreEviction(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewWindowStore(10 * time.Minute)
	store.now = fixedClock(now)

	store.Record(models.Sample{Timestamp: now.Add(-20 * time.Minute), Endpoint: "/a", StatusCode: 200, LatencyMS: 50})
	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 100})

	if store.Len() != 1 {
		t.Fatalf("expected stale sample evicted, retained %d", store.Len())
	}
}

func TestWindowStoreAffectedUsers(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewWindowStore(30 * time.Minute)
	store.now = fixedClock(now)

	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 900, UserID: "u1"})
	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 950, UserID: "u1"})
	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 50, UserID: "u2"})
	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 800, UserID: "u3"})

	users := store.AffectedUsers("/a", now.Add(-time.Minute), 500, 10)
	if len(users) != 2 {
		t.Fatalf("expected 2 affected users, got %v", users)
	}
	if users[0] != "u1" || users[1] != "u3" {
		t.Fatalf("unexpected users: %v", users)
	}

	capped := store.AffectedUsers("/a", now.Add(-time.Minute), 500, 1)
	if len(capped) != 1 {
		t.Fatalf("expected cap of 1, got %v", capped)
	}
}

func TestWindowStoreRecentCommitSHAs(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewWindowStore(30 * time.Minute)
	store.now = fixedClock(now)

	store.Record(models.Sample{Timestamp: now.Add(-10 * time.Minute), Endpoint: "/a", StatusCode: 200, CommitSHA: "old"})
	store.Record(models.Sample{Timestamp: now.Add(-2 * time.Minute), Endpoint: "/a", StatusCode: 200, CommitSHA: "new"})
	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, CommitSHA: "new"})

	shas := store.RecentCommitSHAs("/a")
	if len(shas) != 2 || shas[0] != "new" || shas[1] != "old" {
		t.Fatalf("expected newest-first SHAs, got %v", shas)
	}
}

func TestWindowStoreStatsExcludingCommit(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewWindowStore(30 * time.Minute)
	store.now = fixedClock(now)

	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 100, CommitSHA: "before"})
	store.Record(models.Sample{Timestamp: now, Endpoint: "/a", StatusCode: 200, LatencyMS: 5000, CommitSHA: "suspect"})

	agg, err := store.StatsExcludingCommit("/a", "suspect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if agg.Count != 1 || agg.MeanLatencyMS != 100 {
		t.Fatalf("suspect commit leaked into stats: %+v", agg)
	}

	if _, err := store.StatsExcludingCommit("/a", ""); err != nil {
		t.Fatalf("unexpected error excluding empty SHA: %v", err)
	}
}
