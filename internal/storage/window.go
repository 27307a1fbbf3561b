package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/argusstack/argus/internal/models"
)

// ErrNoData signals that an endpoint has no samples in the queried window.
// Callers must not treat silence as "normal"; a missing aggregate is not a
// zero aggregate.
var ErrNoData = errors.New("no samples in window")

// WindowStore is the bounded-retention in-memory sample store the detector
// queries on every tick. Samples older than the retention are evicted on
// write.
type WindowStore struct {
	mu        sync.RWMutex
	retention time.Duration
	samples   map[string][]models.Sample

	// Injectable clock for tests.
	now func() time.Time
}

// NewWindowStore creates a store keeping samples for the given retention.
func NewWindowStore(retention time.Duration) *WindowStore {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &WindowStore{
		retention: retention,
		samples:   make(map[string][]models.Sample),
		now:       time.Now,
	}
}

// Record appends a sample and evicts anything older than the retention for
// that endpoint. Appends are O(1) amortised; samples arrive roughly in
// timestamp order so eviction is a prefix trim.
func (s *WindowStore) Record(sample models.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.samples[sample.Endpoint], sample)
	cutoff := s.now().Add(-s.retention)
	trim := 0
	for trim < len(list) && list[trim].Timestamp.Before(cutoff) {
		trim++
	}
	s.samples[sample.Endpoint] = list[trim:]
}

// Aggregate computes live statistics over the trailing window ending now.
// Server errors (5xx) are excluded so one crashing request does not read as
// a latency regression. Returns ErrNoData when no samples qualify.
func (s *WindowStore) Aggregate(endpoint string, window time.Duration) (models.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	var latencies []float64
	var querySum float64

	for _, sample := range s.samples[endpoint] {
		if sample.Timestamp.Before(cutoff) || sample.StatusCode >= 500 {
			continue
		}
		latencies = append(latencies, sample.LatencyMS)
		querySum += float64(sample.QueryCount)
	}

	if len(latencies) == 0 {
		return models.Aggregate{}, ErrNoData
	}

	var latencySum float64
	for _, l := range latencies {
		latencySum += l
	}

	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)

	return models.Aggregate{
		MeanLatencyMS:  latencySum / float64(len(latencies)),
		P95LatencyMS:   nearestRank(sorted, 0.95),
		MeanQueryCount: querySum / float64(len(latencies)),
		Count:          len(latencies),
	}, nil
}

// Endpoints lists every endpoint with at least one retained sample.
func (s *WindowStore) Endpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	endpoints := make([]string, 0, len(s.samples))
	for ep, list := range s.samples {
		if len(list) > 0 {
			endpoints = append(endpoints, ep)
		}
	}
	sort.Strings(endpoints)
	return endpoints
}

// AffectedUsers returns distinct user IDs that saw latency above the
// threshold since the given time, capped at limit.
func (s *WindowStore) AffectedUsers(endpoint string, since time.Time, thresholdMS float64, limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var users []string
	for _, sample := range s.samples[endpoint] {
		if sample.UserID == "" || sample.Timestamp.Before(since) || sample.LatencyMS <= thresholdMS {
			continue
		}
		if _, ok := seen[sample.UserID]; ok {
			continue
		}
		seen[sample.UserID] = struct{}{}
		users = append(users, sample.UserID)
		if limit > 0 && len(users) >= limit {
			break
		}
	}
	return users
}

// RecentCommitSHAs returns distinct commit SHAs for an endpoint ordered by
// first appearance, newest first. A new SHA appearing means a deploy
// happened.
func (s *WindowStore) RecentCommitSHAs(endpoint string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	firstSeen := make(map[string]time.Time)
	for _, sample := range s.samples[endpoint] {
		if sample.CommitSHA == "" {
			continue
		}
		if t, ok := firstSeen[sample.CommitSHA]; !ok || sample.Timestamp.Before(t) {
			firstSeen[sample.CommitSHA] = sample.Timestamp
		}
	}

	shas := make([]string, 0, len(firstSeen))
	for sha := range firstSeen {
		shas = append(shas, sha)
	}
	sort.Slice(shas, func(i, j int) bool {
		return firstSeen[shas[i]].After(firstSeen[shas[j]])
	})
	return shas
}

// StatsExcludingCommit aggregates retained samples for an endpoint that do
// NOT carry the given commit SHA. Used to establish the "before" picture for
// a suspect deploy.
func (s *WindowStore) StatsExcludingCommit(endpoint, commitSHA string) (models.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latencies []float64
	var querySum float64
	for _, sample := range s.samples[endpoint] {
		if sample.CommitSHA == commitSHA || sample.StatusCode >= 500 {
			continue
		}
		latencies = append(latencies, sample.LatencyMS)
		querySum += float64(sample.QueryCount)
	}
	if len(latencies) == 0 {
		return models.Aggregate{}, ErrNoData
	}

	var latencySum float64
	for _, l := range latencies {
		latencySum += l
	}
	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)

	return models.Aggregate{
		MeanLatencyMS:  latencySum / float64(len(latencies)),
		P95LatencyMS:   nearestRank(sorted, 0.95),
		MeanQueryCount: querySum / float64(len(latencies)),
		Count:          len(latencies),
	}, nil
}

// Len returns the total retained sample count across endpoints.
func (s *WindowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, list := range s.samples {
		total += len(list)
	}
	return total
}

// Retention exposes the configured retention window.
func (s *WindowStore) Retention() time.Duration {
	return s.retention
}

// nearestRank computes a percentile using the nearest-rank rule
// sorted[int(n*q)] clamped to the last element. Reproducible across
// implementations; no interpolation.
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
