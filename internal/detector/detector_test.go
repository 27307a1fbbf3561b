package detector

import (
	"testing"
	"time"

	"github.com/argusstack/argus/internal/models"
	"github.com/argusstack/argus/internal/storage"
)

// fakeWindow scripts the aggregate the detector sees on each tick.
type fakeWindow struct {
	endpoints []string
	aggs      map[string]models.Aggregate
	noData    map[string]bool
	users     []string
	shas      []string
}

func (f *fakeWindow) Aggregate(endpoint string, _ time.Duration) (models.Aggregate, error) {
	if f.noData[endpoint] {
		return models.Aggregate{}, storage.ErrNoData
	}
	return f.aggs[endpoint], nil
}

func (f *fakeWindow) Endpoints() []string { return f.endpoints }

func (f *fakeWindow) AffectedUsers(string, time.Time, float64, int) []string { return f.users }

func (f *fakeWindow) RecentCommitSHAs(string) []string { return f.shas }

type fakeBaseline struct {
	slots map[string]models.BaselineSlot
}

func (f *fakeBaseline) Lookup(endpoint string, _ time.Time) (models.BaselineSlot, bool) {
	slot, ok := f.slots[endpoint]
	return slot, ok
}

func newTestDetector(window *fakeWindow, base *fakeBaseline) *Detector {
	return New(Config{
		Interval:         10 * time.Second,
		ShortWindow:      3 * time.Minute,
		AnomalyThreshold: 3.0,
		Strikes:          3,
	}, window, base, nil)
}

func TestDetectorThreeStrikesOpensIncident(t *testing.T) {
	window := &fakeWindow{
		endpoints: []string{"/api/users"},
		aggs:      map[string]models.Aggregate{"/api/users": {MeanLatencyMS: 700, MeanQueryCount: 4}},
		users:     []string{"u1", "u2"},
		shas:      []string{"abc123", "older"},
	}
	base := &fakeBaseline{slots: map[string]models.BaselineSlot{
		"/api/users": {MeanLatencyMS: 100, MeanQueryCount: 4},
	}}
	det := newTestDetector(window, base)

	det.Tick()
	det.Tick()
	if got := det.Strikes("/api/users"); got != 2 {
		t.Fatalf("expected 2 strikes, got %d", got)
	}

	det.Tick()

	select {
	case incident := <-det.Incidents():
		if incident.Endpoint != "/api/users" {
			t.Fatalf("wrong endpoint: %s", incident.Endpoint)
		}
		if incident.TriggerMetric != models.TriggerLatency {
			t.Fatalf("expected latency trigger, got %s", incident.TriggerMetric)
		}
		if incident.AnomalyScore != 7 {
			t.Fatalf("expected score 7, got %f", incident.AnomalyScore)
		}
		if incident.CommitSHA != "abc123" {
			t.Fatalf("expected newest commit SHA, got %q", incident.CommitSHA)
		}
		if incident.Status != models.StatusOpen {
			t.Fatalf("expected open status, got %s", incident.Status)
		}
		if len(incident.AffectedUserIDs) != 2 {
			t.Fatalf("expected affected users, got %v", incident.AffectedUserIDs)
		}
	default:
		t.Fatal("expected incident after third strike")
	}
}

func TestDetectorQueryCountTrigger(t *testing.T) {
	window := &fakeWindow{
		endpoints: []string{"/api/orders"},
		aggs:      map[string]models.Aggregate{"/api/orders": {MeanLatencyMS: 150, MeanQueryCount: 80}},
	}
	base := &fakeBaseline{slots: map[string]models.BaselineSlot{
		"/api/orders": {MeanLatencyMS: 100, MeanQueryCount: 4},
	}}
	det := newTestDetector(window, base)

	det.Tick()
	det.Tick()
	det.Tick()

	select {
	case incident := <-det.Incidents():
		if incident.TriggerMetric != models.TriggerQueryCount {
			t.Fatalf("expected query_count trigger, got %s", incident.TriggerMetric)
		}
		if incident.AnomalyScore != 20 {
			t.Fatalf("expected score 20, got %f", incident.AnomalyScore)
		}
	default:
		t.Fatal("expected incident")
	}
}

func TestDetectorCleanTickResetsStrikes(t *testing.T) {
	window := &fakeWindow{
		endpoints: []string{"/a"},
		aggs:      map[string]models.Aggregate{"/a": {MeanLatencyMS: 700}},
	}
	base := &fakeBaseline{slots: map[string]models.BaselineSlot{"/a": {MeanLatencyMS: 100}}}
	det := newTestDetector(window, base)

	det.Tick()
	det.Tick()

	// One healthy reading clears the slate.
	window.aggs["/a"] = models.Aggregate{MeanLatencyMS: 110}
	det.Tick()
	if got := det.Strikes("/a"); got != 0 {
		t.Fatalf("expected reset, got %d strikes", got)
	}

	window.aggs["/a"] = models.Aggregate{MeanLatencyMS: 700}
	det.Tick()
	det.Tick()
	select {
	case <-det.Incidents():
		t.Fatal("incident fired before strike threshold")
	default:
	}
}

func TestDetectorNoDataIsNotEvidence(t *testing.T) {
	window := &fakeWindow{
		endpoints: []string{"/a"},
		aggs:      map[string]models.Aggregate{"/a": {MeanLatencyMS: 700}},
		noData:    map[string]bool{},
	}
	base := &fakeBaseline{slots: map[string]models.BaselineSlot{"/a": {MeanLatencyMS: 100}}}
	det := newTestDetector(window, base)

	det.Tick()
	det.Tick()

	// A gap in traffic neither strikes nor resets.
	window.noData["/a"] = true
	det.Tick()
	if got := det.Strikes("/a"); got != 2 {
		t.Fatalf("expected strikes preserved across data gap, got %d", got)
	}

	window.noData["/a"] = false
	det.Tick()
	select {
	case <-det.Incidents():
	default:
		t.Fatal("expected incident on third anomalous reading")
	}
}

func TestDetectorColdBaselineSkipsScoring(t *testing.T) {
	window := &fakeWindow{
		endpoints: []string{"/new"},
		aggs:      map[string]models.Aggregate{"/new": {MeanLatencyMS: 9000}},
	}
	det := newTestDetector(window, &fakeBaseline{slots: map[string]models.BaselineSlot{}})

	det.Tick()
	if got := det.Strikes("/new"); got != 0 {
		t.Fatalf("expected no strikes without baseline, got %d", got)
	}
}

func TestDetectorFullQueueNeverBlocksTick(t *testing.T) {
	window := &fakeWindow{
		endpoints: []string{"/a", "/b"},
		aggs: map[string]models.Aggregate{
			"/a": {MeanLatencyMS: 700},
			"/b": {MeanLatencyMS: 700},
		},
	}
	base := &fakeBaseline{slots: map[string]models.BaselineSlot{
		"/a": {MeanLatencyMS: 100},
		"/b": {MeanLatencyMS: 100},
	}}
	det := New(Config{
		Interval:         10 * time.Second,
		ShortWindow:      3 * time.Minute,
		AnomalyThreshold: 3.0,
		Strikes:          1,
		QueueSize:        1,
	}, window, base, nil)

	// Both endpoints fire on one tick but only one queue slot exists. The
	// tick must return rather than wait for an investigation worker.
	done := make(chan struct{})
	go func() {
		det.Tick()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick blocked on full incident queue")
	}

	first := <-det.Incidents()
	if first.Endpoint != "/a" {
		t.Fatalf("expected /a queued first, got %s", first.Endpoint)
	}

	// The dropped endpoint was re-enabled and fires again now that the
	// queue has room; the queued one stays coalesced.
	det.Tick()
	select {
	case second := <-det.Incidents():
		if second.Endpoint != "/b" {
			t.Fatalf("expected dropped endpoint to re-fire, got %s", second.Endpoint)
		}
	default:
		t.Fatal("expected dropped incident to fire again")
	}
}

func TestDetectorOneActiveIncidentPerEndpoint(t *testing.T) {
	window := &fakeWindow{
		endpoints: []string{"/a"},
		aggs:      map[string]models.Aggregate{"/a": {MeanLatencyMS: 700}},
	}
	base := &fakeBaseline{slots: map[string]models.BaselineSlot{"/a": {MeanLatencyMS: 100}}}
	det := newTestDetector(window, base)

	for i := 0; i < 9; i++ {
		det.Tick()
	}

	count := 0
	for {
		select {
		case <-det.Incidents():
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Fatalf("expected exactly one incident while active, got %d", count)
	}

	// Terminal status re-enables detection.
	det.MarkResolved("/a")
	det.Tick()
	det.Tick()
	det.Tick()
	select {
	case <-det.Incidents():
	default:
		t.Fatal("expected new incident after resolution")
	}
}
