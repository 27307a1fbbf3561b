package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/argusstack/argus/internal/models"
)

func TestArchiveRoundTrip(t *testing.T) {
	archive, err := NewArchiveStore(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer archive.Close()

	base := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)
	want := []models.Sample{
		{Timestamp: base, Endpoint: "/a", StatusCode: 200, LatencyMS: 100},
		{Timestamp: base.Add(10 * time.Minute), Endpoint: "/a", StatusCode: 200, LatencyMS: 150},
		{Timestamp: base.Add(time.Hour), Endpoint: "/a", StatusCode: 200, LatencyMS: 200},
	}
	for _, s := range want {
		if err := archive.Append(s); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var got []models.Sample
	err = archive.Scan(context.Background(), "/a", base.Add(-time.Hour), base.Add(3*time.Hour), func(s models.Sample) error {
		got = append(got, s)
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range got {
		if !got[i].Timestamp.Equal(want[i].Timestamp) || got[i].LatencyMS != want[i].LatencyMS {
			t.Fatalf("sample %d mismatch: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestArchiveScanFilters(t *testing.T) {
	archive, err := NewArchiveStore(t.TempDir())
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer archive.Close()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	samples := []models.Sample{
		{Timestamp: base, Endpoint: "/a", StatusCode: 200},
		{Timestamp: base.Add(time.Minute), Endpoint: "/b", StatusCode: 200},
		{Timestamp: base.Add(2 * time.Minute), Endpoint: "/a", StatusCode: 200},
	}
	for _, s := range samples {
		if err := archive.Append(s); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	count := 0
	err = archive.Scan(context.Background(), "/a", base, base.Add(time.Hour), func(s models.Sample) error {
		if s.Endpoint != "/a" {
			t.Fatalf("endpoint filter leaked %q", s.Endpoint)
		}
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 samples for /a, got %d", count)
	}

	// Half-open range: until excludes the boundary sample.
	count = 0
	err = archive.Scan(context.Background(), "", base, base.Add(2*time.Minute), func(models.Sample) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 samples in half-open range, got %d", count)
	}
}

func TestArchiveSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewArchiveStore(dir)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := archive.Append(models.Sample{Timestamp: ts, Endpoint: "/a", StatusCode: 200, LatencyMS: 42}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewArchiveStore(dir)
	if err != nil {
		t.Fatalf("reopen archive: %v", err)
	}
	defer reopened.Close()

	count := 0
	err = reopened.Scan(context.Background(), "", ts.Add(-time.Hour), ts.Add(time.Hour), func(models.Sample) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("scan after reopen: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 sample after reopen, got %d", count)
	}
}

func TestArchiveCorruptSegment(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewArchiveStore(dir)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer archive.Close()

	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	partition := filepath.Join(dir, "year=2026", "month=03", "day=10", "hour=12")
	if err := os.MkdirAll(partition, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(partition, "events-0.jsonl.sz"), []byte("not snappy"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	err = archive.Scan(context.Background(), "", ts, ts.Add(time.Hour), func(models.Sample) error { return nil })
	if err == nil {
		t.Fatal("expected error for corrupt segment")
	}
}
