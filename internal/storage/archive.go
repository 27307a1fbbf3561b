package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/argusstack/argus/internal/models"
)

// ArchiveStore is the durable, write-once sample archive and the source of
// truth for baseline training. Samples are appended as snappy-framed JSON
// lines into hive-style hour partitions:
//
//	<dir>/year=2026/month=08/day=30/hour=15/events-<nano>.jsonl.sz
//
// Hour partitioning means a range scan only opens the directories inside the
// requested range. There are no update or delete operations.
type ArchiveStore struct {
	dir string

	mu      sync.Mutex
	curHour time.Time
	file    *os.File
	writer  *snappy.Writer
}

// NewArchiveStore opens (creating if needed) an archive rooted at dir.
func NewArchiveStore(dir string) (*ArchiveStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &ArchiveStore{dir: dir}, nil
}

// Append durably writes one sample. The snappy frame is flushed and the file
// synced before returning, so an acked sample survives a process restart.
func (a *ArchiveStore) Append(sample models.Sample) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	hour := sample.Timestamp.UTC().Truncate(time.Hour)
	if a.writer == nil || !hour.Equal(a.curHour) {
		if err := a.rotateLocked(hour); err != nil {
			return err
		}
	}

	line, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	line = append(line, '\n')

	if _, err := a.writer.Write(line); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	if err := a.writer.Flush(); err != nil {
		return fmt.Errorf("flush sample: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	return nil
}

func (a *ArchiveStore) rotateLocked(hour time.Time) error {
	if a.writer != nil {
		a.writer.Close()
		a.file.Close()
		a.writer = nil
		a.file = nil
	}

	dir := a.partitionDir(hour)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition: %w", err)
	}

	name := fmt.Sprintf("events-%d.jsonl.sz", time.Now().UnixNano())
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}

	a.file = f
	a.writer = snappy.NewBufferedWriter(f)
	a.curHour = hour
	return nil
}

func (a *ArchiveStore) partitionDir(hour time.Time) string {
	return filepath.Join(
		a.dir,
		fmt.Sprintf("year=%04d", hour.Year()),
		fmt.Sprintf("month=%02d", int(hour.Month())),
		fmt.Sprintf("day=%02d", hour.Day()),
		fmt.Sprintf("hour=%02d", hour.Hour()),
	)
}

// Scan visits archived samples for one endpoint (or all endpoints when
// endpoint is empty) with timestamps in [since, until), ordered by timestamp
// ascending, invoking fn for each. Returning an error from fn stops the
// scan. Decode failures are surfaced as errors: a corrupt archive would
// silently poison every future baseline.
func (a *ArchiveStore) Scan(ctx context.Context, endpoint string, since, until time.Time, fn func(models.Sample) error) error {
	for hour := since.UTC().Truncate(time.Hour); hour.Before(until); hour = hour.Add(time.Hour) {
		if err := ctx.Err(); err != nil {
			return err
		}

		samples, err := a.readPartition(hour, endpoint, since, until)
		if err != nil {
			return err
		}
		sort.Slice(samples, func(i, j int) bool {
			return samples[i].Timestamp.Before(samples[j].Timestamp)
		})
		for _, sample := range samples {
			if err := fn(sample); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *ArchiveStore) readPartition(hour time.Time, endpoint string, since, until time.Time) ([]models.Sample, error) {
	dir := a.partitionDir(hour)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read partition %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl.sz") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var samples []models.Sample
	for _, name := range names {
		path := filepath.Join(dir, name)
		segment, err := readSegment(path, endpoint, since, until)
		if err != nil {
			return nil, err
		}
		samples = append(samples, segment...)
	}
	return samples, nil
}

func readSegment(path, endpoint string, since, until time.Time) ([]models.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer f.Close()

	var samples []models.Sample
	scanner := bufio.NewScanner(snappy.NewReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var sample models.Sample
		if err := json.Unmarshal(scanner.Bytes(), &sample); err != nil {
			return nil, fmt.Errorf("corrupt archive segment %s: %w", path, err)
		}
		if endpoint != "" && sample.Endpoint != endpoint {
			continue
		}
		if sample.Timestamp.Before(since) || !sample.Timestamp.Before(until) {
			continue
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("corrupt archive segment %s: %w", path, err)
	}
	return samples, nil
}

// Close flushes and closes the active segment.
func (a *ArchiveStore) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.writer == nil {
		return nil
	}
	if err := a.writer.Close(); err != nil {
		a.file.Close()
		return err
	}
	err := a.file.Close()
	a.writer = nil
	a.file = nil
	return err
}
