package knowledge

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/argusstack/argus/internal/cache"
	"github.com/argusstack/argus/internal/models"
)

// Base is the incident knowledge base: an append-only archive of finished
// investigations and their outcomes, queried for similar past incidents
// during new investigations. Entries persist as JSON lines so the file can
// be inspected or replayed with standard tools.
type Base struct {
	path       string
	logger     *slog.Logger
	cache      cache.Provider
	similarTTL time.Duration

	mu      sync.RWMutex
	entries []models.KnowledgeEntry
	file    *os.File
}

// Open loads an existing knowledge file (if any) and readies it for appends.
func Open(path string, logger *slog.Logger, cacheProvider cache.Provider, similarTTL time.Duration) (*Base, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create knowledge dir: %w", err)
	}

	b := &Base{
		path:       path,
		logger:     logger,
		cache:      cacheProvider,
		similarTTL: similarTTL,
	}
	if err := b.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open knowledge file: %w", err)
	}
	b.file = f
	return b, nil
}

func (b *Base) load() error {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open knowledge file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry models.KnowledgeEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// A bad line loses one entry, not the whole base.
			b.logger.Warn("skipping malformed knowledge entry", slog.Any("error", err))
			continue
		}
		b.entries = append(b.entries, entry)
	}
	return scanner.Err()
}

// Store appends an entry. Entries are read-only after creation.
func (b *Base) Store(entry models.KnowledgeEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal knowledge entry: %w", err)
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.file.Write(line); err != nil {
		return fmt.Errorf("append knowledge entry: %w", err)
	}
	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("sync knowledge file: %w", err)
	}
	b.entries = append(b.entries, entry)
	return nil
}

// Similar returns the topK most similar past entries for a characterization,
// ordered by descending similarity with a stable recency tie-break. The
// scoring is term-frequency cosine over the entry's endpoint, root cause,
// and tags, so identical inputs always produce identical output.
func (b *Base) Similar(ctx context.Context, endpoint string, description string, tags []string, topK int) ([]models.KnowledgeEntry, error) {
	if topK <= 0 {
		topK = 5
	}

	query := termFrequencies(endpoint + " " + description + " " + strings.Join(tags, " "))
	cacheKey := similarCacheKey(endpoint, description, tags, topK)

	if data, err := b.cache.Get(ctx, cacheKey); err == nil {
		var cached []models.KnowledgeEntry
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
	}

	b.mu.RLock()
	type scored struct {
		entry models.KnowledgeEntry
		score float64
	}
	ranked := make([]scored, 0, len(b.entries))
	for _, entry := range b.entries {
		score := cosine(query, termFrequencies(entryText(entry)))
		if score <= 0 {
			continue
		}
		ranked = append(ranked, scored{entry: entry, score: score})
	}
	b.mu.RUnlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].entry.CreatedAt.After(ranked[j].entry.CreatedAt)
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	results := make([]models.KnowledgeEntry, 0, len(ranked))
	for _, r := range ranked {
		results = append(results, r.entry)
	}

	if data, err := json.Marshal(results); err == nil {
		if err := b.cache.Set(ctx, cacheKey, data, b.similarTTL); err != nil {
			b.logger.Debug("similar cache set failed", slog.Any("error", err))
		}
	}
	return results, nil
}

// Len returns the number of archived entries.
func (b *Base) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close closes the append handle.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

func entryText(entry models.KnowledgeEntry) string {
	parts := []string{entry.Incident.Endpoint, string(entry.Incident.TriggerMetric)}
	if entry.Record.RootCause != nil {
		parts = append(parts, entry.Record.RootCause.ConfirmedHypothesisTitle)
	}
	parts = append(parts, entry.Tags...)
	return strings.Join(parts, " ")
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func termFrequencies(text string) map[string]float64 {
	freqs := make(map[string]float64)
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		freqs[token]++
	}
	return freqs
}

func cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for term, av := range a {
		normA += av * av
		if bv, ok := b[term]; ok {
			dot += av * bv
		}
	}
	for _, bv := range b {
		normB += bv * bv
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func similarCacheKey(endpoint, description string, tags []string, topK int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", endpoint, description, strings.Join(tags, ","), topK)
	return "argus:similar:" + hex.EncodeToString(h.Sum(nil))[:32]
}
