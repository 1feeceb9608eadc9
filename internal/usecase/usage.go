package usecase

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"agentkit/internal/domain"
)

// UsageTracker records per-call token usage and answers aggregation queries.
// Records live in an in-memory log; an optional store receives every record
// as a write-through so history survives restarts. Aggregate always serves
// from the in-memory log, so a Record followed by an Aggregate in the same
// process observes the new record.
type UsageTracker struct {
	mu      sync.RWMutex
	records []domain.UsageRecord

	store  domain.UsageStore
	logger *slog.Logger
}

// NewUsageTracker creates a tracker. store may be nil for in-memory-only
// operation.
func NewUsageTracker(store domain.UsageStore, logger *slog.Logger) *UsageTracker {
	return &UsageTracker{store: store, logger: logger}
}

// Load replays persisted records into the in-memory log. Call once at
// startup, before the tracker starts receiving new records.
func (t *UsageTracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	records, err := t.store.Query(ctx, domain.UsageFilter{})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.records = append(records, t.records...)
	t.mu.Unlock()
	return nil
}

// Record appends one usage record. Missing ID, Timestamp, and Cost are
// filled in. A write-through failure is logged and does not fail the call;
// the in-memory log is the source of truth for Aggregate.
func (t *UsageTracker) Record(ctx context.Context, rec domain.UsageRecord) {
	if rec.ID == "" {
		rec.ID = newULID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Cost == 0 {
		rec.Cost = domain.EstimateCost(rec.Model, rec.Usage)
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Record(ctx, &rec); err != nil {
			t.logger.Warn("usage write-through failed", "id", rec.ID, "error", err)
		}
	}
}

// Aggregate scans the log and returns totals for records matching the
// filter, optionally broken out by the filter's GroupBy dimension.
// Aggregate does not mutate the log; repeated calls with the same filter
// over an unchanged log return identical results.
func (t *UsageTracker) Aggregate(filter domain.UsageFilter) domain.AggregatedUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	agg := domain.AggregatedUsage{}
	if filter.GroupBy != domain.GroupByNone {
		agg.Groups = make(map[string]domain.GroupUsage)
	}

	for i := range t.records {
		rec := &t.records[i]
		if !matchesFilter(rec, filter) {
			continue
		}
		accumulate(&agg.GroupUsage, rec)

		if agg.Groups != nil {
			key := groupKey(rec, filter.GroupBy)
			group := agg.Groups[key]
			accumulate(&group, rec)
			agg.Groups[key] = group
		}
	}
	return agg
}

// Records returns a copy of the in-memory log, oldest first.
func (t *UsageTracker) Records() []domain.UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.UsageRecord, len(t.records))
	copy(out, t.records)
	return out
}

func matchesFilter(rec *domain.UsageRecord, filter domain.UsageFilter) bool {
	if filter.Model != "" && rec.Model != filter.Model {
		return false
	}
	if filter.User != "" && rec.User != filter.User {
		return false
	}
	if filter.RunID != "" && rec.RunID != filter.RunID {
		return false
	}
	if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && !rec.Timestamp.Before(filter.Until) {
		return false
	}
	return true
}

func accumulate(g *domain.GroupUsage, rec *domain.UsageRecord) {
	g.PromptTokens += rec.Usage.PromptTokens
	g.CompletionTokens += rec.Usage.CompletionTokens
	g.TotalTokens += rec.Usage.TotalTokens
	g.TotalCost += rec.Cost
	g.Requests++
}

func groupKey(rec *domain.UsageRecord, by domain.UsageGroupBy) string {
	switch by {
	case domain.GroupByModel:
		return rec.Model
	case domain.GroupByUser:
		return rec.User
	case domain.GroupByDay:
		return rec.Timestamp.UTC().Format("2006-01-02")
	default:
		return ""
	}
}

// newULID generates a lexicographically sortable unique id.
func newULID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
