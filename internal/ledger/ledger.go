// Package ledger tracks the open positions routed through this process,
// one bucket per index, each ordered by the time the position entered.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ismaiel54/alert-trade-router/internal/execution"
	"github.com/ismaiel54/alert-trade-router/internal/index"
)

// ErrUnknownBucket is returned for an index key with no bucket.
var ErrUnknownBucket = errors.New("ledger: unknown index")

// Record is one open position in a bucket.
type Record struct {
	Timestamp int64          `json:"timestamp"`
	Ticket    int64          `json:"ticket"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Ledger holds a bucket for every configured index. Timestamps are
// unique across the ledger and strictly increasing in assignment order.
type Ledger struct {
	mu      sync.RWMutex
	keys    []string
	buckets map[string][]Record
	last    int64
	now     func() time.Time
}

// New creates an empty bucket for each key.
func New(keys []string) *Ledger {
	l := &Ledger{
		keys:    append([]string(nil), keys...),
		buckets: make(map[string][]Record, len(keys)),
		now:     time.Now,
	}
	for _, k := range keys {
		l.buckets[k] = []Record{}
	}
	return l
}

// SetClock overrides the time source used by Add.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Keys returns the bucket keys in configured order.
func (l *Ledger) Keys() []string {
	return append([]string(nil), l.keys...)
}

// Add records a new position under key, stamped with the current time
// in milliseconds (bumped when needed to stay unique).
func (l *Ledger) Add(key string, ticket int64, fields map[string]any) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.buckets[key]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBucket, key)
	}

	ts := l.now().UnixMilli()
	if ts <= l.last {
		ts = l.last + 1
	}
	l.insertLocked(key, Record{Timestamp: ts, Ticket: ticket, Fields: fields})
	return ts, nil
}

// Remove deletes the record stamped ts from key's bucket.
func (l *Ledger) Remove(key string, ts int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.removeLocked(key, func(r Record) bool { return r.Timestamp == ts })
}

// RemoveTicket deletes the record holding ticket from key's bucket.
func (l *Ledger) RemoveTicket(key string, ticket int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.removeLocked(key, func(r Record) bool { return r.Ticket == ticket })
}

// Clear empties key's bucket and returns how many records it held.
func (l *Ledger) Clear(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.buckets[key])
	if _, ok := l.buckets[key]; ok {
		l.buckets[key] = []Record{}
	}
	return n
}

// Len returns the size of key's bucket.
func (l *Ledger) Len(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets[key])
}

// Records returns a copy of key's bucket, oldest first.
func (l *Ledger) Records(key string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Record(nil), l.buckets[key]...)
}

// Snapshot copies every bucket, including empty ones.
func (l *Ledger) Snapshot() map[string][]Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string][]Record, len(l.buckets))
	for k, recs := range l.buckets {
		out[k] = append([]Record{}, recs...)
	}
	return out
}

// PositionSource lists the broker's open positions.
type PositionSource interface {
	OpenPositions(ctx context.Context) (map[string]map[int64]execution.Position, error)
}

// SeedResult summarizes a Seed call.
type SeedResult struct {
	Loaded  int
	Ignored []string
}

// Seed rebuilds every bucket from the broker's open positions, keyed by
// their open time. Positions on symbols the mapper does not know are
// ignored.
func (l *Ledger) Seed(ctx context.Context, src PositionSource, mapper *index.Mapper) (SeedResult, error) {
	positions, err := src.OpenPositions(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("seed ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range l.keys {
		l.buckets[k] = []Record{}
	}

	var res SeedResult
	symbols := make([]string, 0, len(positions))
	for s := range positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		key, ok := mapper.KeyForSymbol(symbol)
		if _, known := l.buckets[key]; !ok || !known {
			res.Ignored = append(res.Ignored, symbol)
			continue
		}
		byTime := positions[symbol]
		for _, ts := range execution.SortedTimes(byTime) {
			p := byTime[ts]
			l.insertLocked(key, Record{Timestamp: ts, Ticket: p.Ticket, Fields: p.Fields()})
			res.Loaded++
		}
	}
	return res, nil
}

func (l *Ledger) insertLocked(key string, rec Record) {
	recs := l.buckets[key]
	i := sort.Search(len(recs), func(i int) bool { return recs[i].Timestamp > rec.Timestamp })
	recs = append(recs, Record{})
	copy(recs[i+1:], recs[i:])
	recs[i] = rec
	l.buckets[key] = recs

	if rec.Timestamp > l.last {
		l.last = rec.Timestamp
	}
}

func (l *Ledger) removeLocked(key string, match func(Record) bool) bool {
	recs := l.buckets[key]
	for i, r := range recs {
		if match(r) {
			l.buckets[key] = append(recs[:i], recs[i+1:]...)
			return true
		}
	}
	return false
}
