// Package dispatch provides the bounded statistics and trace-event
// storage used by the object runtime's metaCall path (spec §4.4). It is
// deliberately independent of the object package's types so it can be
// reused by anything that dispatches calls and wants a bounded, not
// unbounded, per-key history — see §9 "Trace ID overflow... trace
// consumers treat them as opaque correlation keys", which rules out
// keeping every trace event forever.
package dispatch

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Sample is one completed call's timing, keyed by method id in a Histogram.
type Sample struct {
	Wall time.Duration
	CPU  time.Duration
}

// MethodStats is the running aggregate for one method id; the recent
// samples themselves stay inside the Histogram.
type MethodStats struct {
	Count     int64
	WallTotal time.Duration
	CPUTotal  time.Duration
	Min       time.Duration
	Max       time.Duration
}

// Histogram aggregates per-method call statistics with a bounded recent-
// sample window per method, backed by an expirable LRU so long-running
// processes never accumulate unbounded memory for hot methods.
type Histogram struct {
	mu      sync.Mutex
	agg     map[uint32]*MethodStats
	samples *lru.LRU[uint32, []Sample]
	window  int
}

// NewHistogram returns a Histogram keeping at most `window` recent
// samples per method id, with per-method entries expiring after ttl of
// inactivity (0 disables expiry).
func NewHistogram(window int, ttl time.Duration) *Histogram {
	return &Histogram{
		agg:     map[uint32]*MethodStats{},
		samples: lru.NewLRU[uint32, []Sample](4096, nil, ttl),
		window:  window,
	}
}

// Record adds one completed call's timing for methodID.
func (h *Histogram) Record(methodID uint32, s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms, ok := h.agg[methodID]
	if !ok {
		ms = &MethodStats{Min: s.Wall, Max: s.Wall}
		h.agg[methodID] = ms
	}
	ms.Count++
	ms.WallTotal += s.Wall
	ms.CPUTotal += s.CPU
	if s.Wall < ms.Min {
		ms.Min = s.Wall
	}
	if s.Wall > ms.Max {
		ms.Max = s.Wall
	}

	recent, _ := h.samples.Get(methodID)
	recent = append(recent, s)
	if len(recent) > h.window {
		recent = recent[len(recent)-h.window:]
	}
	h.samples.Add(methodID, recent)
}

// Stats returns a copy of the aggregate for methodID, or the zero value
// if nothing has been recorded.
func (h *Histogram) Stats(methodID uint32) MethodStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ms, ok := h.agg[methodID]; ok {
		return *ms
	}
	return MethodStats{}
}

// RecentSamples returns the bounded window of the most recent samples
// recorded for methodID, oldest first.
func (h *Histogram) RecentSamples(methodID uint32) []Sample {
	recent, _ := h.samples.Get(methodID)
	out := make([]Sample, len(recent))
	copy(out, recent)
	return out
}

// TraceRing is a bounded, per-object ring buffer of EventTrace-shaped
// entries, keyed by a 32-bit monotonic trace id per §9's "Trace ID
// overflow" note: wraparound is acceptable since consumers treat the id
// as an opaque correlation key, not a total order.
type TraceRing[T any] struct {
	mu      sync.Mutex
	entries *lru.LRU[uint32, T]
	nextID  uint32
}

// NewTraceRing returns a ring retaining at most capacity entries.
func NewTraceRing[T any](capacity int) *TraceRing[T] {
	return &TraceRing[T]{entries: lru.NewLRU[uint32, T](capacity, nil, 0)}
}

// NextID allocates the next monotonic (wrapping) trace id.
func (r *TraceRing[T]) NextID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return r.nextID
}

// Add records an entry under id.
func (r *TraceRing[T]) Add(id uint32, v T) {
	r.entries.Add(id, v)
}

// All returns every currently-retained entry, in no particular order.
func (r *TraceRing[T]) All() []T {
	keys := r.entries.Keys()
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		if v, ok := r.entries.Get(k); ok {
			out = append(out, v)
		}
	}
	return out
}
