package services

import (
	"sort"
	"time"
)

// SlidingWindow keeps ordered timestamps no older than its span. Counts for
// shorter windows are derived by filtering the same sequence, so hour and day
// figures can never drift apart.
type SlidingWindow struct {
	span   time.Duration
	stamps []time.Time
	head   int
}

// NewSlidingWindow creates a window retaining timestamps for span.
func NewSlidingWindow(span time.Duration) *SlidingWindow {
	return &SlidingWindow{
		span:   span,
		stamps: make([]time.Time, 0, 8),
	}
}

// Add records a timestamp and evicts everything older than the span relative to it.
// Out-of-order timestamps are inserted in place.
func (w *SlidingWindow) Add(at time.Time) {
	n := len(w.stamps)
	if n == w.head || !at.Before(w.stamps[n-1]) {
		w.stamps = append(w.stamps, at)
	} else {
		i := w.head + sort.Search(n-w.head, func(i int) bool {
			return w.stamps[w.head+i].After(at)
		})
		w.stamps = append(w.stamps, time.Time{})
		copy(w.stamps[i+1:], w.stamps[i:])
		w.stamps[i] = at
	}
	w.Evict(w.Latest().Add(-w.span))
}

// Evict drops timestamps strictly before cutoff.
func (w *SlidingWindow) Evict(cutoff time.Time) {
	for w.head < len(w.stamps) && w.stamps[w.head].Before(cutoff) {
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.stamps) {
		w.stamps = append([]time.Time{}, w.stamps[w.head:]...)
		w.head = 0
	}
}

// CountSince returns how many timestamps fall in [since, +inf).
func (w *SlidingWindow) CountSince(since time.Time) int {
	return len(w.stamps) - w.indexSince(since)
}

// NthSince returns the n-th (0-based) timestamp at or after since.
func (w *SlidingWindow) NthSince(since time.Time, n int) (time.Time, bool) {
	i := w.indexSince(since) + n
	if n < 0 || i >= len(w.stamps) {
		return time.Time{}, false
	}
	return w.stamps[i], true
}

// Latest returns the newest timestamp, or the zero time when empty.
func (w *SlidingWindow) Latest() time.Time {
	if len(w.stamps) == w.head {
		return time.Time{}
	}
	return w.stamps[len(w.stamps)-1]
}

// Len returns the number of retained timestamps.
func (w *SlidingWindow) Len() int {
	return len(w.stamps) - w.head
}

// Snapshot copies the retained timestamps.
func (w *SlidingWindow) Snapshot() []time.Time {
	out := make([]time.Time, w.Len())
	copy(out, w.stamps[w.head:])
	return out
}

func (w *SlidingWindow) indexSince(since time.Time) int {
	live := w.stamps[w.head:]
	return w.head + sort.Search(len(live), func(i int) bool {
		return !live[i].Before(since)
	})
}
