// Package ratelimit provides fixed-window admission control for outbound
// provider requests, tracked independently per request category.
package ratelimit

import (
	"errors"
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Category identifies an independent admission bucket.
type Category string

// Request categories issued against the weather provider.
const (
	CategoryWeather  Category = "weather"
	CategoryForecast Category = "forecast"
	CategorySearch   Category = "search"
)

// ErrAdmissionDenied is returned by callers that refuse a request because its
// category has no admissions left in the current window.
var ErrAdmissionDenied = errors.New("client rate limit reached")

// DefaultWindow is the admission window length.
const DefaultWindow = 60 * time.Second

// DefaultLimits returns the per-window limits for the known categories.
// Search gets a higher allowance because it is driven by typing.
func DefaultLimits() map[Category]int {
	return map[Category]int{
		CategoryWeather:  10,
		CategoryForecast: 10,
		CategorySearch:   30,
	}
}

// Config holds configuration for a Limiter.
type Config struct {
	// Window is the admission window (default: 60 seconds).
	Window time.Duration

	// Limits maps each category to the number of admissions per window.
	// If nil, uses DefaultLimits.
	Limits map[Category]int

	// Clock is the time source (default: the real clock).
	Clock clock.Clock
}

// Limiter admits or rejects request attempts per category using a log of
// admission timestamps. Categories without a configured limit are always
// admitted: the limiter fails open for anything it was not told to police.
type Limiter struct {
	window time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	buckets map[Category]*bucket
}

type bucket struct {
	limit      int
	timestamps []time.Time
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}

	limits := cfg.Limits
	if limits == nil {
		limits = DefaultLimits()
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewClock()
	}

	buckets := make(map[Category]*bucket, len(limits))
	for cat, limit := range limits {
		buckets[cat] = &bucket{
			limit:      limit,
			timestamps: make([]time.Time, 0, limit),
		}
	}

	return &Limiter{
		window:  window,
		clock:   clk,
		buckets: buckets,
	}
}

// Admit reports whether a new request in the category may proceed, recording
// it when it does. A rejection leaves the bucket untouched.
func (l *Limiter) Admit(cat Category) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[cat]
	if !ok {
		return true
	}

	now := l.clock.Now()
	b.purge(now, l.window)

	if len(b.timestamps) >= b.limit {
		return false
	}

	b.timestamps = append(b.timestamps, now)
	return true
}

// Remaining returns how many admissions are left in the current window for the
// category. The second return value is false for unknown categories.
func (l *Limiter) Remaining(cat Category) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[cat]
	if !ok {
		return 0, false
	}

	b.purge(l.clock.Now(), l.window)
	return b.limit - len(b.timestamps), true
}

// Status is a point-in-time view of one category's bucket.
type Status struct {
	Limit     int
	Remaining int

	// ResetAt is when the oldest admission leaves the window, freeing a
	// slot. An empty bucket resets now.
	ResetAt time.Time

	// RetryAfter is how long until an admission is possible. Zero while
	// admissions remain.
	RetryAfter time.Duration
}

// Status reports the category's bucket. The second return value is false for
// unknown categories.
func (l *Limiter) Status(cat Category) (Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[cat]
	if !ok {
		return Status{}, false
	}

	now := l.clock.Now()
	b.purge(now, l.window)

	st := Status{
		Limit:     b.limit,
		Remaining: b.limit - len(b.timestamps),
		ResetAt:   now,
	}
	if len(b.timestamps) > 0 {
		st.ResetAt = b.timestamps[0].Add(l.window)
	}
	if st.Remaining <= 0 {
		st.Remaining = 0
		st.RetryAfter = st.ResetAt.Sub(now)
	}
	return st, true
}

// Limit returns the configured limit for a category.
func (l *Limiter) Limit(cat Category) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[cat]
	if !ok {
		return 0, false
	}
	return b.limit, true
}

// Window returns the admission window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Categories returns the policed categories in sorted order.
func (l *Limiter) Categories() []Category {
	l.mu.Lock()
	defer l.mu.Unlock()

	cats := make([]Category, 0, len(l.buckets))
	for cat := range l.buckets {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
	return cats
}

// purge drops timestamps that have left the window. Timestamps are appended
// in order, so the expired ones form a prefix.
func (b *bucket) purge(now time.Time, window time.Duration) {
	keep := 0
	for keep < len(b.timestamps) && now.Sub(b.timestamps[keep]) >= window {
		keep++
	}
	if keep > 0 {
		b.timestamps = append(b.timestamps[:0], b.timestamps[keep:]...)
	}
}
