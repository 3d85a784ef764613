package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/warden/internal/config"
)

const (
	defaultAnomalyWindow      = 5 * time.Minute
	defaultAnomalyMaxFailures = 5
)

// AnomalyDetector flags bursts of PIN failures per client using sliding
// windows. Lockout bounds guessing per pending action; this catches a
// client that keeps re-staging actions to guess again.
type AnomalyDetector struct {
	mu       sync.Mutex
	failures map[string]*slidingWindow
	window   time.Duration
	max      int
	now      func() time.Time
	logger   *slog.Logger
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	window := defaultAnomalyWindow
	maxFailures := defaultAnomalyMaxFailures
	if cfg != nil {
		if cfg.WindowSeconds > 0 {
			window = time.Duration(cfg.WindowSeconds) * time.Second
		}
		if cfg.MaxFailures > 0 {
			maxFailures = cfg.MaxFailures
		}
	}
	return &AnomalyDetector{
		failures: make(map[string]*slidingWindow),
		window:   window,
		max:      maxFailures,
		now:      time.Now,
		logger:   logger,
	}
}

// RecordFailure records a failed PIN attempt from client and reports
// whether the client is now above the threshold.
func (a *AnomalyDetector) RecordFailure(client string) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	w, ok := a.failures[client]
	if !ok {
		w = &slidingWindow{window: a.window}
		a.failures[client] = w
	}
	w.add(now, 1)

	count := w.sum(now)
	if count < float64(a.max) {
		return false
	}
	if a.logger != nil {
		a.logger.Warn("anomaly detected: repeated PIN failures",
			slog.String("client", client),
			slog.Int("failures", int(count)),
			slog.Int("threshold", a.max),
			slog.Duration("window", a.window),
		)
	}
	return true
}

// RecordSuccess clears the failure history of client.
func (a *AnomalyDetector) RecordSuccess(client string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	delete(a.failures, client)
	a.mu.Unlock()
}

// Failures returns the failure count of client within the window.
func (a *AnomalyDetector) Failures(client string) int {
	if a == nil {
		return 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.failures[client]
	if !ok {
		return 0
	}
	return int(w.sum(a.now()))
}

// add appends a value and prunes expired entries.
func (w *slidingWindow) add(now time.Time, value float64) {
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

// sum returns the total value within the window.
func (w *slidingWindow) sum(now time.Time) float64 {
	w.prune(now)
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
