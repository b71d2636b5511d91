package alerts

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
)

const (
	// DefaultWindow is the age limit of the alerts returned by Summary
	DefaultWindow = 60 * time.Second
	// DefaultLimit is the number of alerts returned by Summary
	DefaultLimit = 10
	// DefaultCooldown is the minimum spacing between last-alert marker updates
	DefaultCooldown = 5 * time.Second
	// DefaultMaxHistory caps the number of retained records
	DefaultMaxHistory = 10000
)

// Options configures a Ledger. Zero values select the defaults.
type Options struct {
	Retention  time.Duration // Records older than this are pruned on write
	MaxHistory int
	Cooldown   time.Duration
	Clock      clock.Clock
}

// Summary is the payload served to polling clients.
// Total always equals len(Alerts).
type Summary struct {
	Alerts      []Record `json:"alerts"`
	Total       int      `json:"total"`
	CriticalNow int      `json:"critical_now"`
	Timestamp   float64  `json:"timestamp"`
}

// Stats describes the ledger state for the status endpoint.
type Stats struct {
	HistorySize   int       `json:"history_size"`
	CriticalNow   int       `json:"critical_now"`
	LastAlertTime time.Time `json:"-"`
	Evicted       uint64    `json:"evicted"`
}

// Ledger is the process-lifetime alert state. One writer commits frames;
// any number of readers query it.
type Ledger struct {
	clock      clock.Clock
	retention  time.Duration
	maxHistory int
	cooldown   time.Duration

	mu            sync.RWMutex
	history       []Record // Chronological
	critical      []Record // Current frame only
	lastAlertTime time.Time
	evicted       uint64
}

// NewLedger creates an empty ledger.
func NewLedger(opts Options) *Ledger {
	if opts.Retention <= 0 {
		opts.Retention = DefaultWindow
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Ledger{
		clock:      opts.Clock,
		retention:  opts.Retention,
		maxHistory: opts.MaxHistory,
		cooldown:   opts.Cooldown,
		history:    make([]Record, 0, 64),
	}
}

// Clock returns the ledger time source.
func (l *Ledger) Clock() clock.Clock {
	return l.clock
}

// Commit appends a frame's records to history and replaces the current
// critical set in one step. It moves the last-alert marker when the frame has
// critical alerts and the cooldown has elapsed, and reports whether it did.
// The cooldown never suppresses records.
func (l *Ledger) Commit(now time.Time, records, critical []Record) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, records...)
	l.critical = append(l.critical[:0], critical...)

	marked := false
	if len(critical) > 0 && now.Sub(l.lastAlertTime) >= l.cooldown {
		l.lastAlertTime = now
		marked = true
	}

	l.pruneLocked(now)
	return marked
}

// pruneLocked drops records past the retention window, then enforces the size cap.
func (l *Ledger) pruneLocked(now time.Time) {
	n := len(l.history)
	drop := 0
	for drop < n && now.Sub(l.history[drop].Time()) > l.retention {
		drop++
	}
	if over := n - drop - l.maxHistory; over > 0 {
		drop += over
	}
	if drop == 0 {
		return
	}

	copy(l.history, l.history[drop:])
	clear(l.history[n-drop:])
	l.history = l.history[:n-drop]
	l.evicted += uint64(drop)

	logger.Debug("Ledger", "Pruned %d alerts (retained %d)", drop, len(l.history))
}

// Recent returns up to limit of the newest records no older than window,
// oldest first. A non-positive limit returns every matching record.
func (l *Ledger) Recent(window time.Duration, limit int) []Record {
	now := l.clock.Now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.recentLocked(now, window, limit)
}

func (l *Ledger) recentLocked(now time.Time, window time.Duration, limit int) []Record {
	matched := make([]Record, 0, len(l.history))
	for _, r := range l.history {
		if now.Sub(r.Time()) <= window {
			matched = append(matched, r)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// Summary returns the default recent window together with the current critical count.
func (l *Ledger) Summary() Summary {
	now := l.clock.Now()

	l.mu.RLock()
	defer l.mu.RUnlock()

	recent := l.recentLocked(now, DefaultWindow, DefaultLimit)
	return Summary{
		Alerts:      recent,
		Total:       len(recent),
		CriticalNow: len(l.critical),
		Timestamp:   Epoch(now),
	}
}

// CurrentCritical returns a copy of the critical alerts from the last frame.
func (l *Ledger) CurrentCritical() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Record, len(l.critical))
	copy(out, l.critical)
	return out
}

// LastAlertTime returns the cooldown marker; zero until the first critical frame.
func (l *Ledger) LastAlertTime() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastAlertTime
}

// Stats returns a snapshot of the ledger counters.
func (l *Ledger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Stats{
		HistorySize:   len(l.history),
		CriticalNow:   len(l.critical),
		LastAlertTime: l.lastAlertTime,
		Evicted:       l.evicted,
	}
}
