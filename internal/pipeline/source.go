package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

var (
	// ErrSourceFull is returned by Push when the frame queue is full
	ErrSourceFull = errors.New("pipeline: frame queue full")
	// ErrSourceClosed is returned by Push after Close
	ErrSourceClosed = errors.New("pipeline: source closed")
)

// maxReplayLine bounds one JSON-lines record (base64 JPEG included)
const maxReplayLine = 16 << 20

// Source yields frame reports. Next returns io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (*types.FrameReport, error)
}

// ChannelSource is a bounded in-memory queue fed by the ingest endpoint.
type ChannelSource struct {
	mu     sync.Mutex
	closed bool
	ch     chan *types.FrameReport
}

// NewChannelSource creates a queue holding up to size reports.
func NewChannelSource(size int) *ChannelSource {
	if size <= 0 {
		size = 1
	}
	return &ChannelSource{ch: make(chan *types.FrameReport, size)}
}

// Push enqueues a report without blocking.
func (s *ChannelSource) Push(f *types.FrameReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSourceClosed
	}
	select {
	case s.ch <- f:
		return nil
	default:
		return ErrSourceFull
	}
}

// Len returns the number of queued reports.
func (s *ChannelSource) Len() int {
	return len(s.ch)
}

// Cap returns the queue capacity.
func (s *ChannelSource) Cap() int {
	return cap(s.ch)
}

// Close stops accepting reports; Next returns io.EOF once the queue drains.
func (s *ChannelSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Next blocks until a report is queued, the source is closed, or ctx is done.
func (s *ChannelSource) Next(ctx context.Context) (*types.FrameReport, error) {
	select {
	case f, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReplaySource reads JSON-lines frame reports, optionally paced.
type ReplaySource struct {
	scanner  *bufio.Scanner
	interval time.Duration
	clock    clock.Clock

	line    int
	skipped int
	last    time.Time
}

// NewReplaySource reads from r, yielding at most one report per interval.
// A zero interval replays as fast as possible. clk may be nil.
func NewReplaySource(r io.Reader, interval time.Duration, clk clock.Clock) *ReplaySource {
	if clk == nil {
		clk = clock.New()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	return &ReplaySource{
		scanner:  scanner,
		interval: interval,
		clock:    clk,
	}
}

// Skipped returns the number of malformed lines ignored so far.
func (s *ReplaySource) Skipped() int {
	return s.skipped
}

// Next returns the next well-formed report. Malformed lines are logged and skipped.
func (s *ReplaySource) Next(ctx context.Context) (*types.FrameReport, error) {
	for s.scanner.Scan() {
		s.line++
		data := s.scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var f types.FrameReport
		if err := json.Unmarshal(data, &f); err != nil {
			s.skipped++
			logger.Warn("Replay", "Skipping line %d: %v", s.line, err)
			continue
		}

		if err := s.pace(ctx); err != nil {
			return nil, err
		}
		return &f, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("replay line %d: %w", s.line+1, err)
	}
	return nil, io.EOF
}

func (s *ReplaySource) pace(ctx context.Context) error {
	if s.interval > 0 && !s.last.IsZero() {
		if wait := s.interval - s.clock.Since(s.last); wait > 0 {
			timer := s.clock.Timer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}
	s.last = s.clock.Now()
	return nil
}
