package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/internal/metrics"
)

var (
	// ErrClosed is returned when enqueueing on a closed writer
	ErrClosed = errors.New("archive: writer closed")
	// ErrBufferFull is returned when the writer cannot keep up
	ErrBufferFull = errors.New("archive: buffer full")
)

const (
	writeTimeout = 5 * time.Second
	drainTimeout = 2 * time.Second
)

// Sink receives batches of records. *Store is the production sink.
type Sink interface {
	Insert(ctx context.Context, records []alerts.Record) error
}

// Writer moves records to a Sink on its own goroutine so the frame loop never
// waits on the database.
type Writer struct {
	sink    Sink
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed bool
	ch     chan []alerts.Record
}

// NewWriter creates a writer buffering up to size batches. m may be nil.
func NewWriter(sink Sink, size int, m *metrics.Metrics) *Writer {
	if size <= 0 {
		size = 1
	}
	return &Writer{
		sink:    sink,
		metrics: m,
		ch:      make(chan []alerts.Record, size),
	}
}

// Enqueue hands a frame's records to the writer (non-blocking).
func (w *Writer) Enqueue(records []alerts.Record) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	select {
	case w.ch <- records:
		return nil
	default:
		if w.metrics != nil {
			w.metrics.ArchiveDropped.Add(uint64(len(records)))
		}
		return ErrBufferFull
	}
}

// Close stops accepting records. Run drains what is buffered and returns.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// Run writes batches until the writer is closed or ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	for {
		select {
		case records, ok := <-w.ch:
			if !ok {
				return nil
			}
			w.write(ctx, records)
		case <-ctx.Done():
			w.Close()
			w.drain()
			return nil
		}
	}
}

func (w *Writer) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for records := range w.ch {
		w.write(ctx, records)
	}
}

func (w *Writer) write(ctx context.Context, records []alerts.Record) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := w.sink.Insert(ctx, records); err != nil {
		logger.Warn("Archive", "Failed to archive %d alerts: %v", len(records), err)
		if w.metrics != nil {
			w.metrics.ArchiveErrors.Add(1)
		}
		return
	}
	if w.metrics != nil {
		w.metrics.ArchiveWritten.Add(uint64(len(records)))
	}
}
