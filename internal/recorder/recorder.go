// Package recorder writes ingested frame reports to JSON-lines files that the
// replay command can read back.
package recorder

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

var (
	// ErrAlreadyRecording is returned by Start while a recording is active
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop when nothing is being recorded
	ErrNotRecording = errors.New("not recording")
)

// frameBuffer holds about three seconds of reports at 10 fps
const frameBuffer = 32

// Recorder records frame reports to file
type Recorder struct {
	mu        sync.RWMutex
	basePath  string
	now       func() time.Time
	file      *os.File
	filename  string
	recording bool
	startTime time.Time
	stopTime  time.Time
	frameChan chan []byte
	wg        sync.WaitGroup

	frameCount   atomic.Uint64
	bytesWritten atomic.Uint64
	dropped      atomic.Uint64
}

// NewRecorder creates a recorder writing under basePath
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath: basePath,
		now:      time.Now,
	}
}

// Start starts recording to a new file and returns its path
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}

	// Generate filename with timestamp
	start := r.now()
	name := fmt.Sprintf("recording_%s.jsonl", start.Format("20060102_150405"))
	path := filepath.Join(r.basePath, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.filename = path
	r.recording = true
	r.startTime = start
	r.stopTime = time.Time{}
	r.frameCount.Store(0)
	r.bytesWritten.Store(0)
	r.dropped.Store(0)
	r.frameChan = make(chan []byte, frameBuffer)

	r.wg.Add(1)
	go r.writeFrames(file, r.frameChan)

	logger.Info("Recorder", "Recording frames to %s", path)
	return path, nil
}

// Stop stops recording and returns the path of the finished file
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	r.stopTime = r.now()
	close(r.frameChan)
	r.frameChan = nil
	file := r.file
	r.file = nil
	path := r.filename
	r.mu.Unlock()

	// Wait for write goroutine to drain the queue
	r.wg.Wait()

	if err := file.Sync(); err != nil {
		file.Close()
		return path, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return path, fmt.Errorf("failed to close file: %w", err)
	}

	logger.Info("Recorder", "Stopped recording %s (%d frames, %d dropped)", path, r.frameCount.Load(), r.dropped.Load())
	return path, nil
}

// SendFrame queues a report for recording (non-blocking). It returns false
// when not recording or when the queue is full.
func (r *Recorder) SendFrame(frame *types.FrameReport) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	line, err := json.Marshal(frame)
	if err != nil {
		logger.Warn("Recorder", "Failed to encode frame %d: %v", frame.FrameNumber, err)
		r.dropped.Add(1)
		return false
	}

	select {
	case r.frameChan <- line:
		return true
	default:
		// Channel full, drop frame
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) writeFrames(file *os.File, frames <-chan []byte) {
	defer r.wg.Done()

	w := bufio.NewWriter(file)
	failed := false
	for line := range frames {
		if failed {
			r.dropped.Add(1)
			continue
		}
		n, err := w.Write(line)
		if err == nil {
			err = w.WriteByte('\n')
			n++
		}
		if err != nil {
			// Keep draining so SendFrame never blocks behind a dead file
			logger.Error("Recorder", "Write failed, dropping the rest of the recording: %v", err)
			failed = true
			continue
		}
		r.bytesWritten.Add(uint64(n))
		r.frameCount.Add(1)
	}
	if err := w.Flush(); err != nil {
		logger.Error("Recorder", "Flush failed: %v", err)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	switch {
	case r.recording:
		duration = r.now().Sub(r.startTime)
	case !r.stopTime.IsZero():
		duration = r.stopTime.Sub(r.startTime)
	}

	return Status{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount.Load(),
		BytesWritten: r.bytesWritten.Load(),
		Dropped:      r.dropped.Load(),
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording
func (r *Recorder) Close() error {
	if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		return err
	}
	return nil
}

// Status holds the current recording status
type Status struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
