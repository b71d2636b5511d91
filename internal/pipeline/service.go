// Package pipeline runs the per-frame alerting loop: split detections, analyze
// pose, classify pairs, commit to the ledger and fan the result out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/annotator"
	"github.com/dj-oyu/baby-safety-monitor/internal/classifier"
	"github.com/dj-oyu/baby-safety-monitor/internal/detection"
	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/internal/metrics"
	"github.com/dj-oyu/baby-safety-monitor/internal/pose"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

// Update is everything one processed frame produced.
type Update struct {
	FrameNumber uint64
	CapturedAt  time.Time
	Babies      int
	Hazards     int
	Result      classifier.Result
	Reach       *pose.ReachState
	Summary     alerts.Summary
	JPEG        []byte // Annotated frame; nil unless a frame consumer asked for it
}

// Publisher receives every update. Publish must not block.
type Publisher interface {
	Publish(u *Update)
}

// FrameConsumer is a Publisher that also wants annotated frames.
type FrameConsumer interface {
	Publisher
	WantsFrames() bool
}

// Archiver accepts the records of a frame for persistence.
type Archiver interface {
	Enqueue(records []alerts.Record) error
}

// Options configures a Service.
type Options struct {
	Ledger    *alerts.Ledger
	Annotator *annotator.Annotator // nil disables annotation
	Archiver  Archiver             // nil disables archiving
	Metrics   *metrics.Metrics     // nil disables metrics

	// Frame size assumed for reports that omit width or height
	FrameWidth  int
	FrameHeight int
}

// Status is a snapshot of the loop counters.
type Status struct {
	FramesProcessed uint64    `json:"frames_processed"`
	LastFrameNumber uint64    `json:"last_frame_number"`
	LastFrameAt     time.Time `json:"last_frame_at"`
	LastAlertTime   time.Time `json:"last_alert_time"`
	CooldownElapsed bool      `json:"cooldown_elapsed"`
	HistorySize     int       `json:"history_size"`
	CriticalNow     int       `json:"critical_now"`
	Running         bool      `json:"running"`
}

// Service owns the classifier and the ledger. It is the only ledger writer.
type Service struct {
	ledger     *alerts.Ledger
	classifier *classifier.Classifier
	annotator  *annotator.Annotator
	archiver   Archiver
	metrics    *metrics.Metrics
	width      int
	height     int

	pubMu      sync.RWMutex
	publishers []Publisher

	running   atomic.Bool
	processed atomic.Uint64

	statusMu        sync.RWMutex
	lastFrameNumber uint64
	lastFrameAt     time.Time
	cooldownElapsed bool
}

// New creates a service. A nil ledger gets a default one.
func New(opts Options) *Service {
	if opts.Ledger == nil {
		opts.Ledger = alerts.NewLedger(alerts.Options{})
	}
	if opts.FrameWidth <= 0 {
		opts.FrameWidth = types.DefaultFrameWidth
	}
	if opts.FrameHeight <= 0 {
		opts.FrameHeight = types.DefaultFrameHeight
	}
	return &Service{
		ledger:     opts.Ledger,
		classifier: classifier.New(opts.Ledger),
		annotator:  opts.Annotator,
		archiver:   opts.Archiver,
		metrics:    opts.Metrics,
		width:      opts.FrameWidth,
		height:     opts.FrameHeight,
	}
}

// Ledger exposes the read side of the alert state.
func (s *Service) Ledger() *alerts.Ledger {
	return s.ledger
}

// Summary returns the alert summary served to polling clients.
func (s *Service) Summary() alerts.Summary {
	return s.ledger.Summary()
}

// AddPublisher registers p for every subsequent update.
func (s *Service) AddPublisher(p Publisher) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.publishers = append(s.publishers, p)
}

// Run processes frames from src until it is exhausted or ctx is cancelled.
// Only one Run may be active at a time.
func (s *Service) Run(ctx context.Context, src Source) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("pipeline: already running")
	}
	defer s.running.Store(false)

	logger.Info("Pipeline", "Frame loop started")
	for {
		f, err := src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Info("Pipeline", "Source exhausted after %d frames", s.processed.Load())
				return nil
			case ctx.Err() != nil:
				logger.Info("Pipeline", "Frame loop stopped")
				return nil
			default:
				return fmt.Errorf("read frame: %w", err)
			}
		}
		s.Process(f)
	}
}

// Process runs one frame through the pipeline and publishes the result.
func (s *Service) Process(f *types.FrameReport) *Update {
	start := time.Now()
	width, height := f.DimensionsOr(s.width, s.height)

	babies, hazards := detection.Split(f.Detections)

	var reach *pose.ReachState
	if len(f.Landmarks) > 0 {
		rs := pose.Analyze(f.Landmarks, width, height)
		reach = &rs
	}

	result := s.classifier.Classify(babies, hazards, reach)

	u := &Update{
		FrameNumber: f.FrameNumber,
		CapturedAt:  f.CaptureTime(),
		Babies:      len(babies),
		Hazards:     len(hazards),
		Result:      result,
		Reach:       reach,
		Summary:     s.ledger.Summary(),
	}

	s.recordMetrics(u, time.Since(start))
	s.recordStatus(u)

	if s.archiver != nil {
		if err := s.archiver.Enqueue(result.Records); err != nil {
			logger.Debug("Pipeline", "Archive enqueue failed for frame %d: %v", f.FrameNumber, err)
		}
	}

	publishers := s.snapshotPublishers()
	if s.annotator != nil && wantsFrames(publishers) {
		jpeg, err := s.annotator.Annotate(annotator.Frame{
			JPEG:    f.JPEG,
			Width:   width,
			Height:  height,
			Babies:  babies,
			Hazards: hazards,
			Pairs:   result.Pairs,
			Reach:   reach,
			Time:    s.ledger.Clock().Now(),
		})
		if err != nil {
			logger.Warn("Pipeline", "Failed to annotate frame %d: %v", f.FrameNumber, err)
			if s.metrics != nil {
				s.metrics.AnnotateErrors.Add(1)
			}
		} else {
			u.JPEG = jpeg
			if s.metrics != nil {
				s.metrics.FramesAnnotated.Add(1)
			}
		}
	}

	for _, p := range publishers {
		p.Publish(u)
	}

	if result.CooldownElapsed {
		logger.Warn("Pipeline", "Frame %d: %d critical alert(s)", f.FrameNumber, len(s.ledger.CurrentCritical()))
	}
	return u
}

// Status returns a snapshot of the loop state.
func (s *Service) Status() Status {
	st := s.ledger.Stats()

	s.statusMu.RLock()
	defer s.statusMu.RUnlock()

	return Status{
		FramesProcessed: s.processed.Load(),
		LastFrameNumber: s.lastFrameNumber,
		LastFrameAt:     s.lastFrameAt,
		LastAlertTime:   st.LastAlertTime,
		CooldownElapsed: s.cooldownElapsed,
		HistorySize:     st.HistorySize,
		CriticalNow:     st.CriticalNow,
		Running:         s.running.Load(),
	}
}

func (s *Service) recordStatus(u *Update) {
	s.processed.Add(1)

	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.lastFrameNumber = u.FrameNumber
	s.lastFrameAt = s.ledger.Clock().Now()
	s.cooldownElapsed = u.Result.CooldownElapsed
}

func (s *Service) recordMetrics(u *Update, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.FramesProcessed.Add(1)
	s.metrics.UpdateClassifyLatency(elapsed)
	if !u.CapturedAt.IsZero() {
		s.metrics.UpdateFrameLatency(u.CapturedAt)
	}
	for _, r := range u.Result.Records {
		switch r.Type {
		case alerts.Critical:
			s.metrics.CriticalAlerts.Add(1)
		case alerts.PreAlert:
			s.metrics.PreAlerts.Add(1)
		}
	}
	st := s.ledger.Stats()
	s.metrics.CriticalNow.Store(uint64(st.CriticalNow))
	s.metrics.HistorySize.Store(uint64(st.HistorySize))
}

func (s *Service) snapshotPublishers() []Publisher {
	s.pubMu.RLock()
	defer s.pubMu.RUnlock()
	return append([]Publisher(nil), s.publishers...)
}

func wantsFrames(publishers []Publisher) bool {
	for _, p := range publishers {
		if fc, ok := p.(FrameConsumer); ok && fc.WantsFrames() {
			return true
		}
	}
	return false
}
