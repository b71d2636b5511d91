package pipeline

import (
	"context"
	"errors"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/annotator"
	"github.com/dj-oyu/baby-safety-monitor/internal/metrics"
	"github.com/dj-oyu/baby-safety-monitor/internal/pose"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []*Update
	frames  bool
}

func (p *recordingPublisher) Publish(u *Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *recordingPublisher) WantsFrames() bool { return p.frames }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

type fakeArchiver struct {
	mu      sync.Mutex
	records []alerts.Record
}

func (a *fakeArchiver) Enqueue(records []alerts.Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, records...)
	return nil
}

func newTestService(opts Options) (*Service, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	opts.Ledger = alerts.NewLedger(alerts.Options{Clock: mock})
	return New(opts), mock
}

// criticalFrame has a baby 50px from a knife and 150px from a cup.
func criticalFrame(n uint64) *types.FrameReport {
	return &types.FrameReport{
		FrameNumber: n,
		Detections: []types.RawDetection{
			{ClassName: "baby", Confidence: 0.9, BBox: types.BoundingBox{100, 100, 100, 100}},
			{ClassName: "knife", Confidence: 0.8, BBox: types.BoundingBox{150, 100, 150, 100}},
			{ClassName: "cup", Confidence: 0.8, BBox: types.BoundingBox{250, 100, 250, 100}},
			{ClassName: "pen", Confidence: 0.2, BBox: types.BoundingBox{101, 100, 101, 100}},
		},
	}
}

func TestProcessClassifiesAndPublishes(t *testing.T) {
	arch := &fakeArchiver{}
	m := metrics.New()
	svc, _ := newTestService(Options{Archiver: arch, Metrics: m})
	pub := &recordingPublisher{}
	svc.AddPublisher(pub)

	u := svc.Process(criticalFrame(7))

	if u.Babies != 1 || u.Hazards != 2 {
		t.Fatalf("babies=%d hazards=%d, want 1 and 2", u.Babies, u.Hazards)
	}
	if !u.Result.HasCritical || len(u.Result.Pairs) != 2 {
		t.Fatalf("result = %+v", u.Result)
	}
	if u.Summary.CriticalNow != 1 || u.Summary.Total != 1 {
		t.Errorf("summary = %+v", u.Summary)
	}
	if u.Reach != nil {
		t.Error("reach must be nil without landmarks")
	}
	if u.JPEG != nil {
		t.Error("annotated without a frame consumer")
	}
	if pub.count() != 1 {
		t.Errorf("published %d updates, want 1", pub.count())
	}
	if len(arch.records) != 1 || arch.records[0].Hazard != "knife" {
		t.Errorf("archived = %+v", arch.records)
	}
	if m.FramesProcessed.Load() != 1 || m.CriticalAlerts.Load() != 1 || m.CriticalNow.Load() != 1 {
		t.Errorf("metrics not updated")
	}

	st := svc.Status()
	if st.FramesProcessed != 1 || st.LastFrameNumber != 7 || !st.CooldownElapsed {
		t.Errorf("status = %+v", st)
	}
}

func TestProcessAnnotatesForFrameConsumers(t *testing.T) {
	svc, _ := newTestService(Options{Annotator: annotator.New(0)})
	pub := &recordingPublisher{frames: true}
	svc.AddPublisher(pub)

	if u := svc.Process(criticalFrame(1)); len(u.JPEG) == 0 {
		t.Fatal("expected an annotated frame")
	}
}

func TestProcessWithLandmarks(t *testing.T) {
	svc, _ := newTestService(Options{})
	f := criticalFrame(1)
	f.Landmarks = make([]types.Landmark, 5) // Too short for the 33-point layout

	u := svc.Process(f)
	if u.Reach == nil || u.Reach.IsReaching {
		t.Fatalf("reach = %+v, want a non-reaching state", u.Reach)
	}
}

const replayLog = `{"frame_number":1,"detections":[{"class_name":"baby","confidence":0.9,"bbox":[0,0,0,0]},{"class_name":"knife","confidence":0.9,"bbox":[60,0,60,0]}]}

not json
{"frame_number":2,"detections":[{"class_name":"baby","confidence":0.9,"bbox":[0,0,0,0]}]}
{"frame_number":3,"detections":[]}
`

func TestRunReplayToEOF(t *testing.T) {
	svc, _ := newTestService(Options{})
	pub := &recordingPublisher{}
	svc.AddPublisher(pub)

	src := NewReplaySource(strings.NewReader(replayLog), 0, nil)
	if err := svc.Run(context.Background(), src); err != nil {
		t.Fatalf("run: %v", err)
	}

	if pub.count() != 3 {
		t.Fatalf("published %d frames, want 3", pub.count())
	}
	if src.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", src.Skipped())
	}
	s := svc.Summary()
	if s.Total != 1 || s.CriticalNow != 0 {
		t.Errorf("summary = %+v, want one historic alert and none current", s)
	}
	if st := svc.Status(); st.LastFrameNumber != 3 || st.Running {
		t.Errorf("status = %+v", st)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, _ := newTestService(Options{})
	src := NewChannelSource(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, src) }()

	if err := src.Push(criticalFrame(1)); err != nil {
		t.Fatalf("push: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	svc, _ := newTestService(Options{})
	src := NewChannelSource(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go svc.Run(ctx, src)
	deadline := time.Now().Add(2 * time.Second)
	for !svc.Status().Running {
		if time.Now().After(deadline) {
			t.Fatal("first run never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := svc.Run(ctx, NewChannelSource(1)); err == nil {
		t.Fatal("second concurrent run must fail")
	}
}

func TestChannelSourceFull(t *testing.T) {
	src := NewChannelSource(1)
	if err := src.Push(criticalFrame(1)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := src.Push(criticalFrame(2)); !errors.Is(err, ErrSourceFull) {
		t.Fatalf("err = %v, want ErrSourceFull", err)
	}

	src.Close()
	if err := src.Push(criticalFrame(3)); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("err = %v, want ErrSourceClosed", err)
	}

	// Queued reports drain before EOF
	if f, err := src.Next(context.Background()); err != nil || f.FrameNumber != 1 {
		t.Fatalf("next = %v, %v", f, err)
	}
	if _, err := src.Next(context.Background()); err == nil {
		t.Fatal("expected EOF after drain")
	}
}

func TestReplayPacing(t *testing.T) {
	mock := clock.NewMock()
	src := NewReplaySource(strings.NewReader(replayLog), 100*time.Millisecond, mock)

	if _, err := src.Next(context.Background()); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	got := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		got <- err
	}()

	select {
	case <-got:
		t.Fatal("second frame returned before the interval elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	for i := 0; i < 100; i++ {
		select {
		case err := <-got:
			if err != nil {
				t.Fatalf("second frame: %v", err)
			}
			return
		default:
			mock.Add(10 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
	t.Fatal("second frame never arrived")
}

// reachingPose extends the left arm with the wrist at (0.25, 0.5).
func reachingPose() []types.Landmark {
	lms := make([]types.Landmark, pose.NumLandmarks)
	lms[pose.Nose] = types.Landmark{X: 0.5, Y: 0.1}
	lms[pose.LeftShoulder] = types.Landmark{X: 0.25, Y: 0.3}
	lms[pose.LeftElbow] = types.Landmark{X: 0.25, Y: 0.32}
	lms[pose.LeftWrist] = types.Landmark{X: 0.25, Y: 0.5}
	lms[pose.RightShoulder] = types.Landmark{X: 0.75, Y: 0.3}
	lms[pose.RightElbow] = types.Landmark{X: 0.75, Y: 0.4}
	lms[pose.RightWrist] = types.Landmark{X: 0.75, Y: 0.5}
	lms[pose.LeftHip] = types.Landmark{X: 0.4, Y: 0.8}
	lms[pose.RightHip] = types.Landmark{X: 0.6, Y: 0.8}
	return lms
}

func TestProcessUsesConfiguredFrameSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		report        types.FrameReport
		want          image.Point
	}{
		{"defaults", 0, 0, types.FrameReport{}, image.Pt(160, 240)},
		{"configured", 1280, 720, types.FrameReport{}, image.Pt(320, 360)},
		{"report wins", 1280, 720, types.FrameReport{Width: 800, Height: 600}, image.Pt(200, 300)},
		{"partial report", 1280, 720, types.FrameReport{Width: 800}, image.Pt(200, 360)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(Options{FrameWidth: tt.width, FrameHeight: tt.height})
			f := tt.report
			f.Landmarks = reachingPose()

			u := svc.Process(&f)
			if u.Reach == nil || u.Reach.HandPosition == nil {
				t.Fatalf("reach = %+v, want a hand position", u.Reach)
			}
			if got := *u.Reach.HandPosition; got != tt.want {
				t.Errorf("hand position = %v, want %v", got, tt.want)
			}
		})
	}
}
