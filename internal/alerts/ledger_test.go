package alerts

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestLedger(opts Options) (*Ledger, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1_700_000_000, 0))
	opts.Clock = mock
	return NewLedger(opts), mock
}

func commitOne(l *Ledger, mock *clock.Mock, typ Type, hazard string) Record {
	r := NewRecord(typ, hazard, mock.Now())
	var critical []Record
	if typ == Critical {
		critical = []Record{r}
	}
	l.Commit(mock.Now(), []Record{r}, critical)
	return r
}

func TestRecentLimitAndOrder(t *testing.T) {
	l, mock := newTestLedger(Options{Retention: time.Hour})

	for i := 0; i < 15; i++ {
		commitOne(l, mock, PreAlert, fmt.Sprintf("hazard-%d", i))
		mock.Add(time.Second)
	}

	recent := l.Recent(60*time.Second, 10)
	if len(recent) != 10 {
		t.Fatalf("len = %d, want 10", len(recent))
	}
	for i, r := range recent {
		if want := fmt.Sprintf("hazard-%d", i+5); r.Hazard != want {
			t.Errorf("recent[%d] = %s, want %s", i, r.Hazard, want)
		}
	}
}

func TestRecentWindow(t *testing.T) {
	l, mock := newTestLedger(Options{Retention: time.Hour})

	commitOne(l, mock, Critical, "old")
	mock.Add(61 * time.Second)
	commitOne(l, mock, Critical, "new")

	recent := l.Recent(60*time.Second, 10)
	if len(recent) != 1 || recent[0].Hazard != "new" {
		t.Fatalf("recent = %+v, want only the new record", recent)
	}

	// Age equal to the window is still included
	mock.Add(60 * time.Second)
	if got := l.Recent(60*time.Second, 10); len(got) != 1 {
		t.Fatalf("record at exactly the window edge dropped: %+v", got)
	}
	mock.Add(time.Millisecond)
	if got := l.Recent(60*time.Second, 10); len(got) != 0 {
		t.Fatalf("expected no records past the window, got %+v", got)
	}
}

func TestRecentNoLimit(t *testing.T) {
	l, mock := newTestLedger(Options{})
	for i := 0; i < 12; i++ {
		commitOne(l, mock, PreAlert, "cup")
	}
	if got := l.Recent(time.Minute, 0); len(got) != 12 {
		t.Fatalf("len = %d, want 12", len(got))
	}
}

func TestSummaryTotalMatchesAlerts(t *testing.T) {
	l, mock := newTestLedger(Options{})

	s := l.Summary()
	if s.Total != len(s.Alerts) || s.Total != 0 {
		t.Fatalf("empty summary = %+v", s)
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := payload["alerts"].([]any); !ok {
		t.Fatalf("alerts must encode as an array, got %s", data)
	}

	for i := 0; i < 25; i++ {
		commitOne(l, mock, Critical, "knife")
		mock.Add(3 * time.Second)
	}
	s = l.Summary()
	if s.Total != len(s.Alerts) {
		t.Fatalf("total %d != len(alerts) %d", s.Total, len(s.Alerts))
	}
	if s.Total != DefaultLimit {
		t.Errorf("total = %d, want %d", s.Total, DefaultLimit)
	}
	if s.Timestamp != Epoch(mock.Now()) {
		t.Errorf("timestamp = %v, want %v", s.Timestamp, Epoch(mock.Now()))
	}
}

func TestCommitReplacesCriticalSet(t *testing.T) {
	l, mock := newTestLedger(Options{})

	a := NewRecord(Critical, "knife", mock.Now())
	b := NewRecord(Critical, "socket", mock.Now())
	l.Commit(mock.Now(), []Record{a, b}, []Record{a, b})
	if got := l.Summary().CriticalNow; got != 2 {
		t.Fatalf("critical_now = %d, want 2", got)
	}

	l.Commit(mock.Now(), nil, nil)
	if got := l.Summary().CriticalNow; got != 0 {
		t.Fatalf("critical_now = %d after empty frame, want 0", got)
	}
	if got := l.Stats().HistorySize; got != 2 {
		t.Fatalf("history = %d, want 2", got)
	}
}

func TestCooldownMarker(t *testing.T) {
	l, mock := newTestLedger(Options{})

	if !l.LastAlertTime().IsZero() {
		t.Fatal("marker must start at zero")
	}

	first := mock.Now()
	if !l.Commit(first, nil, []Record{NewRecord(Critical, "knife", first)}) {
		t.Fatal("first critical frame must move the marker")
	}

	mock.Add(2 * time.Second)
	if l.Commit(mock.Now(), nil, []Record{NewRecord(Critical, "knife", mock.Now())}) {
		t.Error("marker moved inside the cooldown")
	}
	if !l.LastAlertTime().Equal(first) {
		t.Errorf("marker = %v, want %v", l.LastAlertTime(), first)
	}

	mock.Add(3 * time.Second)
	if !l.Commit(mock.Now(), nil, []Record{NewRecord(Critical, "knife", mock.Now())}) {
		t.Error("marker not moved once the cooldown elapsed")
	}

	mock.Add(10 * time.Second)
	if l.Commit(mock.Now(), []Record{NewRecord(PreAlert, "cup", mock.Now())}, nil) {
		t.Error("frames without critical alerts must not move the marker")
	}
}

func TestPruneOnWrite(t *testing.T) {
	l, mock := newTestLedger(Options{Retention: 30 * time.Second})

	for i := 0; i < 5; i++ {
		commitOne(l, mock, PreAlert, "cup")
	}
	mock.Add(31 * time.Second)
	commitOne(l, mock, PreAlert, "cup")

	st := l.Stats()
	if st.HistorySize != 1 || st.Evicted != 5 {
		t.Fatalf("stats = %+v, want 1 retained and 5 evicted", st)
	}
}

func TestMaxHistoryCap(t *testing.T) {
	l, mock := newTestLedger(Options{MaxHistory: 4})

	for i := 0; i < 10; i++ {
		commitOne(l, mock, PreAlert, fmt.Sprintf("h%d", i))
	}

	recent := l.Recent(time.Minute, 0)
	if len(recent) != 4 {
		t.Fatalf("len = %d, want 4", len(recent))
	}
	if recent[0].Hazard != "h6" || recent[3].Hazard != "h9" {
		t.Errorf("kept %s..%s, want h6..h9", recent[0].Hazard, recent[3].Hazard)
	}
}

func TestEpochRoundTrip(t *testing.T) {
	at := time.Unix(1_700_000_123, 500_000_000)
	if got := FromEpoch(Epoch(at)); got.Sub(at).Abs() > time.Microsecond {
		t.Fatalf("round trip drifted: %v vs %v", got, at)
	}
}
