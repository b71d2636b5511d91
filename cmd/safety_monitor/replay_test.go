package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/config"
)

const replayFixture = `{"frame_number":1,"detections":[{"class_name":"baby","confidence":0.9,"bbox":[100,100,100,100]},{"class_name":"knife","confidence":0.8,"bbox":[150,100,150,100]}]}
not json
{"frame_number":2,"detections":[{"class_name":"baby","confidence":0.9,"bbox":[100,100,100,100]},{"class_name":"cup","confidence":0.8,"bbox":[400,100,400,100]}]}
`

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.jsonl")
	if err := os.WriteFile(path, []byte(replayFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunReplay(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer

	err := runReplay(context.Background(), &out, writeFixture(t), config.Default(), replayOptions{Frames: true})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"frame 1: babies=1 hazards=1 critical=1 pre_alert=0 recent=1",
		"CRITICAL: Baby near knife (50.0px)",
		"frame 2: babies=1 hazards=1 critical=0 pre_alert=0 recent=1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	// The final summary is the last JSON object in the output
	idx := strings.Index(text, "{\n")
	if idx < 0 {
		t.Fatalf("no summary in output:\n%s", text)
	}
	var summary alerts.Summary
	if err := json.Unmarshal([]byte(text[idx:]), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Total != 1 || summary.CriticalNow != 0 {
		t.Errorf("summary = %+v, want one alert and no current critical", summary)
	}
}

func TestRunReplayMissingFile(t *testing.T) {
	err := runReplay(context.Background(), &bytes.Buffer{}, filepath.Join(t.TempDir(), "missing.jsonl"), config.Default(), replayOptions{})
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestPrintAlerts(t *testing.T) {
	rec := alerts.Record{
		Type:     alerts.Critical,
		Hazard:   "knife",
		Distance: 42,
		Message:  "CRITICAL: Baby near knife (42.0px)",
	}
	var out bytes.Buffer
	printAlerts(&out, []alerts.Record{rec})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header, rule and one row:\n%s", len(lines), out.String())
	}
	for _, want := range []string{"CRITICAL", "knife", "42.0px"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("row %q missing %q", lines[2], want)
		}
	}
}
