package flaskcompat

import (
	"net/http"
	"os"
	"strings"
	"testing"
)

// TestFlaskCompatRecordingCapturesFrames records one ingested frame and
// checks the finished file is a JSON-lines recording.
func TestFlaskCompatRecordingCapturesFrames(t *testing.T) {
	if os.Getenv("SPEC_RECORDING") == "" {
		t.Skip("set SPEC_RECORDING=1 to enable recording spec")
	}
	client := newSpecClient(t)

	resp, body := client.get(t, "/api/recording/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/recording/status status = %d", resp.StatusCode)
	}
	if decodeJSONMap(t, body)["recording"] == true {
		t.Skip("a recording is already running on the spec server")
	}

	resp, body = client.postJSON(t, "/api/recording/start", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/recording/start status = %d", resp.StatusCode)
	}
	started := decodeJSONMap(t, body)
	if requireString(t, started["status"], "status") != "recording" {
		t.Fatalf("start status = %v", started["status"])
	}
	file := requireString(t, started["file"], "file")
	if !strings.HasSuffix(file, ".jsonl") {
		t.Fatalf("recording file %q is not JSON lines", file)
	}
	requireNumber(t, started["started_at"], "started_at")

	resp, body = client.postJSON(t, "/api/frames", map[string]any{
		"frame_number": 1,
		"detections":   []any{},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /api/frames status = %d body=%s", resp.StatusCode, string(body))
	}

	resp, body = client.postJSON(t, "/api/recording/stop", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/recording/stop status = %d", resp.StatusCode)
	}
	stopped := decodeJSONMap(t, body)
	if requireString(t, stopped["status"], "status") != "stopped" {
		t.Fatalf("stop status = %v", stopped["status"])
	}
	if requireString(t, stopped["file"], "file") != file {
		t.Fatalf("stopped %v, started %q", stopped["file"], file)
	}
	requireNumber(t, stopped["stopped_at"], "stopped_at")
	stats := requireMap(t, stopped["stats"], "stats")
	if requireNumber(t, stats["frame_count"], "stats.frame_count") < 1 {
		t.Fatalf("recording captured no frames: %v", stats)
	}
	requireNumber(t, stats["bytes_written"], "stats.bytes_written")

	resp, body = client.postJSON(t, "/api/recording/stop", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("second stop status = %d", resp.StatusCode)
	}
	requireString(t, decodeJSONMap(t, body)["error"], "error")
}
