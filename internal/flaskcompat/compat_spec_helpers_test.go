package flaskcompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:5001"
	defaultRequestTimeout = 2 * time.Second
)

type specClient struct {
	baseURL string
	client  *http.Client
}

func newSpecClient(t *testing.T) *specClient {
	t.Helper()
	baseURL := os.Getenv("SPEC_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/get_alerts") {
		t.Skipf("spec server not reachable at %s (set SPEC_BASE_URL to run)", baseURL)
	}

	return &specClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *specClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *specClient) getResponse(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (c *specClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				event := string(buf[:idx])
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
		select {
		case <-ctx.Done():
			return "", nil, fmt.Errorf("timeout waiting for sse event")
		default:
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	lines := strings.Split(event, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertAlertRecord(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	kind := requireString(t, payload["type"], field+".type")
	if kind != "CRITICAL" && kind != "PRE-ALERT" {
		t.Fatalf("%s.type = %q", field, kind)
	}
	requireString(t, payload["hazard"], field+".hazard")
	requireString(t, payload["message"], field+".message")
	requireString(t, payload["time_str"], field+".time_str")
	requireNumber(t, payload["distance"], field+".distance")
	requireNumber(t, payload["timestamp"], field+".timestamp")
	requireNumber(t, payload["reach_score"], field+".reach_score")
	requireNumber(t, payload["hand_proximity"], field+".hand_proximity")
	if _, ok := payload["is_reaching"].(bool); !ok {
		t.Fatalf("expected %s.is_reaching to be bool, got %T", field, payload["is_reaching"])
	}
}

func assertSummaryPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	total := requireNumber(t, payload["total"], "total")
	requireNumber(t, payload["critical_now"], "critical_now")
	requireNumber(t, payload["timestamp"], "timestamp")

	alerts := requireSlice(t, payload["alerts"], "alerts")
	if int(total) != len(alerts) {
		t.Fatalf("total = %v but %d alerts listed", total, len(alerts))
	}
	if len(alerts) > 10 {
		t.Fatalf("summary lists %d alerts, want at most 10", len(alerts))
	}
	prev := 0.0
	for i, raw := range alerts {
		field := fmt.Sprintf("alerts[%d]", i)
		item := requireMap(t, raw, field)
		assertAlertRecord(t, item, field)
		ts := item["timestamp"].(float64)
		if ts < prev {
			t.Fatalf("%s is older than the alert before it", field)
		}
		prev = ts
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireNumber(t, payload["frames_processed"], "frames_processed")
	requireNumber(t, payload["last_frame_number"], "last_frame_number")
	requireNumber(t, payload["history_size"], "history_size")
	requireNumber(t, payload["critical_now"], "critical_now")
	requireString(t, payload["last_alert_time"], "last_alert_time")
	if _, ok := payload["cooldown_elapsed"].(bool); !ok {
		t.Fatalf("expected cooldown_elapsed to be bool, got %T", payload["cooldown_elapsed"])
	}

	clients := requireMap(t, payload["clients"], "clients")
	for _, name := range []string{"sse", "websocket", "webrtc", "mjpeg"} {
		requireNumber(t, clients[name], "clients."+name)
	}
}
