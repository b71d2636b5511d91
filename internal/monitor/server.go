// Package monitor serves the safety monitor over HTTP: the index page, the
// Flask-compatible polling endpoints, push streams, frame intake, frame
// recording and metrics.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/dj-oyu/baby-safety-monitor/internal/annotator"
	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/internal/metrics"
	"github.com/dj-oyu/baby-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/baby-safety-monitor/internal/recorder"
	"github.com/dj-oyu/baby-safety-monitor/internal/webrtc"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

// maxFrameBytes bounds a single ingested FrameReport, JPEG included.
const maxFrameBytes = 16 << 20

// Server serves the monitor endpoints. It is a pipeline publisher.
type Server struct {
	cfg      Config
	service  *pipeline.Service
	source   *pipeline.ChannelSource
	rtc      *webrtc.Server
	metrics  *metrics.Metrics
	alerts   *AlertBroadcaster
	frames   *FrameBroadcaster
	recorder *recorder.Recorder
	blank    []byte
	upgrader websocket.Upgrader
}

// NewServer returns a monitor server publishing svc updates. source may be
// nil to disable frame intake, rtc may be nil to disable WebRTC and m may be
// nil to disable metrics.
func NewServer(cfg Config, svc *pipeline.Service, source *pipeline.ChannelSource, rtc *webrtc.Server, m *metrics.Metrics) *Server {
	cfg = cfg.withDefaults()

	blank, err := annotator.New(0).Blank(cfg.FrameWidth, cfg.FrameHeight)
	if err != nil {
		logger.Warn("Monitor", "Failed to render blank frame: %v", err)
	}

	s := &Server{
		cfg:      cfg,
		service:  svc,
		source:   source,
		rtc:      rtc,
		metrics:  m,
		alerts:   NewAlertBroadcaster(),
		frames:   NewFrameBroadcaster(),
		recorder: recorder.NewRecorder(cfg.RecordingPath),
		blank:    blank,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.allowedOrigin,
	}

	// Seed the broadcaster so the first subscriber gets a summary immediately
	if event, err := serializeSummary(svc.Summary()); err == nil {
		s.alerts.Broadcast(event)
	}
	svc.AddPublisher(s)
	return s
}

// Publish fans a pipeline update out to every push client.
func (s *Server) Publish(u *pipeline.Update) {
	event, err := serializeSummary(u.Summary)
	if err != nil {
		logger.Error("Monitor", "Failed to serialize summary for frame %d: %v", u.FrameNumber, err)
		return
	}
	s.alerts.Broadcast(event)
	if s.rtc != nil {
		s.rtc.Broadcast(event.JSONData)
	}
	if u.JPEG != nil {
		s.frames.Broadcast(u.JPEG)
	}
}

// WantsFrames reports whether an MJPEG client is connected.
func (s *Server) WantsFrames() bool {
	return s.frames.Count() > 0
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/get_alerts", s.handleGetAlerts)
	mux.HandleFunc("/get_ip", s.handleGetIP)
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	mux.HandleFunc("/api/frames", s.handleFrames)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/alerts/stream", s.handleAlertsStream)
	mux.HandleFunc("/api/alerts/ws", s.handleAlertsWebSocket)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler(mux)
}

// Shutdown disconnects every streaming client and finishes any recording.
func (s *Server) Shutdown() {
	s.alerts.Close()
	s.frames.Close()
	if err := s.recorder.Close(); err != nil {
		logger.Warn("Recorder", "Failed to finish recording: %v", err)
	}
}

func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://"), r.Host) {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := indexData{
		PollMillis: s.cfg.PollInterval.Milliseconds(),
		Port:       s.cfg.AdvertisePort,
	}
	if err := indexTemplate.Execute(w, data); err != nil {
		logger.Error("Monitor", "Failed to render index: %v", err)
	}
}

func (s *Server) handleGetAlerts(w http.ResponseWriter, r *http.Request) {
	summary := s.service.Summary()

	if wantsProtobuf(r) {
		data, err := summaryProto(summary)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/protobuf")
		_, _ = w.Write(data)
		return
	}

	writeJSON(w, summary)
}

func (s *Server) handleGetIP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ip":   localIP(),
		"port": s.cfg.AdvertisePort,
	})
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.MJPEGClients.Add(1)
		defer s.metrics.MJPEGClients.Add(-1)
	}

	streamMJPEGFromChannel(w, r, frameCh, s.blank, s.cfg.MJPEGInterval)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.source == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Frame intake disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		s.countIngestError()
		writeJSONWithStatus(w, map[string]any{"error": "Invalid frame data"}, http.StatusBadRequest)
		return
	}

	var frame types.FrameReport
	if err := json.Unmarshal(body, &frame); err != nil {
		s.countIngestError()
		writeJSONWithStatus(w, map[string]any{"error": fmt.Sprintf("Invalid frame data: %v", err)}, http.StatusBadRequest)
		return
	}

	if err := s.source.Push(&frame); err != nil {
		if s.metrics != nil {
			s.metrics.FramesDropped.Add(1)
		}
		switch {
		case errors.Is(err, pipeline.ErrSourceFull):
			writeJSONWithStatus(w, map[string]any{"error": "Frame queue full"}, http.StatusServiceUnavailable)
		default:
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.FramesIngested.Add(1)
	}
	s.recorder.SendFrame(&frame)
	writeJSONWithStatus(w, map[string]any{
		"status":       "queued",
		"frame_number": frame.FrameNumber,
		"queued":       s.source.Len(),
	}, http.StatusAccepted)
}

func (s *Server) countIngestError() {
	if s.metrics != nil {
		s.metrics.IngestErrors.Add(1)
	}
}

// statusResponse is the /api/status body.
type statusResponse struct {
	pipeline.Status
	Clients clientCounts `json:"clients"`
}

type clientCounts struct {
	SSE       int `json:"sse"`
	WebSocket int `json:"websocket"`
	WebRTC    int `json:"webrtc"`
	MJPEG     int `json:"mjpeg"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: s.service.Status(),
		Clients: clientCounts{
			MJPEG: s.frames.Count(),
		},
	}
	if s.metrics != nil {
		resp.Clients.SSE = int(s.metrics.SSEClients.Load())
		resp.Clients.WebSocket = int(s.metrics.WebSocketClients.Load())
	}
	if s.rtc != nil {
		resp.Clients.WebRTC = s.rtc.ClientCount()
	}
	writeJSON(w, resp)
}

func (s *Server) handleAlertsStream(w http.ResponseWriter, r *http.Request) {
	// Subscribe to alert summaries
	id, eventCh := s.alerts.Subscribe()
	defer s.alerts.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.SSEClients.Add(1)
		defer s.metrics.SSEClients.Add(-1)
	}

	streamAlertEventsFromChannel(w, r, eventCh, wantsProtobuf(r))
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, err := s.recorder.Start()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	payload := map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, err := s.recorder.Stop()
	if err != nil {
		status := http.StatusBadRequest
		if !errors.Is(err, recorder.ErrNotRecording) {
			status = http.StatusInternalServerError
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	payload := map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	}
	writeJSON(w, payload)
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.rtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC disabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.rtc.HandleOffer(body)
	if err != nil {
		if errors.Is(err, webrtc.ErrTooManyClients) {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
			return
		}
		logger.Warn("WebRTC", "Failed to handle offer: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

// wantsProtobuf reports whether the client prefers protobuf (Accept header).
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
