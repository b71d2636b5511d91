// Package webrtc pushes alert summaries to browsers over a WebRTC data channel.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/internal/metrics"
)

const (
	// ChannelLabel is the label of the alert data channel
	ChannelLabel = "alerts"
	// ChannelID is the pre-negotiated stream id; clients create the channel
	// with {negotiated: true, id: 0} before building their offer
	ChannelID uint16 = 0

	sendBuffer = 16
)

// ErrTooManyClients is returned when maxClients peers are already connected
var ErrTooManyClients = errors.New("webrtc: maximum clients reached")

// Client represents a connected WebRTC peer
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	channel   *webrtc.DataChannel
	sendChan  chan []byte
	closeOnce sync.Once
	closeChan chan struct{}
	sent      atomic.Uint64
	dropped   atomic.Uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. An empty iceServers list gathers
// host candidates only. m may be nil.
func NewServer(iceServers []string, maxClients int, m *metrics.Metrics) *Server {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, url := range iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	if maxClients <= 0 {
		maxClients = 8
	}

	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: servers},
		maxClients: maxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns the answer with gathered candidates
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: expected an sdp offer, got %q", offer.Type)
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	negotiated := true
	id := ChannelID
	ordered := true
	channel, err := peerConn.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
		Ordered:    &ordered,
	})
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		channel:   channel,
		sendChan:  make(chan []byte, sendBuffer),
		closeChan: make(chan struct{}),
	}

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	channel.OnOpen(func() {
		logger.Info("WebRTC", "Client %s alert channel open", client.id)
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		peerConn.Close()
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
	}

	go s.sendAlerts(client)

	logger.Info("WebRTC", "Client %s connected", client.id)
	return answerJSON, nil
}

// Broadcast queues payload for every connected client (non-blocking)
func (s *Server) Broadcast(payload []byte) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		select {
		case client.sendChan <- payload:
		default:
			client.dropped.Add(1)
		}
	}
}

func (s *Server) sendAlerts(client *Client) {
	for {
		select {
		case <-client.closeChan:
			return
		case payload := <-client.sendChan:
			if client.channel.ReadyState() != webrtc.DataChannelStateOpen {
				client.dropped.Add(1)
				continue
			}
			if err := client.channel.SendText(string(payload)); err != nil {
				logger.Warn("WebRTC", "Error sending alerts to client %s: %v", client.id, err)
				if s.metrics != nil {
					s.metrics.WebRTCErrors.Add(1)
				}
				continue
			}
			client.sent.Add(1)
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)
}

func (s *Server) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		close(client.closeChan)
		if err := client.peerConn.Close(); err != nil {
			logger.Debug("WebRTC", "Client %s close: %v", client.id, err)
		}
		if s.metrics != nil {
			s.metrics.WebRTCClients.Add(-1)
		}
		logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)", client.id, client.sent.Load(), client.dropped.Load())
	})
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for id, client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	for _, client := range clients {
		s.closeClient(client)
	}
	return nil
}
