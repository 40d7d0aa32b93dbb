package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"soundscape/core/audio"
	"soundscape/logger"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

// opusBitrate is the WebRTC monitor bitrate in bits per second.
const opusBitrate = 128000

// RTCMonitor negotiates WebRTC peers that receive a live mix as Opus.
type RTCMonitor struct {
	config webrtc.Configuration

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewRTCMonitor creates an RTCMonitor. iceServers may be empty on a LAN.
func NewRTCMonitor(iceServers ...string) *RTCMonitor {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &RTCMonitor{config: cfg, peers: make(map[*webrtc.PeerConnection]struct{})}
}

// PeerCount returns the number of connected peers.
func (m *RTCMonitor) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Negotiate answers the SDP offer in the request body and starts sending b
// to the new peer.
func (m *RTCMonitor) Negotiate(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(m.config)
	if err != nil {
		logger.Error("WebRTC: 创建 PeerConnection 失败", logger.ErrorField(err))
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"audio", "soundscape-mix")
	if err != nil {
		pc.Close()
		http.Error(w, "create audio track failed", http.StatusInternalServerError)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		http.Error(w, "add track failed", http.StatusInternalServerError)
		return
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, "set remote description failed", http.StatusBadRequest)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, "create answer failed", http.StatusInternalServerError)
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, "set local description failed", http.StatusInternalServerError)
		return
	}
	select {
	case <-gathered:
	case <-r.Context().Done():
		pc.Close()
		return
	}

	listener := b.Subscribe()
	m.mu.Lock()
	m.peers[pc] = struct{}{}
	m.mu.Unlock()
	logger.Info("WebRTC 监听者接入", logger.Int("peers", m.PeerCount()))

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			b.Unsubscribe(listener)
			m.mu.Lock()
			delete(m.peers, pc)
			m.mu.Unlock()
			pc.Close()
			logger.Info("WebRTC 监听者断开", logger.Int("peers", m.PeerCount()))
		}
	})

	go sendOpus(listener, track, func() {
		// broadcast over: hang up the peer
		pc.Close()
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func sendOpus(l *Listener, track *webrtc.TrackLocalStaticSample, onEnd func()) {
	defer onEnd()

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logger.Error("WebRTC: 创建 Opus 编码器失败", logger.ErrorField(err))
		return
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		logger.Warn("WebRTC: 设置 Opus 码率失败", logger.ErrorField(err))
	}

	packet := make([]byte, 4000)
	for {
		select {
		case <-l.Done():
			return
		case frame := <-l.C:
			n, err := enc.Encode(frame, packet)
			if err != nil {
				logger.Warn("WebRTC: Opus 编码失败", logger.ErrorField(err))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}
