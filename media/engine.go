/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 Joshua Paschall
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package media manages the per-call WebRTC resources: peer connections,
// audio tracks, and locally generated feedback tones. The Manager is the
// sole owner of engine teardown.
package media

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/joshuapaschall/agentdesk/agentsdk"
)

// Config holds configuration for media engines.
type Config struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use.
	ICEServers []webrtc.ICEServer
	// Logger receives engine diagnostics.
	Logger agentsdk.Logger
}

// DefaultConfig returns a Config with sensible defaults. STUN is required
// because the agent host is typically behind NAT and the provider's
// ice-lite media plane needs a public srflx candidate to reach us.
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Engine manages the WebRTC peer connection and audio tracks for one call.
type Engine struct {
	mu             sync.Mutex
	peerConnection *webrtc.PeerConnection
	localTrack     *webrtc.TrackLocalStaticRTP
	remoteTrack    *webrtc.TrackRemote
	muted          bool
	closed         bool
	onRemoteTrack  func(track *webrtc.TrackRemote)
	logger         agentsdk.Logger

	tones *TonePlayer
}

// newEngine creates the engine for one call. Only PCMU and PCMA are
// registered; the provider's media plane negotiates G.711 exclusively and
// offering wideband codecs breaks negotiation.
func newEngine(config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMA: %w", err)
	}

	// The provider sends RTP before the SDP answer is fully processed, so
	// undeclared SSRCs must still surface through OnTrack.
	settings := webrtc.SettingEngine{}
	settings.SetHandleUndeclaredSSRCWithoutAnswer(true)

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: config.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	engine := &Engine{
		peerConnection: pc,
		logger:         config.Logger,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if engine.logger != nil {
			engine.logger.Printf("media: connection state → %s", s.String())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		engine.mu.Lock()
		engine.remoteTrack = track
		handler := engine.onRemoteTrack
		engine.mu.Unlock()

		if handler != nil {
			handler(track)
		}
	})

	return engine, nil
}

// OnRemoteTrack sets the callback for when a remote audio track is received.
func (e *Engine) OnRemoteTrack(handler func(track *webrtc.TrackRemote)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRemoteTrack = handler
}

// AddAudioTrack adds the local PCMU audio track to the peer connection.
func (e *Engine) AddAudioTrack() (*webrtc.TrackLocalStaticRTP, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.localTrack != nil {
		return e.localTrack, nil
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio",
		"agentdesk",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	// Sendrecv so the provider's return RTP fires OnTrack.
	transceiver, err := e.peerConnection.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// Drain RTCP from the sender to keep the interceptors fed.
	go func() {
		sender := transceiver.Sender()
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	e.localTrack = track
	return track, nil
}

// CreateOffer creates an SDP offer, waiting for ICE gathering so the SDP
// carries the candidates inline.
func (e *Engine) CreateOffer() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	offer, err := e.peerConnection.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	if err := e.peerConnection.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	<-webrtc.GatheringCompletePromise(e.peerConnection)

	localDesc := e.peerConnection.LocalDescription()
	if localDesc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return localDesc.SDP, nil
}

// CreateAnswer creates an SDP answer for a previously applied remote offer.
func (e *Engine) CreateAnswer() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	answer, err := e.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	if err := e.peerConnection.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	<-webrtc.GatheringCompletePromise(e.peerConnection)

	localDesc := e.peerConnection.LocalDescription()
	if localDesc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return localDesc.SDP, nil
}

// SetRemoteOffer applies the remote SDP offer.
func (e *Engine) SetRemoteOffer(sdp string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

// SetRemoteAnswer applies the remote SDP answer. A duplicate answer while
// the signaling state is already stable is a no-op; the provider can deliver
// the same answer twice across a reconnect.
func (e *Engine) SetRemoteAnswer(sdp string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.peerConnection.SignalingState() == webrtc.SignalingStateStable {
		if e.logger != nil {
			e.logger.Printf("media: ignoring duplicate SDP answer (signaling state already stable)")
		}
		return nil
	}

	return e.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// Mute disables the local audio path.
func (e *Engine) Mute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = true
}

// Unmute enables the local audio path.
func (e *Engine) Unmute() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.muted = false
}

// IsMuted returns whether the local audio is muted.
func (e *Engine) IsMuted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// Tones returns the engine's tone player, creating it on first use.
func (e *Engine) Tones() *TonePlayer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tones == nil {
		e.tones = newTonePlayer(e)
	}
	return e.tones
}

// close releases the engine. Only the Manager calls this.
func (e *Engine) close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	tones := e.tones
	pc := e.peerConnection
	e.mu.Unlock()

	if tones != nil {
		tones.Stop()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}
