package sinks

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// defaultSampleDuration is used when the caller has no better
// estimate of the frame interval (spec: "~30fps default").
const defaultSampleDuration = 33 * time.Millisecond

// WebRTCConfig configures the peer connection a WebRTC sink opens.
type WebRTCConfig struct {
	ICEServers   []string
	AudioEnabled bool
}

// DefaultWebRTCConfig mirrors the reference implementation's default:
// Google's public STUN server, audio on.
func DefaultWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{
		ICEServers:   []string{"stun:stun.l.google.com:19302"},
		AudioEnabled: true,
	}
}

// WebRTC streams encoded video (and optionally Opus audio) to a single
// connected peer. Unlike the recorder/stream sinks it needs a
// signaling round-trip (CreateOffer/SetAnswer) before packets can
// flow; WebRTCServer in this package exposes that round-trip over
// HTTP per spec §6.
type WebRTC struct {
	cfg WebRTCConfig

	pc         *webrtc.PeerConnection
	videoTrack *webrtc.TrackLocalStaticSample
	audioTrack *webrtc.TrackLocalStaticSample

	state atomic.Value // webrtc.PeerConnectionState

	videoPktsSent uint64
	audioPktsSent uint64
	mu            sync.Mutex

	closed atomic.Bool
}

// NewWebRTC builds the peer connection and registers its tracks.
// Signaling (offer/answer) happens afterward via CreateOffer/SetAnswer.
func NewWebRTC(cfg WebRTCConfig) (*WebRTC, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, nerr.WebRTCErr("register default codecs: " + err.Error())
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(me))

	var iceServers []webrtc.ICEServer
	for _, url := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, nerr.WebRTCErr("create peer connection: " + err.Error())
	}

	w := &WebRTC{cfg: cfg, pc: pc}
	w.state.Store(webrtc.PeerConnectionStateNew)

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264},
		"video", "nitrogen-video",
	)
	if err != nil {
		pc.Close()
		return nil, nerr.WebRTCErr("create video track: " + err.Error())
	}
	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		pc.Close()
		return nil, nerr.WebRTCErr("add video track: " + err.Error())
	}
	w.videoTrack = videoTrack
	go drainRTCP(videoSender)

	if cfg.AudioEnabled {
		audioTrack, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", "nitrogen-audio",
		)
		if err != nil {
			pc.Close()
			return nil, nerr.WebRTCErr("create audio track: " + err.Error())
		}
		audioSender, err := pc.AddTrack(audioTrack)
		if err != nil {
			pc.Close()
			return nil, nerr.WebRTCErr("add audio track: " + err.Error())
		}
		w.audioTrack = audioTrack
		go drainRTCP(audioSender)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		w.state.Store(state)
		logging.For("sinks.webrtc").Info().Str("state", state.String()).Msg("peer connection state changed")
	})

	logging.For("sinks.webrtc").Info().
		Strs("ice_servers", cfg.ICEServers).Bool("audio", cfg.AudioEnabled).
		Msg("webrtc sink initialized")

	return w, nil
}

// drainRTCP discards incoming RTCP packets so the sender's internal
// buffers never fill; pion requires this even when the caller has no
// use for the feedback.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// CreateOffer generates and sets the local SDP offer, returning it for
// the signaling endpoint to hand to a client.
func (w *WebRTC) CreateOffer() (string, error) {
	offer, err := w.pc.CreateOffer(nil)
	if err != nil {
		return "", nerr.WebRTCErr("create offer: " + err.Error())
	}

	gatherComplete := webrtc.GatheringCompletePromise(w.pc)
	if err := w.pc.SetLocalDescription(offer); err != nil {
		return "", nerr.WebRTCErr("set local description: " + err.Error())
	}
	<-gatherComplete

	return w.pc.LocalDescription().SDP, nil
}

// SetAnswer applies the remote SDP answer received from signaling.
func (w *WebRTC) SetAnswer(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := w.pc.SetRemoteDescription(answer); err != nil {
		return nerr.WebRTCErr("set remote description: " + err.Error())
	}
	return nil
}

// ConnectionState reports the last observed peer connection state.
func (w *WebRTC) ConnectionState() webrtc.PeerConnectionState {
	return w.state.Load().(webrtc.PeerConnectionState)
}

// WriteVideoPacket wraps one encoded access unit into a media sample
// and feeds the video track. dur is the packet's presentation
// interval; callers that don't track it precisely may pass 0 to fall
// back to the spec's 33ms default.
func (w *WebRTC) WriteVideoPacket(pkt *types.EncodedVideoPacket, dur time.Duration) error {
	if dur <= 0 {
		dur = defaultSampleDuration
	}
	if err := w.videoTrack.WriteSample(media.Sample{Data: pkt.Data, Duration: dur}); err != nil {
		return nerr.WebRTCErr("write video sample: " + err.Error())
	}
	w.mu.Lock()
	w.videoPktsSent++
	w.mu.Unlock()
	return nil
}

// WriteAudioPacket wraps one encoded Opus frame and feeds the audio
// track. No-op (returns an error) if audio was disabled at construction.
func (w *WebRTC) WriteAudioPacket(pkt *types.EncodedAudioPacket, dur time.Duration) error {
	if w.audioTrack == nil {
		return nerr.Config("cannot write audio packet - webrtc audio track disabled")
	}
	if dur <= 0 {
		dur = defaultSampleDuration
	}
	if err := w.audioTrack.WriteSample(media.Sample{Data: pkt.Data, Duration: dur}); err != nil {
		return nerr.WebRTCErr("write audio sample: " + err.Error())
	}
	w.mu.Lock()
	w.audioPktsSent++
	w.mu.Unlock()
	return nil
}

// VideoPacketsSent returns the cumulative video sample count.
func (w *WebRTC) VideoPacketsSent() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.videoPktsSent
}

// AudioPacketsSent returns the cumulative audio sample count.
func (w *WebRTC) AudioPacketsSent() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.audioPktsSent
}

// Close tears down the peer connection. Idempotent.
func (w *WebRTC) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := w.pc.Close()
	logging.For("sinks.webrtc").Info().
		Uint64("video_packets", w.VideoPacketsSent()).Uint64("audio_packets", w.AudioPacketsSent()).
		Msg("webrtc sink closed")
	if err != nil {
		return nerr.WebRTCErr("close peer connection: " + err.Error())
	}
	return nil
}
