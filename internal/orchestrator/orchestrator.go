// Package orchestrator owns the pipeline state machine: it negotiates
// a capture session with the portal, subscribes to video and audio
// capture, drives the optional transforms, feeds the hardware
// encoders, and wires up every configured sink. It adapts the
// reference server's inline capture+encode select loop into the full
// state machine of the pipeline lifecycle.
package orchestrator

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/encode"
	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/mixer"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/portal"
	"github.com/ghostkellz/nitrogen/internal/sinks"
	"github.com/ghostkellz/nitrogen/internal/transform"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// captureRecvTimeout bounds how long the Running-state tick waits for
// the next video frame before yielding back to the loop.
const captureRecvTimeout = 100 * time.Millisecond

// selectingSourcePoll and waitingStreamPoll are the sleep intervals
// for the two states that have nothing to do but wait.
const (
	selectingSourcePoll = 100 * time.Millisecond
	waitingStreamPoll   = 50 * time.Millisecond
)

// Pipeline owns one capture session end to end, from portal handshake
// through every configured sink. At most one Pipeline per process is
// expected to run at a time; cmd/nitrogend enforces that by holding
// a single instance behind the control-plane socket.
type Pipeline struct {
	cfg    config.CaptureConfig
	handle types.Handle
	pid    int

	state atomic.Value // types.State
	stats types.Stats

	portal   *portal.Portal
	videoCap videoCapturerWithFormat
	audioCap types.AudioCapturer
	mix      *mixer.Mixer
	videoEnc types.VideoEncoder
	audioEnc types.AudioEncoder

	tonemapper *transform.Tonemapper
	framegen   *transform.FrameGenerator
	overlay    *transform.Overlay
	camScaler  *transform.Scaler

	camera   *sinks.Camera
	mic      *sinks.Mic
	recorder *sinks.Recorder
	stream   *sinks.Stream
	webrtc   *sinks.WebRTC
	webrtcPtr atomic.Pointer[sinks.WebRTC] // published copy of webrtc, safe to read from any goroutine

	videoFrames <-chan *types.Frame
	unsubVideo  func()
	audioOut    <-chan *types.AudioFrame
	unsubAudio  func()

	metrics   *performanceMetrics
	startedAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	lastErr atomic.Value // error
}

// New builds an idle pipeline for cfg. Nothing is opened until Start.
func New(cfg config.CaptureConfig) *Pipeline {
	p := &Pipeline{
		cfg:     cfg,
		handle:  types.NextHandle(),
		pid:     os.Getpid(),
		metrics: newPerformanceMetrics(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.state.Store(types.StateIdle)
	return p
}

// Handle returns this pipeline instance's process-wide monotonic id.
func (p *Pipeline) Handle() types.Handle { return p.handle }

// State returns the current lifecycle state.
func (p *Pipeline) State() types.State {
	return p.state.Load().(types.State)
}

func (p *Pipeline) setState(s types.State) {
	p.state.Store(s)
	logging.For("orchestrator").Info().
		Uint64("handle", uint64(p.handle)).Str("state", s.String()).Msg("pipeline state changed")
}

// WebRTC returns the pipeline's WebRTC sink once negotiateSession has
// built it, or nil before that point or when the sink isn't enabled.
// cmd/nitrogend uses this to attach the signaling HTTP handler once
// a session is up. Safe to call from any goroutine.
func (p *Pipeline) WebRTC() *sinks.WebRTC { return p.webrtcPtr.Load() }

// LastError returns the error that drove the pipeline into StateError,
// or nil if it hasn't failed.
func (p *Pipeline) LastError() error {
	if e, ok := p.lastErr.Load().(error); ok {
		return e
	}
	return nil
}

// Start begins the async portal handshake and pipeline construction.
// It returns immediately; failures before Running transition the
// pipeline to StateError rather than propagating synchronously, since
// the portal step blocks on a user dialog of unbounded duration.
func (p *Pipeline) Start() error {
	if p.State() != types.StateIdle {
		return nerr.ErrSessionAlreadyRunning
	}
	p.setState(types.StateSelectingSource)
	go p.run()
	return nil
}

func (p *Pipeline) fail(err error) {
	p.lastErr.Store(err)
	p.setState(types.StateError)
	logging.For("orchestrator").Error().Uint64("handle", uint64(p.handle)).Err(err).Msg("pipeline failed")
}

// run drives session setup, then the process() tick loop, then the
// stop sequence. It is the sole writer of p.state after Start.
func (p *Pipeline) run() {
	defer close(p.done)

	if err := p.negotiateSession(); err != nil {
		p.fail(err)
		return
	}

	p.setState(types.StateWaitingForStream)
	for p.tickWaitingForStream() {
	}
	if p.State() != types.StateRunning {
		return
	}

	p.startedAt = time.Now()
	for p.process() {
	}
	p.stopSequence()
}

// negotiateSession performs the portal handshake and builds the
// capture streams, mixer, encoders and sinks around the negotiated
// session. Everything it opens is torn down by stopSequence.
func (p *Pipeline) negotiateSession() error {
	pt, err := portal.New()
	if err != nil {
		return nerr.Context(err, "open portal connection")
	}
	p.portal = pt

	kind := selectionKind(p.cfg.Source.Kind)
	info, err := pt.StartSession(kind, portalCursorMode(p.cfg.CursorMode), false)
	if err != nil {
		return nerr.Context(err, "portal handshake")
	}

	if err := p.buildVideo(info); err != nil {
		return err
	}
	if err := p.buildAudio(); err != nil {
		return err
	}
	if err := p.buildSinks(); err != nil {
		return err
	}

	p.tonemapper = transform.NewTonemapper(p.cfg.Tonemap)
	p.framegen = transform.NewFrameGenerator(p.cfg.FrameGen)
	p.overlay = transform.NewOverlay(p.cfg.Overlay)

	return nil
}

func selectionKind(k types.SourceKind) types.SelectionKind {
	if k == types.SourceWindow {
		return types.SelectWindow
	}
	return types.SelectMonitor
}

// portalCursorMode relies on config.CursorMode and types.CursorMode
// sharing enum ordering (Hidden, Embedded, Metadata).
func portalCursorMode(c config.CursorMode) types.CursorMode {
	return types.CursorMode(c)
}

// audioSourceForCapture maps the config-layer AudioSource (which has a
// "None" member so it can represent "no audio" in the TOML schema) to
// the capture-layer types.AudioSource (which never does, since
// buildAudio already short-circuits on HasAudio() == false before
// reaching here).
func audioSourceForCapture(c config.AudioSource) types.AudioSource {
	switch c {
	case config.AudioMicrophone:
		return types.AudioMicrophone
	case config.AudioBoth:
		return types.AudioBoth
	default:
		return types.AudioDesktop
	}
}

func (p *Pipeline) buildVideo(info types.SessionInfo) error {
	vs, err := openVideoStream(portal.TakePipeWireFD(info), info.NodeID)
	if err != nil {
		return nerr.Context(err, "open video capture")
	}
	p.videoCap = vs

	enc, err := encode.NewVideoEncoder(p.cfg)
	if err != nil {
		vs.Stop()
		return nerr.Context(err, "initialize video encoder")
	}
	p.videoEnc = enc

	ch, unsub := vs.Subscribe()
	p.videoFrames = ch
	p.unsubVideo = unsub
	return nil
}

func (p *Pipeline) buildAudio() error {
	if !p.cfg.HasAudio() {
		return nil
	}

	as, err := openAudioStream(audioSourceForCapture(p.cfg.AudioSource))
	if err != nil {
		return nerr.Context(err, "open audio capture")
	}
	p.audioCap = as

	ch, unsub := as.Subscribe()
	mixCfg := mixer.DefaultConfig()

	var mx *mixer.Mixer
	if p.cfg.AudioSource == config.AudioMicrophone {
		mx, err = mixer.New(mixCfg, nil, nil, ch, unsub)
	} else {
		// Desktop and Both both open one capture stream of the sink
		// monitor (internal/capture records no microphone for Both);
		// route it through the mixer's desktop slot so
		// volume/mute/soft-clip still apply uniformly. The mixer's mic
		// slot stays empty in both cases.
		mx, err = mixer.New(mixCfg, ch, unsub, nil, nil)
	}
	if err != nil {
		as.Stop()
		return nerr.Context(err, "initialize audio mixer")
	}
	mx.Start()
	p.mix = mx
	p.audioOut = mx.Subscribe()

	enc, err := encode.NewAudioEncoder(p.cfg.AudioCodec, mixCfg.OutputSampleRate, mixCfg.OutputChannels, p.cfg.EffectiveAudioBitrateKbps())
	if err != nil {
		return nerr.Context(err, "initialize audio encoder")
	}
	p.audioEnc = enc

	if p.cfg.MicDevice != "" {
		micSub, micUnsub := mx.Subscribe(), func() {}
		mic, err := sinks.NewMic(sinks.MicConfig{
			Device:     p.cfg.MicDevice,
			SampleRate: mixCfg.OutputSampleRate,
			Channels:   mixCfg.OutputChannels,
		}, enc.FrameSize(), micSub, micUnsub)
		if err != nil {
			logging.For("orchestrator").Warn().Err(err).Msg("virtual microphone unavailable, continuing without it")
		} else {
			p.mic = mic
		}
	}
	return nil
}

func (p *Pipeline) buildSinks() error {
	if p.cfg.CameraDevice != "" {
		name := p.cfg.CameraName
		if name == "" {
			name = sinks.DefaultCameraName
		}
		cam, err := sinks.NewCamera(sinks.CameraConfig{
			Device: p.cfg.CameraDevice,
			Name:   name,
			Width:  int(p.cfg.Width()),
			Height: int(p.cfg.Height()),
			Fourcc: formats.FourccBGRA8888,
		})
		if err != nil {
			return nerr.Context(err, "open virtual camera")
		}
		p.camera = cam
		// camScaler is built lazily on the first frame once the
		// negotiated capture format is known (see ensureCamScaler).
	}
	if p.cfg.RecordPath != "" {
		rec, err := sinks.NewRecorder(p.cfg.RecordPath, p.cfg)
		if err != nil {
			return nerr.Context(err, "open file recorder")
		}
		p.recorder = rec
	}
	if p.cfg.StreamURL != "" {
		st, err := sinks.NewStream(p.cfg.StreamURL, p.cfg)
		if err != nil {
			return nerr.Context(err, "open network stream")
		}
		p.stream = st
	}
	if p.cfg.WebRTCEnabled {
		ice := p.cfg.ICEServers
		if len(ice) == 0 {
			ice = sinks.DefaultWebRTCConfig().ICEServers
		}
		rt, err := sinks.NewWebRTC(sinks.WebRTCConfig{ICEServers: ice, AudioEnabled: p.cfg.HasAudio()})
		if err != nil {
			return nerr.Context(err, "open webrtc sink")
		}
		p.webrtc = rt
		p.webrtcPtr.Store(rt)
	}
	return nil
}

// tickWaitingForStream implements process() step 3: poll the capture
// worker until it reports its negotiated format, then transition to
// Running. Returns false once the loop should stop polling (either
// because Running was reached or the pipeline was asked to stop).
func (p *Pipeline) tickWaitingForStream() bool {
	select {
	case <-p.stopCh:
		p.setState(types.StateStopping)
		return false
	default:
	}

	if _, _, _, _, ok := p.videoCap.NegotiatedFormat(); ok {
		p.setState(types.StateRunning)
		return false
	}
	if !p.videoCap.IsRunning() {
		p.fail(nerr.PipeWire("video capture stopped before negotiating a format"))
		return false
	}
	time.Sleep(waitingStreamPoll)
	return true
}

// Stop requests an orderly shutdown and blocks until the pipeline has
// finished its stop sequence. Idempotent and safe to call from any
// state, including before Start (a no-op) or concurrently with a
// running process() loop.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.State() == types.StateIdle {
		return
	}
	<-p.done
}
