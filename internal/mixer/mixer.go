// Package mixer combines desktop and microphone audio into a single
// stream with per-source volume/mute, ducking, and soft-clip, for
// feeding the audio encoder and the virtual microphone sink.
package mixer

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// VolumeControl is a per-source gain with an independent mute flag.
type VolumeControl struct {
	Volume float32
	Muted  bool
}

// DefaultVolumeControl returns unity gain, unmuted.
func DefaultVolumeControl() VolumeControl {
	return VolumeControl{Volume: 1.0}
}

// Effective returns 0 when muted, else Volume.
func (v VolumeControl) Effective() float32 {
	if v.Muted {
		return 0
	}
	return v.Volume
}

// Config holds the mixer's tunable knobs.
type Config struct {
	DesktopVolume     VolumeControl
	MicVolume         VolumeControl
	OutputSampleRate  int
	OutputChannels    int
	DuckingEnabled    bool
	DuckingAmount     float32 // fraction to reduce desktop gain by, 0..1
	DuckingThreshold  float32 // mic RMS amplitude that triggers ducking
}

// DefaultConfig matches the reference implementation's defaults:
// unity gains, 48kHz stereo output, ducking off.
func DefaultConfig() Config {
	return Config{
		DesktopVolume:    DefaultVolumeControl(),
		MicVolume:        DefaultVolumeControl(),
		OutputSampleRate: 48000,
		OutputChannels:   2,
		DuckingEnabled:   false,
		DuckingAmount:    0.5,
		DuckingThreshold: 0.05,
	}
}

const ringCapacity = 8

// Mixer pulls from a desktop and/or a microphone capture stream,
// applies volume/ducking/soft-clip, and republishes a single mixed
// stream. Exactly one of desktop/mic may be absent (single-source
// passthrough with volume applied); at least one must be present.
type Mixer struct {
	cfg     Config
	desktop <-chan *types.AudioFrame
	mic     <-chan *types.AudioFrame
	unsubD  func()
	unsubM  func()

	out     chan *types.AudioFrame
	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup

	frameCount atomic.Uint64
	mu         sync.Mutex
}

// New builds a mixer over the given desktop/mic subscriptions (either
// may be nil, but not both) and its unsubscribe callbacks, which the
// mixer takes ownership of and calls on Stop.
func New(cfg Config, desktop <-chan *types.AudioFrame, unsubDesktop func(), mic <-chan *types.AudioFrame, unsubMic func()) (*Mixer, error) {
	if desktop == nil && mic == nil {
		return nil, nerr.Config("mixer requires at least one audio source")
	}
	return &Mixer{
		cfg:     cfg,
		desktop: desktop,
		mic:     mic,
		unsubD:  unsubDesktop,
		unsubM:  unsubMic,
		out:     make(chan *types.AudioFrame, 32),
		stop:    make(chan struct{}),
	}, nil
}

// Subscribe returns the mixer's output channel. There is only one
// logical subscriber (the encoder/virtual-mic fan-out sits
// downstream of this), so this simply exposes the internal channel.
func (m *Mixer) Subscribe() <-chan *types.AudioFrame {
	return m.out
}

// Start begins the mixing loop in a background goroutine.
func (m *Mixer) Start() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go m.run()
}

func (m *Mixer) run() {
	defer m.wg.Done()
	defer close(m.out)

	switch {
	case m.desktop != nil && m.mic != nil:
		m.mixBoth()
	case m.desktop != nil:
		m.forwardSingle(m.desktop, func() VolumeControl { return m.cfg.DesktopVolume })
	case m.mic != nil:
		m.forwardSingle(m.mic, func() VolumeControl { return m.cfg.MicVolume })
	}
}

func (m *Mixer) forwardSingle(src <-chan *types.AudioFrame, vol func() VolumeControl) {
	for {
		select {
		case <-m.stop:
			return
		case frame, ok := <-src:
			if !ok {
				return
			}
			m.send(applyVolume(frame, vol().Effective()))
		}
	}
}

func (m *Mixer) mixBoth() {
	var desktopBuf, micBuf []*types.AudioFrame
	desktopDone, micDone := false, false

	for {
		if desktopDone && micDone {
			return
		}
		select {
		case <-m.stop:
			return
		case frame, ok := <-m.desktop:
			if !desktopDone {
				if !ok {
					desktopDone = true
				} else if len(desktopBuf) < ringCapacity {
					desktopBuf = append(desktopBuf, frame)
				}
			}
		case frame, ok := <-m.mic:
			if !micDone {
				if !ok {
					micDone = true
				} else if len(micBuf) < ringCapacity {
					micBuf = append(micBuf, frame)
				}
			}
		}

		for len(desktopBuf) > 0 && len(micBuf) > 0 {
			m.send(m.mixFrames(desktopBuf[0], micBuf[0]))
			desktopBuf = desktopBuf[1:]
			micBuf = micBuf[1:]
		}
		if desktopDone {
			for _, f := range micBuf {
				m.send(applyVolume(f, m.cfg.MicVolume.Effective()))
			}
			micBuf = nil
		}
		if micDone {
			for _, f := range desktopBuf {
				m.send(applyVolume(f, m.cfg.DesktopVolume.Effective()))
			}
			desktopBuf = nil
		}
	}
}

func (m *Mixer) mixFrames(desktop, mic *types.AudioFrame) *types.AudioFrame {
	desktopVol := m.cfg.DesktopVolume.Effective()
	micVol := m.cfg.MicVolume.Effective()

	if m.cfg.DuckingEnabled {
		if rmsAmplitude(mic.Samples) > m.cfg.DuckingThreshold {
			desktopVol *= 1 - m.cfg.DuckingAmount
		}
	}

	maxLen := len(desktop.Samples)
	if len(mic.Samples) > maxLen {
		maxLen = len(mic.Samples)
	}
	mixed := make([]float32, maxLen)
	for i := 0; i < maxLen; i++ {
		var d, mm float32
		if i < len(desktop.Samples) {
			d = desktop.Samples[i] * desktopVol
		}
		if i < len(mic.Samples) {
			mm = mic.Samples[i] * micVol
		}
		mixed[i] = softClip(d + mm)
	}

	pts := desktop.PTS
	if mic.PTS < pts {
		pts = mic.PTS
	}
	return &types.AudioFrame{
		SampleRate:  m.cfg.OutputSampleRate,
		Channels:    m.cfg.OutputChannels,
		Samples:     mixed,
		PTS:         pts,
		SampleCount: maxLen / m.cfg.OutputChannels,
	}
}

func (m *Mixer) send(frame *types.AudioFrame) {
	select {
	case m.out <- frame:
		m.frameCount.Add(1)
	case <-m.stop:
	}
}

// FrameCount returns the number of mixed frames emitted so far.
func (m *Mixer) FrameCount() uint64 {
	return m.frameCount.Load()
}

// SetDesktopVolume adjusts desktop gain (clamped to >= 0).
func (m *Mixer) SetDesktopVolume(v float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v < 0 {
		v = 0
	}
	m.cfg.DesktopVolume.Volume = v
}

// SetMicVolume adjusts microphone gain (clamped to >= 0).
func (m *Mixer) SetMicVolume(v float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v < 0 {
		v = 0
	}
	m.cfg.MicVolume.Volume = v
}

// SetDesktopMuted toggles desktop muting.
func (m *Mixer) SetDesktopMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.DesktopVolume.Muted = muted
}

// SetMicMuted toggles microphone muting.
func (m *Mixer) SetMicMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.MicVolume.Muted = muted
}

// IsRunning reports whether the mixing loop is active.
func (m *Mixer) IsRunning() bool {
	return m.running.Load()
}

// Stop halts the mixing loop, releases both subscriptions, and waits
// for the goroutine to exit. Idempotent.
func (m *Mixer) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stop)
	m.wg.Wait()
	if m.unsubD != nil {
		m.unsubD()
	}
	if m.unsubM != nil {
		m.unsubM()
	}
}

func applyVolume(frame *types.AudioFrame, volume float32) *types.AudioFrame {
	if math.Abs(float64(volume-1.0)) < 0.001 {
		return frame
	}
	samples := make([]float32, len(frame.Samples))
	for i, s := range frame.Samples {
		samples[i] = softClip(s * volume)
	}
	return &types.AudioFrame{
		SampleRate:  frame.SampleRate,
		Channels:    frame.Channels,
		Samples:     samples,
		PTS:         frame.PTS,
		SampleCount: frame.SampleCount,
	}
}

func rmsAmplitude(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

// softClip passes the linear region through unchanged and applies
// tanh beyond |x| > 0.5, smoothly bounding the output to (-1, 1).
func softClip(x float32) float32 {
	if float32(math.Abs(float64(x))) <= 0.5 {
		return x
	}
	return float32(math.Tanh(float64(x)))
}
