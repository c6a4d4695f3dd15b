package orchestrator

import (
	"sync"
	"testing"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/transform"
	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVideoCapturer satisfies videoCapturerWithFormat without opening
// any real PipeWire stream, so the Running/WaitingForStream
// transitions can be driven deterministically.
type fakeVideoCapturer struct {
	mu         sync.Mutex
	running    bool
	negotiated bool
	w, h, s    int
	fourcc     uint32
}

func (f *fakeVideoCapturer) Subscribe() (<-chan *types.Frame, func()) {
	ch := make(chan *types.Frame)
	return ch, func() {}
}
func (f *fakeVideoCapturer) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
func (f *fakeVideoCapturer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}
func (f *fakeVideoCapturer) NegotiatedFormat() (int, int, int, uint32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.w, f.h, f.s, f.fourcc, f.negotiated
}

type fakeAudioCapturer struct{ running bool }

func (f *fakeAudioCapturer) Subscribe() (<-chan *types.AudioFrame, func()) {
	return make(chan *types.AudioFrame), func() {}
}
func (f *fakeAudioCapturer) IsRunning() bool { return f.running }
func (f *fakeAudioCapturer) Stop()           {}

// fakeVideoEncoder records every frame it's asked to encode.
type fakeVideoEncoder struct {
	mu      sync.Mutex
	encoded int
	failNext bool
}

func (f *fakeVideoEncoder) Encode(frame *types.Frame) (*types.EncodedVideoPacket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, assertError{}
	}
	f.encoded++
	return &types.EncodedVideoPacket{Data: []byte{0x01, 0x02}, Keyframe: true}, nil
}
func (f *fakeVideoEncoder) Flush() []*types.EncodedVideoPacket { return nil }
func (f *fakeVideoEncoder) Close()                             {}

type assertError struct{}

func (assertError) Error() string { return "encode failed" }

type fakeAudioEncoder struct{ frameSize, encoded int }

func (f *fakeAudioEncoder) Encode(a *types.AudioFrame) ([]*types.EncodedAudioPacket, error) {
	f.encoded++
	return []*types.EncodedAudioPacket{{Data: []byte{0xAA}}}, nil
}
func (f *fakeAudioEncoder) Flush() []*types.EncodedAudioPacket { return nil }
func (f *fakeAudioEncoder) FrameSize() int                     { return f.frameSize }
func (f *fakeAudioEncoder) Close()                              {}

func newTestPipeline() *Pipeline {
	cfg := config.NewMonitorConfig("0")
	p := New(cfg)
	p.tonemapper = transform.NewTonemapper(transform.DefaultConfig())
	p.framegen = transform.NewFrameGenerator(transform.DefaultFrameGenConfig())
	p.overlay = transform.NewOverlay(transform.DefaultOverlayConfig())
	return p
}

func memFrame(w, h int) *types.Frame {
	buf := make([]byte, w*h*4)
	return types.NewFrame(w, h, formats.FourccBGRA8888, w*4, 0, nil, types.MemoryPayload{Bytes: buf}, func() {})
}

func TestPipelineStartsIdle(t *testing.T) {
	p := newTestPipeline()
	assert.Equal(t, types.StateIdle, p.State())
	status := p.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "Idle", status.State)
	assert.Nil(t, status.Source)
}

func TestTickWaitingForStreamTransitionsToRunning(t *testing.T) {
	p := newTestPipeline()
	fv := &fakeVideoCapturer{running: true, negotiated: true, w: 1920, h: 1080, fourcc: formats.FourccBGRA8888}
	p.videoCap = fv
	p.setState(types.StateWaitingForStream)

	cont := p.tickWaitingForStream()
	assert.False(t, cont)
	assert.Equal(t, types.StateRunning, p.State())
}

func TestTickWaitingForStreamPollsUntilNegotiated(t *testing.T) {
	p := newTestPipeline()
	fv := &fakeVideoCapturer{running: true, negotiated: false}
	p.videoCap = fv
	p.setState(types.StateWaitingForStream)

	assert.True(t, p.tickWaitingForStream())
	assert.Equal(t, types.StateWaitingForStream, p.State())
}

func TestTickWaitingForStreamFailsIfCaptureStops(t *testing.T) {
	p := newTestPipeline()
	fv := &fakeVideoCapturer{running: false, negotiated: false}
	p.videoCap = fv
	p.setState(types.StateWaitingForStream)

	assert.False(t, p.tickWaitingForStream())
	assert.Equal(t, types.StateError, p.State())
	require.Error(t, p.LastError())
}

func TestTickWaitingForStreamRespectsStop(t *testing.T) {
	p := newTestPipeline()
	p.videoCap = &fakeVideoCapturer{running: true}
	p.setState(types.StateWaitingForStream)
	close(p.stopCh)

	assert.False(t, p.tickWaitingForStream())
	assert.Equal(t, types.StateStopping, p.State())
}

func TestHandleVideoFrameEncodesAndCountsProcessed(t *testing.T) {
	p := newTestPipeline()
	enc := &fakeVideoEncoder{}
	p.videoEnc = enc

	frame := memFrame(64, 64)
	p.handleVideoFrame(frame)

	assert.Equal(t, 1, enc.encoded)
	assert.EqualValues(t, 1, p.stats.FramesProcessed.Load())
	assert.EqualValues(t, 0, p.stats.FramesFailed.Load())
}

func TestHandleVideoFrameCountsEncodeFailureAsFailed(t *testing.T) {
	p := newTestPipeline()
	enc := &fakeVideoEncoder{failNext: true}
	p.videoEnc = enc

	frame := memFrame(32, 32)
	p.handleVideoFrame(frame)

	assert.EqualValues(t, 0, p.stats.FramesProcessed.Load())
	assert.EqualValues(t, 1, p.stats.FramesFailed.Load())
}

func TestProcessReturnsFalseOnStop(t *testing.T) {
	p := newTestPipeline()
	p.videoEnc = &fakeVideoEncoder{}
	close(p.stopCh)

	assert.False(t, p.process())
	assert.Equal(t, types.StateStopping, p.State())
}

func TestDrainAudioEncodesQueuedFrames(t *testing.T) {
	p := newTestPipeline()
	ae := &fakeAudioEncoder{frameSize: 960}
	p.audioEnc = ae

	ch := make(chan *types.AudioFrame, 2)
	ch <- &types.AudioFrame{SampleRate: 48000, Channels: 2, Samples: make([]float32, 1920), SampleCount: 960}
	ch <- &types.AudioFrame{SampleRate: 48000, Channels: 2, Samples: make([]float32, 1920), SampleCount: 960}
	close(ch)
	p.audioOut = ch

	p.drainAudio()
	// drainAudio drains until empty or closed; both queued frames
	// should have been encoded with no error.
	assert.Equal(t, 2, ae.encoded)
	assert.Zero(t, p.stats.FramesFailed.Load())
}

func TestStatusReportsRunningDetails(t *testing.T) {
	p := newTestPipeline()
	p.videoCap = &fakeVideoCapturer{running: true}
	p.setState(types.StateRunning)

	status := p.Status()
	assert.True(t, status.Running)
	require.NotNil(t, status.Source)
	require.NotNil(t, status.Resolution)
	require.NotNil(t, status.FPS)
	require.NotNil(t, status.CameraName)
	assert.Equal(t, "Nitrogen Camera", *status.CameraName)
}

func TestStatsSnapshotReflectsCounters(t *testing.T) {
	p := newTestPipeline()
	p.stats.FramesProcessed.Add(10)
	p.stats.FramesDropped.Add(2)
	p.stats.FramesFailed.Add(1)

	stats := p.Stats()
	assert.EqualValues(t, 10, stats.FramesProcessed)
	assert.EqualValues(t, 2, stats.FramesDropped)
	assert.EqualValues(t, 1, stats.FramesFailed)
	assert.Equal(t, "H.264", stats.Codec)
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	p := newTestPipeline()
	p.Stop()
	assert.Equal(t, types.StateIdle, p.State())
}
