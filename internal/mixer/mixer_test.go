package mixer

import (
	"testing"
	"time"

	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeControlDefault(t *testing.T) {
	v := DefaultVolumeControl()
	assert.Equal(t, float32(1.0), v.Volume)
	assert.False(t, v.Muted)
	assert.Equal(t, float32(1.0), v.Effective())
}

func TestVolumeControlMuted(t *testing.T) {
	v := VolumeControl{Volume: 1.0, Muted: true}
	assert.Equal(t, float32(0.0), v.Effective())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 48000, cfg.OutputSampleRate)
	assert.Equal(t, 2, cfg.OutputChannels)
	assert.False(t, cfg.DuckingEnabled)
}

func TestSoftClip(t *testing.T) {
	assert.Equal(t, float32(0.3), softClip(0.3))
	assert.Equal(t, float32(-0.3), softClip(-0.3))

	clipped := softClip(2.0)
	assert.Less(t, clipped, float32(1.0))
	assert.Greater(t, clipped, float32(0.9))

	negClipped := softClip(-2.0)
	assert.Greater(t, negClipped, float32(-1.0))
	assert.Less(t, negClipped, float32(-0.9))
}

func TestNewRequiresAtLeastOneSource(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil, nil, nil)
	require.Error(t, err)
}

func TestForwardSingleSourceAppliesVolume(t *testing.T) {
	desktop := make(chan *types.AudioFrame, 1)
	cfg := DefaultConfig()
	cfg.DesktopVolume.Volume = 0.5

	m, err := New(cfg, desktop, func() {}, nil, nil)
	require.NoError(t, err)
	m.Start()

	desktop <- &types.AudioFrame{Samples: []float32{0.2, 0.4}, SampleCount: 1}
	close(desktop)

	select {
	case out := <-m.Subscribe():
		require.NotNil(t, out)
		assert.InDelta(t, 0.1, out.Samples[0], 0.001)
		assert.InDelta(t, 0.2, out.Samples[1], 0.001)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mixed frame")
	}
	m.Stop()
}

func TestMixBothSourcesDucking(t *testing.T) {
	desktop := make(chan *types.AudioFrame, 1)
	mic := make(chan *types.AudioFrame, 1)
	cfg := DefaultConfig()
	cfg.DuckingEnabled = true
	cfg.DuckingAmount = 0.8
	cfg.DuckingThreshold = 0.01

	m, err := New(cfg, desktop, func() {}, mic, func() {})
	require.NoError(t, err)
	m.Start()

	desktop <- &types.AudioFrame{Samples: []float32{1.0, 1.0}, PTS: 100, SampleCount: 1}
	mic <- &types.AudioFrame{Samples: []float32{0.5, 0.5}, PTS: 50, SampleCount: 1}

	select {
	case out := <-m.Subscribe():
		require.NotNil(t, out)
		// desktop ducked to 1.0*(1-0.8)=0.2, mic passthrough 0.5, sum=0.7 -> linear region softclip = 0.7? |0.7|>0.5 so tanh
		assert.Less(t, out.Samples[0], float32(1.0))
		assert.Equal(t, int64(50), out.PTS) // min of the two PTS
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mixed frame")
	}

	close(desktop)
	close(mic)
	m.Stop()
}

func TestMuteAndVolumeSetters(t *testing.T) {
	desktop := make(chan *types.AudioFrame)
	m, err := New(DefaultConfig(), desktop, func() {}, nil, nil)
	require.NoError(t, err)

	m.SetDesktopVolume(-5)
	assert.Equal(t, float32(0), m.cfg.DesktopVolume.Volume)

	m.SetDesktopMuted(true)
	assert.True(t, m.cfg.DesktopVolume.Muted)

	m.SetMicVolume(2)
	assert.Equal(t, float32(2), m.cfg.MicVolume.Volume)

	m.SetMicMuted(true)
	assert.True(t, m.cfg.MicVolume.Muted)
}
