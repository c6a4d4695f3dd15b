package transform

import (
	"testing"

	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(width, height int, color byte, pts int64) *types.Frame {
	stride := width * 4
	data := make([]byte, stride*height)
	for i := range data {
		data[i] = color
	}
	return types.NewFrame(width, height, formats.FourccXRGB8888, stride, pts,
		nil, types.MemoryPayload{Bytes: data}, func() {})
}

func TestFrameGenModeMultiplierAndFPS(t *testing.T) {
	assert.Equal(t, uint32(1), FrameGenOff.Multiplier())
	assert.Equal(t, uint32(2), FrameGenDouble.Multiplier())
	assert.Equal(t, uint32(4), FrameGenQuadruple.Multiplier())
	assert.Equal(t, uint32(60), FrameGenDouble.OutputFPS(30))
	assert.Equal(t, uint32(120), FrameGenQuadruple.OutputFPS(30))
}

func TestParseFrameGenModeAliases(t *testing.T) {
	assert.Equal(t, FrameGenDouble, ParseFrameGenMode("2x"))
	assert.Equal(t, FrameGenTriple, ParseFrameGenMode("3"))
	assert.Equal(t, FrameGenOff, ParseFrameGenMode("whatever"))
}

func TestProcessOffModePassesThrough(t *testing.T) {
	g := NewFrameGenerator(FrameGenConfig{Mode: FrameGenOff})
	f := solidFrame(4, 4, 100, 0)
	defer f.Release()

	out := g.Process(f)
	require.Len(t, out, 1)
	out[0].Release()
}

func TestProcessDoubleInterpolatesMidpoint(t *testing.T) {
	// The histogram distance never exceeds 1.0, so a threshold of 1.0
	// keeps the black-to-200 step from being treated as a scene cut.
	g := NewFrameGenerator(FrameGenConfig{Mode: FrameGenDouble, GPUAccelerated: false, SceneThreshold: 1.0})
	defer g.Close()

	f1 := solidFrame(8, 8, 0, 0)
	f2 := solidFrame(8, 8, 200, 1000)
	defer f1.Release()
	defer f2.Release()

	out1 := g.Process(f1)
	require.Len(t, out1, 1) // no previous frame yet
	for _, f := range out1 {
		f.Release()
	}

	out2 := g.Process(f2)
	require.Len(t, out2, 2) // interpolated + original
	interp := out2[0].Payload.(types.MemoryPayload).Bytes
	assert.InDelta(t, 100, int(interp[0]), 3)
	for _, f := range out2 {
		f.Release()
	}
}

func TestDetectSceneChangeOnDimensionMismatch(t *testing.T) {
	g := NewFrameGenerator(DefaultFrameGenConfig())
	a := solidFrame(4, 4, 10, 0)
	b := solidFrame(8, 8, 10, 0)
	defer a.Release()
	defer b.Release()
	assert.True(t, g.detectSceneChange(a, b))
}

func TestHistogramDifferenceIdenticalIsNearZero(t *testing.T) {
	data := make([]byte, 64*64*4)
	for i := range data {
		data[i] = 128
	}
	diff := histogramDifference(data, data, 64, 64, 64*4, formats.FourccXRGB8888)
	assert.Less(t, diff, float32(0.01))
}

func TestHistogramDifferenceBlackVsWhiteIsHigh(t *testing.T) {
	black := make([]byte, 64*64*4)
	white := make([]byte, 64*64*4)
	for i := range white {
		white[i] = 255
	}
	diff := histogramDifference(black, white, 64, 64, 64*4, formats.FourccXRGB8888)
	assert.Greater(t, diff, float32(0.3))
}

func TestInterpolatePTS(t *testing.T) {
	assert.Equal(t, int64(0), interpolatePTS(0, 1000, 0.0))
	assert.Equal(t, int64(500), interpolatePTS(0, 1000, 0.5))
	assert.Equal(t, int64(1250), interpolatePTS(1000, 2000, 0.25))
}
