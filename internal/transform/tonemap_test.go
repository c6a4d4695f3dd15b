package transform

import (
	"testing"

	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAlgorithmAliases(t *testing.T) {
	for _, s := range []string{"hable", "uncharted2", "filmic", "HABLE"} {
		a, ok := ParseAlgorithm(s)
		require.True(t, ok, s)
		assert.Equal(t, AlgorithmHable, a)
	}
	_, ok := ParseAlgorithm("nope")
	assert.False(t, ok)
}

func TestShouldTonemapModes(t *testing.T) {
	hdr := &types.HDRMetadata{Transfer: types.TransferPQ, PeakLuminance: 1000}
	sdr := &types.HDRMetadata{Transfer: types.TransferSDR}

	on := NewTonemapper(Config{Mode: ModeOn})
	assert.True(t, on.ShouldTonemap(nil))
	assert.True(t, on.ShouldTonemap(sdr))

	off := NewTonemapper(Config{Mode: ModeOff})
	assert.False(t, off.ShouldTonemap(hdr))

	auto := NewTonemapper(DefaultConfig())
	assert.True(t, auto.ShouldTonemap(hdr))
	assert.False(t, auto.ShouldTonemap(sdr))
	assert.False(t, auto.ShouldTonemap(nil))
}

func TestTonemapSDRIsNoop(t *testing.T) {
	tm := NewTonemapper(DefaultConfig())
	frame := []byte{10, 20, 30, 255}
	before := append([]byte(nil), frame...)
	tm.Tonemap(frame, 1, 1, &types.HDRMetadata{Transfer: types.TransferSDR})
	assert.Equal(t, before, frame)
}

// TestTonemapMonotonicityReinhardAndHable verifies spec's tonemap
// monotonicity invariant: brighter input PQ values never map to a
// darker output under Reinhard or Hable.
func TestTonemapMonotonicityReinhardAndHable(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmReinhard, AlgorithmHable} {
		tm := NewTonemapper(Config{
			Mode: ModeOn, Algorithm: alg,
			PeakLuminance: 1000, SDRWhitePoint: 100,
		})

		var last byte
		for v := 0; v <= 255; v += 5 {
			frame := []byte{byte(v), byte(v), byte(v), 255}
			tm.Tonemap(frame, 1, 1, &types.HDRMetadata{Transfer: types.TransferPQ, PeakLuminance: 1000})
			assert.GreaterOrEqual(t, frame[0], last, "algorithm=%v value=%d", alg, v)
			last = frame[0]
		}
	}
}

func TestTonemapHLGPath(t *testing.T) {
	tm := NewTonemapper(DefaultConfig())
	frame := []byte{200, 200, 200, 255}
	tm.Tonemap(frame, 1, 1, &types.HDRMetadata{Transfer: types.TransferHLG, PeakLuminance: 1000})
	assert.LessOrEqual(t, frame[0], byte(200))
}

func TestTonemapTooSmallBufferIsNoop(t *testing.T) {
	tm := NewTonemapper(DefaultConfig())
	frame := []byte{1, 2, 3}
	tm.Tonemap(frame, 2, 2, &types.HDRMetadata{Transfer: types.TransferPQ, PeakLuminance: 1000})
	assert.Equal(t, []byte{1, 2, 3}, frame)
}
