package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameRefcountReleasesOnce(t *testing.T) {
	released := 0
	f := NewFrame(1920, 1080, 0, 1920*4, 0, nil, MemoryPayload{Bytes: make([]byte, 4)}, func() {
		released++
	})

	g := f.Retain()
	assert.Equal(t, 0, released)

	f.Release()
	assert.Equal(t, 0, released, "should not release while g still holds a reference")

	g.Release()
	assert.Equal(t, 1, released)
}

func TestAudioFrameDuration(t *testing.T) {
	a := &AudioFrame{SampleRate: 48000, SampleCount: 960}
	assert.Equal(t, int64(20_000_000), a.DurationNs())
}

func TestStateIsTerminal(t *testing.T) {
	assert.True(t, StateStopped.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
}
