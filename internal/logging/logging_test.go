package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForReturnsUsableLogger(t *testing.T) {
	Init("debug", true)
	l := For("capture.video")
	assert.NotPanics(t, func() {
		l.Info().Msg("capture started")
	})
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	assert.NotPanics(t, func() {
		Init("not-a-level", true)
	})
}
