package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePositionAliases(t *testing.T) {
	assert.Equal(t, PositionTopLeft, ParsePosition("top-left"))
	assert.Equal(t, PositionTopRight, ParsePosition("top-right"))
	assert.Equal(t, PositionBottomLeft, ParsePosition("bottom-left"))
	assert.Equal(t, PositionBottomRight, ParsePosition("br"))
	assert.Equal(t, PositionTopLeft, ParsePosition("invalid"))
}

func TestOverlayToggle(t *testing.T) {
	o := NewOverlay(DefaultOverlayConfig())
	assert.False(t, o.IsEnabled())
	o.Toggle()
	assert.True(t, o.IsEnabled())
	o.Toggle()
	assert.False(t, o.IsEnabled())
}

func TestFormatText(t *testing.T) {
	cfg := DefaultOverlayConfig()
	cfg.Enabled = true
	cfg.ShowBitrate = false
	cfg.ShowDrops = false
	o := NewOverlay(cfg)

	stats := LatencyStats{CaptureLatencyMs: 2.5, EncodeLatencyMs: 5.0, FPS: 60.0}
	text := o.FormatText(stats)
	assert.Contains(t, text, "Cap:2.5ms")
	assert.Contains(t, text, "Enc:5.0ms")
	assert.Contains(t, text, "60fps")
}

func TestRenderDisabledIsNoop(t *testing.T) {
	o := NewOverlay(DefaultOverlayConfig())
	frame := make([]byte, 100*100*4)
	o.Render(frame, 100, 100, LatencyStats{})
	for _, b := range frame {
		assert.Equal(t, byte(0), b)
	}
}

func TestRenderEnabledChangesPixels(t *testing.T) {
	cfg := DefaultOverlayConfig()
	cfg.Enabled = true
	o := NewOverlay(cfg)

	frame := make([]byte, 100*100*4)
	for i := range frame {
		frame[i] = 128
	}
	o.Render(frame, 100, 100, LatencyStats{CaptureLatencyMs: 2, EncodeLatencyMs: 4, FPS: 60})

	changed := false
	for _, b := range frame {
		if b != 128 {
			changed = true
			break
		}
	}
	assert.True(t, changed)
}

func TestCharBitmapNonEmptyForAlphanumerics(t *testing.T) {
	for c := '0'; c <= '9'; c++ {
		bm := charBitmap(c)
		assert.NotEqual(t, [7]uint8{}, bm, "digit %c should have a glyph", c)
	}
	for c := 'A'; c <= 'Z'; c++ {
		bm := charBitmap(c)
		assert.NotEqual(t, [7]uint8{}, bm, "letter %c should have a glyph", c)
	}
}
