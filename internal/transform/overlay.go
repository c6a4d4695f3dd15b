package transform

import (
	"fmt"
	"math"
	"strings"
)

// Position is the overlay's anchor corner on the frame.
type Position int

const (
	PositionTopLeft Position = iota
	PositionTopRight
	PositionBottomLeft
	PositionBottomRight
)

// ParsePosition accepts the vocabulary from spec §6.
func ParsePosition(s string) Position {
	switch strings.ToLower(s) {
	case "top-right", "topright", "tr":
		return PositionTopRight
	case "bottom-left", "bottomleft", "bl":
		return PositionBottomLeft
	case "bottom-right", "bottomright", "br":
		return PositionBottomRight
	default:
		return PositionTopLeft
	}
}

// LatencyStats is the telemetry snapshot the overlay renders.
type LatencyStats struct {
	CaptureLatencyMs float64
	EncodeLatencyMs  float64
	OutputLatencyMs  float64
	FPS              float64
	BitrateKbps      uint32
	FramesDropped    uint64
}

// OverlayConfig controls which stats are shown and how they're drawn.
type OverlayConfig struct {
	Enabled            bool
	Position           Position
	ShowCapture        bool
	ShowEncode         bool
	ShowFPS            bool
	ShowBitrate        bool
	ShowDrops          bool
	FontScale          float32 // 1.0 = 8px glyph height
	BackgroundOpacity  float32 // 0.0-1.0
}

// DefaultOverlayConfig matches the original implementation's defaults:
// disabled, top-left, every stat shown, 1x scale, 70% background.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		Position: PositionTopLeft, ShowCapture: true, ShowEncode: true,
		ShowFPS: true, ShowBitrate: true, ShowDrops: true,
		FontScale: 1.0, BackgroundOpacity: 0.7,
	}
}

// Overlay renders a LatencyStats telemetry line onto a BGRA frame
// using an embedded 5x7 bitmap font, per spec §4.10.
type Overlay struct {
	cfg OverlayConfig
}

func NewOverlay(cfg OverlayConfig) *Overlay { return &Overlay{cfg: cfg} }

func (o *Overlay) Config() OverlayConfig   { return o.cfg }
func (o *Overlay) SetConfig(c OverlayConfig) { o.cfg = c }
func (o *Overlay) IsEnabled() bool         { return o.cfg.Enabled }
func (o *Overlay) SetEnabled(e bool)       { o.cfg.Enabled = e }
func (o *Overlay) Toggle()                 { o.cfg.Enabled = !o.cfg.Enabled }

// FormatText composes the telemetry line from the configured fields.
func (o *Overlay) FormatText(stats LatencyStats) string {
	var parts []string
	if o.cfg.ShowCapture {
		parts = append(parts, fmt.Sprintf("Cap:%.1fms", stats.CaptureLatencyMs))
	}
	if o.cfg.ShowEncode {
		parts = append(parts, fmt.Sprintf("Enc:%.1fms", stats.EncodeLatencyMs))
	}
	if o.cfg.ShowFPS {
		parts = append(parts, fmt.Sprintf("%.0ffps", stats.FPS))
	}
	if o.cfg.ShowBitrate && stats.BitrateKbps > 0 {
		parts = append(parts, fmt.Sprintf("%dkbps", stats.BitrateKbps))
	}
	if o.cfg.ShowDrops && stats.FramesDropped > 0 {
		parts = append(parts, fmt.Sprintf("Drop:%d", stats.FramesDropped))
	}
	return strings.Join(parts, " | ")
}

// Render draws the telemetry box onto frame (BGRA, width*height*4
// bytes) in place. A disabled overlay or empty text is a no-op.
func (o *Overlay) Render(frame []byte, width, height int, stats LatencyStats) {
	if !o.cfg.Enabled {
		return
	}
	text := o.FormatText(stats)
	if text == "" {
		return
	}

	scale := o.cfg.FontScale
	if scale <= 0 {
		scale = 1
	}
	charWidth := int(6.0 * scale)
	charHeight := int(8.0 * scale)
	const padding = 4
	textWidth := len(text) * charWidth
	boxWidth := textWidth + padding*2
	boxHeight := charHeight + padding*2

	var boxX, boxY int
	switch o.cfg.Position {
	case PositionTopRight:
		boxX, boxY = satSub(width, boxWidth+padding), padding
	case PositionBottomLeft:
		boxX, boxY = padding, satSub(height, boxHeight+padding)
	case PositionBottomRight:
		boxX, boxY = satSub(width, boxWidth+padding), satSub(height, boxHeight+padding)
	default:
		boxX, boxY = padding, padding
	}

	bgAlpha := uint8(o.cfg.BackgroundOpacity * 255.0)
	o.drawRect(frame, width, height, boxX, boxY, boxWidth, boxHeight, [4]uint8{0, 0, 0, bgAlpha})
	o.drawText(frame, width, height, boxX+padding, boxY+padding, text, [4]uint8{255, 255, 255, 255}, scale)
}

func satSub(a, b int) int {
	if a < b {
		return 0
	}
	return a - b
}

func (o *Overlay) drawRect(frame []byte, width, height, x, y, w, h int, color [4]uint8) {
	stride := width * 4
	alpha := uint32(color[3])

	maxY := y + h
	if maxY > height {
		maxY = height
	}
	maxX := x + w
	if maxX > width {
		maxX = width
	}
	for py := max0(y); py < maxY; py++ {
		for px := max0(x); px < maxX; px++ {
			idx := py*stride + px*4
			if idx+3 >= len(frame) {
				continue
			}
			for i := 0; i < 3; i++ {
				src := uint32(color[i])
				dst := uint32(frame[idx+i])
				frame[idx+i] = uint8((src*alpha + dst*(255-alpha)) / 255)
			}
		}
	}
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func (o *Overlay) drawText(frame []byte, width, height, x, y int, text string, color [4]uint8, scale float32) {
	charWidth := int(6.0 * scale)
	for i, ch := range text {
		o.drawChar(frame, width, height, x+i*charWidth, y, ch, color, scale)
	}
}

func (o *Overlay) drawChar(frame []byte, width, height, x, y int, ch rune, color [4]uint8, scale float32) {
	bitmap := charBitmap(ch)
	stride := width * 4
	block := int(math.Ceil(float64(scale)))

	for row, bits := range bitmap {
		for col := 0; col < 5; col++ {
			if (bits>>(4-col))&1 != 1 {
				continue
			}
			px := x + int(float32(col)*scale)
			py := y + int(float32(row)*scale)
			for dy := 0; dy < block; dy++ {
				for dx := 0; dx < block; dx++ {
					fx, fy := px+dx, py+dy
					if fx < 0 || fy < 0 || fx >= width || fy >= height {
						continue
					}
					idx := fy*stride + fx*4
					if idx+3 >= len(frame) {
						continue
					}
					frame[idx] = color[0]
					frame[idx+1] = color[1]
					frame[idx+2] = color[2]
					frame[idx+3] = color[3]
				}
			}
		}
	}
}

// charBitmap returns the 5x7 glyph for ch (low 5 bits of each byte
// significant, bit 4 the leftmost column), or a blank glyph for
// anything not in the table.
func charBitmap(ch rune) [7]uint8 {
	switch ch {
	case '0':
		return [7]uint8{0b01110, 0b10001, 0b10011, 0b10101, 0b11001, 0b10001, 0b01110}
	case '1':
		return [7]uint8{0b00100, 0b01100, 0b00100, 0b00100, 0b00100, 0b00100, 0b01110}
	case '2':
		return [7]uint8{0b01110, 0b10001, 0b00001, 0b00110, 0b01000, 0b10000, 0b11111}
	case '3':
		return [7]uint8{0b01110, 0b10001, 0b00001, 0b00110, 0b00001, 0b10001, 0b01110}
	case '4':
		return [7]uint8{0b00010, 0b00110, 0b01010, 0b10010, 0b11111, 0b00010, 0b00010}
	case '5':
		return [7]uint8{0b11111, 0b10000, 0b11110, 0b00001, 0b00001, 0b10001, 0b01110}
	case '6':
		return [7]uint8{0b00110, 0b01000, 0b10000, 0b11110, 0b10001, 0b10001, 0b01110}
	case '7':
		return [7]uint8{0b11111, 0b00001, 0b00010, 0b00100, 0b01000, 0b01000, 0b01000}
	case '8':
		return [7]uint8{0b01110, 0b10001, 0b10001, 0b01110, 0b10001, 0b10001, 0b01110}
	case '9':
		return [7]uint8{0b01110, 0b10001, 0b10001, 0b01111, 0b00001, 0b00010, 0b01100}
	case 'a', 'A':
		return [7]uint8{0b01110, 0b10001, 0b10001, 0b11111, 0b10001, 0b10001, 0b10001}
	case 'b', 'B':
		return [7]uint8{0b11110, 0b10001, 0b10001, 0b11110, 0b10001, 0b10001, 0b11110}
	case 'c', 'C':
		return [7]uint8{0b01110, 0b10001, 0b10000, 0b10000, 0b10000, 0b10001, 0b01110}
	case 'd', 'D':
		return [7]uint8{0b11110, 0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b11110}
	case 'e', 'E':
		return [7]uint8{0b11111, 0b10000, 0b10000, 0b11110, 0b10000, 0b10000, 0b11111}
	case 'f', 'F':
		return [7]uint8{0b11111, 0b10000, 0b10000, 0b11110, 0b10000, 0b10000, 0b10000}
	case 'g', 'G':
		return [7]uint8{0b01110, 0b10001, 0b10000, 0b10111, 0b10001, 0b10001, 0b01110}
	case 'h', 'H':
		return [7]uint8{0b10001, 0b10001, 0b10001, 0b11111, 0b10001, 0b10001, 0b10001}
	case 'i', 'I':
		return [7]uint8{0b01110, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100, 0b01110}
	case 'j', 'J':
		return [7]uint8{0b00111, 0b00010, 0b00010, 0b00010, 0b00010, 0b10010, 0b01100}
	case 'k', 'K':
		return [7]uint8{0b10001, 0b10010, 0b10100, 0b11000, 0b10100, 0b10010, 0b10001}
	case 'l', 'L':
		return [7]uint8{0b10000, 0b10000, 0b10000, 0b10000, 0b10000, 0b10000, 0b11111}
	case 'm', 'M':
		return [7]uint8{0b10001, 0b11011, 0b10101, 0b10101, 0b10001, 0b10001, 0b10001}
	case 'n', 'N':
		return [7]uint8{0b10001, 0b10001, 0b11001, 0b10101, 0b10011, 0b10001, 0b10001}
	case 'o', 'O':
		return [7]uint8{0b01110, 0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b01110}
	case 'p', 'P':
		return [7]uint8{0b11110, 0b10001, 0b10001, 0b11110, 0b10000, 0b10000, 0b10000}
	case 'q', 'Q':
		return [7]uint8{0b01110, 0b10001, 0b10001, 0b10001, 0b10101, 0b10010, 0b01101}
	case 'r', 'R':
		return [7]uint8{0b11110, 0b10001, 0b10001, 0b11110, 0b10100, 0b10010, 0b10001}
	case 's', 'S':
		return [7]uint8{0b01110, 0b10001, 0b10000, 0b01110, 0b00001, 0b10001, 0b01110}
	case 't', 'T':
		return [7]uint8{0b11111, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100}
	case 'u', 'U':
		return [7]uint8{0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b01110}
	case 'v', 'V':
		return [7]uint8{0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b01010, 0b00100}
	case 'w', 'W':
		return [7]uint8{0b10001, 0b10001, 0b10001, 0b10101, 0b10101, 0b11011, 0b10001}
	case 'x', 'X':
		return [7]uint8{0b10001, 0b10001, 0b01010, 0b00100, 0b01010, 0b10001, 0b10001}
	case 'y', 'Y':
		return [7]uint8{0b10001, 0b10001, 0b01010, 0b00100, 0b00100, 0b00100, 0b00100}
	case 'z', 'Z':
		return [7]uint8{0b11111, 0b00001, 0b00010, 0b00100, 0b01000, 0b10000, 0b11111}
	case ':':
		return [7]uint8{0b00000, 0b00100, 0b00000, 0b00000, 0b00000, 0b00100, 0b00000}
	case '.':
		return [7]uint8{0b00000, 0b00000, 0b00000, 0b00000, 0b00000, 0b00000, 0b00100}
	case '|':
		return [7]uint8{0b00100, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100}
	case '-':
		return [7]uint8{0b00000, 0b00000, 0b00000, 0b11111, 0b00000, 0b00000, 0b00000}
	case '/':
		return [7]uint8{0b00001, 0b00010, 0b00010, 0b00100, 0b01000, 0b01000, 0b10000}
	case '%':
		return [7]uint8{0b11001, 0b11010, 0b00010, 0b00100, 0b01000, 0b01011, 0b10011}
	default:
		return [7]uint8{}
	}
}
