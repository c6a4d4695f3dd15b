package config

import (
	"fmt"

	"github.com/ghostkellz/nitrogen/internal/transform"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// CaptureConfig is the fully resolved configuration for one pipeline
// run, combining the capture source, output preset, codec choices and
// AV1 tuning (spec §3/§6).
type CaptureConfig struct {
	Source       types.CaptureSource
	Preset       Preset
	Codec        Codec
	BitrateKbps  uint32 // 0 = auto (preset suggestion)
	EncoderPreset EncoderPreset
	CameraName   string
	LowLatency   bool
	GPU          uint32
	RecordPath   string // "" = no file recording
	CursorMode   CursorMode
	AudioSource  AudioSource
	AV1          Av1Config
	AudioCodec   AudioCodec
	AudioBitrateKbps uint32

	// Sink enablement, not covered by the config file's documented
	// [defaults]/[encoder]/[av1]/[camera]/[audio] sections (spec §6)
	// but required to wire the broadcast-subscriber sinks of §4.11.
	CameraDevice string // v4l2loopback device path, "" = no virtual camera
	MicDevice    string // PulseAudio sink/device name, "" = no virtual mic
	StreamURL    string // rtmp(s):// or srt://, "" = no network stream
	WebRTCEnabled bool
	ICEServers   []string // STUN/TURN URLs for the WebRTC sink

	Tonemap transform.Config
	FrameGen transform.FrameGenConfig
	Overlay transform.OverlayConfig
}

// NewMonitorConfig builds a config capturing a monitor with
// spec-defined defaults (1080p60, H.264, embedded cursor).
func NewMonitorConfig(id string) CaptureConfig {
	return CaptureConfig{
		Source:        types.CaptureSource{Kind: types.SourceMonitor, ID: id},
		Preset:        mustPreset("1080p60"),
		Codec:         CodecH264,
		EncoderPreset: EncoderMedium,
		CameraName:    "Nitrogen Camera",
		LowLatency:    true,
		CursorMode:    CursorEmbedded,
		AV1:           DefaultAv1Config(),
		Tonemap:       transform.DefaultConfig(),
		FrameGen:      transform.DefaultFrameGenConfig(),
		Overlay:       transform.DefaultOverlayConfig(),
	}
}

// NewWindowConfig is NewMonitorConfig's window-capture counterpart.
func NewWindowConfig(id string) CaptureConfig {
	c := NewMonitorConfig(id)
	c.Source = types.CaptureSource{Kind: types.SourceWindow, ID: id}
	return c
}

func mustPreset(name string) Preset {
	p, ok := ParsePreset(name)
	if !ok {
		panic("config: unknown built-in preset " + name)
	}
	return p
}

func (c CaptureConfig) HasAudio() bool { return c.AudioSource != AudioNone }

// EffectiveBitrateKbps returns BitrateKbps if set, else the preset's
// suggestion.
func (c CaptureConfig) EffectiveBitrateKbps() uint32 {
	if c.BitrateKbps > 0 {
		return c.BitrateKbps
	}
	return c.Preset.SuggestedBitrateKbps()
}

// EffectiveAudioBitrateKbps returns AudioBitrateKbps if set, else the
// codec's default.
func (c CaptureConfig) EffectiveAudioBitrateKbps() uint32 {
	if c.AudioBitrateKbps > 0 {
		return c.AudioBitrateKbps
	}
	return c.AudioCodec.DefaultBitrateKbps()
}

func (c CaptureConfig) Width() uint32  { return c.Preset.Width() }
func (c CaptureConfig) Height() uint32 { return c.Preset.Height() }
func (c CaptureConfig) FPS() uint32    { return c.Preset.FPS() }

// Validate returns non-fatal warnings about a configuration that will
// run but may perform poorly (spec's advisory validation).
func (c CaptureConfig) Validate() []string {
	var warnings []string

	effective := c.EffectiveBitrateKbps()
	suggested := c.Preset.SuggestedBitrateKbps()

	if c.BitrateKbps > 0 {
		if effective < suggested/4 {
			warnings = append(warnings, fmt.Sprintf(
				"bitrate %d kbps is very low for %s (suggested: %d kbps); quality may suffer",
				effective, c.Preset, suggested))
		} else if effective > suggested*3 {
			warnings = append(warnings, fmt.Sprintf(
				"bitrate %d kbps is very high for %s (suggested: %d kbps); may be wasteful",
				effective, c.Preset, suggested))
		}
		if effective < 500 {
			warnings = append(warnings, "bitrate below 500 kbps will likely produce poor quality video")
		}
		if effective > 100_000 {
			warnings = append(warnings, "bitrate above 100 Mbps is excessive for streaming")
		}
	}

	pixelsPerSecond := uint64(c.Width()) * uint64(c.Height()) * uint64(c.FPS())
	if pixelsPerSecond > 500_000_000 {
		warnings = append(warnings, fmt.Sprintf(
			"high resolution/framerate (%s) requires significant GPU encoding power", c.Preset))
	}

	if c.Codec == CodecAV1 && c.FPS() > 60 {
		warnings = append(warnings, "AV1 encoding at high framerates may cause performance issues; consider HEVC or H.264")
	}

	if c.FPS() > 60 {
		warnings = append(warnings, fmt.Sprintf("%dfps exceeds common 60fps receiver limits; frames may be dropped downstream", c.FPS()))
	}

	return warnings
}

// ValidateStrict rejects configurations that cannot possibly run
// (spec §8's quantified invariant: zero dimensions, zero fps,
// resolution/fps exceeding hard limits).
func (c CaptureConfig) ValidateStrict() error {
	if c.Width() == 0 || c.Height() == 0 {
		return fmt.Errorf("resolution cannot be zero")
	}
	if c.FPS() == 0 {
		return fmt.Errorf("framerate cannot be zero")
	}
	if c.Width() > 7680 || c.Height() > 4320 {
		return fmt.Errorf("resolution %dx%d exceeds maximum supported (7680x4320)", c.Width(), c.Height())
	}
	if c.FPS() > 240 {
		return fmt.Errorf("framerate %d exceeds maximum supported (240)", c.FPS())
	}
	return nil
}
