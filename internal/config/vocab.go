// Package config holds Nitrogen's presets, codec vocabulary, the
// TOML settings file schema and capture-configuration validation.
package config

import "strings"

// Codec is the video codec used by the hardware encoder.
type Codec int

const (
	CodecH264 Codec = iota
	CodecHEVC
	CodecAV1
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "H.264"
	case CodecHEVC:
		return "HEVC"
	case CodecAV1:
		return "AV1"
	default:
		return "unknown"
	}
}

// NvencEncoderName returns the FFmpeg NVENC encoder name for this codec.
func (c Codec) NvencEncoderName() string {
	switch c {
	case CodecH264:
		return "h264_nvenc"
	case CodecHEVC:
		return "hevc_nvenc"
	case CodecAV1:
		return "av1_nvenc"
	default:
		return ""
	}
}

// ParseCodec accepts the aliases from spec §6: h264/avc/264,
// hevc/h265/265, av1.
func ParseCodec(s string) (Codec, bool) {
	switch strings.ToLower(s) {
	case "h264", "avc", "264":
		return CodecH264, true
	case "hevc", "h265", "265":
		return CodecHEVC, true
	case "av1":
		return CodecAV1, true
	default:
		return 0, false
	}
}

// AudioCodec is the audio codec used by the audio encoder.
type AudioCodec int

const (
	AudioCodecAAC AudioCodec = iota
	AudioCodecOpus
	AudioCodecCopy
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecAAC:
		return "AAC"
	case AudioCodecOpus:
		return "Opus"
	case AudioCodecCopy:
		return "Copy"
	default:
		return "unknown"
	}
}

// DefaultBitrateKbps returns the spec-mandated default bitrate for
// this audio codec when the user leaves bitrate at 0.
func (c AudioCodec) DefaultBitrateKbps() uint32 {
	switch c {
	case AudioCodecAAC:
		return 192
	case AudioCodecOpus:
		return 128
	default:
		return 0
	}
}

func ParseAudioCodec(s string) (AudioCodec, bool) {
	switch strings.ToLower(s) {
	case "aac":
		return AudioCodecAAC, true
	case "opus":
		return AudioCodecOpus, true
	case "copy":
		return AudioCodecCopy, true
	default:
		return 0, false
	}
}

// CursorMode mirrors types.CursorMode at the config layer (kept
// distinct so config can be (de)serialized independently of the
// runtime data model).
type CursorMode int

const (
	CursorHidden CursorMode = iota
	CursorEmbedded
	CursorMetadata
)

// AudioSource selects what audio, if any, to capture.
type AudioSource int

const (
	AudioNone AudioSource = iota
	AudioDesktop
	AudioMicrophone
	AudioBoth
)

func ParseAudioSource(s string) (AudioSource, bool) {
	switch strings.ToLower(s) {
	case "none", "":
		return AudioNone, true
	case "desktop":
		return AudioDesktop, true
	case "microphone", "mic":
		return AudioMicrophone, true
	case "both":
		return AudioBoth, true
	default:
		return 0, false
	}
}

// EncoderPreset is the encoder's speed/quality tradeoff knob.
type EncoderPreset int

const (
	EncoderFast EncoderPreset = iota
	EncoderMedium
	EncoderSlow
	EncoderQuality
)

// NvencPresetName returns the NVENC preset string for this quality level.
func (p EncoderPreset) NvencPresetName() string {
	switch p {
	case EncoderFast:
		return "p1"
	case EncoderMedium:
		return "p4"
	case EncoderSlow:
		return "p6"
	case EncoderQuality:
		return "p7"
	default:
		return "p4"
	}
}
