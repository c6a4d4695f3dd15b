package config

import (
	"os"
	"path/filepath"

	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
	"github.com/pelletier/go-toml/v2"
)

// File mirrors $XDG_CONFIG_HOME/nitrogen/config.toml (spec §6). Every
// section has its own defaults so a missing or partial file parses to
// sane values.
type File struct {
	Defaults DefaultsSection `toml:"defaults"`
	Encoder  EncoderSection  `toml:"encoder"`
	AV1      AV1Section      `toml:"av1"`
	Camera   CameraSection   `toml:"camera"`
	Audio    AudioSection    `toml:"audio"`
}

type DefaultsSection struct {
	Preset     string `toml:"preset"`
	Codec      string `toml:"codec"`
	Bitrate    uint32 `toml:"bitrate"`
	LowLatency bool   `toml:"low_latency"`
}

type EncoderSection struct {
	Quality string `toml:"quality"`
	GPU     uint32 `toml:"gpu"`
}

type AV1Section struct {
	TenBit         bool   `toml:"ten_bit"`
	Tier           string `toml:"tier"`
	Tune           string `toml:"tune"`
	Lookahead      bool   `toml:"lookahead"`
	LookaheadDepth uint32 `toml:"lookahead_depth"`
	SpatialAQ      bool   `toml:"spatial_aq"`
	TemporalAQ     bool   `toml:"temporal_aq"`
	Multipass      string `toml:"multipass"`
	GOPLength      uint32 `toml:"gop_length"`
	BRefMode       bool   `toml:"b_ref_mode"`
}

type CameraSection struct {
	Name string `toml:"name"`
}

type AudioSection struct {
	Source  string `toml:"source"`
	Codec   string `toml:"codec"`
	Bitrate uint32 `toml:"bitrate"`
}

// DefaultFile returns the File that a missing config.toml resolves
// to: 1080p60 H.264, medium quality, low latency on, spatial AQ on.
func DefaultFile() File {
	return File{
		Defaults: DefaultsSection{Preset: "1080p60", Codec: "h264", LowLatency: true},
		Encoder:  EncoderSection{Quality: "medium"},
		AV1:      AV1Section{Tier: "main", Tune: "hq", LookaheadDepth: 20, SpatialAQ: true},
		Camera:   CameraSection{Name: "Nitrogen Camera"},
		Audio:    AudioSection{Source: "none", Codec: "aac"},
	}
}

// ConfigDir resolves $XDG_CONFIG_HOME/nitrogen, falling back to
// $HOME/.config/nitrogen.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nitrogen")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "nitrogen")
}

// Load reads and parses $XDG_CONFIG_HOME/nitrogen/config.toml. A
// missing file is not an error: Load returns DefaultFile(). Any other
// read or parse failure is a *nerr.Error of kind Config.
func Load() (File, error) {
	path := filepath.Join(ConfigDir(), "config.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultFile(), nil
	}
	if err != nil {
		return File{}, nerr.Wrap(nerr.KindConfig, err)
	}

	f := DefaultFile()
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, nerr.Config("parsing " + path + ": " + err.Error())
	}
	return f, nil
}

// Resolve turns a parsed File into a CaptureConfig for the given
// capture source, applying the preset/codec/audio-source vocabulary
// parsing with Config-kind errors on anything unrecognized. The
// caller fills in RecordPath and the sink settings afterward.
func Resolve(f File, source types.CaptureSource) (CaptureConfig, error) {
	preset, ok := ParsePreset(f.Defaults.Preset)
	if !ok {
		return CaptureConfig{}, nerr.Config("unknown preset: " + f.Defaults.Preset)
	}
	codec, ok := ParseCodec(f.Defaults.Codec)
	if !ok {
		return CaptureConfig{}, nerr.Config("unknown codec: " + f.Defaults.Codec)
	}
	audioSrc, ok := ParseAudioSource(f.Audio.Source)
	if !ok {
		return CaptureConfig{}, nerr.Config("unknown audio source: " + f.Audio.Source)
	}
	audioCodec, ok := ParseAudioCodec(f.Audio.Codec)
	if !ok {
		return CaptureConfig{}, nerr.Config("unknown audio codec: " + f.Audio.Codec)
	}
	tier := Av1TierMain
	if f.AV1.Tier == "high" {
		tier = Av1TierHigh
	}
	tune := parseAv1Tune(f.AV1.Tune)
	multipass := parseMultipass(f.AV1.Multipass)

	return CaptureConfig{
		Source:        source,
		Preset:        preset,
		Codec:         codec,
		BitrateKbps:   f.Defaults.Bitrate,
		EncoderPreset: parseEncoderPreset(f.Encoder.Quality),
		CameraName:    f.Camera.Name,
		LowLatency:    f.Defaults.LowLatency,
		GPU:           f.Encoder.GPU,
		CursorMode:    CursorEmbedded,
		AudioSource:   audioSrc,
		AudioCodec:    audioCodec,
		AudioBitrateKbps: f.Audio.Bitrate,
		AV1: Av1Config{
			TenBit:         f.AV1.TenBit,
			Tier:           tier,
			GOPLength:      f.AV1.GOPLength,
			Lookahead:      f.AV1.Lookahead,
			LookaheadDepth: f.AV1.LookaheadDepth,
			SpatialAQ:      f.AV1.SpatialAQ,
			TemporalAQ:     f.AV1.TemporalAQ,
			Tune:           tune,
			Multipass:      multipass,
			BRefMode:       f.AV1.BRefMode,
		},
	}, nil
}

func parseEncoderPreset(s string) EncoderPreset {
	switch s {
	case "fast":
		return EncoderFast
	case "slow":
		return EncoderSlow
	case "quality":
		return EncoderQuality
	default:
		return EncoderMedium
	}
}

func parseAv1Tune(s string) Av1Tune {
	switch s {
	case "uhq":
		return Av1TuneUHQ
	case "ll":
		return Av1TuneLL
	case "ull":
		return Av1TuneULL
	case "lossless":
		return Av1TuneLossless
	default:
		return Av1TuneHQ
	}
}

func parseMultipass(s string) MultipassMode {
	switch s {
	case "quarter":
		return MultipassQuarter
	case "full":
		return MultipassFull
	default:
		return MultipassOff
	}
}
