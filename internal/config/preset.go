package config

import "strings"

// Preset is an output resolution/framerate preset, or Custom for an
// arbitrary width/height/fps triple (spec §6).
type Preset struct {
	name                     string // canonical preset key for named presets; "" for Custom
	width, height, fps       uint32
	custom                   bool
}

var namedPresets = map[string]Preset{
	"720p30":   {width: 1280, height: 720, fps: 30},
	"720p60":   {width: 1280, height: 720, fps: 60},
	"1080p30":  {width: 1920, height: 1080, fps: 30},
	"1080p60":  {width: 1920, height: 1080, fps: 60},
	"1440p30":  {width: 2560, height: 1440, fps: 30},
	"1440p60":  {width: 2560, height: 1440, fps: 60},
	"1440p120": {width: 2560, height: 1440, fps: 120},
	"4k30":     {width: 3840, height: 2160, fps: 30},
	"4k60":     {width: 3840, height: 2160, fps: 60},
	"4k120":    {width: 3840, height: 2160, fps: 120},
}

var presetAliases = map[string]string{
	"2160p30": "4k30", "2160p60": "4k60", "2160p120": "4k120",
	"2k30": "1440p30", "2k60": "1440p60", "2k120": "1440p120",
}

// ParsePreset accepts the preset vocabulary of spec §6, including the
// 2160p.../2k... aliases.
func ParsePreset(s string) (Preset, bool) {
	key := strings.ToLower(s)
	if canon, ok := presetAliases[key]; ok {
		key = canon
	}
	p, ok := namedPresets[key]
	if !ok {
		return Preset{}, false
	}
	p.name = key
	return p, true
}

// CustomPreset builds an explicit width/height/fps preset.
func CustomPreset(width, height, fps uint32) Preset {
	return Preset{custom: true, width: width, height: height, fps: fps}
}

func (p Preset) Width() uint32  { return p.width }
func (p Preset) Height() uint32 { return p.height }
func (p Preset) FPS() uint32    { return p.fps }

func (p Preset) Resolution() (uint32, uint32) { return p.width, p.height }

func (p Preset) String() string {
	if p.custom {
		return ""
	}
	return p.name
}

// SuggestedBitrateKbps returns the fixed table from spec §6 for named
// presets, or a pixels-per-second estimate (≈0.07 bits/pixel) for
// Custom.
func (p Preset) SuggestedBitrateKbps() uint32 {
	if !p.custom {
		switch p.name {
		case "720p30":
			return 2500
		case "720p60":
			return 4000
		case "1080p30":
			return 4500
		case "1080p60":
			return 6000
		case "1440p30":
			return 9000
		case "1440p60":
			return 12000
		case "1440p120":
			return 18000
		case "4k30":
			return 20000
		case "4k60":
			return 35000
		case "4k120":
			return 50000
		}
	}
	pixelsPerSecond := uint64(p.width) * uint64(p.height) * uint64(p.fps)
	return uint32((pixelsPerSecond * 7) / 100_000)
}
