// Package transform holds the optional per-frame processors that sit
// between capture and encode: HDR tonemapping, motion-interpolated
// frame generation, bilinear rescale/colorspace conversion, and the
// telemetry overlay.
package transform

import (
	"math"
	"strings"

	"github.com/ghostkellz/nitrogen/internal/types"
)

// Algorithm selects the tonemap operator applied in linear light.
type Algorithm int

const (
	AlgorithmReinhard Algorithm = iota
	AlgorithmACES
	AlgorithmHable
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmACES:
		return "ACES"
	case AlgorithmHable:
		return "Hable"
	default:
		return "Reinhard"
	}
}

// ParseAlgorithm accepts the vocabulary from spec §6, including the
// Hable aliases uncharted2/filmic.
func ParseAlgorithm(s string) (Algorithm, bool) {
	switch strings.ToLower(s) {
	case "reinhard":
		return AlgorithmReinhard, true
	case "aces":
		return AlgorithmACES, true
	case "hable", "uncharted2", "filmic":
		return AlgorithmHable, true
	default:
		return 0, false
	}
}

// Mode controls whether the tonemapper runs at all.
type Mode int

const (
	ModeAuto Mode = iota // tonemap iff the frame's metadata reports HDR
	ModeOn
	ModeOff
)

// Config is the Tonemapper's construction-time configuration.
type Config struct {
	Mode          Mode
	Algorithm     Algorithm
	PeakLuminance float64 // nits, used when metadata omits it
	SDRWhitePoint float64 // nits, typically 100-203
}

// DefaultConfig matches the original implementation's defaults:
// Auto mode, Reinhard, 1000-nit peak assumption, 100-nit SDR target.
func DefaultConfig() Config {
	return Config{
		Mode:          ModeAuto,
		Algorithm:     AlgorithmReinhard,
		PeakLuminance: 1000,
		SDRWhitePoint: 100,
	}
}

// Tonemapper converts HDR (PQ or HLG) RGBA/BGRA frames to SDR using
// precomputed lookup tables, per spec §4.5.
type Tonemapper struct {
	cfg Config

	// pqToLinear is the PQ EOTF LUT: 4096 entries, 12-bit input precision.
	pqToLinear [4096]float32
	// linearToSDR is the BT.1886 OETF LUT: 1024 entries, 10-bit precision.
	linearToSDR [1024]uint8
}

// NewTonemapper precomputes both lookup tables for cfg.
func NewTonemapper(cfg Config) *Tonemapper {
	t := &Tonemapper{cfg: cfg}
	for i := range t.pqToLinear {
		normalized := float32(i) / 4095.0
		t.pqToLinear[i] = pqEOTF(normalized)
	}
	for i := range t.linearToSDR {
		linear := float32(i) / 1023.0
		gamma := bt1886OETF(linear)
		v := gamma * 255.0
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		t.linearToSDR[i] = uint8(v)
	}
	return t
}

// Config returns the tonemapper's current configuration.
func (t *Tonemapper) Config() Config { return t.cfg }

// SetConfig updates the algorithm/mode/luminance knobs without
// rebuilding the LUTs (they depend only on the transfer function).
func (t *Tonemapper) SetConfig(cfg Config) { t.cfg = cfg }

// ShouldTonemap reports whether metadata requires tonemapping under
// the configured mode.
func (t *Tonemapper) ShouldTonemap(metadata *types.HDRMetadata) bool {
	switch t.cfg.Mode {
	case ModeOff:
		return false
	case ModeOn:
		return true
	default:
		return metadata.IsHDR()
	}
}

// Tonemap converts frame in place. frame is RGBA or BGRA (channel
// order doesn't matter since R/G/B are processed identically);
// 4 bytes per pixel, width*height*4 <= len(frame). Metadata with an
// SDR transfer is always a no-op, and so is nil metadata under
// ModeAuto; under ModeOn nil metadata is tonemapped as PQ.
func (t *Tonemapper) Tonemap(frame []byte, width, height int, metadata *types.HDRMetadata) {
	if !t.ShouldTonemap(metadata) {
		return
	}

	peakNits := t.cfg.PeakLuminance
	transfer := types.TransferPQ
	if metadata != nil {
		if metadata.PeakLuminance > peakNits {
			peakNits = metadata.PeakLuminance
		}
		transfer = metadata.Transfer
	}
	if peakNits <= 0 {
		peakNits = 1000
	}
	scale := float32(t.cfg.SDRWhitePoint / peakNits)

	pixelCount := width * height
	expected := pixelCount * 4
	if len(frame) < expected {
		return
	}

	eotf := t.pqLookup
	if transfer == types.TransferHLG {
		eotf = hlgEOTF
	} else if transfer == types.TransferSDR {
		return
	}

	for i := 0; i < pixelCount; i++ {
		off := i * 4
		r := float32(frame[off]) / 255.0
		g := float32(frame[off+1]) / 255.0
		b := float32(frame[off+2]) / 255.0

		rl, gl, bl := eotf(r), eotf(g), eotf(b)
		rt, gt, bt := t.applyOperator(rl*scale, gl*scale, bl*scale)

		frame[off] = t.linearToSDRLookup(rt)
		frame[off+1] = t.linearToSDRLookup(gt)
		frame[off+2] = t.linearToSDRLookup(bt)
	}
}

func (t *Tonemapper) pqLookup(pq float32) float32 {
	idx := clampIndex(pq*4095.0, 4095)
	return t.pqToLinear[idx]
}

func (t *Tonemapper) linearToSDRLookup(linear float32) uint8 {
	idx := clampIndex(linear*1023.0, 1023)
	return t.linearToSDR[idx]
}

func clampIndex(v float32, max int) int {
	i := int(v)
	if i < 0 {
		return 0
	}
	if i > max {
		return max
	}
	return i
}

func (t *Tonemapper) applyOperator(r, g, b float32) (float32, float32, float32) {
	switch t.cfg.Algorithm {
	case AlgorithmACES:
		return acesTonemap(r, g, b)
	case AlgorithmHable:
		return hable(r), hable(g), hable(b)
	default:
		return reinhard(r), reinhard(g), reinhard(b)
	}
}

// reinhard is the simple x/(1+x) operator: monotonic, preserves hue.
func reinhard(x float32) float32 {
	return x / (1 + x)
}

// hable is the Uncharted 2 filmic curve (Hable 2010), evaluated at
// x and normalized by its value at the fixed white point W = 11.2.
func hable(x float32) float32 {
	const a, b, c, d, e, f = 0.15, 0.50, 0.10, 0.20, 0.02, 0.30
	const w = 11.2
	curve := func(v float32) float32 {
		return ((v*(a*v+c*b) + d*e) / (v*(a*v+b) + d*f)) - e/f
	}
	return curve(x) / curve(w)
}

// acesTonemap applies the ACES input matrix, the Narkowicz filmic
// fit, and the output matrix, per spec §4.5.
func acesTonemap(r, g, b float32) (float32, float32, float32) {
	ir := 0.59719*r + 0.35458*g + 0.04823*b
	ig := 0.07600*r + 0.90834*g + 0.01566*b
	ib := 0.02840*r + 0.13383*g + 0.83777*b

	fr := acesFilmicFit(ir)
	fg := acesFilmicFit(ig)
	fb := acesFilmicFit(ib)

	or := 1.60475*fr - 0.53108*fg - 0.07367*fb
	og := -0.10208*fr + 1.10813*fg - 0.00605*fb
	ob := -0.00327*fr - 0.07276*fg + 1.07602*fb

	return clamp01(or), clamp01(og), clamp01(ob)
}

func acesFilmicFit(x float32) float32 {
	const a, b, c, d, e = 2.51, 0.03, 2.43, 0.59, 0.14
	return clamp01((x * (a*x + b)) / (x*(c*x+d) + e))
}

func clamp01(x float32) float32 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// pqEOTF is the SMPTE ST 2084 perceptual quantizer EOTF, mapping a
// normalized [0,1] PQ code value to linear light normalized to
// 10000 nits.
func pqEOTF(n float32) float32 {
	const m1 = 2610.0 / 16384.0
	const m2 = 2523.0 / 4096.0 * 128.0
	const c1 = 3424.0 / 4096.0
	const c2 = 2413.0 / 4096.0 * 32.0
	const c3 = 2392.0 / 4096.0 * 32.0

	np := math.Pow(float64(n), 1.0/m2)
	num := np - c1
	if num < 0 {
		num = 0
	}
	denom := c2 - c3*np
	linear := math.Pow(num/denom, 1.0/m1)
	return float32(linear)
}

// hlgEOTF is the hybrid log-gamma inverse OETF (ARIB STD-B67),
// mapping a normalized [0,1] signal to scene linear light.
func hlgEOTF(e float32) float32 {
	const a, b, c = 0.17883277, 0.28466892, 0.55991073
	if e <= 0.5 {
		return float32(math.Pow(float64(e), 2) / 3.0)
	}
	return float32((math.Exp((float64(e)-c)/a) + b) / 12.0)
}

// bt1886OETF is the BT.1886 reference display gamma used to
// re-encode tonemapped linear light to 8-bit SDR.
func bt1886OETF(linear float32) float32 {
	if linear <= 0 {
		return 0
	}
	return float32(math.Pow(float64(linear), 1.0/2.4))
}
