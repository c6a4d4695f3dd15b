package transform

import (
	"strings"

	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/fruc"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// FrameGenMode selects the frame-rate up-conversion multiplier.
type FrameGenMode int

const (
	FrameGenOff FrameGenMode = iota
	FrameGenDouble
	FrameGenTriple
	FrameGenQuadruple
)

// Multiplier returns how many output frames one input frame produces.
func (m FrameGenMode) Multiplier() uint32 {
	switch m {
	case FrameGenDouble:
		return 2
	case FrameGenTriple:
		return 3
	case FrameGenQuadruple:
		return 4
	default:
		return 1
	}
}

func (m FrameGenMode) OutputFPS(inputFPS uint32) uint32 { return inputFPS * m.Multiplier() }

func (m FrameGenMode) String() string {
	switch m {
	case FrameGenDouble:
		return "2x"
	case FrameGenTriple:
		return "3x"
	case FrameGenQuadruple:
		return "4x"
	default:
		return "off"
	}
}

// ParseFrameGenMode accepts the aliases used by spec §6's frame-gen
// flag.
func ParseFrameGenMode(s string) FrameGenMode {
	switch strings.ToLower(s) {
	case "double", "2x", "2":
		return FrameGenDouble
	case "triple", "3x", "3":
		return FrameGenTriple
	case "quadruple", "4x", "4":
		return FrameGenQuadruple
	default:
		return FrameGenOff
	}
}

// FrameGenConfig configures a FrameGenerator.
type FrameGenConfig struct {
	Mode           FrameGenMode
	GPUAccelerated bool
	SceneThreshold float32 // 0.0-1.0; chi-squared histogram distance above this is a scene cut
}

// DefaultFrameGenConfig matches the original implementation's
// defaults: off, GPU-accelerated when available, 0.4 scene threshold.
func DefaultFrameGenConfig() FrameGenConfig {
	return FrameGenConfig{Mode: FrameGenOff, GPUAccelerated: true, SceneThreshold: 0.4}
}

// FrameGenerator turns one input frame into `multiplier` output
// frames by interpolating against the previous frame, using the
// dynamically loaded GPU FRUC helper when available and a CPU linear
// blend otherwise. A detected scene change skips interpolation for
// that pair (duplicates the new frame instead), per spec §4.6.
type FrameGenerator struct {
	cfg       FrameGenConfig
	prev      *types.Frame
	frucInst  *fruc.Processor
	frameSeen uint64
}

// NewFrameGenerator lazily acquires a GPU FRUC processor; cfg.GPUAccelerated
// only requests it, actual use depends on fruc.Available().
func NewFrameGenerator(cfg FrameGenConfig) *FrameGenerator {
	return &FrameGenerator{cfg: cfg}
}

// Process returns the interpolated frames followed by the input
// frame itself, all newly Retain()'d — callers own every returned
// Frame and must Release each one. Off mode returns just the input
// frame, retained once.
func (g *FrameGenerator) Process(frame *types.Frame) []*types.Frame {
	if g.cfg.Mode == FrameGenOff {
		return []*types.Frame{frame.Retain()}
	}

	if g.cfg.GPUAccelerated && g.frucInst == nil && fruc.Available() {
		if p, err := fruc.New(frame.Width, frame.Height); err == nil {
			g.frucInst = p
		}
	}

	multiplier := g.cfg.Mode.Multiplier()
	var out []*types.Frame

	if g.prev != nil {
		sceneChange := g.detectSceneChange(g.prev, frame)
		for i := uint32(1); i < multiplier; i++ {
			t := float32(i) / float32(multiplier)
			if sceneChange {
				out = append(out, frame.Retain())
				continue
			}
			out = append(out, g.interpolate(g.prev, frame, t))
		}
	}
	out = append(out, frame.Retain())

	if g.prev != nil {
		g.prev.Release()
	}
	g.prev = frame.Retain()
	g.frameSeen++

	return out
}

// Close releases any held reference to the previous frame and the
// GPU FRUC handle.
func (g *FrameGenerator) Close() {
	if g.prev != nil {
		g.prev.Release()
		g.prev = nil
	}
	if g.frucInst != nil {
		g.frucInst.Close()
		g.frucInst = nil
	}
}

func (g *FrameGenerator) interpolate(prev, curr *types.Frame, t float32) *types.Frame {
	if g.cfg.GPUAccelerated && g.frucInst != nil {
		if f, err := g.frucInst.Interpolate(prev, curr, t); err == nil {
			return f
		}
	}
	return cpuInterpolate(prev, curr, t)
}

// cpuInterpolate linearly blends two Memory frames using fixed-point
// arithmetic (result = prev*(1-t) + curr*t, Q8 fixed point). DMA-BUF
// frames, mismatched formats or sizes fall back to duplicating curr.
func cpuInterpolate(prev, curr *types.Frame, t float32) *types.Frame {
	prevMem, ok1 := prev.Payload.(types.MemoryPayload)
	currMem, ok2 := curr.Payload.(types.MemoryPayload)
	if !ok1 || !ok2 ||
		prev.Width != curr.Width || prev.Height != curr.Height ||
		prev.Fourcc != curr.Fourcc || len(prevMem.Bytes) != len(currMem.Bytes) {
		return curr.Retain()
	}

	tFixed := uint16(t*256.0 + 0.5)
	invTFixed := uint16(256) - tFixed

	blended := make([]byte, len(currMem.Bytes))
	for i := range blended {
		p := uint16(prevMem.Bytes[i])
		c := uint16(currMem.Bytes[i])
		blended[i] = byte((p*invTFixed + c*tFixed) >> 8)
	}

	pts := interpolatePTS(prev.PTS, curr.PTS, t)
	return types.NewFrame(curr.Width, curr.Height, curr.Fourcc, curr.Stride, pts, curr.HDR,
		types.MemoryPayload{Bytes: blended}, nil)
}

func interpolatePTS(prevPTS, currPTS int64, t float32) int64 {
	duration := currPTS - prevPTS
	if duration < 0 {
		duration = 0
	}
	return prevPTS + int64(float64(duration)*float64(t))
}

const histogramBins = 64

// detectSceneChange compares luma histograms of two frames sampled on
// a 4x4 grid and returns true when their chi-squared distance exceeds
// the configured threshold. Returns true on dimension mismatch;
// returns false (can't analyze) for DMA-BUF frames.
func (g *FrameGenerator) detectSceneChange(prev, curr *types.Frame) bool {
	if prev.Width != curr.Width || prev.Height != curr.Height {
		return true
	}
	prevMem, ok1 := prev.Payload.(types.MemoryPayload)
	currMem, ok2 := curr.Payload.(types.MemoryPayload)
	if !ok1 || !ok2 {
		return false
	}
	diff := histogramDifference(prevMem.Bytes, currMem.Bytes, prev.Width, prev.Height, prev.Stride, prev.Fourcc)
	return diff > g.cfg.SceneThreshold
}

// histogramDifference computes a 0..~1 chi-squared distance between
// the luma histograms of two equally-sized BGRA/XRGB/ARGB frames,
// sampling every 4th pixel in each dimension.
func histogramDifference(prev, curr []byte, width, height, stride int, fourcc uint32) float32 {
	if formats.BytesPerPixel(fourcc) != 4 {
		return 0
	}
	bpp := 4

	var prevHist, currHist [histogramBins]uint32
	var samples uint32

	for y := 0; y < height; y += 4 {
		for x := 0; x < width; x += 4 {
			off := y*stride + x*bpp
			if off+3 > len(prev) || off+3 > len(curr) {
				continue
			}
			prevLuma := (77*uint32(prev[off+2]) + 150*uint32(prev[off+1]) + 29*uint32(prev[off])) >> 8
			currLuma := (77*uint32(curr[off+2]) + 150*uint32(curr[off+1]) + 29*uint32(curr[off])) >> 8
			if prevLuma > 255 {
				prevLuma = 255
			}
			if currLuma > 255 {
				currLuma = 255
			}
			prevHist[prevLuma>>2]++
			currHist[currLuma>>2]++
			samples++
		}
	}
	if samples == 0 {
		return 0
	}

	var chiSq float32
	for i := 0; i < histogramBins; i++ {
		sum := prevHist[i] + currHist[i]
		if sum > 0 {
			d := float32(prevHist[i]) - float32(currHist[i])
			chiSq += (d * d) / float32(sum)
		}
	}
	return chiSq / (float32(samples) * 2.0)
}
