package types

import "sync/atomic"

// TransferFunction is the HDR electro-optical transfer function
// reported by the compositor for a given frame.
type TransferFunction int

const (
	TransferSDR TransferFunction = iota
	TransferPQ
	TransferHLG
)

// HDRMetadata describes a frame's HDR characteristics. A nil pointer
// on Frame means "no metadata reported" (treated as SDR).
type HDRMetadata struct {
	Transfer        TransferFunction
	MasteringRedX    float64
	MasteringRedY    float64
	MasteringGreenX  float64
	MasteringGreenY  float64
	MasteringBlueX   float64
	MasteringBlueY   float64
	MasteringWhiteX  float64
	MasteringWhiteY  float64
	PeakLuminance    float64 // nits
}

func (m *HDRMetadata) IsHDR() bool {
	return m != nil && m.Transfer != TransferSDR
}

// Payload is a frame's pixel storage: either a mapped CPU buffer or a
// borrowed DMA-BUF descriptor triple.
type Payload interface {
	isPayload()
}

// MemoryPayload holds a CPU-addressable copy of the frame.
type MemoryPayload struct {
	Bytes []byte
}

func (MemoryPayload) isPayload() {}

// DmaBufPayload is a borrowed GPU buffer descriptor. The fd is owned
// by the capture worker's pool for the lifetime of the frame; Frame's
// Release must be called exactly once to let the pool reclaim it, and
// consumers must never call close(2) on FD directly.
type DmaBufPayload struct {
	FD       int
	Offset   int64
	Modifier uint64
}

func (DmaBufPayload) isPayload() {}

// Frame is a single captured video frame, reference-counted across
// every fan-out subscriber. The last dropper (refcount hitting zero)
// invokes release, which returns memory-mapped buffers or DMA-BUF fds
// to the capture pool.
type Frame struct {
	Width   int
	Height  int
	Fourcc  uint32 // DRM format code
	Stride  int    // bytes per row; may exceed Width*bpp due to alignment
	PTS     int64  // nanoseconds since a stream-local epoch
	HDR     *HDRMetadata
	Payload Payload

	refcount *int32
	release  func()
}

// NewFrame wraps a payload with reference counting. release is
// invoked once, when the last Retain()'d reference calls Release().
func NewFrame(width, height int, fourcc uint32, stride int, pts int64, hdr *HDRMetadata, payload Payload, release func()) *Frame {
	rc := int32(1)
	return &Frame{
		Width: width, Height: height, Fourcc: fourcc, Stride: stride,
		PTS: pts, HDR: hdr, Payload: payload,
		refcount: &rc, release: release,
	}
}

// Retain returns a new reference to the same underlying frame data,
// bumping the shared refcount. The returned *Frame is a distinct
// value sharing state with f, so each Retain requires its own
// Release.
func (f *Frame) Retain() *Frame {
	atomic.AddInt32(f.refcount, 1)
	clone := *f
	return &clone
}

// Release drops this reference. When the refcount reaches zero the
// underlying release callback runs (returning the buffer to the
// capture pool, or closing a CPU mapping).
func (f *Frame) Release() {
	if f.release == nil {
		return
	}
	if atomic.AddInt32(f.refcount, -1) == 0 {
		f.release()
	}
}

// IsDmaBuf reports whether the frame's payload is a borrowed DMA-BUF.
func (f *Frame) IsDmaBuf() bool {
	_, ok := f.Payload.(DmaBufPayload)
	return ok
}
