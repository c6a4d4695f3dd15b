// Package fruc wraps NVIDIA's Optical Flow frame-rate up-conversion
// library (NvOFFRUC), loaded dynamically at runtime via dlopen so
// Nitrogen links and runs without it. When the library or a
// supporting GPU is absent, Available reports false and callers fall
// back to the CPU blend in internal/transform.
package fruc

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	unsigned int width;
	unsigned int height;
} NvOffrucCreateParam;

typedef void* NvOffrucHandle;

typedef struct {
	void *frame;
	double timestamp;
	unsigned long pitch;
} NvOffrucFrameData;

typedef int (*fn_create_t)(const NvOffrucCreateParam*, NvOffrucHandle*);
typedef int (*fn_process_t)(NvOffrucHandle, const NvOffrucFrameData*, NvOffrucFrameData*);
typedef int (*fn_destroy_t)(NvOffrucHandle);

typedef struct {
	void *lib;
	fn_create_t create;
	fn_process_t process;
	fn_destroy_t destroy;
} NvOffrucLib;

// nvoffruc_load dlopens libnvofapi64.so and resolves its three entry
// points. Returns a zeroed NvOffrucLib (lib == NULL) on any failure.
static NvOffrucLib nvoffruc_load(void) {
	NvOffrucLib out;
	memset(&out, 0, sizeof(out));

	void *lib = dlopen("libnvofapi64.so", RTLD_LAZY);
	if (!lib) lib = dlopen("libnvofapi64.so.1", RTLD_LAZY);
	if (!lib) return out;

	out.lib = lib;
	out.create = (fn_create_t)dlsym(lib, "NvOFFRUCCreate");
	out.process = (fn_process_t)dlsym(lib, "NvOFFRUCProcess");
	out.destroy = (fn_destroy_t)dlsym(lib, "NvOFFRUCDestroy");

	if (!out.create || !out.process || !out.destroy) {
		dlclose(lib);
		memset(&out, 0, sizeof(out));
	}
	return out;
}

static int nvoffruc_create(NvOffrucLib *l, unsigned int width, unsigned int height, NvOffrucHandle *handle) {
	NvOffrucCreateParam p;
	p.width = width;
	p.height = height;
	return l->create(&p, handle);
}

static int nvoffruc_process(NvOffrucLib *l, NvOffrucHandle h,
	void *prev_ptr, double prev_ts, unsigned long pitch,
	void *out_ptr, double out_ts) {
	NvOffrucFrameData in, out;
	in.frame = prev_ptr;
	in.timestamp = prev_ts;
	in.pitch = pitch;
	out.frame = out_ptr;
	out.timestamp = out_ts;
	out.pitch = pitch;
	return l->process(h, &in, &out);
}

static int nvoffruc_destroy(NvOffrucLib *l, NvOffrucHandle h) {
	return l->destroy(h);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

var (
	availOnce sync.Once
	available bool
	sharedLib C.NvOffrucLib
)

// Available reports whether the NvOFFRUC library could be loaded and
// its symbols resolved, caching the result for the process lifetime.
func Available() bool {
	availOnce.Do(func() {
		sharedLib = C.nvoffruc_load()
		available = sharedLib.lib != nil
	})
	return available
}

// Processor is a GPU frame interpolator bound to one frame size.
// Process calls are serialized by mu, matching the upstream library's
// single-threaded contract.
type Processor struct {
	mu     sync.Mutex
	handle C.NvOffrucHandle
	width  int
	height int
}

// New creates a Processor for width x height ARGB frames. Callers
// should check Available() first; New still fails gracefully if the
// library turns out to reject these dimensions.
func New(width, height int) (*Processor, error) {
	if !Available() {
		return nil, nerr.Unsupported("NvOFFRUC library not present")
	}
	var handle C.NvOffrucHandle
	status := C.nvoffruc_create(&sharedLib, C.uint(width), C.uint(height), &handle)
	if status != 0 {
		return nil, nerr.Nvenc(fmt.Sprintf("NvOFFRUCCreate failed: status %d", int(status)))
	}
	return &Processor{handle: handle, width: width, height: height}, nil
}

// Interpolate blends prev and curr (ARGB8888 Memory frames matching
// the Processor's dimensions) at position t, returning a new frame
// owned by the caller. Non-Memory or mismatched-size frames are
// rejected so callers can fall back to the CPU blend.
func (p *Processor) Interpolate(prev, curr *types.Frame, t float32) (*types.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev.Width != p.width || prev.Height != p.height || curr.Width != p.width || curr.Height != p.height {
		return nil, nerr.Nvenc("frame dimensions do not match FRUC instance")
	}
	prevMem, ok := prev.Payload.(types.MemoryPayload)
	if !ok {
		return nil, nerr.Unsupported("NvOFFRUC requires Memory frames, not DMA-BUF")
	}
	currMem, ok := curr.Payload.(types.MemoryPayload)
	if !ok {
		return nil, nerr.Unsupported("NvOFFRUC requires Memory frames, not DMA-BUF")
	}

	output := make([]byte, len(prevMem.Bytes))
	interpTS := float64(prev.PTS) + (float64(curr.PTS)-float64(prev.PTS))*float64(t)

	status := C.nvoffruc_process(&sharedLib, p.handle,
		unsafe.Pointer(&prevMem.Bytes[0]), C.double(prev.PTS), C.ulong(p.width*4),
		unsafe.Pointer(&output[0]), C.double(interpTS))
	if status != 0 {
		return nil, nerr.Nvenc(fmt.Sprintf("NvOFFRUCProcess failed: status %d", int(status)))
	}

	pts := prev.PTS + int64((float64(curr.PTS-prev.PTS))*float64(t))
	return types.NewFrame(curr.Width, curr.Height, curr.Fourcc, curr.Stride, pts, curr.HDR,
		types.MemoryPayload{Bytes: output}, nil), nil
}

// Close releases the underlying NvOFFRUC handle. The shared library
// handle from dlopen is intentionally never dlclose'd: other
// Processors may still hold function pointers into it.
func (p *Processor) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle != nil {
		C.nvoffruc_destroy(&sharedLib, p.handle)
		p.handle = nil
	}
}
