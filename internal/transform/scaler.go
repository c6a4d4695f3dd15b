package transform

/*
#cgo pkg-config: libswscale libavutil
#include <libswscale/swscale.h>
#include <libavutil/pixfmt.h>
#include <stdlib.h>
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/ghostkellz/nitrogen/internal/formats"
)

// Scaler rescales and/or colorspace-converts frames via libswscale,
// reused across calls for the one input/output geometry and format it
// was built for.
type Scaler struct {
	ctx                     *C.struct_SwsContext
	srcW, srcH, dstW, dstH  int
	srcFourcc, dstFourcc    uint32
}

// NewScaler builds a Scaler for one fixed conversion. A Scaler is
// never reconfigured; a different geometry (e.g. the compositor
// resizes the captured window) needs a new Scaler.
func NewScaler(srcW, srcH int, srcFourcc uint32, dstW, dstH int, dstFourcc uint32) (*Scaler, error) {
	s := &Scaler{}
	if err := s.reconfigure(srcW, srcH, srcFourcc, dstW, dstH, dstFourcc); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scaler) reconfigure(srcW, srcH int, srcFourcc uint32, dstW, dstH int, dstFourcc uint32) error {
	if s.ctx != nil {
		C.sws_freeContext(s.ctx)
		s.ctx = nil
	}
	srcFmt, err := avPixFmt(srcFourcc)
	if err != nil {
		return err
	}
	dstFmt, err := avPixFmt(dstFourcc)
	if err != nil {
		return err
	}
	ctx := C.sws_getContext(
		C.int(srcW), C.int(srcH), srcFmt,
		C.int(dstW), C.int(dstH), dstFmt,
		C.SWS_BILINEAR, nil, nil, nil)
	if ctx == nil {
		return fmt.Errorf("transform: sws_getContext failed for %dx%d -> %dx%d", srcW, srcH, dstW, dstH)
	}
	s.ctx = ctx
	s.srcW, s.srcH, s.srcFourcc = srcW, srcH, srcFourcc
	s.dstW, s.dstH, s.dstFourcc = dstW, dstH, dstFourcc
	return nil
}

// Rescale converts src (srcStride bytes/row, packed RGB family only)
// into dst (dstStride bytes/row) using the geometry and formats given
// to NewScaler; the swscale context is not rebuilt. dst is a single
// flat buffer: for packed RGB destinations it holds one plane; for the
// planar 4:2:0 destinations (NV12/P010) it holds the luma plane
// immediately followed by the chroma plane, per formats.PlaneSizes.
func (s *Scaler) Rescale(src []byte, srcStride int, dst []byte, dstStride int) error {
	if len(src) == 0 || len(dst) == 0 {
		return fmt.Errorf("transform: empty buffer passed to Rescale")
	}
	srcData := (*C.uint8_t)(unsafe.Pointer(&src[0]))
	srcSlice := [1]*C.uint8_t{srcData}
	srcLine := [1]C.int{C.int(srcStride)}

	var ret C.int
	if formats.IsPlanarYUV(s.dstFourcc) {
		lumaSize, chromaSize := formats.PlaneSizes(s.dstFourcc, s.dstW, s.dstH, dstStride)
		if len(dst) < lumaSize+chromaSize {
			return fmt.Errorf("transform: dst buffer too small for planar output: have %d, need %d", len(dst), lumaSize+chromaSize)
		}
		dstSlice := [2]*C.uint8_t{
			(*C.uint8_t)(unsafe.Pointer(&dst[0])),
			(*C.uint8_t)(unsafe.Pointer(&dst[lumaSize])),
		}
		dstLine := [2]C.int{C.int(dstStride), C.int(dstStride)}
		ret = C.sws_scale(s.ctx,
			(**C.uint8_t)(unsafe.Pointer(&srcSlice[0])), (*C.int)(unsafe.Pointer(&srcLine[0])),
			0, C.int(s.srcH),
			(**C.uint8_t)(unsafe.Pointer(&dstSlice[0])), (*C.int)(unsafe.Pointer(&dstLine[0])))
	} else {
		dstData := (*C.uint8_t)(unsafe.Pointer(&dst[0]))
		dstSlice := [1]*C.uint8_t{dstData}
		dstLine := [1]C.int{C.int(dstStride)}
		ret = C.sws_scale(s.ctx,
			(**C.uint8_t)(unsafe.Pointer(&srcSlice[0])), (*C.int)(unsafe.Pointer(&srcLine[0])),
			0, C.int(s.srcH),
			(**C.uint8_t)(unsafe.Pointer(&dstSlice[0])), (*C.int)(unsafe.Pointer(&dstLine[0])))
	}
	if ret <= 0 {
		return fmt.Errorf("transform: sws_scale returned %d", int(ret))
	}
	return nil
}

// Close releases the underlying SwsContext.
func (s *Scaler) Close() {
	if s.ctx != nil {
		C.sws_freeContext(s.ctx)
		s.ctx = nil
	}
}

func avPixFmt(fourcc uint32) (C.enum_AVPixelFormat, error) {
	switch fourcc {
	case formats.FourccBGRA8888:
		return C.AV_PIX_FMT_BGRA, nil
	case formats.FourccARGB8888:
		return C.AV_PIX_FMT_ARGB, nil
	case formats.FourccXRGB8888:
		return C.AV_PIX_FMT_0RGB, nil
	case formats.FourccNV12:
		return C.AV_PIX_FMT_NV12, nil
	case formats.FourccP010:
		return C.AV_PIX_FMT_P010LE, nil
	default:
		return 0, fmt.Errorf("transform: unsupported fourcc 0x%08x for swscale", fourcc)
	}
}
