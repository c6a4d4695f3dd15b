//go:build linux

package sinks

/*
#include <fcntl.h>
#include <unistd.h>
#include <sys/ioctl.h>
#include <linux/videodev2.h>
#include <string.h>
#include <errno.h>

static int nitrogen_v4l2_set_format(int fd, unsigned int width, unsigned int height,
                                     unsigned int pixelformat, unsigned int *out_sizeimage) {
	struct v4l2_format fmt;
	memset(&fmt, 0, sizeof(fmt));
	fmt.type = V4L2_BUF_TYPE_VIDEO_OUTPUT;
	fmt.fmt.pix.width = width;
	fmt.fmt.pix.height = height;
	fmt.fmt.pix.pixelformat = pixelformat;
	fmt.fmt.pix.field = V4L2_FIELD_NONE;
	if (ioctl(fd, VIDIOC_S_FMT, &fmt) < 0) {
		return -errno;
	}
	*out_sizeimage = fmt.fmt.pix.sizeimage;
	return 0;
}

static unsigned int nitrogen_v4l2_fourcc_bgra(void) { return V4L2_PIX_FMT_BGR32; }
static unsigned int nitrogen_v4l2_fourcc_nv12(void) { return V4L2_PIX_FMT_NV12; }
*/
import "C"

import (
	"os"
	"sync/atomic"

	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// DefaultCameraName is the label the spec's status surface reports
// when no camera_name override is configured.
const DefaultCameraName = "Nitrogen Camera"

// CameraConfig describes the v4l2loopback device to publish frames
// to and the format those frames arrive in.
type CameraConfig struct {
	Device string // e.g. "/dev/video10", pre-created by v4l2loopback
	Name   string
	Width  int
	Height int
	Fourcc uint32 // formats.FourccBGRA8888 or formats.FourccNV12
}

// Camera publishes raw frames to a v4l2loopback device so other
// applications see them as a regular webcam. The orchestrator
// converts frames to the configured pixel format before calling
// WriteFrame; the sink does no scaling or format conversion itself.
type Camera struct {
	file      *os.File
	width     int
	height    int
	fourcc    uint32
	sizeImage int
	running   atomic.Bool
}

// NewCamera opens cfg.Device and negotiates its pixel format via
// VIDIOC_S_FMT.
func NewCamera(cfg CameraConfig) (*Camera, error) {
	if cfg.Fourcc != formats.FourccBGRA8888 && cfg.Fourcc != formats.FourccNV12 {
		return nil, nerr.Unsupported("virtual camera only accepts BGRA8888 or NV12 frames")
	}

	f, err := os.OpenFile(cfg.Device, os.O_WRONLY, 0)
	if err != nil {
		return nil, nerr.Wrap(nerr.KindIO, err)
	}

	v4l2Fourcc := C.nitrogen_v4l2_fourcc_bgra()
	if cfg.Fourcc == formats.FourccNV12 {
		v4l2Fourcc = C.nitrogen_v4l2_fourcc_nv12()
	}

	var sizeImage C.uint
	ret := C.nitrogen_v4l2_set_format(C.int(f.Fd()), C.uint(cfg.Width), C.uint(cfg.Height), v4l2Fourcc, &sizeImage)
	if ret < 0 {
		f.Close()
		return nil, nerr.PipeWire("VIDIOC_S_FMT failed on " + cfg.Device)
	}

	name := cfg.Name
	if name == "" {
		name = DefaultCameraName
	}

	cam := &Camera{
		file:      f,
		width:     cfg.Width,
		height:    cfg.Height,
		fourcc:    cfg.Fourcc,
		sizeImage: int(sizeImage),
	}
	cam.running.Store(true)

	logging.For("sinks.camera").Info().
		Str("device", cfg.Device).Str("name", name).
		Int("width", cfg.Width).Int("height", cfg.Height).
		Str("format", formats.Name(cfg.Fourcc)).
		Msg("virtual camera opened")

	return cam, nil
}

// WriteFrame writes one frame's pixel data to the device. frame must
// already be in the camera's configured format and dimensions; a
// mismatch is a caller bug, not a runtime condition to recover from.
func (c *Camera) WriteFrame(frame *types.Frame) error {
	if !c.running.Load() {
		return nerr.IO(os.ErrClosed)
	}
	if frame.IsDmaBuf() {
		return nerr.Unsupported("DmaBuf input to the virtual camera")
	}
	mem, ok := frame.Payload.(types.MemoryPayload)
	if !ok {
		return nerr.Unsupported("unknown frame payload type")
	}

	rowBytes := c.width * formats.BytesPerPixel(c.fourcc)
	if formats.IsPlanarYUV(c.fourcc) {
		dstLumaSize, dstChromaSize := formats.PlaneSizes(c.fourcc, c.width, c.height, c.width)
		srcLumaSize, _ := formats.PlaneSizes(c.fourcc, c.width, c.height, frame.Stride)
		buf := make([]byte, dstLumaSize+dstChromaSize)
		formats.CopyRows(buf, c.width, mem.Bytes, frame.Stride, c.width, c.height)
		formats.CopyRows(buf[dstLumaSize:], c.width, mem.Bytes[srcLumaSize:], frame.Stride, c.width, c.height/2)
		_, err := c.file.Write(buf)
		return c.writeErr(err)
	}

	if frame.Stride == rowBytes {
		_, err := c.file.Write(mem.Bytes[:c.sizeImage])
		return c.writeErr(err)
	}
	buf := make([]byte, rowBytes*c.height)
	formats.CopyRows(buf, rowBytes, mem.Bytes, frame.Stride, rowBytes, c.height)
	_, err := c.file.Write(buf)
	return c.writeErr(err)
}

func (c *Camera) writeErr(err error) error {
	if err == nil {
		return nil
	}
	return nerr.IO(err)
}

// IsRunning reports whether the device is still open.
func (c *Camera) IsRunning() bool { return c.running.Load() }

// Stop closes the device. Idempotent.
func (c *Camera) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.file.Close()
}
