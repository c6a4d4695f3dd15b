//go:build linux

package capture

/*
#cgo pkg-config: libpipewire-0.3
#include <stdlib.h>
#include <pipewire/pipewire.h>
#include <spa/param/video/format-utils.h>
#include <spa/param/props.h>

typedef struct {
	struct pw_thread_loop *loop;
	struct pw_context     *context;
	struct pw_core        *core;
	struct pw_stream      *stream;
	struct spa_hook        stream_listener;
	uint32_t               node_id;
	uintptr_t              handle;
} nitrogen_pw_capture;

extern void goVideoOnProcess(uintptr_t handle, void *ptr, int size, int fd, long long offset);
extern void goVideoOnStateChanged(uintptr_t handle, int state, char *error);
extern void goVideoOnFormatChanged(uintptr_t handle, int width, int height, int stride, unsigned int spaFormat);

static void nitrogen_on_process(void *userdata) {
	nitrogen_pw_capture *pc = (nitrogen_pw_capture *)userdata;
	struct pw_buffer *b = pw_stream_dequeue_buffer(pc->stream);
	if (b == NULL) {
		return;
	}
	struct spa_buffer *buf = b->buffer;
	struct spa_data *d = &buf->datas[0];

	if (d->type == SPA_DATA_DmaBuf) {
		goVideoOnProcess(pc->handle, NULL, (int)d->chunk->size, d->fd, (long long)d->chunk->offset);
	} else if (d->data != NULL) {
		goVideoOnProcess(pc->handle, d->data, (int)d->chunk->size, -1, (long long)d->chunk->offset);
	}

	pw_stream_queue_buffer(pc->stream, b);
}

static void nitrogen_on_state_changed(void *userdata, enum pw_stream_state old,
                                       enum pw_stream_state state, const char *error) {
	nitrogen_pw_capture *pc = (nitrogen_pw_capture *)userdata;
	goVideoOnStateChanged(pc->handle, (int)state, (char *)error);
}

static void nitrogen_on_param_changed(void *userdata, uint32_t id, const struct spa_pod *param) {
	nitrogen_pw_capture *pc = (nitrogen_pw_capture *)userdata;
	if (param == NULL || id != SPA_PARAM_Format) {
		return;
	}

	struct spa_video_info info;
	spa_zero(info);
	if (spa_format_parse(param, &info.media_type, &info.media_subtype) < 0) {
		return;
	}
	if (info.media_type != SPA_MEDIA_TYPE_video || info.media_subtype != SPA_MEDIA_SUBTYPE_raw) {
		return;
	}
	if (spa_format_video_raw_parse(param, &info.info.raw) < 0) {
		return;
	}

	int width = info.info.raw.size.width;
	int height = info.info.raw.size.height;
	unsigned int fmt = info.info.raw.format;

	uint8_t paramsBuf[1024];
	struct spa_pod_builder b = SPA_POD_BUILDER_INIT(paramsBuf, sizeof(paramsBuf));
	const struct spa_pod *bufferParams[1];
	bufferParams[0] = (const struct spa_pod *)spa_pod_builder_add_object(&b,
		SPA_TYPE_OBJECT_ParamBuffers, SPA_PARAM_Buffers,
		SPA_PARAM_BUFFERS_buffers, SPA_POD_CHOICE_RANGE_Int(8, 2, 16),
		SPA_PARAM_BUFFERS_blocks, SPA_POD_Int(1),
		SPA_PARAM_BUFFERS_dataType, SPA_POD_CHOICE_FLAGS_Int(
			(1 << SPA_DATA_MemPtr) | (1 << SPA_DATA_DmaBuf)));
	pw_stream_update_params(pc->stream, bufferParams, 1);

	goVideoOnFormatChanged(pc->handle, width, height, width * 4, fmt);
}

static const struct pw_stream_events nitrogen_stream_events = {
	PW_VERSION_STREAM_EVENTS,
	.state_changed = nitrogen_on_state_changed,
	.param_changed = nitrogen_on_param_changed,
	.process = nitrogen_on_process,
};

static nitrogen_pw_capture *nitrogen_pw_capture_new(uintptr_t handle, unsigned int node_id) {
	nitrogen_pw_capture *pc = calloc(1, sizeof(nitrogen_pw_capture));
	if (!pc) {
		return NULL;
	}
	pc->handle = handle;
	pc->node_id = node_id;
	return pc;
}

static int nitrogen_pw_capture_start(nitrogen_pw_capture *pc, int fd) {
	pc->loop = pw_thread_loop_new("nitrogen-video-capture", NULL);
	if (!pc->loop) {
		return -1;
	}

	pw_thread_loop_lock(pc->loop);

	pc->context = pw_context_new(pw_thread_loop_get_loop(pc->loop), NULL, 0);
	if (!pc->context) {
		pw_thread_loop_unlock(pc->loop);
		return -1;
	}

	pc->core = pw_context_connect_fd(pc->context, fd, NULL, 0);
	if (!pc->core) {
		pw_thread_loop_unlock(pc->loop);
		return -1;
	}

	struct pw_properties *props = pw_properties_new(
		PW_KEY_MEDIA_TYPE, "Video",
		PW_KEY_MEDIA_CATEGORY, "Capture",
		PW_KEY_MEDIA_ROLE, "Screen",
		NULL);

	pc->stream = pw_stream_new(pc->core, "nitrogen-video-capture", props);
	if (!pc->stream) {
		pw_thread_loop_unlock(pc->loop);
		return -1;
	}

	pw_stream_add_listener(pc->stream, &pc->stream_listener, &nitrogen_stream_events, pc);

	uint8_t bgrxBuf[1024], rgbaBuf[1024], nv12Buf[1024];
	struct spa_pod_builder b;
	const struct spa_pod *params[3];

	spa_pod_builder_init(&b, bgrxBuf, sizeof(bgrxBuf));
	params[0] = spa_format_video_raw_build(&b, SPA_PARAM_EnumFormat,
		&SPA_VIDEO_INFO_RAW_INIT(.format = SPA_VIDEO_FORMAT_BGRx));

	spa_pod_builder_init(&b, rgbaBuf, sizeof(rgbaBuf));
	params[1] = spa_format_video_raw_build(&b, SPA_PARAM_EnumFormat,
		&SPA_VIDEO_INFO_RAW_INIT(.format = SPA_VIDEO_FORMAT_RGBA));

	spa_pod_builder_init(&b, nv12Buf, sizeof(nv12Buf));
	params[2] = spa_format_video_raw_build(&b, SPA_PARAM_EnumFormat,
		&SPA_VIDEO_INFO_RAW_INIT(.format = SPA_VIDEO_FORMAT_NV12));

	int res = pw_stream_connect(pc->stream,
		PW_DIRECTION_INPUT, pc->node_id,
		PW_STREAM_FLAG_AUTOCONNECT | PW_STREAM_FLAG_MAP_BUFFERS,
		params, 3);

	pw_thread_loop_unlock(pc->loop);

	if (res < 0) {
		return res;
	}
	return pw_thread_loop_start(pc->loop);
}

static void nitrogen_pw_capture_destroy(nitrogen_pw_capture *pc) {
	if (!pc) {
		return;
	}
	if (pc->loop) {
		pw_thread_loop_stop(pc->loop);
	}
	if (pc->stream) {
		pw_stream_destroy(pc->stream);
	}
	if (pc->core) {
		pw_core_disconnect(pc->core);
	}
	if (pc->context) {
		pw_context_destroy(pc->context);
	}
	if (pc->loop) {
		pw_thread_loop_destroy(pc->loop);
	}
	free(pc);
}
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

const videoBroadcastDepth = 4

// VideoStream consumes the PipeWire node identified by the portal and
// fans captured frames out to a bounded, lossy set of subscribers. A
// dedicated OS thread (pw_thread_loop) owns the PipeWire client
// object; only nitrogen_on_process et al., invoked from that thread,
// ever touch it.
type VideoStream struct {
	pc      *C.nitrogen_pw_capture
	handle  cgo.Handle
	fd      int
	nodeID  uint32
	bcast   *broadcaster[*types.Frame]
	running atomic.Bool
	epoch   time.Time

	mu     sync.Mutex
	width  int
	height int
	stride int
	spaFmt uint32
	hasFmt bool
}

var videoStreamsMu sync.Mutex
var videoStreams = map[cgo.Handle]*VideoStream{}

// NewVideoStream spawns a dedicated background worker bound to the
// PipeWire client thread identified by fd, connecting to nodeID. The
// caller retains ownership of fd until Stop/Close; PipeWire dup()s
// what it needs internally.
func NewVideoStream(fd int, nodeID uint32) (*VideoStream, error) {
	vs := &VideoStream{
		fd:     fd,
		nodeID: nodeID,
		bcast:  newBroadcaster[*types.Frame](videoBroadcastDepth),
		epoch:  time.Now(),
	}
	vs.handle = cgo.NewHandle(vs)

	videoStreamsMu.Lock()
	videoStreams[vs.handle] = vs
	videoStreamsMu.Unlock()

	pc := C.nitrogen_pw_capture_new(C.uintptr_t(vs.handle), C.uint(nodeID))
	if pc == nil {
		vs.forget()
		return nil, nerr.PipeWire("failed to allocate capture context")
	}
	vs.pc = pc

	if res := C.nitrogen_pw_capture_start(pc, C.int(fd)); res < 0 {
		C.nitrogen_pw_capture_destroy(pc)
		vs.forget()
		return nil, nerr.PipeWire(fmt.Sprintf("pw_stream_connect failed: %d", int(res)))
	}
	vs.running.Store(true)
	return vs, nil
}

func (vs *VideoStream) forget() {
	videoStreamsMu.Lock()
	delete(videoStreams, vs.handle)
	videoStreamsMu.Unlock()
	vs.handle.Delete()
}

// Subscribe returns a lossy, bounded-buffer (4 slot) frame
// subscription and an unsubscribe func.
func (vs *VideoStream) Subscribe() (<-chan *types.Frame, func()) {
	return vs.bcast.subscribe()
}

// IsRunning reports whether the capture worker thread is alive.
func (vs *VideoStream) IsRunning() bool {
	return vs.running.Load()
}

// FramesDropped returns the cumulative count of frames dropped across
// all lagged subscribers.
func (vs *VideoStream) FramesDropped() uint64 {
	return vs.bcast.droppedCount()
}

// Stop tears down the PipeWire stream and joins the capture thread.
// Idempotent.
func (vs *VideoStream) Stop() {
	if !vs.running.CompareAndSwap(true, false) {
		return
	}
	if vs.pc != nil {
		C.nitrogen_pw_capture_destroy(vs.pc)
		vs.pc = nil
	}
	vs.bcast.closeAll()
	vs.forget()
}

func (vs *VideoStream) negotiatedFormat() (width, height, stride int, fourcc uint32, ok bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.width, vs.height, vs.stride, spaToFourcc(vs.spaFmt), vs.hasFmt
}

// NegotiatedFormat exposes the stream's negotiated geometry once
// PipeWire has delivered its first param_changed event; ok is false
// until then. The orchestrator polls this to detect the
// WaitingForStream → Running transition (spec §4.12).
func (vs *VideoStream) NegotiatedFormat() (width, height, stride int, fourcc uint32, ok bool) {
	return vs.negotiatedFormat()
}

// spaToFourcc maps the SPA_VIDEO_FORMAT_* constants this stream
// negotiates (BGRx, RGBA, NV12) onto Nitrogen's DRM fourcc space.
// Values match <spa/param/video/raw.h>'s enum spa_video_format.
func spaToFourcc(spaFormat uint32) uint32 {
	const (
		spaVideoFormatBGRx = 8
		spaVideoFormatRGBA = 11
		spaVideoFormatNV12 = 23
	)
	switch spaFormat {
	case spaVideoFormatBGRx:
		return formats.FourccBGRA8888
	case spaVideoFormatRGBA:
		return formats.FourccARGB8888
	case spaVideoFormatNV12:
		return formats.FourccNV12
	default:
		return formats.FourccBGRA8888
	}
}

//export goVideoOnFormatChanged
func goVideoOnFormatChanged(handle C.uintptr_t, width, height, stride C.int, spaFormat C.uint) {
	vs := lookupVideoStream(handle)
	if vs == nil {
		return
	}
	vs.mu.Lock()
	vs.width, vs.height, vs.stride = int(width), int(height), int(stride)
	vs.spaFmt = uint32(spaFormat)
	vs.hasFmt = true
	vs.mu.Unlock()
	logging.For("capture.video").Info().
		Int("width", int(width)).Int("height", int(height)).
		Str("format", formats.Name(spaToFourcc(uint32(spaFormat)))).
		Msg("negotiated capture format")
}

//export goVideoOnStateChanged
func goVideoOnStateChanged(handle C.uintptr_t, state C.int, cErr *C.char) {
	vs := lookupVideoStream(handle)
	if vs == nil {
		return
	}
	log := logging.For("capture.video")
	if cErr != nil {
		log.Error().Str("error", C.GoString(cErr)).Msg("pipewire stream error")
		vs.running.Store(false)
		return
	}
	const pwStreamStateStreaming = 3 // PW_STREAM_STATE_STREAMING
	log.Debug().Int("state", int(state)).Msg("pipewire stream state changed")
	_ = pwStreamStateStreaming
}

//export goVideoOnProcess
func goVideoOnProcess(handle C.uintptr_t, ptr unsafe.Pointer, size, fd C.int, offset C.longlong) {
	vs := lookupVideoStream(handle)
	if vs == nil {
		return
	}
	width, height, stride, fourcc, ok := vs.negotiatedFormat()
	if !ok || size <= 0 {
		return
	}

	pts := time.Since(vs.epoch).Nanoseconds()

	var frame *types.Frame
	if fd >= 0 {
		data, err := formats.TryMapDmaBuf(int(fd), int(size))
		if err != nil {
			logging.For("capture.video").Warn().Err(err).Msg("dmabuf map failed, dropping frame")
			return
		}
		frame = types.NewFrame(width, height, fourcc, stride, pts, nil,
			types.MemoryPayload{Bytes: data}, func() {})
	} else if ptr != nil {
		data := C.GoBytes(unsafe.Pointer(uintptr(unsafe.Pointer(ptr))+uintptr(offset)), size)
		frame = types.NewFrame(width, height, fourcc, stride, pts, nil,
			types.MemoryPayload{Bytes: data}, func() {})
	} else {
		return
	}

	vs.bcast.publish(frame)
}

func lookupVideoStream(handle C.uintptr_t) *VideoStream {
	h := cgo.Handle(uintptr(handle))
	videoStreamsMu.Lock()
	vs := videoStreams[h]
	videoStreamsMu.Unlock()
	return vs
}
