//go:build linux

package encode

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/opt.h>
#include <stdlib.h>
#include <string.h>
#include <errno.h>

typedef struct {
	const char *codec_name;   // "h264", "hevc", "av1"
	int width;
	int height;
	int fps;
	int bitrate_kbps;
	int max_bitrate_kbps;
	int gop_size;
	int gpu_index;
	int ten_bit;         // AV1 only
	int low_latency;
	int spatial_aq;
	int temporal_aq;
	int lookahead;       // bool: lookahead enabled
	int lookahead_depth; // 1..250
	int multipass;       // 0=off, 1=quarter, 2=full
	const char *preset;  // p1..p7
	const char *tune;     // ull/ll/hq/...
	const char *profile;  // baseline/main/high/main10
	const char *tier;     // main/high (AV1)
} encoder_params;

typedef struct {
	AVCodecContext *ctx;
	AVFrame *frame;
	AVPacket *pkt;
	int width;
	int height;
	enum AVPixelFormat pix_fmt;
	int64_t pts;
} video_encoder;

static const AVCodec *find_hw_then_sw(const char *hw_name, const char *sw_name) {
	const AVCodec *codec = avcodec_find_encoder_by_name(hw_name);
	if (!codec) {
		codec = avcodec_find_encoder_by_name(sw_name);
	}
	return codec;
}

static video_encoder *video_encoder_init(const encoder_params *p) {
	video_encoder *e = (video_encoder *)calloc(1, sizeof(video_encoder));
	if (!e) return NULL;
	e->width = p->width;
	e->height = p->height;

	const AVCodec *codec = NULL;
	if (strcmp(p->codec_name, "hevc") == 0) {
		codec = find_hw_then_sw("hevc_nvenc", "libx265");
	} else if (strcmp(p->codec_name, "av1") == 0) {
		codec = find_hw_then_sw("av1_nvenc", "libsvtav1");
	} else {
		codec = find_hw_then_sw("h264_nvenc", "libx264");
	}
	if (!codec) { free(e); return NULL; }

	e->ctx = avcodec_alloc_context3(codec);
	if (!e->ctx) { free(e); return NULL; }

	int is_av1_10bit = (strcmp(p->codec_name, "av1") == 0) && p->ten_bit;
	e->pix_fmt = is_av1_10bit ? AV_PIX_FMT_P010LE : AV_PIX_FMT_NV12;

	e->ctx->width = p->width;
	e->ctx->height = p->height;
	e->ctx->time_base = (AVRational){1, p->fps};
	e->ctx->framerate = (AVRational){p->fps, 1};
	e->ctx->pix_fmt = e->pix_fmt;
	e->ctx->bit_rate = (int64_t)p->bitrate_kbps * 1000;
	e->ctx->rc_max_rate = (int64_t)p->max_bitrate_kbps * 1000;
	e->ctx->gop_size = p->gop_size;
	e->ctx->max_b_frames = p->low_latency ? 0 : 2;

	int is_nvenc = strstr(codec->name, "nvenc") != NULL;
	if (is_nvenc) {
		av_opt_set(e->ctx->priv_data, "preset", p->preset, 0);
		av_opt_set(e->ctx->priv_data, "profile", p->profile, 0);
		av_opt_set_int(e->ctx->priv_data, "gpu", p->gpu_index, 0);
		av_opt_set(e->ctx->priv_data, "rc", p->low_latency ? "cbr" : "vbr", 0);
		if (p->low_latency) {
			av_opt_set(e->ctx->priv_data, "tune", "ull", 0);
			av_opt_set(e->ctx->priv_data, "zerolatency", "1", 0);
		} else if (p->tune && p->tune[0] != '\0') {
			av_opt_set(e->ctx->priv_data, "tune", p->tune, 0);
		}
		if (p->spatial_aq) {
			av_opt_set(e->ctx->priv_data, "spatial_aq", "1", 0);
		}
		if (p->temporal_aq) {
			av_opt_set(e->ctx->priv_data, "temporal_aq", "1", 0);
		}
		if (p->lookahead && !p->low_latency) {
			av_opt_set_int(e->ctx->priv_data, "rc-lookahead", p->lookahead_depth, 0);
		}
		if (p->multipass == 1) {
			av_opt_set(e->ctx->priv_data, "multipass", "qres", 0);
		} else if (p->multipass == 2) {
			av_opt_set(e->ctx->priv_data, "multipass", "fullres", 0);
		}
		if (strcmp(p->codec_name, "av1") == 0 && p->tier && p->tier[0] != '\0') {
			av_opt_set(e->ctx->priv_data, "tier", p->tier, 0);
		}
	} else {
		// Software fallback (libx264/libx265/libsvtav1): low-latency
		// tuning only, the AV1-specific AQ/multipass/tier knobs above
		// have no meaning for these encoders.
		av_opt_set(e->ctx->priv_data, "preset", p->low_latency ? "ultrafast" : "fast", 0);
		if (p->low_latency) {
			av_opt_set(e->ctx->priv_data, "tune", "zerolatency", 0);
		}
		e->pix_fmt = is_av1_10bit ? AV_PIX_FMT_YUV420P10LE : AV_PIX_FMT_YUV420P;
		e->ctx->pix_fmt = e->pix_fmt;
	}

	if (p->low_latency) {
		e->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;
	}

	if (avcodec_open2(e->ctx, codec, NULL) < 0) {
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}

	e->frame = av_frame_alloc();
	e->frame->format = e->ctx->pix_fmt;
	e->frame->width = p->width;
	e->frame->height = p->height;
	av_frame_get_buffer(e->frame, 0);

	e->pkt = av_packet_alloc();
	return e;
}

// video_encoder_send_planar submits a frame already converted to the
// encoder's pixel format (planar luma + interleaved/planar chroma, as
// produced by the Go-side scaler), draining zero or more packets is
// the caller's job via video_encoder_receive.
static int video_encoder_send_planar(video_encoder *e, uint8_t *luma, int luma_stride,
                                      uint8_t *chroma, int chroma_stride) {
	if (av_frame_make_writable(e->frame) < 0) return -1;

	for (int y = 0; y < e->height; y++) {
		memcpy(e->frame->data[0] + y * e->frame->linesize[0], luma + y * luma_stride, e->width);
	}
	if (chroma != NULL) {
		int chroma_h = e->height / 2;
		int chroma_w = e->width; // NV12 interleaved UV is full width in bytes
		for (int y = 0; y < chroma_h; y++) {
			memcpy(e->frame->data[1] + y * e->frame->linesize[1], chroma + y * chroma_stride, chroma_w);
		}
	}

	e->frame->pts = e->pts++;
	return avcodec_send_frame(e->ctx, e->frame);
}

static int video_encoder_send_eof(video_encoder *e) {
	return avcodec_send_frame(e->ctx, NULL);
}

// Returns 0 on a packet, AVERROR(EAGAIN)/AVERROR_EOF when drained, <0 on error.
static int video_encoder_receive(video_encoder *e, uint8_t **out_buf, int *out_size,
                                  int64_t *pts, int64_t *dts, int *is_key) {
	int ret = avcodec_receive_packet(e->ctx, e->pkt);
	if (ret < 0) return ret;
	*out_buf = e->pkt->data;
	*out_size = e->pkt->size;
	*pts = e->pkt->pts;
	*dts = e->pkt->dts;
	*is_key = (e->pkt->flags & AV_PKT_FLAG_KEY) ? 1 : 0;
	return 0;
}

static void video_encoder_unref_packet(video_encoder *e) {
	av_packet_unref(e->pkt);
}

static int video_encoder_pix_fmt(video_encoder *e) { return (int)e->pix_fmt; }

static void video_encoder_destroy(video_encoder *e) {
	if (!e) return;
	if (e->pkt) av_packet_free(&e->pkt);
	if (e->frame) av_frame_free(&e->frame);
	if (e->ctx) avcodec_free_context(&e->ctx);
	free(e);
}
*/
import "C"

import (
	"unsafe"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/transform"
	"github.com/ghostkellz/nitrogen/internal/types"
)

var avErrorEAGAIN = C.int(-C.EAGAIN)
var avErrorEOF = C.int(C.AVERROR_EOF)

// VideoEncoder wraps libavcodec's NVENC (falling back to libx264/
// libx265/libsvtav1) behind the codec-option table of spec §4.7. It
// lazily builds a scaler when an incoming frame's format or
// dimensions differ from the encoder's negotiated input.
type VideoEncoder struct {
	e       *C.video_encoder
	cfg     config.CaptureConfig
	scaler  *transform.Scaler
	srcFmt  uint32
	srcW    int
	srcH    int
	nv12Fmt bool
}

// NewVideoEncoder configures a hardware encoder from a fully resolved
// CaptureConfig (spec §4.7's construction contract).
func NewVideoEncoder(cfg config.CaptureConfig) (*VideoEncoder, error) {
	params := buildParams(cfg)
	defer freeParams(params)

	e := C.video_encoder_init(params)
	if e == nil {
		return nil, nerr.Encoder("failed to initialize " + cfg.Codec.String() + " encoder")
	}

	log := logging.For("encode.video")
	log.Info().
		Str("codec", cfg.Codec.String()).
		Uint32("width", cfg.Width()).Uint32("height", cfg.Height()).
		Uint32("fps", cfg.FPS()).Uint32("bitrate_kbps", cfg.EffectiveBitrateKbps()).
		Msg("video encoder initialized")

	return &VideoEncoder{
		e:       e,
		cfg:     cfg,
		nv12Fmt: int(C.video_encoder_pix_fmt(e)) != int(C.AV_PIX_FMT_YUV420P10LE),
	}, nil
}

func buildParams(cfg config.CaptureConfig) *C.encoder_params {
	p := (*C.encoder_params)(C.malloc(C.size_t(unsafe.Sizeof(C.encoder_params{}))))
	*p = C.encoder_params{}

	p.codec_name = cCodecName(cfg.Codec)
	p.width = C.int(cfg.Width())
	p.height = C.int(cfg.Height())
	p.fps = C.int(cfg.FPS())
	p.bitrate_kbps = C.int(cfg.EffectiveBitrateKbps())
	p.max_bitrate_kbps = C.int(cfg.EffectiveBitrateKbps() * 3 / 2)
	p.gop_size = C.int(cfg.AV1.ResolvedGOP(cfg.FPS()))
	p.gpu_index = C.int(cfg.GPU)
	p.ten_bit = cBool(cfg.AV1.TenBit)
	p.low_latency = cBool(cfg.LowLatency)
	p.spatial_aq = cBool(cfg.AV1.SpatialAQ)
	p.temporal_aq = cBool(cfg.AV1.TemporalAQ)
	p.lookahead = cBool(cfg.AV1.Lookahead)
	p.lookahead_depth = C.int(cfg.AV1.LookaheadDepth)
	p.multipass = C.int(cfg.AV1.Multipass)
	p.preset = C.CString(cfg.EncoderPreset.NvencPresetName())
	p.tune = C.CString(cfg.AV1.Tune.FFmpegValue())
	p.profile = C.CString(codecProfile(cfg.Codec, cfg.AV1.TenBit))
	p.tier = C.CString(cfg.AV1.Tier.FFmpegValue())
	return p
}

func freeParams(p *C.encoder_params) {
	C.free(unsafe.Pointer(p.codec_name))
	C.free(unsafe.Pointer(p.preset))
	C.free(unsafe.Pointer(p.tune))
	C.free(unsafe.Pointer(p.profile))
	C.free(unsafe.Pointer(p.tier))
	C.free(unsafe.Pointer(p))
}

func cCodecName(c config.Codec) *C.char {
	switch c {
	case config.CodecHEVC:
		return C.CString("hevc")
	case config.CodecAV1:
		return C.CString("av1")
	default:
		return C.CString("h264")
	}
}

func codecProfile(c config.Codec, tenBit bool) string {
	switch c {
	case config.CodecHEVC:
		return "main"
	case config.CodecAV1:
		if tenBit {
			return "main10"
		}
		return "main"
	default:
		return "high"
	}
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

// Encode converts frame to the encoder's input pixel format (lazily
// (re)building the scaler if geometry/format changed), submits it,
// and receives at most one packet (nil when the encoder has none
// ready). Further packets the encoder already holds are not drained
// here; they stay queued for the next Encode or Flush call.
func (ve *VideoEncoder) Encode(frame *types.Frame) (*types.EncodedVideoPacket, error) {
	if frame.IsDmaBuf() {
		return nil, nerr.Unsupported("DmaBuf input to the video encoder")
	}
	mem, ok := frame.Payload.(types.MemoryPayload)
	if !ok {
		return nil, nerr.Unsupported("unknown frame payload type")
	}

	if err := ve.ensureScaler(frame.Fourcc, frame.Width, frame.Height); err != nil {
		return nil, err
	}

	// The scaler (when present) converts to the encoder's configured
	// output geometry, not the source frame's geometry — size these
	// buffers from cfg, since capture resolution and preset resolution
	// routinely differ (e.g. a 1080p preset on a 1440p monitor).
	dstW, dstH := int(ve.cfg.Width()), int(ve.cfg.Height())
	dstStride := dstW
	luma := make([]byte, dstStride*dstH)
	chroma := make([]byte, dstStride*dstH/2)
	if ve.scaler != nil {
		nv12 := make([]byte, dstStride*dstH*3/2)
		if err := ve.scaler.Rescale(mem.Bytes, frame.Stride, nv12, dstStride); err != nil {
			return nil, nerr.Wrap(nerr.KindEncoder, err)
		}
		lumaSize, _ := formats.PlaneSizes(formats.FourccNV12, dstW, dstH, dstStride)
		copy(luma, nv12[:lumaSize])
		copy(chroma, nv12[lumaSize:])
	} else {
		formats.CopyRows(luma, dstStride, mem.Bytes, frame.Stride, dstStride, dstH)
		chromaSrc := mem.Bytes[frame.Stride*frame.Height:]
		formats.CopyRows(chroma, dstStride, chromaSrc, frame.Stride, dstStride, dstH/2)
	}

	lumaPtr := (*C.uint8_t)(unsafe.Pointer(&luma[0]))
	var chromaPtr *C.uint8_t
	if len(chroma) > 0 {
		chromaPtr = (*C.uint8_t)(unsafe.Pointer(&chroma[0]))
	}

	ret := C.video_encoder_send_planar(ve.e, lumaPtr, C.int(dstStride), chromaPtr, C.int(dstStride))
	if ret < 0 {
		return nil, nerr.Encoder("avcodec_send_frame failed")
	}

	return ve.drainOne()
}

func (ve *VideoEncoder) ensureScaler(fourcc uint32, width, height int) error {
	if ve.scaler != nil && ve.srcFmt == fourcc && ve.srcW == width && ve.srcH == height {
		return nil
	}
	if ve.scaler != nil {
		ve.scaler.Close()
		ve.scaler = nil
	}
	if fourcc == formats.FourccNV12 && width == int(ve.cfg.Width()) && height == int(ve.cfg.Height()) {
		ve.srcFmt, ve.srcW, ve.srcH = fourcc, width, height
		return nil
	}
	scaler, err := transform.NewScaler(width, height, fourcc, int(ve.cfg.Width()), int(ve.cfg.Height()), formats.FourccNV12)
	if err != nil {
		return nerr.Wrap(nerr.KindEncoder, err)
	}
	ve.scaler = scaler
	ve.srcFmt, ve.srcW, ve.srcH = fourcc, width, height
	return nil
}

func (ve *VideoEncoder) drainOne() (*types.EncodedVideoPacket, error) {
	var outBuf *C.uint8_t
	var outSize C.int
	var pts, dts C.int64_t
	var isKey C.int

	ret := C.video_encoder_receive(ve.e, &outBuf, &outSize, &pts, &dts, &isKey)
	if ret == avErrorEAGAIN || ret == avErrorEOF {
		return nil, nil
	}
	if ret < 0 {
		return nil, nerr.Encoder("avcodec_receive_packet failed")
	}
	data := C.GoBytes(unsafe.Pointer(outBuf), outSize)
	C.video_encoder_unref_packet(ve.e)

	return &types.EncodedVideoPacket{
		Data:     data,
		PTS:      int64(pts),
		DTS:      int64(dts),
		Keyframe: isKey != 0,
	}, nil
}

// Flush sends an EOF signal and drains every remaining packet before
// returning.
func (ve *VideoEncoder) Flush() []*types.EncodedVideoPacket {
	C.video_encoder_send_eof(ve.e)
	var out []*types.EncodedVideoPacket
	for {
		pkt, err := ve.drainOne()
		if err != nil || pkt == nil {
			break
		}
		out = append(out, pkt)
	}
	return out
}

// Close releases the encoder and any lazily-created scaler.
func (ve *VideoEncoder) Close() {
	if ve.scaler != nil {
		ve.scaler.Close()
		ve.scaler = nil
	}
	C.video_encoder_destroy(ve.e)
}
