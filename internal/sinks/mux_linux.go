//go:build linux

package sinks

/*
#cgo pkg-config: libavformat libavcodec libavutil
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	AVFormatContext *fmt_ctx;
	AVStream *video_stream;
	AVStream *audio_stream;
	int header_written;
} nitrogen_muxer;

// nitrogen_mux_open allocates an output context for format_name (a
// short_name recognized by libavformat: "mp4", "matroska", "flv",
// "mpegts") targeting url, which may be a plain file path or a
// network URL libavformat's protocol layer understands (rtmp(s)://,
// srt://).
static nitrogen_muxer *nitrogen_mux_open(const char *format_name, const char *url) {
	nitrogen_muxer *m = (nitrogen_muxer *)calloc(1, sizeof(nitrogen_muxer));
	if (!m) return NULL;

	if (avformat_alloc_output_context2(&m->fmt_ctx, NULL, format_name, url) < 0 || !m->fmt_ctx) {
		free(m);
		return NULL;
	}
	return m;
}

static int nitrogen_mux_add_video_stream(nitrogen_muxer *m, int codec_id, int width, int height,
                                          int fps, int bitrate_kbps) {
	AVStream *st = avformat_new_stream(m->fmt_ctx, NULL);
	if (!st) return -1;

	st->codecpar->codec_type = AVMEDIA_TYPE_VIDEO;
	st->codecpar->codec_id = (enum AVCodecID)codec_id;
	st->codecpar->width = width;
	st->codecpar->height = height;
	st->codecpar->bit_rate = (int64_t)bitrate_kbps * 1000;
	st->codecpar->format = AV_PIX_FMT_NV12;
	st->time_base = (AVRational){1, fps};

	m->video_stream = st;
	return st->index;
}

static int nitrogen_mux_add_audio_stream(nitrogen_muxer *m, int codec_id, int sample_rate,
                                          int channels, int bitrate_kbps) {
	AVStream *st = avformat_new_stream(m->fmt_ctx, NULL);
	if (!st) return -1;

	st->codecpar->codec_type = AVMEDIA_TYPE_AUDIO;
	st->codecpar->codec_id = (enum AVCodecID)codec_id;
	st->codecpar->sample_rate = sample_rate;
	st->codecpar->bit_rate = (int64_t)bitrate_kbps * 1000;
#if LIBAVUTIL_VERSION_MAJOR >= 57
	st->codecpar->ch_layout.nb_channels = channels;
#else
	st->codecpar->channels = channels;
#endif
	st->time_base = (AVRational){1, sample_rate};

	m->audio_stream = st;
	return st->index;
}

// nitrogen_mux_start opens the format's own protocol I/O (file or
// network) and writes the header. Must be called after every stream
// is added and before the first packet.
static int nitrogen_mux_start(nitrogen_muxer *m, const char *url) {
	if (!(m->fmt_ctx->oformat->flags & AVFMT_NOFILE)) {
		if (avio_open(&m->fmt_ctx->pb, url, AVIO_FLAG_WRITE) < 0) {
			return -1;
		}
	}
	if (avformat_write_header(m->fmt_ctx, NULL) < 0) {
		return -1;
	}
	m->header_written = 1;
	return 0;
}

static int64_t nitrogen_rescale(int64_t ts, int in_num, int in_den, int out_num, int out_den) {
	AVRational in = {in_num, in_den};
	AVRational out = {out_num, out_den};
	return av_rescale_q(ts, in, out);
}

static int nitrogen_mux_write(nitrogen_muxer *m, int stream_index, uint8_t *data, int size,
                               int64_t pts, int64_t dts, int64_t duration, int keyframe) {
	AVPacket *pkt = av_packet_alloc();
	if (!pkt) return -1;

	if (av_new_packet(pkt, size) < 0) {
		av_packet_free(&pkt);
		return -1;
	}
	memcpy(pkt->data, data, size);
	pkt->stream_index = stream_index;
	pkt->pts = pts;
	pkt->dts = dts;
	pkt->duration = duration;
	if (keyframe) pkt->flags |= AV_PKT_FLAG_KEY;

	int ret = av_interleaved_write_frame(m->fmt_ctx, pkt);
	av_packet_free(&pkt);
	return ret;
}

static int nitrogen_mux_close(nitrogen_muxer *m) {
	int ret = 0;
	if (m->header_written) {
		ret = av_write_trailer(m->fmt_ctx);
	}
	if (m->fmt_ctx && !(m->fmt_ctx->oformat->flags & AVFMT_NOFILE) && m->fmt_ctx->pb) {
		avio_closep(&m->fmt_ctx->pb);
	}
	if (m->fmt_ctx) {
		avformat_free_context(m->fmt_ctx);
	}
	free(m);
	return ret;
}

static int nitrogen_codec_id_h264(void) { return AV_CODEC_ID_H264; }
static int nitrogen_codec_id_hevc(void) { return AV_CODEC_ID_HEVC; }
static int nitrogen_codec_id_av1(void)  { return AV_CODEC_ID_AV1; }
static int nitrogen_codec_id_aac(void)  { return AV_CODEC_ID_AAC; }
static int nitrogen_codec_id_opus(void) { return AV_CODEC_ID_OPUS; }
*/
import "C"

import (
	"unsafe"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// muxer wraps a libavformat output context with two optional streams
// (video always, audio if configured). recorder_linux.go and
// stream_linux.go are
// thin, differently-configured callers of this shared core — a
// container file and an RTMP/SRT network target are the same
// operation to libavformat once the format name and URL are chosen.
type muxer struct {
	m               *C.nitrogen_muxer
	url             string
	videoStreamIdx  int
	audioStreamIdx  int
	hasAudio        bool
	videoTimeBase   [2]int // num, den
	audioTimeBase   [2]int
	videoPktsWritten uint64
	audioPktsWritten uint64
}

func newMuxer(formatName, url string, cfg config.CaptureConfig) (*muxer, error) {
	cFormat := C.CString(formatName)
	defer C.free(unsafe.Pointer(cFormat))
	cURL := C.CString(url)
	defer C.free(unsafe.Pointer(cURL))

	m := C.nitrogen_mux_open(cFormat, cURL)
	if m == nil {
		return nil, nerr.Encoder("failed to allocate " + formatName + " output context")
	}

	mux := &muxer{m: m, url: url, audioStreamIdx: -1}

	videoIdx := C.nitrogen_mux_add_video_stream(m, videoCodecID(cfg.Codec), C.int(cfg.Width()),
		C.int(cfg.Height()), C.int(cfg.FPS()), C.int(cfg.EffectiveBitrateKbps()))
	if videoIdx < 0 {
		C.nitrogen_mux_close(m)
		return nil, nerr.Encoder("failed to add video stream to " + formatName + " output")
	}
	mux.videoStreamIdx = int(videoIdx)
	mux.videoTimeBase = [2]int{1, int(cfg.FPS())}

	if cfg.HasAudio() && cfg.AudioCodec != config.AudioCodecCopy {
		audioIdx := C.nitrogen_mux_add_audio_stream(m, audioCodecID(cfg.AudioCodec), 48000, 2,
			C.int(cfg.EffectiveAudioBitrateKbps()))
		if audioIdx < 0 {
			C.nitrogen_mux_close(m)
			return nil, nerr.Encoder("failed to add audio stream to " + formatName + " output")
		}
		mux.audioStreamIdx = int(audioIdx)
		mux.audioTimeBase = [2]int{1, 48000}
		mux.hasAudio = true
	}

	if ret := C.nitrogen_mux_start(m, cURL); ret < 0 {
		C.nitrogen_mux_close(m)
		return nil, nerr.Encoder("failed to open/start " + formatName + " output to " + url)
	}

	return mux, nil
}

func videoCodecID(c config.Codec) C.int {
	switch c {
	case config.CodecHEVC:
		return C.int(C.nitrogen_codec_id_hevc())
	case config.CodecAV1:
		return C.int(C.nitrogen_codec_id_av1())
	default:
		return C.int(C.nitrogen_codec_id_h264())
	}
}

func audioCodecID(c config.AudioCodec) C.int {
	if c == config.AudioCodecOpus {
		return C.int(C.nitrogen_codec_id_opus())
	}
	return C.int(C.nitrogen_codec_id_aac())
}

// writeVideo rescales pkt's timestamps from the encoder's time base
// (1/fps) to the output stream's and writes it. The header has already
// been written by newMuxer.
func (mx *muxer) writeVideo(pkt *types.EncodedVideoPacket, encoderTimeBaseDen int) error {
	pts := int64(C.nitrogen_rescale(C.int64_t(pkt.PTS), C.int(1), C.int(encoderTimeBaseDen), C.int(mx.videoTimeBase[0]), C.int(mx.videoTimeBase[1])))
	dts := int64(C.nitrogen_rescale(C.int64_t(pkt.DTS), C.int(1), C.int(encoderTimeBaseDen), C.int(mx.videoTimeBase[0]), C.int(mx.videoTimeBase[1])))

	return mx.write(mx.videoStreamIdx, pkt.Data, pts, dts, 0, pkt.Keyframe, &mx.videoPktsWritten)
}

// writeAudio rescales pkt's timestamps from the audio encoder's time
// base (1/sampleRate) to the output stream's.
func (mx *muxer) writeAudio(pkt *types.EncodedAudioPacket, sampleRate int) error {
	if !mx.hasAudio {
		return nerr.Config("cannot write audio packet - no audio stream configured")
	}
	pts := int64(C.nitrogen_rescale(C.int64_t(pkt.PTS), C.int(1), C.int(sampleRate), C.int(mx.audioTimeBase[0]), C.int(mx.audioTimeBase[1])))
	dts := int64(C.nitrogen_rescale(C.int64_t(pkt.DTS), C.int(1), C.int(sampleRate), C.int(mx.audioTimeBase[0]), C.int(mx.audioTimeBase[1])))
	duration := int64(C.nitrogen_rescale(C.int64_t(pkt.Duration), C.int(1), C.int(sampleRate), C.int(mx.audioTimeBase[0]), C.int(mx.audioTimeBase[1])))

	return mx.write(mx.audioStreamIdx, pkt.Data, pts, dts, duration, false, &mx.audioPktsWritten)
}

func (mx *muxer) write(streamIdx int, data []byte, pts, dts, duration int64, keyframe bool, counter *uint64) error {
	if len(data) == 0 {
		return nil
	}
	var keyflag C.int
	if keyframe {
		keyflag = 1
	}
	ret := C.nitrogen_mux_write(mx.m, C.int(streamIdx), (*C.uint8_t)(unsafe.Pointer(&data[0])), C.int(len(data)),
		C.int64_t(pts), C.int64_t(dts), C.int64_t(duration), keyflag)
	if ret < 0 {
		var errBuf [128]C.char
		C.av_strerror(ret, &errBuf[0], C.size_t(len(errBuf)))
		return nerr.Encoder("av_interleaved_write_frame failed: " + C.GoString(&errBuf[0]))
	}
	*counter++
	return nil
}

func (mx *muxer) videoPacketsWritten() uint64 { return mx.videoPktsWritten }
func (mx *muxer) audioPacketsWritten() uint64 { return mx.audioPktsWritten }

// close writes the trailer and frees the output context. Idempotent
// is the caller's job (recorder/stream each guard it with an
// atomic.Bool).
func (mx *muxer) close() error {
	if ret := C.nitrogen_mux_close(mx.m); ret < 0 {
		return nerr.Encoder("failed to write trailer")
	}
	return nil
}
