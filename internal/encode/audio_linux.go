//go:build linux

package encode

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/opt.h>
#include <libavutil/channel_layout.h>
#include <libavutil/samplefmt.h>
#include <stdlib.h>
#include <string.h>
#include <errno.h>

typedef struct {
	AVCodecContext *ctx;
	AVFrame *frame;
	AVPacket *pkt;
	int frame_size;
	int64_t pts;
} aac_encoder;

static aac_encoder *aac_encoder_init(int sample_rate, int channels, int bitrate_kbps) {
	const AVCodec *codec = avcodec_find_encoder_by_name("aac");
	if (!codec) return NULL;

	aac_encoder *e = (aac_encoder *)calloc(1, sizeof(aac_encoder));
	if (!e) return NULL;

	e->ctx = avcodec_alloc_context3(codec);
	if (!e->ctx) { free(e); return NULL; }

	e->ctx->sample_rate = sample_rate;
	e->ctx->bit_rate = (int64_t)bitrate_kbps * 1000;
	e->ctx->sample_fmt = AV_SAMPLE_FMT_FLTP;
	e->ctx->time_base = (AVRational){1, sample_rate};
#if LIBAVUTIL_VERSION_MAJOR >= 57
	av_channel_layout_default(&e->ctx->ch_layout, channels);
#else
	e->ctx->channels = channels;
	e->ctx->channel_layout = av_get_default_channel_layout(channels);
#endif

	av_opt_set(e->ctx->priv_data, "aac_coder", "twoloop", 0);

	if (avcodec_open2(e->ctx, codec, NULL) < 0) {
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}

	e->frame_size = e->ctx->frame_size;
	if (e->frame_size <= 0) e->frame_size = 1024;

	e->frame = av_frame_alloc();
	e->frame->format = e->ctx->sample_fmt;
	e->frame->sample_rate = sample_rate;
	e->frame->nb_samples = e->frame_size;
#if LIBAVUTIL_VERSION_MAJOR >= 57
	av_channel_layout_copy(&e->frame->ch_layout, &e->ctx->ch_layout);
#else
	e->frame->channels = channels;
	e->frame->channel_layout = e->ctx->channel_layout;
#endif
	av_frame_get_buffer(e->frame, 0);

	e->pkt = av_packet_alloc();
	return e;
}

// aac_encoder_send_planar expects one []float32 plane per channel,
// already de-interleaved and sized frame_size each.
static int aac_encoder_send_planar(aac_encoder *e, float **planes, int nb_channels) {
	if (av_frame_make_writable(e->frame) < 0) return -1;
	for (int c = 0; c < nb_channels; c++) {
		memcpy(e->frame->data[c], planes[c], (size_t)e->frame_size * sizeof(float));
	}
	e->frame->pts = e->pts;
	e->pts += e->frame_size;
	return avcodec_send_frame(e->ctx, e->frame);
}

static int aac_encoder_send_eof(aac_encoder *e) {
	return avcodec_send_frame(e->ctx, NULL);
}

static int aac_encoder_receive(aac_encoder *e, uint8_t **out_buf, int *out_size, int64_t *pts, int64_t *dts) {
	int ret = avcodec_receive_packet(e->ctx, e->pkt);
	if (ret < 0) return ret;
	*out_buf = e->pkt->data;
	*out_size = e->pkt->size;
	*pts = e->pkt->pts;
	*dts = e->pkt->dts;
	return 0;
}

static void aac_encoder_unref_packet(aac_encoder *e) {
	av_packet_unref(e->pkt);
}

static int64_t aac_encoder_time_base_den(aac_encoder *e) {
	return e->ctx->time_base.den;
}

static void aac_encoder_destroy(aac_encoder *e) {
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

	"github.com/hraban/opus"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

var aacEAGAIN = C.int(-C.EAGAIN)
var aacEOF = C.int(C.AVERROR_EOF)

// opusFrameSamples is the frame duration opus encodes at 48kHz (20ms),
// matching the capture pipeline's own audio frame cadence.
const opusFrameSamples = 960

// AudioEncoder produces compressed audio packets from interleaved f32
// PCM, buffering partial frames until a full codec frame is available
// and zero-padding the tail on Flush. AAC goes through libavcodec;
// Opus goes through github.com/hraban/opus directly (no container
// framing needed — the sinks handle Opus packets as-is).
type AudioEncoder struct {
	codec      config.AudioCodec
	sampleRate int
	channels   int

	aac  *C.aac_encoder
	opus *opus.Encoder

	frameSize    int // samples per channel, per codec frame
	sampleBuffer []float32
	sampleCount  uint64
	opusBuf      []byte
}

// NewAudioEncoder builds an AAC or Opus encoder at the given rate/
// channel count. Copy is rejected — passthrough bypasses the encoder
// entirely and has no business constructing one.
func NewAudioEncoder(codec config.AudioCodec, sampleRate, channels int, bitrateKbps uint32) (*AudioEncoder, error) {
	if codec == config.AudioCodecCopy {
		return nil, nerr.Config("cannot create an encoder for the Copy codec; use passthrough instead")
	}
	if bitrateKbps == 0 {
		bitrateKbps = codec.DefaultBitrateKbps()
	}

	ae := &AudioEncoder{
		codec:      codec,
		sampleRate: sampleRate,
		channels:   channels,
	}

	log := logging.For("encode.audio")

	switch codec {
	case config.AudioCodecAAC:
		e := C.aac_encoder_init(C.int(sampleRate), C.int(channels), C.int(bitrateKbps))
		if e == nil {
			return nil, nerr.Encoder("failed to initialize AAC encoder")
		}
		ae.aac = e
		ae.frameSize = int(e.frame_size)
	case config.AudioCodecOpus:
		enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
		if err != nil {
			return nil, nerr.Wrap(nerr.KindEncoder, err)
		}
		if err := enc.SetBitrate(int(bitrateKbps) * 1000); err != nil {
			return nil, nerr.Wrap(nerr.KindEncoder, err)
		}
		ae.opus = enc
		ae.frameSize = opusFrameSamples
		ae.opusBuf = make([]byte, 4000)
	default:
		return nil, nerr.Unsupported("unknown audio codec")
	}

	log.Info().
		Str("codec", codec.String()).
		Int("sample_rate", sampleRate).Int("channels", channels).
		Uint32("bitrate_kbps", bitrateKbps).Int("frame_size", ae.frameSize).
		Msg("audio encoder initialized")

	return ae, nil
}

// FrameSize returns the number of samples per channel the codec
// requires per frame.
func (ae *AudioEncoder) FrameSize() int { return ae.frameSize }

// Encode accumulates frame's samples into the internal buffer and
// encodes every complete codec frame it can assemble, in order.
func (ae *AudioEncoder) Encode(frame *types.AudioFrame) ([]*types.EncodedAudioPacket, error) {
	if frame.SampleRate != ae.sampleRate || frame.Channels != ae.channels {
		return nil, nerr.Encoder("audio frame sample rate/channels does not match the encoder's configuration")
	}

	ae.sampleBuffer = append(ae.sampleBuffer, frame.Samples...)
	samplesPerFrame := ae.frameSize * ae.channels

	var out []*types.EncodedAudioPacket
	for len(ae.sampleBuffer) >= samplesPerFrame {
		pkts, err := ae.encodeFrame(ae.sampleBuffer[:samplesPerFrame])
		if err != nil {
			return out, err
		}
		out = append(out, pkts...)
		ae.sampleBuffer = ae.sampleBuffer[samplesPerFrame:]
	}
	return out, nil
}

func (ae *AudioEncoder) encodeFrame(samples []float32) ([]*types.EncodedAudioPacket, error) {
	ae.sampleCount += uint64(ae.frameSize)

	if ae.opus != nil {
		n, err := ae.opus.EncodeFloat32(samples, ae.opusBuf)
		if err != nil {
			return nil, nerr.Wrap(nerr.KindEncoder, err)
		}
		data := make([]byte, n)
		copy(data, ae.opusBuf[:n])
		pts := int64(ae.sampleCount) - int64(ae.frameSize)
		return []*types.EncodedAudioPacket{{
			Data:     data,
			PTS:      pts,
			DTS:      pts,
			Duration: int64(ae.frameSize),
		}}, nil
	}

	return ae.encodeAAC(samples)
}

func (ae *AudioEncoder) encodeAAC(samples []float32) ([]*types.EncodedAudioPacket, error) {
	planes := deinterleave(samples, ae.channels, ae.frameSize)

	cPlanes := make([]*C.float, ae.channels)
	for i, p := range planes {
		cPlanes[i] = (*C.float)(unsafe.Pointer(&p[0]))
	}

	ret := C.aac_encoder_send_planar(ae.aac, (**C.float)(unsafe.Pointer(&cPlanes[0])), C.int(ae.channels))
	if ret < 0 {
		return nil, nerr.Encoder("avcodec_send_frame failed for AAC")
	}
	return ae.drainAAC()
}

// deinterleave splits interleaved PCM into one []float32 per channel,
// each exactly frameSize long (samples is guaranteed to be exactly
// frameSize*channels long by the caller).
func deinterleave(samples []float32, channels, frameSize int) [][]float32 {
	planes := make([][]float32, channels)
	for c := range planes {
		planes[c] = make([]float32, frameSize)
	}
	for i := 0; i < frameSize; i++ {
		for c := 0; c < channels; c++ {
			planes[c][i] = samples[i*channels+c]
		}
	}
	return planes
}

func (ae *AudioEncoder) drainAAC() ([]*types.EncodedAudioPacket, error) {
	var out []*types.EncodedAudioPacket
	for {
		var buf *C.uint8_t
		var size C.int
		var pts, dts C.int64_t
		ret := C.aac_encoder_receive(ae.aac, &buf, &size, &pts, &dts)
		if ret == aacEAGAIN || ret == aacEOF {
			return out, nil
		}
		if ret < 0 {
			return out, nerr.Encoder("avcodec_receive_packet failed for AAC")
		}

		data := C.GoBytes(unsafe.Pointer(buf), size)
		out = append(out, &types.EncodedAudioPacket{
			Data:     data,
			PTS:      int64(pts),
			DTS:      int64(dts),
			Duration: int64(ae.frameSize),
		})
		C.aac_encoder_unref_packet(ae.aac)
	}
}

// Flush zero-pads any partial frame still buffered, encodes it, sends
// EOF (AAC only — Opus has no internal reordering to drain), and
// returns every packet that produces.
func (ae *AudioEncoder) Flush() []*types.EncodedAudioPacket {
	var out []*types.EncodedAudioPacket

	if len(ae.sampleBuffer) > 0 {
		samplesPerFrame := ae.frameSize * ae.channels
		padded := make([]float32, samplesPerFrame)
		copy(padded, ae.sampleBuffer)
		if pkts, err := ae.encodeFrame(padded); err == nil {
			out = append(out, pkts...)
		}
		ae.sampleBuffer = nil
	}

	if ae.aac != nil {
		C.aac_encoder_send_eof(ae.aac)
		if pkts, err := ae.drainAAC(); err == nil {
			out = append(out, pkts...)
		}
	}

	return out
}

// Close releases the underlying codec resources. Idempotent.
func (ae *AudioEncoder) Close() {
	if ae.aac != nil {
		C.aac_encoder_destroy(ae.aac)
		ae.aac = nil
	}
	ae.opus = nil
}
