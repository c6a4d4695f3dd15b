//go:build linux

package sinks

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

var errStreamClosed = errors.New("stream connection closed after a fatal error")

// StreamProtocol is the network protocol a Stream targets, detected
// from the destination URL's scheme.
type StreamProtocol int

const (
	ProtocolRTMP StreamProtocol = iota
	ProtocolSRT
)

func (p StreamProtocol) String() string {
	if p == ProtocolSRT {
		return "SRT"
	}
	return "RTMP"
}

// protocolFromURL detects the protocol and its forced container
// format from the URL's scheme, per spec §4.11.
func protocolFromURL(url string) (StreamProtocol, string, error) {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "rtmp://"), strings.HasPrefix(lower, "rtmps://"):
		return ProtocolRTMP, "flv", nil
	case strings.HasPrefix(lower, "srt://"):
		return ProtocolSRT, "mpegts", nil
	default:
		return 0, "", nerr.Config("unsupported stream URL scheme (expected rtmp://, rtmps://, or srt://): " + maskURL(url))
	}
}

// maskURL replaces everything past the last '/' with asterisks so a
// trailing stream key does not reach logs. A URL whose last segment is
// empty or contains ':' (a bare host:port, as in most srt:// URLs) is
// returned unchanged.
func maskURL(url string) string {
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx == len(url)-1 {
		return url
	}
	key := url[idx+1:]
	if strings.Contains(key, ":") {
		return url
	}
	return url[:idx+1] + "****"
}

// isFatalStreamError reports whether err should kill this stream sink
// (but not the pipeline) — a broken network connection, not a
// transient encode hiccup.
func isFatalStreamError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Broken pipe") || strings.Contains(msg, "Connection reset") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}

// Stream pushes encoded video (and optionally audio) packets to an
// RTMP or SRT endpoint. Same libavformat mechanics as Recorder, with
// the container format forced by the URL scheme rather than inferred
// from an extension, and connection failures classified fatal-for-
// this-sink rather than fatal-for-the-pipeline.
type Stream struct {
	mux      *muxer
	url      string
	protocol StreamProtocol
	fps      int
	fatal    atomic.Bool
	closed   atomic.Bool
}

// NewStream opens a connection to url and writes the header
// immediately.
func NewStream(url string, cfg config.CaptureConfig) (*Stream, error) {
	protocol, format, err := protocolFromURL(url)
	if err != nil {
		return nil, err
	}

	mux, err := newMuxer(format, url, cfg)
	if err != nil {
		return nil, err
	}

	logging.For("sinks.stream").Info().
		Str("url", maskURL(url)).Str("protocol", protocol.String()).
		Bool("audio", cfg.HasAudio()).
		Msg("network stream started")

	return &Stream{mux: mux, url: url, protocol: protocol, fps: int(cfg.FPS())}, nil
}

// Fatal reports whether a prior write hit a connection-level error;
// once true the orchestrator should stop feeding this sink.
func (s *Stream) Fatal() bool { return s.fatal.Load() }

// WriteVideoPacket rescales and sends one video access unit. A fatal
// connection error is recorded on s and returned; the caller decides
// whether to keep the rest of the pipeline running.
func (s *Stream) WriteVideoPacket(pkt *types.EncodedVideoPacket) error {
	if s.fatal.Load() {
		return nerr.IO(errStreamClosed)
	}
	if err := s.mux.writeVideo(pkt, s.fps); err != nil {
		s.noteFailure(err)
		return err
	}
	return nil
}

// WriteAudioPacket rescales and sends one audio frame.
func (s *Stream) WriteAudioPacket(pkt *types.EncodedAudioPacket, sampleRate int) error {
	if s.fatal.Load() {
		return nerr.IO(errStreamClosed)
	}
	if err := s.mux.writeAudio(pkt, sampleRate); err != nil {
		s.noteFailure(err)
		return err
	}
	return nil
}

func (s *Stream) noteFailure(err error) {
	if isFatalStreamError(err) {
		s.fatal.Store(true)
		logging.For("sinks.stream").Warn().
			Str("url", maskURL(s.url)).Err(err).
			Msg("stream connection failed, sink stopping (pipeline continues)")
	}
}

// VideoPacketsSent returns the cumulative video packet count.
func (s *Stream) VideoPacketsSent() uint64 { return s.mux.videoPacketsWritten() }

// AudioPacketsSent returns the cumulative audio packet count.
func (s *Stream) AudioPacketsSent() uint64 { return s.mux.audioPacketsWritten() }

// Close writes the trailer and releases the output context. Idempotent.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.mux.close()
	logging.For("sinks.stream").Info().
		Str("url", maskURL(s.url)).Str("protocol", s.protocol.String()).
		Uint64("video_packets", s.mux.videoPacketsWritten()).
		Uint64("audio_packets", s.mux.audioPacketsWritten()).
		Msg("stream stopped")
	return err
}
