//go:build linux

package sinks

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/ghostkellz/nitrogen/internal/config"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// Recorder writes encoded video (and optionally audio) packets to a
// container file, format inferred from the path's extension.
// write_header happens on open; the trailer is written on Close.
type Recorder struct {
	mux     *muxer
	path    string
	fps     int
	closed  atomic.Bool
}

// containerFormat maps a file extension to the libavformat short_name
// that writes it. mp4 is the default for anything unrecognized.
func containerFormat(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "mkv", "webm":
		return "matroska"
	default:
		return "mp4"
	}
}

// NewRecorder opens path and writes the container header immediately
// (spec: write_header must precede any packet).
func NewRecorder(path string, cfg config.CaptureConfig) (*Recorder, error) {
	format := containerFormat(path)
	mux, err := newMuxer(format, path, cfg)
	if err != nil {
		return nil, err
	}

	logging.For("sinks.recorder").Info().
		Str("path", path).Str("format", format).
		Bool("audio", cfg.HasAudio()).
		Msg("file recorder started")

	return &Recorder{mux: mux, path: path, fps: int(cfg.FPS())}, nil
}

// WriteVideoPacket rescales and writes one video access unit.
func (r *Recorder) WriteVideoPacket(pkt *types.EncodedVideoPacket) error {
	return r.mux.writeVideo(pkt, r.fps)
}

// WriteAudioPacket rescales and writes one audio frame.
func (r *Recorder) WriteAudioPacket(pkt *types.EncodedAudioPacket, sampleRate int) error {
	return r.mux.writeAudio(pkt, sampleRate)
}

// VideoPacketsWritten returns the cumulative video packet count.
func (r *Recorder) VideoPacketsWritten() uint64 { return r.mux.videoPacketsWritten() }

// AudioPacketsWritten returns the cumulative audio packet count.
func (r *Recorder) AudioPacketsWritten() uint64 { return r.mux.audioPacketsWritten() }

// Close writes the trailer and releases the output context. Idempotent.
func (r *Recorder) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.mux.close()
	logging.For("sinks.recorder").Info().
		Str("path", r.path).
		Uint64("video_packets", r.mux.videoPacketsWritten()).
		Uint64("audio_packets", r.mux.audioPacketsWritten()).
		Msg("file recording complete")
	return err
}
