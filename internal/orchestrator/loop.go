package orchestrator

import (
	"time"

	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/transform"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// process implements the Running-state tick: receive the next video
// frame (or notice there isn't one), push it through the transform
// chain and every sink, then drain whatever audio has accumulated.
// Returns false once the loop should exit to the stop sequence.
func (p *Pipeline) process() bool {
	select {
	case <-p.stopCh:
		p.setState(types.StateStopping)
		return false
	default:
	}

	select {
	case frame, ok := <-p.videoFrames:
		if !ok {
			logging.For("orchestrator").Warn().Msg("video capture channel closed")
			p.setState(types.StateStopping)
			return false
		}
		p.handleVideoFrame(frame)
	case <-time.After(captureRecvTimeout):
		// No frame within the window; fall through to drain audio
		// and let the next tick retry. Not itself an error: the
		// compositor may simply be idle between screen updates.
	}

	p.drainAudio()
	return true
}

// handleVideoFrame runs one captured frame through tonemap, optional
// frame generation, encoding, the virtual camera and the telemetry
// overlay. Every frame FrameGenerator.Process hands back (including
// synthetic interpolated ones) is released here.
func (p *Pipeline) handleVideoFrame(frame *types.Frame) {
	captureStart := time.Now()
	defer frame.Release()

	if mem, ok := frame.Payload.(types.MemoryPayload); ok && frame.HDR.IsHDR() && p.tonemapper.ShouldTonemap(frame.HDR) {
		p.tonemapper.Tonemap(mem.Bytes, frame.Width, frame.Height, frame.HDR)
	}
	p.metrics.recordCapture(time.Since(captureStart))

	outputs := p.framegen.Process(frame)
	for _, out := range outputs {
		p.encodeAndPublish(out)
		out.Release()
	}
	p.metrics.recordFrameTime(time.Since(captureStart))
}

// encodeAndPublish encodes a single (possibly interpolated) frame and
// fans the result out to every sink that consumes video: the file
// recorder, network stream, WebRTC peer and virtual camera.
func (p *Pipeline) encodeAndPublish(frame *types.Frame) {
	encodeStart := time.Now()
	pkt, err := p.videoEnc.Encode(frame)
	p.metrics.recordEncode(time.Since(encodeStart))
	if err != nil {
		p.stats.FramesFailed.Add(1)
		logging.For("orchestrator").Warn().Err(err).Msg("video encode failed")
		return
	}

	outputStart := time.Now()
	if pkt != nil {
		p.metrics.recordBytesEncoded(len(pkt.Data))
		p.publishVideoPacket(pkt)
	}
	p.writeCameraFrame(frame)
	p.metrics.recordOutput(time.Since(outputStart))

	p.stats.FramesProcessed.Add(1)
}

func (p *Pipeline) publishVideoPacket(pkt *types.EncodedVideoPacket) {
	if p.recorder != nil {
		if err := p.recorder.WriteVideoPacket(pkt); err != nil {
			logging.For("orchestrator").Warn().Err(err).Msg("recorder video write failed")
		}
	}
	if p.stream != nil {
		if err := p.stream.WriteVideoPacket(pkt); err != nil {
			logging.For("orchestrator").Warn().Err(err).Msg("stream video write failed")
		}
	}
	if p.webrtc != nil {
		frameDur := time.Second / time.Duration(p.cfg.FPS())
		if err := p.webrtc.WriteVideoPacket(pkt, frameDur); err != nil {
			logging.For("orchestrator").Warn().Err(err).Msg("webrtc video write failed")
		}
	}
}

// writeCameraFrame converts frame to BGRA at the configured output
// resolution and writes it to the virtual camera, overlaying live
// telemetry first. Camera write failures are logged but non-fatal:
// spec treats the virtual camera as a best-effort sink, never one
// that should stall capture or recording.
func (p *Pipeline) writeCameraFrame(frame *types.Frame) {
	if p.camera == nil {
		return
	}
	mem, ok := frame.Payload.(types.MemoryPayload)
	if !ok {
		return
	}

	dstW, dstH := int(p.cfg.Width()), int(p.cfg.Height())
	scaled, err := p.ensureCamScaler(frame.Width, frame.Height, frame.Fourcc, dstW, dstH)
	if err != nil {
		logging.For("orchestrator").Warn().Err(err).Msg("camera scaler unavailable")
		return
	}

	dstStride := dstW * 4
	out := make([]byte, dstStride*dstH)
	if err := scaled.Rescale(mem.Bytes, frame.Stride, out, dstStride); err != nil {
		logging.For("orchestrator").Warn().Err(err).Msg("camera rescale failed")
		return
	}

	p.overlay.Render(out, dstW, dstH, p.metrics.snapshot(p.stats.FramesDropped.Load()))

	outFrame := types.NewFrame(dstW, dstH, formats.FourccBGRA8888, dstStride, frame.PTS, nil, types.MemoryPayload{Bytes: out}, func() {})
	defer outFrame.Release()
	if err := p.camera.WriteFrame(outFrame); err != nil {
		logging.For("orchestrator").Warn().Err(err).Msg("virtual camera write failed")
	}
}

// ensureCamScaler lazily builds the camera output scaler from the
// geometry of the first frame it sees. The scaler is not rebuilt
// afterwards: later calls return it unchanged whatever srcW, srcH and
// srcFourcc they pass.
func (p *Pipeline) ensureCamScaler(srcW, srcH int, srcFourcc uint32, dstW, dstH int) (*transform.Scaler, error) {
	if p.camScaler != nil {
		return p.camScaler, nil
	}
	scaler, err := transform.NewScaler(srcW, srcH, srcFourcc, dstW, dstH, formats.FourccBGRA8888)
	if err != nil {
		return nil, err
	}
	p.camScaler = scaler
	return scaler, nil
}

// drainAudio empties whatever mixed audio frames have queued up since
// the last tick, encoding and fanning each out. It never blocks: the
// mixer publishes on its own cadence independent of the video tick
// rate, so catching up a backlog here is normal, not an error.
func (p *Pipeline) drainAudio() {
	if p.audioOut == nil {
		return
	}
	for {
		select {
		case af, ok := <-p.audioOut:
			if !ok {
				return
			}
			p.encodeAndPublishAudio(af)
		default:
			return
		}
	}
}

func (p *Pipeline) encodeAndPublishAudio(af *types.AudioFrame) {
	pkts, err := p.audioEnc.Encode(af)
	if err != nil {
		p.stats.FramesFailed.Add(1)
		logging.For("orchestrator").Warn().Err(err).Msg("audio encode failed")
		return
	}
	for _, pkt := range pkts {
		p.metrics.recordBytesEncoded(len(pkt.Data))
		if p.recorder != nil {
			if err := p.recorder.WriteAudioPacket(pkt, af.SampleRate); err != nil {
				logging.For("orchestrator").Warn().Err(err).Msg("recorder audio write failed")
			}
		}
		if p.stream != nil {
			if err := p.stream.WriteAudioPacket(pkt, af.SampleRate); err != nil {
				logging.For("orchestrator").Warn().Err(err).Msg("stream audio write failed")
			}
		}
		if p.webrtc != nil {
			dur := time.Duration(af.SampleCount) * time.Second / time.Duration(af.SampleRate)
			if err := p.webrtc.WriteAudioPacket(pkt, dur); err != nil {
				logging.For("orchestrator").Warn().Err(err).Msg("webrtc audio write failed")
			}
		}
	}
}

// stopSequence tears down every component in the order spec'd for a
// clean shutdown: stop producers before consumers, flush encoders
// before closing their sinks, and always finish by releasing the
// portal session last so the compositor can reclaim the capture
// stream immediately.
func (p *Pipeline) stopSequence() {
	log := logging.For("orchestrator")

	if p.unsubVideo != nil {
		p.unsubVideo()
	}
	if p.unsubAudio != nil {
		p.unsubAudio()
	}

	if p.videoCap != nil {
		p.videoCap.Stop()
	}
	if p.audioCap != nil {
		p.audioCap.Stop()
	}
	if p.mix != nil {
		p.mix.Stop()
	}
	if p.mic != nil {
		p.mic.Stop()
	}

	if p.videoEnc != nil {
		for _, pkt := range p.videoEnc.Flush() {
			p.publishVideoPacket(pkt)
		}
		p.videoEnc.Close()
	}
	if p.audioEnc != nil {
		for _, pkt := range p.audioEnc.Flush() {
			if p.recorder != nil {
				_ = p.recorder.WriteAudioPacket(pkt, 0)
			}
			if p.stream != nil {
				_ = p.stream.WriteAudioPacket(pkt, 0)
			}
		}
		p.audioEnc.Close()
	}

	if p.recorder != nil {
		if err := p.recorder.Close(); err != nil {
			log.Warn().Err(err).Msg("recorder close failed")
		}
	}
	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			log.Warn().Err(err).Msg("stream close failed")
		}
	}
	if p.webrtc != nil {
		if err := p.webrtc.Close(); err != nil {
			log.Warn().Err(err).Msg("webrtc close failed")
		}
	}

	if p.camScaler != nil {
		p.camScaler.Close()
	}
	if p.camera != nil {
		p.camera.Stop()
	}

	if p.portal != nil {
		p.portal.StopSession()
		p.portal.Close()
	}

	log.Info().
		Uint64("handle", uint64(p.handle)).
		Uint64("frames_processed", p.stats.FramesProcessed.Load()).
		Uint64("frames_dropped", p.stats.FramesDropped.Load()).
		Uint64("frames_failed", p.stats.FramesFailed.Load()).
		Msg("pipeline stopped")

	p.setState(types.StateStopped)
}
