package orchestrator

import "github.com/ghostkellz/nitrogen/internal/types"

// Status is the IPC "Status" response payload (spec §6): a snapshot
// safe to marshal directly, with nil pointers standing in for the
// JSON `null`s the protocol uses when the pipeline isn't running.
type Status struct {
	Running       bool      `json:"running"`
	State         string    `json:"state"`
	Source        *string   `json:"source"`
	Resolution    *[2]int   `json:"resolution"`
	FPS           *uint32   `json:"fps"`
	CameraName    *string   `json:"camera_name"`
	PID           int       `json:"pid"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

// Stats is the IPC "Stats" response payload.
type Stats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	FramesDropped   uint64  `json:"frames_dropped"`
	FramesFailed    uint64  `json:"frames_failed"`
	ActualFPS       float64 `json:"actual_fps"`
	TargetFPS       uint32  `json:"target_fps"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	Resolution      [2]int  `json:"resolution"`
	Codec           string  `json:"codec"`
	BitrateKbps     uint32  `json:"bitrate"`
}

// Status builds the current IPC status snapshot. Safe to call from
// any goroutine; reads only atomics and the immutable config.
func (p *Pipeline) Status() Status {
	state := p.State()
	s := Status{
		Running: state == types.StateRunning || state == types.StateWaitingForStream || state == types.StateSelectingSource,
		State:   state.String(),
		PID:     p.pid,
	}
	if state.IsTerminal() && state != types.StateStopped {
		// Error is reported but not "running".
		s.Running = false
	}
	if !p.startedAt.IsZero() {
		s.UptimeSeconds = p.metrics.elapsed().Seconds()
	}
	if state == types.StateRunning {
		source := sourceLabel(p.cfg.Source)
		s.Source = &source
		res := [2]int{int(p.cfg.Width()), int(p.cfg.Height())}
		s.Resolution = &res
		fps := p.cfg.FPS()
		s.FPS = &fps
		name := p.cfg.CameraName
		if name == "" {
			name = "Nitrogen Camera"
		}
		s.CameraName = &name
	}
	return s
}

// Stats builds the current IPC stats snapshot.
func (p *Pipeline) Stats() Stats {
	dropped := p.stats.FramesDropped.Load()
	latency := p.metrics.snapshot(dropped)
	return Stats{
		FramesProcessed: p.stats.FramesProcessed.Load(),
		FramesDropped:   dropped,
		FramesFailed:    p.stats.FramesFailed.Load(),
		ActualFPS:       latency.FPS,
		TargetFPS:       p.cfg.FPS(),
		ElapsedSeconds:  p.metrics.elapsed().Seconds(),
		Resolution:      [2]int{int(p.cfg.Width()), int(p.cfg.Height())},
		Codec:           p.cfg.Codec.String(),
		BitrateKbps:     p.cfg.EffectiveBitrateKbps(),
	}
}

func sourceLabel(s types.CaptureSource) string {
	kind := "monitor"
	if s.Kind == types.SourceWindow {
		kind = "window"
	}
	return kind + ":" + s.ID
}
