package orchestrator

import (
	"sync"
	"time"

	"github.com/ghostkellz/nitrogen/internal/transform"
)

// maxLatencySamples bounds each rolling average to the most recent
// window of measurements, matching the reference implementation's
// performance tracker.
const maxLatencySamples = 120

// rollingAverage is a fixed-capacity ring buffer of durations.
type rollingAverage struct {
	mu      sync.Mutex
	samples []time.Duration
	cursor  int
	filled  bool
}

func newRollingAverage(capacity int) *rollingAverage {
	return &rollingAverage{samples: make([]time.Duration, capacity)}
}

func (r *rollingAverage) add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.cursor] = d
	r.cursor = (r.cursor + 1) % len(r.samples)
	if r.cursor == 0 {
		r.filled = true
	}
}

func (r *rollingAverage) averageMs() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.cursor
	if r.filled {
		n = len(r.samples)
	}
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += r.samples[i]
	}
	return total.Seconds() * 1000.0 / float64(n)
}

func (r *rollingAverage) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = 0
	r.filled = false
}

// performanceMetrics accumulates per-stage timing so the orchestrator
// can feed a live transform.LatencyStats snapshot to the overlay and
// to IPC Stats responses, without either consumer touching the
// rolling-average internals directly.
type performanceMetrics struct {
	captureLatency *rollingAverage
	encodeLatency  *rollingAverage
	outputLatency  *rollingAverage
	frameTimes     *rollingAverage

	bitrateMu       sync.Mutex
	bytesSinceCheck uint64
	lastBitrateTime time.Time
	lastBitrateKbps uint32

	startTime time.Time
}

func newPerformanceMetrics() *performanceMetrics {
	return &performanceMetrics{
		captureLatency:  newRollingAverage(maxLatencySamples),
		encodeLatency:   newRollingAverage(maxLatencySamples),
		outputLatency:   newRollingAverage(maxLatencySamples),
		frameTimes:      newRollingAverage(maxLatencySamples),
		lastBitrateTime: time.Now(),
		startTime:       time.Now(),
	}
}

func (m *performanceMetrics) recordCapture(d time.Duration) { m.captureLatency.add(d) }
func (m *performanceMetrics) recordEncode(d time.Duration)  { m.encodeLatency.add(d) }
func (m *performanceMetrics) recordOutput(d time.Duration)  { m.outputLatency.add(d) }
func (m *performanceMetrics) recordFrameTime(d time.Duration) { m.frameTimes.add(d) }

// recordBytesEncoded feeds the bitrate estimator, recalculated every
// 500ms to smooth over single-packet bursts.
func (m *performanceMetrics) recordBytesEncoded(n int) {
	m.bitrateMu.Lock()
	defer m.bitrateMu.Unlock()
	m.bytesSinceCheck += uint64(n)

	elapsed := time.Since(m.lastBitrateTime)
	if elapsed < 500*time.Millisecond {
		return
	}
	bits := float64(m.bytesSinceCheck) * 8
	m.lastBitrateKbps = uint32(bits / elapsed.Seconds() / 1000.0)
	m.bytesSinceCheck = 0
	m.lastBitrateTime = time.Now()
}

func (m *performanceMetrics) bitrateKbps() uint32 {
	m.bitrateMu.Lock()
	defer m.bitrateMu.Unlock()
	return m.lastBitrateKbps
}

// fps derives an instantaneous rate from the rolling mean frame
// interval rather than a counter/elapsed-time ratio, so it reacts to
// recent stalls instead of averaging over the whole session.
func (m *performanceMetrics) fps() float64 {
	avgMs := m.frameTimes.averageMs()
	if avgMs <= 0 {
		return 0
	}
	return 1000.0 / avgMs
}

// snapshot composes a transform.LatencyStats for the overlay and for
// IPC Stats responses; framesDropped is passed in because that
// counter lives on the pipeline's Stats, not the metrics tracker.
func (m *performanceMetrics) snapshot(framesDropped uint64) transform.LatencyStats {
	return transform.LatencyStats{
		CaptureLatencyMs: m.captureLatency.averageMs(),
		EncodeLatencyMs:  m.encodeLatency.averageMs(),
		OutputLatencyMs:  m.outputLatency.averageMs(),
		FPS:              m.fps(),
		BitrateKbps:      m.bitrateKbps(),
		FramesDropped:    framesDropped,
	}
}

func (m *performanceMetrics) elapsed() time.Duration {
	return time.Since(m.startTime)
}

func (m *performanceMetrics) reset() {
	m.captureLatency.clear()
	m.encodeLatency.clear()
	m.outputLatency.clear()
	m.frameTimes.clear()
	m.bitrateMu.Lock()
	m.bytesSinceCheck = 0
	m.lastBitrateKbps = 0
	m.lastBitrateTime = time.Now()
	m.bitrateMu.Unlock()
	m.startTime = time.Now()
}
