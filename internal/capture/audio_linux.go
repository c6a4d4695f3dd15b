//go:build linux

package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/ghostkellz/nitrogen/internal/formats"
	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

const (
	audioBroadcastDepth = 16
	audioSampleRate     = 48000
	audioChannels       = 2
	audioFrameMs        = 20
	audioFrameSamples   = audioSampleRate * audioFrameMs / 1000 // per channel
)

// pcmCollector accumulates raw S16LE PCM pushed by PulseAudio's
// record callback; drain slices off whole frames for the capture
// worker to publish.
type pcmCollector struct {
	mu  sync.Mutex
	buf []byte
}

func (p *pcmCollector) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buf = append(p.buf, data...)
	return len(data), nil
}

func (p *pcmCollector) Format() byte { return proto.FormatInt16LE }

func (p *pcmCollector) drain(byteCount int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) < byteCount {
		return nil
	}
	out := make([]byte, byteCount)
	copy(out, p.buf[:byteCount])
	p.buf = p.buf[byteCount:]
	return out
}

// AudioStream captures desktop audio (the default sink's monitor) or
// the default microphone into one PCM stream, and fans out
// f32-normalized AudioFrames. AudioBoth records the desktop monitor
// only; the microphone is not captured in that mode.
type AudioStream struct {
	client *pulse.Client
	stream *pulse.RecordStream
	bcast  *broadcaster[*types.AudioFrame]

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
	epoch   time.Time
}

// NewAudioStream opens a PulseAudio record stream for source and
// starts the background worker that drains it into 20ms f32 frames.
func NewAudioStream(source types.AudioSource) (*AudioStream, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("nitrogen"))
	if err != nil {
		return nil, nerr.Wrap(nerr.KindPipeWire, err)
	}

	as := &AudioStream{
		client: client,
		bcast:  newBroadcaster[*types.AudioFrame](audioBroadcastDepth),
		stop:   make(chan struct{}),
		epoch:  time.Now(),
	}

	opts, err := recordOptions(client, source)
	if err != nil {
		client.Close()
		return nil, err
	}

	collector := &pcmCollector{}
	stream, err := client.NewRecord(collector, opts...)
	if err != nil {
		client.Close()
		return nil, nerr.Wrap(nerr.KindPipeWire, err)
	}
	as.stream = stream
	stream.Start()
	as.running.Store(true)

	as.wg.Add(1)
	go as.run(collector)

	return as, nil
}

// recordOptions builds the jfreymuth/pulse record options for the
// requested source: the default source (microphone) for Microphone,
// and the default sink's monitor for both Desktop and Both. Both
// therefore records the same desktop playback mix as Desktop; no
// microphone stream is opened for it.
func recordOptions(client *pulse.Client, source types.AudioSource) ([]pulse.RecordOption, error) {
	base := []pulse.RecordOption{
		pulse.RecordStereo,
		pulse.RecordSampleRate(audioSampleRate),
		pulse.RecordBufferFragmentSize(uint32(audioFrameSamples * audioChannels * 2)),
	}
	switch source {
	case types.AudioMicrophone:
		src, err := client.DefaultSource()
		if err != nil {
			return nil, nerr.Wrap(nerr.KindPipeWire, err)
		}
		return append([]pulse.RecordOption{pulse.RecordSource(src)}, base...), nil
	case types.AudioDesktop, types.AudioBoth:
		sink, err := client.DefaultSink()
		if err != nil {
			return nil, nerr.Wrap(nerr.KindPipeWire, err)
		}
		return append([]pulse.RecordOption{pulse.RecordMonitor(sink)}, base...), nil
	default:
		return nil, nerr.Unsupported("unknown audio source")
	}
}

func (as *AudioStream) run(collector *pcmCollector) {
	defer as.wg.Done()
	log := logging.For("capture.audio")

	frameBytes := audioFrameSamples * audioChannels * 2
	ticker := time.NewTicker(audioFrameMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-as.stop:
			return
		case <-ticker.C:
			raw := collector.drain(frameBytes)
			if raw == nil {
				continue
			}
			samples := formats.S16LEToF32(raw)
			frame := &types.AudioFrame{
				SampleRate:  audioSampleRate,
				Channels:    audioChannels,
				Samples:     samples,
				PTS:         time.Since(as.epoch).Nanoseconds(),
				SampleCount: audioFrameSamples,
			}
			as.bcast.publish(frame)
		}
	}
	_ = log
}

// Subscribe returns a non-blocking, bounded-buffer (16 slot) frame
// subscription and an unsubscribe func.
func (as *AudioStream) Subscribe() (<-chan *types.AudioFrame, func()) {
	return as.bcast.subscribe()
}

// IsRunning reports whether the capture worker is still draining
// PulseAudio.
func (as *AudioStream) IsRunning() bool {
	return as.running.Load()
}

// Stop halts the worker and releases the Pulse client. Idempotent.
func (as *AudioStream) Stop() {
	if !as.running.CompareAndSwap(true, false) {
		return
	}
	close(as.stop)
	as.wg.Wait()
	if as.stream != nil {
		as.stream.Stop()
	}
	as.client.Close()
	as.bcast.closeAll()
}
