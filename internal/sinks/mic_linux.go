//go:build linux

package sinks

/*
#cgo pkg-config: libpulse-simple
#include <pulse/simple.h>
#include <pulse/error.h>
#include <stdlib.h>

static pa_simple *nitrogen_pa_open(const char *name, const char *device, const char *stream_name,
                                    int rate, int channels, int *err) {
	pa_sample_spec ss;
	ss.format = PA_SAMPLE_FLOAT32LE;
	ss.rate = (uint32_t)rate;
	ss.channels = (uint8_t)channels;
	return pa_simple_new(NULL, name, PA_STREAM_PLAYBACK, device, stream_name, &ss, NULL, NULL, err);
}

static int nitrogen_pa_write(pa_simple *s, const void *data, size_t bytes, int *err) {
	return pa_simple_write(s, data, bytes, err);
}

static void nitrogen_pa_close(pa_simple *s) {
	if (s) pa_simple_free(s);
}
*/
import "C"

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ghostkellz/nitrogen/internal/logging"
	"github.com/ghostkellz/nitrogen/internal/nerr"
	"github.com/ghostkellz/nitrogen/internal/types"
)

// DefaultMicName is the PulseAudio stream/device name used when no
// override is configured, matching the reference implementation's
// virtual device label.
const DefaultMicName = "Nitrogen Audio"

// MicConfig describes the PulseAudio sink the virtual microphone
// writes into. In practice Device names a pre-provisioned
// null-sink (or its monitor) so other applications can select it as
// a microphone; provisioning that sink is out of scope here.
type MicConfig struct {
	Device     string
	Name       string
	SampleRate int
	Channels   int
}

// Mic publishes mixed audio to a PulseAudio sink via libpulse-simple.
// libpulse-simple has no process-callback/pull mechanism the way the
// PipeWire stream API does, so Mic instead runs its own ticker at the
// mixer's frame cadence and pushes: one non-blocking pull from the
// subscription per tick, or silence of the same byte length on miss.
type Mic struct {
	pa         *C.pa_simple
	sampleRate int
	channels   int
	frameBytes int

	src     <-chan *types.AudioFrame
	unsub   func()
	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup

	samplesWritten atomic.Uint64
}

// NewMic opens a libpulse-simple playback stream to cfg.Device and
// starts the push loop draining src (the mixer's output subscription).
func NewMic(cfg MicConfig, frameSamples int, src <-chan *types.AudioFrame, unsub func()) (*Mic, error) {
	name := cfg.Name
	if name == "" {
		name = DefaultMicName
	}

	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	cDevice := C.CString(cfg.Device)
	defer C.free(unsafe.Pointer(cDevice))
	cStreamName := C.CString("nitrogen-mic")
	defer C.free(unsafe.Pointer(cStreamName))

	var paErr C.int
	pa := C.nitrogen_pa_open(cName, cDevice, cStreamName, C.int(cfg.SampleRate), C.int(cfg.Channels), &paErr)
	if pa == nil {
		return nil, nerr.PipeWire("pa_simple_new failed: " + C.GoString(C.pa_strerror(paErr)))
	}

	m := &Mic{
		pa:         pa,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		frameBytes: frameSamples * cfg.Channels * 4,
		src:        src,
		unsub:      unsub,
		stop:       make(chan struct{}),
	}
	m.running.Store(true)

	logging.For("sinks.mic").Info().
		Str("device", cfg.Device).Str("name", name).
		Int("sample_rate", cfg.SampleRate).Int("channels", cfg.Channels).
		Msg("virtual microphone opened")

	m.wg.Add(1)
	go m.run(frameSamples)

	return m, nil
}

func (m *Mic) run(frameSamples int) {
	defer m.wg.Done()
	log := logging.For("sinks.mic")

	frameDuration := time.Duration(frameSamples) * time.Second / time.Duration(m.sampleRate)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	silence := make([]byte, m.frameBytes)

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			buf := silence
			n := frameSamples
			select {
			case frame, ok := <-m.src:
				if ok && frame != nil {
					buf = f32ToBytes(frame.Samples, m.frameBytes)
					n = frame.SampleCount
				}
			default:
			}

			var paErr C.int
			ret := C.nitrogen_pa_write(m.pa, unsafe.Pointer(&buf[0]), C.size_t(len(buf)), &paErr)
			if ret < 0 {
				log.Warn().Str("error", C.GoString(C.pa_strerror(paErr))).Msg("pa_simple_write failed")
				continue
			}
			m.samplesWritten.Add(uint64(n))
		}
	}
}

// f32ToBytes packs samples as little-endian float32 into a buffer of
// exactly size bytes, zero-padding any shortfall.
func f32ToBytes(samples []float32, size int) []byte {
	out := make([]byte, size)
	maxSamples := size / 4
	n := len(samples)
	if n > maxSamples {
		n = maxSamples
	}
	for i := 0; i < n; i++ {
		bits := math.Float32bits(samples[i])
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

// SamplesWritten returns the cumulative sample count written
// (silence included), for status reporting.
func (m *Mic) SamplesWritten() uint64 { return m.samplesWritten.Load() }

// IsRunning reports whether the push loop is still active.
func (m *Mic) IsRunning() bool { return m.running.Load() }

// Stop halts the push loop, releases the subscription, and frees the
// PulseAudio stream. Idempotent.
func (m *Mic) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	close(m.stop)
	m.wg.Wait()
	if m.unsub != nil {
		m.unsub()
	}
	C.nitrogen_pa_close(m.pa)
}
