package types

// SampleFormat is a native PCM sample encoding. The capture layer
// converts any of these to f32 exactly once, at capture time.
type SampleFormat int

const (
	SampleF32LE SampleFormat = iota
	SampleS16LE
	SampleS32LE
)

// AudioFrame is a block of interleaved f32 PCM, already normalized to
// [-1.0, +1.0] regardless of the source's native format.
type AudioFrame struct {
	SampleRate  int
	Channels    int
	Samples     []float32 // interleaved
	PTS         int64     // nanoseconds
	SampleCount int       // per channel
}

// DurationNs returns the frame's duration in nanoseconds.
func (a *AudioFrame) DurationNs() int64 {
	if a.SampleRate == 0 {
		return 0
	}
	return int64(a.SampleCount) * 1_000_000_000 / int64(a.SampleRate)
}

// AudioSource selects which device(s) an audio capture stream reads.
type AudioSource int

const (
	AudioDesktop AudioSource = iota
	AudioMicrophone
	AudioBoth
)
