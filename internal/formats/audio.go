package formats

import (
	"encoding/binary"
	"math"
)

// S16LEToF32 converts interleaved little-endian S16 samples to f32 in
// [-1.0, +1.0], the capture layer's one-time native-to-f32 conversion.
func S16LEToF32(src []byte) []float32 {
	n := len(src) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(src[i*2 : i*2+2]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// F32ToS16LE converts f32 samples in [-1.0, +1.0] back to interleaved
// little-endian S16, saturating at the int16 range.
func F32ToS16LE(src []float32) []byte {
	out := make([]byte, len(src)*2)
	for i, f := range src {
		v := f * 32768.0
		var s int32
		switch {
		case v >= 32767:
			s = 32767
		case v <= -32768:
			s = -32768
		default:
			s = int32(v)
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(s)))
	}
	return out
}

// S32LEToF32 converts interleaved little-endian S32 samples to f32.
func S32LEToF32(src []byte) []float32 {
	n := len(src) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int32(binary.LittleEndian.Uint32(src[i*4 : i*4+4]))
		out[i] = float32(s) / 2147483648.0
	}
	return out
}

// F32LEToF32 reinterprets already-f32-LE bytes as float32 samples
// (host byte order is assumed little-endian, true of every Nitrogen
// target).
func F32LEToF32(src []byte) []float32 {
	n := len(src) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(src[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}
