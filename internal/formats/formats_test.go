package formats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyRowsStrideSafe(t *testing.T) {
	const width, height, bpp = 4, 3, 4
	rowBytes := width * bpp
	srcStride := rowBytes + 16 // padded source
	dstStride := rowBytes + 8  // differently padded destination

	src := make([]byte, srcStride*height)
	for y := 0; y < height; y++ {
		for x := 0; x < rowBytes; x++ {
			src[y*srcStride+x] = byte((y*rowBytes + x) % 251)
		}
	}

	dst := make([]byte, dstStride*height)
	CopyRows(dst, dstStride, src, srcStride, rowBytes, height)

	for y := 0; y < height; y++ {
		srcRow := src[y*srcStride : y*srcStride+rowBytes]
		dstRow := dst[y*dstStride : y*dstStride+rowBytes]
		require.Equal(t, srcRow, dstRow, "row %d", y)
	}
}

func TestAudioNormalizationIdempotence(t *testing.T) {
	raw := []byte{0x00, 0x40, 0xFF, 0x7F, 0x00, 0x80, 0x34, 0x12}
	f32 := S16LEToF32(raw)
	back := F32ToS16LE(f32)
	assert.Equal(t, raw, back)
}

func TestBytesPerPixel(t *testing.T) {
	assert.Equal(t, 4, BytesPerPixel(FourccXRGB8888))
	assert.Equal(t, 0, BytesPerPixel(FourccNV12))
}
