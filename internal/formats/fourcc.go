// Package formats holds DRM fourcc bookkeeping and the stride-safe
// row copy and sample-conversion helpers shared by capture, transform
// and encode.
package formats

// Fourcc values as defined by the Linux kernel DRM/KMS uAPI
// (drm_fourcc.h), little-endian byte order assumed throughout.
const (
	FourccXRGB8888 uint32 = 0x34325258 // 'XR24'
	FourccARGB8888 uint32 = 0x34325241 // 'AR24'
	FourccBGRA8888 uint32 = 0x34325842 // 'BX24' (Nitrogen's internal BGRA tag)
	FourccNV12     uint32 = 0x3231564e // 'NV12'
	FourccP010     uint32 = 0x30313050 // 'P010'
)

// BytesPerPixel returns the packed bytes-per-pixel for formats whose
// layout is meaningfully "pixel major" (the XRGB/ARGB/BGRA family).
// NV12/P010 are planar 4:2:0 formats and are not representable by a
// single bpp; callers must use PlaneSizes for those.
func BytesPerPixel(fourcc uint32) int {
	switch fourcc {
	case FourccXRGB8888, FourccARGB8888, FourccBGRA8888:
		return 4
	default:
		return 0
	}
}

// IsPlanarYUV reports whether fourcc is a planar 4:2:0 format
// (NV12/P010) rather than a packed RGB format.
func IsPlanarYUV(fourcc uint32) bool {
	return fourcc == FourccNV12 || fourcc == FourccP010
}

// PlaneSizes returns the byte size of the luma plane and the
// chroma plane for a 4:2:0 planar format at the given dimensions and
// stride, or (0, 0) if fourcc isn't planar YUV.
func PlaneSizes(fourcc uint32, width, height, stride int) (lumaSize, chromaSize int) {
	switch fourcc {
	case FourccNV12:
		return stride * height, stride * (height / 2)
	case FourccP010:
		return stride * height, stride * (height / 2)
	default:
		return 0, 0
	}
}

// Name returns a human-readable label for a fourcc, for logs.
func Name(fourcc uint32) string {
	switch fourcc {
	case FourccXRGB8888:
		return "XRGB8888"
	case FourccARGB8888:
		return "ARGB8888"
	case FourccBGRA8888:
		return "BGRA8888"
	case FourccNV12:
		return "NV12"
	case FourccP010:
		return "P010"
	default:
		return "unknown"
	}
}
