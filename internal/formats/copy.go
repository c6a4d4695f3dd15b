package formats

// CopyRows copies a rectangular region row-by-row from src to dst,
// honoring independent strides: only the first rowBytes of each row
// are copied, so a destination stride greater than rowBytes (padding
// for alignment) is left untouched past the copied prefix. Both
// buffers must be at least stride*height long (srcStride for src,
// dstStride for dst).
func CopyRows(dst []byte, dstStride int, src []byte, srcStride int, rowBytes, height int) {
	for y := 0; y < height; y++ {
		so := y * srcStride
		do := y * dstStride
		copy(dst[do:do+rowBytes], src[so:so+rowBytes])
	}
}
