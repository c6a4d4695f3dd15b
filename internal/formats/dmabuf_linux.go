//go:build linux

package formats

import (
	"fmt"
	"syscall"
)

// TryMapDmaBuf performs a private, read-only mmap of a borrowed
// DMA-BUF fd, copies size bytes out of it, and unmaps before
// returning. It never closes fd — ownership of the descriptor stays
// with the capture pool. Non-linear modifiers (tiled/compressed GPU
// layouts) generally can't be interpreted through a linear CPU
// mapping; callers are expected to treat a non-zero error here as
// "import via a GPU API instead", not a bug.
func TryMapDmaBuf(fd int, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("formats: TryMapDmaBuf: non-positive size %d", size)
	}
	mapping, err := syscall.Mmap(fd, 0, size, syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("formats: mmap dmabuf fd %d: %w", fd, err)
	}
	out := make([]byte, size)
	copy(out, mapping)
	if err := syscall.Munmap(mapping); err != nil {
		return nil, fmt.Errorf("formats: munmap dmabuf fd %d: %w", fd, err)
	}
	return out, nil
}
