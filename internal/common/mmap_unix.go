//go:build !windows

package common

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile memory-maps a file read-only for zero-copy access; the input
// read scanner and LoadBloomFilterMmap use it.
func MmapFile(f *os.File) ([]byte, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size == 0 {
		return []byte{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

// MunmapFile unmaps memory obtained from MmapFile.
func MunmapFile(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}
