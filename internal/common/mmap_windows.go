//go:build windows
// +build windows

package common

import (
	"io"
	"os"
)

// MmapFile memory maps a file. Windows falls back to a full read since the
// scratch filesystem contract only requires zero-copy behavior on the
// platforms the scheduler actually runs its worker pool on in production.
// TODO: back this with golang.org/x/sys/windows.CreateFileMapping.
func MmapFile(f *os.File) ([]byte, error) {
	return io.ReadAll(f)
}

// MunmapFile unmaps the memory (no-op for the ReadAll fallback).
func MunmapFile(data []byte) error {
	return nil
}
