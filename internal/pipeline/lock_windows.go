//go:build windows

package pipeline

import "os"

// lockFile is a no-op placeholder on Windows; robust cross-process
// locking there needs syscall.LockFileEx, which is out of scope here.
// TODO: back this with syscall.LockFileEx.
func lockFile(file *os.File) error {
	return nil
}

// unlockFile releases the lock taken by lockFile.
func unlockFile(file *os.File) error {
	return nil
}
