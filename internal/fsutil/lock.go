package fsutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is an exclusive, cross-process advisory lock backed by flock(2).
// It guards the registry file against corruption from concurrent writers
// (possibly in different ralphd/ralphctl processes on the same machine).
type FileLock struct {
	f *os.File
}

// Lock opens (creating if needed) the file at path and blocks until an
// exclusive flock is acquired. Callers that guard a file which gets replaced
// by rename (e.g. fsutil.WriteAtomic) must lock a separate, never-replaced
// sidecar path such as path+".lock" — flocking the data file itself only
// blocks other holders of the same inode, and a rename swaps the inode out
// from under them.
func Lock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fsutil: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("fsutil: flock: %w", err)
	}
	return &FileLock{f: f}, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	cerr := l.f.Close()
	if err != nil {
		return fmt.Errorf("fsutil: unlock: %w", err)
	}
	return cerr
}
