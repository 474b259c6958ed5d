//go:build windows

package hostsio

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockExclusive acquires a blocking exclusive advisory lock on f's
// descriptor via LockFileEx. The lock is released when f is closed.
func lockExclusive(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK,
		0,
		1, 0,
		ol,
	)
}
