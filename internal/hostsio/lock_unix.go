//go:build !windows

package hostsio

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive acquires a blocking exclusive advisory (flock) lock on f's
// descriptor. The lock is released when f is closed.
func lockExclusive(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX)
}
