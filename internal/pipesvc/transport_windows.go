//go:build windows

package pipesvc

import (
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	pipeAccessDuplex  = 0x00000003
	pipeTypeMessage   = 0x00000004
	pipeReadmodeByte  = 0x00000000
	pipeWait          = 0x00000000
	pipeRejectRemote  = 0x00000008
	pipeUnlimitedInst = 255

	pipeDefaultTimeoutMs = 5000
	errPipeBusy          = syscall.Errno(231)
)

var (
	kernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procWaitNamedPipe = kernel32.NewProc("WaitNamedPipeW")
)

// createPipeInstance creates one server-side instance of the named pipe and
// returns it wrapped as an *os.File: ReadFile/WriteFile on a pipe handle
// behave like ordinary file I/O, so the stdlib os.File plumbing works
// unmodified on top of it.
func createPipeInstance(name string) (*os.File, error) {
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	// PIPE_REJECT_REMOTE_CLIENTS restricts the pipe to local clients. The
	// instance uses the default security descriptor; no custom DACL is set.
	handle, err := windows.CreateNamedPipe(
		namep,
		pipeAccessDuplex,
		pipeTypeMessage|pipeReadmodeByte|pipeWait|pipeRejectRemote,
		pipeUnlimitedInst,
		uint32(MaxMessageBytes),
		uint32(MaxMessageBytes),
		pipeDefaultTimeoutMs,
		nil,
	)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(handle), name), nil
}

// connectPipeInstance blocks until a client connects to the given server
// instance.
func connectPipeInstance(f *os.File) error {
	return windows.ConnectNamedPipe(windows.Handle(f.Fd()), nil)
}

// dialPipe opens the client side of the named pipe, waiting on the named
// pipe's wait queue if every server instance is currently busy.
func dialPipe(name string) (*os.File, error) {
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	for {
		handle, err := windows.CreateFile(
			namep,
			windows.GENERIC_READ|windows.GENERIC_WRITE,
			0,
			nil,
			windows.OPEN_EXISTING,
			0,
			0,
		)
		if err == nil {
			return os.NewFile(uintptr(handle), name), nil
		}
		if err != errPipeBusy {
			return nil, err
		}
		if err := waitNamedPipe(namep, pipeDefaultTimeoutMs); err != nil {
			return nil, err
		}
	}
}

func waitNamedPipe(name *uint16, timeoutMs uint32) error {
	r, _, err := procWaitNamedPipe.Call(uintptr(unsafe.Pointer(name)), uintptr(timeoutMs))
	if r == 0 {
		return err
	}
	return nil
}
