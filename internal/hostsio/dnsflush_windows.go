//go:build windows

package hostsio

import (
	"os/exec"
	"syscall"
)

// flushDNS invokes the Windows DNS cache flush utility with no visible
// console window (spec §6).
func flushDNS() error {
	cmd := exec.Command(`C:\Windows\System32\ipconfig.exe`, "/flushdns")
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: 0x08000000} // CREATE_NO_WINDOW
	return cmd.Run()
}
