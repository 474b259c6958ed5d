//go:build !windows

package hostsio

import "os/exec"

// flushDNS invokes the macOS DNS cache flush sequence (spec §6). On Linux
// there is no equivalent system utility to call; dscacheutil's absence is
// treated the same as any other flush failure (non-fatal).
func flushDNS() error {
	if err := exec.Command("/usr/bin/dscacheutil", "-flushcache").Run(); err != nil {
		return err
	}
	return exec.Command("/usr/bin/killall", "-HUP", "mDNSResponder").Run()
}
