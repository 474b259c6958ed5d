//go:build !windows

package hostsio

// DefaultPath is the OS hosts file path (spec §6 OS paths).
const DefaultPath = "/etc/hosts"
