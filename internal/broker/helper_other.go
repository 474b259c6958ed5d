//go:build !darwin

package broker

import "fmt"

// NewHelperRunner reports that no setuid-helper mechanism exists on this
// platform; Broker falls back to the service (if any) and direct channels.
func NewHelperRunner() HelperRunner {
	return nil
}

// installHelper: the setuid-helper mechanism only exists on darwin.
func installHelper() error {
	return fmt.Errorf("install helper: no setuid-helper mechanism on this platform")
}
