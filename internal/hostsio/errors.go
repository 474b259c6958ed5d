package hostsio

import "errors"

// Sentinel errors surfaced verbatim by the privilege broker (spec §4.1,
// §7). Callers should use errors.Is against these, not string matching.
var (
	// ErrPermissionDenied means the caller lacks OS privilege to modify the
	// hosts file.
	ErrPermissionDenied = errors.New("hostsio: permission denied")
	// ErrInvalidIP means a supplied IP address failed to parse.
	ErrInvalidIP = errors.New("hostsio: invalid ip address")
	// ErrInvalidDomain means a supplied domain failed validation.
	ErrInvalidDomain = errors.New("hostsio: invalid domain")
)
