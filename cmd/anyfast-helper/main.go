//go:build darwin

// Command anyfast-helper is the one-shot setuid child invoked by the
// broker's helper mechanism (spec §4.2 mechanism 2, §6 "Setuid helper argv
// contract"). It is installed setuid-root at a well-known path and must be
// invoked with exactly one subcommand and its arguments; it performs one
// hosts-file mutation and exits.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"github.com/anyfast/anyfast-core/internal/hostsio"
	"github.com/anyfast/anyfast-core/internal/model"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// The setuid bit only sets the effective UID; re-assert it explicitly
	// so a caller that stripped capabilities before exec cannot run this
	// binary unprivileged and silently no-op.
	if err := syscall.Setuid(0); err != nil {
		return fmt.Errorf("reassert root: %w", err)
	}

	if len(args) < 1 {
		return fmt.Errorf("usage: anyfast-helper <write|write-batch|clear|clear-batch|clear-all|flush-dns> [args...]")
	}

	mgr := hostsio.New()
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "write":
		if len(rest) != 2 {
			return fmt.Errorf("write: expected <domain> <ip>")
		}
		return mgr.Write(rest[0], rest[1])

	case "write-batch":
		if len(rest) != 1 {
			return fmt.Errorf("write-batch: expected <json>")
		}
		var pairs [][2]string
		if err := json.Unmarshal([]byte(rest[0]), &pairs); err != nil {
			return fmt.Errorf("write-batch: decode json: %w", err)
		}
		bindings := make([]model.PinnedBinding, len(pairs))
		for i, p := range pairs {
			bindings[i] = model.PinnedBinding{Domain: p[0], IP: p[1]}
		}
		return mgr.WriteBatch(bindings)

	case "clear":
		if len(rest) != 1 {
			return fmt.Errorf("clear: expected <domain>")
		}
		return mgr.Clear(rest[0])

	case "clear-batch":
		if len(rest) != 1 {
			return fmt.Errorf("clear-batch: expected <json>")
		}
		var domains []string
		if err := json.Unmarshal([]byte(rest[0]), &domains); err != nil {
			return fmt.Errorf("clear-batch: decode json: %w", err)
		}
		_, err := mgr.ClearBatch(domains)
		return err

	case "clear-all":
		_, err := mgr.ClearAllManaged()
		return err

	case "flush-dns":
		return mgr.FlushDNS()

	default:
		return fmt.Errorf("unknown subcommand %q", cmd)
	}
}
