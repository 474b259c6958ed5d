//go:build darwin

package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/anyfast/anyfast-core/internal/model"
)

// helperPath is the well-known install location for the setuid helper
// (spec §4.2 mechanism 2). install_macos_helper copies the bundled binary
// here and sets the setuid bit.
const helperPath = "/Library/PrivilegedHelperTools/com.anyfast.helper"

const helperTimeout = 10 * time.Second

// setuidHelper invokes the one-shot setuid helper binary per its argv
// contract (spec §6 "Setuid helper argv contract").
type setuidHelper struct {
	path string
}

// NewHelperRunner builds the darwin HelperRunner, pointed at the
// well-known install path.
func NewHelperRunner() HelperRunner {
	return &setuidHelper{path: helperPath}
}

// Available reports whether the helper binary exists and carries the
// setuid bit; a helper missing the bit cannot actually elevate, so it is
// treated as unavailable.
func (h *setuidHelper) Available() bool {
	info, err := os.Stat(h.path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSetuid != 0
}

func (h *setuidHelper) run(args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), helperTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, h.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return fmt.Errorf("helper %s: %s", args[0], reason)
	}
	return nil
}

func (h *setuidHelper) WriteBinding(domain, ip string) error {
	return h.run("write", domain, ip)
}

func (h *setuidHelper) WriteBindingsBatch(bindings []model.PinnedBinding) error {
	pairs := make([][2]string, len(bindings))
	for i, b := range bindings {
		pairs[i] = [2]string{b.Domain, b.IP}
	}
	payload, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("helper: marshal write-batch: %w", err)
	}
	return h.run("write-batch", string(payload))
}

func (h *setuidHelper) ClearBinding(domain string) error {
	return h.run("clear", domain)
}

func (h *setuidHelper) ClearBindingsBatch(domains []string) error {
	payload, err := json.Marshal(domains)
	if err != nil {
		return fmt.Errorf("helper: marshal clear-batch: %w", err)
	}
	return h.run("clear-batch", string(payload))
}

func (h *setuidHelper) FlushDNS() error {
	return h.run("flush-dns")
}

// installHelper copies the helper binary bundled alongside the running
// executable to helperPath and sets the setuid bit (spec §6
// "install_macos_helper"). The caller must already hold the privilege to
// chown/chmod the destination — this is a one-shot admin-triggered action,
// not part of the request-time fallback chain.
func installHelper() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("install helper: locate running executable: %w", err)
	}
	bundled := filepath.Join(filepath.Dir(self), "anyfast-helper")

	data, err := os.ReadFile(bundled)
	if err != nil {
		return fmt.Errorf("install helper: read bundled binary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(helperPath), 0o755); err != nil {
		return fmt.Errorf("install helper: create install dir: %w", err)
	}
	if err := os.WriteFile(helperPath, data, 0o755); err != nil {
		return fmt.Errorf("install helper: write %s: %w", helperPath, err)
	}
	if err := os.Chown(helperPath, 0, 0); err != nil {
		return fmt.Errorf("install helper: chown root:root: %w", err)
	}
	if err := os.Chmod(helperPath, 0o4755); err != nil {
		return fmt.Errorf("install helper: set setuid bit: %w", err)
	}
	return nil
}
