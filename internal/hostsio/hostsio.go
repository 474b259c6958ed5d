// Package hostsio maintains the "managed block" this system owns inside the
// operating system's hosts file: a single contiguous region bounded by
// sentinel comment lines, parsed, rendered, and rewritten atomically under
// an exclusive advisory file lock. Everything outside the block is
// preserved byte-for-exact content order across every write.
package hostsio

import (
	"net"
	"sort"
	"strings"
)

const (
	// MarkerBegin and MarkerEnd bracket the managed block.
	MarkerBegin = "# BEGIN anyFAST"
	MarkerEnd   = "# END anyFAST"
	// MarkerLine is the legacy per-line sentinel, parsed for back-compat but
	// never re-emitted: any file touched by a mutation is upgraded to the
	// block form.
	MarkerLine = "# anyFAST"
)

// parsedHosts is the in-memory model produced by parse and consumed by
// render. It is intentionally unexported: callers only ever see the
// Manager's binding-level operations.
type parsedHosts struct {
	before   []string
	after    []string
	bindings map[string]string // domain -> ip
}

// parse performs a single pass over decoded hosts-file content, classifying
// each line as described in spec §4.1.
func parse(content string) *parsedHosts {
	p := &parsedHosts{bindings: make(map[string]string)}

	var inBlock, foundBlock bool
	var unclosed []string

	lines := splitLines(content)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if trimmed == MarkerBegin {
			inBlock = true
			foundBlock = true
			continue
		}
		if trimmed == MarkerEnd {
			inBlock = false
			continue
		}

		if inBlock {
			if domain, ip, ok := parseBindingLine(trimmed); ok {
				p.bindings[domain] = ip
			}
			unclosed = append(unclosed, line)
			continue
		}

		if foundBlock {
			p.after = append(p.after, line)
			continue
		}

		if trimmed != "" && !strings.HasPrefix(trimmed, "#") && strings.Contains(trimmed, MarkerLine) {
			if domain, ip, ok := parseBindingLine(trimmed); ok {
				p.bindings[domain] = ip
				continue
			}
		}
		p.before = append(p.before, line)
	}

	// Unclosed-block recovery: preserve any in-block line that was not
	// parsed as a binding so a subsequent rewrite does not lose data.
	if inBlock && len(unclosed) > 0 {
		for _, line := range unclosed {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				p.after = append(p.after, line)
				continue
			}
			if _, _, ok := parseBindingLine(trimmed); !ok {
				p.after = append(p.after, line)
			}
		}
	}

	return p
}

// parseBindingLine parses a trimmed, non-empty, non-comment line of the form
// "<ip>\t<domain>..." into (domain, ip). Returns ok=false if the line does
// not have at least two whitespace-separated tokens or the first token is
// not a valid IP.
func parseBindingLine(trimmed string) (domain, ip string, ok bool) {
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	parts := strings.Fields(trimmed)
	if len(parts) < 2 {
		return "", "", false
	}
	if !isValidIP(parts[0]) {
		return "", "", false
	}
	return parts[1], parts[0], true
}

// render emits "before", the managed block (if non-empty), then "after",
// joined with "\n". Bindings are sorted ascending by domain for
// deterministic output.
func (p *parsedHosts) render() string {
	lines := append([]string(nil), p.before...)

	if len(p.bindings) > 0 {
		if len(lines) > 0 && lines[len(lines)-1] != "" {
			lines = append(lines, "")
		}
		lines = append(lines, MarkerBegin)

		domains := make([]string, 0, len(p.bindings))
		for d := range p.bindings {
			domains = append(domains, d)
		}
		sort.Strings(domains)

		for _, d := range domains {
			lines = append(lines, p.bindings[d]+"\t"+d+"\t"+MarkerLine)
		}
		lines = append(lines, MarkerEnd)
	}

	lines = append(lines, p.after...)
	return strings.Join(lines, "\n")
}

func isValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}
