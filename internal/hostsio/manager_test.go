package hostsio

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/anyfast/anyfast-core/internal/model"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// Scenario A: empty hosts -> first binding.
func TestWriteBinding_EmptyFile(t *testing.T) {
	path := writeFile(t, "")
	m := NewAtPath(path)

	if err := m.Write("example.com", "1.2.3.4"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := MarkerBegin + "\n1.2.3.4\texample.com\t" + MarkerLine + "\n" + MarkerEnd
	if string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

// Scenario B: preserve user block, sorted managed bindings.
func TestWriteBatch_PreservesUserLinesAndSorts(t *testing.T) {
	content := "127.0.0.1\tlocalhost\n192.168.1.10\tmyprinter"
	path := writeFile(t, content)
	m := NewAtPath(path)

	err := m.WriteBatch([]model.PinnedBinding{
		{Domain: "b.test", IP: "2.2.2.2"},
		{Domain: "a.test", IP: "1.1.1.1"},
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	got, _ := os.ReadFile(path)
	s := string(got)
	if !strings.HasPrefix(s, content+"\n\n"+MarkerBegin) {
		t.Fatalf("expected pre-existing lines then blank line then block, got:\n%s", s)
	}
	aIdx := strings.Index(s, "a.test")
	bIdx := strings.Index(s, "b.test")
	if aIdx < 0 || bIdx < 0 || aIdx > bIdx {
		t.Fatalf("expected a.test before b.test, got:\n%s", s)
	}
	if !strings.HasSuffix(s, MarkerEnd) {
		t.Fatalf("expected block closed at end, got:\n%s", s)
	}
}

// Scenario C: unclosed-block recovery.
func TestUnclosedBlock_PreservesTrailingContent(t *testing.T) {
	content := "127.0.0.1\tlocalhost\n" + MarkerBegin + "\n1.2.3.4\ttest.com\t" + MarkerLine + "\n# note"
	path := writeFile(t, content)
	m := NewAtPath(path)

	ip, ok, err := m.Read("test.com")
	if err != nil || !ok || ip != "1.2.3.4" {
		t.Fatalf("Read before rewrite: ip=%q ok=%v err=%v", ip, ok, err)
	}

	if err := m.Write("new.test", "3.3.3.3"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, _ := os.ReadFile(path)
	s := string(got)
	if !strings.Contains(s, "# note") {
		t.Fatalf("expected user comment preserved, got:\n%s", s)
	}
	if !strings.Contains(s, "3.3.3.3\tnew.test") {
		t.Fatalf("expected new binding present, got:\n%s", s)
	}
	if !strings.Contains(s, "1.2.3.4\ttest.com") {
		t.Fatalf("expected original binding preserved, got:\n%s", s)
	}
	if strings.Count(s, MarkerBegin) != 1 || strings.Count(s, MarkerEnd) != 1 {
		t.Fatalf("expected exactly one properly closed block, got:\n%s", s)
	}
	noteIdx := strings.Index(s, "# note")
	endIdx := strings.Index(s, MarkerEnd)
	if noteIdx < endIdx {
		t.Fatalf("expected # note after the block close, got:\n%s", s)
	}
}

func TestReadBinding_LegacyLineFormat(t *testing.T) {
	content := "127.0.0.1\tlocalhost\n1.2.3.4\ttest.com\t" + MarkerLine
	path := writeFile(t, content)
	m := NewAtPath(path)

	ip, ok, err := m.Read("test.com")
	if err != nil || !ok || ip != "1.2.3.4" {
		t.Fatalf("ip=%q ok=%v err=%v", ip, ok, err)
	}
}

func TestReadBinding_NotFound(t *testing.T) {
	path := writeFile(t, "127.0.0.1\tlocalhost")
	m := NewAtPath(path)

	_, ok, err := m.Read("nowhere.test")
	if err != nil || ok {
		t.Fatalf("expected not-found, got ok=%v err=%v", ok, err)
	}
}

func TestWrite_RejectsInvalidInput(t *testing.T) {
	path := writeFile(t, "127.0.0.1\tlocalhost")
	m := NewAtPath(path)

	if err := m.Write("test.com", "not-an-ip"); err == nil {
		t.Fatalf("expected error for invalid ip")
	}
	if err := m.Write("bad domain", "1.2.3.4"); err == nil {
		t.Fatalf("expected error for invalid domain")
	}

	got, _ := os.ReadFile(path)
	if string(got) != "127.0.0.1\tlocalhost" {
		t.Fatalf("file must be untouched on validation failure, got:\n%s", got)
	}
}

func TestClearAllManaged(t *testing.T) {
	content := "127.0.0.1\tlocalhost\n" + MarkerBegin + "\n1.1.1.1\ta.test\t" + MarkerLine + "\n2.2.2.2\tb.test\t" + MarkerLine + "\n" + MarkerEnd
	path := writeFile(t, content)
	m := NewAtPath(path)

	removed, err := m.ClearAllManaged()
	if err != nil {
		t.Fatalf("ClearAllManaged: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	got, _ := os.ReadFile(path)
	if strings.Contains(string(got), MarkerBegin) {
		t.Fatalf("expected managed block gone, got:\n%s", got)
	}
	if !strings.Contains(string(got), "localhost") {
		t.Fatalf("expected non-managed line preserved, got:\n%s", got)
	}
}

// Invariant 2: idempotent rewrite.
func TestIdempotentRewrite(t *testing.T) {
	content := MarkerBegin + "\n1.1.1.1\ta.test\t" + MarkerLine + "\n2.2.2.2\tb.test\t" + MarkerLine + "\n" + MarkerEnd
	p1 := parse(content)
	r1 := p1.render()
	p2 := parse(r1)
	r2 := p2.render()
	if r1 != r2 {
		t.Fatalf("second render differs:\n%q\nvs\n%q", r1, r2)
	}
	if len(p1.bindings) != len(p2.bindings) {
		t.Fatalf("parsed models differ in size")
	}
}

func TestBOMStrippedOnRead(t *testing.T) {
	bom := []byte{0xEF, 0xBB, 0xBF}
	content := append(bom, []byte("127.0.0.1\tlocalhost\n1.2.3.4\ttest.com")...)
	path := filepath.Join(t.TempDir(), "hosts")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	m := NewAtPath(path)

	ip, ok, err := m.Read("test.com")
	if err != nil || !ok || ip != "1.2.3.4" {
		t.Fatalf("ip=%q ok=%v err=%v", ip, ok, err)
	}
}

func TestNoopWriteSkipsRewrite(t *testing.T) {
	content := MarkerBegin + "\n1.2.3.4\ttest.com\t" + MarkerLine + "\n" + MarkerEnd
	path := writeFile(t, content)
	m := NewAtPath(path)

	info1, _ := os.Stat(path)
	if err := m.Write("test.com", "1.2.3.4"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	info2, _ := os.Stat(path)
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatalf("expected no-op write to skip rewriting the file")
	}
}
