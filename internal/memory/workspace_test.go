package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	w, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return w
}

func TestMain_EmptyWhenMissing(t *testing.T) {
	w := newTestWorkspace(t)
	content, err := w.Main()
	if err != nil {
		t.Fatalf("Main: %v", err)
	}
	if content != "" {
		t.Fatalf("expected empty content, got %q", content)
	}
}

func TestSaveMain_RoundTrip(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.SaveMain("# Memory\n\n- remembers things\n"); err != nil {
		t.Fatalf("SaveMain: %v", err)
	}
	content, err := w.Main()
	if err != nil {
		t.Fatalf("Main: %v", err)
	}
	if !strings.Contains(content, "remembers things") {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestWrite_CreatesNestedDirs(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.Write("notes/2026/august.md", "late summer\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	content, err := w.Read("notes/2026/august.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "late summer\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestWrite_AtomicLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWorkspace(dir)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := w.Write("a.md", "x"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".mem-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestResolve_BlocksTraversal(t *testing.T) {
	w := newTestWorkspace(t)
	for _, path := range []string{"../escape.md", "a/../../b.md", "/etc/passwd", ""} {
		if _, err := w.Read(path); err == nil {
			t.Fatalf("expected error for path %q", path)
		}
		if err := w.Write(path, "x"); err == nil {
			t.Fatalf("expected write error for path %q", path)
		}
	}
}

func TestResolve_BlocksSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	w, err := NewWorkspace(dir)
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	if err := os.WriteFile(filepath.Join(outside, "secret.md"), []byte("secret"), 0o644); err != nil {
		t.Fatalf("write outside: %v", err)
	}
	// Symlink target resolves outside the root.
	if err := os.Symlink(outside, filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if _, err := w.Read("link/secret.md"); err == nil {
		t.Fatal("expected traversal error through symlink")
	}
}

func TestList_SkipsHiddenFiles(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.SaveMain("main"); err != nil {
		t.Fatalf("SaveMain: %v", err)
	}
	if err := w.Write("notes/idea.md", "idea"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(w.root, ".hidden"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write hidden: %v", err)
	}

	entries, err := w.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	for _, e := range entries {
		if strings.HasPrefix(filepath.Base(e.Path), ".") {
			t.Fatalf("hidden file listed: %s", e.Path)
		}
		if e.Size == 0 {
			t.Fatalf("entry %s has zero size", e.Path)
		}
	}
}

func TestSearch_FindsMatches(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.SaveMain("# Memory\nThe gateway restarts at midnight.\n"); err != nil {
		t.Fatalf("SaveMain: %v", err)
	}
	if err := w.Write("notes/ops.md", "Restart procedure:\n1. press the button\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	hits, err := w.Search("restart")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %+v", len(hits), hits)
	}
	for _, h := range hits {
		if h.Line == 0 {
			t.Fatalf("hit %s has zero line number", h.Path)
		}
	}
}

func TestSearch_EmptyQueryRejected(t *testing.T) {
	w := newTestWorkspace(t)
	if _, err := w.Search(""); err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestDelete_FileOnly(t *testing.T) {
	w := newTestWorkspace(t)
	if err := w.Write("notes/gone.md", "x"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Delete("notes/gone.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := w.Read("notes/gone.md"); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
	if err := w.Delete("notes"); err == nil {
		t.Fatal("expected error deleting a directory")
	}
}

func TestWrite_RejectsOversized(t *testing.T) {
	w := newTestWorkspace(t)
	big := strings.Repeat("a", maxFileBytes+1)
	if err := w.Write("big.md", big); err == nil {
		t.Fatal("expected error for oversized content")
	}
}
