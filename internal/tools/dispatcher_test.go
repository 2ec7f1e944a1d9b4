package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openswarm-dev/swarmgate/internal/parser"
)

// newTestDispatcher builds a dispatcher whose projects root contains one
// project directory named "p".
func newTestDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	projects := t.TempDir()
	root := filepath.Join(projects, "p")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	return NewDispatcher(projects), root
}

func call(name string, args ...string) parser.ToolCall {
	return parser.ToolCall{Name: name, Args: args}
}

func TestReadWriteRoundTrip(t *testing.T) {
	d, root := newTestDispatcher(t)
	ctx := context.Background()

	res := d.Dispatch(ctx, "p", call("write_file", "sub/dir/note.txt", "hello"))
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "5 bytes") {
		t.Errorf("write output = %q, want byte count", res.Output)
	}

	res = d.Dispatch(ctx, "p", call("read_file", "sub/dir/note.txt"))
	if !res.Success || res.Output != "hello" {
		t.Errorf("read = %+v, want hello", res)
	}
	if res.Size != 5 {
		t.Errorf("Size = %d, want 5", res.Size)
	}

	// Parent dirs were created under the project root.
	if _, err := os.Stat(filepath.Join(root, "sub", "dir")); err != nil {
		t.Error("parent directories not created")
	}
}

func TestAppendFileNewlineSeparator(t *testing.T) {
	d, root := newTestDispatcher(t)
	ctx := context.Background()

	os.WriteFile(filepath.Join(root, "log.txt"), []byte("first"), 0o644)
	res := d.Dispatch(ctx, "p", call("append_file", "log.txt", "second"))
	if !res.Success {
		t.Fatalf("append failed: %s", res.Error)
	}

	data, _ := os.ReadFile(filepath.Join(root, "log.txt"))
	if string(data) != "first\nsecond" {
		t.Errorf("content = %q, want newline separator inserted", data)
	}

	// Existing trailing newline: no extra separator.
	os.WriteFile(filepath.Join(root, "log2.txt"), []byte("first\n"), 0o644)
	d.Dispatch(ctx, "p", call("append_file", "log2.txt", "second"))
	data, _ = os.ReadFile(filepath.Join(root, "log2.txt"))
	if string(data) != "first\nsecond" {
		t.Errorf("content = %q, want no double newline", data)
	}
}

func TestListDirSortedDirsFirstNoDotfiles(t *testing.T) {
	d, root := newTestDispatcher(t)

	os.MkdirAll(filepath.Join(root, "zdir"), 0o755)
	os.MkdirAll(filepath.Join(root, "adir"), 0o755)
	os.WriteFile(filepath.Join(root, "bfile.txt"), nil, 0o644)
	os.WriteFile(filepath.Join(root, ".hidden"), nil, 0o644)

	res := d.Dispatch(context.Background(), "p", call("list_dir", "."))
	if !res.Success {
		t.Fatalf("list failed: %s", res.Error)
	}
	want := "adir/\nzdir/\nbfile.txt\n"
	if res.Output != want {
		t.Errorf("listing = %q, want %q", res.Output, want)
	}
}

func TestPathTraversalRejected(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	for _, p := range []string{
		"../../etc/passwd",
		"../other",
		"a/../../escape.txt",
		"/etc/passwd",
	} {
		res := d.Dispatch(ctx, "p", call("read_file", p))
		if res.Success {
			t.Errorf("read_file(%q) succeeded, want containment failure", p)
			continue
		}
		if res.Error != "path traversal not allowed" {
			t.Errorf("read_file(%q) error = %q, want path traversal not allowed", p, res.Error)
		}
	}
}

func TestAbsolutePathCoercedToProjectRelative(t *testing.T) {
	d, root := newTestDispatcher(t)
	ctx := context.Background()

	os.WriteFile(filepath.Join(root, "main.go"), []byte("package main"), 0o644)

	// Project-root-prefixed absolute path.
	res := d.Dispatch(ctx, "p", call("read_file", filepath.Join(root, "main.go")))
	if !res.Success {
		t.Errorf("project-root absolute path rejected: %s", res.Error)
	}

	// Shared /projects/ base prefix.
	res = d.Dispatch(ctx, "p", call("read_file", "/projects/p/main.go"))
	if !res.Success {
		t.Errorf("/projects/ base path rejected: %s", res.Error)
	}
}

func TestQuotedPathStripped(t *testing.T) {
	d, root := newTestDispatcher(t)
	os.WriteFile(filepath.Join(root, "q.txt"), []byte("x"), 0o644)

	res := d.Dispatch(context.Background(), "p", call("read_file", `"q.txt"`))
	if !res.Success || res.Output != "x" {
		t.Errorf("quoted path failed: %+v", res)
	}
}

func TestMissingProjectNotAccessible(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res := d.Dispatch(context.Background(), "nope", call("read_file", "x"))
	if res.Success || res.Error != "project path not accessible" {
		t.Errorf("res = %+v, want project path not accessible", res)
	}
}

func TestReportErrorResult(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res := d.Dispatch(context.Background(), "p", call("report_error", "blocked on dependency"))
	if !res.Success || !res.IsErrorReport {
		t.Errorf("res = %+v, want successful error-report", res)
	}
	if res.Output != "blocked on dependency" {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestSearchFiles(t *testing.T) {
	d, root := newTestDispatcher(t)
	ctx := context.Background()

	os.WriteFile(filepath.Join(root, "a.go"), []byte("package a\n// TODO fix\n"), 0o644)
	os.MkdirAll(filepath.Join(root, "sub"), 0o755)
	os.WriteFile(filepath.Join(root, "sub", "b.go"), []byte("// todo later\n"), 0o644)
	os.WriteFile(filepath.Join(root, "c.txt"), []byte("TODO ignored\n"), 0o644)

	res := d.Dispatch(ctx, "p", call("search_files", "*.go", "TODO"))
	if !res.Success {
		t.Fatalf("search failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "a.go") || !strings.Contains(res.Output, "b.go") {
		t.Errorf("case-insensitive glob search missed files:\n%s", res.Output)
	}
	if strings.Contains(res.Output, "c.txt") {
		t.Errorf("non-matching glob included:\n%s", res.Output)
	}
}

func TestSearchFilesNoMatches(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res := d.Dispatch(context.Background(), "p", call("search_files", "*.go", "absent"))
	if !res.Success || res.Output != "No matches found" {
		t.Errorf("res = %+v, want No matches found", res)
	}
}
