package httpclient

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readAll(t *testing.T, source BodySource) string {
	t.Helper()
	rc, err := source.NewReader()
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(got)
}

func TestNewBodySource(t *testing.T) {
	t.Run("both body and body file", func(t *testing.T) {
		if _, err := NewBodySource("inline", "file.txt"); err == nil {
			t.Error("NewBodySource(both) error = nil, want error")
		}
	})

	t.Run("inline body", func(t *testing.T) {
		content := "hello world"
		source, err := NewBodySource(content, "")
		if err != nil {
			t.Fatalf("NewBodySource(inline) error = %v", err)
		}
		if length, ok := source.ContentLength(); !ok || length != int64(len(content)) {
			t.Errorf("ContentLength() = %d, %v; want %d, true", length, ok, len(content))
		}
		if got := readAll(t, source); got != content {
			t.Errorf("body = %q, want %q", got, content)
		}
		if got := readAll(t, source); got != content {
			t.Errorf("second read = %q, want %q", got, content)
		}
	})

	t.Run("small file is templated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "body.json")
		content := `{"id":"{{id}}"}`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		source, err := NewBodySource("", path)
		if err != nil {
			t.Fatalf("NewBodySource(file) error = %v", err)
		}
		tb, ok := source.(templatedBody)
		if !ok || tb.Template() != content {
			t.Fatalf("small file source is not templated: %T", source)
		}
		if got := readAll(t, source); got != content {
			t.Errorf("body = %q, want %q", got, content)
		}
	})

	t.Run("large file is streamed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.bin")
		content := strings.Repeat("x", maxTemplatedFileBytes+1)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		source, err := NewBodySource("", path)
		if err != nil {
			t.Fatalf("NewBodySource(file) error = %v", err)
		}
		if _, ok := source.(templatedBody); ok {
			t.Fatal("large file should not be templated")
		}
		if length, ok := source.ContentLength(); !ok || length != int64(len(content)) {
			t.Errorf("ContentLength() = %d, %v; want %d, true", length, ok, len(content))
		}
		if got := readAll(t, source); len(got) != len(content) {
			t.Errorf("read %d bytes, want %d", len(got), len(content))
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := NewBodySource("", "/nonexistent/file"); err == nil {
			t.Error("NewBodySource(missing file) error = nil, want error")
		}
	})

	t.Run("directory as file", func(t *testing.T) {
		if _, err := NewBodySource("", t.TempDir()); err == nil {
			t.Error("NewBodySource(directory) error = nil, want error")
		}
	})

	t.Run("empty source", func(t *testing.T) {
		source, err := NewBodySource("", "  ")
		if err != nil {
			t.Fatalf("NewBodySource(empty) error = %v", err)
		}
		if length, ok := source.ContentLength(); !ok || length != 0 {
			t.Errorf("ContentLength() = %d, %v; want 0, true", length, ok)
		}
		if got := readAll(t, source); got != "" {
			t.Errorf("body = %q, want empty", got)
		}
	})
}
