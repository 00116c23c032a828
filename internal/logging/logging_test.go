package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_QuietByDefault(t *testing.T) {
	logger, closeLog := New("", false)
	defer closeLog()
	if logger.Writer() != io.Discard {
		t.Errorf("writer = %T, want io.Discard", logger.Writer())
	}
	if logger.Prefix() != Prefix {
		t.Errorf("prefix = %q", logger.Prefix())
	}
}

func TestNew_VerboseUsesStderr(t *testing.T) {
	logger, closeLog := New("  ", true)
	defer closeLog()
	if logger.Writer() != os.Stderr {
		t.Errorf("writer = %T, want stderr", logger.Writer())
	}
}

func TestNew_FileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "secnews.log")
	for i := 0; i < 2; i++ {
		logger, closeLog := New(path, false)
		logger.Printf("refresh done: run=%d", i)
		if err := closeLog(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if strings.Count(out, Prefix) != 2 || !strings.Contains(out, "refresh done: run=1") {
		t.Errorf("unexpected log contents:\n%s", out)
	}
}

func TestNew_UnwritableFileFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	logger, closeLog := New(filepath.Join(blocker, "nested", "x.log"), false)
	defer closeLog()
	if logger.Writer() != os.Stderr {
		t.Errorf("writer = %T, want stderr fallback", logger.Writer())
	}
}
