package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { _ = Init(Config{}) })

	Named("expert").Info("polled", "votes", 5)

	out := buf.String()
	if !strings.Contains(out, "component=expert") {
		t.Fatalf("component attribute missing: %q", out)
	}
	if !strings.Contains(out, "votes=5") {
		t.Fatalf("votes attribute missing: %q", out)
	}
}

func TestRollingFileShiftsBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	rf, err := newRollingFile(path, 1, 2, 1)
	if err != nil {
		t.Fatalf("new rolling file: %v", err)
	}
	rf.maxBytes = 16
	t.Cleanup(func() { _ = rf.Close() })

	for i := 0; i < 3; i++ {
		if _, err := rf.Write([]byte("0123456789\n")); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup: %v", err)
	}
}
