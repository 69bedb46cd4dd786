package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupTeesToFile(t *testing.T) {
	dir := t.TempDir()
	console := &bytes.Buffer{}
	c, err := Setup(Options{Dir: dir, Console: console})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	log.Printf("epoch=%d loss=%.4f", 1, 0.5)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(console.String(), "epoch=1 loss=0.5000") {
		t.Fatalf("console output %q", console.String())
	}
	matches, err := filepath.Glob(filepath.Join(dir, "train-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one log file, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "epoch=1 loss=0.5000") {
		t.Fatalf("log file content %q", data)
	}
}
