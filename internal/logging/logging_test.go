package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "logs", "cli.log")
	logger, closer, err := Setup(Options{File: path, Quiet: true})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Printf("[sync] user=%s done", "u1")
	log.Printf("[reminders] via default logger")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"[sync] user=u1 done", "[reminders] via default logger"} {
		if !strings.Contains(string(b), want) {
			t.Errorf("log file missing %q:\n%s", want, b)
		}
	}
}

func TestSetupWithoutFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)

	logger, closer, err := Setup(Options{Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	logger.Printf("discarded")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
}
