package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iago/feedback-insights/internal/config"
)

func TestReadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.json")
	payload := `[{"text":"Great service","channel":"email"},{"text":"Late delivery","timestamp":"2024-05-10"}]`
	if err := os.WriteFile(path, []byte(payload), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := readRecords(path)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	if len(records) != 2 || records[0].Channel != "email" || records[1].Timestamp != "2024-05-10" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	root := newRootCommand(config.Config{})
	var stderr bytes.Buffer
	root.SetErr(&stderr)
	root.SetOut(&stderr)
	root.SetArgs([]string{"status", "job-1"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected missing database error, got %v", err)
	}
}
