package worker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSweepOrphansRemovesJobDirs(t *testing.T) {
	tempDir := t.TempDir()

	orphan := filepath.Join(tempDir, "job-abc123")
	if err := os.MkdirAll(orphan, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(orphan, "source.mp4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	// Unrelated entries must survive the sweep.
	keepDir := filepath.Join(tempDir, "other")
	if err := os.MkdirAll(keepDir, 0755); err != nil {
		t.Fatal(err)
	}
	keepFile := filepath.Join(tempDir, "job-notadir")
	if err := os.WriteFile(keepFile, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	w := New(nil, nil, 1, tempDir)
	w.sweepOrphans()

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("orphan dir still exists: %v", err)
	}
	if _, err := os.Stat(keepDir); err != nil {
		t.Errorf("unrelated dir removed: %v", err)
	}
	if _, err := os.Stat(keepFile); err != nil {
		t.Errorf("plain file removed: %v", err)
	}
}

func TestSweepOrphansEmptyDir(t *testing.T) {
	w := New(nil, nil, 1, t.TempDir())
	w.sweepOrphans() // must not panic or log spuriously
}
