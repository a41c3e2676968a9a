package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJobDirCreateAndRemove(t *testing.T) {
	w := NewWorkspace(t.TempDir(), "", "")

	dir, err := w.JobDir("job-1")
	if err != nil {
		t.Fatalf("JobDir failed: %v", err)
	}
	if filepath.Base(dir) != "job-1" {
		t.Errorf("job dir %q not named after the job", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "audio.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := w.RemoveJobDir("job-1"); err != nil {
		t.Fatalf("RemoveJobDir failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("job dir survived removal")
	}
	// Removing an already-removed dir is not an error.
	if err := w.RemoveJobDir("job-1"); err != nil {
		t.Errorf("second removal errored: %v", err)
	}
}

func TestTranslate(t *testing.T) {
	cases := []struct {
		name                 string
		writer, reader, path string
		want                 string
	}{
		{"identity without prefixes", "", "", "/data/jobs/1/a.mp3", "/data/jobs/1/a.mp3"},
		{"prefix rewritten", "/mnt/writer", "/mnt/reader", "/mnt/writer/jobs/1/a.mp3", "/mnt/reader/jobs/1/a.mp3"},
		{"foreign path untouched", "/mnt/writer", "/mnt/reader", "/elsewhere/a.mp3", "/elsewhere/a.mp3"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := NewWorkspace("/data", tc.writer, tc.reader)
			if got := w.Translate(tc.path); got != tc.want {
				t.Errorf("Translate(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}
