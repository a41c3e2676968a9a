// Package storage manages the filesystem namespace shared by the extraction
// writer and the transcription reader. Each job gets its own directory so
// cleanup is a single recursive remove.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is a per-process view of the shared media namespace. When writer
// and reader run on different hosts, WriterPrefix/ReaderPrefix document the
// path translation between the two mounts of the same namespace.
type Workspace struct {
	Root         string
	WriterPrefix string
	ReaderPrefix string
}

func NewWorkspace(root, writerPrefix, readerPrefix string) *Workspace {
	return &Workspace{Root: root, WriterPrefix: writerPrefix, ReaderPrefix: readerPrefix}
}

// JobDir creates and returns the directory for a job's artifacts.
func (w *Workspace) JobDir(jobID string) (string, error) {
	dir := filepath.Join(w.Root, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir %s: %w", dir, err)
	}
	return dir, nil
}

// Translate rewrites a writer-side path into the reader's view of the same
// file. Identity when no prefixes are configured.
func (w *Workspace) Translate(path string) string {
	if w.WriterPrefix == "" || w.ReaderPrefix == "" {
		return path
	}
	if strings.HasPrefix(path, w.WriterPrefix) {
		return w.ReaderPrefix + strings.TrimPrefix(path, w.WriterPrefix)
	}
	return path
}

// RemoveJobDir deletes a job's directory and everything under it.
func (w *Workspace) RemoveJobDir(jobID string) error {
	return os.RemoveAll(filepath.Join(w.Root, "jobs", jobID))
}
