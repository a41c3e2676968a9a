package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WhisperCLI runs inference through a whisper.cpp style binary, one process
// per call. Processes are independent, so concurrent inference is safe.
type WhisperCLI struct {
	binaryPath string
	modelPath  string
	device     string
	language   string
}

// NewWhisperLoader builds a Loader that materializes WhisperCLI models. The
// model weights file for size s is expected at modelDir/ggml-<s>.bin.
func NewWhisperLoader(binaryPath, modelDir, language string) Loader {
	return func(key ModelKey) (Model, error) {
		if binaryPath == "" {
			binaryPath = "whisper"
		}
		if _, err := exec.LookPath(binaryPath); err != nil {
			return nil, fmt.Errorf("whisper binary %q not found: %w", binaryPath, err)
		}
		modelPath := filepath.Join(modelDir, fmt.Sprintf("ggml-%s.bin", key.Size))
		if _, err := os.Stat(modelPath); err != nil {
			return nil, fmt.Errorf("model weights %q: %w", modelPath, err)
		}
		return &WhisperCLI{
			binaryPath: binaryPath,
			modelPath:  modelPath,
			device:     key.Device,
			language:   language,
		}, nil
	}
}

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-nt", // no timestamps
	}
	if w.language != "" {
		args = append(args, "-l", w.language)
	}
	if w.device == "cpu" {
		args = append(args, "-ng") // disable GPU offload
	}

	cmd := exec.CommandContext(ctx, w.binaryPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if strings.Contains(strings.ToLower(msg), "out of memory") {
			return "", fmt.Errorf("%w: %s", ErrOutOfMemory, msg)
		}
		return "", fmt.Errorf("whisper failed: %w, stderr: %s", err, msg)
	}
	return strings.TrimSpace(out.String()), nil
}
