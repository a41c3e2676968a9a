// Package transcribe turns a downloaded audio file into text: it loads and
// caches speech models, splits long audio into chunks, runs the chunks on a
// bounded worker pool, and reassembles the ordered transcript.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mediascribe/internal/logger"
)

var ErrAllChunksFailed = errors.New("transcription failed for every chunk")

// EngineConfig tunes one engine instance.
type EngineConfig struct {
	Model             ModelKey
	MaxParallelChunks int
	ShortThreshold    time.Duration
	CoreCeiling       int
	// Set when the inference runtime is not safe for concurrent calls;
	// chunk inference is then serialized behind a mutex.
	SerializeInference bool
}

func (c *EngineConfig) fill() {
	if c.MaxParallelChunks <= 0 {
		c.MaxParallelChunks = 4
	}
	if c.ShortThreshold <= 0 {
		c.ShortThreshold = 5 * time.Minute
	}
	if c.CoreCeiling <= 0 {
		c.CoreCeiling = 2
	}
}

type Engine struct {
	registry *Registry
	splitter Splitter
	cfg      EngineConfig
	log      *logger.Logger
	inferMu  sync.Mutex

	fallbackOnce sync.Once
	fallback     Model
	fallbackErr  error
}

func NewEngine(registry *Registry, splitter Splitter, cfg EngineConfig, log *logger.Logger) *Engine {
	cfg.fill()
	return &Engine{registry: registry, splitter: splitter, cfg: cfg, log: log}
}

// Probe returns the real duration of the downloaded audio, used for
// re-admission before any compute is spent.
func (e *Engine) Probe(ctx context.Context, audioPath string) (time.Duration, error) {
	return e.splitter.Probe(ctx, audioPath)
}

// Transcribe converts audioPath into text. The source file, every exported
// chunk, and their directories are removed on all exit paths. A single
// chunk's failure yields an empty slot; the call errors only when every
// chunk fails.
func (e *Engine) Transcribe(ctx context.Context, audioPath string, total time.Duration, traceID string) (text string, err error) {
	log := e.log.WithTrace(traceID).WithField("audio", filepath.Base(audioPath))

	var chunkDir string
	defer func() {
		e.cleanup(audioPath, chunkDir, log)
	}()

	model, err := e.registry.Get(e.cfg.Model)
	if err != nil {
		return "", err
	}

	plan := PlanChunks(total, e.cfg.ShortThreshold)

	if plan.Single {
		log.WithField("duration_s", total.Seconds()).Info("short audio, transcribing whole file")
		callCtx, cancel := context.WithTimeout(ctx, plan.Timeout)
		defer cancel()
		text, err = e.infer(callCtx, model, audioPath)
		if err != nil {
			return "", fmt.Errorf("transcribe audio: %w", err)
		}
		return text, nil
	}

	chunkDir = filepath.Join(filepath.Dir(audioPath), fmt.Sprintf("chunks_%d", time.Now().UnixNano()))
	if err := os.MkdirAll(chunkDir, 0o755); err != nil {
		return "", fmt.Errorf("create chunk dir: %w", err)
	}

	log.WithField("duration_s", total.Seconds()).WithField("chunks", len(plan.Chunks)).Info("splitting audio for parallel transcription")

	paths := make([]string, len(plan.Chunks))
	exported := make([]bool, len(plan.Chunks))
	for i, c := range plan.Chunks {
		dst := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d.mp3", c.Index))
		if err := e.splitter.Export(ctx, audioPath, dst, c.Start, c.Duration); err != nil {
			log.WithField("chunk", c.Index).WithField("error", err.Error()).Error("chunk export failed")
			continue
		}
		paths[i] = dst
		exported[i] = true
	}

	workers := PoolSize(e.cfg.MaxParallelChunks, len(plan.Chunks), e.cfg.CoreCeiling)
	log.WithField("workers", workers).Info("transcribing chunks")

	// Results land in their chunk's slot; completion order never matters.
	results := make([]string, len(plan.Chunks))
	failed := make([]bool, len(plan.Chunks))

	jobs := make(chan int, len(plan.Chunks))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				c := plan.Chunks[i]
				if !exported[i] {
					failed[i] = true
					continue
				}
				chunkCtx, cancel := context.WithTimeout(ctx, c.Timeout)
				out, cerr := e.infer(chunkCtx, model, paths[i])
				cancel()
				if cerr != nil {
					// A bad chunk never aborts the job.
					log.WithField("chunk", c.Index).WithField("error", cerr.Error()).Error("chunk transcription failed")
					failed[i] = true
					continue
				}
				results[i] = strings.TrimSpace(out)
			}
		}()
	}
	for i := range plan.Chunks {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	allFailed := true
	for i := range failed {
		if !failed[i] {
			allFailed = false
			break
		}
	}
	if allFailed {
		return "", ErrAllChunksFailed
	}

	var parts []string
	for _, r := range results {
		if r != "" {
			parts = append(parts, r)
		}
	}
	log.Info("all chunks processed, reassembling transcript")
	return strings.Join(parts, "\n"), nil
}

func (e *Engine) infer(ctx context.Context, model Model, path string) (string, error) {
	if e.cfg.SerializeInference {
		e.inferMu.Lock()
		defer e.inferMu.Unlock()
	}
	out, err := model.Transcribe(ctx, path)
	if err == nil || !errors.Is(err, ErrOutOfMemory) || e.cfg.Model.Device == "cpu" {
		return out, err
	}

	// The device ran out of memory mid-inference. Swap the registry over to
	// the CPU model once and redo this call; the rest of the job then picks
	// up the aliased model through the same path.
	e.fallbackOnce.Do(func() {
		e.fallback, e.fallbackErr = e.registry.Fallback(e.cfg.Model)
		if e.fallbackErr == nil {
			e.log.WithField("model", e.cfg.Model.String()).Warn("device out of memory, falling back to cpu inference")
		}
	})
	if e.fallbackErr != nil {
		return "", err
	}
	return e.fallback.Transcribe(ctx, path)
}

// cleanup removes the chunk workspace and the source file. The source is
// only removed separately when it does not live inside the chunk dir, so
// nothing is deleted twice.
func (e *Engine) cleanup(audioPath, chunkDir string, log *logrus.Entry) {
	if chunkDir != "" {
		if err := os.RemoveAll(chunkDir); err != nil {
			log.WithField("dir", chunkDir).WithField("error", err.Error()).Warn("chunk dir cleanup failed")
		}
	}
	if chunkDir == "" || !strings.HasPrefix(audioPath, chunkDir+string(filepath.Separator)) {
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			log.WithField("file", audioPath).WithField("error", err.Error()).Warn("source audio cleanup failed")
		}
	}
	// Drop the parent dir too when the job leaves it empty.
	parent := filepath.Dir(audioPath)
	if entries, err := os.ReadDir(parent); err == nil && len(entries) == 0 {
		_ = os.Remove(parent)
	}
}
