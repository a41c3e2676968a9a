package pipeline

import (
	"context"
	"fmt"
	"time"

	"mediascribe/internal/admission"
	"mediascribe/internal/cache"
	"mediascribe/internal/ledger"
	"mediascribe/internal/logger"
	"mediascribe/internal/storage"
	"mediascribe/internal/types"
)

// Transcriber is the slice of the transcription engine the coordinator uses.
type Transcriber interface {
	Probe(ctx context.Context, audioPath string) (time.Duration, error)
	Transcribe(ctx context.Context, audioPath string, total time.Duration, traceID string) (string, error)
}

// StageTwoDeps wires a transcription coordinator.
type StageTwoDeps struct {
	Engine    Transcriber
	Admission *admission.Controller
	Ledger    ledger.Ledger
	Cache     *cache.Cache
	Workspace *storage.Workspace
	Log       *logger.Logger
}

// StageTwo coordinates one transcription job. Any error fails the job;
// the aggregator then reports the base cost as the only consumed credits.
type StageTwo struct {
	deps StageTwoDeps
}

func NewStageTwo(deps StageTwoDeps) *StageTwo {
	return &StageTwo{deps: deps}
}

func (s *StageTwo) Run(ctx context.Context, payload any) (any, error) {
	p, ok := payload.(StageTwoPayload)
	if !ok {
		return nil, fmt.Errorf("transcription job: unexpected payload type %T", payload)
	}
	log := s.deps.Log.WithTrace(p.TraceID).WithField("stage", "transcribe")

	path := s.deps.Workspace.Translate(p.AudioPath)

	total, err := s.deps.Engine.Probe(ctx, path)
	if err != nil {
		s.discard(p.JobDirID)
		return nil, fmt.Errorf("probe audio duration: %w", err)
	}

	// Re-admission against the real duration. The base cost is already on
	// the books, so only the remainder needs cover.
	required := admission.EstimateCost(total.Seconds())
	realized := required - p.BaseCost
	if realized < 0 {
		realized = 0
	}
	if realized > 0 {
		if _, err := s.deps.Admission.Check(ctx, p.AccountID, realized); err != nil {
			s.discard(p.JobDirID)
			return nil, fmt.Errorf("re-admission for %.0fs of audio: %w", total.Seconds(), err)
		}
	}

	text, err := s.deps.Engine.Transcribe(ctx, path, total, p.TraceID)
	if err != nil {
		s.discard(p.JobDirID)
		return nil, fmt.Errorf("transcribe audio: %w", err)
	}

	// Copy so the Pending payload's partial metadata stays transcript-free.
	content := *p.Metadata
	content.Transcript = text
	content.Media.DurationSeconds = total.Seconds()

	if realized > 0 {
		if _, err := s.deps.Ledger.Charge(ctx, p.AccountID, realized, "transcribe:"+p.IdempotencyKey, "speech transcription"); err != nil {
			// The transcript exists and is returned; a failed commit is an
			// operational alert, not a job failure.
			log.WithField("account_id", p.AccountID).WithField("credits", realized).WithField("error", err.Error()).Error("realized cost commit failed")
		}
	}

	s.deps.Cache.Put(p.NormalizedURL, &content, p.BaseCost+realized)
	s.discard(p.JobDirID)
	log.WithField("credits", p.BaseCost+realized).WithField("duration_s", total.Seconds()).Info("transcription complete")
	return types.StageTwoSuccess(&content, realized), nil
}

// discard drops the job's workspace directory. The engine removes the files
// it touched; this catches the paths where the engine never ran.
func (s *StageTwo) discard(jobDirID string) {
	if jobDirID == "" {
		return
	}
	if err := s.deps.Workspace.RemoveJobDir(jobDirID); err != nil {
		s.deps.Log.WithField("job_dir", jobDirID).WithField("error", err.Error()).Warn("job dir cleanup failed")
	}
}
