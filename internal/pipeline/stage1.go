// Package pipeline holds the two stage coordinators. Stage one extracts
// normalized metadata for a URL and, when a transcript is wanted, downloads
// the media and hands off to stage two. Stage two runs the transcription
// engine and settles the realized cost. Both run as queue handlers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediascribe/internal/admission"
	"mediascribe/internal/cache"
	"mediascribe/internal/ledger"
	"mediascribe/internal/logger"
	"mediascribe/internal/platform"
	"mediascribe/internal/storage"
	"mediascribe/internal/types"
)

// BaseCost is the flat charge applied when a transcription is dispatched.
// Metadata-only extractions consume nothing.
const BaseCost int64 = 10

// Dispatcher is the slice of the job queue the extraction stage uses to
// hand off transcription work.
type Dispatcher interface {
	Dispatch(payload any) (types.JobHandle, error)
}

// Downloader streams a media URL into a directory and returns the stored
// file path.
type Downloader interface {
	Fetch(ctx context.Context, url, dir string) (string, error)
}

// StageTwoPayload travels from the extraction job to the transcription job.
// The idempotency key is fixed at dispatch time so a redelivered
// transcription job can never charge the account twice.
type StageTwoPayload struct {
	AudioPath      string
	Metadata       *types.NormalizedContent
	NormalizedURL  string
	AccountID      string
	TraceID        string
	BaseCost       int64
	IdempotencyKey string
	JobDirID       string
}

// StageOneDeps wires an extraction coordinator.
type StageOneDeps struct {
	Cache        *cache.Cache
	Adapter      platform.Adapter
	Admission    *admission.Controller
	Ledger       ledger.Ledger
	Downloader   Downloader
	Workspace    *storage.Workspace
	StageTwo     Dispatcher
	FetchTimeout time.Duration
	Log          *logger.Logger
}

// flight is one in-progress extraction for a normalized URL. Concurrent
// duplicates wait on done and, when the leader produced a shareable result,
// return it instead of fetching again.
type flight struct {
	done   chan struct{}
	result types.StageOneResult
	shared bool
}

// StageOne coordinates one extraction job.
type StageOne struct {
	deps StageOneDeps

	mu       sync.Mutex
	inflight map[string]*flight
}

func NewStageOne(deps StageOneDeps) *StageOne {
	if deps.FetchTimeout <= 0 {
		deps.FetchTimeout = 2 * time.Minute
	}
	return &StageOne{deps: deps, inflight: make(map[string]*flight)}
}

// Run executes one extraction job. Deterministic rejections (bad URL,
// unsupported platform, admission denial) complete the job with a Failed
// result; infrastructure errors are returned so the queue redelivers the
// whole job. Duplicate submissions of one URL are collapsed twice over: the
// cache serves completed work for the TTL, and the in-flight table makes
// concurrent duplicates share a single adapter fetch and download.
func (s *StageOne) Run(ctx context.Context, payload any) (any, error) {
	req, ok := payload.(types.ExtractionRequest)
	if !ok {
		return nil, fmt.Errorf("extraction job: unexpected payload type %T", payload)
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}
	log := s.deps.Log.WithTrace(traceID).WithField("stage", "extract")

	raw := platform.CleanURL(req.SourceURL)
	if raw == "" {
		log.WithField("input", req.SourceURL).Warn("no url found in input")
		return types.StageOneFailed("no valid media url in input"), nil
	}
	key := platform.NormalizeURL(raw)

	var f *flight
	for {
		if content, credits, ok := s.deps.Cache.Get(key); ok {
			log.WithField("url", key).Info("cache hit, returning stored record")
			return types.StageOneSuccess(content, credits), nil
		}

		s.mu.Lock()
		prior, exists := s.inflight[key]
		if !exists {
			f = &flight{done: make(chan struct{})}
			s.inflight[key] = f
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()

		select {
		case <-prior.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if prior.shared {
			log.WithField("url", key).Info("joined in-flight extraction for the same url")
			return prior.result, nil
		}
		// The leader failed; take over from the cache check.
	}

	out, err := s.extract(ctx, req, raw, key, traceID, log)

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	if res, ok := out.(types.StageOneResult); ok && err == nil && res.Kind != types.KindFailed {
		f.result = res
		f.shared = true
	}
	close(f.done)

	return out, err
}

// extract does the actual work for the url's flight leader.
func (s *StageOne) extract(ctx context.Context, req types.ExtractionRequest, raw, key, traceID string, log *logrus.Entry) (any, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.deps.FetchTimeout)
	defer cancel()
	media, err := s.deps.Adapter.Fetch(fetchCtx, raw, req.WantComments)
	if err != nil {
		if errors.Is(err, platform.ErrUnsupportedPlatform) || errors.Is(err, platform.ErrNotFound) {
			log.WithField("url", raw).WithField("error", err.Error()).Warn("extraction rejected")
			return types.StageOneFailed(err.Error()), nil
		}
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	content := media.Content(raw)

	if !req.WantTranscript || media.MediaType != platform.MediaTypeVideo || media.DownloadURL == "" {
		// Metadata alone is free; only transcription consumes credits.
		s.deps.Cache.Put(key, content, 0)
		log.WithField("url", key).Info("extraction complete, no transcript needed")
		return types.StageOneSuccess(content, 0), nil
	}

	// Pre-flight on the platform's reported duration. Real duration is
	// re-checked by stage two after download.
	required := admission.EstimateCost(media.DurationSeconds)
	if _, err := s.deps.Admission.Check(ctx, req.AccountID, required); err != nil {
		return s.denyOrRetry(err, log)
	}

	jobDirID := uuid.New().String()
	dir, err := s.deps.Workspace.JobDir(jobDirID)
	if err != nil {
		return nil, err
	}
	audioPath, err := s.deps.Downloader.Fetch(ctx, media.DownloadURL, dir)
	if err != nil {
		_ = s.deps.Workspace.RemoveJobDir(jobDirID)
		return nil, fmt.Errorf("download media: %w", err)
	}

	if _, err := s.deps.Ledger.Charge(ctx, req.AccountID, BaseCost, "extract:"+traceID, "content extraction"); err != nil {
		_ = s.deps.Workspace.RemoveJobDir(jobDirID)
		if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrAccountNotFound) {
			return types.StageOneFailed(err.Error()), nil
		}
		return nil, fmt.Errorf("charge base cost: %w", err)
	}

	handle, err := s.deps.StageTwo.Dispatch(StageTwoPayload{
		AudioPath:      audioPath,
		Metadata:       content,
		NormalizedURL:  key,
		AccountID:      req.AccountID,
		TraceID:        traceID,
		BaseCost:       BaseCost,
		IdempotencyKey: uuid.New().String(),
		JobDirID:       jobDirID,
	})
	if err != nil {
		_ = s.deps.Workspace.RemoveJobDir(jobDirID)
		return nil, fmt.Errorf("dispatch transcription: %w", err)
	}
	log.WithField("stage_two_id", handle.JobID).Info("transcription dispatched")
	return types.StageOnePending(handle.JobID, content, BaseCost), nil
}

// denyOrRetry turns admission outcomes into job results: a denial or a
// missing account fails the job outright, anything else is retryable.
func (s *StageOne) denyOrRetry(err error, log *logrus.Entry) (any, error) {
	var denial *admission.DenialError
	if errors.As(err, &denial) {
		log.WithField("required", denial.Required).WithField("available", denial.Available).Warn("admission denied")
		return types.StageOneFailed(denial.Error()), nil
	}
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return types.StageOneFailed(err.Error()), nil
	}
	return nil, fmt.Errorf("admission check: %w", err)
}
