// Package aggregator presents the two chained background jobs as one
// client-visible job. A poller only ever sees the extraction job's id; the
// aggregator follows the embedded transcription handle when there is one.
package aggregator

import (
	"errors"
	"sync"
	"time"

	"mediascribe/internal/logger"
	"mediascribe/internal/queue"
	"mediascribe/internal/types"
)

var ErrUnknownJob = errors.New("unknown job id")

// Client-visible statuses.
const (
	StatusRunning      = "running"
	StatusTranscribing = "transcribing"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

const internalErrorReason = "internal error, please resubmit"

// settledRetention matches the queues' own retention. Once the underlying
// jobs have been swept, the pinned answer has no reader left either.
const settledRetention = time.Hour

// JobStatus is the answer to one poll.
type JobStatus struct {
	JobID           string                   `json:"job_id"`
	Status          string                   `json:"status"`
	Data            *types.NormalizedContent `json:"data,omitempty"`
	Error           string                   `json:"error,omitempty"`
	ConsumedCredits int64                    `json:"consumed_credits"`
}

// Terminal reports whether polling can stop.
func (s JobStatus) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Inspector is the read side of a job queue.
type Inspector interface {
	Snapshot(id string) (queue.Snapshot, bool)
}

// Aggregator resolves poll requests. Reads are side-effect-free except that
// the first observation of a terminal status settles the consumed credits
// and pins the answer, so every later poll repeats it exactly.
type Aggregator struct {
	extraction    Inspector
	transcription Inspector
	log           *logger.Logger

	mu      sync.Mutex
	settled map[string]settledEntry
	now     func() time.Time
}

type settledEntry struct {
	status JobStatus
	at     time.Time
}

func New(extraction, transcription Inspector, log *logger.Logger) *Aggregator {
	return &Aggregator{
		extraction:    extraction,
		transcription: transcription,
		log:           log,
		settled:       make(map[string]settledEntry),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Resolve maps a client job id onto the current two-stage state.
func (a *Aggregator) Resolve(jobID string) (JobStatus, error) {
	a.mu.Lock()
	if e, ok := a.settled[jobID]; ok && a.now().Sub(e.at) < settledRetention {
		a.mu.Unlock()
		return e.status, nil
	}
	a.mu.Unlock()

	snap, ok := a.extraction.Snapshot(jobID)
	if !ok {
		return JobStatus{}, ErrUnknownJob
	}

	st := a.resolveExtraction(jobID, snap)
	if st.Terminal() {
		a.settle(jobID, st)
	}
	return st, nil
}

func (a *Aggregator) resolveExtraction(jobID string, snap queue.Snapshot) JobStatus {
	switch snap.State {
	case queue.StatePending, queue.StateRunning, queue.StateRetry:
		return JobStatus{JobID: jobID, Status: StatusRunning}
	case queue.StateFailed:
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: snap.Err}
	case queue.StateCompleted:
	default:
		// A state this code does not know is never reported as success.
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: internalErrorReason}
	}

	res, ok := snap.Result.(types.StageOneResult)
	if !ok {
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: internalErrorReason}
	}
	switch res.Kind {
	case types.KindSuccess:
		return JobStatus{JobID: jobID, Status: StatusCompleted, Data: res.Content, ConsumedCredits: res.ConsumedCredits}
	case types.KindFailed:
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: res.Reason}
	case types.KindPending:
		return a.resolveTranscription(jobID, res)
	default:
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: internalErrorReason}
	}
}

func (a *Aggregator) resolveTranscription(jobID string, first types.StageOneResult) JobStatus {
	snap, ok := a.transcription.Snapshot(first.StageTwoID)
	if !ok {
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: internalErrorReason, Data: first.PartialMetadata, ConsumedCredits: first.BaseCost}
	}

	switch snap.State {
	case queue.StatePending, queue.StateRunning, queue.StateRetry:
		return JobStatus{JobID: jobID, Status: StatusTranscribing}
	case queue.StateFailed:
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: snap.Err, Data: first.PartialMetadata, ConsumedCredits: first.BaseCost}
	case queue.StateCompleted:
	default:
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: internalErrorReason, Data: first.PartialMetadata, ConsumedCredits: first.BaseCost}
	}

	res, ok := snap.Result.(types.StageTwoResult)
	if !ok || res.Kind != types.KindSuccess {
		reason := res.Reason
		if reason == "" {
			reason = internalErrorReason
		}
		return JobStatus{JobID: jobID, Status: StatusFailed, Error: reason, Data: first.PartialMetadata, ConsumedCredits: first.BaseCost}
	}
	return JobStatus{
		JobID:           jobID,
		Status:          StatusCompleted,
		Data:            res.Content,
		ConsumedCredits: first.BaseCost + res.RealizedCost,
	}
}

// settle pins the first terminal answer for a job id and drops pinned
// answers whose retention has elapsed.
func (a *Aggregator) settle(jobID string, st JobStatus) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, e := range a.settled {
		if now.Sub(e.at) >= settledRetention {
			delete(a.settled, id)
		}
	}
	if _, ok := a.settled[jobID]; ok {
		return
	}
	a.settled[jobID] = settledEntry{status: st, at: now}
	a.log.WithField("job_id", jobID).WithField("status", st.Status).WithField("consumed_credits", st.ConsumedCredits).Info("job settled")
}
