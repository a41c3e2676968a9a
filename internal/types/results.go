package types

// StageKind discriminates the stage result unions.
type StageKind string

const (
	KindSuccess StageKind = "success"
	KindPending StageKind = "pending"
	KindFailed  StageKind = "failed"
)

// StageOneResult is written exactly once by the worker that executes the
// extraction job. Exactly one of the variant fields is set, selected by Kind.
type StageOneResult struct {
	Kind StageKind `json:"kind"`

	// KindSuccess
	Content *NormalizedContent `json:"content,omitempty"`

	// KindPending: a transcription job is in flight.
	StageTwoID      string             `json:"stage_two_id,omitempty"`
	PartialMetadata *NormalizedContent `json:"partial_metadata,omitempty"`
	BaseCost        int64              `json:"base_cost,omitempty"`

	// KindFailed
	Reason string `json:"reason,omitempty"`

	// Credits consumed by stage one itself (success without transcription).
	ConsumedCredits int64 `json:"consumed_credits,omitempty"`
}

func StageOneSuccess(content *NormalizedContent, credits int64) StageOneResult {
	return StageOneResult{Kind: KindSuccess, Content: content, ConsumedCredits: credits}
}

func StageOnePending(stageTwoID string, partial *NormalizedContent, baseCost int64) StageOneResult {
	return StageOneResult{Kind: KindPending, StageTwoID: stageTwoID, PartialMetadata: partial, BaseCost: baseCost}
}

func StageOneFailed(reason string) StageOneResult {
	return StageOneResult{Kind: KindFailed, Reason: reason}
}

// StageTwoResult is written exactly once by the transcription worker.
type StageTwoResult struct {
	Kind         StageKind          `json:"kind"`
	Content      *NormalizedContent `json:"content,omitempty"`
	RealizedCost int64              `json:"realized_cost,omitempty"`
	Reason       string             `json:"reason,omitempty"`
}

func StageTwoSuccess(content *NormalizedContent, realizedCost int64) StageTwoResult {
	return StageTwoResult{Kind: KindSuccess, Content: content, RealizedCost: realizedCost}
}

func StageTwoFailed(reason string) StageTwoResult {
	return StageTwoResult{Kind: KindFailed, Reason: reason}
}
