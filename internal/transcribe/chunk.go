package transcribe

import (
	"math"
	"time"
)

const (
	// Bounds on the computed chunk length for long audio.
	minChunkDuration = 100 * time.Second
	maxChunkDuration = 180 * time.Second
	// Target chunk count the divisor steers toward.
	chunkDivisor = 40

	// Slices shorter than this are export noise, not speech.
	minSliceDuration = 100 * time.Millisecond

	minSingleTimeout = 5 * time.Minute
	minChunkTimeout  = 3 * time.Minute
	// Timeouts scale with the audio being transcribed.
	timeoutFactor = 2
)

// Chunk is one time-bounded slice of the source audio.
type Chunk struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
	Timeout  time.Duration
}

// Plan describes how one file will be transcribed: in a single call for
// short audio, or as an ordered set of chunks for long audio.
type Plan struct {
	Single  bool
	Timeout time.Duration // single-shot only
	Chunks  []Chunk
}

// PlanChunks decides the chunking for a file of the given total duration.
// Audio at or under shortThreshold is transcribed whole; longer audio is cut
// into ceil(total/chunkDuration) slices where chunkDuration is total/40
// clamped to [100s, 180s]. Trailing slivers under the noise floor are
// dropped.
func PlanChunks(total, shortThreshold time.Duration) Plan {
	if total <= shortThreshold {
		timeout := time.Duration(timeoutFactor) * total
		if timeout < minSingleTimeout {
			timeout = minSingleTimeout
		}
		return Plan{Single: true, Timeout: timeout}
	}

	chunkDur := total / chunkDivisor
	if chunkDur < minChunkDuration {
		chunkDur = minChunkDuration
	}
	if chunkDur > maxChunkDuration {
		chunkDur = maxChunkDuration
	}

	count := int(math.Ceil(float64(total) / float64(chunkDur)))
	chunkTimeout := time.Duration(timeoutFactor) * chunkDur
	if chunkTimeout < minChunkTimeout {
		chunkTimeout = minChunkTimeout
	}

	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := time.Duration(i) * chunkDur
		d := chunkDur
		if start+d > total {
			d = total - start
		}
		if d < minSliceDuration {
			continue
		}
		chunks = append(chunks, Chunk{
			Index:    len(chunks),
			Start:    start,
			Duration: d,
			Timeout:  chunkTimeout,
		})
	}
	return Plan{Chunks: chunks}
}

// PoolSize bounds the per-job worker pool: never more workers than chunks,
// the configured maximum, or the core-count ceiling.
func PoolSize(configuredMax, chunkCount, coreCeiling int) int {
	n := configuredMax
	if chunkCount < n {
		n = chunkCount
	}
	if coreCeiling < n {
		n = coreCeiling
	}
	if n < 1 {
		n = 1
	}
	return n
}
