package aggregator

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mediascribe/internal/logger"
	"mediascribe/internal/queue"
	"mediascribe/internal/types"
)

func quietLogger() *logger.Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &logger.Logger{Entry: logrus.NewEntry(base)}
}

type fakeInspector map[string]queue.Snapshot

func (f fakeInspector) Snapshot(id string) (queue.Snapshot, bool) {
	s, ok := f[id]
	return s, ok
}

func content(title string) *types.NormalizedContent {
	return &types.NormalizedContent{Platform: "douyin", Title: title}
}

func TestResolveUnknownJob(t *testing.T) {
	a := New(fakeInspector{}, fakeInspector{}, quietLogger())
	if _, err := a.Resolve("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}

func TestResolveExtractionInFlight(t *testing.T) {
	for _, state := range []queue.State{queue.StatePending, queue.StateRunning, queue.StateRetry} {
		ext := fakeInspector{"j1": {ID: "j1", State: state}}
		a := New(ext, fakeInspector{}, quietLogger())
		st, err := a.Resolve("j1")
		if err != nil {
			t.Fatal(err)
		}
		if st.Status != StatusRunning {
			t.Errorf("state %s resolved to %q, want running", state, st.Status)
		}
	}
}

func TestResolveExtractionJobFailure(t *testing.T) {
	ext := fakeInspector{"j1": {ID: "j1", State: queue.StateFailed, Err: "download media: cdn 502"}}
	a := New(ext, fakeInspector{}, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusFailed {
		t.Fatalf("got %q", st.Status)
	}
	if st.Error != "download media: cdn 502" {
		t.Errorf("error = %q", st.Error)
	}
	if st.ConsumedCredits != 0 {
		t.Errorf("a job that never dispatched work consumed %d credits", st.ConsumedCredits)
	}
}

func TestResolveExtractionSuccess(t *testing.T) {
	ext := fakeInspector{"j1": {
		ID:     "j1",
		State:  queue.StateCompleted,
		Result: types.StageOneSuccess(content("a note"), 10),
	}}
	a := New(ext, fakeInspector{}, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusCompleted {
		t.Fatalf("got %q (%s)", st.Status, st.Error)
	}
	if st.Data == nil || st.Data.Title != "a note" {
		t.Error("payload missing")
	}
	if st.ConsumedCredits != 10 {
		t.Errorf("consumed = %d, want 10", st.ConsumedCredits)
	}
}

func TestResolveExtractionRejected(t *testing.T) {
	ext := fakeInspector{"j1": {
		ID:     "j1",
		State:  queue.StateCompleted,
		Result: types.StageOneFailed("unsupported platform"),
	}}
	a := New(ext, fakeInspector{}, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusFailed || st.Error != "unsupported platform" {
		t.Fatalf("got %q / %q", st.Status, st.Error)
	}
}

func pendingExtraction() fakeInspector {
	return fakeInspector{"j1": {
		ID:     "j1",
		State:  queue.StateCompleted,
		Result: types.StageOnePending("t1", content("a talk"), 10),
	}}
}

func TestResolveTranscriptionInFlight(t *testing.T) {
	tr := fakeInspector{"t1": {ID: "t1", State: queue.StateRunning}}
	a := New(pendingExtraction(), tr, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusTranscribing {
		t.Fatalf("got %q, want transcribing", st.Status)
	}
}

func TestResolveTranscriptionSuccess(t *testing.T) {
	full := content("a talk")
	full.Transcript = "hello"
	tr := fakeInspector{"t1": {
		ID:     "t1",
		State:  queue.StateCompleted,
		Result: types.StageTwoSuccess(full, 20),
	}}
	a := New(pendingExtraction(), tr, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusCompleted {
		t.Fatalf("got %q (%s)", st.Status, st.Error)
	}
	if st.Data.Transcript != "hello" {
		t.Error("transcript missing from final payload")
	}
	if st.ConsumedCredits != 30 {
		t.Errorf("consumed = %d, want base 10 + realized 20", st.ConsumedCredits)
	}
}

func TestResolveTranscriptionJobFailureKeepsPartialMetadata(t *testing.T) {
	tr := fakeInspector{"t1": {ID: "t1", State: queue.StateFailed, Err: "transcribe audio: model crashed"}}
	a := New(pendingExtraction(), tr, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusFailed {
		t.Fatalf("got %q", st.Status)
	}
	if st.Data == nil || st.Data.Title != "a talk" {
		t.Error("partial metadata must survive a transcription failure")
	}
	if st.ConsumedCredits != 10 {
		t.Errorf("consumed = %d, want base cost only", st.ConsumedCredits)
	}
}

func TestResolveTranscriptionFailedResult(t *testing.T) {
	tr := fakeInspector{"t1": {
		ID:     "t1",
		State:  queue.StateCompleted,
		Result: types.StageTwoFailed("insufficient credits for real duration"),
	}}
	a := New(pendingExtraction(), tr, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusFailed || st.Error != "insufficient credits for real duration" {
		t.Fatalf("got %q / %q", st.Status, st.Error)
	}
	if st.ConsumedCredits != 10 {
		t.Errorf("consumed = %d, want base cost only", st.ConsumedCredits)
	}
}

func TestResolveUnknownStateNeverCompletes(t *testing.T) {
	ext := fakeInspector{"j1": {ID: "j1", State: queue.State("paused")}}
	a := New(ext, fakeInspector{}, quietLogger())
	st, _ := a.Resolve("j1")
	if st.Status != StatusFailed {
		t.Fatalf("unrecognized state resolved to %q", st.Status)
	}
}

func TestResolveSettlesTerminalAnswerOnce(t *testing.T) {
	ext := fakeInspector{"j1": {
		ID:     "j1",
		State:  queue.StateCompleted,
		Result: types.StageOneSuccess(content("a note"), 10),
	}}
	a := New(ext, fakeInspector{}, quietLogger())
	first, _ := a.Resolve("j1")

	// Even if the queue later forgets the job, the settled answer stands.
	delete(ext, "j1")
	second, err := a.Resolve("j1")
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("repeat poll changed the answer: %+v vs %+v", second, first)
	}
}

func TestSettledAnswersExpireAfterRetention(t *testing.T) {
	ext := fakeInspector{"j1": {
		ID:     "j1",
		State:  queue.StateCompleted,
		Result: types.StageOneSuccess(content("a note"), 10),
	}}
	a := New(ext, fakeInspector{}, quietLogger())

	clock := time.Now().UTC()
	a.now = func() time.Time { return clock }

	if st, _ := a.Resolve("j1"); st.Status != StatusCompleted {
		t.Fatalf("got %q", st.Status)
	}

	// The queue has swept the job; the pinned answer carries the poller
	// until its own retention runs out.
	delete(ext, "j1")
	clock = clock.Add(settledRetention - time.Minute)
	if _, err := a.Resolve("j1"); err != nil {
		t.Fatalf("poll within retention: %v", err)
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := a.Resolve("j1"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob after retention, got %v", err)
	}
}

func TestSettleDropsExpiredEntries(t *testing.T) {
	ext := fakeInspector{
		"j1": {ID: "j1", State: queue.StateCompleted, Result: types.StageOneSuccess(content("one"), 10)},
		"j2": {ID: "j2", State: queue.StateCompleted, Result: types.StageOneSuccess(content("two"), 10)},
	}
	a := New(ext, fakeInspector{}, quietLogger())

	clock := time.Now().UTC()
	a.now = func() time.Time { return clock }

	a.Resolve("j1")
	clock = clock.Add(settledRetention + time.Minute)
	a.Resolve("j2")

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.settled["j1"]; ok {
		t.Error("expired pinned answer was not dropped")
	}
	if _, ok := a.settled["j2"]; !ok {
		t.Error("fresh pinned answer is missing")
	}
}

func TestResolveInFlightIsNotSettled(t *testing.T) {
	ext := fakeInspector{"j1": {ID: "j1", State: queue.StateRunning}}
	a := New(ext, fakeInspector{}, quietLogger())
	if st, _ := a.Resolve("j1"); st.Status != StatusRunning {
		t.Fatal("expected running")
	}

	ext["j1"] = queue.Snapshot{ID: "j1", State: queue.StateCompleted, Result: types.StageOneSuccess(content("a note"), 10)}
	if st, _ := a.Resolve("j1"); st.Status != StatusCompleted {
		t.Errorf("poll after completion got %q", st.Status)
	}
}
