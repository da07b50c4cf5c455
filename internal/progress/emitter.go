package progress

import (
	"time"

	"github.com/google/uuid"

	"github.com/2php/iffse/internal/crawler"
)

// Reporter stamps events with a run id and timestamp before handing them to
// an Emitter. A nil Reporter or Emitter discards events.
type Reporter struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewReporter binds an emitter to a run.
func NewReporter(emitter Emitter, runID uuid.UUID, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{emitter: emitter, runID: UUIDToBytes(runID), now: now}
}

// RunID returns the run this reporter stamps.
func (r *Reporter) RunID() [16]byte {
	if r == nil {
		return [16]byte{}
	}
	return r.runID
}

// Emit stamps and forwards evt.
func (r *Reporter) Emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now().UTC()
	}
	r.emitter.Emit(evt)
}

// Topic emits a topic-scoped stage.
func (r *Reporter) Topic(stage Stage, topic string, attempt int, note string) {
	r.Emit(Event{Stage: stage, Topic: topic, Attempt: attempt, Note: note})
}

// Candidate emits the CANDIDATE_DONE event for a worker result.
func (r *Reporter) Candidate(res crawler.Result) {
	if r == nil {
		return
	}
	r.Emit(CandidateEvent(r.runID, r.now(), res))
}
