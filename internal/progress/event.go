// Package progress defines the events emitted by the orchestrator and workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2php/iffse/internal/crawler"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunError       Stage = "RUN_ERROR"
	StageTopicSeeded    Stage = "TOPIC_SEEDED"
	StagePageFetched    Stage = "PAGE_FETCHED"
	StageRateLimited    Stage = "RATE_LIMITED"
	StageReseeded       Stage = "RESEEDED"
	StageTopicExhausted Stage = "TOPIC_EXHAUSTED"
	StageTopicFatal     Stage = "TOPIC_FATAL"
	StageCandidateDone  Stage = "CANDIDATE_DONE"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies the process run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	Topic string
	// ItemKey and PostID are set on candidate events.
	ItemKey string
	PostID  string
	Outcome crawler.Outcome
	Reason  crawler.SkipReason
	Faces   int
	// Candidates counts items discovered by a seed or page.
	Candidates int
	// Attempt is the retry attempt for rate-limit and reseed events.
	Attempt int
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageTopicSeeded, StagePageFetched, StageRateLimited, StageReseeded, StageTopicExhausted, StageTopicFatal:
		if e.Topic == "" {
			return fmt.Errorf("%s requires topic", e.Stage)
		}
	case StageCandidateDone:
		if e.ItemKey == "" {
			return errors.New("candidate event requires item key")
		}
		if e.Outcome == "" {
			return errors.New("candidate event requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// CandidateEvent builds the CANDIDATE_DONE event for a worker result.
func CandidateEvent(runID [16]byte, ts time.Time, res crawler.Result) Event {
	evt := Event{
		RunID:   runID,
		TS:      ts.UTC(),
		Stage:   StageCandidateDone,
		Topic:   res.Candidate.Topic,
		ItemKey: res.Candidate.ItemKey,
		PostID:  res.PostID,
		Outcome: res.Outcome,
		Reason:  res.Reason,
		Faces:   res.Faces,
		Dur:     res.Duration,
	}
	if res.Err != nil && res.Outcome == crawler.OutcomeFailed {
		evt.Note = res.Err.Error()
	}
	return evt
}
